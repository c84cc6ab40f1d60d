package driver

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"scarlet/internal/protocol"

	"gopkg.in/yaml.v3"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
)

// Scenario scripts what the scripted driver does.
type Scenario struct {
	Viewport Viewport `yaml:"viewport"`
	Login    Login    `yaml:"login"`
	// StartError makes Start fail with this message.
	StartError string `yaml:"start_error"`
	// ExtractError makes Extract fail with this message.
	ExtractError string        `yaml:"extract_error"`
	ExtractDelay time.Duration `yaml:"extract_delay"`
	Schedule     ScheduleSpec  `yaml:"schedule"`
}

type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Login decides when the scripted user counts as logged in: after Clicks
// clicks, or once the typed text contains Username and Password and Enter has
// been pressed. With neither set, login happens on the first Enter.
type Login struct {
	Clicks   int    `yaml:"clicks"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ScheduleSpec struct {
	Term    string       `yaml:"term"`
	Courses []CourseSpec `yaml:"courses"`
}

// CourseSpec mirrors protocol.Course; omitted keys become null.
type CourseSpec struct {
	Code       *string  `yaml:"code"`
	Title      *string  `yaml:"title"`
	Days       []string `yaml:"days"`
	StartTime  *string  `yaml:"start_time"`
	EndTime    *string  `yaml:"end_time"`
	Location   *string  `yaml:"location"`
	Instructor *string  `yaml:"instructor"`
}

// DefaultScenario is used when no scenario file is configured.
func DefaultScenario() Scenario {
	return Scenario{
		Viewport:     Viewport{Width: defaultViewportWidth, Height: defaultViewportHeight},
		ExtractDelay: 2 * time.Second,
		Schedule: ScheduleSpec{
			Term: "Spring 2025",
			Courses: []CourseSpec{
				{
					Code: protocol.Str("CSE 2421"), Title: protocol.Str("Systems I"),
					Days: []string{"Mon", "Wed"}, StartTime: protocol.Str("9:00 AM"), EndTime: protocol.Str("10:15 AM"),
					Location: protocol.Str("Caldwell 100"),
				},
				{
					Code: protocol.Str("MATH 2568"), Title: protocol.Str("Linear Algebra"),
					Days: []string{"Tue", "Thu"}, StartTime: protocol.Str("12:45 PM"), EndTime: protocol.Str("2:05 PM"),
					Location: protocol.Str("Cockins 240"), Instructor: protocol.Str("Staff"),
				},
			},
		},
	}
}

// LoadScenario reads a YAML scenario file and fills in defaults.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Viewport.Width <= 0 {
		sc.Viewport.Width = defaultViewportWidth
	}
	if sc.Viewport.Height <= 0 {
		sc.Viewport.Height = defaultViewportHeight
	}
	if sc.Login.Clicks < 0 {
		return Scenario{}, fmt.Errorf("login.clicks must not be negative")
	}
	return sc, nil
}

// ScenarioSource holds the scenario new sessions are scripted from. Set may be
// called concurrently with Current.
type ScenarioSource struct {
	cur atomic.Pointer[Scenario]
}

func NewScenarioSource(sc Scenario) *ScenarioSource {
	s := &ScenarioSource{}
	s.Set(sc)
	return s
}

func (s *ScenarioSource) Current() Scenario { return *s.cur.Load() }

func (s *ScenarioSource) Set(sc Scenario) { s.cur.Store(&sc) }

// Reload replaces the current scenario with the one at path. On error the
// current scenario is kept.
func (s *ScenarioSource) Reload(path string) error {
	sc, err := LoadScenario(path)
	if err != nil {
		return err
	}
	s.Set(sc)
	return nil
}

// Factory builds scripted drivers from the scenario current at session start.
func (s *ScenarioSource) Factory() Factory { return ScriptedFactory(s.Current) }

// ToSchedule converts the scripted schedule to its wire form.
func (s ScheduleSpec) ToSchedule() *protocol.Schedule {
	out := &protocol.Schedule{Term: s.Term, Courses: make([]protocol.Course, 0, len(s.Courses))}
	for _, c := range s.Courses {
		out.Courses = append(out.Courses, protocol.Course{
			Code:       c.Code,
			Title:      c.Title,
			Days:       c.Days,
			StartTime:  c.StartTime,
			EndTime:    c.EndTime,
			Location:   c.Location,
			Instructor: c.Instructor,
		})
	}
	return out
}
