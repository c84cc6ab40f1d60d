package protocol

import "strings"

// FieldSeparator joins the present fields of a rendered course row.
const FieldSeparator = " | "

// Schedule is the extraction result for one term.
type Schedule struct {
	Term    string   `json:"term"`
	Courses []Course `json:"courses"`
	Raw     string   `json:"raw,omitempty"`
}

// Course is one enrolled class. Every field may be null when the extractor
// could not resolve it.
type Course struct {
	Code       *string  `json:"code"`
	Title      *string  `json:"title"`
	Days       []string `json:"days"`
	StartTime  *string  `json:"start_time"`
	EndTime    *string  `json:"end_time"`
	Location   *string  `json:"location"`
	Instructor *string  `json:"instructor"`
}

// Str returns a pointer to s, for building courses in code.
func Str(s string) *string { return &s }

// Fields returns the present fields of c in display order. The meeting time is
// a single field holding whichever of start and end are known.
func (c Course) Fields() []string {
	var out []string
	add := func(p *string) {
		if p != nil && *p != "" {
			out = append(out, *p)
		}
	}

	add(c.Code)
	add(c.Title)
	if len(c.Days) > 0 {
		out = append(out, strings.Join(c.Days, " "))
	}

	var times []string
	for _, p := range []*string{c.StartTime, c.EndTime} {
		if p != nil && *p != "" {
			times = append(times, *p)
		}
	}
	if len(times) > 0 {
		out = append(out, strings.Join(times, " – "))
	}

	add(c.Location)
	add(c.Instructor)
	return out
}

// Render formats c as a single row.
func (c Course) Render() string {
	return strings.Join(c.Fields(), FieldSeparator)
}

// Rows renders every course of s. A nil schedule or empty course list yields nil.
func (s *Schedule) Rows() []string {
	if s == nil || len(s.Courses) == 0 {
		return nil
	}
	rows := make([]string, 0, len(s.Courses))
	for _, c := range s.Courses {
		rows = append(rows, c.Render())
	}
	return rows
}
