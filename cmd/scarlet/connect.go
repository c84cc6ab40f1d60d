package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"scarlet/internal/connect"
	"scarlet/internal/observability"
	"scarlet/internal/protocol"

	"github.com/spf13/cobra"
)

var connectFlags struct {
	relay       string
	frameOut    string
	width       float64
	height      float64
	revealDelay time.Duration
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Log in through the relay from a terminal",
	Long: `Start a remote session and drive it from the terminal.

The latest frame is written to --frame-out; open it in an image viewer that
reloads on change. Commands, one per line:
  click X Y    click at pixel (X, Y) of a --width x --height surface
  key NAME     send a control key (Enter, Tab, Backspace, ArrowUp, ...)
  type TEXT    type TEXT into the focused field
  retry        start over with a fresh session
  quit         close the session and exit`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

func init() {
	f := connectCmd.Flags()
	f.StringVar(&connectFlags.relay, "relay", "", "relay base URL (overrides RELAY_URL)")
	f.StringVar(&connectFlags.frameOut, "frame-out", "frame.png", "file the latest frame is written to")
	f.Float64Var(&connectFlags.width, "width", 1280, "width of the virtual click surface")
	f.Float64Var(&connectFlags.height, "height", 800, "height of the virtual click surface")
	f.DurationVar(&connectFlags.revealDelay, "reveal-delay", 0, "delay before the schedule is shown (overrides REVEAL_DELAY)")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	if connectFlags.relay != "" {
		cfg.RelayURL = strings.TrimRight(connectFlags.relay, "/")
	}
	if connectFlags.revealDelay > 0 {
		cfg.RevealDelay = connectFlags.revealDelay
	}

	log := observability.NewConsoleLogger(cfg.LogLevel)
	view := &terminalView{out: cmd.OutOrStdout(), frameOut: connectFlags.frameOut}
	client := connect.New(connect.Options{
		RelayURL:    cfg.RelayURL,
		RevealDelay: cfg.RevealDelay,
		OnChange:    view.Render,
		Logger:      &log,
	})
	defer client.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		log.Error().Err(err).Msg("start failed, type 'retry' to try again")
	}

	surface := connect.Rect{Width: connectFlags.width, Height: connectFlags.height}
	repl := &repl{client: client, text: client.NewTextInput(), surface: surface, out: cmd.OutOrStdout()}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := repl.exec(ctx, line); quit {
				return nil
			}
		}
	}
}

type commandKind int

const (
	cmdNone commandKind = iota
	cmdClick
	cmdKey
	cmdType
	cmdRetry
	cmdQuit
)

type replCommand struct {
	kind commandKind
	x, y float64
	arg  string
}

// parseLine reads one REPL line. Blank lines parse to cmdNone.
func parseLine(line string) (replCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return replCommand{kind: cmdNone}, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "click":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return replCommand{}, fmt.Errorf("usage: click X Y")
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return replCommand{}, fmt.Errorf("click: coordinates must be numbers")
		}
		return replCommand{kind: cmdClick, x: x, y: y}, nil
	case "key":
		if rest == "" {
			return replCommand{}, fmt.Errorf("usage: key NAME")
		}
		return replCommand{kind: cmdKey, arg: rest}, nil
	case "type":
		if rest == "" {
			return replCommand{}, fmt.Errorf("usage: type TEXT")
		}
		return replCommand{kind: cmdType, arg: rest}, nil
	case "retry":
		return replCommand{kind: cmdRetry}, nil
	case "quit", "exit":
		return replCommand{kind: cmdQuit}, nil
	}
	return replCommand{}, fmt.Errorf("unknown command %q", verb)
}

type repl struct {
	client  *connect.Client
	text    *connect.TextInput
	surface connect.Rect
	out     io.Writer
}

// exec runs one line and reports whether the user asked to quit.
func (r *repl) exec(ctx context.Context, line string) bool {
	c, err := parseLine(line)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return false
	}
	switch c.kind {
	case cmdClick:
		if !r.client.Click(c.x, c.y, r.surface) {
			fmt.Fprintln(r.out, "not connected")
		}
	case cmdKey:
		if !r.client.KeyDown(c.arg) {
			fmt.Fprintf(r.out, "%q is not a control key, use type\n", c.arg)
		}
	case cmdType:
		r.text.WriteString(c.arg)
		if !r.text.Flush() {
			fmt.Fprintln(r.out, "not connected")
		}
	case cmdRetry:
		if err := r.client.Retry(ctx); err != nil {
			fmt.Fprintf(r.out, "retry failed: %v\n", err)
		}
	case cmdQuit:
		return true
	}
	return false
}

// terminalView prints status changes, saves frames and prints the schedule
// once it is revealed.
type terminalView struct {
	out      io.Writer
	frameOut string

	mu        sync.Mutex
	status    protocol.Status
	message   string
	errText   string
	image     []byte
	scheduled bool
}

func (v *terminalView) Render(s connect.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.Status != v.status || s.Message != v.message {
		fmt.Fprintf(v.out, "[%s] %s\n", s.Status, s.Message)
		v.status, v.message = s.Status, s.Message
	}
	if s.Error != "" && s.Error != v.errText {
		fmt.Fprintf(v.out, "error: %s\n", s.Error)
	}
	v.errText = s.Error

	if len(s.Image) > 0 && !bytes.Equal(s.Image, v.image) {
		v.image = s.Image
		if v.frameOut != "" {
			if err := os.WriteFile(v.frameOut, s.Image, 0o644); err != nil {
				fmt.Fprintf(v.out, "write frame: %v\n", err)
			}
		}
	}

	if s.Schedule == nil {
		v.scheduled = false
		return
	}
	if v.scheduled {
		return
	}
	v.scheduled = true
	fmt.Fprintf(v.out, "\n%s\n", s.Schedule.Term)
	rows := s.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(v.out, "  (no courses)")
	}
	for _, row := range rows {
		fmt.Fprintf(v.out, "  %s\n", row)
	}
}
