// Package channel holds the interactive terminal surface.
package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	colorBlue   = "\u001b[94m"
	colorYellow = "\u001b[93m"
	colorGreen  = "\u001b[92m"
	colorReset  = "\u001b[0m"

	banner = "Chat with Claude (ctrl-c to quit)"

	// maxLineBytes bounds one line of input; pasted files can be long.
	maxLineBytes = 1024 * 1024
)

// Terminal reads human input from a line-oriented reader and writes model
// text and tool notices with ANSI colors.
type Terminal struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	outMu sync.Mutex

	startOnce sync.Once
	lines     chan lineResult

	spinner   bool
	interval  time.Duration
	thinkMu   sync.Mutex
	thinking  bool
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type lineResult struct {
	text string
	err  error
}

type TerminalConfig struct {
	In  io.Reader
	Out io.Writer
	// Spinner shows a "Thinking..." animation while the model works.
	Spinner bool
	Logger  *slog.Logger
}

func NewTerminal(cfg TerminalConfig) *Terminal {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Terminal{
		in:       cfg.In,
		out:      cfg.Out,
		logger:   cfg.Logger,
		lines:    make(chan lineResult),
		spinner:  cfg.Spinner,
		interval: 100 * time.Millisecond,
	}
}

// IsTerminal reports whether f is attached to a character device.
func IsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Banner prints the greeting shown once at startup.
func (t *Terminal) Banner() {
	t.printf("%s\n", banner)
}

// ReadLine prompts and waits for one line. It returns io.EOF when input is
// exhausted and ctx.Err() when ctx is done first.
func (t *Terminal) ReadLine(ctx context.Context) (string, error) {
	t.stopThinking()
	t.startOnce.Do(func() { go t.scan() })
	t.printf("%sYou%s: ", colorBlue, colorReset)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		if r.err != nil {
			return "", r.err
		}
		t.startThinking()
		return r.text, nil
	}
}

// scan feeds t.lines until the reader is exhausted. A read blocked on a
// terminal cannot be interrupted, so the goroutine lives until input ends.
func (t *Terminal) scan() {
	defer close(t.lines)
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		t.lines <- lineResult{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("input scan failed", "error", err)
		t.lines <- lineResult{err: fmt.Errorf("read input: %w", err)}
	}
}

func (t *Terminal) ModelText(text string) {
	t.stopThinking()
	t.printf("%sClaude%s: %s\n", colorYellow, colorReset, text)
}

func (t *Terminal) ToolNotice(name, rawArgs string) {
	t.stopThinking()
	t.printf("%stool%s: %s(%s)\n", colorGreen, colorReset, name, rawArgs)
	t.startThinking()
}

// Errorf prints a message outside the conversation, such as a fatal error.
func (t *Terminal) Errorf(format string, args ...any) {
	t.stopThinking()
	t.printf("Error: "+format+"\n", args...)
}

func (t *Terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) startThinking() {
	if !t.spinner {
		return
	}
	t.thinkMu.Lock()
	defer t.thinkMu.Unlock()
	if t.thinking {
		return
	}
	t.thinking = true
	t.thinkStop = make(chan struct{})
	t.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.printf("\r%s Thinking...", frames[i%len(frames)])
			}
		}
	}(t.thinkStop, t.thinkDone)
}

// stopThinking halts the spinner and clears its line.
func (t *Terminal) stopThinking() {
	t.thinkMu.Lock()
	defer t.thinkMu.Unlock()
	if !t.thinking {
		return
	}
	t.thinking = false
	close(t.thinkStop)
	<-t.thinkDone
	t.printf("\r\033[K")
}
