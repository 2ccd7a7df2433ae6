package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agentcli/internal/domain"
	"agentcli/internal/metrics"
)

// State is the controller's position in the turn cycle.
type State int

const (
	AwaitingHumanInput State = iota
	Inferring
	DispatchingTools
	Stopped
)

func (s State) String() string {
	switch s {
	case AwaitingHumanInput:
		return "awaiting_human_input"
	case Inferring:
		return "inferring"
	case DispatchingTools:
		return "dispatching_tools"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HumanInput yields one line per call. io.EOF ends the conversation.
type HumanInput interface {
	ReadLine(ctx context.Context) (string, error)
}

// Output shows model text to the human.
type Output interface {
	ModelText(text string)
}

// Dispatcher runs tool requests. Dispatch must not fail: every outcome is a
// result value.
type Dispatcher interface {
	Descriptors() []domain.ToolDescriptor
	Dispatch(ctx context.Context, req domain.ToolRequest) domain.ToolResult
}

var exitCommands = map[string]bool{"/quit": true, "/exit": true, "/q": true}

// ControllerConfig holds the controller's collaborators. Sink, Metrics, Logger
// and Clock are optional.
type ControllerConfig struct {
	Gateway   domain.Gateway
	Tools     Dispatcher
	Input     HumanInput
	Output    Output
	Sink      domain.SessionSink
	Model     string
	MaxTokens int
	Metrics   *metrics.Collector
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Controller drives one conversation: it reads human input, replays the full
// history to the gateway and feeds tool results back until the model answers
// with text alone.
type Controller struct {
	gateway   domain.Gateway
	tools     Dispatcher
	input     HumanInput
	output    Output
	sink      domain.SessionSink
	model     string
	maxTokens int
	metrics   *metrics.Collector
	logger    *slog.Logger
	clock     func() time.Time

	descriptors []domain.ToolDescriptor

	mu      sync.Mutex
	state   State
	history []domain.Entry
	// queued holds the unprocessed tail of the latest model entry, starting
	// at its first tool request.
	queued []domain.Segment
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	var descriptors []domain.ToolDescriptor
	if cfg.Tools != nil {
		descriptors = cfg.Tools.Descriptors()
	}
	return &Controller{
		gateway:     cfg.Gateway,
		tools:       cfg.Tools,
		input:       cfg.Input,
		output:      cfg.Output,
		sink:        cfg.Sink,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		descriptors: descriptors,
		state:       AwaitingHumanInput,
	}
}

// Run steps the controller until it stops. It returns nil when the human
// ends the conversation, the context error on cancellation, and the gateway
// error when inference fails.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("conversation started", "model", c.model, "tools", len(c.descriptors))
	for {
		state, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if state == Stopped {
			c.logger.Info("conversation ended", "entries", len(c.History()))
			return nil
		}
	}
}

// Step performs one transition and returns the state it leads to.
func (c *Controller) Step(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		c.setState(Stopped)
		return Stopped, err
	}
	switch c.State() {
	case AwaitingHumanInput:
		return c.awaitInput(ctx)
	case Inferring:
		return c.infer(ctx)
	case DispatchingTools:
		return c.dispatch(ctx)
	default:
		return Stopped, nil
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a deep copy of the conversation so far.
func (c *Controller) History() []domain.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneEntries(c.history)
}

func (c *Controller) awaitInput(ctx context.Context) (State, error) {
	line, err := c.input.ReadLine(ctx)
	if err != nil {
		c.setState(Stopped)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Stopped, ctxErr
		}
		if errors.Is(err, io.EOF) {
			return Stopped, nil
		}
		return Stopped, fmt.Errorf("read input: %w", err)
	}

	text := strings.TrimSpace(line)
	if text == "" {
		return AwaitingHumanInput, nil
	}
	if exitCommands[text] {
		c.setState(Stopped)
		return Stopped, nil
	}

	c.append(ctx, domain.NewHumanText(line))
	return c.setState(Inferring), nil
}

func (c *Controller) infer(ctx context.Context) (State, error) {
	req := domain.InferenceRequest{
		Model:        c.model,
		MaxTokens:    c.maxTokens,
		Conversation: c.History(),
		Tools:        c.descriptors,
	}

	start := time.Now()
	resp, err := c.gateway.Infer(ctx, req)
	c.metrics.Inference(c.gateway.Name(), time.Since(start), err)
	if err != nil {
		c.setState(Stopped)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Stopped, ctxErr
		}
		return Stopped, fmt.Errorf("inference via %s: %w", c.gateway.Name(), err)
	}

	c.logger.Debug("inference complete",
		"gateway", c.gateway.Name(),
		"segments", len(resp.Segments),
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	if len(resp.Segments) == 0 {
		c.logger.Debug("empty model turn")
		return c.setState(AwaitingHumanInput), nil
	}

	entry := domain.CloneEntries([]domain.Entry{{Speaker: domain.Model, Segments: resp.Segments}})[0]
	c.append(ctx, entry)

	for i, seg := range entry.Segments {
		switch s := seg.(type) {
		case domain.Text:
			c.surface(s.Value)
		case domain.ToolRequest:
			c.mu.Lock()
			c.queued = entry.Segments[i:]
			c.mu.Unlock()
			return c.setState(DispatchingTools), nil
		}
	}
	return c.setState(AwaitingHumanInput), nil
}

// dispatch runs every queued tool request in order, surfacing trailing text
// as it goes, then hands the results back to the model.
func (c *Controller) dispatch(ctx context.Context) (State, error) {
	c.mu.Lock()
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	pending := make([]domain.Segment, 0, len(queued))
	for _, seg := range queued {
		switch s := seg.(type) {
		case domain.Text:
			c.surface(s.Value)
		case domain.ToolRequest:
			c.logger.Debug("dispatching tool", "tool", s.Name, "id", s.ID)
			pending = append(pending, c.tools.Dispatch(ctx, s))
		}
	}

	if len(pending) == 0 {
		return c.setState(AwaitingHumanInput), nil
	}
	c.append(ctx, domain.Entry{Speaker: domain.Human, Segments: pending})
	return c.setState(Inferring), nil
}

func (c *Controller) surface(text string) {
	if c.output != nil && text != "" {
		c.output.ModelText(text)
	}
}

func (c *Controller) setState(s State) State {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	return s
}

// append adds an entry and flushes a snapshot to the sink. Sink failures are
// logged and dropped.
func (c *Controller) append(ctx context.Context, e domain.Entry) {
	c.mu.Lock()
	c.history = append(c.history, e)
	snap := domain.Snapshot{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		CreatedAt: c.clock(),
		Messages:  domain.CloneEntries(c.history),
	}
	c.mu.Unlock()

	if c.sink == nil {
		return
	}
	if err := c.sink.Write(ctx, snap); err != nil {
		c.logger.Debug("session snapshot failed", "err", err)
	}
}
