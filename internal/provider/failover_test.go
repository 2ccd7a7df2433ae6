package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"go.uber.org/goleak"

	"agentcli/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		// started at init by the genai dependency chain
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// mockGateway implements domain.Gateway and HealthChecker for testing.
type mockGateway struct {
	name    string
	healthy bool
	err     error
	resp    *domain.InferenceResponse
	calls   int
}

func (m *mockGateway) Name() string { return m.name }

func (m *mockGateway) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockGateway) Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func textResponse(s string) *domain.InferenceResponse {
	return &domain.InferenceResponse{Segments: []domain.Segment{domain.Text{Value: s}}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailover_UsesFirstGateway(t *testing.T) {
	g1 := &mockGateway{name: "primary", resp: textResponse("from-primary")}
	g2 := &mockGateway{name: "secondary", resp: textResponse("from-secondary")}
	f := NewFailover([]domain.Gateway{g1, g2}, testLogger())

	resp, err := f.Infer(context.Background(), domain.InferenceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Segments[0].(domain.Text).Value; got != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", got)
	}
	if g2.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", g2.calls)
	}
}

func TestFailover_FallsBackOnError(t *testing.T) {
	g1 := &mockGateway{name: "primary", err: errors.New("api error")}
	g2 := &mockGateway{name: "secondary", resp: textResponse("from-secondary")}
	f := NewFailover([]domain.Gateway{g1, g2}, testLogger())

	resp, err := f.Infer(context.Background(), domain.InferenceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Segments[0].(domain.Text).Value; got != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", got)
	}
}

func TestFailover_AllGatewaysFail(t *testing.T) {
	last := errors.New("fail 2")
	g1 := &mockGateway{name: "g1", err: errors.New("fail 1")}
	g2 := &mockGateway{name: "g2", err: last}
	f := NewFailover([]domain.Gateway{g1, g2}, testLogger())

	_, err := f.Infer(context.Background(), domain.InferenceRequest{})
	if !errors.Is(err, last) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestFailover_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g1 := &mockGateway{name: "g1", err: context.Canceled}
	g2 := &mockGateway{name: "g2", resp: textResponse("late")}
	f := NewFailover([]domain.Gateway{g1, g2}, testLogger())

	if _, err := f.Infer(ctx, domain.InferenceRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if g2.calls != 0 {
		t.Fatal("cancelled chain must not try the next gateway")
	}
}

func TestFailover_Empty(t *testing.T) {
	if _, err := NewFailover(nil, testLogger()).Infer(context.Background(), domain.InferenceRequest{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestFailover_Healthy(t *testing.T) {
	sick := &mockGateway{name: "sick"}
	well := &mockGateway{name: "well", healthy: true}

	if err := NewFailover([]domain.Gateway{sick, well}, testLogger()).Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
	if err := NewFailover([]domain.Gateway{sick, sick}, testLogger()).Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailover_Name(t *testing.T) {
	f := NewFailover([]domain.Gateway{&mockGateway{name: "anthropic"}, &mockGateway{name: "ollama"}}, testLogger())
	if name := f.Name(); name != "failover(anthropic→ollama)" {
		t.Fatalf("expected 'failover(anthropic→ollama)', got %q", name)
	}
}
