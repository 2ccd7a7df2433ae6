package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcli/internal/domain"
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryUnit
	retryUnit = time.Millisecond
	t.Cleanup(func() { retryUnit = prev })
}

func newOllamaServer(t *testing.T, h http.HandlerFunc) (*Ollama, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := &http.Client{Timeout: 5 * time.Second}
	t.Cleanup(client.CloseIdleConnections)
	return NewOllama(OllamaConfig{APIBase: srv.URL + "/", HTTPClient: client, Logger: testLogger()}), srv
}

func sampleConversation() []domain.Entry {
	return []domain.Entry{
		domain.NewHumanText("list files"),
		{Speaker: domain.Model, Segments: []domain.Segment{
			domain.Text{Value: "Looking."},
			domain.ToolRequest{ID: "t1", Name: "list_files", Arguments: map[string]any{"path": "."}},
		}},
		{Speaker: domain.Human, Segments: []domain.Segment{
			domain.ToolResult{CorrelatesWith: "t1", Value: `["a.txt"]`},
		}},
	}
}

func TestOllama_InferMapsConversationAndToolCalls(t *testing.T) {
	var got ollamaRequest
	o, _ := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"reading","tool_calls":[{"function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}]},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":7}`))
	})

	resp, err := o.Infer(context.Background(), domain.InferenceRequest{
		Model:        "llama3.1:8b",
		MaxTokens:    256,
		Conversation: sampleConversation(),
		Tools:        []domain.ToolDescriptor{{Name: "read_file", Description: "read", InputSchema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "llama3.1:8b", got.Model)
	assert.False(t, got.Stream)
	assert.EqualValues(t, 256, got.Options["num_predict"])
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	require.Len(t, got.Messages[1].ToolCalls, 1)
	assert.Equal(t, "list_files", got.Messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", got.Messages[2].Role)
	assert.Equal(t, "list_files", got.Messages[2].ToolName)
	require.Len(t, got.Tools, 1)

	require.Len(t, resp.Segments, 2)
	assert.Equal(t, domain.Text{Value: "reading"}, resp.Segments[0])
	req, ok := resp.Segments[1].(domain.ToolRequest)
	require.True(t, ok)
	assert.Equal(t, "read_file", req.Name)
	assert.Equal(t, "a.txt", req.Arguments["path"])
	assert.True(t, strings.HasPrefix(req.ID, "call_"), "missing ids are generated: %q", req.ID)
	assert.Equal(t, domain.Usage{InputTokens: 12, OutputTokens: 7}, resp.Usage)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestOllama_RetriesServerErrors(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	o, _ := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	})

	resp, err := o.Infer(context.Background(), domain.InferenceRequest{Model: "m", Conversation: []domain.Entry{domain.NewHumanText("hi")}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []domain.Segment{domain.Text{Value: "ok"}}, resp.Segments)
}

func TestOllama_ClientErrorIsNotRetried(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	o, _ := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := o.Infer(context.Background(), domain.InferenceRequest{Model: "m", Conversation: []domain.Entry{domain.NewHumanText("hi")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama returned 404: model not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllama_ModelOverride(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		model = body.Model
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}`))
	}))
	defer srv.Close()
	client := &http.Client{}
	defer client.CloseIdleConnections()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Model: "qwen2.5", HTTPClient: client, Logger: testLogger()})
	resp, err := o.Infer(context.Background(), domain.InferenceRequest{Model: "claude-x", Conversation: []domain.Entry{domain.NewHumanText("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", model)
	assert.Empty(t, resp.Segments, "empty content yields no segments")
}

func TestOllama_Healthy(t *testing.T) {
	o, _ := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	})
	assert.NoError(t, o.Healthy(context.Background()))

	down := NewOllama(OllamaConfig{APIBase: "http://127.0.0.1:1", HTTPClient: &http.Client{Timeout: time.Second}, Logger: testLogger()})
	assert.Error(t, down.Healthy(context.Background()))
}
