package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"agentcli/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama implements domain.Gateway for a local or remote Ollama server.
type Ollama struct {
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OllamaConfig struct {
	APIBase string
	// Model replaces the request model when set.
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newGatewayClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

// Healthy reports whether the server answers /api/tags.
func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []ollamaTool   `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string     `json:"type"`
	Function ollamaFunc `json:"function"`
}

type ollamaFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	ID       string         `json:"id,omitempty"`
	Function ollamaFuncCall `json:"function"`
}

type ollamaFuncCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // Can be JSON object or JSON string
}

type ollamaResponse struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

func (o *Ollama) Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	model := req.Model
	if o.model != "" {
		model = o.model
	}

	msgs, err := ollamaMessages(req.Conversation)
	if err != nil {
		return nil, err
	}
	body := ollamaRequest{
		Model:    model,
		Messages: msgs,
		Options:  map[string]any{"num_predict": req.MaxTokens},
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaFunc{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return buildOllamaResponse(or), nil
}

// ollamaMessages flattens entries onto chat messages. Tool results become
// one "tool" message each.
func ollamaMessages(conv []domain.Entry) ([]ollamaMsg, error) {
	names := make(map[string]string)
	var out []ollamaMsg
	for _, e := range conv {
		role := "user"
		if e.Speaker == domain.Model {
			role = "assistant"
		}
		msg := ollamaMsg{Role: role}
		var text []string
		for _, s := range e.Segments {
			switch v := s.(type) {
			case domain.Text:
				text = append(text, v.Value)
			case domain.ToolRequest:
				names[v.ID] = v.Name
				args := v.Arguments
				if args == nil {
					args = map[string]any{}
				}
				raw, err := json.Marshal(args)
				if err != nil {
					return nil, fmt.Errorf("ollama: marshal %s arguments: %w", v.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
					ID:       v.ID,
					Function: ollamaFuncCall{Name: v.Name, Arguments: raw},
				})
			case domain.ToolResult:
				out = append(out, ollamaMsg{Role: "tool", Content: v.Value, ToolName: names[v.CorrelatesWith]})
			default:
				return nil, fmt.Errorf("ollama: unsupported segment %T", s)
			}
		}
		if len(text) > 0 || len(msg.ToolCalls) > 0 {
			msg.Content = strings.Join(text, "\n")
			out = append(out, msg)
		}
	}
	return out, nil
}

func buildOllamaResponse(or ollamaResponse) *domain.InferenceResponse {
	out := &domain.InferenceResponse{
		StopReason: or.DoneReason,
		Usage:      domain.Usage{InputTokens: or.PromptEvalCount, OutputTokens: or.EvalCount},
	}
	if or.Message.Content != "" {
		out.Segments = append(out.Segments, domain.Text{Value: or.Message.Content})
	}
	for _, tc := range or.Message.ToolCalls {
		var args map[string]any
		if raw := tc.Function.Arguments; len(raw) > 0 {
			// Ollama may return arguments as a JSON string or a JSON object.
			if raw[0] == '"' {
				var s string
				if err := json.Unmarshal(raw, &s); err == nil {
					_ = json.Unmarshal([]byte(s), &args)
				}
			} else {
				_ = json.Unmarshal(raw, &args)
			}
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.Segments = append(out.Segments, domain.ToolRequest{ID: id, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

var _ domain.Gateway = (*Ollama)(nil)
