package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentcli/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// Anthropic is the default gateway, backed by the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	// Model replaces the request model when set.
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newGatewayClient(defaultHTTPTimeout)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(maxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	model := req.Model
	if a.model != "" {
		model = a.model
	}
	msgs, err := anthropicMessages(req.Conversation)
	if err != nil {
		return nil, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
		Tools:     anthropicTools(req.Tools),
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("anthropic: HTTP %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	a.logger.Debug("anthropic response",
		"model", model,
		"stop_reason", msg.StopReason,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start),
	)

	out := &domain.InferenceResponse{
		StopReason: string(msg.StopReason),
		Usage: domain.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Segments = append(out.Segments, domain.Text{Value: v.Text})
		case anthropic.ToolUseBlock:
			var args map[string]any
			if len(v.Input) > 0 {
				if err := json.Unmarshal(v.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: tool_use %s input: %w", v.ID, err)
				}
			}
			out.Segments = append(out.Segments, domain.ToolRequest{ID: v.ID, Name: v.Name, Arguments: args})
		}
	}
	return out, nil
}

func anthropicMessages(conv []domain.Entry) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(conv))
	for _, e := range conv {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(e.Segments))
		for _, s := range e.Segments {
			switch v := s.(type) {
			case domain.Text:
				// The API rejects empty text blocks.
				if v.Value == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(v.Value))
			case domain.ToolRequest:
				args := v.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, args, v.Name))
			case domain.ToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(v.CorrelatesWith, v.Value, v.Failed))
			default:
				return nil, fmt.Errorf("anthropic: unsupported segment %T", s)
			}
		}
		if e.Speaker == domain.Model {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, nil
}

func anthropicTools(descs []domain.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(descs))
	for _, d := range descs {
		param := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties:  d.InputSchema["properties"],
				ExtraFields: map[string]any{"additionalProperties": false},
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

var _ domain.Gateway = (*Anthropic)(nil)
