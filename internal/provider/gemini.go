package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"agentcli/internal/domain"
)

const geminiDefaultModel = "gemini-2.0-flash"

// Gemini talks to the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	// Model replaces the request model when set.
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newGatewayClient(defaultHTTPTimeout)
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, logger: cfg.Logger}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResponse, error) {
	model := req.Model
	if g.model != "" {
		model = g.model
	}
	contents, err := geminiContents(req.Conversation)
	if err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(req.Tools)}}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	out := &domain.InferenceResponse{}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = domain.Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	// A blocked prompt or candidate is an empty turn, not a failure.
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		reason := "no_candidates"
		if len(resp.Candidates) > 0 {
			reason = string(resp.Candidates[0].FinishReason)
		} else if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
			reason = string(pf.BlockReason)
		}
		g.logger.Warn("gemini returned no content", "model", model, "reason", reason)
		out.StopReason = reason
		return out, nil
	}

	cand := resp.Candidates[0]
	out.StopReason = string(cand.FinishReason)
	for _, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			out.Segments = append(out.Segments, domain.ToolRequest{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		case part.Thought:
		case part.Text != "":
			out.Segments = append(out.Segments, domain.Text{Value: part.Text})
		}
	}
	g.logger.Debug("gemini response",
		"model", model,
		"finish_reason", cand.FinishReason,
		"segments", len(out.Segments),
		"duration", time.Since(start),
	)
	return out, nil
}

// geminiContents maps the conversation onto user/model contents. Function
// responses need the tool name, which only the request carries.
func geminiContents(conv []domain.Entry) ([]*genai.Content, error) {
	names := make(map[string]string)
	out := make([]*genai.Content, 0, len(conv))
	for _, e := range conv {
		c := &genai.Content{Role: genai.RoleUser}
		if e.Speaker == domain.Model {
			c.Role = genai.RoleModel
		}
		for _, s := range e.Segments {
			switch v := s.(type) {
			case domain.Text:
				if v.Value != "" {
					c.Parts = append(c.Parts, genai.NewPartFromText(v.Value))
				}
			case domain.ToolRequest:
				names[v.ID] = v.Name
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   v.ID,
					Name: v.Name,
					Args: v.Arguments,
				}})
			case domain.ToolResult:
				key := "output"
				if v.Failed {
					key = "error"
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       v.CorrelatesWith,
					Name:     names[v.CorrelatesWith],
					Response: map[string]any{key: v.Value},
				}})
			default:
				return nil, fmt.Errorf("gemini: unsupported segment %T", s)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func geminiDeclarations(descs []domain.ToolDescriptor) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(descs))
	for _, d := range descs {
		props := map[string]*genai.Schema{}
		if raw, ok := d.InputSchema["properties"].(map[string]any); ok {
			for name, p := range raw {
				desc := ""
				if pm, ok := p.(map[string]any); ok {
					desc, _ = pm["description"].(string)
				}
				props[name] = &genai.Schema{Type: genai.TypeString, Description: desc}
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: props},
		})
	}
	return out
}

var _ domain.Gateway = (*Gemini)(nil)
