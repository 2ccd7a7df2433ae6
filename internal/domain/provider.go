package domain

import "context"

// Gateway is a stateless request/response exchange with a remote model.
// Transport, auth and retries are the gateway's business.
type Gateway interface {
	Name() string
	Infer(ctx context.Context, req InferenceRequest) (*InferenceResponse, error)
}

// InferenceRequest always carries the full conversation; the remote side keeps
// no session state.
type InferenceRequest struct {
	Model        string
	MaxTokens    int
	Conversation []Entry
	Tools        []ToolDescriptor
}

type InferenceResponse struct {
	Segments   []Segment
	StopReason string
	Usage      Usage
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
