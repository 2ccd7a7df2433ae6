package domain

import (
	"encoding/json"
	"fmt"
)

// Speaker identifies who authored a conversation entry.
type Speaker string

const (
	Human Speaker = "human"
	Model Speaker = "model"
)

// Entry is one turn's worth of content. Entries are appended, never edited.
type Entry struct {
	Speaker  Speaker
	Segments []Segment
}

// Segment is a closed set: Text, ToolRequest and ToolResult are the only
// implementations.
type Segment interface {
	segment()
}

// Text is plain text authored by the human or the model.
type Text struct {
	Value string
}

// ToolRequest asks the host to run a named tool.
type ToolRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult answers the ToolRequest whose ID equals CorrelatesWith.
type ToolResult struct {
	CorrelatesWith string
	Value          string
	Failed         bool
}

func (Text) segment()        {}
func (ToolRequest) segment() {}
func (ToolResult) segment()  {}

// NewHumanText builds a human entry carrying a single text segment.
func NewHumanText(text string) Entry {
	return Entry{Speaker: Human, Segments: []Segment{Text{Value: text}}}
}

// ToolRequests returns the tool requests of an entry in order.
func (e Entry) ToolRequests() []ToolRequest {
	var out []ToolRequest
	for _, s := range e.Segments {
		if r, ok := s.(ToolRequest); ok {
			out = append(out, r)
		}
	}
	return out
}

// CloneEntries deep-copies a history so callers can never alias the
// controller's own slice or argument maps.
func CloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	out := make([]Entry, len(in))
	for i, e := range in {
		segs := make([]Segment, len(e.Segments))
		for j, s := range e.Segments {
			segs[j] = cloneSegment(s)
		}
		out[i] = Entry{Speaker: e.Speaker, Segments: segs}
	}
	return out
}

func cloneSegment(s Segment) Segment {
	switch v := s.(type) {
	case ToolRequest:
		v.Arguments = cloneValue(v.Arguments).(map[string]any)
		return v
	default:
		return s
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

// wireBlock is the JSON form of a segment in session snapshots.
type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireEntry struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

// MarshalJSON renders the entry in the user/assistant block layout used by
// session files.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{Role: "user", Content: make([]wireBlock, 0, len(e.Segments))}
	if e.Speaker == Model {
		w.Role = "assistant"
	}
	for _, s := range e.Segments {
		switch v := s.(type) {
		case Text:
			w.Content = append(w.Content, wireBlock{Type: "text", Text: v.Value})
		case ToolRequest:
			args := v.Arguments
			if args == nil {
				args = map[string]any{}
			}
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("marshal tool input %s: %w", v.Name, err)
			}
			w.Content = append(w.Content, wireBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: raw})
		case ToolResult:
			w.Content = append(w.Content, wireBlock{Type: "tool_result", ToolUseID: v.CorrelatesWith, Content: v.Value, IsError: v.Failed})
		default:
			return nil, fmt.Errorf("unknown segment type %T", s)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the layout written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Role {
	case "assistant":
		e.Speaker = Model
	case "user":
		e.Speaker = Human
	default:
		return fmt.Errorf("unknown role %q", w.Role)
	}
	e.Segments = make([]Segment, 0, len(w.Content))
	for _, b := range w.Content {
		switch b.Type {
		case "text":
			e.Segments = append(e.Segments, Text{Value: b.Text})
		case "tool_use":
			var args map[string]any
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return fmt.Errorf("tool_use %s input: %w", b.ID, err)
				}
			}
			e.Segments = append(e.Segments, ToolRequest{ID: b.ID, Name: b.Name, Arguments: args})
		case "tool_result":
			e.Segments = append(e.Segments, ToolResult{CorrelatesWith: b.ToolUseID, Value: b.Content, Failed: b.IsError})
		default:
			return fmt.Errorf("unknown block type %q", b.Type)
		}
	}
	return nil
}
