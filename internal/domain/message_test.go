package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_MarshalLayout(t *testing.T) {
	e := Entry{Speaker: Model, Segments: []Segment{
		Text{Value: "looking"},
		ToolRequest{ID: "t1", Name: "read_file", Arguments: map[string]any{"path": "a.go"}},
	}}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":[
		{"type":"text","text":"looking"},
		{"type":"tool_use","id":"t1","name":"read_file","input":{"path":"a.go"}}
	]}`, string(data))

	res := Entry{Speaker: Human, Segments: []Segment{ToolResult{CorrelatesWith: "t1", Value: "boom", Failed: true}}}
	data, err = json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"boom","is_error":true}]}`, string(data))
}

func TestEntry_NilArgumentsEncodeAsObject(t *testing.T) {
	data, err := json.Marshal(Entry{Speaker: Model, Segments: []Segment{ToolRequest{ID: "x", Name: "git_status"}}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input":{}`)
}

func TestEntry_Decode(t *testing.T) {
	in := []Entry{
		NewHumanText("hi"),
		{Speaker: Model, Segments: []Segment{ToolRequest{ID: "t1", Name: "list_files", Arguments: map[string]any{"path": "."}}}},
		{Speaker: Human, Segments: []Segment{ToolResult{CorrelatesWith: "t1", Value: `["a.go"]`}}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out []Entry
	require.NoError(t, json.Unmarshal(data, &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("decoded history mismatch (-want +got):\n%s", diff)
	}
}

func TestEntry_DecodeRejectsUnknown(t *testing.T) {
	var e Entry
	assert.Error(t, json.Unmarshal([]byte(`{"role":"system","content":[]}`), &e))
	assert.Error(t, json.Unmarshal([]byte(`{"role":"user","content":[{"type":"image"}]}`), &e))
}

func TestCloneEntries_DoesNotAlias(t *testing.T) {
	args := map[string]any{"path": "a", "nested": map[string]any{"k": []any{"v"}}}
	orig := []Entry{{Speaker: Model, Segments: []Segment{ToolRequest{ID: "1", Name: "read_file", Arguments: args}}}}

	cp := CloneEntries(orig)
	cp[0].Segments[0].(ToolRequest).Arguments["path"] = "b"
	cp[0].Segments[0].(ToolRequest).Arguments["nested"].(map[string]any)["k"] = nil

	assert.Equal(t, "a", args["path"])
	assert.Equal(t, []any{"v"}, args["nested"].(map[string]any)["k"])
	assert.Nil(t, CloneEntries(nil))
}

func TestEntry_ToolRequests(t *testing.T) {
	e := Entry{Speaker: Model, Segments: []Segment{
		ToolRequest{ID: "1", Name: "a"},
		Text{Value: "between"},
		ToolRequest{ID: "2", Name: "b"},
	}}
	reqs := e.ToolRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "1", reqs[0].ID)
	assert.Equal(t, "2", reqs[1].ID)
	assert.Empty(t, NewHumanText("x").ToolRequests())
}
