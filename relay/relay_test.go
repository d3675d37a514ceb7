package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/user/mcp-tool-relay/errorsx"
	"github.com/user/mcp-tool-relay/llm"
	"github.com/user/mcp-tool-relay/llm/mock"
	"github.com/user/mcp-tool-relay/logging"
	"github.com/user/mcp-tool-relay/session"
)

// fakeSession is a scripted ToolSession.
type fakeSession struct {
	tools   []session.Tool
	results map[string]session.CallResult
	listErr error
	callErr error
	calls   []string
	args    []map[string]any
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		tools: []session.Tool{
			{
				Name:        "calculate_area",
				Description: "Calculate the area of rectangle of given width and height",
				InputSchema: map[string]any{
					"$schema":              "https://json-schema.org/draft/2020-12/schema",
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"width":  map[string]any{"type": "number"},
						"height": map[string]any{"type": "number"},
					},
				},
			},
			{Name: "secret", Description: "Returns the Secret to the User", InputSchema: map[string]any{"type": "object"}},
		},
		results: map[string]session.CallResult{
			"calculate_area": {Text: "12", Segments: 1},
			"secret":         {Text: "secret : thisisyoursecretyayelvishbhhhaaaai", Segments: 1},
		},
	}
}

func (f *fakeSession) Tools(ctx context.Context) ([]session.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (session.CallResult, error) {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	if f.callErr != nil {
		return session.CallResult{}, f.callErr
	}
	return f.results[name], nil
}

func newRelay(model llm.Model, rounds int) (*Relay, *TraceRecorder) {
	trace := NewTraceRecorder(50)
	return New(model, Options{MaxToolRounds: rounds, Logger: logging.Discard(), Trace: trace}), trace
}

func TestProcessWithoutToolCallsIsVerbatim(t *testing.T) {
	model := mock.New(mock.Text("Paris is the capital of France.\n"))
	r, _ := newRelay(model, DefaultMaxToolRounds)
	sess := newFakeSession()

	out, err := r.Process(context.Background(), sess, "capital of France?")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != "Paris is the capital of France.\n" {
		t.Errorf("expected verbatim model text, got %q", out)
	}
	if len(sess.calls) != 0 {
		t.Errorf("expected no tool calls, got %v", sess.calls)
	}
}

func TestProcessSingleToolCall(t *testing.T) {
	model := mock.New(
		mock.Call("calculate_area", map[string]any{"width": 3.0, "height": 4.0}),
		mock.Text("The area is 12."),
	)
	r, trace := newRelay(model, DefaultMaxToolRounds)
	sess := newFakeSession()

	res, err := r.Handle(context.Background(), sess, "area of 3 by 4?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	want := "[Calling tool calculate_area with args {\"height\":4,\"width\":3}]\nThe area is 12."
	if res.Output != want {
		t.Errorf("output mismatch:\n got %q\nwant %q", res.Output, want)
	}
	if diff := cmp.Diff([]string{"calculate_area"}, sess.calls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]map[string]any{{"width": 3.0, "height": 4.0}}, sess.args); diff != "" {
		t.Errorf("tool arguments mismatch (-want +got):\n%s", diff)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Result.Text != "12" {
		t.Errorf("unexpected recorded tool calls %+v", res.ToolCalls)
	}

	reqs := model.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 model requests, got %d", len(reqs))
	}
	follow := reqs[1].Turns
	if len(follow) != 3 {
		t.Fatalf("expected 3 turns in resubmission, got %d", len(follow))
	}
	resp := follow[2].Parts[0].FunctionResponse
	if resp == nil || resp.Name != "calculate_area" {
		t.Fatalf("expected function response turn, got %+v", follow[2])
	}
	if diff := cmp.Diff(map[string]any{"content": "12"}, resp.Response); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	wantStages := []string{StageGenerate, StageToolCall, StageToolResult, StageGenerate}
	if diff := cmp.Diff(wantStages, trace.Stages()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessRequestsAreDeterministicAndStripped(t *testing.T) {
	model := mock.New(mock.Text("a"))
	r, _ := newRelay(model, DefaultMaxToolRounds)

	if _, err := r.Process(context.Background(), newFakeSession(), "q"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	req := model.Requests()[0]
	if req.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", req.Temperature)
	}
	if len(req.Tools) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(req.Tools))
	}
	for _, d := range req.Tools {
		if _, ok := d.Parameters["additionalProperties"]; ok {
			t.Errorf("%s: additionalProperties sent to model", d.Name)
		}
		if _, ok := d.Parameters["$schema"]; ok {
			t.Errorf("%s: $schema sent to model", d.Name)
		}
	}
}

func TestProcessDepthLimit(t *testing.T) {
	model := mock.New(
		mock.Call("secret", nil),
		mock.Call("calculate_area", map[string]any{"width": 1.0, "height": 1.0}, "Here it is."),
	)
	r, trace := newRelay(model, 1)
	sess := newFakeSession()

	out, err := r.Process(context.Background(), sess, "secret then area")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if diff := cmp.Diff([]string{"secret"}, sess.calls); diff != "" {
		t.Errorf("follow-up calls must not run (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(out, "\nHere it is.") {
		t.Errorf("expected follow-up text, got %q", out)
	}
	stages := trace.Stages()
	if stages[len(stages)-1] != StageSkipped {
		t.Errorf("expected skipped stage last, got %v", stages)
	}
	if model.Remaining() != 0 {
		t.Errorf("expected both replies consumed")
	}
}

func TestProcessDeeperRounds(t *testing.T) {
	model := mock.New(
		mock.Call("secret", nil),
		mock.Call("calculate_area", map[string]any{"width": 3.0, "height": 4.0}),
		mock.Text("done"),
	)
	r, _ := newRelay(model, 2)
	sess := newFakeSession()

	out, err := r.Process(context.Background(), sess, "q")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if diff := cmp.Diff([]string{"secret", "calculate_area"}, sess.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	want := "[Calling tool secret with args {}]\n[Calling tool calculate_area with args {\"height\":4,\"width\":3}]\ndone"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
	if got := len(model.Requests()[2].Turns); got != 5 {
		t.Errorf("expected 5 turns in final request, got %d", got)
	}
}

func TestProcessZeroRoundsSkipsAllCalls(t *testing.T) {
	model := mock.New(mock.Call("secret", nil, "I would call a tool."))
	r, _ := newRelay(model, 0)
	sess := newFakeSession()

	out, err := r.Process(context.Background(), sess, "q")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != "I would call a tool." || len(sess.calls) != 0 {
		t.Errorf("unexpected out=%q calls=%v", out, sess.calls)
	}
}

func TestProcessMultipleCallsInFirstResponse(t *testing.T) {
	model := mock.New(
		mock.Reply{Response: &llm.Response{Parts: []llm.Part{
			{FunctionCall: &llm.FunctionCall{Name: "secret"}},
			{FunctionCall: &llm.FunctionCall{Name: "calculate_area", Args: map[string]any{"width": 3.0, "height": 4.0}}},
		}}},
		mock.Text("first"),
		mock.Text("second"),
	)
	r, _ := newRelay(model, 1)
	sess := newFakeSession()

	out, err := r.Process(context.Background(), sess, "q")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if diff := cmp.Diff([]string{"secret", "calculate_area"}, sess.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 4 || lines[1] != "first" || lines[3] != "second" {
		t.Errorf("unexpected output %q", out)
	}
	// The second resubmission carries both exchanges.
	if got := len(model.Requests()[2].Turns); got != 5 {
		t.Errorf("expected 5 turns, got %d", got)
	}
}

func TestProcessToolErrorPayload(t *testing.T) {
	model := mock.New(mock.Call("calculate_area", map[string]any{}), mock.Text("missing args"))
	r, _ := newRelay(model, 1)
	sess := newFakeSession()
	sess.results["calculate_area"] = session.CallResult{Text: "InvalidArguments: missing required parameter(s) width, height", IsError: true, Segments: 1}

	if _, err := r.Process(context.Background(), sess, "q"); err != nil {
		t.Fatalf("tool errors must not fail the query: %v", err)
	}
	payload := model.Requests()[1].Turns[2].Parts[0].FunctionResponse.Response
	if payload["error"] != true {
		t.Errorf("expected error flag in payload, got %v", payload)
	}
}

func TestProcessErrors(t *testing.T) {
	tests := []struct {
		name   string
		model  *mock.Model
		setup  func(*fakeSession)
		reason errorsx.ReasonCode
	}{
		{
			name:   "model failure",
			model:  mock.New(mock.Fail(errors.New("quota exceeded"))),
			reason: errorsx.ReasonLLMGenerate,
		},
		{
			name:   "list tools failure",
			model:  mock.New(),
			setup:  func(f *fakeSession) { f.listErr = errors.New("broken pipe") },
			reason: errorsx.ReasonTransport,
		},
		{
			name:   "call failure",
			model:  mock.New(mock.Call("secret", nil)),
			setup:  func(f *fakeSession) { f.callErr = errors.New("connection closed") },
			reason: errorsx.ReasonTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession()
			if tt.setup != nil {
				tt.setup(sess)
			}
			r, _ := newRelay(tt.model, 1)
			_, err := r.Process(context.Background(), sess, "q")
			if !errorsx.HasReason(err, tt.reason) {
				t.Errorf("expected %s, got %v", tt.reason, err)
			}
		})
	}
}

func TestNewNegativeRoundsUsesDefault(t *testing.T) {
	r := New(mock.New(), Options{MaxToolRounds: -1})
	if r.opts.MaxToolRounds != DefaultMaxToolRounds {
		t.Errorf("expected default rounds, got %d", r.opts.MaxToolRounds)
	}
}
