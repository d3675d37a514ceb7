// Package relay turns one operator query into an answer: it declares the
// session's tools to the model, executes the function calls the model asks
// for, and feeds the results back.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/mcp-tool-relay/errorsx"
	"github.com/user/mcp-tool-relay/llm"
	"github.com/user/mcp-tool-relay/logging"
	"github.com/user/mcp-tool-relay/session"
)

// DefaultMaxToolRounds is how deep tool calls are followed. Calls the model
// makes after seeing a tool result are not executed.
const DefaultMaxToolRounds = 1

// ToolSession is what the relay needs from a connected tool server.
type ToolSession interface {
	Tools(ctx context.Context) ([]session.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (session.CallResult, error)
}

var _ ToolSession = (*session.Session)(nil)

type Options struct {
	// MaxToolRounds < 0 selects DefaultMaxToolRounds; 0 disables tool execution.
	MaxToolRounds int
	Temperature   float32
	Logger        *logging.Logger
	Trace         *TraceRecorder
}

// ToolCall records one executed tool invocation.
type ToolCall struct {
	Name   string
	Args   map[string]any
	Result session.CallResult
	Depth  int
}

// Result is the outcome of one query. On error it holds whatever was
// produced before the failure.
type Result struct {
	Output    string
	ToolCalls []ToolCall
}

type Relay struct {
	model  llm.Model
	opts   Options
	logger *logging.Logger
}

func New(model llm.Model, opts Options) *Relay {
	if opts.MaxToolRounds < 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Relay{model: model, opts: opts, logger: opts.Logger.With("relay")}
}

// Process answers query and returns the accumulated output text.
func (r *Relay) Process(ctx context.Context, sess ToolSession, query string) (string, error) {
	res, err := r.Handle(ctx, sess, query)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// query is the per-query state threaded through the walk.
type query struct {
	sess   ToolSession
	conv   *llm.Conversation
	decls  []llm.FunctionDeclaration
	output []string
	result *Result
}

// Handle answers query and reports the tool calls made along the way.
func (r *Relay) Handle(ctx context.Context, sess ToolSession, text string) (*Result, error) {
	result := &Result{}

	tools, err := sess.Tools(ctx)
	if err != nil {
		return result, errorsx.Wrap(fmt.Errorf("list tools: %w", err), errorsx.ReasonTransport)
	}
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	q := &query{
		sess:   sess,
		conv:   llm.NewConversation(text),
		decls:  llm.DeclarationsFromTools(specs),
		result: result,
	}

	resp, err := r.generate(ctx, q, 0)
	if err != nil {
		return result, err
	}

	err = r.walk(ctx, q, resp, 0)
	result.Output = strings.Join(q.output, "\n")
	return result, err
}

// walk appends text parts in order and executes function calls while depth
// is below MaxToolRounds.
func (r *Relay) walk(ctx context.Context, q *query, resp *llm.Response, depth int) error {
	for _, part := range resp.Parts {
		switch {
		case part.FunctionCall != nil:
			call := *part.FunctionCall
			if depth >= r.opts.MaxToolRounds {
				r.skip(call, depth)
				continue
			}

			follow, err := r.invoke(ctx, q, call, depth)
			if err != nil {
				return err
			}

			if depth+1 < r.opts.MaxToolRounds {
				if err := r.walk(ctx, q, follow, depth+1); err != nil {
					return err
				}
				continue
			}
			if text := follow.Text(); text != "" {
				q.output = append(q.output, text)
			}
			for _, c := range follow.FunctionCalls() {
				r.skip(c, depth+1)
			}

		case part.Text != "":
			q.output = append(q.output, part.Text)
		}
	}
	return nil
}

// invoke executes call, appends the exchange to the conversation and
// resubmits it.
func (r *Relay) invoke(ctx context.Context, q *query, call llm.FunctionCall, depth int) (*llm.Response, error) {
	args := formatArgs(call.Args)
	r.logger.Info("Calling : %s with %s", call.Name, args)
	r.opts.Trace.Add(TraceEvent{Stage: StageToolCall, Tool: call.Name, Depth: depth, Detail: "call", Attachment: args})

	res, err := q.sess.CallTool(ctx, call.Name, call.Args)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("call %s: %w", call.Name, err), errorsx.ReasonTransport)
	}

	detail := "ok"
	if res.IsError {
		detail = "error"
	}
	r.opts.Trace.Add(TraceEvent{Stage: StageToolResult, Tool: call.Name, Depth: depth, Detail: detail, Attachment: res.Text})
	r.logger.Debug("%s returned %d segment(s): %s", call.Name, res.Segments, res.Text)

	q.result.ToolCalls = append(q.result.ToolCalls, ToolCall{Name: call.Name, Args: call.Args, Result: res, Depth: depth})
	q.output = append(q.output, fmt.Sprintf("[Calling tool %s with args %s]", call.Name, args))
	q.conv.AppendExchange(call, llm.FunctionResponse{Name: call.Name, Response: toolPayload(res)})

	return r.generate(ctx, q, depth+1)
}

func (r *Relay) generate(ctx context.Context, q *query, depth int) (*llm.Response, error) {
	r.opts.Trace.Add(TraceEvent{Stage: StageGenerate, Depth: depth, Detail: fmt.Sprintf("%d turn(s)", q.conv.Len())})

	resp, err := r.model.Generate(ctx, llm.Request{
		Turns:       q.conv.Turns(),
		Tools:       q.decls,
		Temperature: r.opts.Temperature,
	})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("generate: %w", err), errorsx.ReasonLLMGenerate)
	}
	return resp, nil
}

func (r *Relay) skip(call llm.FunctionCall, depth int) {
	args := formatArgs(call.Args)
	r.logger.Debug("skipping %s with %s: tool round limit %d reached", call.Name, args, r.opts.MaxToolRounds)
	r.opts.Trace.Add(TraceEvent{Stage: StageSkipped, Tool: call.Name, Depth: depth, Detail: "round limit", Attachment: args})
}

// toolPayload is the function-response body fed back to the model.
func toolPayload(res session.CallResult) map[string]any {
	payload := map[string]any{"content": res.Text}
	if res.IsError {
		payload["error"] = true
	}
	return payload
}

// formatArgs renders args as JSON with sorted keys.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}
