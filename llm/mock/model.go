// Package mock provides a scripted llm.Model for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/user/mcp-tool-relay/llm"
)

// ErrExhausted is returned once every scripted reply has been consumed.
var ErrExhausted = errors.New("mock model: no scripted replies left")

// Reply is one scripted answer: either a response or an error.
type Reply struct {
	Response *llm.Response
	Err      error
}

// Model replays scripted replies in order and records every request.
type Model struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

func New(replies ...Reply) *Model {
	return &Model{replies: replies}
}

// Text builds a reply holding a single text part.
func Text(s string) Reply {
	return Reply{Response: &llm.Response{Parts: []llm.Part{{Text: s}}}}
}

// Call builds a reply holding a single function call, optionally preceded by text.
func Call(name string, args map[string]any, text ...string) Reply {
	resp := &llm.Response{}
	for _, t := range text {
		resp.Parts = append(resp.Parts, llm.Part{Text: t})
	}
	resp.Parts = append(resp.Parts, llm.Part{FunctionCall: &llm.FunctionCall{Name: name, Args: args}})
	return Reply{Response: resp}
}

func Fail(err error) Reply {
	return Reply{Err: err}
}

func (m *Model) Name() string { return "mock" }

func (m *Model) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	req.Turns = append([]llm.Turn(nil), req.Turns...)
	m.requests = append(m.requests, req)

	if len(m.replies) == 0 {
		return nil, ErrExhausted
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return next.Response, next.Err
}

// Requests returns a copy of the recorded requests.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Remaining reports how many scripted replies are unused.
func (m *Model) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}
