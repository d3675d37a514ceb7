package relay

import (
	"sync"
	"time"
)

// Trace stages recorded by the relay.
const (
	StageGenerate   = "generate"
	StageToolCall   = "tool_call"
	StageToolResult = "tool_result"
	StageSkipped    = "skipped"
)

// TraceEvent captures one step of query processing.
type TraceEvent struct {
	Time       time.Time `json:"time"`
	Stage      string    `json:"stage"`
	Tool       string    `json:"tool,omitempty"`
	Depth      int       `json:"depth"`
	Detail     string    `json:"detail"`
	Attachment string    `json:"attachment,omitempty"` // arguments or result text
}

// TraceRecorder stores a bounded set of recent trace events.
type TraceRecorder struct {
	limit int
	mu    sync.RWMutex
	buf   []TraceEvent
}

func NewTraceRecorder(limit int) *TraceRecorder {
	if limit <= 0 {
		limit = 200
	}
	return &TraceRecorder{limit: limit}
}

// Add records an event. A nil recorder drops it.
func (tr *TraceRecorder) Add(event TraceEvent) {
	if tr == nil {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	event.Time = time.Now()
	tr.buf = append(tr.buf, event)
	if len(tr.buf) > tr.limit {
		tr.buf = tr.buf[len(tr.buf)-tr.limit:]
	}
}

// List returns a copy of the buffer in chronological order.
func (tr *TraceRecorder) List() []TraceEvent {
	if tr == nil {
		return nil
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]TraceEvent, len(tr.buf))
	copy(out, tr.buf)
	return out
}

// Stages returns the stage of every buffered event, oldest first.
func (tr *TraceRecorder) Stages() []string {
	events := tr.List()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Stage
	}
	return out
}
