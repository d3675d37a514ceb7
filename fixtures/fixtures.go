// Package fixtures holds shared test helpers: in-memory tool host sessions,
// scratch transcript stores and a fake generate-content endpoint.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/mcp-tool-relay/logging"
	"github.com/user/mcp-tool-relay/session"
	"github.com/user/mcp-tool-relay/store"
	"github.com/user/mcp-tool-relay/toolhost"
)

// NewToolHostSession connects a session to an in-process tool host over
// in-memory transports. Both ends are closed when the test finishes.
func NewToolHostSession(t *testing.T) *session.Session {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := toolhost.NewServer(logging.Discard()).Connect(ctx, serverTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("failed to start tool host: %v", err)
	}

	sess, err := session.ConnectTransport(ctx, clientTransport, session.Options{Logger: logging.Discard()})
	if err != nil {
		_ = serverSession.Close()
		cancel()
		t.Fatalf("failed to connect to tool host: %v", err)
	}

	t.Cleanup(func() {
		_ = sess.Close()
		_ = serverSession.Close()
		cancel()
	})
	return sess
}

// NewScratchStore opens a transcript store in the test's temp dir.
func NewScratchStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// FakeGemini is an httptest server answering generateContent requests with
// scripted bodies, in order.
type FakeGemini struct {
	server   *httptest.Server
	mu       sync.Mutex
	replies  []string
	requests []map[string]any
}

func NewFakeGemini(t *testing.T) *FakeGemini {
	t.Helper()

	f := &FakeGemini{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}

		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, body)
		if len(f.replies) == 0 {
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error": {"code": 500, "message": "no scripted reply", "status": "INTERNAL"}}`)
			return
		}
		reply := f.replies[0]
		f.replies = f.replies[1:]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(f.server.Close)
	return f
}

// Reply queues a raw response body.
func (f *FakeGemini) Reply(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, body)
}

// ReplyText queues a candidate with a single text part.
func (f *FakeGemini) ReplyText(text string) {
	f.replyParts([]map[string]any{{"text": text}})
}

// ReplyCall queues a candidate with a single function call part.
func (f *FakeGemini) ReplyCall(name string, args map[string]any) {
	f.replyParts([]map[string]any{{"functionCall": map[string]any{"name": name, "args": args}}})
}

func (f *FakeGemini) replyParts(parts []map[string]any) {
	body, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": parts},
		}},
	})
	f.Reply(string(body))
}

func (f *FakeGemini) URL() string {
	return f.server.URL
}

// Requests returns the decoded request bodies received so far.
func (f *FakeGemini) Requests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.requests))
	copy(out, f.requests)
	return out
}
