//go:build e2e
// +build e2e

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/user/mcp-tool-relay/fixtures"
	"github.com/user/mcp-tool-relay/store"
)

// writeConfig points the relay at the fake model endpoint and maps the
// ".host" extension to this test binary, which TestMain turns into the tool
// host.
func writeConfig(t *testing.T, baseURL, dbPath string) string {
	t.Helper()

	cfg := fmt.Sprintf(`log_level: error
db_path: %q
llm:
  api_key: test-key
  base_url: %q
session:
  interpreters:
    .host: %q
  env:
    %s: "1"
timeouts:
  handshake: 20s
  tool_call: 10s
  llm: 10s
`, dbPath, baseURL, os.Args[0], hostEnv)

	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// lockedBuffer is shared by the relay's logger and the child's stderr copier.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runE2E(t *testing.T, configPath, input string) (string, string, int) {
	t.Helper()
	var stdout, stderr lockedBuffer
	code := run([]string{
		"-config", configPath,
		"-env-file", filepath.Join(t.TempDir(), "none.env"),
		"tools.host",
	}, strings.NewReader(input), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestE2E_ToolCallRoundTrip(t *testing.T) {
	fake := fixtures.NewFakeGemini(t)
	fake.ReplyCall("calculate_area", map[string]any{"width": 3, "height": 4})
	fake.ReplyText("The area is 12.")

	dbPath := filepath.Join(t.TempDir(), "relay.db")
	stdout, stderr, code := runE2E(t, writeConfig(t, fake.URL(), dbPath), "area of 3 by 4?\nquit\n")
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}

	want := "\nLLM :[Calling tool calculate_area with args {\"height\":4,\"width\":3}]\nThe area is 12.\n"
	if !strings.Contains(stdout, want) {
		t.Errorf("unexpected console output:\n%q", stdout)
	}

	reqs := fake.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 generate requests, got %d", len(reqs))
	}
	contents, _ := reqs[1]["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents in follow-up, got %d", len(contents))
	}
	last, _ := contents[2].(map[string]any)
	parts, _ := last["parts"].([]any)
	part, _ := parts[0].(map[string]any)
	fr, _ := part["functionResponse"].(map[string]any)
	resp, _ := fr["response"].(map[string]any)
	if resp["content"] != "12" {
		t.Errorf("expected tool result fed back, got %v", last)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	recent, err := st.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || len(recent[0].ToolCalls) != 1 {
		t.Errorf("expected one transcript with one tool call, got %+v", recent)
	}
}

func TestE2E_PlainAnswerAndModelFailure(t *testing.T) {
	fake := fixtures.NewFakeGemini(t)
	fake.ReplyText("Hello there.")
	// No reply scripted for the second query: the endpoint answers 500.

	stdout, stderr, code := runE2E(t, writeConfig(t, fake.URL(), ""), "hi\nagain\nQUIT\n")
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}

	if !strings.Contains(stdout, "\nLLM :Hello there.\n") {
		t.Errorf("expected verbatim answer, got %q", stdout)
	}
	if !strings.Contains(stdout, "\nError : ") {
		t.Errorf("expected error line for the failed query, got %q", stdout)
	}
	if strings.Count(stdout, "\nUser : ") != 3 {
		t.Errorf("expected three prompts, got %q", stdout)
	}
}

func TestE2E_SecretTool(t *testing.T) {
	fake := fixtures.NewFakeGemini(t)
	fake.ReplyCall("secret", map[string]any{})
	fake.ReplyText("Here is your secret.")

	stdout, stderr, code := runE2E(t, writeConfig(t, fake.URL(), ""), "tell me the secret\n")
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "[Calling tool secret with args {}]") {
		t.Errorf("expected trace line, got %q", stdout)
	}

	reqs := fake.Requests()
	raw := fmt.Sprint(reqs[len(reqs)-1])
	if !strings.Contains(raw, "secret : thisisyoursecretyayelvishbhhhaaaai") {
		t.Errorf("expected secret fed back to the model, got %s", raw)
	}
}
