package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/mcp-tool-relay/store"
)

// hostEnv makes the re-executed test binary serve the tool host on stdio.
const hostEnv = "MCP_RELAY_E2E_TOOLHOST"

func TestMain(m *testing.M) {
	if os.Getenv(hostEnv) == "1" {
		os.Exit(run([]string{"host", "-log-level", "error"}, os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func TestRunWithoutServerPathPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, strings.NewReader(""), &stdout, &stderr)

	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: mcp-relay [flags] <path_to_server_script>") {
		t.Errorf("expected usage on stderr, got %q", stderr.String())
	}
}

func TestRunUnsupportedServerKind(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-env-file", filepath.Join(t.TempDir(), "none.env"), "server.rb"}, strings.NewReader(""), &stdout, &stderr)

	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "server.rb") {
		t.Errorf("expected connect error naming the script, got %q", stderr.String())
	}
	if strings.Contains(stdout.String(), "MCP Client Started!") {
		t.Errorf("loop must not start when connect fails")
	}
}

func TestRunMissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("MCP_RELAY_LLM_API_KEY", "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-env-file", filepath.Join(t.TempDir(), "none.env"), "server.py"}, strings.NewReader(""), &stdout, &stderr)

	if code != 1 || !strings.Contains(stderr.String(), "api_key") {
		t.Errorf("expected api key error, got code=%d stderr=%q", code, stderr.String())
	}
}

func TestRunVersionAndHelp(t *testing.T) {
	var stdout bytes.Buffer
	if code := run([]string{"version"}, nil, &stdout, &stdout); code != 0 {
		t.Errorf("version exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "mcp-relay v"+version) {
		t.Errorf("unexpected version output %q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"help"}, nil, &stdout, &stdout); code != 0 {
		t.Errorf("help exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "history") {
		t.Errorf("help should list subcommands, got %q", stdout.String())
	}
}

func TestRunHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	err = st.RecordTranscript(&store.Transcript{
		SessionID: "s-1",
		Query:     "area of 3 by 4?",
		Response:  "[Calling tool calculate_area with args {\"height\":4,\"width\":3}]\nThe area is 12.",
		ToolCalls: []store.ToolCallRecord{{Tool: "calculate_area", Arguments: `{"height":4,"width":3}`, Result: "12"}},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	st.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"history", "-env-file", filepath.Join(t.TempDir(), "none.env"), "-db", dbPath, "-n", "5"}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("history exit code %d: %s", code, stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{"area of 3 by 4?", "tool calculate_area", "-> 12 (ok)", "calculate_area   1 (0 failed)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in history output:\n%s", want, out)
		}
	}
}

func TestRunHistoryRequiresDatabase(t *testing.T) {
	t.Setenv("MCP_RELAY_DB_PATH", "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"history", "-env-file", filepath.Join(t.TempDir(), "none.env")}, nil, &stdout, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "-db") {
		t.Errorf("expected missing database error, got code=%d stderr=%q", code, stderr.String())
	}
}
