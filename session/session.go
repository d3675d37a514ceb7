// Package session connects to a tool-providing MCP server and exposes its
// tools to the relay.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/mcp-tool-relay/config"
	"github.com/user/mcp-tool-relay/errorsx"
	"github.com/user/mcp-tool-relay/logging"
)

const (
	clientName    = "mcp-relay"
	clientVersion = "0.1.0"
)

type Options struct {
	// Interpreters overrides config.DefaultInterpreters when non-empty.
	Interpreters map[string]string
	// Env is appended to the parent environment of the spawned server.
	Env map[string]string
	// Stderr receives the server's stderr; nil inherits ours.
	Stderr io.Writer

	HandshakeTimeout time.Duration
	ToolTimeout      time.Duration
	// TerminateDuration is how long Close waits for a graceful exit before
	// signalling the child.
	TerminateDuration time.Duration

	Logger *logging.Logger
}

// CallResult is the outcome of one tools/call round-trip.
type CallResult struct {
	// Text is the first text segment of the result.
	Text     string
	IsError  bool
	Segments int
}

// Session is one live client session with a tool server.
type Session struct {
	id         string
	serverPath string
	client     *mcp.ClientSession
	cmd        *exec.Cmd
	registry   *ToolRegistry
	opts       Options
	logger     *logging.Logger

	closeOnce sync.Once
	closeErr  error
}

// ResolveInterpreter picks the command for serverPath from table by file
// extension. The longest matching suffix wins. Values are split on
// whitespace so "go run" yields command "go" with leading arg "run".
func ResolveInterpreter(serverPath string, table map[string]string) (string, []string, error) {
	if len(table) == 0 {
		table = config.DefaultInterpreters()
	}

	var match string
	for ext := range table {
		if strings.HasSuffix(serverPath, ext) && len(ext) > len(match) {
			match = ext
		}
	}
	if match == "" {
		exts := make([]string, 0, len(table))
		for ext := range table {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		return "", nil, errorsx.New(errorsx.ReasonUnsupportedServerKind,
			"server script must be one of %s: %s", strings.Join(exts, ", "), serverPath)
	}

	fields := strings.Fields(table[match])
	if len(fields) == 0 {
		return "", nil, errorsx.New(errorsx.ReasonUnsupportedServerKind, "empty interpreter for %s", match)
	}
	return fields[0], fields[1:], nil
}

// Connect spawns the server script as a child process and completes the MCP
// handshake over its stdio.
func Connect(ctx context.Context, serverPath string, opts Options) (*Session, error) {
	command, args, err := ResolveInterpreter(serverPath, opts.Interpreters)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(command, append(args, serverPath)...)
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(opts.Env)...)
	}

	transport := &mcp.CommandTransport{Command: cmd, TerminateDuration: opts.TerminateDuration}
	s, err := connect(ctx, transport, opts)
	if err != nil {
		reap(cmd)
		return nil, err
	}
	s.serverPath = serverPath
	s.cmd = cmd
	return s, nil
}

// ConnectTransport runs the handshake over an existing transport. Used for
// in-memory servers and for tests.
func ConnectTransport(ctx context.Context, t mcp.Transport, opts Options) (*Session, error) {
	return connect(ctx, t, opts)
}

func connect(ctx context.Context, t mcp.Transport, opts Options) (*Session, error) {
	logger := opts.Logger.With("session")

	hctx := ctx
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	cs, err := client.Connect(hctx, t, nil)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("mcp handshake: %w", err), errorsx.ReasonTransport)
	}

	s := &Session{
		id:       uuid.NewString(),
		client:   cs,
		registry: NewToolRegistry(),
		opts:     opts,
		logger:   logger,
	}

	tools, err := s.Tools(hctx)
	if err != nil {
		_ = cs.Close()
		return nil, err
	}

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	logger.Info("Connected to MCP server with tools: %v", names)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) ServerPath() string { return s.serverPath }

// Registry exposes the tools cached from the last tools/list.
func (s *Session) Registry() *ToolRegistry { return s.registry }

// Tools queries tools/list and refreshes the cached registry.
func (s *Session) Tools(ctx context.Context) ([]Tool, error) {
	res, err := s.client.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("list tools: %w", err), errorsx.ReasonTransport)
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		if t == nil {
			continue
		}
		schema, err := schemaMap(t.InputSchema)
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("tool %s: input schema: %w", t.Name, err), errorsx.ReasonTransport)
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	if err := s.registry.Replace(tools); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTransport)
	}
	return tools, nil
}

// CallTool performs one tools/call. A tool that reports failure is returned
// as a CallResult with IsError set, not as an error.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	if s.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ToolTimeout)
		defer cancel()
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := s.client.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return CallResult{}, errorsx.Wrap(fmt.Errorf("call tool %s: %w", name, err), errorsx.ReasonTransport)
	}

	out := CallResult{IsError: res.IsError, Segments: len(res.Content)}
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			out.Text = text.Text
			break
		}
	}
	return out, nil
}

// Close ends the session and reaps the child process. Safe to call more
// than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
		if s.cmd != nil {
			reap(s.cmd)
		}
		s.logger.Debug("session %s closed", s.id)
	})
	return s.closeErr
}

// Exited reports whether the spawned child has been reaped. Always true for
// sessions without a child process.
func (s *Session) Exited() bool {
	return s.cmd == nil || s.cmd.ProcessState != nil
}

// reap kills and waits for cmd if it was started and not yet waited on.
func reap(cmd *exec.Cmd) {
	if cmd.Process == nil || cmd.ProcessState != nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}

func schemaMap(schema any) (map[string]any, error) {
	switch v := schema.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
