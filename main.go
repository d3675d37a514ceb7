package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/user/mcp-tool-relay/cmd"
	"github.com/user/mcp-tool-relay/config"
	"github.com/user/mcp-tool-relay/console"
	"github.com/user/mcp-tool-relay/dashboard"
	"github.com/user/mcp-tool-relay/llm/gemini"
	"github.com/user/mcp-tool-relay/logging"
	"github.com/user/mcp-tool-relay/relay"
	"github.com/user/mcp-tool-relay/session"
	"github.com/user/mcp-tool-relay/store"
	"github.com/user/mcp-tool-relay/toolhost"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run dispatches subcommands and returns the process exit code. Deferred
// cleanup inside each handler runs before main exits.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "host":
			return runHost(args[1:], stderr)
		case "history":
			return runHistory(args[1:], stdout, stderr)
		case "version":
			fmt.Fprintf(stdout, "mcp-relay v%s\n", version)
			return 0
		case "help", "-h", "-help", "--help":
			printHelp(stdout)
			return 0
		}
	}
	return runChat(args, stdin, stdout, stderr)
}

func runChat(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	args, err := cmd.ParseArgsWithArgs(argv, stderr)
	if err != nil {
		return 1
	}
	if args.ServerPath == "" {
		fmt.Fprintln(stderr, cmd.Usage)
		return 1
	}

	cfg, err := loadConfig(args.EnvFile, args.ConfigPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	args.ApplyOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	if err := cfg.ValidateForChat(); err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}

	logger := logging.NewLoggerTo(stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open transcript store: %v\n", err)
		return 1
	}
	defer st.Close()

	sess, err := session.Connect(ctx, args.ServerPath, session.Options{
		Interpreters:     cfg.Session.Interpreters,
		Env:              cfg.Session.Env,
		Stderr:           stderr,
		HandshakeTimeout: cfg.Timeouts.Handshake,
		ToolTimeout:      cfg.Timeouts.ToolCall,
		Logger:           logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to connect to %s: %v\n", args.ServerPath, err)
		return 1
	}
	defer sess.Close()

	if err := st.RecordSession(sess.ID(), args.ServerPath); err != nil {
		logger.Warn("failed to record session: %v", err)
	}

	model, err := gemini.New(ctx, gemini.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.Timeouts.LLM,
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to create model client: %v\n", err)
		return 1
	}

	trace := relay.NewTraceRecorder(200)
	r := relay.New(model, relay.Options{
		MaxToolRounds: cfg.Relay.MaxToolRounds,
		Temperature:   cfg.LLM.Temperature,
		Logger:        logger,
		Trace:         trace,
	})

	if cfg.Dashboard.Listen != "" {
		ds := dashboard.NewDashboardServer(cfg.Dashboard.Listen, sess.Registry(), trace, st, version, logger)
		if err := ds.Start(); err != nil {
			logger.Warn("failed to start dashboard: %v", err)
		} else {
			defer ds.Stop()
		}
	}

	loop := console.New(r, sess, stdin, stdout, console.Options{
		QueryTimeout: cfg.Timeouts.Query,
		Banner:       cfg.UI.Banner,
		Version:      version,
		SessionID:    sess.ID(),
		Recorder:     st,
		Logger:       logger,
	})
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "console error: %v\n", err)
		return 1
	}
	return 0
}

func runHost(argv []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("mcp-relay host", flag.ContinueOnError)
	fs.SetOutput(stderr)
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	if err := fs.Parse(argv); err != nil {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := toolhost.Run(ctx, logging.NewLoggerTo(stderr, *logLevel)); err != nil {
		fmt.Fprintf(stderr, "tool host error: %v\n", err)
		return 1
	}
	return 0
}

func runHistory(argv []string, stdout, stderr io.Writer) int {
	h, err := cmd.ParseHistoryArgs(argv, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	cfg, err := loadConfig(h.EnvFile, h.ConfigPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	if h.IsSet("db") {
		cfg.DBPath = h.DBPath
	}
	if cfg.DBPath == "" {
		fmt.Fprintln(stderr, "history needs a database: pass -db or set db_path")
		return 1
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open transcript store: %v\n", err)
		return 1
	}
	defer st.Close()

	if err := printHistory(stdout, st, h.Limit); err != nil {
		fmt.Fprintf(stderr, "history error: %v\n", err)
		return 1
	}
	return 0
}

func printHistory(w io.Writer, st *store.Store, limit int) error {
	transcripts, err := st.Recent(limit)
	if err != nil {
		return err
	}
	counts, err := st.ToolCallCounts()
	if err != nil {
		return err
	}

	if len(transcripts) == 0 {
		fmt.Fprintln(w, "No transcripts recorded.")
	}
	for _, t := range transcripts {
		fmt.Fprintf(w, "%s  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Query)
		for _, c := range t.ToolCalls {
			status := "ok"
			if c.IsError {
				status = "error"
			}
			fmt.Fprintf(w, "    tool %s %s -> %s (%s)\n", c.Tool, c.Arguments, c.Result, status)
		}
		if t.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", t.Error)
		} else {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(t.Response, "\n", "\n    "))
		}
	}

	if len(counts) > 0 {
		fmt.Fprintln(w, "\nTool calls:")
		for _, c := range counts {
			fmt.Fprintf(w, "  %-16s %d (%d failed)\n", c.Tool, c.Total, c.Errors)
		}
	}
	return nil
}

func loadConfig(envFile, path string, stderr io.Writer) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	return config.Load(path)
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, `
MCP Relay v%s

USAGE:
  mcp-relay [FLAGS] <path_to_server_script>
  mcp-relay [COMMAND]

COMMANDS:
  host          Run the bundled tool host (calculate_bmi, calculate_area, secret) on stdio
  history       Print recent transcripts from the transcript database
  version       Print version
  help          Print this help message

FLAGS:
  -config STRING            Config file (yaml, json or toml)
  -env-file STRING          Dotenv file loaded first (default: .env)
  -log-level STRING         Log level: debug, info, warn, error (default: info)
  -db STRING                SQLite transcript database path (default: in-memory)
  -model STRING             Gemini model (default: %s)
  -max-tool-rounds INT      How deep tool calls are followed (default: %d)
  -dashboard STRING         Serve the JSON status API on this address (default: off)

ENVIRONMENT:
  GEMINI_API_KEY            API key for the Gemini API
  MCP_RELAY_*               Overrides any config key, e.g. MCP_RELAY_LOG_LEVEL

EXAMPLES:
  # Chat against a Python tool server
  mcp-relay server.py

  # Chat against the bundled tool host
  mcp-relay -config relay.yaml examples/toolhost/main.go

  # Show the last five queries
  mcp-relay history -db relay.db -n 5
`, version, config.DefaultModel, config.DefaultMaxToolRounds)
}
