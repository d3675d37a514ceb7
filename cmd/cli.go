package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/user/mcp-tool-relay/config"
)

const Usage = "Usage: mcp-relay [flags] <path_to_server_script>"

type CLIArgs struct {
	ConfigPath    string
	EnvFile       string
	LogLevel      string
	DBPath        string
	Model         string
	MaxToolRounds int
	Dashboard     string
	// ServerPath is the first positional argument.
	ServerPath string
	// Rest holds positional arguments after ServerPath.
	Rest []string

	set map[string]bool
}

func ParseArgs() (CLIArgs, error) {
	return ParseArgsWithArgs(os.Args[1:], os.Stderr)
}

// ParseArgsWithArgs parses the shared flags followed by positional arguments.
// Flag errors are written to output.
func ParseArgsWithArgs(args []string, output io.Writer) (CLIArgs, error) {
	cliArgs := CLIArgs{set: map[string]bool{}}

	fs := flag.NewFlagSet("mcp-relay", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cliArgs.ConfigPath, "config", "", "Config file (yaml, json or toml)")
	fs.StringVar(&cliArgs.EnvFile, "env-file", ".env", "Dotenv file loaded before the environment is read")
	fs.StringVar(&cliArgs.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cliArgs.DBPath, "db", "", "SQLite transcript database path (default: in-memory)")
	fs.StringVar(&cliArgs.Model, "model", "", "Gemini model name")
	fs.IntVar(&cliArgs.MaxToolRounds, "max-tool-rounds", config.DefaultMaxToolRounds, "How deep tool calls are followed")
	fs.StringVar(&cliArgs.Dashboard, "dashboard", "", "Serve the status API on this address, e.g. 127.0.0.1:13337")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), Usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cliArgs, err
	}
	fs.Visit(func(f *flag.Flag) { cliArgs.set[f.Name] = true })

	if rest := fs.Args(); len(rest) > 0 {
		cliArgs.ServerPath = rest[0]
		cliArgs.Rest = rest[1:]
	}
	return cliArgs, nil
}

// ApplyOverrides copies explicitly set flags over cfg.
func (a CLIArgs) ApplyOverrides(cfg *config.Config) {
	if a.set["log-level"] {
		cfg.LogLevel = a.LogLevel
	}
	if a.set["db"] {
		cfg.DBPath = a.DBPath
	}
	if a.set["model"] {
		cfg.LLM.Model = a.Model
	}
	if a.set["max-tool-rounds"] {
		cfg.Relay.MaxToolRounds = a.MaxToolRounds
	}
	if a.set["dashboard"] {
		cfg.Dashboard.Listen = a.Dashboard
	}
}

// IsSet reports whether the named flag was given on the command line.
func (a CLIArgs) IsSet(name string) bool {
	return a.set[name]
}

// HistoryArgs are the flags of the history subcommand.
type HistoryArgs struct {
	CLIArgs
	Limit int
}

func ParseHistoryArgs(args []string, output io.Writer) (HistoryArgs, error) {
	h := HistoryArgs{CLIArgs: CLIArgs{set: map[string]bool{}}}

	fs := flag.NewFlagSet("mcp-relay history", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&h.ConfigPath, "config", "", "Config file (yaml, json or toml)")
	fs.StringVar(&h.EnvFile, "env-file", ".env", "Dotenv file loaded before the environment is read")
	fs.StringVar(&h.DBPath, "db", "", "SQLite transcript database path")
	fs.IntVar(&h.Limit, "n", 10, "Number of transcripts to show")

	if err := fs.Parse(args); err != nil {
		return h, err
	}
	fs.Visit(func(f *flag.Flag) { h.set[f.Name] = true })
	if h.Limit <= 0 {
		return h, fmt.Errorf("-n must be positive, got %d", h.Limit)
	}
	return h, nil
}
