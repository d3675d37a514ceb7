package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/user/mcp-tool-relay/errorsx"
)

// keyDelimiter replaces viper's default "." so interpreter tables can be
// keyed by file extensions such as ".py".
const keyDelimiter = "::"

const (
	DefaultModel         = "gemini-2.0-flash"
	DefaultMaxToolRounds = 1
)

type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Session   SessionConfig   `mapstructure:"session"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	UI        UIConfig        `mapstructure:"ui"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	LogLevel  string          `mapstructure:"log_level"`
	DBPath    string          `mapstructure:"db_path"`
}

type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
}

type RelayConfig struct {
	MaxToolRounds int `mapstructure:"max_tool_rounds"`
}

type SessionConfig struct {
	// Interpreters maps a server script extension to the command that runs it.
	Interpreters map[string]string `mapstructure:"interpreters"`
	// Env is appended to the parent environment of the spawned tool host.
	Env map[string]string `mapstructure:"env"`
}

type TimeoutsConfig struct {
	Handshake time.Duration `mapstructure:"handshake"`
	ToolCall  time.Duration `mapstructure:"tool_call"`
	LLM       time.Duration `mapstructure:"llm"`
	Query     time.Duration `mapstructure:"query"`
}

type UIConfig struct {
	Banner bool `mapstructure:"banner"`
}

type DashboardConfig struct {
	// Listen enables the status API on this address; empty disables it.
	Listen string `mapstructure:"listen"`
}

// DefaultInterpreters is the extension table used when nothing else is configured.
func DefaultInterpreters() map[string]string {
	return map[string]string{
		".py": "python",
		".js": "node",
	}
}

// LoadDotEnv exports variables from a .env file without overriding the
// existing environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads defaults, the optional config file at path and the environment.
func Load(path string) (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)

	v.SetEnvPrefix("MCP_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(key("llm", "api_key"), "MCP_RELAY_LLM_API_KEY", "GEMINI_API_KEY"); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("bind env: %w", err), errorsx.ReasonConfig)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfig)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfig)
	}

	if len(cfg.Session.Interpreters) == 0 {
		cfg.Session.Interpreters = DefaultInterpreters()
	}

	expandConfig(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(key("llm", "model"), DefaultModel)
	v.SetDefault(key("llm", "base_url"), "")
	v.SetDefault(key("llm", "temperature"), 0)
	v.SetDefault(key("relay", "max_tool_rounds"), DefaultMaxToolRounds)
	interpreters := make(map[string]any)
	for ext, command := range DefaultInterpreters() {
		interpreters[ext] = command
	}
	v.SetDefault(key("session", "interpreters"), interpreters)
	v.SetDefault(key("timeouts", "handshake"), 30*time.Second)
	v.SetDefault(key("timeouts", "tool_call"), 60*time.Second)
	v.SetDefault(key("timeouts", "llm"), 60*time.Second)
	v.SetDefault(key("timeouts", "query"), time.Duration(0))
	v.SetDefault(key("ui", "banner"), false)
	v.SetDefault(key("dashboard", "listen"), "")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "")
}

func key(parts ...string) string {
	return strings.Join(parts, keyDelimiter)
}

// Validate checks settings shared by every subcommand.
func (c *Config) Validate() error {
	if c.Relay.MaxToolRounds < 0 {
		return errorsx.New(errorsx.ReasonConfig, "relay.max_tool_rounds must be >= 0, got %d", c.Relay.MaxToolRounds)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errorsx.New(errorsx.ReasonConfig, "llm.temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}
	for ext, command := range c.Session.Interpreters {
		if !strings.HasPrefix(ext, ".") {
			return errorsx.New(errorsx.ReasonConfig, "session.interpreters key %q must start with '.'", ext)
		}
		if strings.TrimSpace(command) == "" {
			return errorsx.New(errorsx.ReasonConfig, "session.interpreters[%s] is empty", ext)
		}
	}
	if c.Timeouts.Handshake < 0 || c.Timeouts.ToolCall < 0 || c.Timeouts.LLM < 0 || c.Timeouts.Query < 0 {
		return errorsx.New(errorsx.ReasonConfig, "timeouts must not be negative")
	}
	return nil
}

// ValidateForChat checks the settings only the chat client needs.
func (c *Config) ValidateForChat() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errorsx.New(errorsx.ReasonConfig, "llm.api_key is required (set GEMINI_API_KEY)")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errorsx.New(errorsx.ReasonConfig, "llm.model is required")
	}
	return nil
}
