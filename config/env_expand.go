package config

import (
	"os"
	"regexp"
	"strings"
)

var envDefaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-|-)([^}]*)\}`)

// expandEnvString expands $VAR, ${VAR} and ${VAR:-default} references.
func expandEnvString(value string, lookup func(string) string) string {
	if value == "" {
		return value
	}

	expanded := envDefaultPattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := envDefaultPattern.FindStringSubmatch(match)
		if len(parts) != 4 {
			return match
		}
		key := parts[1]
		fallback := parts[3]
		if lookup != nil {
			if val := lookup(key); val != "" {
				return val
			}
		}
		return fallback
	})

	return os.Expand(expanded, func(key string) string {
		if lookup == nil {
			return ""
		}
		return lookup(key)
	})
}

// expandConfig resolves environment references in the fields that name
// processes, endpoints and child environment values. Child env entries may
// reference each other before falling back to the parent environment.
func expandConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	env := make(map[string]string, len(cfg.Session.Env))
	for key, value := range cfg.Session.Env {
		env[strings.ToUpper(key)] = value
	}

	lookup := func(key string) string {
		if val, ok := env[key]; ok {
			return val
		}
		return os.Getenv(key)
	}

	expand := func(value string) string {
		return expandEnvString(value, lookup)
	}

	expanded := make(map[string]string, len(env))
	for key, value := range env {
		expanded[key] = expand(value)
	}
	cfg.Session.Env = expanded

	for ext, command := range cfg.Session.Interpreters {
		cfg.Session.Interpreters[ext] = expand(command)
	}

	cfg.LLM.BaseURL = expand(cfg.LLM.BaseURL)
	cfg.DBPath = expand(cfg.DBPath)
}
