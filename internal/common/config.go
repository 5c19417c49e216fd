package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is loaded from the working directory when no -config flag is given
const DefaultConfigFile = "fixlimit.toml"

// Config represents the application configuration
type Config struct {
	Banner  bool          `toml:"banner"` // Print the startup banner
	Build   BuildConfig   `toml:"build"`
	Logging LoggingConfig `toml:"logging"`
	History HistoryConfig `toml:"history"`
}

// BuildConfig describes the build to retry and the file to patch
type BuildConfig struct {
	RawCommand  interface{} `toml:"command"`                                                  // Array of tokens or whitespace-delimited string
	Command     []string    `toml:"-" validate:"min=1,dive,required"`                         // Tokens resolved from RawCommand, env or CLI
	Target      string      `toml:"target"`                                                   // Explicit target file (default: src/lib.rs, then src/main.rs)
	Dir         string      `toml:"dir"`                                                      // Working directory for the build (default: process cwd)
	OnMissing   string      `toml:"on_missing" validate:"omitempty,oneof=insert fail ignore"` // Behaviour when the directive is absent
	MaxAttempts int         `toml:"max_attempts" validate:"gte=0"`                            // Maximum builds per run (0 = unbounded)
}

type LoggingConfig struct {
	Level      string   `toml:"level"`                                            // "debug", "info", "warn", "error"
	Output     []string `toml:"output" validate:"dive,oneof=console stdout file"` // "console", "file"
	TimeFormat string   `toml:"time_format"`                                      // Time format for log lines (default: "15:04:05")
	File       string   `toml:"file"`                                             // Log file path when "file" output is enabled
}

// HistoryConfig controls the optional patch history store
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path" validate:"required_if=Enabled true"` // Badger database directory
}

// parseCommand normalizes a decoded TOML command value into tokens
func parseCommand(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Fields(v), nil
	case []interface{}:
		tokens := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command[%d] must be a string, got %T", i, item)
			}
			tokens = append(tokens, s)
		}
		return tokens, nil
	default:
		return nil, fmt.Errorf("command must be a string or an array of strings, got %T", value)
	}
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Banner: false,
		Build: BuildConfig{
			OnMissing:   "insert", // Insert the directive rather than loop on an unchanged file
			MaxAttempts: 0,        // Unbounded, the loop ends when the build stops asking for a larger limit
		},
		Logging: LoggingConfig{
			Level:      "warn",              // Progress lines cover normal output, arbor only reports problems
			Output:     []string{"console"}, // console|file
			TimeFormat: "15:04:05",
			File:       ".fixlimit/fixlimit.log",
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    ".fixlimit/history",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	command, err := parseCommand(config.Build.RawCommand)
	if err != nil {
		return nil, fmt.Errorf("invalid [build] command: %w", err)
	}
	config.Build.Command = command

	applyEnvOverrides(config)

	return config, nil
}

// DiscoverConfigFiles returns the explicit paths, or the default file if it exists
func DiscoverConfigFiles(explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return []string{DefaultConfigFile}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if command := os.Getenv("FIXLIMIT_COMMAND"); command != "" {
		config.Build.Command = strings.Fields(command)
	}
	if target := os.Getenv("FIXLIMIT_TARGET"); target != "" {
		config.Build.Target = target
	}
	if dir := os.Getenv("FIXLIMIT_DIR"); dir != "" {
		config.Build.Dir = dir
	}
	if onMissing := os.Getenv("FIXLIMIT_ON_MISSING"); onMissing != "" {
		config.Build.OnMissing = onMissing
	}
	if maxAttempts := os.Getenv("FIXLIMIT_MAX_ATTEMPTS"); maxAttempts != "" {
		if n, err := strconv.Atoi(maxAttempts); err == nil {
			config.Build.MaxAttempts = n
		}
	}

	if level := os.Getenv("FIXLIMIT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FIXLIMIT_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if enabled := os.Getenv("FIXLIMIT_HISTORY_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.History.Enabled = b
		}
	}
	if path := os.Getenv("FIXLIMIT_HISTORY_PATH"); path != "" {
		config.History.Path = path
	}
}

// FlagOverrides holds command-line values that take precedence over config and env.
// Zero values leave the config untouched.
type FlagOverrides struct {
	Command     []string
	Target      string
	Dir         string
	OnMissing   string
	MaxAttempts *int // Set only when the flag was given, so 0 can restore the unbounded loop
	LogLevel    string
	History     bool
	Banner      bool
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority)
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	if len(flags.Command) > 0 {
		config.Build.Command = flags.Command
	}
	if flags.Target != "" {
		config.Build.Target = flags.Target
	}
	if flags.Dir != "" {
		config.Build.Dir = flags.Dir
	}
	if flags.OnMissing != "" {
		config.Build.OnMissing = flags.OnMissing
	}
	if flags.MaxAttempts != nil {
		config.Build.MaxAttempts = *flags.MaxAttempts
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}
	if flags.History {
		config.History.Enabled = true
	}
	if flags.Banner {
		config.Banner = true
	}
}

// ResolveStatePaths anchors relative history and log file paths at the build
// directory, so state lands in the crate rather than the caller's directory
func (c *Config) ResolveStatePaths() {
	if c.Build.Dir == "" {
		return
	}
	if c.History.Path != "" && !filepath.IsAbs(c.History.Path) {
		c.History.Path = filepath.Join(c.Build.Dir, c.History.Path)
	}
	if c.Logging.File != "" && !filepath.IsAbs(c.Logging.File) {
		c.Logging.File = filepath.Join(c.Build.Dir, c.Logging.File)
	}
}

// Validate checks values that cannot be corrected silently
func (c *Config) Validate() error {
	if len(c.Build.Command) == 0 {
		return fmt.Errorf("no build command: pass it as arguments or set [build] command")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
