package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LLM provider identifiers
const (
	LLMProviderClaude = "claude"
	LLMProviderGemini = "gemini"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Credentials CredentialsConfig `toml:"credentials"`
	Search      SearchConfig      `toml:"search"`
	Fleet       FleetConfig       `toml:"fleet"`
	Pacing      PacingConfig      `toml:"pacing"`
	Storage     StorageConfig     `toml:"storage"`
	LLM         LLMConfig         `toml:"llm"`
	Logging     LoggingConfig     `toml:"logging"`
}

// CredentialsConfig holds the login credentials for the target service
type CredentialsConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// SearchConfig defines what to collect and where to put the snapshot
type SearchConfig struct {
	Keywords     []string `toml:"keywords"`      // Query terms; crossed with locations to form session targets
	Locations    []string `toml:"locations"`     // Location terms
	MaxRecords   int      `toml:"max_records"`   // Global cap on distinct records in the store
	SnapshotPath string   `toml:"snapshot_path"` // JSON checkpoint file rewritten after each insert batch
	LoginURL     string   `toml:"login_url"`
	SearchURL    string   `toml:"search_url"`
}

// FleetConfig controls session fan-out and browser mode
type FleetConfig struct {
	Concurrency   int    `toml:"concurrency"`    // Number of concurrent sessions (browser instances)
	Headless      bool   `toml:"headless"`       // Run browsers headless
	VerifyTimeout string `toml:"verify_timeout"` // e.g. "60s" - how long to wait for post-login verification
	DumpDir       string `toml:"dump_dir"`       // Directory for page-source dumps on extraction timeout
}

// PacingConfig models the humanized delay policy.
// Delays are sampled uniformly from [min, max].
type PacingConfig struct {
	Disabled          bool   `toml:"disabled"`           // Disable all pacing (tests, dry runs)
	ThinkMin          string `toml:"think_min"`          // Inter-action delay lower bound, e.g. "5s"
	ThinkMax          string `toml:"think_max"`          // Inter-action delay upper bound, e.g. "10s"
	KeystrokeMin      string `toml:"keystroke_min"`      // Per-character typing delay lower bound, e.g. "100ms"
	KeystrokeMax      string `toml:"keystroke_max"`      // Per-character typing delay upper bound, e.g. "300ms"
	SlowdownThreshold int    `toml:"slowdown_threshold"` // Record count past which think delays are scaled up
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// LLMConfig configures the advisory decision service
type LLMConfig struct {
	Provider        string  `toml:"provider"`          // "claude" or "gemini"
	AnthropicAPIKey string  `toml:"anthropic_api_key"` // Used when provider = "claude"
	GoogleAPIKey    string  `toml:"google_api_key"`    // Used when provider = "gemini"
	Model           string  `toml:"model"`             // Provider model name (defaulted per provider)
	MaxTokens       int     `toml:"max_tokens"`
	Temperature     float32 `toml:"temperature"`
	Timeout         string  `toml:"timeout"`    // Per-call timeout, e.g. "30s"
	RateLimit       string  `toml:"rate_limit"` // Minimum interval between oracle calls, e.g. "1s"
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns a config populated with defaults.
// Priority system: CLI flags > Environment variables > Config file > Defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Search: SearchConfig{
			MaxRecords:   200,
			SnapshotPath: "profiles.json",
			LoginURL:     "https://www.linkedin.com/login",
			SearchURL:    "https://www.linkedin.com/search/results/people/",
		},
		Fleet: FleetConfig{
			Concurrency:   2,
			Headless:      false,
			VerifyTimeout: "60s",
			DumpDir:       ".",
		},
		Pacing: PacingConfig{
			ThinkMin:          "5s",
			ThinkMax:          "10s",
			KeystrokeMin:      "100ms",
			KeystrokeMax:      "300ms",
			SlowdownThreshold: 100,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/talentscout",
			},
		},
		LLM: LLMConfig{
			Provider:    LLMProviderClaude,
			MaxTokens:   1024,
			Temperature: 0.5,
			Timeout:     "30s",
			RateLimit:   "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
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

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TALENTSCOUT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Credentials
	if email := os.Getenv("TALENTSCOUT_EMAIL"); email != "" {
		config.Credentials.Email = email
	}
	if password := os.Getenv("TALENTSCOUT_PASSWORD"); password != "" {
		config.Credentials.Password = password
	}

	// Search configuration
	if max := os.Getenv("TALENTSCOUT_MAX_RECORDS"); max != "" {
		if m, err := strconv.Atoi(max); err == nil {
			config.Search.MaxRecords = m
		}
	}
	if path := os.Getenv("TALENTSCOUT_SNAPSHOT_PATH"); path != "" {
		config.Search.SnapshotPath = path
	}

	// Fleet configuration
	if concurrency := os.Getenv("TALENTSCOUT_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Fleet.Concurrency = c
		}
	}
	if headless := os.Getenv("TALENTSCOUT_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Fleet.Headless = h
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("TALENTSCOUT_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// LLM configuration
	if provider := os.Getenv("TALENTSCOUT_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.LLM.AnthropicAPIKey = key
	}
	if key := os.Getenv("TALENTSCOUT_ANTHROPIC_API_KEY"); key != "" {
		config.LLM.AnthropicAPIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		config.LLM.GoogleAPIKey = key
	}
	if key := os.Getenv("TALENTSCOUT_GOOGLE_API_KEY"); key != "" {
		config.LLM.GoogleAPIKey = key
	}

	// Logging configuration
	if level := os.Getenv("TALENTSCOUT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("TALENTSCOUT_LOG_OUTPUT"); output != "" {
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
}

// Validate checks that required settings are present and well formed
func (c *Config) Validate() error {
	if c.Credentials.Email == "" || c.Credentials.Password == "" {
		return fmt.Errorf("credentials.email and credentials.password are required (set TALENTSCOUT_EMAIL / TALENTSCOUT_PASSWORD or config file)")
	}
	if len(c.Search.Keywords) == 0 {
		return fmt.Errorf("search.keywords must contain at least one term")
	}
	if len(c.Search.Locations) == 0 {
		return fmt.Errorf("search.locations must contain at least one term")
	}
	if c.Search.MaxRecords <= 0 {
		return fmt.Errorf("search.max_records must be greater than 0, got: %d", c.Search.MaxRecords)
	}
	if c.Search.SnapshotPath == "" {
		return fmt.Errorf("search.snapshot_path is required")
	}
	if c.Fleet.Concurrency <= 0 {
		return fmt.Errorf("fleet.concurrency must be greater than 0, got: %d", c.Fleet.Concurrency)
	}
	if _, err := time.ParseDuration(c.Fleet.VerifyTimeout); err != nil {
		return fmt.Errorf("invalid fleet.verify_timeout '%s': %w", c.Fleet.VerifyTimeout, err)
	}

	switch c.LLM.Provider {
	case LLMProviderClaude:
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("llm.anthropic_api_key is required for provider 'claude' (or set ANTHROPIC_API_KEY)")
		}
	case LLMProviderGemini:
		if c.LLM.GoogleAPIKey == "" {
			return fmt.Errorf("llm.google_api_key is required for provider 'gemini' (or set GOOGLE_API_KEY)")
		}
	default:
		return fmt.Errorf("invalid llm.provider '%s': must be 'claude' or 'gemini'", c.LLM.Provider)
	}

	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid llm.timeout '%s': %w", c.LLM.Timeout, err)
	}
	if _, err := time.ParseDuration(c.LLM.RateLimit); err != nil {
		return fmt.Errorf("invalid llm.rate_limit '%s': %w", c.LLM.RateLimit, err)
	}

	for _, d := range []struct{ name, value string }{
		{"pacing.think_min", c.Pacing.ThinkMin},
		{"pacing.think_max", c.Pacing.ThinkMax},
		{"pacing.keystroke_min", c.Pacing.KeystrokeMin},
		{"pacing.keystroke_max", c.Pacing.KeystrokeMax},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, d.value, err)
		}
	}

	return nil
}

// VerifyTimeoutDuration returns the parsed post-login verification timeout
func (c *FleetConfig) VerifyTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.VerifyTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
