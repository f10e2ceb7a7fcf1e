package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/source"
)

const (
	SummarizerAnthropic = "anthropic"
	SummarizerGemini    = "gemini"

	PublisherEmail   = "email"
	PublisherStdout  = "stdout"
	PublisherDiscord = "discord"
)

type Config struct {
	// UpdateFrequency is the digest period in hours.
	UpdateFrequency float64 `yaml:"update_frequency"`
	// FreshnessDivisor splits the period into the freshness window: an account
	// with a summary newer than period/divisor is not processed again.
	FreshnessDivisor   float64          `yaml:"freshness_divisor"`
	MaxItemsPerAccount int              `yaml:"max_items_per_account"`
	FetchPause         time.Duration    `yaml:"fetch_pause"`
	RunOnStart         *bool            `yaml:"run_on_start"`
	Paths              PathsConfig      `yaml:"paths"`
	Source             SourceConfig     `yaml:"source"`
	Summarizer         SummarizerConfig `yaml:"summarizer"`
	Publisher          PublisherConfig  `yaml:"publisher"`
	Status             StatusConfig     `yaml:"status"`
	Log                logger.Config    `yaml:"log"`
}

type PathsConfig struct {
	Cookies        string `yaml:"cookies"`
	Store          string `yaml:"store"`
	Accounts       string `yaml:"accounts"`
	PromptTemplate string `yaml:"prompt_template"`
}

type SourceConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Email             string        `yaml:"email"`
	TwoFactorSecret   string        `yaml:"two_factor_secret"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	// ProfileURL is a printf pattern turning an account into a profile link.
	ProfileURL string `yaml:"profile_url"`
}

type SummarizerConfig struct {
	Type string `yaml:"type"`
	// BaseURL overrides the provider endpoint, e.g. for a gateway.
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
	// Temperature is nil when unset; 0 is a valid setting.
	Temperature *float64 `yaml:"temperature"`
}

// DefaultTemperature is used when summarizer.temperature is not set.
const DefaultTemperature = 0.7

// SamplingTemperature returns the configured temperature or DefaultTemperature.
func (s SummarizerConfig) SamplingTemperature() float64 {
	if s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

type PublisherConfig struct {
	Type    string        `yaml:"type"`
	Email   EmailConfig   `yaml:"email"`
	Discord DiscordConfig `yaml:"discord"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Subject  string   `yaml:"subject"`
}

// StatusConfig enables the HTTP status server when Addr is set.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Period is the digest period.
func (c *Config) Period() time.Duration {
	return time.Duration(c.UpdateFrequency * float64(time.Hour))
}

// FreshnessWindow is Period divided by FreshnessDivisor.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(float64(c.Period()) / c.FreshnessDivisor)
}

// ShouldRunOnStart reports whether a run happens at process start.
func (c *Config) ShouldRunOnStart() bool {
	return c.RunOnStart == nil || *c.RunOnStart
}

// Credentials returns the source login credentials.
func (c *Config) Credentials() source.Credentials {
	return source.Credentials{
		Identity:        c.Source.Username,
		Secret:          c.Source.Password,
		RecoveryEmail:   c.Source.Email,
		TwoFactorSecret: c.Source.TwoFactorSecret,
	}
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// godotenv never overrides variables that are already set, so earlier files win.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("config: load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.UpdateFrequency == 0 {
		cfg.UpdateFrequency = 24
	}
	if cfg.FreshnessDivisor == 0 {
		cfg.FreshnessDivisor = 4
	}
	if cfg.MaxItemsPerAccount == 0 {
		cfg.MaxItemsPerAccount = 10
	}
	if cfg.FetchPause == 0 {
		cfg.FetchPause = time.Second
	}
	if cfg.Paths.Cookies == "" {
		cfg.Paths.Cookies = "cookies.json"
	}
	if cfg.Paths.Store == "" {
		cfg.Paths.Store = "database/memory.json"
	}
	if cfg.Paths.Accounts == "" {
		cfg.Paths.Accounts = "data/accounts.txt"
	}
	if cfg.Paths.PromptTemplate == "" {
		cfg.Paths.PromptTemplate = "data/prompt_template.txt"
	}
	if cfg.Source.RequestsPerSecond == 0 {
		cfg.Source.RequestsPerSecond = 2
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 30 * time.Second
	}
	if cfg.Source.ProfileURL == "" {
		cfg.Source.ProfileURL = "https://x.com/%s"
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = SummarizerAnthropic
	}
	if cfg.Summarizer.Model == "" {
		switch cfg.Summarizer.Type {
		case SummarizerGemini:
			cfg.Summarizer.Model = "gemini-2.5-flash"
		default:
			cfg.Summarizer.Model = "claude-sonnet-4-20250514"
		}
	}
	if cfg.Summarizer.MaxTokens == 0 {
		cfg.Summarizer.MaxTokens = 4096
	}
	if cfg.Publisher.Type == "" {
		cfg.Publisher.Type = PublisherEmail
	}
	if cfg.Publisher.Email.SMTPPort == 0 {
		cfg.Publisher.Email.SMTPPort = 587
	}
	if cfg.Publisher.Email.Subject == "" {
		cfg.Publisher.Email.Subject = "Social Digest Summary"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = logger.FormatConsole
	}
}

func validate(cfg *Config) error {
	if !(cfg.UpdateFrequency > 0) || math.IsInf(cfg.UpdateFrequency, 0) {
		return fmt.Errorf("config: update_frequency must be positive, got %v", cfg.UpdateFrequency)
	}
	if !(cfg.FreshnessDivisor >= 1) || math.IsInf(cfg.FreshnessDivisor, 0) {
		return fmt.Errorf("config: freshness_divisor must be at least 1, got %v", cfg.FreshnessDivisor)
	}
	if cfg.MaxItemsPerAccount < 1 || cfg.MaxItemsPerAccount >= source.MaxItemsCap {
		return fmt.Errorf("config: max_items_per_account must be between 1 and %d, got %d", source.MaxItemsCap-1, cfg.MaxItemsPerAccount)
	}
	if cfg.Source.BaseURL == "" {
		return fmt.Errorf("config: source.base_url is required")
	}
	if cfg.Source.Username == "" || cfg.Source.Password == "" {
		return fmt.Errorf("config: source.username and source.password are required (set SOURCE_USERNAME and SOURCE_PASSWORD env vars)")
	}
	switch cfg.Summarizer.Type {
	case SummarizerAnthropic, SummarizerGemini:
	default:
		return fmt.Errorf("config: unsupported summarizer type %q (supported: anthropic, gemini)", cfg.Summarizer.Type)
	}
	if cfg.Summarizer.APIKey == "" {
		return fmt.Errorf("config: summarizer.api_key is required (set ANTHROPIC_API_KEY or GOOGLE_API_KEY env var)")
	}
	switch cfg.Publisher.Type {
	case PublisherEmail, PublisherStdout, PublisherDiscord:
	default:
		return fmt.Errorf("config: unsupported publisher type %q (supported: email, stdout, discord)", cfg.Publisher.Type)
	}
	if cfg.Publisher.Type == PublisherDiscord && cfg.Publisher.Discord.WebhookURL == "" {
		return fmt.Errorf("config: publisher.discord.webhook_url is required for discord publisher")
	}
	if cfg.Publisher.Type == PublisherEmail {
		if cfg.Publisher.Email.SMTPHost == "" {
			return fmt.Errorf("config: publisher.email.smtp_host is required for email publisher")
		}
		if len(cfg.Publisher.Email.To) == 0 {
			return fmt.Errorf("config: publisher.email.to is required for email publisher")
		}
		if cfg.Publisher.Email.From == "" {
			return fmt.Errorf("config: publisher.email.from is required for email publisher")
		}
	}
	return nil
}

// Load reads .env files and the config file, expands environment variables,
// applies defaults, and validates the configuration.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
