package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models intakeline.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Generation Generation `yaml:"generation"`
	Mail       Mail       `yaml:"mail"`
	Server     struct {
		Addr             string `yaml:"addr"`
		BasePath         string `yaml:"base_path"`
		JWTSecretEnv     string `yaml:"jwt_secret_env"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"server"`
}

type Generation struct {
	BaseURL               string  `yaml:"base_url"`
	APIKeyEnv             string  `yaml:"api_key_env"`
	Model                 string  `yaml:"model"`
	MaxTokens             int     `yaml:"max_tokens"`
	Temperature           float64 `yaml:"temperature"`
	AttemptTimeoutSeconds int     `yaml:"attempt_timeout_seconds"`
	BackoffInitialMS      int     `yaml:"backoff_initial_ms"`
	BackoffMaxMS          int     `yaml:"backoff_max_ms"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
	LeaseSeconds          int     `yaml:"lease_seconds"`
}

type Mail struct {
	SendURL         string `yaml:"send_url"`
	AuthURL         string `yaml:"auth_url"`
	TokenURL        string `yaml:"token_url"`
	ClientID        string `yaml:"client_id"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	RefreshTokenEnv string `yaml:"refresh_token_env"`
	Sender          string `yaml:"sender"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// AttemptTimeout bounds a single generation attempt.
func (g Generation) AttemptTimeout() time.Duration {
	return time.Duration(g.AttemptTimeoutSeconds) * time.Second
}

// generationSpan is the longest one generation call can run: three attempts and the two waits
// between them.
func (g Generation) generationSpan() time.Duration {
	return 3*g.AttemptTimeout() + 2*time.Duration(g.BackoffMaxMS)*time.Millisecond
}

// LeaseTTL covers every attempt of one generation call plus the waits between them.
func (g Generation) LeaseTTL() time.Duration {
	if g.LeaseSeconds > 0 {
		return time.Duration(g.LeaseSeconds) * time.Second
	}
	return g.generationSpan() + 30*time.Second
}

// APIKey resolves the generation API key from the configured environment variable.
func (g Generation) APIKey() string {
	return strings.TrimSpace(os.Getenv(g.APIKeyEnv))
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be 'sqlite' or 'postgres'")
	}
	g := c.Generation
	if strings.TrimSpace(g.Model) == "" {
		return fmt.Errorf("config.generation.model is required")
	}
	if g.MaxTokens <= 0 {
		return fmt.Errorf("config.generation.max_tokens must be positive")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("config.generation.temperature must be within [0,2]")
	}
	if g.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("config.generation.attempt_timeout_seconds must be positive")
	}
	if g.BackoffInitialMS < 0 || g.BackoffMaxMS < g.BackoffInitialMS {
		return fmt.Errorf("config.generation backoff bounds invalid")
	}
	if g.LeaseSeconds < 0 {
		return fmt.Errorf("config.generation.lease_seconds must not be negative")
	}
	if g.LeaseSeconds > 0 && g.LeaseTTL() < g.generationSpan() {
		return fmt.Errorf("config.generation.lease_seconds must cover three attempts and their backoff (at least %s)", g.generationSpan())
	}
	if g.RequestsPerSecond < 0 {
		return fmt.Errorf("config.generation.requests_per_second must not be negative")
	}
	if c.Mail.TimeoutSeconds < 0 {
		return fmt.Errorf("config.mail.timeout_seconds must not be negative")
	}
	if c.Mail.Sender != "" && !strings.Contains(c.Mail.Sender, "@") {
		return fmt.Errorf("config.mail.sender must be an email address")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "intakeline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with intakeline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""

generation:
  base_url: https://api.openai.com
  api_key_env: OPENAI_API_KEY
  model: gpt-4o-mini
  max_tokens: 4000
  temperature: 0.4
  attempt_timeout_seconds: 60
  backoff_initial_ms: 500
  backoff_max_ms: 4000
  requests_per_second: 2
  lease_seconds: 0

mail:
  send_url: https://gmail.googleapis.com/gmail/v1/users/me/messages/send
  auth_url: https://accounts.google.com/o/oauth2/auth
  token_url: https://oauth2.googleapis.com/token
  client_id: ""
  client_secret_env: INTAKELINE_MAIL_CLIENT_SECRET
  refresh_token_env: INTAKELINE_MAIL_REFRESH_TOKEN
  sender: ""
  timeout_seconds: 15

server:
  addr: ":8080"
  base_path: /v0
  jwt_secret_env: INTAKELINE_JWT_SECRET
  allow_actor_header: false
`
