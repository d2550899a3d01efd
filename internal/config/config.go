package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for linerelay.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Salesforce SalesforceConfig `json:"salesforce" yaml:"salesforce"`
	Line       LineConfig       `json:"line" yaml:"line"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Delivery   DeliveryConfig   `json:"delivery" yaml:"delivery"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Host        string `json:"host" yaml:"host" env:"HOST"`
	Port        int    `json:"port" yaml:"port" env:"PORT"`
	Environment string `json:"environment" yaml:"environment" env:"APP_ENV"`
	// ShutdownTimeoutSeconds bounds the wait for in-flight deliveries on shutdown.
	ShutdownTimeoutSeconds int `json:"shutdownTimeoutSeconds" yaml:"shutdownTimeoutSeconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
	// CORSOrigins lists the origins allowed to call the HTTP API; "*" allows any.
	CORSOrigins []string `json:"corsOrigins" yaml:"corsOrigins" env:"CORS_ORIGINS" envSeparator:","`
}

type SalesforceConfig struct {
	Username      string `json:"username" yaml:"username" env:"SF_USERNAME"`
	Password      string `json:"password,omitempty" yaml:"password,omitempty" env:"SF_PASSWORD"`
	SecurityToken string `json:"securityToken,omitempty" yaml:"securityToken,omitempty" env:"SF_TOKEN"`
	LoginURL      string `json:"loginUrl" yaml:"loginUrl" env:"SF_LOGIN_URL"`
	APIVersion    string `json:"apiVersion" yaml:"apiVersion" env:"SF_API_VERSION"`

	// OAuth2 username-password flow is used instead of SOAP login when both are set.
	ClientID     string `json:"clientId,omitempty" yaml:"clientId,omitempty" env:"SF_CLIENT_ID"`
	ClientSecret string `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty" env:"SF_CLIENT_SECRET"`

	ContactLineField     string  `json:"contactLineField" yaml:"contactLineField" env:"SF_CONTACT_LINE_FIELD"`
	AccountsLimit        int     `json:"accountsLimit" yaml:"accountsLimit" env:"SF_ACCOUNTS_LIMIT"`
	RateLimitPerSec      float64 `json:"rateLimitPerSec" yaml:"rateLimitPerSec" env:"SF_RATE_LIMIT_PER_SEC"` // 0 = unlimited
	ClientTimeoutSeconds int     `json:"clientTimeoutSeconds" yaml:"clientTimeoutSeconds" env:"SF_CLIENT_TIMEOUT_SECONDS"`
	KeepaliveCron        string  `json:"keepaliveCron,omitempty" yaml:"keepaliveCron,omitempty" env:"SF_KEEPALIVE_CRON"` // empty = disabled
	ConnectOnStart       bool    `json:"connectOnStart" yaml:"connectOnStart" env:"SF_CONNECT_ON_START"`
}

// HasCredentials reports whether username and password are configured.
func (c SalesforceConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// UsesOAuth2 reports whether the OAuth2 password flow should be used.
func (c SalesforceConfig) UsesOAuth2() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type LineConfig struct {
	ChannelSecret      string `json:"channelSecret,omitempty" yaml:"channelSecret,omitempty" env:"LINE_CHANNEL_SECRET"`
	ChannelAccessToken string `json:"channelAccessToken,omitempty" yaml:"channelAccessToken,omitempty" env:"LINE_CHANNEL_ACCESS_TOKEN"`
	WebhookPath        string `json:"webhookPath" yaml:"webhookPath" env:"LINE_WEBHOOK_PATH"`
	ReplyEndpoint      string `json:"replyEndpoint" yaml:"replyEndpoint" env:"LINE_REPLY_ENDPOINT"`
	ReplyEnabled       bool   `json:"replyEnabled" yaml:"replyEnabled" env:"LINE_REPLY_ENABLED"`
	ReplyTemplate      string `json:"replyTemplate" yaml:"replyTemplate" env:"LINE_REPLY_TEMPLATE"`
}

type SessionConfig struct {
	Backend       string `json:"backend" yaml:"backend" env:"SESSION_BACKEND"` // "memory" | "redis"
	RedisAddr     string `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty" env:"REDIS_ADDR"`
	RedisPassword string `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb" env:"REDIS_DB"`
	KeyPrefix     string `json:"keyPrefix" yaml:"keyPrefix" env:"SESSION_KEY_PREFIX"`
	TTLMinutes    int    `json:"ttlMinutes" yaml:"ttlMinutes" env:"SESSION_TTL_MINUTES"`
}

type DeliveryConfig struct {
	DBPath           string `json:"dbPath" yaml:"dbPath" env:"DELIVERY_DB_PATH"` // ":memory:" keeps the log in-process
	RetentionMinutes int    `json:"retentionMinutes" yaml:"retentionMinutes" env:"DELIVERY_RETENTION_MINUTES"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"` // "text" | "json"
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `json:"path" yaml:"path" env:"METRICS_PATH"`
}

// Load builds the configuration from defaults, an optional JSON or YAML file,
// an optional .env file and finally the process environment.
func Load(path, envFile string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
		expanded := []byte(ExpandEnvVars(string(data)))

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(expanded, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(expanded, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cannot load env file %s: %w", envFile, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot parse environment: %w", err)
	}
	if os.Getenv("APP_ENV") == "" {
		if v := os.Getenv("NODE_ENV"); v != "" {
			cfg.Server.Environment = v
		}
	}

	cfg.Delivery.DBPath = expandPath(cfg.Delivery.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, "server.shutdownTimeoutSeconds must be >= 1")
	}

	if cfg.Salesforce.LoginURL == "" {
		errs = append(errs, "salesforce.loginUrl is required")
	} else if !strings.HasPrefix(cfg.Salesforce.LoginURL, "http://") && !strings.HasPrefix(cfg.Salesforce.LoginURL, "https://") {
		errs = append(errs, "salesforce.loginUrl must be an http(s) URL")
	}
	if cfg.Salesforce.APIVersion == "" {
		errs = append(errs, "salesforce.apiVersion is required")
	}
	if cfg.Salesforce.ContactLineField == "" {
		errs = append(errs, "salesforce.contactLineField is required")
	}
	if cfg.Salesforce.AccountsLimit < 1 || cfg.Salesforce.AccountsLimit > 200 {
		errs = append(errs, "salesforce.accountsLimit must be between 1 and 200")
	}
	if cfg.Salesforce.RateLimitPerSec < 0 {
		errs = append(errs, "salesforce.rateLimitPerSec must be >= 0")
	}
	if cfg.Salesforce.ClientTimeoutSeconds < 1 {
		errs = append(errs, "salesforce.clientTimeoutSeconds must be >= 1")
	}
	if expr := cfg.Salesforce.KeepaliveCron; expr != "" && !gronx.New().IsValid(expr) {
		errs = append(errs, fmt.Sprintf("salesforce.keepaliveCron is not a valid cron expression: %q", expr))
	}
	if (cfg.Salesforce.ClientID == "") != (cfg.Salesforce.ClientSecret == "") {
		errs = append(errs, "salesforce.clientId and salesforce.clientSecret must be set together")
	}

	if cfg.Line.WebhookPath == "" || !strings.HasPrefix(cfg.Line.WebhookPath, "/") {
		errs = append(errs, "line.webhookPath must start with /")
	}
	if cfg.Line.ReplyEndpoint == "" {
		errs = append(errs, "line.replyEndpoint is required")
	}
	if strings.Count(cfg.Line.ReplyTemplate, "%s") > 1 {
		errs = append(errs, "line.replyTemplate may contain at most one %s")
	}

	switch cfg.Session.Backend {
	case "memory":
	case "redis":
		if cfg.Session.RedisAddr == "" {
			errs = append(errs, "session.redisAddr is required for the redis backend")
		}
	default:
		errs = append(errs, "session.backend must be one of: memory, redis")
	}
	if cfg.Session.TTLMinutes < 1 {
		errs = append(errs, "session.ttlMinutes must be >= 1")
	}

	if cfg.Delivery.DBPath == "" {
		errs = append(errs, "delivery.dbPath is required (use :memory: for an in-process log)")
	}
	if cfg.Delivery.RetentionMinutes < 1 {
		errs = append(errs, "delivery.retentionMinutes must be >= 1")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func expandPath(path string) string {
	if path == ":memory:" {
		return path
	}
	return ExpandPath(path)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
