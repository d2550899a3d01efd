package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_LoginURL(t *testing.T) {
	cfg := Defaults()
	cfg.Salesforce.LoginURL = "login.salesforce.com"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for login URL without scheme")
	}

	cfg.Salesforce.LoginURL = "https://test.salesforce.com"
	if err := Validate(cfg); err != nil {
		t.Fatalf("sandbox login URL should be valid: %v", err)
	}
}

func TestValidate_AccountsLimit_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Salesforce.AccountsLimit = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("accountsLimit=1 should be valid: %v", err)
	}
	cfg.Salesforce.AccountsLimit = 200
	if err := Validate(cfg); err != nil {
		t.Fatalf("accountsLimit=200 should be valid: %v", err)
	}
	cfg.Salesforce.AccountsLimit = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for accountsLimit=0")
	}
}

func TestValidate_KeepaliveCron(t *testing.T) {
	cfg := Defaults()
	cfg.Salesforce.KeepaliveCron = "*/30 * * * *"
	if err := Validate(cfg); err != nil {
		t.Fatalf("valid cron should pass: %v", err)
	}

	cfg.Salesforce.KeepaliveCron = "every half hour"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestValidate_OAuthPairing(t *testing.T) {
	cfg := Defaults()
	cfg.Salesforce.ClientID = "client"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when clientSecret is missing")
	}
	cfg.Salesforce.ClientSecret = "secret"
	if err := Validate(cfg); err != nil {
		t.Fatalf("clientId+clientSecret should be valid: %v", err)
	}
}

func TestValidate_SessionBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Backend = "memcached"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	cfg.Session.Backend = "redis"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis backend without address")
	}

	cfg.Session.RedisAddr = "localhost:6379"
	if err := Validate(cfg); err != nil {
		t.Fatalf("redis backend with address should be valid: %v", err)
	}
}

func TestValidate_ReplyTemplate(t *testing.T) {
	cfg := Defaults()
	cfg.Line.ReplyTemplate = "%s and %s"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for template with two verbs")
	}
	cfg.Line.ReplyTemplate = "Received, thanks"
	if err := Validate(cfg); err != nil {
		t.Fatalf("template without verb should be valid: %v", err)
	}
}

func TestValidate_LogSettings(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}

	cfg = Defaults()
	cfg.Log.Format = "xml"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log format")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -5
	cfg.Delivery.DBPath = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	if !strings.Contains(err.Error(), "server.port") || !strings.Contains(err.Error(), "delivery.dbPath") {
		t.Errorf("expected both errors reported, got: %v", err)
	}
}

// --- Load ---

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Line.WebhookPath != "/webhook/line" {
		t.Errorf("expected default webhook path, got %q", cfg.Line.WebhookPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json", "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{invalid json"), 0o644)

	_, err := Load(path, "")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"server":{"port":8088},"salesforce":{"username":"ops@example.com","accountsLimit":25}}`
	os.WriteFile(path, []byte(data), 0o644)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("expected port 8088, got %d", cfg.Server.Port)
	}
	if cfg.Salesforce.AccountsLimit != 25 {
		t.Errorf("expected accountsLimit 25, got %d", cfg.Salesforce.AccountsLimit)
	}
	// Unset keys keep their defaults.
	if cfg.Salesforce.LoginURL != "https://login.salesforce.com" {
		t.Errorf("expected default login URL, got %q", cfg.Salesforce.LoginURL)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 9100
line:
  replyTemplate: "Got it (%s)"
session:
  backend: redis
  redisAddr: localhost:6379
`
	os.WriteFile(path, []byte(data), 0o644)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Line.ReplyTemplate != "Got it (%s)" {
		t.Errorf("unexpected reply template %q", cfg.Line.ReplyTemplate)
	}
	if cfg.Session.Backend != "redis" || cfg.Session.RedisAddr != "localhost:6379" {
		t.Errorf("unexpected session config %+v", cfg.Session)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"server":{"port":8088},"salesforce":{"username":"file@example.com"}}`), 0o644)

	t.Setenv("PORT", "4000")
	t.Setenv("SF_USERNAME", "env@example.com")
	t.Setenv("SF_PASSWORD", "pw")
	t.Setenv("SF_TOKEN", "tok")
	t.Setenv("LINE_CHANNEL_SECRET", "line-secret")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("expected PORT to win, got %d", cfg.Server.Port)
	}
	if cfg.Salesforce.Username != "env@example.com" {
		t.Errorf("expected env username, got %q", cfg.Salesforce.Username)
	}
	if cfg.Salesforce.SecurityToken != "tok" {
		t.Errorf("expected security token from env, got %q", cfg.Salesforce.SecurityToken)
	}
	if cfg.Line.ChannelSecret != "line-secret" {
		t.Errorf("expected channel secret from env, got %q", cfg.Line.ChannelSecret)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("LINE_CHANNEL_ACCESS_TOKEN=from-dotenv\n"), 0o644)
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "")
	os.Unsetenv("LINE_CHANNEL_ACCESS_TOKEN")

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Line.ChannelAccessToken != "from-dotenv" {
		t.Errorf("expected token from .env, got %q", cfg.Line.ChannelAccessToken)
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"session":{"backend":"redis"}}`), 0o644)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_LINERELAY_USER", "subst@example.com")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"salesforce":{"username":"${TEST_LINERELAY_USER}","apiVersion":"${TEST_LINERELAY_VER:-60.0}"}}`
	os.WriteFile(path, []byte(data), 0o644)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Salesforce.Username != "subst@example.com" {
		t.Errorf("expected substituted username, got %q", cfg.Salesforce.Username)
	}
	if cfg.Salesforce.APIVersion != "60.0" {
		t.Errorf("expected default api version 60.0, got %q", cfg.Salesforce.APIVersion)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	result := ExpandEnvVars("${LINERELAY_UNSET_VAR_XYZ:-fallback}")
	if result != "fallback" {
		t.Errorf("expected fallback, got %q", result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	input := "${LINERELAY_UNSET_VAR_XYZ}"
	if result := ExpandEnvVars(input); result != input {
		t.Errorf("expected %q unchanged, got %q", input, result)
	}
}

// --- Accessors ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()
	val, err := GetByPath(cfg, "line.webhookPath")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "/webhook/line" {
		t.Errorf("expected /webhook/line, got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(Defaults(), "line.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Salesforce.Password = "supersecretpassword"
	cfg.Salesforce.SecurityToken = "short"
	cfg.Line.ChannelSecret = "0123456789abcdef"

	s := Sanitize(cfg)
	if s.Salesforce.Password == cfg.Salesforce.Password {
		t.Error("password should be masked")
	}
	if s.Salesforce.SecurityToken != "***" {
		t.Errorf("short secret should be fully masked, got %q", s.Salesforce.SecurityToken)
	}
	if s.Line.ChannelSecret != "0123****cdef" {
		t.Errorf("unexpected mask %q", s.Line.ChannelSecret)
	}
	if cfg.Salesforce.Password != "supersecretpassword" {
		t.Error("original config must not be modified")
	}
}

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	cfg.Line.ChannelAccessToken = "abcdefghijklmnop"
	paths := ListPaths(cfg)

	if _, ok := paths["server.port"]; !ok {
		t.Error("expected server.port in paths")
	}
	if v := paths["line.channelAccessToken"]; v != "abcd****mnop" {
		t.Errorf("expected masked token, got %v", v)
	}
}

func TestLoad_NodeEnvFallback(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Environment != "production" {
		t.Errorf("expected NODE_ENV to be honored, got %q", cfg.Server.Environment)
	}
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	if got := Defaults().Server.CORSOrigins; len(got) != 1 || got[0] != "*" {
		t.Errorf("expected default [*], got %v", got)
	}

	t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[1] != "https://b.example.com" {
		t.Errorf("unexpected origins %v", got)
	}
}
