package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultAPIKeyEnv is the environment variable holding the generation API key.
const DefaultAPIKeyEnv = "ESTATECHAT_API_KEY"

// fallbackAPIKeyEnvs are consulted when the configured variable is empty.
var fallbackAPIKeyEnvs = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// ErrMissingAPIKey is returned when no generation credential is present in the environment.
var ErrMissingAPIKey = errors.New("api key not found, please set up your environment variable correctly")

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Assistant   AssistantConfig           `json:"assistant"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Log         LogConfig                 `json:"log"`
}

type BasicConfig struct {
	ServerAddress        string   `json:"server_address"`
	Database             string   `json:"database"`
	FileBaseDir          string   `json:"file_base_dir"`
	MaxUploadMB          int      `json:"max_upload_mb"`
	UploadTTLMinutes     int      `json:"upload_ttl_minutes"`
	CleanIntervalMinutes int      `json:"clean_interval_minutes"`
	SessionTTLHours      int      `json:"session_ttl_hours"`
	CORSAllowedOrigins   []string `json:"cors_allowed_origins"`
	SecureCookies        bool     `json:"secure_cookies"`
}

type AssistantConfig struct {
	Provider          string `json:"provider"`
	Model             string `json:"model"`
	APIKeyEnv         string `json:"api_key_env"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	MaxConcurrent     int    `json:"max_concurrent"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleMinutes int    `json:"worker_idle_minutes"`
	WebSearch         bool   `json:"web_search"`
}

type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LogConfig struct {
	Level      string `json:"level"`
	FilePath   string `json:"file_path"`
	Production bool   `json:"production"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file yields the built-in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dbCfg := cfg.Databases[cfg.BasicConfig.Database]
	if isSQLite(cfg.BasicConfig.Database) && dbCfg.DSN != ":memory:" && !filepath.IsAbs(dbCfg.DSN) {
		dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
		cfg.Databases[cfg.BasicConfig.Database] = dbCfg
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if b.FileBaseDir == "" {
		b.FileBaseDir = "./data/uploads"
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 10
	}
	if b.UploadTTLMinutes <= 0 {
		b.UploadTTLMinutes = 24 * 60
	}
	if b.CleanIntervalMinutes <= 0 {
		b.CleanIntervalMinutes = 60
	}
	if b.SessionTTLHours <= 0 {
		b.SessionTTLHours = 24 * 7
	}

	a := &c.Assistant
	if a.Provider == "" {
		a.Provider = "gemini"
	}
	if a.APIKeyEnv == "" {
		a.APIKeyEnv = DefaultAPIKeyEnv
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = 60
	}
	if a.MaxConcurrent <= 0 {
		a.MaxConcurrent = 8
	}
	if a.QueueSize <= 0 {
		a.QueueSize = 16
	}
	if a.WorkerIdleMinutes <= 0 {
		a.WorkerIdleMinutes = 10
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if _, ok := c.Providers["gemini"]; !ok {
		c.Providers["gemini"] = ProviderConfig{Model: "gemini-2.0-flash"}
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/estatechat.db"}
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	if isSQLite(c.BasicConfig.Database) && c.Databases[c.BasicConfig.Database].DSN == "" {
		return errors.New("sqlite dsn must be configured")
	}
	if _, ok := c.Providers[c.Assistant.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", c.Assistant.Provider)
	}
	return nil
}

// Model returns the configured model name, falling back to the provider default.
func (c *Config) Model() string {
	if c.Assistant.Model != "" {
		return c.Assistant.Model
	}
	return c.Providers[c.Assistant.Provider].Model
}

// GenerationTimeout bounds one outbound generation call.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Assistant.TimeoutSeconds) * time.Second
}

// MaxUploadBytes is the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.BasicConfig.MaxUploadMB) << 20
}

// ResolveAPIKey reads the generation credential from the process environment.
func (c *Config) ResolveAPIKey() (string, error) {
	names := append([]string{c.Assistant.APIKeyEnv}, fallbackAPIKeyEnvs...)
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", ErrMissingAPIKey
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
