package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "workorders.yml"

// Config models workorders.yml.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Sequence      SequenceConfig      `yaml:"sequence"`
	Storage       StorageConfig       `yaml:"storage"`
	Push          PushConfig          `yaml:"push"`
	Email         EmailConfig         `yaml:"email"`
	Authorization map[string][]string `yaml:"authorization"`
	Webhooks      []WebhookConfig     `yaml:"webhooks"`
	Log           LogConfig           `yaml:"log"`
	Notify        NotifyConfig        `yaml:"notify"`
	Costs         CostsConfig         `yaml:"costs"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	BasePath        string `yaml:"base_path"`
	JWTSecret       string `yaml:"jwt_secret"`
	AllowDevHeaders bool   `yaml:"allow_dev_headers"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SequenceConfig selects where order numbers are allocated: "sqlite" or "redis".
type SequenceConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

type StorageConfig struct {
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	MaxBytes      int64  `yaml:"max_bytes"`
}

// PushConfig leaves a provider unconfigured when its credentials are empty.
type PushConfig struct {
	FCM  FCMConfig  `yaml:"fcm"`
	APNs APNsConfig `yaml:"apns"`
}

type FCMConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type APNsConfig struct {
	KeyFile    string `yaml:"key_file"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// WebhookConfig is one relay target. With OrgID set it receives that org's events
// only; without it the hook is operator-level and sees every org.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	OrgID          string   `yaml:"org_id"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type NotifyConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type CostsConfig struct {
	DefaultCurrency string `yaml:"default_currency"`
}

func (c APNsConfig) Configured() bool { return c.KeyFile != "" }
func (c FCMConfig) Configured() bool  { return c.CredentialsFile != "" }
func (c EmailConfig) Configured() bool {
	return c.SMTPHost != ""
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/workorders.db"
	}
	if c.Sequence.Backend == "" {
		c.Sequence.Backend = "sqlite"
	}
	if c.Sequence.KeyPrefix == "" {
		c.Sequence.KeyPrefix = "wo:seq"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/files"
	}
	if c.Storage.MaxBytes == 0 {
		c.Storage.MaxBytes = 5 << 20
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Notify.TimeoutSeconds == 0 {
		c.Notify.TimeoutSeconds = 15
	}
	if c.Costs.DefaultCurrency == "" {
		c.Costs.DefaultCurrency = "USD"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Sequence.Backend {
	case "sqlite":
	case "redis":
		if c.Sequence.RedisAddr == "" {
			return fmt.Errorf("config.sequence.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.sequence.backend must be sqlite or redis, got %q", c.Sequence.Backend)
	}
	if c.Storage.MaxBytes < 0 {
		return fmt.Errorf("config.storage.max_bytes must be positive")
	}
	if a := c.Push.APNs; a.Configured() && (a.KeyID == "" || a.TeamID == "" || a.Topic == "") {
		return fmt.Errorf("config.push.apns requires key_id, team_id and topic with key_file")
	}
	if c.Email.Configured() && c.Email.From == "" {
		return fmt.Errorf("config.email.from is required with smtp_host")
	}
	if len(c.Costs.DefaultCurrency) != 3 {
		return fmt.Errorf("config.costs.default_currency must be a 3-letter code")
	}
	for action, roles := range c.Authorization {
		if strings.TrimSpace(action) == "" {
			return fmt.Errorf("config.authorization has empty action")
		}
		for _, r := range roles {
			if strings.TrimSpace(r) == "" {
				return fmt.Errorf("config.authorization.%s has empty role", action)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// FromYAML parses, defaults and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path when it exists, applies overrides set in v and validates the
// result. A missing file yields the defaults.
func Load(path string, v *viper.Viper) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	if v != nil {
		cfg.applyOverrides(v)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies keys set in v (flags or WO_* environment) over file values.
func (c *Config) applyOverrides(v *viper.Viper) {
	str := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	str("server.addr", &c.Server.Addr)
	str("server.base_path", &c.Server.BasePath)
	str("server.jwt_secret", &c.Server.JWTSecret)
	str("database.path", &c.Database.Path)
	str("sequence.backend", &c.Sequence.Backend)
	str("sequence.redis_addr", &c.Sequence.RedisAddr)
	str("storage.dir", &c.Storage.Dir)
	str("storage.public_base_url", &c.Storage.PublicBaseURL)
	str("push.fcm.credentials_file", &c.Push.FCM.CredentialsFile)
	str("push.apns.key_file", &c.Push.APNs.KeyFile)
	str("email.smtp_host", &c.Email.SMTPHost)
	str("email.username", &c.Email.Username)
	str("email.password", &c.Email.Password)
	str("email.from", &c.Email.From)
	str("log.level", &c.Log.Level)
	if v.IsSet("server.allow_dev_headers") {
		c.Server.AllowDevHeaders = v.GetBool("server.allow_dev_headers")
	}
	if n := v.GetInt("email.smtp_port"); n > 0 {
		c.Email.SMTPPort = n
	}
}
