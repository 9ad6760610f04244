package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	IMAP           IMAPConfig   `mapstructure:"imap" yaml:"imap"`
	Auth           AuthConfig   `mapstructure:"auth" yaml:"auth"`
	Search         SearchConfig `mapstructure:"search" yaml:"search"`
	Log            LogConfig    `mapstructure:"log" yaml:"log"`
	KeyringBackend string       `mapstructure:"keyring_backend" yaml:"keyring_backend,omitempty"`
}

type IMAPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	// Port 0 picks 993 for tls and 143 otherwise.
	Port int `mapstructure:"port" yaml:"port"`
	// Mode is tls, starttls or plain.
	Mode               string `mapstructure:"mode" yaml:"mode"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	// HostFallback retries the TLS handshake against the parent domain and
	// its mail./webmail./smtp. hosts when the certificate does not match.
	HostFallback   bool          `mapstructure:"host_fallback" yaml:"host_fallback"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	MaxLiteralSize int           `mapstructure:"max_literal_size" yaml:"max_literal_size"`
}

type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

type SearchConfig struct {
	Mailboxes   []string `mapstructure:"mailboxes" yaml:"mailboxes"`
	Limit       int      `mapstructure:"limit" yaml:"limit"`
	FetchBatch  int      `mapstructure:"fetch_batch" yaml:"fetch_batch"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func DefaultConfig() Config {
	return Config{
		IMAP: IMAPConfig{
			Mode:           "tls",
			HostFallback:   true,
			DialTimeout:    30 * time.Second,
			CommandTimeout: 2 * time.Minute,
			MaxLiteralSize: 64 << 20,
		},
		Search: SearchConfig{
			Mailboxes:   []string{"INBOX"},
			Limit:       200,
			FetchBatch:  50,
			Concurrency: 4,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILTHREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if err := ensureParent(path); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	return masked
}

// setDefaults registers every key so AutomaticEnv can override values that
// are absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.mode", cfg.IMAP.Mode)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)
	v.SetDefault("imap.host_fallback", cfg.IMAP.HostFallback)
	v.SetDefault("imap.dial_timeout", cfg.IMAP.DialTimeout)
	v.SetDefault("imap.command_timeout", cfg.IMAP.CommandTimeout)
	v.SetDefault("imap.max_literal_size", cfg.IMAP.MaxLiteralSize)

	v.SetDefault("auth.username", cfg.Auth.Username)
	v.SetDefault("auth.password", cfg.Auth.Password)

	v.SetDefault("search.mailboxes", cfg.Search.Mailboxes)
	v.SetDefault("search.limit", cfg.Search.Limit)
	v.SetDefault("search.fetch_batch", cfg.Search.FetchBatch)
	v.SetDefault("search.concurrency", cfg.Search.Concurrency)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("keyring_backend", cfg.KeyringBackend)
}

func Validate(cfg Config) error {
	if err := ValidateIMAP(cfg); err != nil {
		return err
	}
	if err := ValidateSearch(cfg); err != nil {
		return err
	}
	return nil
}

// ValidateIMAP checks what is needed to open a session. The password may
// still come from the keyring, so it is checked separately by callers.
func ValidateIMAP(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if cfg.IMAP.Port < 0 || cfg.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port %d is out of range", cfg.IMAP.Port)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.IMAP.Mode)) {
	case "", "tls", "ssl", "imaps", "starttls", "plain", "none", "insecure":
	default:
		return fmt.Errorf("imap.mode %q is not one of tls, starttls, plain", cfg.IMAP.Mode)
	}
	if cfg.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	return nil
}

func ValidateSearch(cfg Config) error {
	if cfg.Search.Limit < 0 {
		return fmt.Errorf("search.limit must not be negative")
	}
	if cfg.Search.FetchBatch < 0 {
		return fmt.Errorf("search.fetch_batch must not be negative")
	}
	if cfg.Search.Concurrency < 0 {
		return fmt.Errorf("search.concurrency must not be negative")
	}
	return nil
}
