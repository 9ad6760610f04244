package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigWithEnvOverride(t *testing.T) {
	withHome(t)

	cfg := DefaultConfig()
	cfg.IMAP.Host = "imap.example.com"
	cfg.IMAP.CommandTimeout = 45 * time.Second
	cfg.Auth.Username = "user@example.com"
	cfg.Auth.Password = "secret"
	cfg.Search.Mailboxes = []string{"INBOX", "Devis"}

	if _, err := Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	t.Setenv("MAILTHREAD_IMAP_HOST", "env.imap.local")
	t.Setenv("MAILTHREAD_SEARCH_LIMIT", "25")

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if loaded.IMAP.Host != "env.imap.local" {
		t.Fatalf("expected env override, got %q", loaded.IMAP.Host)
	}
	if loaded.Search.Limit != 25 {
		t.Fatalf("expected env limit, got %d", loaded.Search.Limit)
	}
	if loaded.IMAP.CommandTimeout != 45*time.Second {
		t.Fatalf("expected command timeout from file, got %v", loaded.IMAP.CommandTimeout)
	}
	if !reflect.DeepEqual(loaded.Search.Mailboxes, []string{"INBOX", "Devis"}) {
		t.Fatalf("expected mailboxes from file, got %v", loaded.Search.Mailboxes)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	withHome(t)

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := DefaultConfig()
	if loaded.IMAP.Port != def.IMAP.Port || loaded.IMAP.Mode != def.IMAP.Mode || !loaded.IMAP.HostFallback {
		t.Fatalf("unexpected imap defaults: %+v", loaded.IMAP)
	}
	if loaded.Search.FetchBatch != 50 || loaded.Search.Limit != 200 {
		t.Fatalf("unexpected search defaults: %+v", loaded.Search)
	}
}

func TestRedact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Password = "hunter2"
	if Redact(cfg).Auth.Password != "****" {
		t.Fatalf("expected password to be masked")
	}
	if cfg.Auth.Password != "hunter2" {
		t.Fatalf("redact must not modify its argument")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "imap.host") {
		t.Fatalf("expected missing host error, got %v", err)
	}

	cfg.IMAP.Host = "imap.example.com"
	cfg.Auth.Username = "user"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.IMAP.Mode = "carrier-pigeon"
	if err := ValidateIMAP(cfg); err == nil {
		t.Fatalf("expected invalid mode error")
	}

	cfg.IMAP.Mode = "starttls"
	cfg.Search.Limit = -1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected invalid limit error")
	}
}

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv(ConfigFileEnv, "")
	return home
}

func TestConfigPathResolution(t *testing.T) {
	home := withHome(t)

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if want := filepath.Join(home, ".config", AppName, "config.yaml"); path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if path, _ = ConfigPath(); path != filepath.Join(xdg, AppName, "config.yaml") {
		t.Fatalf("expected XDG_CONFIG_HOME to be honored, got %s", path)
	}

	t.Setenv("XDG_CONFIG_HOME", "relative/dir")
	if path, _ = ConfigPath(); path != filepath.Join(home, ".config", AppName, "config.yaml") {
		t.Fatalf("expected relative XDG_CONFIG_HOME to be ignored, got %s", path)
	}

	explicit := filepath.Join(t.TempDir(), "nested", "mt.yaml")
	t.Setenv(ConfigFileEnv, explicit)
	if path, _ = ConfigPath(); path != explicit {
		t.Fatalf("expected %s override, got %s", ConfigFileEnv, path)
	}
}

func TestSaveAndLoadExplicitConfigFile(t *testing.T) {
	withHome(t)
	explicit := filepath.Join(t.TempDir(), "nested", "mt.yaml")
	t.Setenv(ConfigFileEnv, explicit)

	cfg := DefaultConfig()
	cfg.IMAP.Host = "imap.dakar.sn"
	saved, err := Save(cfg)
	if err != nil {
		t.Fatalf("save config: %v", err)
	}
	if saved != explicit {
		t.Fatalf("expected save to %s, got %s", explicit, saved)
	}
	info, err := os.Stat(filepath.Dir(explicit))
	if err != nil || info.Mode().Perm() != 0o700 {
		t.Fatalf("expected private config dir, got %v %v", info, err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.IMAP.Host != "imap.dakar.sn" {
		t.Fatalf("expected host from explicit file, got %q", loaded.IMAP.Host)
	}
}
