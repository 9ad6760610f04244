// Package secrets keeps IMAP passwords in the OS keyring.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"mailthread/internal/config"
)

const (
	keyringPasswordEnv = "MAILTHREAD_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "MAILTHREAD_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential
	passwordEnv        = "MAILTHREAD_AUTH_PASSWORD"    //nolint:gosec // env var name, not a credential
)

const (
	backendAuto     = "auto"
	backendKeychain = "keychain"
	backendFile     = "file"
)

// keyringOpenTimeout bounds keyring.Open. On headless Linux the D-Bus
// SecretService can hang when gnome-keyring is installed but not running.
const keyringOpenTimeout = 5 * time.Second

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingUsername       = errors.New("missing username")
	errMissingPassword       = errors.New("missing password")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")

	// openKeyringFunc is replaced in tests.
	openKeyringFunc = openKeyring
	keyringOpenFunc = keyring.Open
)

// Backend names the keyring backend in use and where the choice came from.
type Backend struct {
	Name   string
	Source string
}

// ResolveBackend picks the backend from MAILTHREAD_KEYRING_BACKEND, then the
// config file's keyring_backend, then auto.
func ResolveBackend(cfg config.Config) Backend {
	if v := normalize(os.Getenv(keyringBackendEnv)); v != "" {
		return Backend{Name: v, Source: "env"}
	}
	if v := normalize(cfg.KeyringBackend); v != "" {
		return Backend{Name: v, Source: "config"}
	}
	return Backend{Name: backendAuto, Source: "default"}
}

func allowedBackends(b Backend) ([]keyring.BackendType, error) {
	switch b.Name {
	case "", backendAuto:
		return nil, nil
	case backendKeychain:
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case backendFile:
		return []keyring.BackendType{keyring.FileBackend}, nil
	}
	return nil, fmt.Errorf("%w: %q (expected %s, %s or %s)", errInvalidKeyringBackend, b.Name, backendAuto, backendKeychain, backendFile)
}

func filePrompt(password string, passwordSet, isTTY bool) keyring.PromptFunc {
	// An empty passphrase set on purpose is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}
	if isTTY {
		return keyring.TerminalPrompt
	}
	return func(string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func forceFileBackend(goos string, b Backend, dbusAddr string) bool {
	return goos == "linux" && b.Name == backendAuto && dbusAddr == ""
}

func needsOpenTimeout(goos string, b Backend, dbusAddr string) bool {
	return goos == "linux" && b.Name == backendAuto && dbusAddr != ""
}

// keyringDir is where the file backend keeps its encrypted entries, next to
// the config file.
func keyringDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "keyring")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure keyring dir: %w", err)
	}
	return dir, nil
}

func openKeyring(cfg config.Config) (keyring.Keyring, error) {
	dir, err := keyringDir()
	if err != nil {
		return nil, err
	}

	backend := ResolveBackend(cfg)
	backends, err := allowedBackends(backend)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if forceFileBackend(runtime.GOOS, backend, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	passphrase, passphraseSet := os.LookupEnv(keyringPasswordEnv)
	kcfg := keyring.Config{
		ServiceName:      config.AppName,
		AllowedBackends:  backends,
		FileDir:          dir,
		FilePasswordFunc: filePrompt(passphrase, passphraseSet, term.IsTerminal(int(os.Stdin.Fd()))),
	}

	if needsOpenTimeout(runtime.GOOS, backend, dbusAddr) {
		return openWithTimeout(kcfg, keyringOpenTimeout)
	}
	ring, err := keyringOpenFunc(kcfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

func openWithTimeout(kcfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	type result struct {
		ring keyring.Keyring
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		ring, err := keyringOpenFunc(kcfg)
		ch <- result{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v; set %s=file and %s to use encrypted file storage",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

// SetPassword stores the IMAP password for username.
func SetPassword(cfg config.Config, username, password string) error {
	user := normalize(username)
	if user == "" {
		return errMissingUsername
	}
	if password == "" {
		return errMissingPassword
	}

	ring, err := openKeyringFunc(cfg)
	if err != nil {
		return err
	}
	item := keyring.Item{Key: passwordKey(user), Data: []byte(password), Label: config.AppName}
	if err := ring.Set(item); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	return nil
}

// GetPassword reads the IMAP password for username. ErrSecretNotFound means
// nothing was stored.
func GetPassword(cfg config.Config, username string) (string, error) {
	user := normalize(username)
	if user == "" {
		return "", errMissingUsername
	}

	ring, err := openKeyringFunc(cfg)
	if err != nil {
		return "", err
	}
	item, err := ring.Get(passwordKey(user))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(item.Data), nil
}

// ResolvePassword fills cfg.Auth.Password from the keyring when neither the
// config file nor MAILTHREAD_AUTH_PASSWORD set it. It returns where the
// password came from.
func ResolvePassword(cfg *config.Config) (string, error) {
	if source := PasswordSource(*cfg); source != SourceKeyring {
		return source, nil
	}
	password, err := GetPassword(*cfg, cfg.Auth.Username)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return "", fmt.Errorf("no password for %s: run 'mailthread auth login' or set MAILTHREAD_AUTH_PASSWORD", cfg.Auth.Username)
		}
		return "", err
	}
	cfg.Auth.Password = password
	return SourceKeyring, nil
}

// Password sources reported by PasswordSource and ResolvePassword.
const (
	SourceEnv     = "env"
	SourceConfig  = "config"
	SourceKeyring = "keyring"
)

// PasswordSource tells where the password of a loaded config comes from
// without opening the keyring.
func PasswordSource(cfg config.Config) string {
	switch {
	case cfg.Auth.Password == "":
		return SourceKeyring
	case os.Getenv(passwordEnv) != "":
		return SourceEnv
	}
	return SourceConfig
}

func passwordKey(username string) string {
	return "imap:password:" + username
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
