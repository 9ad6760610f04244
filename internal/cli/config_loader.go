package cli

import (
	"mailthread/internal/config"
	"mailthread/internal/secrets"
)

// loadConfig loads the config and, when withPassword is set, validates it
// and fills in the password from the keyring unless the file or
// MAILTHREAD_AUTH_PASSWORD already provide it.
func loadConfig(withPassword bool) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil || !withPassword {
		return cfg, err
	}

	if err := config.Validate(cfg); err != nil {
		return cfg, err
	}
	if _, err := secrets.ResolvePassword(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
