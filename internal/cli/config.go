package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"mailthread/internal/config"
	"mailthread/internal/secrets"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the mailthread configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigEditCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

// configReport is what "config show" prints: the effective settings plus
// where the credentials will come from when a session opens.
type configReport struct {
	Path           string        `yaml:"path"`
	FilePresent    bool          `yaml:"file_present"`
	PasswordSource string        `yaml:"password_source"`
	KeyringBackend string        `yaml:"keyring_backend"`
	Problems       []string      `yaml:"problems,omitempty"`
	Config         config.Config `yaml:"config"`
}

func buildConfigReport(cfg config.Config, showPassword bool) (configReport, error) {
	path, err := config.ConfigPath()
	if err != nil {
		return configReport{}, err
	}
	_, statErr := os.Stat(path)

	backend := secrets.ResolveBackend(cfg)
	report := configReport{
		Path:           path,
		FilePresent:    statErr == nil,
		PasswordSource: secrets.PasswordSource(cfg),
		KeyringBackend: fmt.Sprintf("%s (%s)", backend.Name, backend.Source),
		Config:         cfg,
	}
	if err := config.Validate(cfg); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	if !showPassword {
		report.Config = config.Redact(cfg)
	}
	return report, nil
}

func newConfigShowCmd() *cobra.Command {
	var showPassword bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration and credential sources",
		Long: "Print the config file location, the effective settings after environment\n" +
			"overrides, where the IMAP password will be read from and which keyring\n" +
			"backend is selected. The keyring itself is not opened.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			report, err := buildConfigReport(cfg, showPassword)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Show password in output")

	return cmd
}

func writeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newConfigEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open the config file in $EDITOR and check it afterwards",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if _, err := config.Save(config.DefaultConfig()); err != nil {
					return err
				}
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				return fmt.Errorf("EDITOR not set; config file is %s", path)
			}
			editCmd := exec.CommandContext(cmd.Context(), editor, path)
			editCmd.Stdout = os.Stdout
			editCmd.Stderr = os.Stderr
			editCmd.Stdin = os.Stdin
			if err := editCmd.Run(); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("edited config does not load: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Long:  "Print the config file path. " + config.ConfigFileEnv + " overrides it, otherwise it lives under $XDG_CONFIG_HOME or ~/.config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
