package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"mailthread/internal/config"
	"mailthread/internal/secrets"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication and config setup",
	}
	cmd.AddCommand(newAuthLoginCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		imapHost     string
		imapPort     int
		imapMode     string
		imapInsecure bool
		hostFallback bool

		username  string
		password  string
		inlineCfg bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store IMAP credentials and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("imap-host") {
				cfg.IMAP.Host = imapHost
			}
			if cmd.Flags().Changed("imap-port") {
				cfg.IMAP.Port = imapPort
			}
			if cmd.Flags().Changed("imap-mode") {
				cfg.IMAP.Mode = imapMode
			}
			if cmd.Flags().Changed("imap-insecure") {
				cfg.IMAP.InsecureSkipVerify = imapInsecure
			}
			if cmd.Flags().Changed("host-fallback") {
				cfg.IMAP.HostFallback = hostFallback
			}
			if cmd.Flags().Changed("username") {
				cfg.Auth.Username = username
			}

			if err := config.Validate(cfg); err != nil {
				return err
			}

			if !cmd.Flags().Changed("password") {
				password, err = promptPassword(cmd, cfg.Auth.Username)
				if err != nil {
					return err
				}
			}

			if inlineCfg {
				cfg.Auth.Password = password
			} else if password != "" {
				if err := secrets.SetPassword(cfg, cfg.Auth.Username, password); err != nil {
					return err
				}
				cfg.Auth.Password = ""
				fmt.Fprintf(cmd.OutOrStdout(), "Password for %s stored in the keyring\n", cfg.Auth.Username)
			}

			path, err := config.Save(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&imapHost, "imap-host", "", "IMAP host")
	cmd.Flags().IntVar(&imapPort, "imap-port", 0, "IMAP port (0 picks 993 for tls, 143 otherwise)")
	cmd.Flags().StringVar(&imapMode, "imap-mode", "", "Connection security: tls, starttls or plain")
	cmd.Flags().BoolVar(&imapInsecure, "imap-insecure", false, "Skip IMAP TLS verification")
	cmd.Flags().BoolVar(&hostFallback, "host-fallback", true, "Accept certificates issued for the parent domain or its mail hosts")

	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password or app password")
	cmd.Flags().BoolVar(&inlineCfg, "store-in-config", false, "Write the password to the config file instead of the keyring")

	return cmd
}

// promptPassword reads a password without echo on a terminal, or one line
// from stdin otherwise.
func promptPassword(cmd *cobra.Command, username string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", username)
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return strings.TrimRight(line, "\r\n"), nil
}
