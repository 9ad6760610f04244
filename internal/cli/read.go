package cli

import (
	"fmt"
	"strconv"

	"mailthread/internal/session"

	"github.com/spf13/cobra"
)

func newReadCmd(a *app) *cobra.Command {
	var (
		mailbox string
		html    bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "read <uid>",
		Short: "Print the decoded body of a message by UID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil || uid == 0 {
				return fmt.Errorf("invalid uid: %s", args[0])
			}

			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			svc := session.NewService(a.logger())
			body, err := svc.FetchBody(cmd.Context(), cfg, mailbox, uint32(uid))
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), body.Record())
			}
			printBody(cmd.OutOrStdout(), body, html)
			return nil
		},
	}

	cmd.Flags().StringVar(&mailbox, "mailbox", "INBOX", "Mailbox name")
	cmd.Flags().BoolVar(&html, "html", false, "Print the HTML part instead of the text")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print {text, html} as JSON")

	return cmd
}
