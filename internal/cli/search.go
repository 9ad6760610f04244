package cli

import (
	"strings"

	"mailthread/internal/imap"
	"mailthread/internal/session"
	"mailthread/internal/thread"

	"github.com/spf13/cobra"
)

type searchFlags struct {
	subjects    []string
	froms       []string
	texts       []string
	any         bool
	mailboxes   []string
	limit       int
	batch       int
	concurrency int
	jsonOut     bool
	messages    bool
}

func newSearchCmd(a *app) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search mailboxes and print the matching conversations",
		Long: "Search one or more mailboxes with SUBJECT, FROM and TEXT keys and group the\n" +
			"matching messages into threads by normalized subject. Keys are combined\n" +
			"with AND unless --any is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			q := session.Query{
				Mailboxes:   splitMailboxes(f.mailboxes),
				Criteria:    f.criteria(args),
				Limit:       f.limit,
				FetchBatch:  f.batch,
				Concurrency: f.concurrency,
			}
			a.logger().Debug("search", "criteria", q.Criteria.String(), "mailboxes", q.Mailboxes)

			svc := session.NewService(a.logger())
			res, err := svc.SearchThreads(cmd.Context(), cfg, q)
			if err != nil {
				return err
			}

			if f.jsonOut {
				return writeJSON(cmd.OutOrStdout(), thread.Records(res.Threads))
			}
			printSummary(cmd.OutOrStdout(), res)
			printThreads(cmd.OutOrStdout(), res.Threads)
			if f.messages {
				printThreadMessages(cmd.OutOrStdout(), res.Threads)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&f.subjects, "subject", nil, "Match the subject (repeatable)")
	cmd.Flags().StringArrayVar(&f.froms, "from", nil, "Match the sender (repeatable)")
	cmd.Flags().StringArrayVar(&f.texts, "text", nil, "Match headers and body (repeatable)")
	cmd.Flags().BoolVar(&f.any, "any", false, "Match messages satisfying any key instead of all")
	cmd.Flags().StringArrayVar(&f.mailboxes, "mailbox", nil, "Mailbox to search (repeatable, comma separated accepted)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Newest matches to fetch per mailbox (default from config)")
	cmd.Flags().IntVar(&f.batch, "fetch-batch", 0, "Envelopes per FETCH command (default from config)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Mailboxes searched in parallel (default from config)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print thread records as JSON")
	cmd.Flags().BoolVar(&f.messages, "messages", false, "List the messages of every thread")

	return cmd
}

func (f searchFlags) criteria(args []string) imap.Criteria {
	var keys []imap.Criteria
	for _, s := range f.subjects {
		keys = append(keys, imap.Subject(s))
	}
	for _, s := range f.froms {
		keys = append(keys, imap.From(s))
	}
	for _, s := range f.texts {
		keys = append(keys, imap.Text(s))
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		keys = append(keys, imap.Text(args[0]))
	}
	if f.any {
		return imap.Any(keys...)
	}
	return imap.And(keys...)
}

func splitMailboxes(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, splitList(v)...)
	}
	return out
}
