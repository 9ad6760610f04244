package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"mailthread/internal/mime"
	"mailthread/internal/session"
	"mailthread/internal/thread"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func printSummary(out io.Writer, res *session.Result) {
	if res.Matched == 0 {
		fmt.Fprintln(out, "No messages matched.")
		return
	}
	fmt.Fprintf(out, "Matched %d, fetched %d, threads %d\n", res.Matched, res.Fetched, len(res.Threads))
}

func printThreads(out io.Writer, threads []thread.Thread) {
	if len(threads) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "LAST\tFIRST\tMSGS\tPARTICIPANTS\tSUBJECT")
	for _, th := range threads {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			formatDate(th.DateRange.Last),
			formatDate(th.DateRange.First),
			len(th.Messages),
			strings.Join(th.Participants, ", "),
			th.DisplaySubject)
	}
	_ = tw.Flush()
}

func printThreadMessages(out io.Writer, threads []thread.Thread) {
	for _, th := range threads {
		fmt.Fprintf(out, "\n%s\n", th.DisplaySubject)
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "  MAILBOX\tUID\tDATE\tFROM\tSUBJECT")
		for _, msg := range th.Messages {
			date := formatDate(msg.Date)
			if msg.DateFallback {
				date += "?"
			}
			fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%s\n", msg.Mailbox, msg.UID, date, msg.From, msg.Subject)
		}
		_ = tw.Flush()
	}
}

func printBody(out io.Writer, body mime.Body, html bool) {
	if html {
		fmt.Fprintln(out, body.HTML)
	} else {
		fmt.Fprintln(out, body.Text)
	}
	if len(body.Attachments) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ATTACHMENT\tTYPE\tSIZE")
		for _, att := range body.Attachments {
			name := att.Filename
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", name, att.ContentType, att.Size)
		}
		_ = tw.Flush()
	}
	if body.Partial {
		fmt.Fprintln(out, "\n(some parts of this message could not be fully decoded)")
	}
}
