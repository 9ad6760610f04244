package thread

import (
	"time"

	"mailthread/internal/imap"
)

// Record is the JSON shape handed to downstream consumers. Dates are
// RFC 3339 in UTC.
type Record struct {
	NormalizedSubject string          `json:"normalized_subject"`
	DisplaySubject    string          `json:"display_subject"`
	MessageCount      int             `json:"message_count"`
	Participants      []string        `json:"participants"`
	DateRange         RangeRecord     `json:"date_range"`
	Messages          []MessageRecord `json:"messages"`
}

type RangeRecord struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

type MessageRecord struct {
	UID          uint32   `json:"uid"`
	Seq          uint32   `json:"seq"`
	Mailbox      string   `json:"mailbox,omitempty"`
	Subject      string   `json:"subject"`
	From         string   `json:"from"`
	To           []string `json:"to"`
	Date         string   `json:"date"`
	DateFallback bool     `json:"date_fallback,omitempty"`
	MessageID    string   `json:"message_id"`
}

func (t Thread) Record() Record {
	rec := Record{
		NormalizedSubject: t.NormalizedSubject,
		DisplaySubject:    t.DisplaySubject,
		MessageCount:      len(t.Messages),
		Participants:      append([]string{}, t.Participants...),
		DateRange: RangeRecord{
			First: formatDate(t.DateRange.First),
			Last:  formatDate(t.DateRange.Last),
		},
		Messages: make([]MessageRecord, 0, len(t.Messages)),
	}
	for _, msg := range t.Messages {
		rec.Messages = append(rec.Messages, messageRecord(msg))
	}
	return rec
}

// Records converts threads in order.
func Records(threads []Thread) []Record {
	out := make([]Record, 0, len(threads))
	for _, t := range threads {
		out = append(out, t.Record())
	}
	return out
}

func messageRecord(env imap.Envelope) MessageRecord {
	return MessageRecord{
		UID:          env.UID,
		Seq:          env.Seq,
		Mailbox:      env.Mailbox,
		Subject:      env.Subject,
		From:         env.From,
		To:           append([]string{}, env.To...),
		Date:         formatDate(env.Date),
		DateFallback: env.DateFallback,
		MessageID:    env.MessageID,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
