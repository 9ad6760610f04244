// Package thread groups message envelopes into conversations by normalized
// subject.
package thread

import (
	"sort"
	"strings"
	"time"

	"mailthread/internal/imap"
	"mailthread/internal/metrics"
)

// DateRange spans the dated messages of a thread.
type DateRange struct {
	First time.Time
	Last  time.Time
}

// Thread is one conversation. Messages are sorted ascending by date.
type Thread struct {
	NormalizedSubject string
	DisplaySubject    string
	Messages          []imap.Envelope
	Participants      []string
	DateRange         DateRange
}

// Build groups envelopes sharing a normalized subject. Envelopes with a
// fallback date still join their thread but only count toward the date
// range when no message of the thread has a real date. Threads are ordered
// by their last date, newest first.
func Build(envelopes []imap.Envelope) []Thread {
	groups := map[string][]imap.Envelope{}
	var keys []string
	for _, env := range envelopes {
		key := NormalizeSubject(env.Subject)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], env)
	}

	threads := make([]Thread, 0, len(keys))
	for _, key := range keys {
		threads = append(threads, newThread(key, groups[key]))
	}
	sort.SliceStable(threads, func(i, j int) bool {
		a, b := threads[i].DateRange.Last, threads[j].DateRange.Last
		if !a.Equal(b) {
			return a.After(b)
		}
		return threads[i].NormalizedSubject < threads[j].NormalizedSubject
	})
	metrics.ThreadsBuilt.Add(float64(len(threads)))
	return threads
}

func newThread(key string, envs []imap.Envelope) Thread {
	msgs := make([]imap.Envelope, len(envs))
	copy(msgs, envs)
	sortMessages(msgs)

	return Thread{
		NormalizedSubject: key,
		DisplaySubject:    StripSpamTag(msgs[0].Subject),
		Messages:          msgs,
		Participants:      participants(msgs),
		DateRange:         dateRange(msgs),
	}
}

// sortMessages orders by date, then UID, then message id and mailbox so
// the result does not depend on input order.
func sortMessages(msgs []imap.Envelope) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.UID != b.UID {
			return a.UID < b.UID
		}
		if a.MessageID != b.MessageID {
			return a.MessageID < b.MessageID
		}
		return a.Mailbox < b.Mailbox
	})
}

func participants(msgs []imap.Envelope) []string {
	seen := make(map[string]bool, len(msgs))
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		from := strings.TrimSpace(msg.From)
		key := strings.ToLower(from)
		if from == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, from)
	}
	return out
}

func dateRange(msgs []imap.Envelope) DateRange {
	var r DateRange
	found := false
	for _, msg := range msgs {
		if msg.DateFallback {
			continue
		}
		if !found {
			r.First = msg.Date
			found = true
		}
		r.Last = msg.Date
	}
	if !found {
		r.First = msgs[0].Date
		r.Last = msgs[len(msgs)-1].Date
	}
	return r
}
