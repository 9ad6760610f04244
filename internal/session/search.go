package session

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"mailthread/internal/config"
	"mailthread/internal/imap"
	"mailthread/internal/metrics"
	"mailthread/internal/thread"
)

const (
	DefaultLimit       = 200
	DefaultFetchBatch  = 50
	DefaultConcurrency = 4
)

// Query selects the messages to thread. Zero fields fall back to the
// search section of the config, then to the package defaults.
type Query struct {
	Mailboxes   []string
	Criteria    imap.Criteria
	Limit       int
	FetchBatch  int
	Concurrency int
}

// Result separates "nothing matched" (Matched == 0) from failures, which
// are returned as errors.
type Result struct {
	Threads   []thread.Thread
	Envelopes []imap.Envelope
	// Matched counts SEARCH hits over all mailboxes, Fetched the envelopes
	// actually parsed after Limit was applied.
	Matched int
	Fetched int
}

func (q Query) withDefaults(cfg config.Config) Query {
	if len(q.Mailboxes) == 0 {
		q.Mailboxes = cfg.Search.Mailboxes
	}
	if len(q.Mailboxes) == 0 {
		q.Mailboxes = []string{"INBOX"}
	}
	if q.Limit <= 0 {
		q.Limit = pick(cfg.Search.Limit, DefaultLimit)
	}
	if q.FetchBatch <= 0 {
		q.FetchBatch = pick(cfg.Search.FetchBatch, DefaultFetchBatch)
	}
	if q.Concurrency <= 0 {
		q.Concurrency = pick(cfg.Search.Concurrency, DefaultConcurrency)
	}
	return q
}

func pick(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type mailboxResult struct {
	envelopes []imap.Envelope
	matched   int
}

// SearchThreads searches the query's mailboxes and groups the matching
// envelopes into threads. Each mailbox gets its own connection.
func (s *Service) SearchThreads(ctx context.Context, cfg config.Config, q Query) (*Result, error) {
	q = q.withDefaults(cfg)
	if len(q.Mailboxes) > 1 {
		return s.SearchMailboxes(ctx, cfg, q.Mailboxes, q)
	}

	mr, err := s.searchMailbox(ctx, cfg, q.Mailboxes[0], q)
	if err != nil {
		return nil, err
	}
	return newResult([]mailboxResult{mr}), nil
}

// SearchMailboxes runs one independent session per mailbox, at most
// q.Concurrency at a time, and threads the merged envelopes. The first
// failure cancels the other sessions and is returned.
func (s *Service) SearchMailboxes(ctx context.Context, cfg config.Config, mailboxes []string, q Query) (*Result, error) {
	q = q.withDefaults(cfg)
	results := make([]mailboxResult, len(mailboxes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.Concurrency)
	for i, mailbox := range mailboxes {
		g.Go(func() error {
			mr, err := s.searchMailbox(gctx, cfg, mailbox, q)
			if err != nil {
				return err
			}
			results[i] = mr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newResult(results), nil
}

func newResult(parts []mailboxResult) *Result {
	res := &Result{}
	for _, mr := range parts {
		res.Matched += mr.matched
		res.Envelopes = append(res.Envelopes, mr.envelopes...)
	}
	res.Fetched = len(res.Envelopes)
	res.Threads = thread.Build(res.Envelopes)
	return res
}

func (s *Service) searchMailbox(ctx context.Context, cfg config.Config, mailbox string, q Query) (mailboxResult, error) {
	log := s.logger().With("mailbox", mailbox)
	var mr mailboxResult

	err := s.withClient(ctx, cfg, func(c Client) error {
		status, err := c.Select(ctx, mailbox)
		if err != nil {
			return err
		}
		log.Debug("mailbox selected", "exists", status.Exists, "uidvalidity", status.UIDValidity)

		seqs, err := c.Search(ctx, q.Criteria)
		if err != nil {
			return err
		}
		mr.matched = len(seqs)
		seqs = newest(seqs, q.Limit)

		for start := 0; start < len(seqs); start += q.FetchBatch {
			end := min(start+q.FetchBatch, len(seqs))
			envs, err := c.FetchHeaders(ctx, seqs[start:end])
			if err != nil {
				return err
			}
			for i := range envs {
				envs[i].Mailbox = mailbox
				if envs[i].DateFallback {
					metrics.DateFallbacks.Inc()
					log.Debug("unparseable date, using fetch time", "uid", envs[i].UID)
				}
			}
			metrics.MessagesFetched.Add(float64(len(envs)))
			mr.envelopes = append(mr.envelopes, envs...)
		}
		return nil
	})
	if err != nil {
		return mailboxResult{}, fmt.Errorf("search %s: %w", mailbox, err)
	}

	log.Info("search finished", "matched", mr.matched, "fetched", len(mr.envelopes))
	return mr, nil
}

// newest keeps the limit highest sequence numbers in ascending order.
func newest(seqs []uint32, limit int) []uint32 {
	sorted := slices.Clone(seqs)
	slices.Sort(sorted)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted
}
