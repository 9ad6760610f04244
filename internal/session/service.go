// Package session runs complete IMAP sessions: connect, log in, search a
// mailbox, fetch envelopes or a body, log out, and rebuild threads.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailthread/internal/config"
	"mailthread/internal/imap"
	"mailthread/internal/metrics"
	"mailthread/internal/mime"
)

// logoutTimeout bounds the LOGOUT sent on the way out of a session.
const logoutTimeout = 10 * time.Second

// Client is the part of *imap.Conn a session drives. Connectors return it
// already authenticated.
type Client interface {
	Select(ctx context.Context, mailbox string) (*imap.MailboxStatus, error)
	Search(ctx context.Context, criteria imap.Criteria) ([]uint32, error)
	FetchHeaders(ctx context.Context, seqs []uint32) ([]imap.Envelope, error)
	FetchBody(ctx context.Context, uid uint32) (mime.Body, error)
	Logout(ctx context.Context) error
	Close() error
}

type Service struct {
	Connector func(ctx context.Context, cfg config.Config) (Client, error)
	Logger    *slog.Logger
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{Logger: log}
	s.Connector = func(ctx context.Context, cfg config.Config) (Client, error) {
		return Connect(ctx, cfg, s.Logger)
	}
	return s
}

// DialOptions maps the IMAP section of cfg onto imap.DialOptions.
func DialOptions(cfg config.Config, log *slog.Logger) (imap.DialOptions, error) {
	mode, err := imap.ParseMode(cfg.IMAP.Mode)
	if err != nil {
		return imap.DialOptions{}, err
	}
	return imap.DialOptions{
		Host:               cfg.IMAP.Host,
		Port:               cfg.IMAP.Port,
		Mode:               mode,
		TLSConfig:          &tls.Config{MinVersion: tls.VersionTLS12},
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
		HostFallback:       cfg.IMAP.HostFallback,
		DialTimeout:        cfg.IMAP.DialTimeout,
		CommandTimeout:     cfg.IMAP.CommandTimeout,
		MaxLiteralSize:     cfg.IMAP.MaxLiteralSize,
		Logger:             log,
	}, nil
}

// Connect dials, secures and logs in. The connection is closed when login
// fails.
func Connect(ctx context.Context, cfg config.Config, log *slog.Logger) (Client, error) {
	opts, err := DialOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	c, err := imap.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	if c.State() != imap.StateAuthenticated {
		if err := c.Login(ctx, cfg.Auth.Username, cfg.Auth.Password); err != nil {
			_ = c.Logout(ctx)
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// withClient runs fn on a fresh connection. LOGOUT is attempted unless ctx
// is already done; the socket is closed on every path.
func (s *Service) withClient(ctx context.Context, cfg config.Config, fn func(Client) error) (err error) {
	connector := s.Connector
	if connector == nil {
		connector = func(ctx context.Context, cfg config.Config) (Client, error) {
			return Connect(ctx, cfg, s.logger())
		}
	}

	client, err := connector(ctx, cfg)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(outcome(err)).Inc()
		return err
	}
	metrics.SessionsActive.Inc()

	defer func() {
		if ctx.Err() == nil {
			logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
			if lerr := client.Logout(logoutCtx); lerr != nil {
				s.logger().Debug("logout failed", "error", lerr)
			}
			cancel()
		}
		_ = client.Close()
		metrics.SessionsActive.Dec()
		metrics.SessionsTotal.WithLabelValues(outcome(err)).Inc()
	}()

	return fn(client)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, imap.ErrTimeout):
		return "timeout"
	case errors.Is(err, imap.ErrAuthentication):
		return "auth_error"
	case errors.Is(err, imap.ErrTLSNegotiation):
		return "tls_error"
	case errors.Is(err, imap.ErrConnection):
		return "connection_error"
	case errors.Is(err, imap.ErrProtocol):
		return "protocol_error"
	}
	var statusErr *imap.StatusError
	if errors.As(err, &statusErr) {
		return "command_error"
	}
	return "error"
}

// FetchBody decodes the body of one message.
func (s *Service) FetchBody(ctx context.Context, cfg config.Config, mailbox string, uid uint32) (mime.Body, error) {
	var body mime.Body
	err := s.withClient(ctx, cfg, func(c Client) error {
		if _, err := c.Select(ctx, mailbox); err != nil {
			return err
		}
		b, err := c.FetchBody(ctx, uid)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return mime.Body{}, fmt.Errorf("fetch body of %s/%d: %w", mailbox, uid, err)
	}
	if body.Partial {
		metrics.PartialDecodes.Inc()
		s.logger().Warn("message body only partly decoded", "mailbox", mailbox, "uid", uid)
	}
	return body, nil
}
