package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Mode selects how the connection is secured.
type Mode string

const (
	// ModeTLS opens a TLS socket immediately (port 993).
	ModeTLS Mode = "tls"
	// ModeStartTLS connects in plaintext and upgrades with STARTTLS (port 143).
	ModeStartTLS Mode = "starttls"
	// ModePlain never upgrades. Only meant for loopback servers and tests.
	ModePlain Mode = "plain"
)

func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "tls", "ssl", "imaps":
		return ModeTLS, nil
	case "starttls":
		return ModeStartTLS, nil
	case "plain", "none", "insecure":
		return ModePlain, nil
	}
	return "", fmt.Errorf("unknown imap mode %q", value)
}

const (
	DefaultDialTimeout    = 30 * time.Second
	DefaultCommandTimeout = 2 * time.Minute
)

// DialOptions configures Dial.
type DialOptions struct {
	Host string
	Port int
	Mode Mode

	// TLSConfig is cloned for every handshake; ServerName is overwritten
	// with the host candidate being tried.
	TLSConfig          *tls.Config
	InsecureSkipVerify bool
	// HostFallback enables certificate verification against the candidates
	// returned by HostCandidates.
	HostFallback bool

	DialTimeout    time.Duration
	CommandTimeout time.Duration
	MaxLiteralSize int

	Logger *slog.Logger
	Dialer ContextDialer
}

// ContextDialer opens the TCP connection. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

func (o DialOptions) withDefaults() DialOptions {
	if o.Mode == "" {
		o.Mode = ModeTLS
	}
	if o.Port == 0 {
		if o.Mode == ModeTLS {
			o.Port = 993
		} else {
			o.Port = 143
		}
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.MaxLiteralSize <= 0 {
		o.MaxLiteralSize = DefaultMaxLiteralSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{Timeout: o.DialTimeout}
	}
	return o
}

func (o DialOptions) addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o DialOptions) tlsConfig(serverName string) *tls.Config {
	var cfg *tls.Config
	if o.TLSConfig != nil {
		cfg = o.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg.ServerName = serverName
	if o.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// transport owns the socket and the buffered reader in front of it.
type transport interface {
	Reader() *bufio.Reader
	Write(p []byte) (int, error)
	SetDeadline(t time.Time) error
	Close() error
	Secure() bool
}

type plainTransport struct {
	raw net.Conn
	r   *bufio.Reader
}

func newPlainTransport(raw net.Conn) *plainTransport {
	return &plainTransport{raw: raw, r: bufio.NewReader(raw)}
}

func (t *plainTransport) Reader() *bufio.Reader         { return t.r }
func (t *plainTransport) Write(p []byte) (int, error)   { return t.raw.Write(p) }
func (t *plainTransport) SetDeadline(d time.Time) error { return t.raw.SetDeadline(d) }
func (t *plainTransport) Close() error                  { return t.raw.Close() }
func (t *plainTransport) Secure() bool                  { return false }

type tlsTransport struct {
	raw net.Conn
	tls *tls.Conn
	r   *bufio.Reader
}

func newTLSTransport(raw net.Conn, tc *tls.Conn) *tlsTransport {
	return &tlsTransport{raw: raw, tls: tc, r: bufio.NewReader(tc)}
}

func (t *tlsTransport) Reader() *bufio.Reader         { return t.r }
func (t *tlsTransport) Write(p []byte) (int, error)   { return t.tls.Write(p) }
func (t *tlsTransport) SetDeadline(d time.Time) error { return t.raw.SetDeadline(d) }
func (t *tlsTransport) Close() error                  { return t.tls.Close() }
func (t *tlsTransport) Secure() bool                  { return true }

// upgradeTransport starts TLS on the socket under pt. Bytes still buffered
// in pt's reader predate the upgrade and are dropped; the handshake reads
// from the raw socket. It returns the number of dropped bytes.
func upgradeTransport(ctx context.Context, pt *plainTransport, cfg *tls.Config) (*tlsTransport, int, error) {
	discarded := pt.r.Buffered()
	if discarded > 0 {
		if _, err := pt.r.Discard(discarded); err != nil {
			return nil, 0, err
		}
	}
	if pt.r.Buffered() != 0 {
		return nil, discarded, fmt.Errorf("%w: read buffer not empty before tls upgrade", ErrProtocol)
	}
	tc := tls.Client(pt.raw, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, discarded, err
	}
	return newTLSTransport(pt.raw, tc), discarded, nil
}

// HostCandidates lists the names a server certificate is checked against:
// the host itself, its parent domain, then mail., webmail. and smtp. under
// the parent. Duplicates are dropped.
func HostCandidates(host string) []string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return []string{host}
	}
	parent := host
	if labels := strings.Split(host, "."); len(labels) > 2 {
		parent = strings.Join(labels[1:], ".")
	}
	seen := map[string]bool{}
	var out []string
	for _, name := range []string{host, parent, "mail." + parent, "webmail." + parent, "smtp." + parent} {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// handshakeError marks a TLS failure that may succeed with another host
// candidate.
type handshakeError struct {
	serverName string
	err        error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("tls handshake as %q: %v", e.serverName, e.err)
}

func (e *handshakeError) Unwrap() error { return e.err }

// Dial connects, reads the greeting and secures the connection according to
// opts.Mode. With HostFallback every host candidate is tried on a fresh TCP
// connection until a handshake succeeds.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	opts = opts.withDefaults()
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrConnection)
	}

	candidates := []string{opts.Host}
	if opts.HostFallback && opts.Mode != ModePlain {
		candidates = HostCandidates(opts.Host)
	}

	var failures []string
	for _, name := range candidates {
		c, err := dialOnce(ctx, opts, name)
		if err == nil {
			return c, nil
		}
		var hs *handshakeError
		if !errors.As(err, &hs) {
			return nil, err
		}
		opts.Logger.Debug("tls handshake failed", "addr", opts.addr(), "server_name", name, "error", hs.err)
		failures = append(failures, hs.Error())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTLSNegotiation, strings.Join(failures, "; "))
}

func dialOnce(ctx context.Context, opts DialOptions, serverName string) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	raw, err := opts.Dialer.DialContext(dialCtx, "tcp", opts.addr())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, opts.addr(), err)
	}

	c := newConn(newPlainTransport(raw), opts)
	switch opts.Mode {
	case ModeTLS:
		c.setState(StateSecuring)
		tc := tls.Client(raw, opts.tlsConfig(serverName))
		if err := tc.HandshakeContext(dialCtx); err != nil {
			_ = raw.Close()
			return nil, &handshakeError{serverName: serverName, err: err}
		}
		c.t = newTLSTransport(raw, tc)
		if err := c.readGreeting(dialCtx); err != nil {
			c.Close()
			return nil, err
		}
		c.setState(StateSecured)
	case ModeStartTLS:
		if err := c.readGreeting(dialCtx); err != nil {
			c.Close()
			return nil, err
		}
		if err := c.StartTLS(dialCtx, opts.tlsConfig(serverName)); err != nil {
			c.Close()
			return nil, err
		}
	default:
		if err := c.readGreeting(dialCtx); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}
