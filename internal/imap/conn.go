package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"mailthread/internal/metrics"

	"github.com/google/uuid"
)

// Conn is one IMAP session over one socket. Commands are written one at a
// time and each response is read in full before the next command; a Conn
// must not be shared between goroutines.
type Conn struct {
	t          transport
	tags       int
	state      State
	id         string
	logger     *slog.Logger
	timeout    time.Duration
	maxLiteral int
	failure    error
	greeting   string
	closed     bool
}

func newConn(t transport, opts DialOptions) *Conn {
	id := uuid.NewString()
	return &Conn{
		t:          t,
		state:      StateConnected,
		id:         id,
		logger:     opts.Logger.With("session", id, "addr", opts.addr()),
		timeout:    opts.CommandTimeout,
		maxLiteral: opts.MaxLiteralSize,
	}
}

// NewConn wraps an established socket, e.g. one end of net.Pipe, and reads
// the server greeting. No TLS is negotiated.
func NewConn(ctx context.Context, raw net.Conn, opts DialOptions) (*Conn, error) {
	opts = opts.withDefaults()
	c := newConn(newPlainTransport(raw), opts)
	if err := c.readGreeting(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) State() State     { return c.state }
func (c *Conn) Greeting() string { return c.greeting }
func (c *Conn) Secure() bool     { return c.t.Secure() }

// Err returns the error that moved the Conn to StateFailed.
func (c *Conn) Err() error { return c.failure }

func (c *Conn) setState(s State) {
	if c.state == StateFailed {
		return
	}
	if c.state != s {
		c.logger.Debug("imap state", "from", c.state.String(), "to", s.String())
	}
	c.state = s
}

// fail makes the Conn unusable and force-closes the socket.
func (c *Conn) fail(err error) error {
	if c.state != StateFailed {
		c.logger.Warn("imap connection failed", "state", c.state.String(), "error", err)
	}
	c.state = StateFailed
	if c.failure == nil {
		c.failure = err
	}
	c.closeTransport()
	return err
}

func (c *Conn) unusable() error {
	if c.failure != nil {
		return fmt.Errorf("%w (%s): %v", ErrConnUnusable, c.state, c.failure)
	}
	return fmt.Errorf("%w (%s)", ErrConnUnusable, c.state)
}

// Close releases the socket. It is safe to call from any state and more
// than once.
func (c *Conn) Close() error {
	if c.state != StateFailed && c.state != StateLoggedOut {
		c.state = StateDisconnected
	}
	return c.closeTransport()
}

func (c *Conn) closeTransport() error {
	if c.closed {
		return nil
	}
	c.closed = true
	// Unblock a TLS close_notify write on a stalled peer.
	_ = c.t.SetDeadline(time.Now().Add(time.Second))
	return c.t.Close()
}

// bind applies the command deadline and arranges for ctx cancellation to
// interrupt a blocked read or write.
func (c *Conn) bind(ctx context.Context) func() {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	t := c.t
	_ = t.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = t.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
	}
}

// classify maps an I/O failure onto the package's error taxonomy.
func (c *Conn) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("imap: interrupted: %w", ctxErr)
	}
	if errors.Is(err, ErrProtocol) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func (c *Conn) readGreeting(ctx context.Context) error {
	stop := c.bind(ctx)
	defer stop()

	line, err := readResponseLine(c.t.Reader(), c.maxLiteral)
	if err != nil {
		return c.fail(c.classify(ctx, err))
	}
	c.greeting = line.Text
	c.logger.Debug("imap greeting", "line", line.Text)

	upper := strings.ToUpper(line.Text)
	switch {
	case strings.HasPrefix(upper, "* OK"):
		return nil
	case strings.HasPrefix(upper, "* PREAUTH"):
		c.setState(StateAuthenticated)
		return nil
	case strings.HasPrefix(upper, "* BYE"):
		return c.fail(fmt.Errorf("%w: server rejected connection: %s", ErrConnection, line.Text))
	}
	return c.fail(fmt.Errorf("%w: unexpected greeting: %q", ErrProtocol, line.Text))
}

// Send writes one tagged command and reads its complete response. A NO or
// BAD status is not an error here; callers inspect RawResponse.Status.
// After a read failure the Conn is Failed and every later Send returns
// ErrConnUnusable without touching the socket.
func (c *Conn) Send(ctx context.Context, command string) (*RawResponse, error) {
	if !c.state.usable() {
		return nil, c.unusable()
	}
	c.tags++
	tag := "A" + strconv.Itoa(c.tags)
	name := commandName(command)

	start := time.Now()
	resp, err := c.roundTrip(ctx, tag, name, command)
	status := "error"
	if resp != nil {
		status = resp.Status
		metrics.LiteralBytes.Add(float64(resp.LiteralBytes()))
	}
	metrics.ObserveCommand(name, status, time.Since(start))
	return resp, err
}

func (c *Conn) roundTrip(ctx context.Context, tag, name, command string) (*RawResponse, error) {
	stop := c.bind(ctx)
	defer stop()

	c.logger.Debug("imap send", "tag", tag, "command", redactCommand(command))
	if _, err := c.t.Write([]byte(tag + " " + command + "\r\n")); err != nil {
		return nil, c.fail(c.classify(ctx, err))
	}

	resp, err := ReadRawResponse(c.t.Reader(), tag, c.maxLiteral)
	if err != nil {
		return nil, c.fail(c.classify(ctx, err))
	}
	c.logger.Debug("imap recv", "tag", tag, "status", resp.Status, "lines", len(resp.Lines), "bytes", len(resp.Raw))

	for _, line := range resp.Lines {
		if strings.HasPrefix(line.Text, "+") {
			return nil, c.fail(fmt.Errorf("%w: unexpected continuation request for %s", ErrProtocol, name))
		}
		if name != "LOGOUT" && isBye(line.Text) {
			return nil, c.fail(fmt.Errorf("%w: server closed the session: %s", ErrConnection, line.Text))
		}
	}
	return resp, nil
}

func isBye(text string) bool {
	return len(text) >= 5 && strings.EqualFold(text[:5], "* BYE")
}

func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	name := strings.ToUpper(fields[0])
	if name == "UID" && len(fields) > 1 {
		name += " " + strings.ToUpper(fields[1])
	}
	return name
}

// redactCommand masks LOGIN arguments in logs.
func redactCommand(command string) string {
	if strings.EqualFold(commandName(command), "LOGIN") {
		return "LOGIN ***"
	}
	return command
}

// check sends command and turns NO/BAD into a *StatusError.
func (c *Conn) check(ctx context.Context, command string) (*RawResponse, error) {
	resp, err := c.Send(ctx, command)
	if err != nil {
		return nil, err
	}
	if resp.Status != "OK" {
		return resp, &StatusError{Command: commandName(command), Status: resp.Status, Text: resp.Text}
	}
	return resp, nil
}

// StartTLS issues STARTTLS and upgrades the socket in place.
func (c *Conn) StartTLS(ctx context.Context, cfg *tls.Config) error {
	pt, ok := c.t.(*plainTransport)
	if !ok {
		return fmt.Errorf("%w: connection is already secure", ErrProtocol)
	}
	if _, err := c.check(ctx, "STARTTLS"); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return c.fail(fmt.Errorf("%w: %v", ErrTLSNegotiation, err))
		}
		return err
	}

	c.setState(StateSecuring)
	stop := c.bind(ctx)
	tt, discarded, err := upgradeTransport(ctx, pt, cfg)
	stop()
	if discarded > 0 {
		c.logger.Warn("discarded bytes buffered before tls upgrade", "bytes", discarded)
	}
	if err != nil {
		c.fail(err)
		if errors.Is(err, ErrProtocol) || ctx.Err() != nil {
			return err
		}
		return &handshakeError{serverName: cfg.ServerName, err: err}
	}
	c.t = tt
	c.setState(StateSecured)
	return nil
}

// Login authenticates with LOGIN. A NO or BAD answer is ErrAuthentication.
func (c *Conn) Login(ctx context.Context, username, password string) error {
	resp, err := c.Send(ctx, "LOGIN "+Quote(username)+" "+Quote(password))
	if err != nil {
		return err
	}
	if resp.Status != "OK" {
		return fmt.Errorf("%w: %s %s", ErrAuthentication, resp.Status, resp.Text)
	}
	c.setState(StateAuthenticated)
	return nil
}

// Logout sends LOGOUT and closes the socket.
func (c *Conn) Logout(ctx context.Context) error {
	if !c.state.usable() {
		c.closeTransport()
		return c.unusable()
	}
	_, err := c.Send(ctx, "LOGOUT")
	if c.state != StateFailed {
		c.state = StateLoggedOut
	}
	c.closeTransport()
	return err
}
