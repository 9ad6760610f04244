package imap

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection reports a DNS or TCP failure.
	ErrConnection = errors.New("imap: connection failed")
	// ErrTLSNegotiation reports that no host candidate passed the TLS handshake.
	ErrTLSNegotiation = errors.New("imap: tls negotiation failed")
	// ErrAuthentication reports a LOGIN rejected with NO or BAD.
	ErrAuthentication = errors.New("imap: authentication failed")
	// ErrProtocol reports a malformed response or a short literal read.
	ErrProtocol = errors.New("imap: protocol error")
	// ErrTimeout reports an operation that ran past its deadline.
	ErrTimeout = errors.New("imap: operation timed out")
	// ErrNotFound reports a FETCH that returned no data for the message.
	ErrNotFound = errors.New("imap: message not found")
	// ErrConnUnusable is returned for commands on a failed or closed Conn.
	ErrConnUnusable = fmt.Errorf("%w: connection is unusable", ErrProtocol)
)

// StatusError is a tagged NO or BAD response to a command other than LOGIN.
type StatusError struct {
	Command string
	Status  string
	Text    string
}

func (e *StatusError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("imap: %s failed: %s", e.Command, e.Status)
	}
	return fmt.Sprintf("imap: %s failed: %s %s", e.Command, e.Status, e.Text)
}
