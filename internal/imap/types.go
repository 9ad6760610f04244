package imap

import "time"

// Envelope is one message's header metadata as parsed from a FETCH block.
type Envelope struct {
	Mailbox string
	UID     uint32
	// Seq is the message sequence number at fetch time; it is not stable
	// across mailbox changes.
	Seq       uint32
	MessageID string
	// References lists prior message ids, oldest first.
	References []string
	InReplyTo  string
	// ThreadAnchor is the first References token, else In-Reply-To.
	ThreadAnchor string
	Subject      string
	From         string
	FromName     string
	To           []string
	Date         time.Time
	// DateFallback is set when Date could not be parsed and the fetch time
	// was used instead.
	DateFallback bool
}

// MailboxStatus is what SELECT reported.
type MailboxStatus struct {
	Name        string
	Exists      uint32
	UIDValidity uint32
	ReadOnly    bool
}
