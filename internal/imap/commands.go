package imap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mailthread/internal/mime"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/utf7"
)

// HeaderFields are the header fields fetched for every envelope.
var HeaderFields = []string{"MESSAGE-ID", "REFERENCES", "IN-REPLY-TO", "SUBJECT", "FROM", "TO", "DATE"}

var bodyHeaderFields = []string{"CONTENT-TYPE", "CONTENT-TRANSFER-ENCODING"}

// Select opens mailbox read-write. The name is sent as modified UTF-7.
func (c *Conn) Select(ctx context.Context, mailbox string) (*MailboxStatus, error) {
	encoded, err := utf7.Encoding.NewEncoder().String(mailbox)
	if err != nil {
		return nil, fmt.Errorf("encode mailbox %q: %w", mailbox, err)
	}
	resp, err := c.check(ctx, "SELECT "+Quote(encoded))
	if err != nil {
		return nil, err
	}
	status := &MailboxStatus{
		Name:        mailbox,
		UIDValidity: parseUIDValidity(resp),
		ReadOnly:    strings.Contains(strings.ToUpper(resp.Text), "[READ-ONLY]"),
	}
	status.Exists, _ = parseExists(resp)
	c.setState(StateSelected)
	return status, nil
}

// Search runs SEARCH and returns the matching sequence numbers.
func (c *Conn) Search(ctx context.Context, criteria Criteria) ([]uint32, error) {
	if err := c.requireSelected("SEARCH"); err != nil {
		return nil, err
	}
	c.setState(StateSearching)
	resp, err := c.check(ctx, "SEARCH "+criteria.String())
	c.setState(StateSelected)
	if err != nil {
		return nil, err
	}
	return ParseSearch(resp), nil
}

// FetchHeaders fetches UID and the envelope header fields for seqs.
func (c *Conn) FetchHeaders(ctx context.Context, seqs []uint32) ([]Envelope, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	if err := c.requireSelected("FETCH"); err != nil {
		return nil, err
	}
	c.setState(StateFetching)
	cmd := fmt.Sprintf("FETCH %s (UID BODY.PEEK[HEADER.FIELDS (%s)])",
		seqSet(seqs), strings.Join(HeaderFields, " "))
	resp, err := c.check(ctx, cmd)
	c.setState(StateSelected)
	if err != nil {
		return nil, err
	}
	return ParseFetchHeaders(resp), nil
}

// FetchBody fetches and decodes the body of the message with uid.
func (c *Conn) FetchBody(ctx context.Context, uid uint32) (mime.Body, error) {
	if err := c.requireSelected("UID FETCH"); err != nil {
		return mime.Body{}, err
	}
	c.setState(StateFetching)
	cmd := fmt.Sprintf("UID FETCH %s (BODY.PEEK[HEADER.FIELDS (%s)] BODY.PEEK[TEXT])",
		strconv.FormatUint(uint64(uid), 10), strings.Join(bodyHeaderFields, " "))
	resp, err := c.check(ctx, cmd)
	c.setState(StateSelected)
	if err != nil {
		return mime.Body{}, err
	}
	body, err := ParseFetchBody(resp)
	if err != nil {
		return mime.Body{}, fmt.Errorf("uid %d: %w", uid, err)
	}
	return body, nil
}

func (c *Conn) requireSelected(command string) error {
	if !c.state.usable() {
		return c.unusable()
	}
	if c.state != StateSelected {
		return fmt.Errorf("imap: %s requires a selected mailbox (state %s)", command, c.state)
	}
	return nil
}

// seqSet renders numbers as a compact IMAP sequence set.
func seqSet(nums []uint32) string {
	set := new(goimap.SeqSet)
	set.AddNum(nums...)
	return set.String()
}
