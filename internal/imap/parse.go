package imap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mailthread/internal/mime"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

var (
	searchLinePattern  = regexp.MustCompile(`(?i)^\*\s+SEARCH\b(.*)$`)
	fetchSeqPattern    = regexp.MustCompile(`(?i)^\*\s+(\d+)\s+FETCH\s+\(`)
	uidPattern         = regexp.MustCompile(`(?i)[\s(]UID\s+(\d+)`)
	existsPattern      = regexp.MustCompile(`(?i)^\*\s+(\d+)\s+EXISTS\b`)
	uidValidityPattern = regexp.MustCompile(`(?i)\[UIDVALIDITY\s+(\d+)\]`)
	msgIDPattern       = regexp.MustCompile(`<[^<>\s]+>`)
	dateCommentPattern = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
)

// now is replaced in tests.
var now = time.Now

var dateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 06 15:04:05 -0700",
	"Mon Jan 2 15:04:05 2006",
	"Mon, 2 Jan 2006 15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseSearch extracts the numbers of every "* SEARCH" line. Duplicates are
// dropped and server order is kept.
func ParseSearch(resp *RawResponse) []uint32 {
	var out []uint32
	seen := map[uint32]bool{}
	for _, line := range resp.Lines {
		m := searchLinePattern.FindStringSubmatch(line.Text)
		if m == nil {
			continue
		}
		for _, field := range strings.Fields(m[1]) {
			n, err := strconv.ParseUint(field, 10, 32)
			if err != nil || n == 0 {
				continue
			}
			if !seen[uint32(n)] {
				seen[uint32(n)] = true
				out = append(out, uint32(n))
			}
		}
	}
	return out
}

// ParseFetchHeaders turns every "* n FETCH (UID u ... {N})" block into an
// Envelope, reading the header fields from the literal payload.
func ParseFetchHeaders(resp *RawResponse) []Envelope {
	var out []Envelope
	for _, line := range resp.Lines {
		seq, ok := fetchSeq(line)
		if !ok {
			continue
		}
		uid := fetchUID(line)
		block, ok := sectionData(line, "BODY[HEADER", "RFC822.HEADER", "BODY[]", "RFC822")
		if !ok {
			continue
		}
		out = append(out, ParseEnvelope(seq, uid, block))
	}
	return out
}

// ParseEnvelope builds an Envelope from a raw header block. A missing
// Message-ID is synthesized from the UID and an unparseable Date is
// replaced by the current time with DateFallback set.
func ParseEnvelope(seq, uid uint32, block []byte) Envelope {
	hdr, _ := mime.SplitHeaderBody(block)
	if hdr == nil {
		hdr = block
	}
	h := gomail.Header{Header: message.Header{Header: mime.ParseHeader(hdr)}}

	env := Envelope{Seq: seq, UID: uid}
	env.Subject = strings.TrimSpace(mime.DecodeHeader(h.Get("Subject")))

	if ids := messageIDs(h, "Message-Id"); len(ids) > 0 {
		env.MessageID = ids[0]
	} else {
		env.MessageID = fmt.Sprintf("<%d@imported>", uid)
	}
	env.References = messageIDs(h, "References")
	if ids := messageIDs(h, "In-Reply-To"); len(ids) > 0 {
		env.InReplyTo = ids[0]
	}
	switch {
	case len(env.References) > 0:
		env.ThreadAnchor = env.References[0]
	case env.InReplyTo != "":
		env.ThreadAnchor = env.InReplyTo
	}

	from, name := parseAddressList(h.Get("From"))
	if len(from) > 0 {
		env.From = from[0]
	}
	env.FromName = mime.DecodeHeader(name)
	env.To = parseAddresses(h.Get("To"))

	if date, ok := parseDate(h); ok {
		env.Date = date
	} else {
		env.Date = now()
		env.DateFallback = true
	}
	return env
}

// messageIDs returns the ids of a header in angle brackets.
func messageIDs(h gomail.Header, key string) []string {
	if h.Get(key) == "" {
		return nil
	}
	ids, err := h.MsgIDList(key)
	if err != nil || len(ids) == 0 {
		return msgIDPattern.FindAllString(h.Get(key), -1)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, "<"+id+">")
		}
	}
	return out
}

func parseDate(h gomail.Header) (time.Time, bool) {
	raw := strings.TrimSpace(h.Get("Date"))
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := h.Date(); err == nil {
		return t, true
	}
	cleaned := dateCommentPattern.ReplaceAllString(raw, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseFetchBody decodes the BODY[TEXT] payload of a UID FETCH response,
// using the Content-Type and Content-Transfer-Encoding fetched alongside it
// when present. A full BODY[] payload is parsed as a whole entity.
func ParseFetchBody(resp *RawResponse) (mime.Body, error) {
	return parseFetchBody(resp, mime.NewDecoder())
}

func parseFetchBody(resp *RawResponse, dec *mime.Decoder) (mime.Body, error) {
	for _, line := range resp.Lines {
		if _, ok := fetchSeq(line); !ok {
			continue
		}
		if text, ok := sectionData(line, "BODY[TEXT]", "RFC822.TEXT"); ok {
			var contentType, encoding string
			if hdr, ok := sectionData(line, "BODY[HEADER"); ok {
				h := message.Header{Header: mime.ParseHeader(hdr)}
				contentType = h.Get("Content-Type")
				encoding = h.Get("Content-Transfer-Encoding")
			}
			return dec.DecodeBody(text, contentType, encoding), nil
		}
		if entity, ok := sectionData(line, "BODY[]", "RFC822"); ok {
			return mime.Collect(dec.ParseEntity(entity)), nil
		}
	}
	return mime.Body{}, ErrNotFound
}

func fetchSeq(line *Line) (uint32, bool) {
	m := fetchSeqPattern.FindStringSubmatch(line.Text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// fetchUID reads the UID item. Line.Text carries no literal payloads, so
// header text cannot be mistaken for it.
func fetchUID(line *Line) uint32 {
	m := uidPattern.FindStringSubmatch(line.Text)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// sectionData returns the payload of the first data item whose name starts
// with one of prefixes, from a literal or an inline quoted string.
func sectionData(line *Line, prefixes ...string) ([]byte, bool) {
	for _, prefix := range prefixes {
		for _, lit := range line.Literals {
			if itemMatches(lit.Item, prefix) {
				return lit.Data, true
			}
		}
	}
	tokens, _, _ := scanTokens(line.Text)
	for _, prefix := range prefixes {
		for i := 0; i+1 < len(tokens); i++ {
			if !itemMatches(strings.ToUpper(tokens[i]), prefix) {
				continue
			}
			next := tokens[i+1]
			if len(next) >= 2 && next[0] == '"' && next[len(next)-1] == '"' {
				return []byte(unquote(next)), true
			}
		}
	}
	return nil, false
}

// itemMatches compares a FETCH item name with a prefix. Exact names such as
// RFC822 must not match RFC822.HEADER.
func itemMatches(item, prefix string) bool {
	if !strings.HasPrefix(item, prefix) {
		return false
	}
	if prefix == "BODY[HEADER" {
		return true
	}
	rest := item[len(prefix):]
	return rest == "" || strings.HasPrefix(rest, "<")
}

func unquote(s string) string {
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func parseExists(resp *RawResponse) (uint32, bool) {
	for _, line := range resp.Lines {
		if m := existsPattern.FindStringSubmatch(line.Text); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 32); err == nil {
				return uint32(n), true
			}
		}
	}
	return 0, false
}

func parseUIDValidity(resp *RawResponse) uint32 {
	for _, line := range resp.Lines {
		if m := uidValidityPattern.FindStringSubmatch(line.Text); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 32); err == nil {
				return uint32(n)
			}
		}
	}
	return 0
}
