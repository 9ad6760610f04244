package imap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultMaxLiteralSize bounds a single literal announced by the server.
	DefaultMaxLiteralSize = 64 << 20
	maxLineLength         = 1 << 20
)

var (
	fetchLinePattern = regexp.MustCompile(`(?i)^\*\s+\d+\s+FETCH\s+\(`)
	literalPattern   = regexp.MustCompile(`^\{(\d+)\}$`)
	fetchItemPattern = regexp.MustCompile(`(?i)^(?:(?:BODY|BINARY)(?:\.PEEK)?\[.*\](?:<\d+>)?|RFC822(?:\.HEADER|\.TEXT)?)$`)
)

// Literal is one {N} payload of a response line, keyed by the FETCH data
// item that announced it.
type Literal struct {
	Item string
	Data []byte
}

// Line is one logical response line. Text holds the line with literal
// payloads left out (their {N} announcements stay in place); Raw holds the
// bytes exactly as received.
type Line struct {
	Raw      []byte
	Text     string
	Literals []Literal
}

// RawResponse is everything the server sent for one command: untagged and
// continuation lines followed by the tagged status line.
type RawResponse struct {
	Tag    string
	Status string
	Text   string
	Lines  []*Line
	Raw    []byte
}

func (r *RawResponse) String() string {
	return string(r.Raw)
}

// LiteralBytes is the total size of all literal payloads in the response.
func (r *RawResponse) LiteralBytes() int {
	total := 0
	for _, line := range r.Lines {
		for _, lit := range line.Literals {
			total += len(lit.Data)
		}
	}
	return total
}

// ReadRawResponse reads lines until the status line tagged with tag.
func ReadRawResponse(r *bufio.Reader, tag string, maxLiteral int) (*RawResponse, error) {
	resp := &RawResponse{Tag: tag}
	var raw bytes.Buffer
	for {
		line, err := readResponseLine(r, maxLiteral)
		if err != nil {
			return nil, err
		}
		raw.Write(line.Raw)
		if status, text, ok := taggedStatus(line.Text, tag); ok {
			resp.Status = status
			resp.Text = text
			resp.Raw = raw.Bytes()
			return resp, nil
		}
		resp.Lines = append(resp.Lines, line)
	}
}

// taggedStatus matches "{tag} OK|NO|BAD [text]".
func taggedStatus(text, tag string) (string, string, bool) {
	rest, ok := strings.CutPrefix(text, tag+" ")
	if !ok {
		return "", "", false
	}
	status, info, _ := strings.Cut(rest, " ")
	status = strings.ToUpper(status)
	switch status {
	case "OK", "NO", "BAD":
		return status, strings.TrimSpace(info), true
	}
	return "", "", false
}

// readResponseLine reads one logical line, pulling in every literal it
// announces. Literal bytes are read exactly and never scanned for CRLF.
func readResponseLine(r *bufio.Reader, maxLiteral int) (*Line, error) {
	if maxLiteral <= 0 {
		maxLiteral = DefaultMaxLiteralSize
	}
	line := &Line{}
	var (
		raw  bytes.Buffer
		text strings.Builder
	)
	for {
		chunk, err := readRawLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) && raw.Len() == 0 && len(chunk) == 0 {
				return nil, fmt.Errorf("%w: connection closed by server", ErrProtocol)
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: connection closed mid-line", ErrProtocol)
			}
			return nil, err
		}
		raw.Write(chunk)
		text.WriteString(strings.TrimRight(string(chunk), "\r\n"))

		item, n, ok := literalAnnouncement(text.String())
		if !ok {
			line.Raw = raw.Bytes()
			line.Text = text.String()
			return line, nil
		}
		if n > maxLiteral {
			return nil, fmt.Errorf("%w: literal of %d bytes exceeds limit %d", ErrProtocol, n, maxLiteral)
		}
		data := make([]byte, n)
		read, err := io.ReadFull(r, data)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: literal short read: got %d of %d bytes", ErrProtocol, read, n)
			}
			return nil, err
		}
		raw.Write(data)
		line.Literals = append(line.Literals, Literal{Item: item, Data: data})
	}
}

func readRawLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineLength {
			return nil, fmt.Errorf("%w: response line exceeds %d bytes", ErrProtocol, maxLineLength)
		}
		if err == nil {
			return buf, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}

// literalAnnouncement reports whether text ends in a literal announcement.
// Only untagged FETCH lines qualify, the brace must sit outside quoted
// strings, and the token before it must be a FETCH data item (or the brace
// must sit inside a nested list such as ENVELOPE, where it stands for an
// nstring).
func literalAnnouncement(text string) (string, int, bool) {
	trimmed := strings.TrimRight(text, " \t")
	if !strings.HasSuffix(trimmed, "}") || !fetchLinePattern.MatchString(trimmed) {
		return "", 0, false
	}
	tokens, depth, inQuote := scanTokens(trimmed)
	if inQuote || len(tokens) < 2 {
		return "", 0, false
	}
	m := literalPattern.FindStringSubmatch(tokens[len(tokens)-1])
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", 0, false
	}
	prev := tokens[len(tokens)-2]
	if fetchItemPattern.MatchString(prev) {
		return strings.ToUpper(prev), n, true
	}
	if depth > 1 {
		return "", n, true
	}
	return "", 0, false
}

// scanTokens splits a response line into atoms, quoted strings and
// bracketed section specs. It returns the tokens, the open parenthesis depth
// at the end of the text and whether the text ends inside a quoted string.
func scanTokens(s string) ([]string, int, bool) {
	var (
		tokens  []string
		cur     strings.Builder
		depth   int
		bracket int
		inQuote bool
		escaped bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			cur.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}
		switch {
		case c == '"':
			cur.WriteByte(c)
			inQuote = true
		case c == '[':
			bracket++
			cur.WriteByte(c)
		case c == ']':
			if bracket > 0 {
				bracket--
			}
			cur.WriteByte(c)
		case bracket > 0:
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			flush()
		case c == '(':
			flush()
			depth++
		case c == ')':
			flush()
			if depth > 0 {
				depth--
			}
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens, depth, inQuote
}
