package mime

import (
	"bytes"
	"io"
	stdmime "mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
)

var (
	encodedWordPattern = regexp.MustCompile(`=\?[^?\s]+\?[bBqQ]\?[^?\s]*\?=`)
	wordGapPattern     = regexp.MustCompile(`(=\?[^?\s]+\?[bBqQ]\?[^?\s]*\?=)[ \t]+(=\?[^?\s]+\?[bBqQ]\?[^?\s]*\?=)`)
)

var wordDecoder = &stdmime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		data, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		if _, err := charset.Reader(label, bytes.NewReader(nil)); err != nil {
			return nil, err
		}
		return bytes.NewReader(ToUTF8(data, label)), nil
	},
}

// DecodeHeader decodes RFC 2047 encoded words in a header value. Each word
// is decoded on its own; a word that fails to decode is left verbatim.
func DecodeHeader(value string) string {
	if !strings.Contains(value, "=?") {
		return value
	}
	// Whitespace between two adjacent encoded words is not displayed.
	for {
		joined := wordGapPattern.ReplaceAllString(value, "$1$2")
		if joined == value {
			break
		}
		value = joined
	}
	return encodedWordPattern.ReplaceAllStringFunc(value, func(word string) string {
		decoded, err := wordDecoder.Decode(word)
		if err != nil {
			return word
		}
		return decoded
	})
}

// ParseHeader reads a header block leniently: continuation lines starting
// with whitespace are folded into the previous field, lines without a colon
// are skipped and a blank line ends the block.
func ParseHeader(block []byte) textproto.Header {
	var h textproto.Header

	text := strings.ReplaceAll(string(block), "\r\n", "\n")
	var (
		key  string
		val  strings.Builder
		open bool
	)
	flush := func() {
		if open {
			h.Add(key, strings.TrimSpace(val.String()))
		}
		open = false
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			if open || h.Len() > 0 {
				break
			}
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if open {
				val.WriteByte(' ')
				val.WriteString(strings.TrimSpace(line))
			}
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		if name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		flush()
		key = name
		val.Reset()
		val.WriteString(strings.TrimSpace(line[colon+1:]))
		open = true
	}
	flush()
	return h
}

// SplitHeaderBody splits an entity at the first blank line. An entity that
// starts with a blank line has no header.
func SplitHeaderBody(entity []byte) ([]byte, []byte) {
	if bytes.HasPrefix(entity, []byte("\r\n")) {
		return nil, entity[2:]
	}
	if bytes.HasPrefix(entity, []byte("\n")) {
		return nil, entity[1:]
	}
	crlf := bytes.Index(entity, []byte("\r\n\r\n"))
	lf := bytes.Index(entity, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return entity[:crlf+2], entity[crlf+4:]
	case lf >= 0:
		return entity[:lf+1], entity[lf+2:]
	}
	if looksLikeHeader(entity) {
		return entity, nil
	}
	return nil, entity
}

func looksLikeHeader(block []byte) bool {
	line := block
	if i := bytes.IndexByte(block, '\n'); i >= 0 {
		line = block[:i]
	}
	colon := bytes.IndexByte(line, ':')
	return colon > 0 && !bytes.ContainsAny(line[:colon], " \t")
}
