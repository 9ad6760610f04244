package mime

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
)

// smartPunctuation maps the Windows-1252 bytes 0x80-0x9F that commonly end
// up as mojibake (C1 control runes) when text is mislabeled ISO-8859-1.
var smartPunctuation = map[rune]rune{
	0x80: '€',
	0x82: '‚',
	0x84: '„',
	0x85: '…',
	0x86: '†',
	0x87: '‡',
	0x8B: '‹',
	0x8C: 'Œ',
	0x91: '‘',
	0x92: '’',
	0x93: '“',
	0x94: '”',
	0x95: '•',
	0x96: '–',
	0x97: '—',
	0x99: '™',
	0x9B: '›',
	0x9C: 'œ',
}

// ToUTF8 converts text in the declared charset to UTF-8. It never fails:
// unknown charsets and undecodable input fall back to a Windows-1252
// reading, and smart-punctuation mojibake is repaired for Western charsets.
func ToUTF8(data []byte, label string) []byte {
	label = normalizeCharset(label)

	switch label {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		if utf8.Valid(data) {
			return data
		}
		return decodeWestern(data)
	}

	r, err := charset.Reader(label, bytes.NewReader(data))
	if err != nil {
		if utf8.Valid(data) {
			return data
		}
		return decodeWestern(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return decodeWestern(data)
	}
	if isWestern(label) {
		out = repairSmartPunctuation(out)
	}
	return out
}

func normalizeCharset(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.Trim(label, `"'`)
}

func isWestern(label string) bool {
	switch label {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1", "l1",
		"iso-8859-15", "iso8859-15", "latin9",
		"windows-1252", "cp1252", "x-cp1252":
		return true
	}
	return false
}

func decodeWestern(data []byte) []byte {
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return latin1(data)
	}
	return repairSmartPunctuation(out)
}

func latin1(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))
	for _, b := range data {
		r := rune(b)
		if repl, ok := smartPunctuation[r]; ok {
			r = repl
		}
		buf.WriteRune(r)
	}
	return buf.Bytes()
}

// repairSmartPunctuation replaces C1 control runes with their Windows-1252
// meaning.
func repairSmartPunctuation(data []byte) []byte {
	needs := false
	for _, r := range string(data) {
		if r >= 0x80 && r <= 0x9F {
			needs = true
			break
		}
	}
	if !needs {
		return data
	}
	var buf bytes.Buffer
	buf.Grow(len(data))
	for _, r := range string(data) {
		if repl, ok := smartPunctuation[r]; ok {
			r = repl
		}
		buf.WriteRune(r)
	}
	return buf.Bytes()
}
