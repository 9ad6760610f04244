package mime

import (
	"bytes"
	"encoding/base64"
	"strings"
)

// DefaultChunkSize bounds a single base64 decode call.
const DefaultChunkSize = 64 * 1024

// DecodeTransfer decodes content by its Content-Transfer-Encoding. The
// boolean result reports a partial decode: an unsupported encoding (content
// returned as is) or base64 chunks that had to be skipped.
func DecodeTransfer(data []byte, encoding string, chunkSize int) ([]byte, bool) {
	switch normalizeEncoding(encoding) {
	case "", Encoding7Bit, Encoding8Bit, EncodingBinary:
		return data, false
	case EncodingQuotedPrintable:
		return DecodeQuotedPrintable(data), false
	case EncodingBase64:
		return DecodeBase64(data, chunkSize)
	default:
		return data, true
	}
}

func normalizeEncoding(encoding string) string {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	encoding = strings.Trim(encoding, `"`)
	return encoding
}

// DecodeQuotedPrintable removes soft line breaks first and then replaces
// =XX escapes. Malformed escapes are kept verbatim.
func DecodeQuotedPrintable(data []byte) []byte {
	joined := removeSoftBreaks(data)

	out := make([]byte, 0, len(joined))
	for i := 0; i < len(joined); i++ {
		b := joined[i]
		if b == '=' && i+2 < len(joined) {
			hi, okHi := unhex(joined[i+1])
			lo, okLo := unhex(joined[i+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// removeSoftBreaks drops "=" followed by optional trailing blanks and a line
// break.
func removeSoftBreaks(data []byte) []byte {
	if bytes.IndexByte(data, '=') < 0 {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '=' {
			out = append(out, data[i])
			continue
		}
		j := i + 1
		for j < len(data) && (data[j] == ' ' || data[j] == '\t') {
			j++
		}
		switch {
		case j+1 < len(data) && data[j] == '\r' && data[j+1] == '\n':
			i = j + 1
		case j < len(data) && data[j] == '\n':
			i = j
		default:
			out = append(out, '=')
		}
	}
	return out
}

func unhex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

// DecodeBase64 strips all whitespace and decodes in chunks aligned to four
// characters. A chunk that fails to decode is skipped and the result is
// flagged partial; the remaining chunks are still decoded.
func DecodeBase64(data []byte, chunkSize int) ([]byte, bool) {
	clean := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n', '\f', '\v':
			continue
		}
		clean = append(clean, b)
	}
	if len(clean) == 0 {
		return nil, false
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkSize -= chunkSize % 4
	if chunkSize < 4 {
		chunkSize = 4
	}

	partial := false
	if rem := len(clean) % 4; rem != 0 {
		switch rem {
		case 1:
			clean = clean[:len(clean)-1]
			partial = true
		default:
			clean = append(clean, bytes.Repeat([]byte{'='}, 4-rem)...)
		}
	}

	out := make([]byte, 0, base64.StdEncoding.DecodedLen(len(clean)))
	buf := make([]byte, base64.StdEncoding.DecodedLen(chunkSize))
	for start := 0; start < len(clean); start += chunkSize {
		end := start + chunkSize
		if end > len(clean) {
			end = len(clean)
		}
		n, err := base64.StdEncoding.Decode(buf, clean[start:end])
		if err != nil {
			partial = true
			continue
		}
		out = append(out, buf[:n]...)
	}
	return out, partial
}
