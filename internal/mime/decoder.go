package mime

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// DefaultMaxDepth bounds multipart nesting.
const DefaultMaxDepth = 5

var paramPattern = regexp.MustCompile(`(?i)([a-z0-9*_.-]+)\s*=\s*(?:"([^"]*)"|([^;\s]+))`)

// Decoder turns raw body blobs into Part trees. The zero value uses the
// default depth bound and chunk size.
type Decoder struct {
	// MaxDepth is the deepest multipart level that is still split. A
	// multipart part below it is kept as opaque undecoded content.
	MaxDepth int
	// ChunkSize bounds a single base64 decode call.
	ChunkSize int
}

func NewDecoder() *Decoder {
	return &Decoder{MaxDepth: DefaultMaxDepth, ChunkSize: DefaultChunkSize}
}

// Decode is a shortcut for NewDecoder().DecodeBody.
func Decode(raw []byte, contentType, transferEncoding string) Body {
	return NewDecoder().DecodeBody(raw, contentType, transferEncoding)
}

// DecodeBody parses raw using the declared Content-Type and
// Content-Transfer-Encoding (either may be empty) and collects the readable
// content.
func (d *Decoder) DecodeBody(raw []byte, contentType, transferEncoding string) Body {
	return Collect(d.Parse(raw, contentType, transferEncoding))
}

// Parse builds the part tree for raw.
func (d *Decoder) Parse(raw []byte, contentType, transferEncoding string) *Part {
	var h textproto.Header
	if contentType = strings.TrimSpace(contentType); contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if transferEncoding = strings.TrimSpace(transferEncoding); transferEncoding != "" {
		h.Set("Content-Transfer-Encoding", transferEncoding)
	}
	return d.parsePart(h, raw, 0, nil)
}

// ParseEntity parses a full entity: header block, blank line, body.
func (d *Decoder) ParseEntity(entity []byte) *Part {
	hdr, body := SplitHeaderBody(entity)
	return d.parsePart(ParseHeader(hdr), body, 0, nil)
}

func (d *Decoder) maxDepth() int {
	if d.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return d.MaxDepth
}

func (d *Decoder) chunkSize() int {
	if d.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return d.ChunkSize
}

func (d *Decoder) parsePart(h textproto.Header, body []byte, depth int, boundaries []string) *Part {
	p := &Part{Header: h, Raw: body}
	describe(p)

	boundary := p.Params["boundary"]
	if p.ContentType == "" && boundary == "" {
		if sniffed := sniffBoundary(body); sniffed != "" {
			p.ContentType = "multipart/mixed"
			boundary = sniffed
		}
	}

	if !strings.HasPrefix(p.ContentType, "multipart/") {
		d.decodeLeaf(p)
		return p
	}

	switch {
	case boundary == "":
		d.decodeAsSinglePart(p)
		return p
	case depth >= d.maxDepth():
		p.Opaque = true
		p.Decoded = body
		return p
	case containsString(boundaries, boundary):
		p.Opaque = true
		p.Partial = true
		p.Decoded = body
		return p
	}

	segments := splitMultipart(body, boundary)
	if len(segments) == 0 {
		d.decodeAsSinglePart(p)
		return p
	}

	nested := append(append([]string(nil), boundaries...), boundary)
	for _, seg := range segments {
		hdr, content := SplitHeaderBody(seg)
		child := d.parsePart(ParseHeader(hdr), content, depth+1, nested)
		if child.Partial {
			p.Partial = true
		}
		p.Children = append(p.Children, child)
	}
	return p
}

// decodeAsSinglePart handles a multipart part whose boundary is unusable: the
// content is decoded as one untyped leaf so collect can still sniff it.
func (d *Decoder) decodeAsSinglePart(p *Part) {
	p.ContentType = ""
	d.decodeLeaf(p)
	p.Partial = true
}

func (d *Decoder) decodeLeaf(p *Part) {
	decoded, partial := DecodeTransfer(p.Raw, p.TransferEncoding, d.chunkSize())
	if p.ContentType == "" || strings.HasPrefix(p.ContentType, "text/") {
		decoded = ToUTF8(decoded, p.Charset)
	}
	p.Decoded = decoded
	p.Partial = p.Partial || partial
}

// describe fills the typed fields of p from its header.
func describe(p *Part) {
	mh := message.Header{Header: p.Header}

	if raw := mh.Get("Content-Type"); raw != "" {
		t, params, err := mh.ContentType()
		if err != nil || t == "" {
			t, params = lenientParams(raw)
		}
		p.ContentType = strings.ToLower(t)
		p.Params = params
	}
	if p.Params == nil {
		p.Params = map[string]string{}
	}
	p.Charset = normalizeCharset(p.Params["charset"])
	p.TransferEncoding = normalizeEncoding(mh.Get("Content-Transfer-Encoding"))

	if raw := mh.Get("Content-Disposition"); raw != "" {
		disp, params, err := mh.ContentDisposition()
		if err != nil || disp == "" {
			disp, params = lenientParams(raw)
		}
		p.Disposition = strings.ToLower(disp)
		p.Filename = DecodeHeader(params["filename"])
	}
	if p.Filename == "" {
		p.Filename = DecodeHeader(p.Params["name"])
	}
}

// lenientParams parses "type; key=value" when the strict parser rejects it.
func lenientParams(value string) (string, map[string]string) {
	params := map[string]string{}
	head, rest, _ := strings.Cut(value, ";")
	for _, m := range paramPattern.FindAllStringSubmatch(rest, -1) {
		key := strings.ToLower(m[1])
		val := m[2]
		if val == "" {
			val = m[3]
		}
		if _, ok := params[key]; !ok {
			params[key] = val
		}
	}
	head = strings.TrimSpace(head)
	if strings.Contains(head, "=") {
		head = ""
	}
	return head, params
}

// sniffBoundary returns the delimiter of an untyped blob that plainly starts
// with one.
func sniffBoundary(body []byte) string {
	trimmed := bytes.TrimLeft(body, "\r\n")
	if !bytes.HasPrefix(trimmed, []byte("--")) {
		return ""
	}
	line := trimmed
	if i := bytes.IndexByte(trimmed, '\n'); i >= 0 {
		line = trimmed[:i]
	}
	line = bytes.TrimSpace(line[2:])
	if len(line) == 0 || bytes.ContainsAny(line, " \t") {
		return ""
	}
	return string(line)
}

// splitMultipart returns the body parts between "--boundary" delimiters.
// Preamble, epilogue and empty segments are dropped; a missing terminal
// delimiter keeps the trailing segment.
func splitMultipart(body []byte, boundary string) [][]byte {
	delim := []byte("--" + boundary)
	var (
		segments [][]byte
		start    = -1
	)
	for pos := 0; pos < len(body); {
		idx := bytes.Index(body[pos:], delim)
		if idx < 0 {
			break
		}
		at := pos + idx
		end := at + len(delim)
		if !atLineStart(body, at) || !delimiterEnds(body, end) {
			pos = end
			continue
		}
		if start >= 0 {
			if seg := trimSegment(body[start:at]); len(seg) > 0 {
				segments = append(segments, seg)
			}
		}
		if bytes.HasPrefix(body[end:], []byte("--")) {
			return segments
		}
		start = skipLine(body, end)
		pos = start
	}
	if start >= 0 && start < len(body) {
		if seg := trimSegment(body[start:]); len(seg) > 0 {
			segments = append(segments, seg)
		}
	}
	return segments
}

func atLineStart(body []byte, at int) bool {
	return at == 0 || body[at-1] == '\n'
}

func delimiterEnds(body []byte, end int) bool {
	if end >= len(body) {
		return true
	}
	switch body[end] {
	case '-', '\r', '\n', ' ', '\t':
		return true
	}
	return false
}

func skipLine(body []byte, from int) int {
	if i := bytes.IndexByte(body[from:], '\n'); i >= 0 {
		return from + i + 1
	}
	return len(body)
}

// trimSegment drops the line break that belongs to the next delimiter.
func trimSegment(seg []byte) []byte {
	if bytes.HasSuffix(seg, []byte("\r\n")) {
		seg = seg[:len(seg)-2]
	} else if bytes.HasSuffix(seg, []byte("\n")) {
		seg = seg[:len(seg)-1]
	}
	if len(bytes.TrimSpace(seg)) == 0 {
		return nil
	}
	return seg
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Collect walks a part tree and picks the readable content. The first
// text/plain part wins for Text and the first text/html part for HTML; when
// only HTML exists Text is derived from it.
func Collect(root *Part) Body {
	var body Body
	collect(root, &body)
	if body.Text == "" && body.HTML != "" {
		body.Text = HTMLToText(body.HTML)
	}
	body.Partial = body.Partial || root.Partial
	return body
}

func collect(p *Part, body *Body) {
	if p.Partial {
		body.Partial = true
	}
	if p.IsMultipart() {
		for _, child := range p.Children {
			collect(child, body)
		}
		return
	}
	if p.Opaque {
		body.Attachments = append(body.Attachments, Attachment{
			ContentType: p.ContentType,
			Size:        len(p.Decoded),
			Data:        p.Decoded,
			Partial:     true,
		})
		return
	}

	attachment := p.Disposition == "attachment" ||
		(p.Filename != "" && !strings.HasPrefix(p.ContentType, "text/"))
	if attachment {
		body.Attachments = append(body.Attachments, Attachment{
			Filename:    p.Filename,
			ContentType: p.ContentType,
			Size:        len(p.Decoded),
			Data:        p.Decoded,
			Partial:     p.Partial,
		})
		return
	}

	content := string(p.Decoded)
	switch {
	case p.ContentType == ContentTypePlain:
		if body.Text == "" {
			body.Text = content
		}
	case p.ContentType == ContentTypeHTML:
		if body.HTML == "" {
			body.HTML = content
		}
	case p.ContentType == "":
		if LooksLikeHTML(content) {
			if body.HTML == "" {
				body.HTML = content
			}
		} else if body.Text == "" {
			body.Text = content
		}
	}
}
