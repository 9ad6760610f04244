package mime

import (
	"errors"

	"github.com/emersion/go-message/textproto"
)

// ErrPartialDecode marks content that was only partly recovered: a missing
// boundary, an unsupported transfer encoding or a corrupt base64 chunk.
// It is reported through the Partial flags and never aborts a message.
var ErrPartialDecode = errors.New("mime: partial decode")

const (
	ContentTypePlain = "text/plain"
	ContentTypeHTML  = "text/html"

	EncodingQuotedPrintable = "quoted-printable"
	EncodingBase64          = "base64"
	Encoding7Bit            = "7bit"
	Encoding8Bit            = "8bit"
	EncodingBinary          = "binary"
)

// Part is one node of a decoded MIME tree.
type Part struct {
	Header           textproto.Header
	ContentType      string
	Params           map[string]string
	Charset          string
	TransferEncoding string
	Disposition      string
	Filename         string

	// Raw is the content before transfer decoding, Decoded after it (and
	// after charset conversion for text parts).
	Raw     []byte
	Decoded []byte

	Children []*Part

	// Partial is set when any content of this part or its children could
	// not be fully recovered.
	Partial bool
	// Opaque is set when the depth bound stopped descent; Decoded then
	// holds the undecoded remainder.
	Opaque bool
}

func (p *Part) IsMultipart() bool {
	return len(p.Children) > 0
}

type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Data        []byte
	Partial     bool
}

// Body is the readable content of a message after MIME decoding.
type Body struct {
	Text        string
	HTML        string
	Partial     bool
	Attachments []Attachment
}

// BodyRecord is the shape handed to downstream consumers.
type BodyRecord struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

func (b Body) Record() BodyRecord {
	return BodyRecord{Text: b.Text, HTML: b.HTML}
}
