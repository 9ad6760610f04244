package mime

import (
	"bytes"
	"encoding/base64"
	"mime/quotedprintable"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestQuotedPrintableRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[ -~]{0,60}`).Draw(t, "s")

		var buf bytes.Buffer
		w := quotedprintable.NewWriter(&buf)
		if _, err := w.Write([]byte(s)); err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		got := string(DecodeQuotedPrintable(buf.Bytes()))
		if got != s {
			t.Fatalf("round trip mismatch: %q -> %q -> %q", s, buf.String(), got)
		}
	})
}

func TestQuotedPrintableSoftBreaks(t *testing.T) {
	cases := map[string]string{
		"a=\r\nb":         "ab",
		"a= \t\r\nb":      "ab",
		"a=\nb":           "ab",
		"caf=C3=A9":       "café",
		"50=25 off":       "50% off",
		"bad =ZZ escape":  "bad =ZZ escape",
		"trailing =":      "trailing =",
		"split =3=\r\nD=": "split ==",
	}
	for in, want := range cases {
		if got := string(DecodeQuotedPrintable([]byte(in))); got != want {
			t.Fatalf("decode %q: expected %q, got %q", in, want, got)
		}
	}
}

func TestBase64IgnoresWhitespace(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 200).Draw(t, "payload")
		chunk := rapid.IntRange(4, 64).Draw(t, "chunk")
		encoded := base64.StdEncoding.EncodeToString(payload)

		var noisy strings.Builder
		for _, r := range encoded {
			if rapid.Bool().Draw(t, "gap") {
				noisy.WriteString(rapid.SampledFrom([]string{"\r\n", "\n", " ", "\t"}).Draw(t, "ws"))
			}
			noisy.WriteRune(r)
		}

		clean, partial := DecodeBase64([]byte(encoded), chunk)
		dirty, dirtyPartial := DecodeBase64([]byte(noisy.String()), chunk)
		if partial || dirtyPartial {
			t.Fatalf("unexpected partial decode")
		}
		if !bytes.Equal(clean, dirty) {
			t.Fatalf("whitespace changed the result: %x vs %x", clean, dirty)
		}
		if !bytes.Equal(clean, payload) {
			t.Fatalf("decode mismatch: %x vs %x", clean, payload)
		}
	})
}

func TestBase64SkipsCorruptChunk(t *testing.T) {
	out, partial := DecodeBase64([]byte("aGVs\r\nbG8g\r\n****\r\nd29y\r\nbGQ="), 4)
	if !partial {
		t.Fatalf("expected partial decode")
	}
	if string(out) != "hello world" {
		t.Fatalf("expected remaining chunks to decode, got %q", out)
	}
}

func TestBase64MissingPadding(t *testing.T) {
	out, partial := DecodeBase64([]byte("aGk"), 0)
	if partial || string(out) != "hi" {
		t.Fatalf("expected padded decode, got %q partial=%v", out, partial)
	}
}

func TestDecodeTransfer(t *testing.T) {
	if out, partial := DecodeTransfer([]byte("x=41"), "Quoted-Printable", 0); string(out) != "xA" || partial {
		t.Fatalf("unexpected qp result %q %v", out, partial)
	}
	if out, partial := DecodeTransfer([]byte("raw"), " 8BIT ", 0); string(out) != "raw" || partial {
		t.Fatalf("unexpected 8bit result %q %v", out, partial)
	}
	if _, partial := DecodeTransfer([]byte("raw"), "x-binhex", 0); !partial {
		t.Fatalf("expected unsupported encoding to be partial")
	}
}
