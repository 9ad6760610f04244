package mime

import "testing"

func TestDecodeHeader(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Devis Dakar", "Devis Dakar"},
		{"=?UTF-8?B?RGV2aXMgRGFrYXI=?=", "Devis Dakar"},
		{"=?iso-8859-1?Q?Re=3A_R=E9servation?=", "Re: Réservation"},
		{"=?utf-8?q?caf=C3=A9?= =?utf-8?q?_cr=C3=A8me?=", "café crème"},
		{"Prix: =?windows-1252?Q?=93ok=94?= merci", "Prix: “ok” merci"},
		{"=?x-unknown-charset?Q?abc?= reste", "=?x-unknown-charset?Q?abc?= reste"},
		{"=?utf-8?B?####?=", "=?utf-8?B?####?="},
		{"ok =?utf-8?B?####?= =?utf-8?Q?fin?=", "ok =?utf-8?B?####?=fin"},
	}
	for _, tc := range cases {
		if got := DecodeHeader(tc.in); got != tc.want {
			t.Fatalf("decode %q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestParseHeaderFolding(t *testing.T) {
	block := "Subject: Devis\r\n  Dakar\r\nFrom: a@example.com\r\nnot a header line\r\nReferences: <a@x>\r\n\t<b@x>\r\n\r\nBody: ignored\r\n"
	h := ParseHeader([]byte(block))

	if got := h.Get("Subject"); got != "Devis Dakar" {
		t.Fatalf("unexpected subject: %q", got)
	}
	if got := h.Get("References"); got != "<a@x> <b@x>" {
		t.Fatalf("unexpected references: %q", got)
	}
	if h.Has("Body") {
		t.Fatalf("expected parsing to stop at the blank line")
	}
}

func TestSplitHeaderBody(t *testing.T) {
	hdr, body := SplitHeaderBody([]byte("A: 1\r\n\r\nbody"))
	if string(hdr) != "A: 1\r\n" || string(body) != "body" {
		t.Fatalf("unexpected split: %q / %q", hdr, body)
	}
	hdr, body = SplitHeaderBody([]byte("\r\nonly body"))
	if hdr != nil || string(body) != "only body" {
		t.Fatalf("unexpected split without header: %q / %q", hdr, body)
	}
	hdr, body = SplitHeaderBody([]byte("plain text without header"))
	if hdr != nil || string(body) != "plain text without header" {
		t.Fatalf("unexpected split for bare text: %q / %q", hdr, body)
	}
}

func TestToUTF8(t *testing.T) {
	if got := string(ToUTF8([]byte("\x93Devis\x94 \x96 prix"), "ISO-8859-1")); got != "“Devis” – prix" {
		t.Fatalf("unexpected latin1 remap: %q", got)
	}
	if got := string(ToUTF8([]byte("d\xe9j\xe0"), "utf-8")); got != "déjà" {
		t.Fatalf("unexpected fallback for mislabeled utf-8: %q", got)
	}
	if got := string(ToUTF8([]byte("plain"), "x-made-up")); got != "plain" {
		t.Fatalf("unexpected passthrough: %q", got)
	}
}

func TestHTMLToText(t *testing.T) {
	in := "<p>Line &quot;one&quot;</p>\n\n\n<p>Line   two</p><a href=\"x\">link</a> &#39;q&#39;"
	want := "Line \"one\"\n\nLine two\nlink 'q'"
	if got := HTMLToText(in); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
