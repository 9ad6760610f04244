package imap

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func fetchResponse(t *testing.T, lines ...string) *RawResponse {
	t.Helper()
	var data string
	for _, l := range lines {
		data += l
	}
	return readFrom(t, data+"A1 OK FETCH completed\r\n")
}

func headerLiteral(seq, uid int, header string) string {
	return fmt.Sprintf("* %d FETCH (UID %d BODY[HEADER.FIELDS (MESSAGE-ID REFERENCES IN-REPLY-TO SUBJECT FROM TO DATE)] {%d}\r\n%s)\r\n",
		seq, uid, len(header), header)
}

func TestParseSearch(t *testing.T) {
	resp := readFrom(t, "* SEARCH 4 2 9\r\n* search 2 11\r\n* 3 EXISTS\r\nA1 OK done\r\n")
	got := ParseSearch(resp)
	want := []uint32{4, 2, 9, 11}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := ParseSearch(readFrom(t, "* SEARCH\r\nA1 OK done\r\n")); len(got) != 0 {
		t.Fatalf("expected no results, got %v", got)
	}
}

func TestParseFetchHeaders(t *testing.T) {
	first := "Message-ID: <root@example.sn>\r\n" +
		"Subject: =?UTF-8?B?RGV2aXMgw6AgRGFrYXI=?=\r\n" +
		"From: =?ISO-8859-1?Q?Ren=E9?= <rene@example.fr>\r\n" +
		"To: a@example.sn, \"B\" <b@example.sn>\r\n" +
		"Date: Fri, 5 Jan 2024 09:30:00 +0100\r\n\r\n"
	second := "Message-ID: <reply@example.fr>\r\n" +
		"In-Reply-To: <other@example.fr>\r\n" +
		"References: <root@example.sn> <mid@example.fr>\r\n" +
		"Subject: RE: Devis\r\n" +
		"Date: Sat, 6 Jan 2024 10:00:00 +0000 (UTC)\r\n\r\n"

	resp := fetchResponse(t, headerLiteral(1, 30, first), headerLiteral(2, 31, second))
	envs := ParseFetchHeaders(resp)
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}

	a := envs[0]
	if a.Seq != 1 || a.UID != 30 || a.MessageID != "<root@example.sn>" {
		t.Fatalf("unexpected identity: %+v", a)
	}
	if a.Subject != "Devis à Dakar" {
		t.Fatalf("unexpected subject %q", a.Subject)
	}
	if a.From != "rene@example.fr" || a.FromName != "René" {
		t.Fatalf("unexpected sender %q %q", a.From, a.FromName)
	}
	if !reflect.DeepEqual(a.To, []string{"a@example.sn", "b@example.sn"}) {
		t.Fatalf("unexpected recipients %v", a.To)
	}
	if a.ThreadAnchor != "" || a.DateFallback {
		t.Fatalf("unexpected anchor or fallback: %+v", a)
	}
	if !a.Date.Equal(time.Date(2024, 1, 5, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", a.Date)
	}

	b := envs[1]
	if b.ThreadAnchor != "<root@example.sn>" {
		t.Fatalf("expected References to win, got anchor %q", b.ThreadAnchor)
	}
	if b.InReplyTo != "<other@example.fr>" || len(b.References) != 2 {
		t.Fatalf("unexpected reply headers: %+v", b)
	}
	if b.DateFallback {
		t.Fatalf("expected the commented date to parse")
	}
}

func TestParseEnvelopeFallbacks(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	saved := now
	now = func() time.Time { return fixed }
	defer func() { now = saved }()

	env := ParseEnvelope(3, 77, []byte("Subject: hello\r\nIn-Reply-To: <parent@x>\r\nDate: sometime soon\r\n\r\n"))
	if env.MessageID != "<77@imported>" {
		t.Fatalf("expected a synthesized message id, got %q", env.MessageID)
	}
	if env.ThreadAnchor != "<parent@x>" {
		t.Fatalf("expected In-Reply-To anchor, got %q", env.ThreadAnchor)
	}
	if !env.DateFallback || !env.Date.Equal(fixed) {
		t.Fatalf("expected fallback date, got %v (%v)", env.Date, env.DateFallback)
	}
}

func TestParseFetchHeadersUIDAfterLiteral(t *testing.T) {
	header := "Subject: UID 999 is not the uid\r\n\r\n"
	line := fmt.Sprintf("* 5 FETCH (BODY[HEADER.FIELDS (SUBJECT)] {%d}\r\n%s UID 12)\r\n", len(header), header)
	envs := ParseFetchHeaders(fetchResponse(t, line))
	if len(envs) != 1 || envs[0].UID != 12 || envs[0].Seq != 5 {
		t.Fatalf("unexpected envelopes: %+v", envs)
	}
}

func TestParseFetchBody(t *testing.T) {
	hdr := "Content-Type: text/plain; charset=iso-8859-1\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\n"
	text := "Caf=E9 cr=\r\n=E8me\r\n"
	line := fmt.Sprintf("* 1 FETCH (UID 8 BODY[HEADER.FIELDS (CONTENT-TYPE CONTENT-TRANSFER-ENCODING)] {%d}\r\n%s BODY[TEXT] {%d}\r\n%s)\r\n",
		len(hdr), hdr, len(text), text)

	body, err := ParseFetchBody(fetchResponse(t, line))
	if err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Text != "Café crème\r\n" {
		t.Fatalf("unexpected text %q", body.Text)
	}
	if body.Partial {
		t.Fatalf("unexpected partial decode")
	}
}

func TestParseFetchBodyFullEntity(t *testing.T) {
	entity := "Content-Type: text/html; charset=utf-8\r\n\r\n<p>Hello</p><p>there</p>"
	line := fmt.Sprintf("* 1 FETCH (UID 8 BODY[] {%d}\r\n%s)\r\n", len(entity), entity)

	body, err := ParseFetchBody(fetchResponse(t, line))
	if err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.HTML == "" || body.Text != "Hello\nthere" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestParseFetchBodyMissing(t *testing.T) {
	_, err := ParseFetchBody(fetchResponse(t, "* 1 FETCH (UID 8 FLAGS (\\Seen))\r\n"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSelectResponseParsing(t *testing.T) {
	resp := readFrom(t, "* FLAGS (\\Seen)\r\n* 172 EXISTS\r\n* OK [UIDVALIDITY 3857529045] UIDs valid\r\nA1 OK [READ-WRITE] done\r\n")
	if n, ok := parseExists(resp); !ok || n != 172 {
		t.Fatalf("unexpected exists %d %v", n, ok)
	}
	if v := parseUIDValidity(resp); v != 3857529045 {
		t.Fatalf("unexpected uidvalidity %d", v)
	}
}

func TestSeqSet(t *testing.T) {
	if got := seqSet([]uint32{5, 1, 2, 3, 9}); got != "1:3,5,9" {
		t.Fatalf("unexpected sequence set %q", got)
	}
}
