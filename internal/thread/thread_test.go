package thread

import (
	"bufio"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"mailthread/internal/imap"

	"pgregory.net/rapid"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 9, 0, 0, 0, time.UTC)
}

func TestNormalizeSubject(t *testing.T) {
	cases := map[string]string{
		"Devis Dakar":                        "devis dakar",
		"Re: Devis Dakar":                    "devis dakar",
		"RE: re: devis dakar":                "devis dakar",
		"Spam:**, Re: Devis Dakar":           "devis dakar",
		"SPAM: ★★ Fwd: TR: Devis":            "devis",
		"Re: Fwd: Re: Devis":                 "devis",
		"AW: WG: Angebot":                    "angebot",
		"Réf : Cotation":                     "cotation",
		"RIF: SV: VS: quote":                 "quote",
		"Re[2]: Devis":                       "devis",
		"[External] Re: Devis":               "devis",
		"Re: [EXTERNAL] Devis":               "devis",
		"  Re:   Devis    Dakar  ":           "devis dakar",
		"Regarding: the shipment":            "regarding: the shipment",
		"Fwd:":                               "",
		"":                                   "",
		"Reefer container to Abidjan":        "reefer container to abidjan",
		"R: Fret maritime":                   "fret maritime",
		"Spam: Re: [External] Fw: Port fees": "port fees",
	}
	for in, want := range cases {
		if got := NormalizeSubject(in); got != want {
			t.Fatalf("normalize %q: expected %q, got %q", in, want, got)
		}
	}
}

func TestNormalizeSubjectSpamAndReplyAgree(t *testing.T) {
	if NormalizeSubject("Spam:**, Re: Devis Dakar") != NormalizeSubject("RE: re: devis dakar") {
		t.Fatalf("spam-tagged reply must group with the plain reply")
	}
}

func TestNormalizeSubjectIdempotent(t *testing.T) {
	pieces := []string{"Re:", "RE :", "Fwd:", "fw:", "TR:", "Spam:", "Spam:**,", "★", "[External]", "Devis", "Dakar", " ", "\t", ":", "re", "é", "R", "[2]"}
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.SampledFrom(pieces), 0, 10).Draw(t, "parts")
		s := strings.Join(parts, "")
		once := NormalizeSubject(s)
		if twice := NormalizeSubject(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", s, once, twice)
		}
	})
}

func TestStripSpamTag(t *testing.T) {
	if got := StripSpamTag("Spam:**, Re: Devis Dakar"); got != "Re: Devis Dakar" {
		t.Fatalf("unexpected display subject %q", got)
	}
	if got := StripSpamTag("Re: Devis"); got != "Re: Devis" {
		t.Fatalf("reply markers must be kept, got %q", got)
	}
}

func TestBuildOrdersMessagesByDate(t *testing.T) {
	envs := []imap.Envelope{
		{UID: 1, Subject: "Devis Dakar", From: "a@x.sn", Date: day(5)},
		{UID: 2, Subject: "Re: Devis Dakar", From: "b@y.fr", Date: day(1)},
		{UID: 3, Subject: "RE: re: devis dakar", From: "A@X.sn", Date: day(10)},
	}
	threads := Build(envs)
	if len(threads) != 1 {
		t.Fatalf("expected one thread, got %d", len(threads))
	}
	th := threads[0]
	if !th.DateRange.First.Equal(day(1)) || !th.DateRange.Last.Equal(day(10)) {
		t.Fatalf("unexpected range %+v", th.DateRange)
	}
	var uids []uint32
	for _, m := range th.Messages {
		uids = append(uids, m.UID)
	}
	if !reflect.DeepEqual(uids, []uint32{2, 1, 3}) {
		t.Fatalf("expected ascending dates, got uids %v", uids)
	}
	if th.DisplaySubject != "Re: Devis Dakar" {
		t.Fatalf("display subject comes from the earliest message, got %q", th.DisplaySubject)
	}
	if !reflect.DeepEqual(th.Participants, []string{"b@y.fr", "a@x.sn"}) {
		t.Fatalf("unexpected participants %v", th.Participants)
	}
}

func TestBuildIgnoresFallbackDatesInRange(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	envs := []imap.Envelope{
		{UID: 1, Subject: "Devis", Date: day(3)},
		{UID: 2, Subject: "Re: Devis", Date: now, DateFallback: true},
		{UID: 3, Subject: "Re: Devis", Date: day(4)},
	}
	th := Build(envs)[0]
	if len(th.Messages) != 3 {
		t.Fatalf("fallback message must stay in the thread")
	}
	if !th.DateRange.First.Equal(day(3)) || !th.DateRange.Last.Equal(day(4)) {
		t.Fatalf("unexpected range %+v", th.DateRange)
	}

	only := Build([]imap.Envelope{{UID: 9, Subject: "x", Date: now, DateFallback: true}})[0]
	if !only.DateRange.First.Equal(now) || !only.DateRange.Last.Equal(now) {
		t.Fatalf("all-fallback thread must use the fallback dates, got %+v", only.DateRange)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	envs := []imap.Envelope{
		{UID: 7, Subject: "Tarifs", Date: day(2), MessageID: "<b@x>"},
		{UID: 4, Subject: "Tarifs", Date: day(2), MessageID: "<a@x>"},
		{UID: 1, Subject: "Devis", Date: day(2)},
		{UID: 2, Subject: "Booking", Date: day(9)},
	}
	first := Build(envs)
	reversed := make([]imap.Envelope, len(envs))
	for i, e := range envs {
		reversed[len(envs)-1-i] = e
	}
	second := Build(reversed)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("build depends on input order")
	}

	var keys []string
	for _, th := range first {
		keys = append(keys, th.NormalizedSubject)
	}
	if !reflect.DeepEqual(keys, []string{"booking", "devis", "tarifs"}) {
		t.Fatalf("unexpected thread order %v", keys)
	}
	if first[2].Messages[0].UID != 4 {
		t.Fatalf("same-date messages must be ordered by uid")
	}
}

func TestBuildEmptySubjectsGroupTogether(t *testing.T) {
	threads := Build([]imap.Envelope{
		{UID: 1, Subject: "", Date: day(1)},
		{UID: 2, Subject: "Re:", Date: day(2)},
	})
	if len(threads) != 1 || len(threads[0].Messages) != 2 {
		t.Fatalf("expected one thread for empty subjects, got %+v", threads)
	}
}

func TestBuildFromFetchResponse(t *testing.T) {
	headers := []string{
		"Message-ID: <1@x.sn>\r\nSubject: Devis Dakar\r\nFrom: Awa <awa@x.sn>\r\nDate: Mon, 1 Jan 2024 08:00:00 +0000\r\n\r\n",
		"Message-ID: <2@y.fr>\r\nReferences: <1@x.sn>\r\nSubject: =?UTF-8?Q?Spam=3A**,_Re=3A_Devis_Dakar?=\r\nFrom: Paul <paul@y.fr>\r\nDate: Tue, 2 Jan 2024 08:00:00 +0000\r\n\r\n",
		"Message-ID: <3@x.sn>\r\nSubject: Autre sujet\r\nFrom: awa@x.sn\r\nDate: Wed, 3 Jan 2024 08:00:00 +0000\r\n\r\n",
	}
	var wire strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&wire, "* %d FETCH (UID %d BODY[HEADER.FIELDS (MESSAGE-ID REFERENCES SUBJECT FROM DATE)] {%d}\r\n%s)\r\n", i+1, 100+i, len(h), h)
	}
	wire.WriteString("A1 OK FETCH completed\r\n")

	resp, err := imap.ReadRawResponse(bufioReader(wire.String()), "A1", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	threads := Build(imap.ParseFetchHeaders(resp))
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	devis := threads[1]
	if devis.NormalizedSubject != "devis dakar" || devis.DisplaySubject != "Devis Dakar" {
		t.Fatalf("unexpected thread %q / %q", devis.NormalizedSubject, devis.DisplaySubject)
	}
	if len(devis.Messages) != 2 || devis.Messages[1].ThreadAnchor != "<1@x.sn>" {
		t.Fatalf("unexpected messages %+v", devis.Messages)
	}
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestRecordJSON(t *testing.T) {
	th := Build([]imap.Envelope{
		{UID: 5, Seq: 2, Subject: "Devis", From: "a@x.sn", To: []string{"b@y.fr"}, MessageID: "<5@x>",
			Date: time.Date(2024, 1, 5, 10, 0, 0, 0, time.FixedZone("WAT", 3600))},
	})[0]

	data, err := json.Marshal(th.Record())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["normalized_subject"] != "devis" || got["message_count"] != float64(1) {
		t.Fatalf("unexpected record %s", data)
	}
	dr := got["date_range"].(map[string]any)
	if dr["first"] != "2024-01-05T09:00:00Z" {
		t.Fatalf("expected UTC RFC 3339 dates, got %v", dr["first"])
	}
	msgs := got["messages"].([]any)
	msg := msgs[0].(map[string]any)
	if msg["message_id"] != "<5@x>" || msg["uid"] != float64(5) || msg["seq"] != float64(2) {
		t.Fatalf("unexpected message record %v", msg)
	}
}
