package imap

import (
	"strings"
	"unicode/utf8"
)

// Criteria is a SEARCH key. Build it with All, Subject, From, Text, Or and
// And.
type Criteria struct {
	expr string
	utf8 bool
	// multi marks a juxtaposition of several keys, which must be
	// parenthesized to stay one operand of OR.
	multi bool
}

func All() Criteria { return Criteria{expr: "ALL"} }

func Subject(s string) Criteria { return keyed("SUBJECT", s) }

func From(s string) Criteria { return keyed("FROM", s) }

func Text(s string) Criteria { return keyed("TEXT", s) }

func keyed(key, value string) Criteria {
	return Criteria{expr: key + " " + Quote(value), utf8: !isASCII(value)}
}

// Or matches messages matching a or b.
func Or(a, b Criteria) Criteria {
	return Criteria{expr: "OR " + a.group() + " " + b.group(), utf8: a.utf8 || b.utf8}
}

// And matches messages matching every key. An empty And is All.
func And(keys ...Criteria) Criteria {
	var nonZero []Criteria
	for _, k := range keys {
		if !k.IsZero() {
			nonZero = append(nonZero, k)
		}
	}
	switch len(nonZero) {
	case 0:
		return All()
	case 1:
		return nonZero[0]
	}
	parts := make([]string, 0, len(nonZero))
	wide := false
	for _, k := range nonZero {
		parts = append(parts, k.expr)
		wide = wide || k.utf8
	}
	return Criteria{expr: strings.Join(parts, " "), utf8: wide, multi: true}
}

// Any matches messages matching at least one key.
func Any(keys ...Criteria) Criteria {
	var nonZero []Criteria
	for _, k := range keys {
		if !k.IsZero() {
			nonZero = append(nonZero, k)
		}
	}
	if len(nonZero) == 0 {
		return All()
	}
	acc := nonZero[len(nonZero)-1]
	for i := len(nonZero) - 2; i >= 0; i-- {
		acc = Or(nonZero[i], acc)
	}
	return acc
}

func (c Criteria) IsZero() bool { return c.expr == "" }

// group renders c as a single OR operand.
func (c Criteria) group() string {
	if c.expr == "" {
		return "ALL"
	}
	if c.multi {
		return "(" + c.expr + ")"
	}
	return c.expr
}

// String is the criteria as sent after SEARCH, including a CHARSET
// argument when any value is not ASCII.
func (c Criteria) String() string {
	expr := c.expr
	if expr == "" {
		expr = "ALL"
	}
	if c.utf8 {
		return "CHARSET UTF-8 " + expr
	}
	return expr
}

// Quote renders s as an IMAP quoted string.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\r', '\n':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
