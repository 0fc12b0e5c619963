package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Tokens walks the whitespace-separated fields of one protocol line.
type Tokens struct {
	fields []string
	pos    int
}

func NewTokens(line string) *Tokens {
	return &Tokens{fields: strings.Fields(line)}
}

func (t *Tokens) HasMore() bool {
	return t.pos < len(t.fields)
}

// Next returns the next field, or ErrMissingField with name attached.
func (t *Tokens) Next(name string) (string, error) {
	if !t.HasMore() {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	v := t.fields[t.pos]
	t.pos++
	return v, nil
}

func (t *Tokens) Int(name string) (int, error) {
	raw, err := t.Next(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidInt, name, raw)
	}
	return v, nil
}

func (t *Tokens) Int64(name string) (int64, error) {
	raw, err := t.Next(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidInt, name, raw)
	}
	return v, nil
}

// Rest joins the unread fields with single spaces.
func (t *Tokens) Rest() string {
	if !t.HasMore() {
		return ""
	}
	return strings.Join(t.fields[t.pos:], " ")
}

// IsTag reports whether s has echo tag syntax: 'x' followed by a digit.
// Only the first digit is checked; TagNumber validates the full suffix.
func IsTag(s string) bool {
	return len(s) >= 2 && s[0] == 'x' && s[1] >= '0' && s[1] <= '9'
}

// FormatTag renders sequence number n as an echo tag.
func FormatTag(n int64) string {
	return "x" + strconv.FormatInt(n, 10)
}

// TagNumber returns the numeric suffix of tag.
func TagNumber(tag string) (int64, error) {
	if !IsTag(tag) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	n, err := strconv.ParseInt(tag[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	return n, nil
}

// SplitTag separates a leading echo tag from the rest of line. The tag is
// empty when the line does not start with one.
func SplitTag(line string) (tag string, rest string) {
	trimmed := strings.TrimLeft(line, " \t")
	head, tail, _ := strings.Cut(trimmed, " ")
	if IsTag(head) {
		return head, strings.TrimLeft(tail, " ")
	}
	return "", trimmed
}

// CommandCode returns the first non-tag token of line.
func CommandCode(line string) string {
	_, rest := SplitTag(line)
	head, _, _ := strings.Cut(rest, " ")
	return strings.TrimSpace(head)
}

// Abbreviate shortens s to at most n bytes with a trailing marker. The cut
// never splits a multi-byte rune.
func Abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + " ..."
}
