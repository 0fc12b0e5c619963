package protocol

import (
	"errors"
	"testing"
	"unicode/utf8"
)

func TestTokensWalkFields(t *testing.T) {
	tok := NewTokens("  12 34  key  1700000000 ")
	a, err := tok.Int("a")
	if err != nil || a != 12 {
		t.Fatalf("a got=%d err=%v", a, err)
	}
	b, err := tok.Int("b")
	if err != nil || b != 34 {
		t.Fatalf("b got=%d err=%v", b, err)
	}
	k, err := tok.Next("key")
	if err != nil || k != "key" {
		t.Fatalf("key got=%q err=%v", k, err)
	}
	ts, err := tok.Int64("time")
	if err != nil || ts != 1700000000 {
		t.Fatalf("time got=%d err=%v", ts, err)
	}
	if tok.HasMore() {
		t.Fatalf("expected exhausted tokens")
	}
	if _, err := tok.Next("extra"); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestTokensInvalidInt(t *testing.T) {
	tok := NewTokens("abc")
	if _, err := tok.Int("n"); !errors.Is(err, ErrInvalidInt) {
		t.Fatalf("expected ErrInvalidInt, got %v", err)
	}
}

func TestTagSyntax(t *testing.T) {
	for _, s := range []string{"x1", "x42", "x0"} {
		if !IsTag(s) {
			t.Fatalf("%q should be a tag", s)
		}
	}
	for _, s := range []string{"x", "y1", "xa", "", "201"} {
		if IsTag(s) {
			t.Fatalf("%q should not be a tag", s)
		}
	}
	n, err := TagNumber("x17")
	if err != nil || n != 17 {
		t.Fatalf("TagNumber got=%d err=%v", n, err)
	}
	if _, err := TagNumber("x1a"); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected ErrInvalidTag, got %v", err)
	}
	if got := FormatTag(9); got != "x9" {
		t.Fatalf("FormatTag got=%q", got)
	}
}

func TestSplitTagAndCommandCode(t *testing.T) {
	tag, rest := SplitTag("x5 201 1 2 3")
	if tag != "x5" || rest != "201 1 2 3" {
		t.Fatalf("unexpected split tag=%q rest=%q", tag, rest)
	}
	tag, rest = SplitTag("201 1 2")
	if tag != "" || rest != "201 1 2" {
		t.Fatalf("unexpected split tag=%q rest=%q", tag, rest)
	}
	if got := CommandCode("x12 326 hello"); got != "326" {
		t.Fatalf("CommandCode got=%q", got)
	}
	if got := CommandCode("999"); got != "999" {
		t.Fatalf("CommandCode got=%q", got)
	}
}

func TestAbbreviate(t *testing.T) {
	if got := Abbreviate("326 a very long note", 10); got != "326 a very ..." {
		t.Fatalf("Abbreviate got=%q", got)
	}
	if got := Abbreviate("short", 10); got != "short" {
		t.Fatalf("Abbreviate got=%q", got)
	}
	got := Abbreviate("326 héllo wörld", 6)
	if got != "326 h ..." || !utf8.ValidString(got) {
		t.Fatalf("Abbreviate split a rune got=%q", got)
	}
}
