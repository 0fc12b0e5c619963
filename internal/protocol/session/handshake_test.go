package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/boardlink/internal/protocol"
	"github.com/danmuck/boardlink/internal/testutil/testlog"
)

func TestIdentityIntroLine(t *testing.T) {
	testlog.Start(t)
	id := Identity{Session: 3, Username: "bob", UserID: "77", ServerKey: "k1"}
	if got := id.IntroLine(); got != "200 3 bob#77 k1 <none> 0 N 77" {
		t.Fatalf("intro got=%q", got)
	}
	id.Password = "secret"
	id.BannerMode = "Y"
	if got := id.IntroLine(); got != "200 3 bob#77 k1 secret 0 Y 77" {
		t.Fatalf("intro got=%q", got)
	}
}

func TestParseHandshakeRoundTripsAckLine(t *testing.T) {
	testlog.Start(t)
	want := Handshake{
		SessionID:         3,
		ChannelID:         9,
		FeatureVersion:    17,
		SessionKey:        "7.3.9.42",
		ServerIP:          "10.0.0.1",
		ServerTime:        1700000000,
		BufferSize:        8192,
		InitialPopulation: 12,
		HasPassword:       true,
	}
	_, rest := protocol.SplitTag(want.AckLine(true))
	_, fields, _ := strings.Cut(rest, " ")
	got, err := ParseHandshake(fields)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("handshake mismatch got=%+v want=%+v", got, want)
	}
}

func TestParseHandshakeWithoutPasswordFlag(t *testing.T) {
	testlog.Start(t)
	got, err := ParseHandshake("3 9 16 k 10.0.0.1 1000 4096 2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.HasPassword {
		t.Fatalf("missing flag means no password")
	}
	f := got.Features()
	if !f.Sequence || f.Lock || f.MoveTimes || f.Obfuscation {
		t.Fatalf("unexpected features for version 16: %+v", f)
	}
}

func TestParseHandshakeRejectsBadFields(t *testing.T) {
	testlog.Start(t)
	_, err := ParseHandshake("3 9 16 k 10.0.0.1 1000 4096 2 7")
	if !errors.Is(err, ErrMalformedHandshakeField) {
		t.Fatalf("password flag 7 should be malformed, got=%v", err)
	}
	if KindOf(err) != KindMalformedHandshakeField {
		t.Fatalf("kind got=%v", KindOf(err))
	}

	_, err = ParseHandshake("3 9 16 k")
	if !errors.Is(err, protocol.ErrMissingField) {
		t.Fatalf("short line should report a missing field, got=%v", err)
	}
	_, err = ParseHandshake("3 nine 16 k 10.0.0.1 1000 4096 2")
	if !errors.Is(err, protocol.ErrInvalidInt) {
		t.Fatalf("non-numeric channel should be invalid, got=%v", err)
	}
}

func TestFeatureGates(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		version int
		time    int64
		want    Features
	}{
		{version: 14, time: 1, want: Features{}},
		{version: 15, time: 2, want: Features{}},
		{version: 15, time: 3, want: Features{Obfuscation: true}},
		{version: 16, time: 2, want: Features{Sequence: true}},
		{version: 17, time: 2, want: Features{Sequence: true, Lock: true}},
		{version: 18, time: 5, want: Features{Obfuscation: true, Sequence: true, Lock: true, MoveTimes: true}},
	}
	for _, tc := range cases {
		h := Handshake{FeatureVersion: tc.version, ServerTime: tc.time}
		if got := h.Features(); got != tc.want {
			t.Fatalf("version=%d time=%d got=%+v want=%+v", tc.version, tc.time, got, tc.want)
		}
	}
}

func TestObfuscationKey(t *testing.T) {
	testlog.Start(t)
	h := Handshake{SessionKey: "7.3.9.42", ServerTime: 1<<32 + 5}
	key, err := h.ObfuscationKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	want := ObfuscationKey{R1: 7, R2: 3, R3: 9, R4: 42, Seed: 5}
	if key != want {
		t.Fatalf("key got=%+v want=%+v", key, want)
	}

	for _, bad := range []string{"7.3.9", "7.3.9.42.1", "a.b.c.d", ""} {
		h.SessionKey = bad
		if _, err := h.ObfuscationKey(); !errors.Is(err, ErrMalformedHandshakeField) {
			t.Fatalf("session key %q should be malformed, got=%v", bad, err)
		}
	}
}

func TestClockOffset(t *testing.T) {
	testlog.Start(t)
	now := time.UnixMilli(1_000_000_500)
	h := Handshake{ServerTime: 1_000_010}
	if got := h.ClockOffset(now); got != 9500*time.Millisecond {
		t.Fatalf("offset got=%v", got)
	}
}
