package session

import (
	"testing"

	"github.com/danmuck/boardlink/internal/testutil/testlog"
)

func TestEventLogDropsOldest(t *testing.T) {
	testlog.Start(t)
	l := NewEventLog(3)
	for i := 1; i <= 5; i++ {
		l.Add("line ", i)
	}
	entries := l.Entries()
	if len(entries) != 3 || entries[0].Text != "line 3" || entries[2].Text != "line 5" {
		t.Fatalf("entries got=%+v", entries)
	}
	if entries[0].Seq != 3 {
		t.Fatalf("sequence numbers survive eviction, got=%d", entries[0].Seq)
	}
}

func TestEventLogUnseen(t *testing.T) {
	testlog.Start(t)
	l := NewEventLog(0)
	l.Add("a")
	l.Add("b")
	if got := l.Unseen(); got != "a\nb\n" {
		t.Fatalf("unseen got=%q", got)
	}
	if got := l.Unseen(); got != "" {
		t.Fatalf("second read should be empty, got=%q", got)
	}
	l.Add("c")
	if got := l.Unseen(); got != "c\n" {
		t.Fatalf("unseen got=%q", got)
	}
	if l.Len() != 3 {
		t.Fatalf("len got=%d", l.Len())
	}
}
