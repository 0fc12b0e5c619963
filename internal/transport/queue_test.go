package transport

import (
	"testing"
	"time"

	"github.com/danmuck/boardlink/internal/testutil/testlog"
)

func TestLineQueueFIFOAndCapacity(t *testing.T) {
	testlog.Start(t)
	q := newLineQueue("in", 2, 0)
	if !q.put("a") || !q.put("b") {
		t.Fatalf("puts within capacity should succeed")
	}
	if q.put("c") {
		t.Fatalf("put over capacity should fail")
	}
	if line, ok := q.peek(); !ok || line != "a" {
		t.Fatalf("peek got=%q ok=%v", line, ok)
	}
	if line, _ := q.take(); line != "a" {
		t.Fatalf("take got=%q", line)
	}
	if line, _ := q.take(); line != "b" {
		t.Fatalf("take got=%q", line)
	}
	if _, ok := q.take(); ok {
		t.Fatalf("queue should be empty")
	}
	if got := q.stateSummary(); got != "in:0/2 lost=1" {
		t.Fatalf("summary got=%q", got)
	}
}

func TestLineQueueStallMakesUnhealthy(t *testing.T) {
	testlog.Start(t)
	clock := time.Unix(100, 0)
	q := newLineQueue("out", 0, time.Second)
	q.now = func() time.Time { return clock }

	if !q.healthCheck() {
		t.Fatalf("empty queue is healthy")
	}
	q.put("a")
	clock = clock.Add(500 * time.Millisecond)
	if !q.healthCheck() {
		t.Fatalf("fresh line is healthy")
	}
	clock = clock.Add(time.Second)
	if q.healthCheck() {
		t.Fatalf("stalled line should be unhealthy")
	}
	q.take()
	if !q.healthCheck() {
		t.Fatalf("drained queue is healthy")
	}
}

func TestLineQueueSignalDoesNotBlock(t *testing.T) {
	testlog.Start(t)
	q := newLineQueue("in", 0, 0)
	for i := 0; i < 5; i++ {
		q.put("x")
	}
	select {
	case <-q.ready:
	default:
		t.Fatalf("ready should be signalled")
	}
	if q.size() != 5 {
		t.Fatalf("size got=%d", q.size())
	}
}
