package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is one line of the communications log.
type LogEntry struct {
	Seq  uint64
	At   time.Time
	Text string
}

// EventLog is a bounded, ordered record of recent traffic and events. It is
// attached to error reports so they show what happened around the failure
// in the order it happened.
type EventLog struct {
	mu       sync.Mutex
	entries  []LogEntry
	capacity int
	next     uint64
	seen     uint64
	now      func() time.Time
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 50
	}
	return &EventLog{
		entries:  make([]LogEntry, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Add appends the concatenation of parts, dropping the oldest entry when
// the log is full.
func (l *EventLog) Add(parts ...any) {
	text := fmt.Sprint(parts...)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	entry := LogEntry{Seq: l.next, At: l.now(), Text: text}
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
		return
	}
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the retained entries, oldest first.
func (l *EventLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Unseen renders the entries added since the previous Unseen call and marks
// them seen.
func (l *EventLog) Unseen() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	for _, e := range l.entries {
		if e.Seq <= l.seen {
			continue
		}
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}
	l.seen = l.next
	return b.String()
}

func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
