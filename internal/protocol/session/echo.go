package session

import (
	"sort"
	"strings"

	"github.com/danmuck/boardlink/internal/protocol"
)

// EchoEntry is one ledger row: the tag and the outbound command (or, for
// unexpected replies, the full inbound line).
type EchoEntry struct {
	Tag  string
	Seq  int64
	Body string
}

// EchoLedger tracks which tagged commands still owe the server an echo.
//
// A well-behaved client/server pair never accumulates many missing or
// unexpected echoes, so both are reported as tamper evidence.
//
// EchoLedger does no locking of its own; the owning Manager serializes all
// calls under its mutex.
type EchoLedger struct {
	pending    map[string]string
	repeatable map[string]string
	unexpected map[string]string

	// lastMulti remembers the repeatable tag matched most recently, since a
	// single broadcast command can produce several replies with one tag.
	lastMulti string

	missingWarned bool
	extraWarned   bool
}

func NewEchoLedger() *EchoLedger {
	return &EchoLedger{
		pending:    make(map[string]string),
		repeatable: make(map[string]string),
		unexpected: make(map[string]string),
	}
}

func (l *EchoLedger) RegisterPending(tag, body string) {
	l.pending[tag] = body
}

func (l *EchoLedger) RegisterRepeatable(tag, body string) {
	l.repeatable[tag] = body
}

// IsExpectedResponse matches an inbound tag against the ledger. Any reply
// with tag syntax is accepted; the ones nothing was waiting for are recorded
// as unexpected. Only lines that carry no tag at all return false.
func (l *EchoLedger) IsExpectedResponse(tag, fullLine string) bool {
	if _, ok := l.pending[tag]; ok {
		delete(l.pending, tag)
		l.lastMulti = ""
		return true
	}
	if _, ok := l.repeatable[tag]; ok {
		delete(l.repeatable, tag)
		l.lastMulti = tag
		return true
	}
	if l.lastMulti != "" && l.lastMulti == tag {
		return true
	}
	if protocol.IsTag(tag) {
		l.unexpected[tag] = fullLine
		return true
	}
	return false
}

// Overdue lists pending and repeatable entries whose sequence is <= upTo.
func (l *EchoLedger) Overdue(upTo int64) []EchoEntry {
	out := make([]EchoEntry, 0)
	for _, table := range []map[string]string{l.pending, l.repeatable} {
		for tag, body := range table {
			seq, err := protocol.TagNumber(tag)
			if err != nil || seq > upTo {
				continue
			}
			out = append(out, EchoEntry{Tag: tag, Seq: seq, Body: body})
		}
	}
	sortEntries(out)
	return out
}

// TakeMissingReport returns the overdue entries when a missing-echo warning
// is due. The warning latches after the first report unless debug is set.
func (l *EchoLedger) TakeMissingReport(upTo int64, debug bool) ([]EchoEntry, bool) {
	if l.missingWarned {
		return nil, false
	}
	overdue := l.Overdue(upTo)
	if len(overdue) == 0 {
		return nil, false
	}
	l.missingWarned = !debug
	return overdue, true
}

// TakeExtraReport returns the unexpected replies once per ledger lifetime.
func (l *EchoLedger) TakeExtraReport() ([]EchoEntry, bool) {
	if l.extraWarned || len(l.unexpected) == 0 {
		return nil, false
	}
	l.extraWarned = true
	return l.Unexpected(), true
}

func (l *EchoLedger) Unexpected() []EchoEntry {
	return entriesOf(l.unexpected)
}

func (l *EchoLedger) Pending() []EchoEntry {
	return entriesOf(l.pending)
}

func (l *EchoLedger) Repeatable() []EchoEntry {
	return entriesOf(l.repeatable)
}

// Clear drops every entry and re-arms both warnings.
func (l *EchoLedger) Clear() {
	clear(l.pending)
	clear(l.repeatable)
	clear(l.unexpected)
	l.lastMulti = ""
	l.missingWarned = false
	l.extraWarned = false
}

// FormatEchoEntries renders entries one per line as "<tag> <body>".
func FormatEchoEntries(entries []EchoEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Tag)
		b.WriteByte(' ')
		b.WriteString(e.Body)
		b.WriteByte('\n')
	}
	return b.String()
}

func entriesOf(table map[string]string) []EchoEntry {
	out := make([]EchoEntry, 0, len(table))
	for tag, body := range table {
		seq, _ := protocol.TagNumber(tag)
		out = append(out, EchoEntry{Tag: tag, Seq: seq, Body: body})
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []EchoEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seq != entries[j].Seq {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].Tag < entries[j].Tag
	})
}
