package session

import "fmt"

// initialMinPing is the starting low-water mark; it is even so bit 0 starts
// clear.
const initialMinPing int64 = 999999998

// PingTracker keeps round-trip statistics. Bit 0 of min and max is not part
// of the number: each is a sticky out-of-band flag (extra input seen on min,
// send deficit seen on max). Use Min/Max for the numeric values.
//
// Like EchoLedger it relies on the owning Manager for locking.
type PingTracker struct {
	count int64
	sum   int64
	last  int64
	min   int64
	max   int64
}

// PingSnapshot is a plain copy of the tracker state.
type PingSnapshot struct {
	Count          int64
	Sum            int64
	Last           int64
	Min            int64
	Max            int64
	Average        int64
	ExtraInputSeen bool
	DeficitSeen    bool
}

func NewPingTracker() PingTracker {
	return PingTracker{min: initialMinPing}
}

// AddPing folds one round-trip sample into the statistics.
func (p *PingTracker) AddPing(sample int64) {
	numeric := sample &^ 1
	curMin := p.min &^ 1
	if p.count == 0 && curMin == 0 {
		// zeroed by Reset; the first sample sets the low-water mark
		curMin = numeric
	}
	p.count++
	p.sum += sample
	p.last = sample
	p.min = (p.min & 1) | min(curMin, numeric)
	p.max = (p.max & 1) | max(p.max&^1, numeric)
}

// FlagPing sets the extra-input flag and reports whether it was already set.
func (p *PingTracker) FlagPing() bool {
	was := p.min&1 != 0
	p.min |= 1
	return was
}

// FlagDeficit sets the deficit flag and reports whether it was already set.
func (p *PingTracker) FlagDeficit() bool {
	was := p.max&1 != 0
	p.max |= 1
	return was
}

func (p *PingTracker) Reset() {
	*p = PingTracker{}
}

func (p *PingTracker) Count() int64 { return p.count }
func (p *PingTracker) Last() int64  { return p.last }
func (p *PingTracker) Min() int64   { return p.min &^ 1 }
func (p *PingTracker) Max() int64   { return p.max &^ 1 }

func (p *PingTracker) ExtraInputSeen() bool { return p.min&1 != 0 }
func (p *PingTracker) DeficitSeen() bool    { return p.max&1 != 0 }

func (p *PingTracker) Average() int64 {
	if p.count <= 0 {
		return 0
	}
	return p.sum / p.count
}

func (p *PingTracker) Snapshot() PingSnapshot {
	return PingSnapshot{
		Count:          p.count,
		Sum:            p.sum,
		Last:           p.last,
		Min:            p.Min(),
		Max:            p.Max(),
		Average:        p.Average(),
		ExtraInputSeen: p.ExtraInputSeen(),
		DeficitSeen:    p.DeficitSeen(),
	}
}

// Summary renders "P:last,avg,min,max" with min and max in their raw,
// flag-carrying form.
func (p *PingTracker) Summary() string {
	return fmt.Sprintf("P:%d,%d,%d,%d", p.last, p.Average(), p.min, p.max)
}
