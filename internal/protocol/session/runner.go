package session

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/boardlink/internal/protocol"
)

// LineHandler receives inbound lines with any echo tag already stripped.
type LineHandler func(tag, line string)

// Runner owns the polling goroutine of a Manager: it advances the state
// machine, drains inbound lines, runs health checks and pings, and paces
// reconnects with backoff.
type Runner struct {
	m       *Manager
	cfg     Config
	handler LineHandler
	rng     *rand.Rand
	now     func() time.Time
	// pingSeq is the tag number of the last ping sent, 0 before any.
	pingSeq atomic.Int64
}

func NewRunner(m *Manager, handler LineHandler) *Runner {
	return &Runner{
		m:       m,
		cfg:     m.cfg,
		handler: handler,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     m.now,
	}
}

// Run polls until ctx ends or the session is barred from reconnecting.
func (r *Runner) Run(ctx context.Context) error {
	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	health := time.NewTicker(r.cfg.HealthInterval)
	defer health.Stop()

	var pingC <-chan time.Time
	if r.cfg.PingInterval > 0 {
		ping := time.NewTicker(r.cfg.PingInterval)
		defer ping.Stop()
		pingC = ping.C
	}

	pacer := newReconnectPacer(r.cfg.Backoff, r.rng)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-health.C:
			r.m.HealthCheck()
			r.m.CheckExtra()
		case <-pingC:
			r.SendPing()
		case <-poll.C:
			if r.m.Policy().NeverReconnect {
				return ErrReconnectDisabled
			}
			if r.m.ConnectionFailed() {
				r.m.SetExitFlag("connection failed")
			}
			state := r.m.State()
			if state == StateDisconnected || state == StateUnconnected {
				if !pacer.allow(r.now()) {
					continue
				}
			}
			if r.m.Advance() {
				pacer.reset()
				r.Drain()
			}
		}
	}
}

// SendPing sends a ping stamped with the local clock and remembers its tag
// number, so the reply can check the echoes owed for earlier commands.
func (r *Runner) SendPing() bool {
	if !r.m.IsConnected() {
		return false
	}
	seq := r.m.Sequence()
	if !r.m.Send(protocol.SendPing+strconv.FormatInt(r.now().UnixMilli(), 10), false) {
		return false
	}
	r.pingSeq.Store(seq)
	return true
}

// Drain hands every queued inbound line to the handler, settling echo tags
// and ping replies on the way. It returns the number of lines handled.
func (r *Runner) Drain() int {
	n := 0
	for {
		line, ok := r.m.NextInboundLine()
		if !ok {
			return n
		}
		n++
		tag, rest := protocol.SplitTag(line)
		if tag != "" {
			r.m.IsExpectedResponse(tag, line)
		}
		if code, body, _ := strings.Cut(rest, " "); code == protocol.EchoPing {
			if sent, err := strconv.ParseInt(strings.TrimSpace(body), 10, 64); err == nil {
				r.m.AddPing(r.now().UnixMilli() - sent)
				// every command tagged before the ping should have echoed by now
				if seq := r.pingSeq.Load(); seq > 0 {
					r.m.CheckMissing(seq - 1)
				}
			}
		}
		if r.handler != nil {
			r.handler(tag, rest)
		}
	}
}
