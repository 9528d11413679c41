package sync

import (
	stdsync "sync"
	"time"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

const (
	// burstCount writes spaced less than burstGap apart flips the client
	// into agent mode.
	burstCount = 3
	burstGap   = 50 * time.Millisecond

	// burstHold keeps agent mode on after the last qualifying write.
	burstHold = 2 * time.Second

	// DebounceHuman and DebounceAgent are the per-file flush delays.
	DebounceHuman = 300 * time.Millisecond
	DebounceAgent = 100 * time.Millisecond

	writeWindowSize = 20
)

// AgentDetector watches local write timing and classifies the author as a
// human or a code agent. Rapid bursts of writes only ever come from tools.
type AgentDetector struct {
	mu         stdsync.Mutex
	writes     []time.Time
	burstUntil time.Time
	now        func() time.Time
}

func NewAgentDetector() *AgentDetector {
	return &AgentDetector{now: time.Now}
}

// RecordWrite notes one local write event.
func (d *AgentDetector) RecordWrite() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.writes = append(d.writes, now)
	if len(d.writes) > writeWindowSize {
		d.writes = d.writes[len(d.writes)-writeWindowSize:]
	}

	if len(d.writes) < burstCount {
		return
	}

	tail := d.writes[len(d.writes)-burstCount:]
	for i := 1; i < len(tail); i++ {
		if tail[i].Sub(tail[i-1]) >= burstGap {
			return
		}
	}
	d.burstUntil = now.Add(burstHold)
}

// Active reports whether the detector currently considers writes to be
// agent-driven.
func (d *AgentDetector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.burstUntil)
}

func (d *AgentDetector) AuthorType() message.AuthorType {
	if d.Active() {
		return message.AuthorAgent
	}
	return message.AuthorHuman
}

func (d *AgentDetector) LockType() message.LockType {
	if d.Active() {
		return message.LockAgentWriting
	}
	return message.LockEditing
}

// Debounce returns the flush delay for the current mode. Agents write fast
// and expect fast propagation.
func (d *AgentDetector) Debounce() time.Duration {
	if d.Active() {
		return DebounceAgent
	}
	return DebounceHuman
}
