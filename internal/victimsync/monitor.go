package victimsync

import (
	"sync"

	"github.com/dreamware/edgecache/internal/wire"
)

// DefaultPendingCapacity bounds how many out-of-order compressed syncsets a
// VictimsyncMonitor caches before giving up on reassembly and demanding a
// fresh complete resync.
const DefaultPendingCapacity = 8

// VictimsyncMonitor is the per-neighbor synchronization state machine:
// an outbound sequence counter plus the last complete batch
// sent, and an inbound tracked state plus a bounded cache of compressed
// syncsets that arrived before their predecessor.
type VictimsyncMonitor struct {
	mu sync.Mutex

	pendingCapacity int

	// outbound
	outSeq               uint64
	outboundPrior        map[string]wire.VictimDirinfo // nil means "next send must be complete"
	needEnforcementOnOut bool                          // request the peer reset, piggybacked on our next send

	// inbound
	inSeq        uint64
	inHasTracked bool
	inTracked    map[string]wire.VictimDirinfo
	pending      map[uint64]wire.VictimSyncset
}

// NewVictimsyncMonitor creates a monitor with DefaultPendingCapacity.
func NewVictimsyncMonitor() *VictimsyncMonitor {
	return NewVictimsyncMonitorWithCapacity(DefaultPendingCapacity)
}

// NewVictimsyncMonitorWithCapacity creates a monitor with an explicit
// bound on the out-of-order compressed syncset cache.
func NewVictimsyncMonitorWithCapacity(pendingCapacity int) *VictimsyncMonitor {
	if pendingCapacity <= 0 {
		pendingCapacity = DefaultPendingCapacity
	}
	return &VictimsyncMonitor{
		pendingCapacity: pendingCapacity,
		pending:         make(map[uint64]wire.VictimSyncset),
	}
}

// Prepare builds the next outbound syncset to send to this neighbor given
// the local edge's current complete victim batch. It atomically advances
// the outbound sequence number, computes a complete or delta form against
// the last batch sent, and piggybacks an enforce_complete request if this
// monitor's inbound side previously detected an unrecoverable gap.
func (m *VictimsyncMonitor) Prepare(current map[string]wire.VictimDirinfo) wire.VictimSyncset {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outSeq++
	enforce := m.needEnforcementOnOut
	m.needEnforcementOnOut = false

	msg := wire.CompressVictimSyncset(m.outSeq, enforce, m.outboundPrior, current)

	cp := make(map[string]wire.VictimDirinfo, len(current))
	for k, v := range current {
		cp[k] = v
	}
	m.outboundPrior = cp
	return msg
}

// Apply processes an inbound syncset from this neighbor, returning the
// reconstructed complete batch and whether a complete state was reached
// (directly, by delta against the tracked state, or by draining cached
// out-of-order syncsets). When the syncset carries enforce_complete, this
// monitor's outbound side is reset so its next Prepare call emits a
// complete syncset for the reverse direction.
func (m *VictimsyncMonitor) Apply(msg wire.VictimSyncset) (batch map[string]wire.VictimDirinfo, complete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.EnforceComplete {
		m.outboundPrior = nil
	}

	if msg.Complete {
		m.inTracked = msg.Recover(nil)
		m.inSeq = msg.SeqNum
		m.inHasTracked = true
		m.drainPendingLocked()
		return m.copyTrackedLocked(), true
	}

	if m.inHasTracked && msg.SeqNum == m.inSeq+1 {
		m.inTracked = msg.Recover(m.inTracked)
		m.inSeq = msg.SeqNum
		m.drainPendingLocked()
		return m.copyTrackedLocked(), true
	}

	// Out of order (or no tracked state yet): cache it.
	m.pending[msg.SeqNum] = msg
	if len(m.pending) > m.pendingCapacity {
		// The cache filled before a contiguous complete arrived: give up
		// on reassembly and ask the peer for a fresh complete resync.
		m.pending = make(map[uint64]wire.VictimSyncset)
		m.needEnforcementOnOut = true
	}
	return nil, false
}

func (m *VictimsyncMonitor) drainPendingLocked() {
	for {
		next, ok := m.pending[m.inSeq+1]
		if !ok {
			return
		}
		if next.Complete {
			m.inTracked = next.Recover(nil)
		} else {
			m.inTracked = next.Recover(m.inTracked)
		}
		m.inSeq = next.SeqNum
		delete(m.pending, m.inSeq)
	}
}

func (m *VictimsyncMonitor) copyTrackedLocked() map[string]wire.VictimDirinfo {
	cp := make(map[string]wire.VictimDirinfo, len(m.inTracked))
	for k, v := range m.inTracked {
		cp[k] = v
	}
	return cp
}

// NeedsEnforcementRequest reports whether this monitor's next outbound
// syncset will carry enforce_complete, for diagnostics and tests.
func (m *VictimsyncMonitor) NeedsEnforcementRequest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needEnforcementOnOut
}
