package edge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/beacon"
	"github.com/dreamware/edgecache/internal/wire"
)

// neighborStatus tracks one peer edge's reachability: its last check,
// consecutive-failure count, and whether it is currently considered up.
// Thread-safe only when accessed under NeighborMonitor's mutex.
type neighborStatus struct {
	healthy          bool
	consecutiveFails int
	lastCheck        time.Time
}

// NeighborMonitor periodically polls every peer edge's /health endpoint
// and reports which are currently reachable, so BeaconServer's
// invalidation fan-out can skip a neighbor known to be down instead of
// waiting out a full transport timeout on every request.
// CooperationWrapper and CacheServer use their own fixed address maps and
// do not consult it. It implements beacon.Neighbors directly, so
// it can be handed to beacon.New in place of a fixed StaticNeighbors.
//
// An edge's directory ring is fixed at startup, so an unhealthy peer is
// never redistributed away; it is only routed around until its checks
// recover.
type NeighborMonitor struct {
	mu       sync.RWMutex
	status   map[uint32]*neighborStatus
	addrs    map[uint32]wire.Addr
	client   *http.Client
	checkFn  func(addr wire.Addr) error
	interval time.Duration

	maxFailures int
	healthPath  string
	log         zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ beacon.Neighbors = (*NeighborMonitor)(nil)

// NewNeighborMonitor builds a monitor for the given fixed peer address
// book. A peer is marked unhealthy, and stops being offered as a
// fan-out target, after 3 consecutive failed checks.
func NewNeighborMonitor(addrs map[uint32]wire.Addr, interval time.Duration, log zerolog.Logger) *NeighborMonitor {
	status := make(map[uint32]*neighborStatus, len(addrs))
	for idx := range addrs {
		status[idx] = &neighborStatus{healthy: true}
	}
	m := &NeighborMonitor{
		status:      status,
		addrs:       addrs,
		client:      &http.Client{Timeout: 2 * time.Second},
		interval:    interval,
		maxFailures: 3,
		healthPath:  "/health",
		log:         log,
	}
	m.checkFn = m.defaultCheck
	return m
}

// Start launches the periodic polling loop in a background goroutine. It
// performs one check pass immediately so Addr reflects real state before
// the first interval elapses.
func (m *NeighborMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.checkAll()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkAll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (m *NeighborMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *NeighborMonitor) checkAll() {
	for idx, addr := range m.addrs {
		m.checkOne(idx, addr)
	}
}

func (m *NeighborMonitor) checkOne(idx uint32, addr wire.Addr) {
	err := m.checkFn(addr)

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[idx]
	if !ok {
		st = &neighborStatus{healthy: true}
		m.status[idx] = st
	}
	st.lastCheck = time.Now()

	if err != nil {
		st.consecutiveFails++
		if st.consecutiveFails >= m.maxFailures && st.healthy {
			st.healthy = false
			m.log.Warn().Uint32("edge_idx", idx).Err(err).Msg("neighbor marked unhealthy")
		}
		return
	}

	if !st.healthy {
		m.log.Info().Uint32("edge_idx", idx).Msg("neighbor recovered")
	}
	st.consecutiveFails = 0
	st.healthy = true
}

func (m *NeighborMonitor) defaultCheck(addr wire.Addr) error {
	req, err := http.NewRequest(http.MethodGet, "http://"+addr.String()+m.healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// Addr implements beacon.Neighbors: it withholds a peer's address once
// that peer has failed maxFailures consecutive checks, so fan-out skips
// it instead of paying a full transport timeout per invalidation.
func (m *NeighborMonitor) Addr(edgeIdx uint32) (wire.Addr, bool) {
	addr, ok := m.addrs[edgeIdx]
	if !ok {
		return wire.Addr{}, false
	}
	m.mu.RLock()
	st, ok := m.status[edgeIdx]
	m.mu.RUnlock()
	if ok && !st.healthy {
		return wire.Addr{}, false
	}
	return addr, true
}

// EdgeIndices implements beacon.Neighbors.
func (m *NeighborMonitor) EdgeIndices() []uint32 {
	out := make([]uint32, 0, len(m.addrs))
	for idx := range m.addrs {
		out = append(out, idx)
	}
	return out
}
