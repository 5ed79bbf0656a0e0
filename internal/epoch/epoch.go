// Package epoch implements epoch-based reclamation for ssndb's version
// chains: a global epoch counter that advances only once every
// registered, currently-pinned participant has observed it, plus a
// deferred-free queue that releases a retired version only after the
// global epoch has advanced twice past the epoch in which it was unlinked.
//
// The background advancer is structured like the teacher's watermark
// goroutine (dborchard-tiny-txn pkg/txn/d_watermark.go): a dedicated
// goroutine driven by a ticker instead of an event channel, with the same
// Stop-channel shutdown idiom. The "minimum observed timestamp" bookkeeping
// is grounded on the other_examples epoch.Manager (okian-lfdb/manager.go),
// adapted from a registered-timestamp set to a pinned/unpinned participant
// set since ssndb needs Enter/Exit pairing rather than snapshot refcounts.
package epoch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"ssndb/internal/metrics"
)

// gracePeriod is the number of full epoch advances a retired item must
// survive before it is safe to free: two transitions past the epoch in
// which it was unlinked.
const gracePeriod = 2

// Manager owns the global epoch counter, the participant set, and the
// deferred-free queue.
type Manager struct {
	mu           sync.Mutex
	epoch        uint64
	participants map[*Participant]struct{}
	retired      map[uint64][]func()

	stopCh chan struct{}
	wg     sync.WaitGroup

	log     *zap.SugaredLogger
	metrics *metrics.Registry

	stats Stats
}

// Stats is a snapshot of reclamation counters, exposed for observability.
type Stats struct {
	CyclesRun         uint64
	VersionsReclaimed uint64
	CurrentEpoch      uint64
}

// Config controls background epoch advancement.
type Config struct {
	// AdvanceInterval is how often the background goroutine attempts to
	// advance the epoch. Zero disables the background goroutine; callers
	// must then call Advance() themselves (useful in tests).
	AdvanceInterval time.Duration
	Logger          *zap.SugaredLogger
	Metrics         *metrics.Registry
}

// NewManager creates a Manager starting at epoch 1 (0 is reserved to mean
// "never entered" on a fresh Participant).
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		epoch:        1,
		participants: make(map[*Participant]struct{}),
		retired:      make(map[uint64][]func()),
		stopCh:       make(chan struct{}),
		log:          log,
		metrics:      cfg.Metrics,
	}
	if cfg.AdvanceInterval > 0 {
		m.wg.Add(1)
		go m.runAdvancer(cfg.AdvanceInterval)
	}
	return m
}

// Participant is a single reader/writer's registration with the epoch
// manager: each goroutine enters and exits a read-side region around any
// access to a version chain. Despite the name, nothing requires one per
// OS thread — in Go it is
// typically one per goroutine that touches version chains, acquired once
// at goroutine start and reused across many Enter/Exit pairs.
type Participant struct {
	mgr    *Manager
	pinned bool   // guarded by mgr.mu only during register/deregister; Enter/Exit use atomics
	local  uint64 // epoch observed at last Enter; meaningful only while pinnedFlag is set
}

// RegisterThread registers a new participant.
func (m *Manager) RegisterThread() *Participant {
	p := &Participant{mgr: m}
	m.mu.Lock()
	m.participants[p] = struct{}{}
	m.mu.Unlock()
	return p
}

// DeregisterThread removes a participant. The participant must not be
// pinned.
func (p *Participant) DeregisterThread() {
	p.mgr.mu.Lock()
	delete(p.mgr.participants, p)
	p.mgr.mu.Unlock()
}

// Enter begins a read-side critical region, pinning the participant at the
// current global epoch.
func (p *Participant) Enter() {
	p.mgr.mu.Lock()
	p.local = p.mgr.epoch
	p.pinned = true
	p.mgr.mu.Unlock()
}

// Exit ends the critical region.
func (p *Participant) Exit() {
	p.mgr.mu.Lock()
	p.pinned = false
	p.mgr.mu.Unlock()
}

// Epoch returns the current global epoch.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// DeferFree queues fn to run once the global epoch has advanced gracePeriod
// times past unlinkEpoch, i.e. once no participant could still be pinned at
// an epoch that observed the unlinked version reachable. Callers pass the
// epoch observed via Epoch() at the moment they performed the unlinking CAS.
func (m *Manager) DeferFree(unlinkEpoch uint64, fn func()) {
	m.mu.Lock()
	m.retired[unlinkEpoch] = append(m.retired[unlinkEpoch], fn)
	m.mu.Unlock()
}

// Advance attempts one epoch transition. It returns false if some pinned
// participant has not yet observed the current epoch (the classic epoch-
// reclamation gate). On success it also reclaims any retired batch that has
// now survived gracePeriod transitions.
func (m *Manager) Advance() bool {
	m.mu.Lock()
	cur := m.epoch
	for p := range m.participants {
		if p.pinned && p.local != cur {
			m.mu.Unlock()
			return false
		}
	}
	next := cur + 1
	m.epoch = next
	m.stats.CyclesRun++
	m.stats.CurrentEpoch = next

	var toRun []func()
	for e, batch := range m.retired {
		if e+gracePeriod <= next {
			toRun = append(toRun, batch...)
			delete(m.retired, e)
		}
	}
	m.stats.VersionsReclaimed += uint64(len(toRun))
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetEpoch(next)
		m.metrics.AddReclaimed(len(toRun))
	}
	if len(toRun) > 0 {
		m.log.Debugw("epoch reclaimed versions", "epoch", next, "count", len(toRun))
	}
	for _, fn := range toRun {
		fn()
	}
	return true
}

// Stats returns a snapshot of reclamation counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) runAdvancer(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Advance()
		case <-m.stopCh:
			return
		}
	}
}

// Shutdown stops the background advancer (if running) and runs Advance
// until every retired batch has been reclaimed or the gate stalls, draining
// every deferred free before returning.
func (m *Manager) Shutdown() {
	close(m.stopCh)
	m.wg.Wait()

	for i := 0; i < gracePeriod+1; i++ {
		if !m.Advance() {
			break
		}
	}
}
