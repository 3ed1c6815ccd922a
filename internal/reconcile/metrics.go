package reconcile

import (
	"sync"
	"time"

	"github.com/bilheteria/backend/internal/models"
)

// Metrics keeps per-outcome counters for the most recent cycle and
// cumulatively since process start. Amount mismatches are counted
// separately because they flag an order without replacing its primary
// outcome.
type Metrics struct {
	mu sync.Mutex

	cycle      map[models.OutcomeKind]int64
	cumulative map[models.OutcomeKind]int64

	cycleMismatches int64
	totalMismatches int64

	cycles      int64
	lastCycleAt time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		cycle:      map[models.OutcomeKind]int64{},
		cumulative: map[models.OutcomeKind]int64{},
	}
}

// BeginCycle resets the last-cycle counters. Called once per executed
// cycle, after the lock is held; skipped cycles keep the previous
// snapshot visible.
func (m *Metrics) BeginCycle(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycle = map[models.OutcomeKind]int64{}
	m.cycleMismatches = 0
	m.cycles++
	m.lastCycleAt = at
}

// Observe counts one outcome.
func (m *Metrics) Observe(o models.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycle[o.Kind]++
	m.cumulative[o.Kind]++
	if o.AmountMismatch {
		m.cycleMismatches++
		m.totalMismatches++
	}
}

// Snapshot is the JSON shape served to the back office.
type Snapshot struct {
	Cycles               int64                        `json:"cycles"`
	LastCycleAt          time.Time                    `json:"last_cycle_at"`
	LastCycle            map[models.OutcomeKind]int64 `json:"last_cycle"`
	Cumulative           map[models.OutcomeKind]int64 `json:"cumulative"`
	LastCycleMismatches  int64                        `json:"last_cycle_amount_mismatches"`
	CumulativeMismatches int64                        `json:"cumulative_amount_mismatches"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Cycles:               m.cycles,
		LastCycleAt:          m.lastCycleAt,
		LastCycle:            make(map[models.OutcomeKind]int64, len(m.cycle)),
		Cumulative:           make(map[models.OutcomeKind]int64, len(m.cumulative)),
		LastCycleMismatches:  m.cycleMismatches,
		CumulativeMismatches: m.totalMismatches,
	}
	for k, v := range m.cycle {
		snap.LastCycle[k] = v
	}
	for k, v := range m.cumulative {
		snap.Cumulative[k] = v
	}
	return snap
}
