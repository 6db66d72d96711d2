// Package state keeps a per-server probe history across runs.
package state

import (
	"fmt"

	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

// DefaultStaleAfter is the number of consecutive failed probes after which
// a server is reported as stale.
const DefaultStaleAfter = 5

// Manager folds probe outcomes into the history store.
type Manager struct {
	store      Store
	staleAfter int
	logger     *logger.Logger
}

// NewManager creates a history manager. A nil store keeps history in memory
// for the lifetime of the process.
func NewManager(store Store, staleAfter int, log *logger.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{
		store:      store,
		staleAfter: staleAfter,
		logger:     logger.OrNop(log).WithComponent("history"),
	}
}

// StaleAfter returns the consecutive failure threshold.
func (m *Manager) StaleAfter() int {
	return m.staleAfter
}

// Record applies outcomes to their records and persists them in one
// transaction. It returns the records that are stale after this run.
func (m *Manager) Record(outcomes []probe.Outcome) ([]*Record, error) {
	updated := make(map[string]*Record, len(outcomes))
	order := make([]string, 0, len(outcomes))

	for _, o := range outcomes {
		rec, ok := updated[o.ID]
		if !ok {
			var err error
			rec, err = m.store.Get(o.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to read history for %s: %w", o.ID, err)
			}
			if rec == nil {
				rec = &Record{ID: o.ID}
			}
			updated[o.ID] = rec
			order = append(order, o.ID)
		}
		rec.Apply(o)
	}

	records := make([]*Record, 0, len(order))
	var stale []*Record
	for _, id := range order {
		rec := updated[id]
		records = append(records, rec)
		if rec.Stale(m.staleAfter) {
			stale = append(stale, rec)
		}
	}

	if err := m.store.Put(records...); err != nil {
		return nil, fmt.Errorf("failed to save history: %w", err)
	}

	for _, rec := range stale {
		m.logger.WithField("server", rec.ID).
			WithField("failures", rec.ConsecutiveFailures).
			WithField("last_online", rec.LastOnline).
			Warn("Server has been unreachable for several runs")
	}
	m.logger.Debugf("Recorded %d probe results", len(records))

	return stale, nil
}

// Records returns the full history ordered by identity.
func (m *Manager) Records() ([]*Record, error) {
	return m.store.List()
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
