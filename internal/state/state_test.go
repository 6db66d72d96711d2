package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

var checkedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func online(id string, tools int, at time.Time) probe.Outcome {
	return probe.Outcome{ID: id, Status: probe.StatusOnline, CheckedAt: at, Tools: make([]probe.Tool, tools)}
}

func failed(id string, at time.Time) probe.Outcome {
	return probe.Outcome{ID: id, Status: probe.StatusOffline, CheckedAt: at, Error: probe.TimeoutMessage}
}

// =============================================================================
// Record Tests
// =============================================================================

func TestRecord_Apply(t *testing.T) {
	rec := &Record{}

	rec.Apply(online("a", 3, checkedAt))
	if rec.ID != "a" || rec.LastStatus != probe.StatusOnline || rec.ToolCount != 3 || rec.ProbeCount != 1 {
		t.Fatalf("after online = %+v", rec)
	}
	if !rec.LastOnline.Equal(checkedAt) {
		t.Errorf("LastOnline = %v, want %v", rec.LastOnline, checkedAt)
	}

	later := checkedAt.Add(time.Hour)
	rec.Apply(failed("a", later))
	rec.Apply(failed("a", later.Add(time.Hour)))

	if rec.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", rec.ConsecutiveFailures)
	}
	if rec.LastError != probe.TimeoutMessage {
		t.Errorf("LastError = %q", rec.LastError)
	}
	if rec.ToolCount != 3 {
		t.Errorf("ToolCount = %d, failures should keep the last known count", rec.ToolCount)
	}
	if !rec.LastOnline.Equal(checkedAt) {
		t.Error("failures should not move LastOnline")
	}

	rec.Apply(online("a", 1, later.Add(2*time.Hour)))
	if rec.ConsecutiveFailures != 0 || rec.LastError != "" || rec.ProbeCount != 4 {
		t.Errorf("after recovery = %+v", rec)
	}
}

func TestRecord_Stale(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		threshold int
		want      bool
	}{
		{"below threshold", 2, 3, false},
		{"at threshold", 3, 3, true},
		{"above threshold", 7, 3, true},
		{"disabled", 10, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{ConsecutiveFailures: tt.failures}
			if got := rec.Stale(tt.threshold); got != tt.want {
				t.Errorf("Stale(%d) = %v, want %v", tt.threshold, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Store Tests
// =============================================================================

func testStore(t *testing.T, s Store) {
	t.Helper()

	rec, err := s.Get("missing")
	if err != nil || rec != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", rec, err)
	}

	err = s.Put(
		&Record{ID: "zeta", LastStatus: probe.StatusError, LastChecked: checkedAt, ProbeCount: 1},
		&Record{ID: "alpha", LastStatus: probe.StatusOnline, LastChecked: checkedAt, LastOnline: checkedAt, ProbeCount: 2, ToolCount: 4},
	)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get("alpha")
	if err != nil || got == nil {
		t.Fatalf("Get(alpha) = %v, %v", got, err)
	}
	if got.ToolCount != 4 || !got.LastOnline.Equal(checkedAt) {
		t.Errorf("Get(alpha) = %+v", got)
	}

	// Returned records are copies.
	got.ToolCount = 99
	again, _ := s.Get("alpha")
	if again.ToolCount != 4 {
		t.Error("mutating a returned record changed the store")
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "alpha" || list[1].ID != "zeta" {
		t.Errorf("List() order = %v", list)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testStore(t, s)
}

func TestBoltStore(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestBoltStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	if err := s.Put(&Record{ID: "a", ProbeCount: 3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	rec, err := s.Get("a")
	if err != nil || rec == nil || rec.ProbeCount != 3 {
		t.Errorf("Get(a) after reopen = %+v, %v", rec, err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q", s.Path())
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManager_Record(t *testing.T) {
	m := NewManager(NewMemoryStore(), 2, nil)

	stale, err := m.Record([]probe.Outcome{online("a", 2, checkedAt), failed("b", checkedAt)})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale after one run = %v", stale)
	}

	stale, err = m.Record([]probe.Outcome{online("a", 2, checkedAt), failed("b", checkedAt)})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "b" {
		t.Errorf("stale after two runs = %v", stale)
	}

	records, err := m.Records()
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 2 || records[0].ProbeCount != 2 || records[1].ConsecutiveFailures != 2 {
		t.Errorf("Records() = %+v, %+v", records[0], records[1])
	}
}

func TestManager_RecordDuplicateOutcomes(t *testing.T) {
	m := NewManager(nil, DefaultStaleAfter, nil)

	if _, err := m.Record([]probe.Outcome{failed("a", checkedAt), online("a", 1, checkedAt)}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	records, _ := m.Records()
	if len(records) != 1 || records[0].ProbeCount != 2 || records[0].LastStatus != probe.StatusOnline {
		t.Errorf("Records() = %+v", records)
	}
}

func TestManager_BoltRoundTrip(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	m := NewManager(store, 1, nil)
	defer m.Close()

	stale, err := m.Record([]probe.Outcome{failed("down", checkedAt)})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(stale) != 1 {
		t.Errorf("stale = %d, want 1", len(stale))
	}
	if m.StaleAfter() != 1 {
		t.Errorf("StaleAfter() = %d", m.StaleAfter())
	}
}
