package eventlog

import (
	"context"
	"sync"
)

// Memory keeps records in memory in arrival order.
type Memory struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{records: make([]Record, 0, 64)}
}

// Record appends rec.
func (m *Memory) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of all records.
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// ByNode returns a copy of the records emitted by nodeID.
func (m *Memory) ByNode(nodeID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0)
	for _, rec := range m.records {
		if rec.NodeID == nodeID {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
