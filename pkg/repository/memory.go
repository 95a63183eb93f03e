package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
)

type memoryEntry struct {
	rec *model.Record
	seq uint64
}

// Memory is a process-local Repository
type Memory struct {
	mu      sync.RWMutex
	records map[model.RecordID]memoryEntry
	seq     uint64
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[model.RecordID]memoryEntry),
	}
}

func (m *Memory) PutRecord(ctx context.Context, rec *model.Record) error {
	if rec == nil || rec.ID == "" {
		return goerr.New("record ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.records[rec.ID] = memoryEntry{rec: rec.Clone(), seq: m.seq}
	return nil
}

func (m *Memory) GetRecord(ctx context.Context, id model.RecordID) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return entry.rec.Clone(), nil
}

func (m *Memory) ListRecords(ctx context.Context, q Query) ([]*model.Record, error) {
	m.mu.RLock()
	entries := make([]memoryEntry, 0, len(m.records))
	for _, entry := range m.records {
		if q.match(entry.rec) {
			entries = append(entries, entry)
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].rec.CreatedAt, entries[j].rec.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return entries[i].seq > entries[j].seq
	})

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	records := make([]*model.Record, len(entries))
	for i, entry := range entries {
		records[i] = entry.rec.Clone()
	}
	return records, nil
}

func (m *Memory) DeleteRecord(ctx context.Context, id model.RecordID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
