package searchindex

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Memory is a brute-force Index kept in process memory
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]*Document
	order []string
}

var _ Index = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]*Document),
	}
}

func (m *Memory) Upload(ctx context.Context, docs []*Document) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]bool, len(docs))
	for i, doc := range docs {
		if doc == nil || doc.ID == "" {
			continue
		}
		if _, ok := m.docs[doc.ID]; !ok {
			m.order = append(m.order, doc.ID)
		}
		m.docs[doc.ID] = doc.clone()
		results[i] = true
	}
	return results, nil
}

func (m *Memory) candidates(kind string) []*Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]*Document, 0, len(m.order))
	for _, id := range m.order {
		doc := m.docs[id]
		if kind != "" && doc.Kind != kind {
			continue
		}
		docs = append(docs, doc.clone())
	}
	return docs
}

func (m *Memory) Search(ctx context.Context, q Query) ([]*ScoredDocument, error) {
	if q.Text == "" && len(q.Vector) == 0 {
		return nil, goerr.New("either text or vector is required")
	}

	docs := m.candidates(q.Kind)

	var vector, text []*ScoredDocument
	if len(q.Vector) > 0 {
		vector = rankVector(q.Vector, docs, q.K)
	}
	if q.Text != "" {
		text = rankText(q.Text, docs, q.K)
	}

	return combine(q, vector, text), nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return doc.clone(), nil
}

func (m *Memory) Delete(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.docs, id)
	}

	order := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.docs[id]; ok {
			order = append(order, id)
		}
	}
	m.order = order
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
