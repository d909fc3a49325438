package store

import (
	"context"
	"sync"

	"pricewatch/internal/model"
)

// Memory keeps inserts in process, for tests and database-less runs.
type Memory struct {
	mu         sync.Mutex
	nextID     int64
	Products   []model.ProductRecord
	Variations map[int64][]model.VariationRecord

	// FailWith, when set, makes every insert fail. Used to exercise
	// the batch layer's db_error path.
	FailWith error
}

func NewMemory() *Memory {
	return &Memory{nextID: 1, Variations: make(map[int64][]model.VariationRecord)}
}

func (m *Memory) InsertProduct(_ context.Context, rec *model.ProductRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return 0, &PersistError{Op: "insert product", Err: m.FailWith}
	}
	id := m.nextID
	m.nextID++
	m.Products = append(m.Products, *rec)
	return id, nil
}

func (m *Memory) InsertVariations(_ context.Context, productID int64, variations []model.VariationRecord, _ string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return nil, &PersistError{Op: "insert variations", Err: m.FailWith}
	}
	ids := make([]int64, 0, len(variations))
	for range variations {
		ids = append(ids, m.nextID)
		m.nextID++
	}
	m.Variations[productID] = append(m.Variations[productID], variations...)
	return ids, nil
}

func (m *Memory) Close() error { return nil }
