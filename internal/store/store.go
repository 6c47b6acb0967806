package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gitevents/internal/model"

	"github.com/google/uuid"
)

var ErrInvalidInput = errors.New("invalid input")

// RecordID identifies a stored record. It is internal to the store and never
// part of the public record shape.
type RecordID string

type StoredRecord struct {
	ID         RecordID
	Record     model.Record
	ReceivedAt time.Time
}

// Repository is append-only: records can be inserted and read back in bulk,
// never updated or deleted.
type Repository interface {
	Insert(ctx context.Context, record model.Record) (RecordID, error)
	// ListAll returns every stored record in insertion order.
	ListAll(ctx context.Context) ([]StoredRecord, error)
}

type MemoryRepository struct {
	mu      sync.RWMutex
	records []StoredRecord
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: func() time.Time { return time.Now().UTC() }}
}

func (m *MemoryRepository) Insert(ctx context.Context, record model.Record) (RecordID, error) {
	if err := validateRecord(record); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := StoredRecord{
		ID:         newRecordID(),
		Record:     record.Clone(),
		ReceivedAt: m.now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, stored)
	return stored.ID, nil
}

func (m *MemoryRepository) ListAll(ctx context.Context) ([]StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StoredRecord, len(m.records))
	for i, r := range m.records {
		r.Record = r.Record.Clone()
		out[i] = r
	}
	return out, nil
}

// Len reports the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func validateRecord(r model.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func newRecordID() RecordID {
	return RecordID(uuid.NewString())
}
