package codeindex

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
)

// MemoryStore keeps the snapshot in process. Publish swaps the pointer, so a
// reader sees either the previous snapshot or the new one in full.
type MemoryStore struct {
	current atomic.Pointer[Snapshot]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Publish(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot required")
	}
	m.current.Store(snap)
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, code string, steps []int64) (Match, error) {
	snap := m.current.Load()
	if snap == nil {
		return Match{}, ErrNotReady
	}
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, step := range steps {
		ids = appendDistinct(ids, seen, snap.Candidates(step, code)...)
	}
	return Match{BuiltStep: snap.Step, Candidates: ids}, nil
}

// Current returns the published snapshot, or nil.
func (m *MemoryStore) Current() *Snapshot {
	return m.current.Load()
}
