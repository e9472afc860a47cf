package codeindex

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotReady is returned by readers before the first snapshot is published.
var ErrNotReady = errors.New("code index has not been published")

// Stats summarises one snapshot.
type Stats struct {
	Customers int
	Skipped   int
	// Entries counts (step, code, customer) triples.
	Entries int
	// Collisions counts (step, code) slots holding more than one customer.
	Collisions       int
	CollidingEntries int
}

// CollisionRate is the share of entries that landed in a colliding slot.
func (s Stats) CollisionRate() float64 {
	if s.Entries == 0 {
		return 0
	}
	return float64(s.CollidingEntries) / float64(s.Entries)
}

// Snapshot is the reverse map for every step of one drift window. It is
// immutable after the builder hands it out.
type Snapshot struct {
	Step    int64
	Steps   []int64
	BuiltAt time.Time
	Stats   Stats

	slots map[int64]map[string][]uuid.UUID
}

func NewSnapshot(step int64, steps []int64, builtAt time.Time) *Snapshot {
	slots := make(map[int64]map[string][]uuid.UUID, len(steps))
	for _, s := range steps {
		slots[s] = make(map[string][]uuid.UUID)
	}
	return &Snapshot{
		Step:    step,
		Steps:   append([]int64(nil), steps...),
		BuiltAt: builtAt,
		slots:   slots,
	}
}

// Add maps code at step to id. Steps outside the window are ignored.
func (s *Snapshot) Add(step int64, code string, id uuid.UUID) {
	bucket, ok := s.slots[step]
	if !ok {
		return
	}
	bucket[code] = append(bucket[code], id)
}

// Candidates returns the customers mapped to (step, code).
func (s *Snapshot) Candidates(step int64, code string) []uuid.UUID {
	return s.slots[step][code]
}

// Slots returns the code map for one step, for stores that serialise it.
func (s *Snapshot) Slots(step int64) map[string][]uuid.UUID {
	return s.slots[step]
}

func (s *Snapshot) tally() {
	entries, collisions, colliding := 0, 0, 0
	for _, bucket := range s.slots {
		for _, ids := range bucket {
			entries += len(ids)
			if len(ids) > 1 {
				collisions++
				colliding += len(ids)
			}
		}
	}
	s.Stats.Entries = entries
	s.Stats.Collisions = collisions
	s.Stats.CollidingEntries = colliding
}

// Match is what a reader found for one code across the consulted steps.
type Match struct {
	BuiltStep  int64
	Candidates []uuid.UUID
}

// Reader answers code lookups against the last published snapshot.
type Reader interface {
	Lookup(ctx context.Context, code string, steps []int64) (Match, error)
}

// Publisher replaces the published snapshot wholesale.
type Publisher interface {
	Publish(ctx context.Context, snap *Snapshot) error
}

// Store is both sides of the index.
type Store interface {
	Reader
	Publisher
}

func appendDistinct(dst []uuid.UUID, seen map[uuid.UUID]struct{}, ids ...uuid.UUID) []uuid.UUID {
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}
