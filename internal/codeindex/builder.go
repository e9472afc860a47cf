package codeindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/rotatingcode"
)

const (
	defaultBatchSize = 2000
	defaultWorkers   = 4
)

type BuilderParams struct {
	Generator *rotatingcode.Generator
	Source    CustomerSource
	Logger    *logger.Logger
	BatchSize int
	Workers   int
}

// Builder recomputes every indexable customer's codes for one drift window.
type Builder struct {
	gen       *rotatingcode.Generator
	source    CustomerSource
	logg      *logger.Logger
	batchSize int
	workers   int
}

func NewBuilder(params BuilderParams) (*Builder, error) {
	if params.Generator == nil {
		return nil, errors.New("generator required")
	}
	if params.Source == nil {
		return nil, errors.New("customer source required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Builder{
		gen:       params.Generator,
		source:    params.Source,
		logg:      logg,
		batchSize: batch,
		workers:   workers,
	}, nil
}

type partial struct {
	slots     map[int64]map[string][]uuid.UUID
	customers int
	skipped   int
}

// Build returns a snapshot for the drift window around the step containing now.
// Pages are read sequentially and hashed by a worker pool; each worker fills
// its own partial map and the partials are merged once every worker is done.
func (b *Builder) Build(ctx context.Context, now time.Time) (*Snapshot, error) {
	step := b.gen.Step(now)
	steps := b.gen.DriftWindow(step)

	pages := make(chan []IndexableCustomer, b.workers)
	partials := make([]*partial, b.workers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(pages)
		after := uuid.Nil
		for {
			batch, err := b.source.ListIndexable(gctx, after, b.batchSize)
			if err != nil {
				return fmt.Errorf("list indexable customers: %w", err)
			}
			if len(batch) == 0 {
				return nil
			}
			select {
			case pages <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
			if len(batch) < b.batchSize {
				return nil
			}
			after = batch[len(batch)-1].ID
		}
	})

	for i := 0; i < b.workers; i++ {
		p := &partial{slots: make(map[int64]map[string][]uuid.UUID, len(steps))}
		for _, s := range steps {
			p.slots[s] = make(map[string][]uuid.UUID)
		}
		partials[i] = p
		g.Go(func() error {
			for batch := range pages {
				for _, c := range batch {
					key, err := b.gen.Key(c.Secret)
					if err != nil {
						p.skipped++
						b.logg.Warn(b.logg.WithCustomerID(gctx, c.ID.String()), "customer secret rejected by code generator")
						continue
					}
					p.customers++
					for _, s := range steps {
						code := key.Code(s).String()
						p.slots[s][code] = append(p.slots[s][code], c.ID)
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := NewSnapshot(step, steps, now.UTC())
	for _, p := range partials {
		snap.Stats.Customers += p.customers
		snap.Stats.Skipped += p.skipped
		for s, bucket := range p.slots {
			for code, ids := range bucket {
				for _, id := range ids {
					snap.Add(s, code, id)
				}
			}
		}
	}
	snap.tally()
	return snap, nil
}
