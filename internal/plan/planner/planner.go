// Package planner ties the registry, allocator, filler and street planner
// together behind per-village build sessions.
package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"villagecraft.ai/internal/plan/alloc"
	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
	"villagecraft.ai/internal/plan/streets"
	"villagecraft.ai/internal/plan/tuning"
)

var ErrBusy = errors.New("village already has an active session")

// Journal receives every finished connection attempt.
type Journal func(villageID, from, to string, out streets.Outcome, err error)

type Options struct {
	Tuning  tuning.Tuning
	Channel fill.Channel
	Store   registry.Store
	Logger  *log.Logger
	Journal Journal

	// Seed drives placement sampling. Each session gets its own source
	// derived from it.
	Seed int64

	NewVillageID func() string
	Now          func() time.Time
}

type Planner struct {
	tune    tuning.Tuning
	ch      fill.Channel
	reg     *registry.Registry
	filler  fill.Filler
	streets *streets.Planner
	alloc   alloc.Allocator
	log     *log.Logger
	journal Journal

	mu       sync.Mutex
	active   map[string]bool
	seed     int64
	sessions int64
}

// Open loads the registry from opts.Store (if any) and wires the planning
// components from opts.Tuning.
func Open(ctx context.Context, opts Options) (*Planner, error) {
	if err := opts.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("nil command channel")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	t := opts.Tuning

	reg, err := registry.Open(ctx, opts.Store, registry.Options{
		Margin:        t.FootprintMargin,
		InitialRadius: t.InitialGrowthRadius,
		MaxFootprints: t.MaxFootprints,
		NewID:         opts.NewVillageID,
		Now:           opts.Now,
	})
	if err != nil {
		return nil, err
	}

	filler := fill.Filler{Cap: t.FillCap}
	return &Planner{
		tune:    t,
		ch:      opts.Channel,
		reg:     reg,
		filler:  filler,
		streets: streets.New(streets.ConfigFrom(t), filler, reg, logger),
		alloc: alloc.Allocator{
			Margin: t.FootprintMargin,
			Policy: alloc.LinearGrowth{Increment: t.GrowthIncrement, MaxTiers: t.GrowthTiers},
		},
		log:     logger,
		journal: opts.Journal,
		active:  make(map[string]bool),
		seed:    opts.Seed,
	}, nil
}

func (p *Planner) Registry() *registry.Registry { return p.reg }

func (p *Planner) Tuning() tuning.Tuning { return p.tune }

// DecomposeFill splits box into executor-sized primitives without sending
// them.
func (p *Planner) DecomposeFill(box geom.Box3D, material string) ([]fill.Primitive, error) {
	if err := p.tune.CheckMaterial(material); err != nil {
		return nil, fmt.Errorf("%w: %w", fill.ErrInvalidRegion, err)
	}
	return fill.Decompose(box, p.filler.Cap, material)
}

// FindOrCreateVillage returns the village covering (x, z), creating and
// persisting a new one when none does.
func (p *Planner) FindOrCreateVillage(ctx context.Context, x, y, z int) (registry.Village, error) {
	v, created := p.reg.FindOrCreate(x, y, z)
	if !created {
		return v, nil
	}
	p.log.Printf("village %s created at %d,%d,%d radius=%d", v.ID, x, y, z, v.GrowthRadius)
	if err := p.reg.Save(ctx); err != nil {
		return v, fmt.Errorf("save registry: %w", err)
	}
	return v, nil
}

// Begin opens the single build session of a village.
func (p *Planner) Begin(villageID string) (*Session, error) {
	if _, err := p.reg.Village(villageID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[villageID] {
		return nil, fmt.Errorf("%w: %s", ErrBusy, villageID)
	}
	p.active[villageID] = true
	p.sessions++
	return &Session{
		p:         p,
		villageID: villageID,
		rng:       rand.New(rand.NewSource(p.seed + p.sessions)),
	}, nil
}

func (p *Planner) release(villageID string) {
	p.mu.Lock()
	delete(p.active, villageID)
	p.mu.Unlock()
}

func (p *Planner) record(villageID, from, to string, out streets.Outcome, err error) {
	if p.journal != nil {
		p.journal(villageID, from, to, out, err)
	}
}
