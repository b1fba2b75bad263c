package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"villagecraft.ai/internal/plan/geom"
)

var (
	ErrVillageNotFound = errors.New("village not found")
	ErrOverlap         = errors.New("footprint overlaps an existing footprint")
	ErrDuplicate       = errors.New("footprint name already placed")
	ErrVillageFull     = errors.New("village is full")
	ErrRadiusShrink    = errors.New("growth radius cannot shrink")
	ErrBadFootprint    = errors.New("bad footprint")
)

// Store persists the whole village list. Save is called after every
// successful mutation; a crash in between loses at most that mutation.
type Store interface {
	LoadVillages(ctx context.Context) ([]Village, error)
	SaveVillages(ctx context.Context, villages []Village) error
}

type Options struct {
	// Margin is added on every side of a footprint before overlap checks.
	Margin        int
	InitialRadius int
	MaxFootprints int

	NewID func() string
	Now   func() time.Time
}

func (o *Options) normalize() {
	if o.InitialRadius <= 0 {
		o.InitialRadius = DefaultGrowthRadius
	}
	if o.MaxFootprints <= 0 {
		o.MaxFootprints = DefaultMaxFootprints
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	if o.NewID == nil {
		o.NewID = func() string { return "village_" + uuid.NewString() }
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Registry holds every village with its footprints and lanes. It enforces
// the data invariants only; all planning lives elsewhere.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	villages []Village
	store    Store
}

func New(opts Options) *Registry {
	opts.normalize()
	return &Registry{opts: opts}
}

// Open builds a registry and loads its state from store.
func Open(ctx context.Context, store Store, opts Options) (*Registry, error) {
	r := New(opts)
	r.store = store
	if store == nil {
		return r, nil
	}
	vs, err := store.LoadVillages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load villages: %w", err)
	}
	for _, v := range vs {
		if v.MaxFootprints <= 0 {
			v.MaxFootprints = r.opts.MaxFootprints
		}
		if v.GrowthRadius <= 0 {
			v.GrowthRadius = r.opts.InitialRadius
		}
		r.villages = append(r.villages, v.Clone())
	}
	return r, nil
}

func (r *Registry) Margin() int { return r.opts.Margin }

// Save writes the current state to the backing store, if any.
func (r *Registry) Save(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveVillages(ctx, r.Villages())
}

func (r *Registry) Villages() []Village {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Village, 0, len(r.villages))
	for _, v := range r.villages {
		out = append(out, v.Clone())
	}
	return out
}

func (r *Registry) Village(id string) (Village, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(id)
	if i < 0 {
		return Village{}, fmt.Errorf("%w: %s", ErrVillageNotFound, id)
	}
	return r.villages[i].Clone(), nil
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.villages {
		if r.villages[i].ID == id {
			return i
		}
	}
	return -1
}

// FindOrCreate returns the first village whose growth square covers (x, z),
// creating a new one centered there otherwise. The bool reports creation.
func (r *Registry) FindOrCreate(x, y, z int) (Village, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.villages {
		if v.Covers(x, z) {
			return v.Clone(), false
		}
	}
	nv := Village{
		ID:            r.opts.NewID(),
		CenterX:       x,
		CenterY:       y,
		CenterZ:       z,
		GrowthRadius:  r.opts.InitialRadius,
		MaxFootprints: r.opts.MaxFootprints,
		Footprints:    []Footprint{},
		Lanes:         []LaneSegment{},
	}
	r.villages = append(r.villages, nv)
	return nv.Clone(), true
}

// AddFootprint places fp into the village. The margin-expanded rectangle must
// not intersect any margin-expanded footprint already there.
func (r *Registry) AddFootprint(villageID string, fp Footprint) error {
	if strings.TrimSpace(fp.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrBadFootprint)
	}
	if fp.Width < 0 || fp.Depth < 0 {
		return fmt.Errorf("%w: negative size %dx%d", ErrBadFootprint, fp.Width, fp.Depth)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(villageID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrVillageNotFound, villageID)
	}
	v := &r.villages[i]
	if len(v.Footprints) >= v.MaxFootprints {
		return fmt.Errorf("%w: %s has %d footprints", ErrVillageFull, v.ID, len(v.Footprints))
	}
	cand := fp.Rect().Expand(r.opts.Margin)
	for _, other := range v.Footprints {
		if other.Name == fp.Name {
			return fmt.Errorf("%w: %s", ErrDuplicate, fp.Name)
		}
		if cand.Intersects(other.Rect().Expand(r.opts.Margin)) {
			return fmt.Errorf("%w: %s vs %s", ErrOverlap, fp.Name, other.Name)
		}
	}
	if fp.PlacedAt.IsZero() {
		fp.PlacedAt = r.opts.Now()
	}
	if fp.Door != nil {
		door := *fp.Door
		fp.Door = &door
	}
	v.Footprints = append(v.Footprints, fp)
	return nil
}

// GrowTo raises the village growth radius. Lower values are rejected and an
// equal value is a no-op.
func (r *Registry) GrowTo(villageID string, radius int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(villageID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrVillageNotFound, villageID)
	}
	if radius < r.villages[i].GrowthRadius {
		return fmt.Errorf("%w: %d -> %d", ErrRadiusShrink, r.villages[i].GrowthRadius, radius)
	}
	r.villages[i].GrowthRadius = radius
	return nil
}

// FindLane looks up a committed lane by its anchor names.
func (r *Registry) FindLane(villageID, from, to string) (LaneSegment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(villageID)
	if i < 0 {
		return LaneSegment{}, false
	}
	for _, l := range r.villages[i].Lanes {
		if l.From.Name == from && l.To.Name == to {
			return l, true
		}
	}
	return LaneSegment{}, false
}

// AppendLane adds a lane unless one with the same anchor names exists, in
// which case it returns false and leaves the list untouched.
func (r *Registry) AppendLane(villageID string, lane LaneSegment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(villageID)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrVillageNotFound, villageID)
	}
	v := &r.villages[i]
	for _, l := range v.Lanes {
		if l.From.Name == lane.From.Name && l.To.Name == lane.To.Name {
			return false, nil
		}
	}
	if lane.CreatedAt.IsZero() {
		lane.CreatedAt = r.opts.Now()
	}
	lane.Waypoints = append([]geom.Point2D(nil), lane.Waypoints...)
	v.Lanes = append(v.Lanes, lane)
	return true, nil
}
