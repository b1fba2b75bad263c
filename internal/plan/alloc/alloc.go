package alloc

import (
	"context"
	"errors"
	"fmt"

	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
)

var ErrPlacementExhausted = errors.New("placement exhausted")

// Rand is the random source used for sampling. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// AllocationPolicy decides the growth radius of the next tier. tier counts
// the growth steps already taken (0 for the first). ok=false stops the search.
type AllocationPolicy interface {
	Next(radius, tier int) (next int, ok bool)
}

// LinearGrowth adds Increment per tier, for at most MaxTiers tiers.
type LinearGrowth struct {
	Increment int
	MaxTiers  int
}

func (g LinearGrowth) Next(radius, tier int) (int, bool) {
	if tier >= g.MaxTiers || g.Increment <= 0 {
		return radius, false
	}
	return radius + g.Increment, true
}

type Allocator struct {
	Margin int
	Policy AllocationPolicy
}

// Placement is an accepted top-left cell. Radius is the growth radius the
// sample was drawn with; when Tier > 0 the caller should commit it.
type Placement struct {
	Pos      geom.Point2D
	Radius   int
	Tier     int
	Attempts int
}

// FindPosition samples up to budget candidates per tier inside the village's
// growth square. It never mutates the village.
func (a Allocator) FindPosition(ctx context.Context, v registry.Village, w, d, budget int, rng Rand) (Placement, error) {
	if w <= 0 || d <= 0 {
		return Placement{}, fmt.Errorf("footprint size %dx%d must be positive", w, d)
	}
	if budget <= 0 {
		return Placement{}, fmt.Errorf("attempt budget %d must be positive", budget)
	}
	if rng == nil {
		return Placement{}, fmt.Errorf("nil random source")
	}

	radius := v.GrowthRadius
	if radius <= 0 {
		radius = registry.DefaultGrowthRadius
	}
	blocked := a.obstacles(v)

	attempts := 0
	for tier := 0; ; tier++ {
		if err := ctx.Err(); err != nil {
			return Placement{}, err
		}
		for i := 0; i < budget; i++ {
			attempts++
			offX := rng.Intn(radius) - radius/2
			offZ := rng.Intn(radius) - radius/2
			cand := geom.Rect{
				X: v.CenterX + offX - w/2,
				Z: v.CenterZ + offZ - d/2,
				W: w,
				D: d,
			}
			if a.free(cand, blocked, v.Lanes) {
				return Placement{
					Pos:      geom.Point2D{X: cand.X, Z: cand.Z},
					Radius:   radius,
					Tier:     tier,
					Attempts: attempts,
				}, nil
			}
		}
		if a.Policy == nil {
			break
		}
		next, ok := a.Policy.Next(radius, tier)
		if !ok {
			break
		}
		radius = next
	}
	return Placement{}, fmt.Errorf("%w: %dx%d in %s after %d attempts (radius %d)",
		ErrPlacementExhausted, w, d, v.ID, attempts, radius)
}

func (a Allocator) obstacles(v registry.Village) []geom.Rect {
	out := make([]geom.Rect, 0, len(v.Footprints))
	for _, f := range v.Footprints {
		out = append(out, f.Rect().Expand(a.Margin))
	}
	return out
}

// free accepts a candidate when its margin-expanded rect misses every
// expanded footprint and the bare rect stays off every lane corridor.
func (a Allocator) free(cand geom.Rect, blocked []geom.Rect, lanes []registry.LaneSegment) bool {
	exp := cand.Expand(a.Margin)
	for _, b := range blocked {
		if exp.Intersects(b) {
			return false
		}
	}
	for _, l := range lanes {
		if l.Corridor(cand) {
			return false
		}
	}
	return true
}
