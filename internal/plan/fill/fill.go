package fill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"villagecraft.ai/internal/plan/geom"
)

// DefaultCap is the largest fill the executor accepts, kept a little below
// the hard 32768 block limit.
const DefaultCap = 32700

var (
	ErrInvalidRegion = errors.New("invalid region")
	ErrCancelled     = errors.New("cancelled")

	// ErrSplitGuard means the work-list ran past its iteration ceiling. The
	// split always shrinks a region, so this is an internal invariant failure.
	ErrSplitGuard = errors.New("fill: split iteration guard exceeded")
)

type Primitive struct {
	Box      geom.Box3D `json:"box"`
	Material string     `json:"material"`
}

func (p Primitive) Volume() int64 {
	v, _ := p.Box.Volume()
	return v
}

// Channel is the executor side of the planner. Submit is fire-and-forget;
// pacing and delivery are the channel's concern.
type Channel interface {
	Submit(p Primitive)
}

// Decompose splits box into primitives of at most cap cells that partition it
// exactly. Regions are split on their longest axis (ties: X, then Y, then Z)
// at the floor midpoint, and the lower half is emitted first.
func Decompose(box geom.Box3D, cap int, material string) ([]Primitive, error) {
	prims, _, err := decompose(box, cap, material)
	return prims, err
}

func decompose(box geom.Box3D, cap int, material string) ([]Primitive, int64, error) {
	if cap < 1 {
		return nil, 0, fmt.Errorf("%w: cap %d < 1", ErrInvalidRegion, cap)
	}
	if strings.TrimSpace(material) == "" {
		return nil, 0, fmt.Errorf("%w: empty material", ErrInvalidRegion)
	}
	vol, ok := box.Volume()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %+v", ErrInvalidRegion, box)
	}

	c := int64(cap)
	if vol <= c {
		return []Primitive{{Box: box, Material: material}}, 1, nil
	}

	guard := 8*(vol/c+1) + 64
	out := make([]Primitive, 0, vol/c+1)
	stack := []geom.Box3D{box}
	var iterations int64
	for len(stack) > 0 {
		iterations++
		if iterations > guard {
			return out, iterations, fmt.Errorf("%w: %d iterations for %+v cap=%d", ErrSplitGuard, iterations, box, cap)
		}

		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v, _ := r.Volume()
		if v <= c {
			out = append(out, Primitive{Box: r, Material: material})
			continue
		}
		lo, hi := split(r)
		// LIFO: push the upper half first so the lower half is handled next.
		stack = append(stack, hi, lo)
	}
	return out, iterations, nil
}

func split(r geom.Box3D) (lo, hi geom.Box3D) {
	w, h, d := r.Width(), r.Height(), r.Depth()
	lo, hi = r, r
	switch {
	case w >= h && w >= d:
		mid := geom.FloorDiv(r.MinX+r.MaxX, 2)
		lo.MaxX, hi.MinX = mid, mid+1
	case h >= d:
		mid := geom.FloorDiv(r.MinY+r.MaxY, 2)
		lo.MaxY, hi.MinY = mid, mid+1
	default:
		mid := geom.FloorDiv(r.MinZ+r.MaxZ, 2)
		lo.MaxZ, hi.MinZ = mid, mid+1
	}
	return lo, hi
}

// Emit submits prims in order, checking ctx before each one. It returns how
// many were submitted; on cancellation those stay applied.
func Emit(ctx context.Context, ch Channel, prims []Primitive) (int, error) {
	for i, p := range prims {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		ch.Submit(p)
	}
	return len(prims), nil
}

// Filler binds the executor cap to Decompose + Emit.
type Filler struct {
	Cap int
}

func (f Filler) cap() int {
	if f.Cap <= 0 {
		return DefaultCap
	}
	return f.Cap
}

func (f Filler) Fill(ctx context.Context, ch Channel, box geom.Box3D, material string) (int, error) {
	prims, err := Decompose(box, f.cap(), material)
	if err != nil {
		return 0, err
	}
	return Emit(ctx, ch, prims)
}

// Recorder is an in-memory Channel.
type Recorder struct {
	Prims []Primitive
}

func (r *Recorder) Submit(p Primitive) { r.Prims = append(r.Prims, p) }
