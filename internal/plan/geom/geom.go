package geom

import "math"

// MaxSpan bounds the length of a single box axis. Anything wider is not a
// block region the executor could ever accept and is treated as malformed.
const MaxSpan = 1 << 20

// Point2D is a cell on the horizontal world plane.
type Point2D struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Add translates p by o.
func (p Point2D) Add(o Point2D) Point2D { return Point2D{X: p.X + o.X, Z: p.Z + o.Z} }

// Manhattan returns |dx|+|dz| on the world plane.
func Manhattan(a, b Point2D) int {
	return AbsInt(a.X-b.X) + AbsInt(a.Z-b.Z)
}

// Chebyshev returns max(|dx|,|dz|).
func Chebyshev(a, b Point2D) int {
	dx := AbsInt(a.X - b.X)
	dz := AbsInt(a.Z - b.Z)
	if dx > dz {
		return dx
	}
	return dz
}

// AbsInt returns |x|.
func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// FloorDiv divides rounding toward negative infinity. b must be positive.
func FloorDiv(a, b int) int {
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

// Box3D is an inclusive axis-aligned block region.
type Box3D struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MinZ int `json:"min_z"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
	MaxZ int `json:"max_z"`
}

// NewBox builds a box from two arbitrary opposite corners.
func NewBox(x1, y1, z1, x2, y2, z2 int) Box3D {
	return Box3D{
		MinX: min(x1, x2), MaxX: max(x1, x2),
		MinY: min(y1, y2), MaxY: max(y1, y2),
		MinZ: min(z1, z2), MaxZ: max(z1, z2),
	}
}

// Width is the cell count along x.
func (b Box3D) Width() int { return b.MaxX - b.MinX + 1 }

// Height is the cell count along y.
func (b Box3D) Height() int { return b.MaxY - b.MinY + 1 }

// Depth is the cell count along z.
func (b Box3D) Depth() int { return b.MaxZ - b.MinZ + 1 }

// Valid reports whether min <= max on every axis and no axis exceeds MaxSpan.
func (b Box3D) Valid() bool {
	if b.MinX > b.MaxX || b.MinY > b.MaxY || b.MinZ > b.MaxZ {
		return false
	}
	for _, span := range [3]int64{
		int64(b.MaxX) - int64(b.MinX) + 1,
		int64(b.MaxY) - int64(b.MinY) + 1,
		int64(b.MaxZ) - int64(b.MinZ) + 1,
	} {
		if span > MaxSpan {
			return false
		}
	}
	return true
}

// Volume returns the cell count. ok is false when the box is not Valid or the
// product does not fit in an int64.
func (b Box3D) Volume() (v int64, ok bool) {
	if !b.Valid() {
		return 0, false
	}
	w, h, d := int64(b.Width()), int64(b.Height()), int64(b.Depth())
	if w > math.MaxInt64/h {
		return 0, false
	}
	wh := w * h
	if wh > math.MaxInt64/d {
		return 0, false
	}
	return wh * d, true
}

// Contains reports whether the cell lies inside the box, bounds included.
func (b Box3D) Contains(x, y, z int) bool {
	return x >= b.MinX && x <= b.MaxX &&
		y >= b.MinY && y <= b.MaxY &&
		z >= b.MinZ && z <= b.MaxZ
}

// Rect is a half-open rectangle on the world plane: [X, X+W) x [Z, Z+D).
type Rect struct {
	X int `json:"x"`
	Z int `json:"z"`
	W int `json:"w"`
	D int `json:"d"`
}

// Expand grows r by m cells on every side.
func (r Rect) Expand(m int) Rect {
	return Rect{X: r.X - m, Z: r.Z - m, W: r.W + 2*m, D: r.D + 2*m}
}

func (r Rect) Empty() bool { return r.W <= 0 || r.D <= 0 }

// Intersects reports whether r and o share a cell.
func (r Rect) Intersects(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.X < o.X+o.W && o.X < r.X+r.W &&
		r.Z < o.Z+o.D && o.Z < r.Z+r.D
}

func (r Rect) Contains(p Point2D) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Z >= r.Z && p.Z < r.Z+r.D
}

// Window is the square lane footprint of half-width w centered on p.
func Window(p Point2D, w int) Rect {
	return Rect{X: p.X - w, Z: p.Z - w, W: 2*w + 1, D: 2*w + 1}
}

// Facing is the outward unit step of the footprint edge a door sits on.
type Facing uint8

const (
	FacingSouth Facing = iota // +z, the default
	FacingNorth               // -z
	FacingWest                // -x
	FacingEast                // +x
)

// Step is the unit move away from the building.
func (f Facing) Step() Point2D {
	switch f {
	case FacingNorth:
		return Point2D{Z: -1}
	case FacingWest:
		return Point2D{X: -1}
	case FacingEast:
		return Point2D{X: 1}
	default:
		return Point2D{Z: 1}
	}
}

func (f Facing) String() string {
	switch f {
	case FacingNorth:
		return "north"
	case FacingWest:
		return "west"
	case FacingEast:
		return "east"
	default:
		return "south"
	}
}

// DoorAnchor is an absolute door cell plus the direction out of the building.
type DoorAnchor struct {
	X      int    `json:"x"`
	Z      int    `json:"z"`
	Facing Facing `json:"facing"`
}

func (d DoorAnchor) Point() Point2D { return Point2D{X: d.X, Z: d.Z} }

// Outside is the cell directly in front of the door.
func (d DoorAnchor) Outside() Point2D { return d.Point().Add(d.Facing.Step()) }

// FacingFor classifies a door cell against the footprint rect it belongs to.
// The z = r.Z edge wins over the side edges, the side edges win over the
// default, matching how door cells are declared on templates.
func FacingFor(door Point2D, r Rect) Facing {
	switch {
	case door.Z == r.Z:
		return FacingNorth
	case door.X == r.X:
		return FacingWest
	case door.X == r.X+r.W-1:
		return FacingEast
	default:
		return FacingSouth
	}
}

// Line samples the cells of a straight segment using max(|dx|,|dz|) steps,
// rounding each interpolated coordinate half up. Both endpoints are included.
func Line(a, b Point2D) []Point2D {
	dx := b.X - a.X
	dz := b.Z - a.Z
	total := max(AbsInt(dx), AbsInt(dz))
	if total == 0 {
		return []Point2D{a}
	}
	out := make([]Point2D, 0, total+1)
	for step := 0; step <= total; step++ {
		out = append(out, Point2D{
			X: a.X + roundRatio(dx*step, total),
			Z: a.Z + roundRatio(dz*step, total),
		})
	}
	return out
}

// Steps returns the sample count-1 of Line(a, b).
func Steps(a, b Point2D) int {
	return max(AbsInt(b.X-a.X), AbsInt(b.Z-a.Z))
}

// roundRatio computes round(n/d) with halves rounded toward +inf. d > 0.
func roundRatio(n, d int) int {
	return FloorDiv(2*n+d, 2*d)
}
