package registry

import (
	"time"

	"villagecraft.ai/internal/plan/geom"
)

const (
	DefaultGrowthRadius  = 100
	DefaultMaxFootprints = 250
	DefaultFootprintSide = 16
)

// Footprint is the placed rectangle of one structure. Door is relative to
// the footprint's top-left cell.
type Footprint struct {
	Name   string        `json:"name"`
	X      int           `json:"x"`
	Y      int           `json:"y"`
	Z      int           `json:"z"`
	Width  int           `json:"width"`
	Depth  int           `json:"depth"`
	Height int           `json:"height,omitempty"`
	Door   *geom.Point2D `json:"door,omitempty"`

	PlacedAt time.Time `json:"placed_at"`
}

func (f Footprint) size() (int, int) {
	w, d := f.Width, f.Depth
	if w <= 0 {
		w = DefaultFootprintSide
	}
	if d <= 0 {
		d = DefaultFootprintSide
	}
	return w, d
}

func (f Footprint) Rect() geom.Rect {
	w, d := f.size()
	return geom.Rect{X: f.X, Z: f.Z, W: w, D: d}
}

// DoorAnchor resolves the declared door cell; without one the door sits in
// the middle of the z = f.Z edge.
func (f Footprint) DoorAnchor() geom.DoorAnchor {
	w, _ := f.size()
	rel := geom.Point2D{X: w / 2}
	if f.Door != nil {
		rel = *f.Door
	}
	cell := geom.Point2D{X: f.X + rel.X, Z: f.Z + rel.Z}
	return geom.DoorAnchor{X: cell.X, Z: cell.Z, Facing: geom.FacingFor(cell, f.Rect())}
}

type Anchor struct {
	Name string `json:"name"`
	X    int    `json:"x"`
	Z    int    `json:"z"`
}

func (a Anchor) Point() geom.Point2D { return geom.Point2D{X: a.X, Z: a.Z} }

// LaneSegment is one committed street connection. Waypoints holds the
// realized polyline (two points for a direct lane, up to four for a detour).
type LaneSegment struct {
	From      Anchor         `json:"from"`
	To        Anchor         `json:"to"`
	BuildY    int            `json:"build_y"`
	HalfWidth int            `json:"half_width"`
	Waypoints []geom.Point2D `json:"waypoints,omitempty"`
	Offset    geom.Point2D   `json:"offset"`
	CreatedAt time.Time      `json:"created_at"`
}

// Route returns the lane polyline, falling back to From -> To for records
// written without waypoints.
func (l LaneSegment) Route() []geom.Point2D {
	if len(l.Waypoints) >= 2 {
		return l.Waypoints
	}
	return []geom.Point2D{l.From.Point(), l.To.Point()}
}

// Corridor reports whether r touches the lane's full-width corridor.
func (l LaneSegment) Corridor(r geom.Rect) bool {
	route := l.Route()
	for i := 1; i < len(route); i++ {
		for _, p := range geom.Line(route[i-1], route[i]) {
			if geom.Window(p, l.HalfWidth).Intersects(r) {
				return true
			}
		}
	}
	return false
}

type Village struct {
	ID            string        `json:"id"`
	CenterX       int           `json:"center_x"`
	CenterY       int           `json:"center_y"`
	CenterZ       int           `json:"center_z"`
	GrowthRadius  int           `json:"growth_radius"`
	MaxFootprints int           `json:"max_footprints"`
	Footprints    []Footprint   `json:"footprints"`
	Lanes         []LaneSegment `json:"lanes"`
}

func (v Village) Center() geom.Point2D { return geom.Point2D{X: v.CenterX, Z: v.CenterZ} }

// Covers reports whether (x, z) falls inside the village's growth square.
func (v Village) Covers(x, z int) bool {
	return geom.AbsInt(v.CenterX-x) < v.GrowthRadius && geom.AbsInt(v.CenterZ-z) < v.GrowthRadius
}

func (v Village) Footprint(name string) (Footprint, bool) {
	for _, f := range v.Footprints {
		if f.Name == name {
			return f, true
		}
	}
	return Footprint{}, false
}

// Clone returns a deep copy.
func (v Village) Clone() Village {
	c := v
	c.Footprints = make([]Footprint, len(v.Footprints))
	copy(c.Footprints, v.Footprints)
	for i := range c.Footprints {
		if d := c.Footprints[i].Door; d != nil {
			door := *d
			c.Footprints[i].Door = &door
		}
	}
	c.Lanes = make([]LaneSegment, len(v.Lanes))
	copy(c.Lanes, v.Lanes)
	for i := range c.Lanes {
		c.Lanes[i].Waypoints = append([]geom.Point2D(nil), v.Lanes[i].Waypoints...)
	}
	return c
}
