package streets

import (
	"context"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
)

// pave clears the air above every leg, then lays the surface. All clearing
// is submitted before any surface so later legs never dig into earlier ones.
func (a *attempt) pave(ls [][2]geom.Point2D, halfWidth int) (int, error) {
	cfg := a.p.Cfg
	total := 0
	for _, pass := range []struct {
		y0, y1 int
		mat    string
	}{
		{a.buildY + 1, a.buildY + cfg.ClearHeight, cfg.ClearMaterial},
		{a.buildY, a.buildY, cfg.LaneMaterial},
	} {
		if pass.y1 < pass.y0 {
			continue
		}
		for _, leg := range ls {
			for _, r := range legRects(leg, halfWidth) {
				box := geom.NewBox(r.X, pass.y0, r.Z, r.X+r.W-1, pass.y1, r.Z+r.D-1)
				n, err := a.p.Filler.Fill(a.ctx, a.ch, box, pass.mat)
				total += n
				if err != nil {
					return total, err
				}
			}
		}
	}
	return total, nil
}

// legRects covers one leg with lane windows. Axis-aligned legs collapse to a
// single rect; diagonal legs use one window per sampled cell.
func legRects(leg [2]geom.Point2D, halfWidth int) []geom.Rect {
	a, b := leg[0], leg[1]
	if a.X == b.X || a.Z == b.Z {
		r := geom.Rect{
			X: min(a.X, b.X),
			Z: min(a.Z, b.Z),
			W: geom.AbsInt(b.X-a.X) + 1,
			D: geom.AbsInt(b.Z-a.Z) + 1,
		}
		return []geom.Rect{r.Expand(halfWidth)}
	}
	pts := geom.Line(a, b)
	out := make([]geom.Rect, 0, len(pts))
	for _, p := range pts {
		out = append(out, geom.Window(p, halfWidth))
	}
	return out
}

// emitLane paves the route at full width and each spur as a single-cell
// path, then lines the route with lanterns. A spur that would cross a
// footprint is skipped.
func (a *attempt) emitLane(route []geom.Point2D, spurs [][2]geom.Point2D) (int, error) {
	total, err := a.pave(legs(route), a.p.Cfg.HalfWidth)
	if err != nil {
		return total, err
	}
	for _, s := range spurs {
		if crossesAny(a.obs, s) {
			a.p.Log.Printf("spur %d,%d -> %d,%d crosses a footprint, skipped", s[0].X, s[0].Z, s[1].X, s[1].Z)
			continue
		}
		n, err := a.pave([][2]geom.Point2D{s}, 0)
		total += n
		if err != nil {
			return total, err
		}
	}

	seen := make(map[geom.Point2D]bool)
	for _, leg := range legs(route) {
		for _, pt := range a.p.lanternSpots(leg) {
			if seen[pt] || insideAny(a.obs, pt) {
				continue
			}
			seen[pt] = true
			n, err := a.p.lantern(a.ctx, a.ch, pt, a.buildY)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// lanternSpots returns the cells beside every LanternInterval-th sample of
// a leg, on both sides of the lane.
func (p *Planner) lanternSpots(leg [2]geom.Point2D) []geom.Point2D {
	every := p.Cfg.LanternInterval
	if every <= 0 {
		return nil
	}
	side := geom.Point2D{Z: p.Cfg.LanternOffset}
	if geom.AbsInt(leg[1].X-leg[0].X) < geom.AbsInt(leg[1].Z-leg[0].Z) {
		side = geom.Point2D{X: p.Cfg.LanternOffset}
	}
	var out []geom.Point2D
	for i, pt := range geom.Line(leg[0], leg[1]) {
		if i == 0 || i%every != 0 {
			continue
		}
		out = append(out, pt.Add(side), pt.Add(geom.Point2D{X: -side.X, Z: -side.Z}))
	}
	return out
}

func (p *Planner) lantern(ctx context.Context, ch fill.Channel, pt geom.Point2D, y int) (int, error) {
	n, err := p.Filler.Fill(ctx, ch, geom.NewBox(pt.X, y, pt.Z, pt.X, y, pt.Z), p.Cfg.LanternBase)
	if err != nil {
		return n, err
	}
	m, err := p.Filler.Fill(ctx, ch, geom.NewBox(pt.X, y+1, pt.Z, pt.X, y+1, pt.Z), p.Cfg.LanternMaterial)
	return n + m, err
}

// LanternPosts rings a footprint with lantern posts PostOffset cells outside
// its edges, one every PostInterval cells of the ring.
func (p *Planner) LanternPosts(ctx context.Context, ch fill.Channel, fp registry.Footprint, buildY int) (int, error) {
	every := p.Cfg.PostInterval
	if every <= 0 {
		every = 1
	}
	ring := fp.Rect().Expand(p.Cfg.PostOffset)
	seen := make(map[geom.Point2D]bool)
	total := 0
	for i, pt := range ringCells(ring) {
		if i%every != 0 || seen[pt] {
			continue
		}
		seen[pt] = true
		n, err := p.lantern(ctx, ch, pt, buildY)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ringCells walks the border cells of r clockwise from its top-left corner.
func ringCells(r geom.Rect) []geom.Point2D {
	if r.Empty() {
		return nil
	}
	x0, z0 := r.X, r.Z
	x1, z1 := r.X+r.W-1, r.Z+r.D-1
	if x0 == x1 || z0 == z1 {
		return geom.Line(geom.Point2D{X: x0, Z: z0}, geom.Point2D{X: x1, Z: z1})
	}
	out := make([]geom.Point2D, 0, 2*(r.W+r.D)-4)
	for x := x0; x < x1; x++ {
		out = append(out, geom.Point2D{X: x, Z: z0})
	}
	for z := z0; z < z1; z++ {
		out = append(out, geom.Point2D{X: x1, Z: z})
	}
	for x := x1; x > x0; x-- {
		out = append(out, geom.Point2D{X: x, Z: z1})
	}
	for z := z1; z > z0; z-- {
		out = append(out, geom.Point2D{X: x0, Z: z})
	}
	return out
}

func crossesAny(obs []registry.Footprint, leg [2]geom.Point2D) bool {
	for _, pt := range geom.Line(leg[0], leg[1]) {
		if insideAny(obs, pt) {
			return true
		}
	}
	return false
}

func insideAny(obs []registry.Footprint, pt geom.Point2D) bool {
	for _, f := range obs {
		if f.Rect().Contains(pt) {
			return true
		}
	}
	return false
}
