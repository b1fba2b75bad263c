package streets

import (
	"context"
	"errors"
	"fmt"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
)

// exit is the result of the local exit search in front of a door.
type exit struct {
	start    geom.Point2D // cell directly outside the door
	point    geom.Point2D // last safe cell, where the network path begins
	walked   bool         // start..point is a spur that needs paving
	fallback bool
}

// attempt carries one connection through its phases.
type attempt struct {
	p      *Planner
	ctx    context.Context
	ch     fill.Channel
	obs    []registry.Footprint
	buildY int
}

func (a *attempt) run(from registry.Footprint, door geom.DoorAnchor, dest exit, destOK bool) (Outcome, error) {
	out := Outcome{State: StateExitSearch}

	src, ok, err := a.p.exitPoint(a.ctx, a.obs, from, door)
	if err != nil {
		out.State = failState(err)
		return out, err
	}
	if !ok {
		out.State = StateFailed
		return out, fmt.Errorf("%w: no safe exit in front of %s", ErrPathBlocked, from.Name)
	}
	out.Exit, out.ExitFallback = src.point, src.fallback
	if src.walked {
		// The door spur stays one cell wide so clearing never cuts into
		// the owner's walls.
		n, err := a.pave([][2]geom.Point2D{{src.start, src.point}}, 0)
		out.Emitted += n
		if err != nil {
			out.State = failState(err)
			return out, err
		}
	}

	out.State = StateNetworkSearch
	if !destOK {
		out.State = StatePartialFailed
		return out, fmt.Errorf("%w: no safe exit at destination", ErrPathBlocked)
	}
	route, off, ok, err := a.route(src.point, dest.point)
	if err != nil {
		out.State = failState(err)
		return out, err
	}
	if !ok {
		a.p.Log.Printf("connect %s: no detour within radius %d from %d,%d to %d,%d",
			from.Name, a.p.Cfg.DetourRadius, src.point.X, src.point.Z, dest.point.X, dest.point.Z)
		out.State = StatePartialFailed
		return out, fmt.Errorf("%w: %d,%d -> %d,%d", ErrPathBlocked, src.point.X, src.point.Z, dest.point.X, dest.point.Z)
	}
	out.Route, out.Offset = route, off
	if off != (geom.Point2D{}) {
		out.Connectors = [][2]geom.Point2D{{src.point, route[0]}, {route[len(route)-1], dest.point}}
	}
	return out, nil
}

// exitPoint walks away from the door until the lane window clears the owner's
// margin, would touch another footprint, or the step limit is reached. When even
// the first cell is unsafe the walk restarts from the nearest safe cell just
// outside one of the owner's edges.
func (p *Planner) exitPoint(ctx context.Context, obs []registry.Footprint, owner registry.Footprint, door geom.DoorAnchor) (exit, bool, error) {
	e, err := p.walk(ctx, obs, owner, door.Outside(), door.Facing)
	if err != nil || e.walked {
		return e, e.walked, err
	}

	cell, facing, ok := p.perimeterPoint(obs, owner, door)
	if !ok {
		return e, false, nil
	}
	p.Log.Printf("exit %s: door %d,%d blocked, using perimeter cell %d,%d", owner.Name, door.X, door.Z, cell.X, cell.Z)
	e, err = p.walk(ctx, obs, owner, cell, facing)
	e.fallback = true
	return e, e.walked, err
}

func (p *Planner) walk(ctx context.Context, obs []registry.Footprint, owner registry.Footprint, start geom.Point2D, facing geom.Facing) (exit, error) {
	e := exit{start: start}
	step := facing.Step()
	yard := owner.Rect().Expand(p.Registry.Margin())
	cur := start
	for i := 0; i < max(1, p.Cfg.ExitMaxSteps); i++ {
		if err := ctx.Err(); err != nil {
			return e, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if blocked(obs, cur, p.Cfg.HalfWidth, owner.Name) {
			break
		}
		e.point, e.walked = cur, true
		if !geom.Window(cur, p.Cfg.HalfWidth).Intersects(yard) {
			break
		}
		cur = cur.Add(step)
	}
	return e, nil
}

// perimeterPoint picks, among the cells just outside each edge in line with
// the door, the safe one closest to the door.
func (p *Planner) perimeterPoint(obs []registry.Footprint, owner registry.Footprint, door geom.DoorAnchor) (geom.Point2D, geom.Facing, bool) {
	r := owner.Rect()
	cands := [4]struct {
		pt     geom.Point2D
		facing geom.Facing
	}{
		{geom.Point2D{X: door.X, Z: r.Z - 1}, geom.FacingNorth},
		{geom.Point2D{X: r.X - 1, Z: door.Z}, geom.FacingWest},
		{geom.Point2D{X: r.X + r.W, Z: door.Z}, geom.FacingEast},
		{geom.Point2D{X: door.X, Z: r.Z + r.D}, geom.FacingSouth},
	}
	best, bestDist := -1, 0
	for i, c := range cands {
		if blocked(obs, c.pt, p.Cfg.HalfWidth, owner.Name) {
			continue
		}
		d := geom.Manhattan(c.pt, door.Point())
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return geom.Point2D{}, 0, false
	}
	return cands[best].pt, cands[best].facing, true
}

// route tries the direct line first, then translates both endpoints by
// growing offsets and accepts the first shifted line that is free. Only the
// shifted line is tested, so a blocked exit does not rule out a detour.
func (a *attempt) route(from, to geom.Point2D) ([]geom.Point2D, geom.Point2D, bool, error) {
	direct := compact(from, to)
	ok, err := a.routeFree(direct)
	if err != nil || ok {
		return direct, geom.Point2D{}, ok, err
	}
	for _, off := range detourOffsets(a.p.Cfg.DetourRadius, a.p.Cfg.DetourDiagonalRadius) {
		cand := compact(from.Add(off), to.Add(off))
		ok, err := a.routeFree(cand)
		if err != nil {
			return nil, geom.Point2D{}, false, err
		}
		if ok {
			a.p.Log.Printf("detour found: offset %d,%d", off.X, off.Z)
			return cand, off, true, nil
		}
	}
	return nil, geom.Point2D{}, false, nil
}

// routeFree tests every sampled cell of every leg against all footprints.
func (a *attempt) routeFree(route []geom.Point2D) (bool, error) {
	for _, leg := range legs(route) {
		for _, pt := range geom.Line(leg[0], leg[1]) {
			if err := a.ctx.Err(); err != nil {
				return false, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			if blocked(a.obs, pt, a.p.Cfg.HalfWidth, "") {
				return false, nil
			}
		}
	}
	return true, nil
}

func failState(err error) State {
	if errors.Is(err, ErrCancelled) {
		return StateCancelled
	}
	return StateFailed
}

func blocked(obs []registry.Footprint, pt geom.Point2D, halfWidth int, exempt string) bool {
	win := geom.Window(pt, halfWidth)
	for _, f := range obs {
		if exempt != "" && f.Name == exempt {
			continue
		}
		if win.Intersects(f.Rect()) {
			return true
		}
	}
	return false
}

// detourOffsets lists translations ring by ring: the four axis offsets of
// each distance, plus the four diagonals up to diag.
func detourOffsets(radius, diag int) []geom.Point2D {
	out := make([]geom.Point2D, 0, 4*radius+4*diag)
	for d := 1; d <= radius; d++ {
		out = append(out,
			geom.Point2D{X: d}, geom.Point2D{X: -d},
			geom.Point2D{Z: d}, geom.Point2D{Z: -d},
		)
		if d <= diag {
			out = append(out,
				geom.Point2D{X: d, Z: d}, geom.Point2D{X: d, Z: -d},
				geom.Point2D{X: -d, Z: d}, geom.Point2D{X: -d, Z: -d},
			)
		}
	}
	return out
}

// compact drops consecutive duplicate points.
func compact(pts ...geom.Point2D) []geom.Point2D {
	out := make([]geom.Point2D, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

// legs pairs consecutive route points. A single-point route is one
// zero-length leg.
func legs(route []geom.Point2D) [][2]geom.Point2D {
	if len(route) == 1 {
		return [][2]geom.Point2D{{route[0], route[0]}}
	}
	out := make([][2]geom.Point2D, 0, len(route)-1)
	for i := 1; i < len(route); i++ {
		out = append(out, [2]geom.Point2D{route[i-1], route[i]})
	}
	return out
}
