package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"villagecraft.ai/internal/plan/alloc"
	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
	"villagecraft.ai/internal/plan/streets"
)

var ErrSessionClosed = errors.New("session closed")

// Session is the single writer for one village. It is not safe for
// concurrent use; Close releases the village for the next session.
type Session struct {
	p         *Planner
	villageID string
	rng       alloc.Rand

	once   sync.Once
	closed bool
}

func (s *Session) VillageID() string { return s.villageID }

func (s *Session) Village() (registry.Village, error) { return s.p.reg.Village(s.villageID) }

func (s *Session) Close() {
	s.once.Do(func() {
		s.closed = true
		s.p.release(s.villageID)
	})
}

func (s *Session) check() error {
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.villageID)
	}
	return nil
}

func (s *Session) save(ctx context.Context) error {
	if err := s.p.reg.Save(ctx); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// Fill decomposes box and submits it to the command channel.
func (s *Session) Fill(ctx context.Context, box geom.Box3D, material string) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if err := s.p.tune.CheckMaterial(material); err != nil {
		return 0, fmt.Errorf("%w: %w", fill.ErrInvalidRegion, err)
	}
	return s.p.filler.Fill(ctx, s.p.ch, box, material)
}

// AllocatePlacement finds a free top-left cell for a w x d footprint. A
// placement found in a later growth tier commits the larger radius before
// returning.
func (s *Session) AllocatePlacement(ctx context.Context, w, d int) (alloc.Placement, error) {
	if err := s.check(); err != nil {
		return alloc.Placement{}, err
	}
	v, err := s.Village()
	if err != nil {
		return alloc.Placement{}, err
	}
	pl, err := s.p.alloc.FindPosition(ctx, v, w, d, s.p.tune.AttemptBudget, s.rng)
	if err != nil {
		return pl, err
	}
	if pl.Radius > v.GrowthRadius {
		if err := s.p.reg.GrowTo(v.ID, pl.Radius); err != nil {
			return pl, err
		}
		s.p.log.Printf("village %s grew %d -> %d after %d attempts", v.ID, v.GrowthRadius, pl.Radius, pl.Attempts)
		if err := s.save(ctx); err != nil {
			return pl, err
		}
	}
	return pl, nil
}

func (s *Session) CommitFootprint(ctx context.Context, fp registry.Footprint) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.p.reg.AddFootprint(s.villageID, fp); err != nil {
		return err
	}
	return s.save(ctx)
}

func (s *Session) footprint(name string) (registry.Footprint, error) {
	v, err := s.Village()
	if err != nil {
		return registry.Footprint{}, err
	}
	fp, ok := v.Footprint(name)
	if !ok {
		return registry.Footprint{}, fmt.Errorf("%w: no footprint %q in %s", registry.ErrBadFootprint, name, s.villageID)
	}
	return fp, nil
}

// PlanConnection lays a lane from the door of footprint from to the door of
// footprint to. Both must already be committed.
func (s *Session) PlanConnection(ctx context.Context, from, to string, buildY int) (streets.Outcome, error) {
	if err := s.check(); err != nil {
		return streets.Outcome{State: streets.StateFailed}, err
	}
	a, err := s.footprint(from)
	if err != nil {
		return streets.Outcome{State: streets.StateFailed}, err
	}
	b, err := s.footprint(to)
	if err != nil {
		return streets.Outcome{State: streets.StateFailed}, err
	}
	out, err := s.p.streets.Connect(ctx, s.p.ch, s.villageID, streets.RequestBetween(a, b, buildY))
	return s.finish(ctx, from, to, out, err)
}

func (s *Session) ConnectToCenter(ctx context.Context, from string, buildY int) (streets.Outcome, error) {
	if err := s.check(); err != nil {
		return streets.Outcome{State: streets.StateFailed}, err
	}
	a, err := s.footprint(from)
	if err != nil {
		return streets.Outcome{State: streets.StateFailed}, err
	}
	out, err := s.p.streets.ConnectToCenter(ctx, s.p.ch, s.villageID, a, a.DoorAnchor(), buildY)
	return s.finish(ctx, from, streets.CenterAnchorName, out, err)
}

func (s *Session) finish(ctx context.Context, from, to string, out streets.Outcome, err error) (streets.Outcome, error) {
	s.p.record(s.villageID, from, to, out, err)
	if err != nil {
		s.p.log.Printf("connect %s -> %s: %s: %v", from, to, out.State, err)
		return out, err
	}
	if out.State == streets.StateCommitted && !out.Reused {
		if err := s.save(ctx); err != nil {
			return out, err
		}
	}
	return out, nil
}

// LightFootprint rings a committed footprint with lantern posts.
func (s *Session) LightFootprint(ctx context.Context, name string, buildY int) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	fp, err := s.footprint(name)
	if err != nil {
		return 0, err
	}
	return s.p.streets.LanternPosts(ctx, s.p.ch, fp, buildY)
}

// PrepareSite clears the air above a padded footprint and lays a foundation
// layer just below it.
func (s *Session) PrepareSite(ctx context.Context, fp registry.Footprint) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	t := s.p.tune
	r := fp.Rect().Expand(t.SitePadding)
	total := 0
	if t.SiteClearHeight > 0 {
		n, err := s.p.filler.Fill(ctx, s.p.ch,
			geom.NewBox(r.X, fp.Y, r.Z, r.X+r.W-1, fp.Y+t.SiteClearHeight, r.Z+r.D-1), t.Materials.Clear)
		total += n
		if err != nil {
			return total, err
		}
	}
	n, err := s.p.filler.Fill(ctx, s.p.ch,
		geom.NewBox(r.X, fp.Y-1, r.Z, r.X+r.W-1, fp.Y-1, r.Z+r.D-1), t.Materials.Foundation)
	return total + n, err
}

// Structure describes one building to place.
type Structure struct {
	Name   string
	Width  int
	Depth  int
	Height int
	// Door is relative to the footprint's top-left cell; nil uses the
	// middle of the north edge.
	Door *geom.Point2D
}

// Report summarizes PlaceStructure. Connection errors other than
// cancellation are reported here rather than failing the placement.
type Report struct {
	Footprint  registry.Footprint
	Placement  alloc.Placement
	Site       int
	Connection streets.Outcome
	ConnectErr error
	Lanterns   int
}

// PlaceStructure runs the full build step for one structure: allocate,
// prepare the site, commit the footprint, connect it to the previous
// structure (or the village center for the first one) and light it.
func (s *Session) PlaceStructure(ctx context.Context, st Structure, buildY int) (Report, error) {
	var rep Report
	if err := s.check(); err != nil {
		return rep, err
	}
	before, err := s.Village()
	if err != nil {
		return rep, err
	}

	pl, err := s.AllocatePlacement(ctx, st.Width, st.Depth)
	rep.Placement = pl
	if err != nil {
		return rep, err
	}
	fp := registry.Footprint{
		Name:   st.Name,
		X:      pl.Pos.X,
		Y:      buildY,
		Z:      pl.Pos.Z,
		Width:  st.Width,
		Depth:  st.Depth,
		Height: st.Height,
		Door:   st.Door,
	}
	rep.Footprint = fp

	rep.Site, err = s.PrepareSite(ctx, fp)
	if err != nil {
		return rep, err
	}
	if err := s.CommitFootprint(ctx, fp); err != nil {
		return rep, err
	}

	if n := len(before.Footprints); n == 0 {
		rep.Connection, rep.ConnectErr = s.ConnectToCenter(ctx, fp.Name, buildY)
	} else {
		prev := before.Footprints[n-1]
		rep.Connection, rep.ConnectErr = s.PlanConnection(ctx, prev.Name, fp.Name, buildY)
	}
	if errors.Is(rep.ConnectErr, fill.ErrCancelled) {
		return rep, rep.ConnectErr
	}

	rep.Lanterns, err = s.LightFootprint(ctx, fp.Name, buildY)
	if err != nil {
		return rep, err
	}
	s.p.log.Printf("placed %s at %d,%d (tier %d, %d attempts) connection=%s",
		fp.Name, fp.X, fp.Z, pl.Tier, pl.Attempts, rep.Connection.State)
	return rep, nil
}
