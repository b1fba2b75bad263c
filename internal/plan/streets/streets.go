package streets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
	"villagecraft.ai/internal/plan/tuning"
)

var (
	ErrPathBlocked = errors.New("path blocked")
	ErrCancelled   = fill.ErrCancelled
)

const CenterAnchorName = "village-center"

type Config struct {
	HalfWidth            int
	ExitMaxSteps         int
	DetourRadius         int
	DetourDiagonalRadius int
	ClearHeight          int
	LanternInterval      int
	LanternOffset        int
	PostInterval         int
	PostOffset           int

	LaneMaterial    string
	ClearMaterial   string
	LanternBase     string
	LanternMaterial string
}

func ConfigFrom(t tuning.Tuning) Config {
	return Config{
		HalfWidth:            t.Lanes.HalfWidth,
		ExitMaxSteps:         t.Lanes.ExitMaxSteps,
		DetourRadius:         t.Lanes.DetourRadius,
		DetourDiagonalRadius: t.Lanes.DetourDiagonalRadius,
		ClearHeight:          t.Lanes.ClearHeight,
		LanternInterval:      t.Lanes.LanternInterval,
		LanternOffset:        t.Lanes.LanternOffset,
		PostInterval:         t.Lanes.PostInterval,
		PostOffset:           t.Lanes.PostOffset,
		LaneMaterial:         t.Materials.Lane,
		ClearMaterial:        t.Materials.Clear,
		LanternBase:          t.Materials.LanternBase,
		LanternMaterial:      t.Materials.Lantern,
	}
}

// State is the position of one connection attempt in its lifecycle.
type State uint8

const (
	StateStart State = iota
	StateExitSearch
	StateNetworkSearch
	StateEmit
	StateCommitted
	StateFailed
	StatePartialFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateExitSearch:
		return "exit_search"
	case StateNetworkSearch:
		return "network_search"
	case StateEmit:
		return "emit"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StatePartialFailed:
		return "partial_failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether the attempt is finished.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StatePartialFailed || s == StateCancelled
}

type Request struct {
	From     registry.Footprint
	FromDoor geom.DoorAnchor
	To       registry.Footprint
	ToDoor   geom.DoorAnchor
	BuildY   int
}

// RequestBetween builds a request using each footprint's declared door.
func RequestBetween(from, to registry.Footprint, buildY int) Request {
	return Request{From: from, FromDoor: from.DoorAnchor(), To: to, ToDoor: to.DoorAnchor(), BuildY: buildY}
}

type Outcome struct {
	State State

	// Lane is set when State is StateCommitted. Reused marks a lane that was
	// already on record for the same anchors; nothing was emitted for it.
	Lane   *registry.LaneSegment
	Reused bool

	Exit         geom.Point2D
	ExitFallback bool
	Route        []geom.Point2D
	Offset       geom.Point2D
	Emitted      int

	// Connectors join the exits to a translated route. They are laid one
	// cell wide where they do not cross a footprint and never gate the route.
	Connectors [][2]geom.Point2D
}

// Planner routes lanes between footprints of one village. Callers serialize
// access per village.
type Planner struct {
	Cfg      Config
	Filler   fill.Filler
	Registry *registry.Registry
	Log      *log.Logger
}

func New(cfg Config, filler fill.Filler, reg *registry.Registry, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Planner{Cfg: cfg, Filler: filler, Registry: reg, Log: logger}
}

// Connect links the door of req.From to the door of req.To. A local exit
// spur may be emitted even when the network search then fails; it is not
// rolled back.
func (p *Planner) Connect(ctx context.Context, ch fill.Channel, villageID string, req Request) (Outcome, error) {
	fromName := req.From.Name + "-edge"
	toName := req.To.Name + "-door"
	if lane, ok := p.Registry.FindLane(villageID, fromName, toName); ok {
		return Outcome{State: StateCommitted, Lane: &lane, Reused: true, Route: lane.Route(), Offset: lane.Offset}, nil
	}
	v, err := p.Registry.Village(villageID)
	if err != nil {
		return Outcome{State: StateFailed}, err
	}
	obs := obstacles(v, req.From, req.To)

	// The destination exit is only computed here; its spur is emitted with
	// the rest of the lane once a route exists.
	dest, ok, err := p.exitPoint(ctx, obs, req.To, req.ToDoor)
	if err != nil {
		return Outcome{State: failState(err)}, err
	}
	if !ok {
		p.Log.Printf("connect %s -> %s: no exit in front of %s", req.From.Name, req.To.Name, req.To.Name)
	}

	st := &attempt{p: p, ctx: ctx, ch: ch, obs: obs, buildY: req.BuildY}
	out, err := st.run(req.From, req.FromDoor, dest, ok)
	if err != nil {
		return out, err
	}

	var tail [][2]geom.Point2D
	if dest.walked {
		tail = [][2]geom.Point2D{{dest.point, dest.start}}
	}
	return p.commit(st, out, villageID, fromName, toName, tail)
}

// ConnectToCenter links a footprint's door to the village center.
func (p *Planner) ConnectToCenter(ctx context.Context, ch fill.Channel, villageID string, from registry.Footprint, door geom.DoorAnchor, buildY int) (Outcome, error) {
	fromName := from.Name + "-edge"
	if lane, ok := p.Registry.FindLane(villageID, fromName, CenterAnchorName); ok {
		return Outcome{State: StateCommitted, Lane: &lane, Reused: true, Route: lane.Route(), Offset: lane.Offset}, nil
	}
	v, err := p.Registry.Village(villageID)
	if err != nil {
		return Outcome{State: StateFailed}, err
	}
	obs := obstacles(v, from)
	center := exit{point: v.Center()}

	st := &attempt{p: p, ctx: ctx, ch: ch, obs: obs, buildY: buildY}
	out, err := st.run(from, door, center, true)
	if err != nil {
		return out, err
	}
	return p.commit(st, out, villageID, fromName, CenterAnchorName, nil)
}

func (p *Planner) commit(st *attempt, out Outcome, villageID, fromName, toName string, tail [][2]geom.Point2D) (Outcome, error) {
	out.State = StateEmit
	spurs := append(append([][2]geom.Point2D(nil), out.Connectors...), tail...)
	n, err := st.emitLane(out.Route, spurs)
	out.Emitted += n
	if err != nil {
		out.State = failState(err)
		return out, err
	}

	route := out.Route
	lane := registry.LaneSegment{
		From:      registry.Anchor{Name: fromName, X: route[0].X, Z: route[0].Z},
		To:        registry.Anchor{Name: toName, X: route[len(route)-1].X, Z: route[len(route)-1].Z},
		BuildY:    st.buildY,
		HalfWidth: p.Cfg.HalfWidth,
		Waypoints: append([]geom.Point2D(nil), route...),
		Offset:    out.Offset,
	}
	if _, err := p.Registry.AppendLane(villageID, lane); err != nil {
		return out, err
	}
	stored, _ := p.Registry.FindLane(villageID, fromName, toName)
	out.Lane = &stored
	out.State = StateCommitted
	p.Log.Printf("lane %s -> %s committed: %d waypoints offset=%d,%d primitives=%d",
		fromName, toName, len(route), out.Offset.X, out.Offset.Z, out.Emitted)
	return out, nil
}

// obstacles lists the village footprints plus any request footprint that
// has not been registered yet.
func obstacles(v registry.Village, extra ...registry.Footprint) []registry.Footprint {
	out := append([]registry.Footprint(nil), v.Footprints...)
	for _, e := range extra {
		if _, ok := v.Footprint(e.Name); !ok {
			out = append(out, e)
		}
	}
	return out
}
