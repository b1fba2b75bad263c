package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
	"villagecraft.ai/internal/plan/streets"
	"villagecraft.ai/internal/plan/tuning"
)

type journalEntry struct {
	from, to string
	state    streets.State
	err      error
}

type harness struct {
	p       *Planner
	rec     *fill.Recorder
	store   *registry.MemoryStore
	journal []journalEntry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{rec: &fill.Recorder{}, store: registry.NewMemoryStore()}
	p, err := Open(context.Background(), Options{
		Tuning:  tuning.Defaults(),
		Channel: h.rec,
		Store:   h.store,
		Seed:    1,
		Journal: func(villageID, from, to string, out streets.Outcome, err error) {
			h.journal = append(h.journal, journalEntry{from: from, to: to, state: out.State, err: err})
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.p = p
	return h
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	v, err := h.p.FindOrCreateVillage(context.Background(), 100, 64, 100)
	if err != nil {
		t.Fatalf("FindOrCreateVillage: %v", err)
	}
	s, err := h.p.Begin(v.ID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOpen_RequiresChannel(t *testing.T) {
	if _, err := Open(context.Background(), Options{Tuning: tuning.Defaults()}); err == nil {
		t.Fatalf("expected error without a channel")
	}
	bad := tuning.Defaults()
	bad.FillCap = 0
	if _, err := Open(context.Background(), Options{Tuning: bad, Channel: &fill.Recorder{}}); err == nil {
		t.Fatalf("expected tuning error")
	}
}

func TestFindOrCreateVillage_SavesOnlyOnCreate(t *testing.T) {
	h := newHarness(t)
	a, err := h.p.FindOrCreateVillage(context.Background(), 100, 64, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := h.p.FindOrCreateVillage(context.Background(), 120, 64, 90)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected the same village, got %s and %s", a.ID, b.ID)
	}
	if h.store.Saves != 1 {
		t.Fatalf("saves=%d", h.store.Saves)
	}
}

func TestBegin_OneSessionPerVillage(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	if _, err := h.p.Begin(s.VillageID()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Begin err=%v", err)
	}
	s.Close()
	s.Close()
	again, err := h.p.Begin(s.VillageID())
	if err != nil {
		t.Fatalf("Begin after Close: %v", err)
	}
	defer again.Close()

	if _, err := s.Fill(context.Background(), geom.NewBox(0, 0, 0, 1, 1, 1), "stone"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("closed session Fill err=%v", err)
	}
	if _, err := h.p.Begin("village_missing"); !errors.Is(err, registry.ErrVillageNotFound) {
		t.Fatalf("unknown village err=%v", err)
	}
}

func TestFill_RejectsUnknownMaterial(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	_, err := s.Fill(context.Background(), geom.NewBox(0, 0, 0, 3, 3, 3), "stone_brick")
	if !errors.Is(err, fill.ErrInvalidRegion) {
		t.Fatalf("err=%v", err)
	}
	if len(h.rec.Prims) != 0 {
		t.Fatalf("emitted %d primitives", len(h.rec.Prims))
	}
}

func TestAllocatePlacement_CommitsGrowth(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()
	if err := s.CommitFootprint(ctx, registry.Footprint{Name: "plaza", X: 40, Y: 64, Z: 40, Width: 120, Depth: 120}); err != nil {
		t.Fatalf("plaza: %v", err)
	}
	saves := h.store.Saves

	pl, err := s.AllocatePlacement(ctx, 16, 16)
	if err != nil {
		t.Fatalf("AllocatePlacement: %v", err)
	}
	if pl.Tier == 0 || pl.Radius <= 100 {
		t.Fatalf("expected a growth tier, got %+v", pl)
	}
	v, _ := s.Village()
	if v.GrowthRadius != pl.Radius {
		t.Fatalf("radius not committed: village=%d placement=%d", v.GrowthRadius, pl.Radius)
	}
	if h.store.Saves != saves+1 {
		t.Fatalf("growth was not persisted: saves=%d", h.store.Saves)
	}
}

func TestPrepareSite_ClearsAndLaysFoundation(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	fp := registry.Footprint{Name: "hut", X: 10, Y: 64, Z: 10, Width: 16, Depth: 16}

	n, err := s.PrepareSite(context.Background(), fp)
	if err != nil {
		t.Fatalf("PrepareSite: %v", err)
	}
	if n != 2 || len(h.rec.Prims) != 2 {
		t.Fatalf("n=%d prims=%d", n, len(h.rec.Prims))
	}
	clear, ground := h.rec.Prims[0], h.rec.Prims[1]
	if clear.Material != "air" || clear.Box != geom.NewBox(8, 64, 8, 27, 70, 27) {
		t.Fatalf("clear=%+v", clear)
	}
	if ground.Material != "grass_block" || ground.Box != geom.NewBox(8, 63, 8, 27, 63, 27) {
		t.Fatalf("foundation=%+v", ground)
	}
}

func TestPlanConnection_CommitsOnceAndJournals(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()
	for _, fp := range []registry.Footprint{
		{Name: "A", X: 60, Y: 64, Z: 100, Width: 16, Depth: 16},
		{Name: "B", X: 120, Y: 64, Z: 100, Width: 16, Depth: 16},
	} {
		if err := s.CommitFootprint(ctx, fp); err != nil {
			t.Fatalf("commit %s: %v", fp.Name, err)
		}
	}
	saves := h.store.Saves

	out, err := s.PlanConnection(ctx, "A", "B", 64)
	if err != nil {
		t.Fatalf("PlanConnection: %v", err)
	}
	if out.State != streets.StateCommitted || out.Reused || out.Emitted == 0 {
		t.Fatalf("outcome=%+v", out)
	}
	if h.store.Saves != saves+1 {
		t.Fatalf("lane not persisted: saves=%d", h.store.Saves)
	}
	emitted := len(h.rec.Prims)

	again, err := s.PlanConnection(ctx, "A", "B", 64)
	if err != nil {
		t.Fatalf("second PlanConnection: %v", err)
	}
	if !again.Reused || len(h.rec.Prims) != emitted || h.store.Saves != saves+1 {
		t.Fatalf("reconnect emitted or saved: %+v prims=%d saves=%d", again, len(h.rec.Prims), h.store.Saves)
	}
	if len(h.journal) != 2 || h.journal[0].from != "A" || h.journal[0].to != "B" {
		t.Fatalf("journal=%+v", h.journal)
	}

	if _, err := s.PlanConnection(ctx, "A", "nowhere", 64); !errors.Is(err, registry.ErrBadFootprint) {
		t.Fatalf("unknown footprint err=%v", err)
	}
}

func TestPlaceStructure_ChainsConnections(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	committed := 0
	for i := 0; i < 4; i++ {
		rep, err := s.PlaceStructure(ctx, Structure{Name: fmt.Sprintf("house-%d", i), Width: 12, Depth: 10, Height: 6}, 64)
		if err != nil {
			t.Fatalf("structure %d: %v", i, err)
		}
		if rep.Site == 0 || rep.Lanterns == 0 {
			t.Fatalf("structure %d report=%+v", i, rep)
		}
		if rep.ConnectErr != nil && !errors.Is(rep.ConnectErr, streets.ErrPathBlocked) {
			t.Fatalf("structure %d connect: %v", i, rep.ConnectErr)
		}
		if rep.Connection.State == streets.StateCommitted {
			committed++
		}
	}

	v, _ := s.Village()
	if len(v.Footprints) != 4 {
		t.Fatalf("footprints=%d", len(v.Footprints))
	}
	for i := range v.Footprints {
		for j := i + 1; j < len(v.Footprints); j++ {
			if v.Footprints[i].Rect().Expand(5).Intersects(v.Footprints[j].Rect().Expand(5)) {
				t.Fatalf("%s overlaps %s", v.Footprints[i].Name, v.Footprints[j].Name)
			}
		}
	}
	if len(v.Lanes) != committed {
		t.Fatalf("lanes=%d committed=%d", len(v.Lanes), committed)
	}
	if len(h.journal) != 4 {
		t.Fatalf("journal=%d", len(h.journal))
	}
	if h.journal[0].to != streets.CenterAnchorName {
		t.Fatalf("first structure connected to %q", h.journal[0].to)
	}
	for i := 1; i < 4; i++ {
		want := fmt.Sprintf("house-%d", i-1)
		if h.journal[i].from != want {
			t.Fatalf("structure %d connected from %q, want %q", i, h.journal[i].from, want)
		}
	}
}

func TestPlaceStructure_Cancelled(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.PlaceStructure(ctx, Structure{Name: "late", Width: 8, Depth: 8}, 64)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	v, _ := s.Village()
	if len(v.Footprints) != 0 || len(h.rec.Prims) != 0 {
		t.Fatalf("cancelled placement left state: footprints=%d prims=%d", len(v.Footprints), len(h.rec.Prims))
	}
}
