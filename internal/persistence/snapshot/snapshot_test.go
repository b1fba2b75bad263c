package snapshot

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
)

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry", "villages.snap.zst")
	s := NewStore(path)
	s.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	var saved []string
	s.OnSave = func(p string) { saved = append(saved, p) }

	got, err := s.LoadVillages(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("missing file: %v %v", got, err)
	}

	door := geom.Point2D{X: 0, Z: 8}
	in := []registry.Village{{
		ID:            "village_a",
		CenterX:       100,
		CenterY:       64,
		CenterZ:       100,
		GrowthRadius:  200,
		MaxFootprints: 250,
		Footprints: []registry.Footprint{
			{Name: "A", X: 60, Y: 64, Z: 100, Width: 16, Depth: 16, Door: &door},
		},
		Lanes: []registry.LaneSegment{{
			From:      registry.Anchor{Name: "A-edge", X: 68, Z: 96},
			To:        registry.Anchor{Name: "B-door", X: 128, Z: 96},
			BuildY:    64,
			HalfWidth: 2,
			Waypoints: []geom.Point2D{{X: 68, Z: 96}, {X: 128, Z: 96}},
		}},
	}}
	if err := s.SaveVillages(context.Background(), in); err != nil {
		t.Fatalf("save: %v", err)
	}

	if len(saved) != 1 || saved[0] != path {
		t.Fatalf("OnSave calls=%v", saved)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Version != Version || h.Villages != 1 {
		t.Fatalf("header=%+v", h)
	}

	out, err := s.LoadVillages(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || out[0].GrowthRadius != 200 || len(out[0].Footprints) != 1 || len(out[0].Lanes) != 1 {
		t.Fatalf("loaded=%+v", out)
	}
	fp := out[0].Footprints[0]
	if fp.Door == nil || *fp.Door != door {
		t.Fatalf("door lost: %+v", fp)
	}
	if r := out[0].Lanes[0].Route(); len(r) != 2 || r[1] != (geom.Point2D{X: 128, Z: 96}) {
		t.Fatalf("route=%+v", r)
	}
}

func TestStore_OpenRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "villages.snap.zst")
	s := NewStore(path)

	reg, err := registry.Open(context.Background(), s, registry.Options{Margin: 5})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v, _ := reg.FindOrCreate(0, 64, 0)
	if err := reg.AddFootprint(v.ID, registry.Footprint{Name: "hut", X: 0, Z: 0, Width: 8, Depth: 8}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := reg.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := registry.Open(context.Background(), s, registry.Options{Margin: 5})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := again.Village(v.ID)
	if err != nil {
		t.Fatalf("village: %v", err)
	}
	if _, ok := got.Footprint("hut"); !ok {
		t.Fatalf("footprint not persisted: %+v", got)
	}
}

func TestDocument_MatchesSchema(t *testing.T) {
	sch, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", "registry.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	reg := registry.New(registry.Options{Margin: 5})
	v, _ := reg.FindOrCreate(100, 64, 100)
	door := geom.Point2D{X: 8, Z: 0}
	if err := reg.AddFootprint(v.ID, registry.Footprint{Name: "A", X: 60, Y: 64, Z: 100, Width: 16, Depth: 16, Door: &door}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := reg.AppendLane(v.ID, registry.LaneSegment{
		From:      registry.Anchor{Name: "A-edge", X: 68, Z: 96},
		To:        registry.Anchor{Name: "village-center", X: 100, Z: 100},
		BuildY:    64,
		HalfWidth: 2,
		Waypoints: []geom.Point2D{{X: 68, Z: 96}, {X: 100, Z: 100}},
	}); err != nil {
		t.Fatalf("lane: %v", err)
	}

	vs := reg.Villages()
	doc := DocumentV1{Header: Header{Version: Version, Villages: len(vs), SavedAt: time.Now().UTC()}, Villages: vs}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := sch.Validate(generic); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
