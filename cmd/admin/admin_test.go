package main

import (
	"errors"
	"testing"

	persistlog "villagecraft.ai/internal/persistence/log"
	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/tuning"
)

func TestParseAABB_NormalizesCorners(t *testing.T) {
	b, err := parseAABB("10, 70, -3:2,64,5")
	if err != nil {
		t.Fatalf("parseAABB: %v", err)
	}
	if b != geom.NewBox(2, 64, -3, 10, 70, 5) {
		t.Fatalf("box=%+v", b)
	}
	for _, bad := range []string{"", "1,2,3", "1,2:3,4,5", "a,b,c:1,2,3"} {
		if _, err := parseAABB(bad); err == nil {
			t.Fatalf("parseAABB(%q) accepted", bad)
		}
	}
}

func TestSummarize_FiltersByVillageAndBox(t *testing.T) {
	es := []persistlog.PrimitiveEntry{
		{Seq: 1, Village: "a", Min: [3]int{0, 64, 0}, Max: [3]int{9, 64, 9}, Material: "stone_bricks", Volume: 100},
		{Seq: 2, Village: "a", Min: [3]int{50, 64, 50}, Max: [3]int{59, 64, 59}, Material: "stone_bricks", Volume: 100},
		{Seq: 3, Village: "a", Min: [3]int{5, 65, 5}, Max: [3]int{5, 65, 5}, Material: "lantern", Volume: 1},
		{Seq: 4, Village: "b", Min: [3]int{0, 64, 0}, Max: [3]int{9, 64, 9}, Material: "stone_bricks", Volume: 100},
	}
	within := geom.NewBox(0, 60, 0, 20, 70, 20)
	s := summarize(es, "a", &within)
	if len(s.prims) != 2 {
		t.Fatalf("matched=%d", len(s.prims))
	}
	if s.byMaterial["stone_bricks"] != (materialStats{count: 1, volume: 100}) || s.byMaterial["lantern"].count != 1 {
		t.Fatalf("by material=%+v", s.byMaterial)
	}
	if all := summarize(es, "", nil); len(all.prims) != 4 {
		t.Fatalf("unfiltered=%d", len(all.prims))
	}
}

func TestDecompose_UsesTuningCap(t *testing.T) {
	tn := tuning.Defaults()
	tn.FillCap = 50
	prims, err := decompose(tn, geom.NewBox(0, 0, 0, 9, 0, 9), "stone")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(prims) != 2 {
		t.Fatalf("prims=%d", len(prims))
	}
	if _, err := decompose(tn, geom.NewBox(0, 0, 0, 1, 1, 1), "stoen"); err == nil {
		t.Fatalf("unknown material accepted")
	}
	if _, err := decompose(tn, geom.Box3D{MinX: 5, MaxX: 0}, "stone"); !errors.Is(err, fill.ErrInvalidRegion) {
		t.Fatalf("inverted box err=%v", err)
	}
}
