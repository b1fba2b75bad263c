package fill

import (
	"context"
	"errors"
	"testing"

	"villagecraft.ai/internal/plan/geom"
)

func TestDecompose_SmallBoxIsSinglePrimitive(t *testing.T) {
	box := geom.NewBox(10, 64, 10, 19, 66, 14)
	prims, err := Decompose(box, 150, "stone_bricks")
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(prims) != 1 || prims[0].Box != box || prims[0].Material != "stone_bricks" {
		t.Fatalf("prims=%+v", prims)
	}
}

func TestDecompose_PartitionsExactly(t *testing.T) {
	cases := []struct {
		box geom.Box3D
		cap int
	}{
		{geom.NewBox(-5, 60, 3, 31, 64, 25), 100},
		{geom.NewBox(0, 0, 0, 40, 0, 0), 7},
		{geom.NewBox(-3, -3, -3, 3, 3, 3), 1},
		{geom.NewBox(100, 64, 100, 163, 69, 102), 32},
	}
	for _, tc := range cases {
		prims, err := Decompose(tc.box, tc.cap, "air")
		if err != nil {
			t.Fatalf("Decompose(%+v): %v", tc.box, err)
		}
		seen := make(map[[3]int]int)
		for _, p := range prims {
			if p.Volume() > int64(tc.cap) {
				t.Fatalf("primitive %+v volume %d > cap %d", p.Box, p.Volume(), tc.cap)
			}
			for x := p.Box.MinX; x <= p.Box.MaxX; x++ {
				for y := p.Box.MinY; y <= p.Box.MaxY; y++ {
					for z := p.Box.MinZ; z <= p.Box.MaxZ; z++ {
						if !tc.box.Contains(x, y, z) {
							t.Fatalf("cell %d,%d,%d outside %+v", x, y, z, tc.box)
						}
						seen[[3]int{x, y, z}]++
					}
				}
			}
		}
		vol, _ := tc.box.Volume()
		if int64(len(seen)) != vol {
			t.Fatalf("covered %d cells, want %d", len(seen), vol)
		}
		for c, n := range seen {
			if n != 1 {
				t.Fatalf("cell %v covered %d times", c, n)
			}
		}
	}
}

func TestDecompose_LargeBoxIterationsBounded(t *testing.T) {
	box := geom.NewBox(0, 0, 0, 999, 999, 999)
	const cap = 32700
	prims, iterations, err := decompose(box, cap, "stone")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	vol, _ := box.Volume()
	if bound := 6*(vol/cap) + 6; iterations > bound {
		t.Fatalf("iterations=%d exceeds %d", iterations, bound)
	}
	var total int64
	for _, p := range prims {
		if p.Volume() > cap {
			t.Fatalf("primitive over cap: %+v", p.Box)
		}
		total += p.Volume()
	}
	if total != vol {
		t.Fatalf("total volume=%d want %d", total, vol)
	}
}

func TestDecompose_TieBreakSplitsXFirst(t *testing.T) {
	prims, err := Decompose(geom.NewBox(0, 0, 0, 3, 3, 3), 32, "glass")
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(prims) != 2 {
		t.Fatalf("want 2 halves, got %d", len(prims))
	}
	if prims[0].Box.MaxX != 1 || prims[1].Box.MinX != 2 {
		t.Fatalf("expected X split lower half first: %+v", prims)
	}
}

func TestDecompose_InvalidRegion(t *testing.T) {
	bad := []struct {
		box geom.Box3D
		cap int
		mat string
	}{
		{geom.Box3D{MinX: 5, MaxX: 4}, 10, "air"},
		{geom.NewBox(0, 0, 0, 1, 1, 1), 0, "air"},
		{geom.NewBox(0, 0, 0, 1, 1, 1), 10, " "},
		{geom.Box3D{MinX: -geom.MaxSpan, MaxX: geom.MaxSpan}, 10, "air"},
	}
	for _, tc := range bad {
		prims, err := Decompose(tc.box, tc.cap, tc.mat)
		if !errors.Is(err, ErrInvalidRegion) {
			t.Fatalf("box=%+v cap=%d: err=%v", tc.box, tc.cap, err)
		}
		if len(prims) != 0 {
			t.Fatalf("invalid input emitted %d primitives", len(prims))
		}
	}
}

type cancelAfter struct {
	n      int
	cancel context.CancelFunc
	Recorder
}

func (c *cancelAfter) Submit(p Primitive) {
	c.Recorder.Submit(p)
	if len(c.Prims) == c.n {
		c.cancel()
	}
}

func TestFiller_CancelStopsWithinOnePrimitive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := &cancelAfter{n: 3, cancel: cancel}

	n, err := Filler{Cap: 10}.Fill(ctx, ch, geom.NewBox(0, 0, 0, 9, 9, 0), "dirt")
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if n != 3 || len(ch.Prims) != 3 {
		t.Fatalf("submitted=%d recorded=%d", n, len(ch.Prims))
	}
}
