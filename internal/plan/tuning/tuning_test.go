package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_RepoConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "planner.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if got.FillCap != want.FillCap || got.Lanes != want.Lanes || got.Materials != want.Materials {
		t.Fatalf("configs/planner.yaml drifted from Defaults:\n got=%+v\nwant=%+v", got, want)
	}
	if len(got.Palette) != len(want.Palette) {
		t.Fatalf("palette=%v", got.Palette)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "planner.yaml")
	if err := os.WriteFile(p, []byte("footprint_margin: 8\nlanes:\n  half_width: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.FootprintMargin != 8 || got.Lanes.HalfWidth != 3 {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.Lanes.DetourRadius != 20 || got.Lanes.ExitMaxSteps != 32 || got.AttemptBudget != 50 {
		t.Fatalf("defaults lost: %+v", got)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []func(*Tuning){
		func(t *Tuning) { t.FillCap = 0 },
		func(t *Tuning) { t.FillCap = 40000 },
		func(t *Tuning) { t.Lanes.HalfWidth = -1 },
		func(t *Tuning) { t.Lanes.DetourDiagonalRadius = 30 },
		func(t *Tuning) { t.Materials.Lane = "" },
	}
	for i, mutate := range cases {
		tu := Defaults()
		mutate(&tu)
		if err := tu.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestCheckMaterial_SuggestsClosestNames(t *testing.T) {
	tu := Defaults()
	err := tu.CheckMaterial("stone_brick")
	if err == nil {
		t.Fatalf("expected unknown material error")
	}
	if !strings.Contains(err.Error(), "stone_bricks") {
		t.Fatalf("missing suggestion: %v", err)
	}
	if err := tu.CheckMaterial("lantern"); err != nil {
		t.Fatalf("known material: %v", err)
	}

	tu.Palette = nil
	if err := tu.CheckMaterial("anything_goes"); err != nil {
		t.Fatalf("empty palette must accept: %v", err)
	}
}
