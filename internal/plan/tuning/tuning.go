package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	FillCap          int `yaml:"fill_cap"`
	SubmitIntervalMs int `yaml:"submit_interval_ms"`

	FootprintMargin     int `yaml:"footprint_margin"`
	InitialGrowthRadius int `yaml:"initial_growth_radius"`
	GrowthIncrement     int `yaml:"growth_increment"`
	GrowthTiers         int `yaml:"growth_tiers"`
	AttemptBudget       int `yaml:"attempt_budget"`
	MaxFootprints       int `yaml:"max_footprints"`

	SitePadding     int `yaml:"site_padding"`
	SiteClearHeight int `yaml:"site_clear_height"`

	Lanes     LaneTuning `yaml:"lanes"`
	Materials Materials  `yaml:"materials"`

	// Palette lists every block name the executor is known to accept.
	Palette []string `yaml:"palette"`
}

type LaneTuning struct {
	HalfWidth            int `yaml:"half_width"`
	ExitMaxSteps         int `yaml:"exit_max_steps"`
	DetourRadius         int `yaml:"detour_radius"`
	DetourDiagonalRadius int `yaml:"detour_diagonal_radius"`
	ClearHeight          int `yaml:"clear_height"`
	LanternInterval      int `yaml:"lantern_interval"`
	LanternOffset        int `yaml:"lantern_offset"`
	PostInterval         int `yaml:"post_interval"`
	PostOffset           int `yaml:"post_offset"`
}

type Materials struct {
	Lane        string `yaml:"lane"`
	Clear       string `yaml:"clear"`
	LanternBase string `yaml:"lantern_base"`
	Lantern     string `yaml:"lantern"`
	Foundation  string `yaml:"foundation"`
}

func Defaults() Tuning {
	return Tuning{
		FillCap:          32700,
		SubmitIntervalMs: 250,

		FootprintMargin:     5,
		InitialGrowthRadius: 100,
		GrowthIncrement:     100,
		GrowthTiers:         3,
		AttemptBudget:       50,
		MaxFootprints:       250,

		SitePadding:     2,
		SiteClearHeight: 6,

		Lanes: LaneTuning{
			HalfWidth:            2,
			ExitMaxSteps:         32,
			DetourRadius:         20,
			DetourDiagonalRadius: 5,
			ClearHeight:          5,
			LanternInterval:      6,
			LanternOffset:        3,
			PostInterval:         6,
			PostOffset:           1,
		},
		Materials: Materials{
			Lane:        "stone_bricks",
			Clear:       "air",
			LanternBase: "stone_bricks",
			Lantern:     "lantern",
			Foundation:  "grass_block",
		},
		Palette: []string{
			"air", "bricks", "cobblestone", "deepslate_tiles", "dirt", "dirt_path",
			"grass_block", "gravel", "lantern", "oak_planks", "smooth_stone",
			"spruce_planks", "stone", "stone_bricks", "torch",
		},
	}
}

// Load reads a tuning file on top of Defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("planner.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("planner.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"fill_cap", t.FillCap},
		{"initial_growth_radius", t.InitialGrowthRadius},
		{"growth_increment", t.GrowthIncrement},
		{"attempt_budget", t.AttemptBudget},
		{"max_footprints", t.MaxFootprints},
		{"lanes.exit_max_steps", t.Lanes.ExitMaxSteps},
		{"lanes.clear_height", t.Lanes.ClearHeight},
		{"lanes.lantern_interval", t.Lanes.LanternInterval},
		{"lanes.post_interval", t.Lanes.PostInterval},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be > 0", p.name)
		}
	}
	nonNegative := []struct {
		name string
		v    int
	}{
		{"submit_interval_ms", t.SubmitIntervalMs},
		{"footprint_margin", t.FootprintMargin},
		{"growth_tiers", t.GrowthTiers},
		{"site_padding", t.SitePadding},
		{"site_clear_height", t.SiteClearHeight},
		{"lanes.half_width", t.Lanes.HalfWidth},
		{"lanes.detour_radius", t.Lanes.DetourRadius},
		{"lanes.detour_diagonal_radius", t.Lanes.DetourDiagonalRadius},
		{"lanes.lantern_offset", t.Lanes.LanternOffset},
		{"lanes.post_offset", t.Lanes.PostOffset},
	}
	for _, p := range nonNegative {
		if p.v < 0 {
			return fmt.Errorf("%s must be >= 0", p.name)
		}
	}
	if t.Lanes.DetourDiagonalRadius > t.Lanes.DetourRadius {
		return fmt.Errorf("lanes.detour_diagonal_radius must be <= lanes.detour_radius")
	}
	if t.FillCap > 32768 {
		return fmt.Errorf("fill_cap must be <= 32768")
	}

	mats := []struct {
		name string
		v    string
	}{
		{"materials.lane", t.Materials.Lane},
		{"materials.clear", t.Materials.Clear},
		{"materials.lantern_base", t.Materials.LanternBase},
		{"materials.lantern", t.Materials.Lantern},
		{"materials.foundation", t.Materials.Foundation},
	}
	for _, m := range mats {
		if err := t.CheckMaterial(m.v); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	return nil
}

// CheckMaterial reports whether name is in the palette. An empty palette
// accepts any non-empty name. Unknown names get the closest palette entries
// as suggestions.
func (t Tuning) CheckMaterial(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("material must not be empty")
	}
	if len(t.Palette) == 0 {
		return nil
	}
	for _, p := range t.Palette {
		if p == name {
			return nil
		}
	}
	if s := suggest(name, t.Palette); len(s) > 0 {
		return fmt.Errorf("unknown material %q (did you mean %s?)", name, strings.Join(s, ", "))
	}
	return fmt.Errorf("unknown material %q", name)
}

func suggest(name string, palette []string) []string {
	type cand struct {
		name string
		dist int
	}
	var cands []cand
	for _, p := range palette {
		d := levenshtein.ComputeDistance(name, p)
		if d > distanceLimit(len(p)) {
			continue
		}
		cands = append(cands, cand{name: p, dist: d})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist == cands[j].dist {
			return cands[i].name < cands[j].name
		}
		return cands[i].dist < cands[j].dist
	})
	out := make([]string, 0, 3)
	for _, c := range cands {
		out = append(out, c.name)
		if len(out) == 3 {
			break
		}
	}
	return out
}

func distanceLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}
