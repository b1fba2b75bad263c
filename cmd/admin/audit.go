package main

import (
	"fmt"

	persistlog "villagecraft.ai/internal/persistence/log"
	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/tuning"
)

type materialStats struct {
	count  int
	volume int64
}

type auditSummary struct {
	prims      []fill.Primitive
	byMaterial map[string]materialStats
}

// summarize keeps entries of villageID (any when empty) whose box overlaps
// within (any when nil).
func summarize(es []persistlog.PrimitiveEntry, villageID string, within *geom.Box3D) auditSummary {
	out := auditSummary{byMaterial: map[string]materialStats{}}
	for _, e := range es {
		if villageID != "" && e.Village != villageID {
			continue
		}
		b := geom.NewBox(e.Min[0], e.Min[1], e.Min[2], e.Max[0], e.Max[1], e.Max[2])
		if within != nil && !overlaps(b, *within) {
			continue
		}
		out.prims = append(out.prims, fill.Primitive{Box: b, Material: e.Material})
		s := out.byMaterial[e.Material]
		s.count++
		s.volume += e.Volume
		out.byMaterial[e.Material] = s
	}
	return out
}

func overlaps(a, b geom.Box3D) bool {
	return a.MinX <= b.MaxX && b.MinX <= a.MaxX &&
		a.MinY <= b.MaxY && b.MinY <= a.MaxY &&
		a.MinZ <= b.MaxZ && b.MinZ <= a.MaxZ
}

func decompose(t tuning.Tuning, box geom.Box3D, material string) ([]fill.Primitive, error) {
	if err := t.CheckMaterial(material); err != nil {
		return nil, err
	}
	if t.FillCap <= 0 {
		return nil, fmt.Errorf("cap must be > 0")
	}
	return fill.Decompose(box, t.FillCap, material)
}
