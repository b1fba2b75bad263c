package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
)

func TestSQLiteIndex_SaveLoadVillages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	placed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	door := geom.Point2D{X: 15, Z: 4}
	in := []registry.Village{
		{
			ID: "village_b", CenterX: 500, CenterY: 70, CenterZ: -40, GrowthRadius: 100, MaxFootprints: 250,
		},
		{
			ID: "village_a", CenterX: 100, CenterY: 64, CenterZ: 100, GrowthRadius: 300, MaxFootprints: 10,
			Footprints: []registry.Footprint{
				{Name: "A", X: 60, Y: 64, Z: 100, Width: 16, Depth: 16, PlacedAt: placed},
				{Name: "B", X: 120, Y: 64, Z: 100, Width: 16, Depth: 16, Height: 9, Door: &door, PlacedAt: placed},
			},
			Lanes: []registry.LaneSegment{{
				From:      registry.Anchor{Name: "A-edge", X: 68, Z: 96},
				To:        registry.Anchor{Name: "B-door", X: 128, Z: 96},
				BuildY:    64,
				HalfWidth: 2,
				Waypoints: []geom.Point2D{{X: 68, Z: 96}, {X: 68, Z: 87}, {X: 128, Z: 87}, {X: 128, Z: 96}},
				Offset:    geom.Point2D{Z: -9},
				CreatedAt: placed,
			}},
		},
	}
	if err := idx.SaveVillages(ctx, in); err != nil {
		t.Fatalf("SaveVillages: %v", err)
	}
	// A second save replaces rather than appends.
	if err := idx.SaveVillages(ctx, in); err != nil {
		t.Fatalf("SaveVillages again: %v", err)
	}

	out, err := idx.LoadVillages(ctx)
	if err != nil {
		t.Fatalf("LoadVillages: %v", err)
	}
	if len(out) != 2 || out[0].ID != "village_b" || out[1].ID != "village_a" {
		t.Fatalf("villages=%+v", out)
	}
	a := out[1]
	if a.GrowthRadius != 300 || a.MaxFootprints != 10 || len(a.Footprints) != 2 || len(a.Lanes) != 1 {
		t.Fatalf("village_a=%+v", a)
	}
	if a.Footprints[0].Door != nil || a.Footprints[1].Door == nil || *a.Footprints[1].Door != door {
		t.Fatalf("doors=%v %v", a.Footprints[0].Door, a.Footprints[1].Door)
	}
	if !a.Footprints[1].PlacedAt.Equal(placed) || a.Footprints[1].Height != 9 {
		t.Fatalf("footprint B=%+v", a.Footprints[1])
	}
	l := a.Lanes[0]
	if len(l.Waypoints) != 4 || l.Offset != (geom.Point2D{Z: -9}) || l.To.Name != "B-door" {
		t.Fatalf("lane=%+v", l)
	}
	if len(out[0].Footprints) != 0 || out[0].Lanes == nil {
		t.Fatalf("empty village=%+v", out[0])
	}
}

func TestSQLiteIndex_RecordConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordConnection(ConnectionRow{VillageID: "v1", From: "A-edge", To: "B-door", State: "committed", Emitted: 42, OffsetZ: -9})
	idx.RecordConnection(ConnectionRow{VillageID: "v1", From: "C-edge", To: "B-door", State: "partial_failed", Emitted: 2, Err: "path blocked"})
	idx.RecordConnection(ConnectionRow{VillageID: "v2", From: "X-edge", To: "village-center", State: "failed"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Closed indexes ignore further rows.
	idx.RecordConnection(ConnectionRow{VillageID: "v1", State: "committed"})

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM connections WHERE village_id='v1'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows=%d", n)
	}
	var (
		state   string
		emitted int
		errText sql.NullString
	)
	row := db.QueryRow(`SELECT state,emitted,error FROM connections WHERE from_name='C-edge'`)
	if err := row.Scan(&state, &emitted, &errText); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if state != "partial_failed" || emitted != 2 || errText.String != "path blocked" {
		t.Fatalf("row: %s %d %v", state, emitted, errText)
	}
	var version string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&version); err != nil || version != schemaVersion {
		t.Fatalf("schema_version=%q err=%v", version, err)
	}
}

func TestSQLiteIndex_Connections(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "planner.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	idx.RecordConnection(ConnectionRow{VillageID: "v1", From: "A-edge", To: "village-center", State: "committed", Emitted: 7})

	deadline := time.Now().Add(5 * time.Second)
	for {
		rows, err := idx.Connections(context.Background(), "v1")
		if err != nil {
			t.Fatalf("Connections: %v", err)
		}
		if len(rows) == 1 {
			if rows[0].State != "committed" || rows[0].Emitted != 7 || rows[0].To != "village-center" {
				t.Fatalf("row=%+v", rows[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal row never committed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
