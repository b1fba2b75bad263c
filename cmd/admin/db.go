package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/registry.sqlite)")
	villageID := fs.String("village", "", "village id filter (footprints, lanes, connections)")
	limit := fs.Int("limit", 20, "result limit (connections)")
	_ = fs.Parse(args)

	q := "villages"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "registry.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q != "villages" && strings.TrimSpace(*villageID) == "" {
		fmt.Fprintln(os.Stderr, "missing -village")
		os.Exit(2)
	}

	switch q {
	case "villages":
		rows, err := db.Query(`SELECT v.id,v.center_x,v.center_y,v.center_z,v.growth_radius,v.max_footprints,
			(SELECT COUNT(*) FROM footprints f WHERE f.village_id=v.id),
			(SELECT COUNT(*) FROM lanes l WHERE l.village_id=v.id)
			FROM villages v ORDER BY v.seq`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID            string `json:"id"`
				CenterX       int    `json:"center_x"`
				CenterY       int    `json:"center_y"`
				CenterZ       int    `json:"center_z"`
				GrowthRadius  int    `json:"growth_radius"`
				MaxFootprints int    `json:"max_footprints"`
				Footprints    int    `json:"footprints"`
				Lanes         int    `json:"lanes"`
			}
			if err := rows.Scan(&r.ID, &r.CenterX, &r.CenterY, &r.CenterZ, &r.GrowthRadius, &r.MaxFootprints, &r.Footprints, &r.Lanes); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "footprints":
		rows, err := db.Query(`SELECT name,x,y,z,width,depth,height,door_x,door_z,placed_at FROM footprints WHERE village_id=? ORDER BY seq`, *villageID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name     string        `json:"name"`
				X        int           `json:"x"`
				Y        int           `json:"y"`
				Z        int           `json:"z"`
				Width    int           `json:"width"`
				Depth    int           `json:"depth"`
				Height   int           `json:"height"`
				DoorX    sql.NullInt64 `json:"door_x"`
				DoorZ    sql.NullInt64 `json:"door_z"`
				PlacedAt string        `json:"placed_at"`
			}
			if err := rows.Scan(&r.Name, &r.X, &r.Y, &r.Z, &r.Width, &r.Depth, &r.Height, &r.DoorX, &r.DoorZ, &r.PlacedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "lanes":
		rows, err := db.Query(`SELECT from_name,to_name,build_y,half_width,waypoints_json,offset_x,offset_z,created_at FROM lanes WHERE village_id=? ORDER BY seq`, *villageID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				From      string          `json:"from"`
				To        string          `json:"to"`
				BuildY    int             `json:"build_y"`
				HalfWidth int             `json:"half_width"`
				Waypoints json.RawMessage `json:"waypoints"`
				OffsetX   int             `json:"offset_x"`
				OffsetZ   int             `json:"offset_z"`
				CreatedAt string          `json:"created_at"`
			}
			var wp string
			if err := rows.Scan(&r.From, &r.To, &r.BuildY, &r.HalfWidth, &wp, &r.OffsetX, &r.OffsetZ, &r.CreatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Waypoints = json.RawMessage(wp)
			printJSON(r)
		}
		checkRows(rows)

	case "connections":
		if *limit <= 0 {
			*limit = 20
		}
		rows, err := db.Query(`SELECT id,from_name,to_name,state,emitted,offset_x,offset_z,COALESCE(error,''),recorded_at FROM connections WHERE village_id=? ORDER BY id DESC LIMIT ?`, *villageID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID         int64  `json:"id"`
				From       string `json:"from"`
				To         string `json:"to"`
				State      string `json:"state"`
				Emitted    int    `json:"emitted"`
				OffsetX    int    `json:"offset_x"`
				OffsetZ    int    `json:"offset_z"`
				Error      string `json:"error,omitempty"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.ID, &r.From, &r.To, &r.State, &r.Emitted, &r.OffsetX, &r.OffsetZ, &r.Error, &r.RecordedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want villages|footprints|lanes|connections)")
		os.Exit(2)
	}
}

func checkRows(rows *sql.Rows) {
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
