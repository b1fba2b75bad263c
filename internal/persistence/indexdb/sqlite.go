package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
)

const schemaVersion = "1"

// SQLiteIndex stores the village registry in SQLite and keeps an append-only
// journal of connection attempts written by a background goroutine.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan ConnectionRow
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

// ConnectionRow is one finished street connection attempt.
type ConnectionRow struct {
	VillageID string
	From      string
	To        string
	State     string
	Emitted   int
	OffsetX   int
	OffsetZ   int
	Err       string
	At        time.Time
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan ConnectionRow, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS villages (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			center_x INTEGER NOT NULL,
			center_y INTEGER NOT NULL,
			center_z INTEGER NOT NULL,
			growth_radius INTEGER NOT NULL,
			max_footprints INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS footprints (
			village_id TEXT NOT NULL REFERENCES villages(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			width INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			height INTEGER NOT NULL,
			door_x INTEGER,
			door_z INTEGER,
			placed_at TEXT NOT NULL,
			PRIMARY KEY (village_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS lanes (
			village_id TEXT NOT NULL REFERENCES villages(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			from_name TEXT NOT NULL,
			from_x INTEGER NOT NULL,
			from_z INTEGER NOT NULL,
			to_name TEXT NOT NULL,
			to_x INTEGER NOT NULL,
			to_z INTEGER NOT NULL,
			build_y INTEGER NOT NULL,
			half_width INTEGER NOT NULL,
			waypoints_json TEXT NOT NULL,
			offset_x INTEGER NOT NULL,
			offset_z INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (village_id, from_name, to_name)
		);`,
		`CREATE TABLE IF NOT EXISTS connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			village_id TEXT NOT NULL,
			from_name TEXT NOT NULL,
			to_name TEXT NOT NULL,
			state TEXT NOT NULL,
			emitted INTEGER NOT NULL,
			offset_x INTEGER NOT NULL,
			offset_z INTEGER NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_connections_village ON connections(village_id, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts connection rows discarded because the writer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// RecordConnection queues a journal row. It never blocks the planner.
func (s *SQLiteIndex) RecordConnection(row ConnectionRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if row.At.IsZero() {
		row.At = time.Now().UTC()
	}
	select {
	case s.ch <- row:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) LoadVillages(ctx context.Context) ([]registry.Village, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,center_x,center_y,center_z,growth_radius,max_footprints FROM villages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	var out []registry.Village
	idx := map[string]int{}
	for rows.Next() {
		var v registry.Village
		if err := rows.Scan(&v.ID, &v.CenterX, &v.CenterY, &v.CenterZ, &v.GrowthRadius, &v.MaxFootprints); err != nil {
			_ = rows.Close()
			return nil, err
		}
		v.Footprints = []registry.Footprint{}
		v.Lanes = []registry.LaneSegment{}
		idx[v.ID] = len(out)
		out = append(out, v)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := s.loadFootprints(ctx, out, idx); err != nil {
		return nil, err
	}
	if err := s.loadLanes(ctx, out, idx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteIndex) loadFootprints(ctx context.Context, out []registry.Village, idx map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT village_id,name,x,y,z,width,depth,height,door_x,door_z,placed_at FROM footprints ORDER BY village_id, seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			vid, placed  string
			fp           registry.Footprint
			doorX, doorZ sql.NullInt64
		)
		if err := rows.Scan(&vid, &fp.Name, &fp.X, &fp.Y, &fp.Z, &fp.Width, &fp.Depth, &fp.Height, &doorX, &doorZ, &placed); err != nil {
			return err
		}
		if doorX.Valid && doorZ.Valid {
			fp.Door = &geom.Point2D{X: int(doorX.Int64), Z: int(doorZ.Int64)}
		}
		fp.PlacedAt, _ = time.Parse(time.RFC3339Nano, placed)
		i, ok := idx[vid]
		if !ok {
			continue
		}
		out[i].Footprints = append(out[i].Footprints, fp)
	}
	return rows.Err()
}

func (s *SQLiteIndex) loadLanes(ctx context.Context, out []registry.Village, idx map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT village_id,from_name,from_x,from_z,to_name,to_x,to_z,build_y,half_width,waypoints_json,offset_x,offset_z,created_at FROM lanes ORDER BY village_id, seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			vid, wp, created string
			l                registry.LaneSegment
		)
		if err := rows.Scan(&vid, &l.From.Name, &l.From.X, &l.From.Z, &l.To.Name, &l.To.X, &l.To.Z,
			&l.BuildY, &l.HalfWidth, &wp, &l.Offset.X, &l.Offset.Z, &created); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(wp), &l.Waypoints); err != nil {
			return fmt.Errorf("lane %s -> %s waypoints: %w", l.From.Name, l.To.Name, err)
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		i, ok := idx[vid]
		if !ok {
			continue
		}
		out[i].Lanes = append(out[i].Lanes, l)
	}
	return rows.Err()
}

// SaveVillages replaces the stored registry in one transaction.
func (s *SQLiteIndex) SaveVillages(ctx context.Context, villages []registry.Village) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{`DELETE FROM lanes`, `DELETE FROM footprints`, `DELETE FROM villages`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	insVillage, err := tx.PrepareContext(ctx, `INSERT INTO villages(id,seq,center_x,center_y,center_z,growth_radius,max_footprints) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insVillage.Close()
	insFootprint, err := tx.PrepareContext(ctx, `INSERT INTO footprints(village_id,seq,name,x,y,z,width,depth,height,door_x,door_z,placed_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insFootprint.Close()
	insLane, err := tx.PrepareContext(ctx, `INSERT INTO lanes(village_id,seq,from_name,from_x,from_z,to_name,to_x,to_z,build_y,half_width,waypoints_json,offset_x,offset_z,created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insLane.Close()

	for vi, v := range villages {
		if _, err := insVillage.ExecContext(ctx, v.ID, vi, v.CenterX, v.CenterY, v.CenterZ, v.GrowthRadius, v.MaxFootprints); err != nil {
			return fmt.Errorf("village %s: %w", v.ID, err)
		}
		for fi, fp := range v.Footprints {
			var doorX, doorZ sql.NullInt64
			if fp.Door != nil {
				doorX = sql.NullInt64{Int64: int64(fp.Door.X), Valid: true}
				doorZ = sql.NullInt64{Int64: int64(fp.Door.Z), Valid: true}
			}
			if _, err := insFootprint.ExecContext(ctx, v.ID, fi, fp.Name, fp.X, fp.Y, fp.Z, fp.Width, fp.Depth, fp.Height,
				doorX, doorZ, fp.PlacedAt.UTC().Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("footprint %s/%s: %w", v.ID, fp.Name, err)
			}
		}
		for li, l := range v.Lanes {
			wp, _ := json.Marshal(l.Waypoints)
			if l.Waypoints == nil {
				wp = []byte("[]")
			}
			if _, err := insLane.ExecContext(ctx, v.ID, li, l.From.Name, l.From.X, l.From.Z, l.To.Name, l.To.X, l.To.Z,
				l.BuildY, l.HalfWidth, string(wp), l.Offset.X, l.Offset.Z, l.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("lane %s/%s -> %s: %w", v.ID, l.From.Name, l.To.Name, err)
			}
		}
	}
	return tx.Commit()
}

// Connections returns the journal rows of one village, oldest first.
func (s *SQLiteIndex) Connections(ctx context.Context, villageID string) ([]ConnectionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT village_id,from_name,to_name,state,emitted,offset_x,offset_z,COALESCE(error,''),recorded_at FROM connections WHERE village_id=? ORDER BY id`, villageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConnectionRow
	for rows.Next() {
		var (
			r  ConnectionRow
			at string
		)
		if err := rows.Scan(&r.VillageID, &r.From, &r.To, &r.State, &r.Emitted, &r.OffsetX, &r.OffsetZ, &r.Err, &at); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, _ := s.db.Prepare(`INSERT INTO connections(village_id,from_name,to_name,state,emitted,offset_x,offset_z,error,recorded_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil || insert == nil {
			continue
		}
		var errText any
		if r.Err != "" {
			errText = r.Err
		}
		if _, err := tx.Stmt(insert).Exec(r.VillageID, r.From, r.To, r.State, r.Emitted, r.OffsetX, r.OffsetZ,
			errText, r.At.UTC().Format(time.RFC3339Nano)); err == nil {
			opCount++
		}
		// Commit eagerly when the queue drains so readers see rows promptly.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
