package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"villagecraft.ai/internal/persistence/indexdb"
	persistlog "villagecraft.ai/internal/persistence/log"
	"villagecraft.ai/internal/plan/alloc"
	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/planner"
	"villagecraft.ai/internal/plan/streets"
	"villagecraft.ai/internal/plan/tuning"
	"villagecraft.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/planner.yaml", "path to planner.yaml (missing file = defaults)")
		executor   = flag.String("executor", "ws://127.0.0.1:8080/v1/exec", "executor websocket url")
		token      = flag.String("token", "", "executor auth token (or set VC_EXECUTOR_TOKEN)")
		dryRun     = flag.Bool("dry_run", false, "plan without an executor; primitives are only counted and audited")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		storeKind  = flag.String("store", "snapshot", "registry store: snapshot|sqlite")
		noAudit    = flag.Bool("disable_audit", false, "disable the primitive audit log")

		x = flag.Int("x", 0, "build origin x")
		y = flag.Int("y", 64, "build level y")
		z = flag.Int("z", 0, "build origin z")

		count  = flag.Int("count", 1, "structures to place")
		name   = flag.String("name", "house", "structure name prefix")
		width  = flag.Int("width", 9, "structure width (x)")
		depth  = flag.Int("depth", 9, "structure depth (z)")
		height = flag.Int("height", 6, "structure height")
		doorX  = flag.Int("door_x", -1, "door x relative to the footprint (default: middle of the north edge)")
		doorZ  = flag.Int("door_z", 0, "door z relative to the footprint")
		seed   = flag.Int64("seed", 0, "placement seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[planner] ", log.LstdFlags|log.Lmicroseconds)

	t, err := loadTuning(*configPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = os.MkdirAll(*dataDir, 0o755)
	backup, err := buildBackupRuntime(logger)
	if err != nil {
		logger.Fatalf("backup: %v", err)
	}
	defer backup.Close()

	var idx *indexdb.SQLiteIndex
	store, closeStore, err := openStore(*storeKind, *dataDir, backup)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer closeStore()
	if s, ok := store.(*indexdb.SQLiteIndex); ok {
		idx = s
	}

	var ch fill.Channel
	var remote *ws.Channel
	counter := &countingChannel{}
	if *dryRun {
		ch = counter
	} else {
		tok := strings.TrimSpace(*token)
		if tok == "" {
			tok = strings.TrimSpace(os.Getenv("VC_EXECUTOR_TOKEN"))
		}
		remote, err = ws.Dial(ctx, *executor, ws.Options{
			ClientName: "villagecraft-planner",
			Token:      tok,
			Interval:   time.Duration(t.SubmitIntervalMs) * time.Millisecond,
			Logger:     log.New(os.Stdout, "[executor] ", log.LstdFlags|log.Lmicroseconds),
		})
		if err != nil {
			logger.Fatalf("connect executor: %v", err)
		}
		if c := remote.FillCap(); c < t.FillCap {
			logger.Printf("executor fill cap %d below tuning %d; using executor cap", c, t.FillCap)
			t.FillCap = c
		}
		counter.next = remote
		ch = counter
	}

	var audit *persistlog.AuditChannel
	if !*noAudit {
		audit = persistlog.NewAuditChannel(filepath.Join(*dataDir, "audit"), ch)
		audit.Writer().OnRotate = backup.AuditFile
		ch = audit
	}

	p, err := planner.Open(ctx, planner.Options{
		Tuning:  t,
		Channel: ch,
		Store:   store,
		Logger:  logger,
		Seed:    *seed,
		Journal: journalTo(idx),
	})
	if err != nil {
		logger.Fatalf("open planner: %v", err)
	}

	v, err := p.FindOrCreateVillage(ctx, *x, *y, *z)
	if err != nil {
		logger.Fatalf("village: %v", err)
	}
	if audit != nil {
		audit.Village = v.ID
	}
	sess, err := p.Begin(v.ID)
	if err != nil {
		logger.Fatalf("begin: %v", err)
	}

	var door *geom.Point2D
	if *doorX >= 0 {
		door = &geom.Point2D{X: *doorX, Z: *doorZ}
	}
	placed := 0
	first := len(v.Footprints)
	for i := 0; i < *count; i++ {
		st := planner.Structure{
			Name:   fmt.Sprintf("%s-%d", *name, first+i+1),
			Width:  *width,
			Depth:  *depth,
			Height: *height,
			Door:   door,
		}
		rep, err := sess.PlaceStructure(ctx, st, *y)
		if errors.Is(err, context.Canceled) || errors.Is(err, fill.ErrCancelled) {
			logger.Printf("stopped during %s; %d structures placed", st.Name, placed)
			break
		}
		if errors.Is(err, alloc.ErrPlacementExhausted) {
			logger.Printf("no room left in %s: %v", v.ID, err)
			break
		}
		if err != nil {
			logger.Printf("structure %s: %v", st.Name, err)
			continue
		}
		placed++
		if rep.ConnectErr != nil {
			logger.Printf("structure %s placed without a lane (%s): %v", st.Name, rep.Connection.State, rep.ConnectErr)
		}
	}
	sess.Close()

	if remote != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := remote.Close(cctx); err != nil {
			logger.Printf("executor close: %v", err)
		}
		cancel()
		st := remote.Stats()
		logger.Printf("executor: sent=%d accepted=%d rejected=%d dropped=%d stray=%d", st.Sent, st.Accepted, st.Rejected, st.Dropped, st.Stray)
	}
	if audit != nil {
		if err := audit.Err(); err != nil {
			logger.Printf("audit: %v", err)
		}
		if err := audit.Close(); err != nil {
			logger.Printf("audit close: %v", err)
		}
	}
	logger.Printf("village %s: %d/%d structures placed, %d primitives (%d blocks)",
		v.ID, placed, *count, counter.n, counter.volume)
}

func loadTuning(path string) (tuning.Tuning, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return tuning.Defaults(), nil
	}
	return tuning.Load(path)
}

func journalTo(idx *indexdb.SQLiteIndex) planner.Journal {
	if idx == nil {
		return nil
	}
	return func(villageID, from, to string, out streets.Outcome, err error) {
		row := indexdb.ConnectionRow{
			VillageID: villageID,
			From:      from,
			To:        to,
			State:     out.State.String(),
			Emitted:   out.Emitted,
			OffsetX:   out.Offset.X,
			OffsetZ:   out.Offset.Z,
			At:        time.Now().UTC(),
		}
		if err != nil {
			row.Err = err.Error()
		}
		idx.RecordConnection(row)
	}
}

// countingChannel tallies what the planner submits before handing it on.
type countingChannel struct {
	next   fill.Channel
	n      int
	volume int64
}

func (c *countingChannel) Submit(p fill.Primitive) {
	c.n++
	c.volume += p.Volume()
	if c.next != nil {
		c.next.Submit(p)
	}
}
