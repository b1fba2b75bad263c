package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"villagecraft.ai/internal/persistence/indexdb"
	persistlog "villagecraft.ai/internal/persistence/log"
	"villagecraft.ai/internal/persistence/snapshot"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/plan/registry"
	"villagecraft.ai/internal/plan/tuning"
	"villagecraft.ai/internal/protocol"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "show":
			showCmd(os.Args[2:])
			return
		case "migrate":
			migrateCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "decompose":
			decomposeCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "executor":
			executorCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type storeFlags struct {
	dataDir *string
	kind    *string
	path    *string
}

func addStoreFlags(fs *flag.FlagSet, prefix, defKind string) storeFlags {
	return storeFlags{
		dataDir: fs.String(prefix+"data", "./data", "runtime data directory"),
		kind:    fs.String(prefix+"store", defKind, "registry store: snapshot|sqlite"),
		path:    fs.String(prefix+"path", "", "store file (default: <data>/registry.snap.zst or <data>/registry.sqlite)"),
	}
}

func (f storeFlags) open() (registry.Store, func(), error) {
	p := strings.TrimSpace(*f.path)
	switch *f.kind {
	case "snapshot":
		if p == "" {
			p = filepath.Join(*f.dataDir, "registry.snap.zst")
		}
		return snapshot.NewStore(p), func() {}, nil
	case "sqlite":
		if p == "" {
			p = filepath.Join(*f.dataDir, "registry.sqlite")
		}
		idx, err := indexdb.OpenSQLite(p)
		if err != nil {
			return nil, nil, err
		}
		return idx, func() { _ = idx.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", *f.kind)
	}
}

func loadVillages(f storeFlags) []registry.Village {
	store, closeStore, err := f.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer closeStore()
	vs, err := store.LoadVillages(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	return vs
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	sf := addStoreFlags(fs, "", "snapshot")
	_ = fs.Parse(args)

	for _, v := range loadVillages(sf) {
		fmt.Printf("%s center=%d,%d,%d radius=%d footprints=%d/%d lanes=%d\n",
			v.ID, v.CenterX, v.CenterY, v.CenterZ, v.GrowthRadius, len(v.Footprints), v.MaxFootprints, len(v.Lanes))
	}
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	sf := addStoreFlags(fs, "", "snapshot")
	villageID := fs.String("village", "", "village id (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*villageID) == "" {
		fmt.Fprintln(os.Stderr, "missing -village")
		os.Exit(2)
	}
	for _, v := range loadVillages(sf) {
		if v.ID != *villageID {
			continue
		}
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Fprintln(os.Stderr, "village not found:", *villageID)
	os.Exit(1)
}

func migrateCmd(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	from := addStoreFlags(fs, "from_", "snapshot")
	to := addStoreFlags(fs, "to_", "sqlite")
	_ = fs.Parse(args)

	vs := loadVillages(from)
	dst, closeDst, err := to.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open destination:", err)
		os.Exit(1)
	}
	defer closeDst()
	if err := dst.SaveVillages(context.Background(), vs); err != nil {
		fmt.Fprintln(os.Stderr, "save:", err)
		os.Exit(1)
	}
	fp, lanes := 0, 0
	for _, v := range vs {
		fp += len(v.Footprints)
		lanes += len(v.Lanes)
	}
	fmt.Printf("migrate ok: %s -> %s villages=%d footprints=%d lanes=%d\n", *from.kind, *to.kind, len(vs), fp, lanes)
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dir := fs.String("dir", "", "audit directory (default: <data>/audit)")
	villageID := fs.String("village", "", "village filter (optional)")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (optional)")
	commands := fs.Bool("commands", false, "print every matching primitive as a /fill command")
	_ = fs.Parse(args)

	d := strings.TrimSpace(*dir)
	if d == "" {
		d = filepath.Join(*dataDir, "audit")
	}
	var box *geom.Box3D
	if strings.TrimSpace(*aabb) != "" {
		b, err := parseAABB(*aabb)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -aabb:", err)
			os.Exit(2)
		}
		box = &b
	}

	es, err := persistlog.ReadEntries(d)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	sum := summarize(es, *villageID, box)
	if *commands {
		for _, p := range sum.prims {
			fmt.Println(protocol.FillCommand(p))
		}
	}
	mats := make([]string, 0, len(sum.byMaterial))
	for m := range sum.byMaterial {
		mats = append(mats, m)
	}
	sort.Strings(mats)
	for _, m := range mats {
		s := sum.byMaterial[m]
		fmt.Printf("%-20s primitives=%d blocks=%d\n", m, s.count, s.volume)
	}
	fmt.Printf("audit: entries=%d matched=%d\n", len(es), len(sum.prims))
}

func decomposeCmd(args []string) {
	fs := flag.NewFlagSet("decompose", flag.ExitOnError)
	configPath := fs.String("config", "", "planner.yaml (optional)")
	aabb := fs.String("aabb", "", "region: x1,y1,z1:x2,y2,z2 (required)")
	material := fs.String("material", "stone", "fill material")
	capFlag := fs.Int("cap", 0, "volume cap per command (default: tuning fill_cap)")
	_ = fs.Parse(args)

	t := tuning.Defaults()
	if strings.TrimSpace(*configPath) != "" {
		var err error
		if t, err = tuning.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "tuning:", err)
			os.Exit(1)
		}
	}
	if *capFlag > 0 {
		t.FillCap = *capFlag
	}
	box, err := parseAABB(*aabb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -aabb:", err)
		os.Exit(2)
	}
	prims, err := decompose(t, box, *material)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decompose:", err)
		os.Exit(1)
	}
	for _, p := range prims {
		fmt.Println(protocol.FillCommand(p))
	}
}

func parseAABB(s string) (geom.Box3D, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return geom.Box3D{}, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return geom.Box3D{}, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return geom.Box3D{}, err
	}
	return geom.NewBox(a[0], a[1], a[2], b[0], b[1], b[2]), nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
