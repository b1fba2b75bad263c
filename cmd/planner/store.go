package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"villagecraft.ai/internal/persistence/indexdb"
	"villagecraft.ai/internal/persistence/r2s3"
	"villagecraft.ai/internal/persistence/snapshot"
	"villagecraft.ai/internal/plan/registry"
)

func openStore(kind, dataDir string, backup *r2s3.Backup) (registry.Store, func(), error) {
	switch kind {
	case "snapshot", "":
		s := snapshot.NewStore(filepath.Join(dataDir, "registry.snap.zst"))
		s.OnSave = backup.Snapshot
		return s, func() {}, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "registry.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return idx, func() { _ = idx.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want snapshot|sqlite)", kind)
	}
}

// buildBackupRuntime returns nil (a no-op backup) unless VC_R2_BACKUP is set.
func buildBackupRuntime(logger *log.Logger) (*r2s3.Backup, error) {
	if !envBool("VC_R2_BACKUP", false) {
		return nil, nil
	}
	cfg := r2s3.Config{
		Endpoint:        os.Getenv("VC_R2_ENDPOINT"),
		Bucket:          os.Getenv("VC_R2_BUCKET"),
		Region:          os.Getenv("VC_R2_REGION"),
		AccessKeyID:     os.Getenv("VC_R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("VC_R2_SECRET_ACCESS_KEY"),
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("VC_R2_BACKUP=true: %w", err)
	}
	prefix := strings.TrimSpace(os.Getenv("VC_R2_PREFIX"))
	return r2s3.NewBackup(client, prefix, envInt("VC_R2_QUEUE", 64), logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
