package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "villagecraft.ai/internal/persistence/log"
	"villagecraft.ai/internal/plan/tuning"
	"villagecraft.ai/internal/transport/ws"
)

// executorCmd runs a recording executor: every accepted FILL lands in the
// audit log instead of a world. Useful for dry runs against the real wire.
func executorCmd(args []string) {
	fs := flag.NewFlagSet("executor", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8080", "http listen address")
	dataDir := fs.String("data", "./data", "runtime data directory")
	configPath := fs.String("config", "", "planner.yaml for fill cap and palette (optional)")
	_ = fs.Parse(args)

	logger := log.New(os.Stdout, "[executor] ", log.LstdFlags|log.Lmicroseconds)

	t := tuning.Defaults()
	if strings.TrimSpace(*configPath) != "" {
		var err error
		if t, err = tuning.Load(*configPath); err != nil {
			logger.Fatalf("tuning: %v", err)
		}
	}

	audit := persistlog.NewAuditChannel(filepath.Join(*dataDir, "executor"), nil)
	defer func() {
		if err := audit.Close(); err != nil {
			logger.Printf("audit close: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/exec", ws.NewServer(audit, t.FillCap, t.Palette, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s fill_cap=%d materials=%d", *addr, t.FillCap, len(t.Palette))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintln(os.Stderr, "listen:", err)
		os.Exit(1)
	}
	if err := audit.Err(); err != nil {
		logger.Printf("audit: %v", err)
	}
}
