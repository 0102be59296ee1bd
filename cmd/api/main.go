package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"evidora.org/internal/evidence"
	"evidora.org/internal/httpapi"
	"evidora.org/internal/identity"
	"evidora.org/internal/ledger"
	"evidora.org/internal/obs"
	"evidora.org/internal/request"
	"evidora.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("EVIDORA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var (
		sessions identity.SessionStore
		ev       evidence.Service
		reqs     request.Service
		audit    ledger.Ledger
		probe    httpapi.ReadyProbe
		store    *pg.Store
	)
	if dsn := os.Getenv("EVIDORA_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		sessions = store.Sessions()
		ev = store
		reqs = store
		audit = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		mem := ledger.NewInMemory()
		evMem := evidence.NewInMemory(mem)
		sessions = identity.NewMemoryStore()
		ev = evMem
		reqs = request.NewInMemory(evMem, mem)
		audit = mem
	}

	ident := identity.NewService(sessions)

	api := httpapi.New(probe, version, ident, ev, reqs, audit,
		httpapi.WithRateLimit(envInt("EVIDORA_RATE_BURST", 50), envInt("EVIDORA_RATE_PER_SEC", 25)))

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting evidora-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Fatalf("%s must be a positive integer, got %q", key, raw)
	}
	return v
}
