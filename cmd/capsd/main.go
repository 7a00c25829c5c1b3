package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"capdist.org/internal/caps"
	"capdist.org/internal/captypes"
	"capdist.org/internal/httpapi"
	"capdist.org/internal/obs"
	"capdist.org/internal/store/pg"
	"capdist.org/internal/stream"
	"capdist.org/internal/userstore"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CAPDIST_COMMIT"))

	// User resolution: PostgreSQL when a DSN is configured, otherwise the
	// in-process store.
	var (
		users   caps.UserResolver
		pgStore *pg.Store
	)
	if dsn := os.Getenv("CAPDIST_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		users = pgStore
	} else {
		users = userstore.NewMemory()
	}

	events := stream.New()

	types := captypes.NewRegistry()
	types.OnEvent = func(kind captypes.EventKind, t *captypes.Type) {
		events.Publish(stream.Event{
			Kind:         string(kind),
			ResourceType: t.Name,
			Timestamp:    time.Now().UTC(),
		})
	}

	engine, err := caps.NewEngine(caps.Config{
		Users: users,
		Types: caps.TypesFrom(types),
		OnEvent: func(ev caps.Event) {
			events.Publish(stream.Event{
				Kind:      ev.Kind,
				PolicyID:  ev.PolicyID,
				Priority:  ev.Priority,
				Timestamp: time.Now().UTC(),
			})
		},
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(probe, version, engine, types, events)

	addr := os.Getenv("CAPDIST_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting capdist-api %s on %s", version, srv.Addr)
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
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
