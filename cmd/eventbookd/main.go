// Command eventbookd runs the notebook event-log server: HTTP submit/list
// endpoints, a WebSocket push channel, and an optional Postgres-backed
// write-behind mirror for crash recovery.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"go-eventbook/internal/broadcaster"
	"go-eventbook/internal/httpapi"
	"go-eventbook/pkg/eventlog"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	seedPath := flag.String("seed", "", "path to a YAML notebook seed file, loaded once at startup")
	flag.Parse()

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	dsn := os.Getenv("EVENTBOOK_PG_DSN")

	ctx := context.Background()

	newLog, mirror, closeMirror := eventStoreFactory(ctx, dsn)
	if closeMirror != nil {
		defer closeMirror()
	}

	registry := httpapi.NewRegistry(newLog)

	if mirror != nil {
		if err := rehydrate(ctx, registry, mirror); err != nil {
			log.Fatalf("eventbookd: failed to rehydrate from postgres mirror: %v", err)
		}
	}

	server := httpapi.NewServer(registry, broadcaster.NewManager(), log.Default())

	if *seedPath != "" {
		if err := loadSeed(server, *seedPath); err != nil {
			log.Fatalf("eventbookd: failed to load seed %s: %v", *seedPath, err)
		}
		log.Printf("eventbookd: seeded notebook from %s", *seedPath)
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("eventbookd: listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("eventbookd: server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("eventbookd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("eventbookd: graceful shutdown failed: %v", err)
	}
}

// eventStoreFactory returns the constructor each lazily-created store should
// use, the mirror those stores write through (nil if dsn is empty), and a
// cleanup func for any shared resource it captures (the Postgres pool).
// When dsn is empty the server runs purely in-memory, matching spec §6's
// default.
func eventStoreFactory(ctx context.Context, dsn string) (func() eventlog.EventStore, *eventlog.PostgresMirror, func()) {
	if dsn == "" {
		return func() eventlog.EventStore { return eventlog.NewInMemoryEventStore() }, nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("eventbookd: failed to connect to %s: %v", dsn, err)
	}

	mirror, err := eventlog.NewPostgresMirror(ctx, pool, log.Default())
	if err != nil {
		log.Fatalf("eventbookd: failed to initialize postgres mirror: %v", err)
	}

	newLog := func() eventlog.EventStore {
		return eventlog.WithPostgresMirror(eventlog.NewInMemoryEventStore(), mirror, log.Default())
	}
	return newLog, mirror, func() { mirror.Close() }
}

// rehydrate reads every row mirror has ever persisted and replays it into
// registry, grouped by aggregate, so a restarted process recovers the
// notebooks it held before crashing (SPEC_FULL.md §3.1). It must run before
// the HTTP server starts accepting traffic.
func rehydrate(ctx context.Context, registry *httpapi.Registry, mirror *eventlog.PostgresMirror) error {
	events, err := mirror.LoadAll(ctx)
	if err != nil {
		return err
	}

	byAggregate := make(map[string][]eventlog.Event)
	var order []string
	for _, e := range events {
		if _, seen := byAggregate[e.AggregateID]; !seen {
			order = append(order, e.AggregateID)
		}
		byAggregate[e.AggregateID] = append(byAggregate[e.AggregateID], e)
	}

	for _, aggregateID := range order {
		if err := registry.Preload(aggregateID, byAggregate[aggregateID]); err != nil {
			return err
		}
	}

	log.Printf("eventbookd: rehydrated %d store(s), %d event(s), from postgres mirror", len(order), len(events))
	return nil
}

// seedFile is the YAML shape accepted by -seed: a flat list of events to
// submit, in order, against the stores they name.
type seedFile struct {
	Events []seedEvent `yaml:"events"`
}

type seedEvent struct {
	StoreID   string                 `yaml:"store_id"`
	EventType string                 `yaml:"event_type"`
	Payload   map[string]interface{} `yaml:"payload"`
}

func loadSeed(server *httpapi.Server, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return err
	}

	for _, e := range sf.Events {
		if _, err := server.Seed(e.StoreID, e.EventType, eventlog.Payload(e.Payload)); err != nil {
			return err
		}
	}
	return nil
}
