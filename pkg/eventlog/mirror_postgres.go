package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMirror is a write-behind durability layer for an EventStore
// (spec.md §1's "durable storage semantics beyond what §6 mandates" is a
// Non-goal for the *canonical* store, but nothing prevents an optional
// crash-recovery mirror — see SPEC_FULL.md §3.1). The in-memory store
// remains authoritative at runtime; the mirror only affects what a fresh
// process rehydrates at startup.
type PostgresMirror struct {
	pool *pgxpool.Pool
	log  *log.Logger
}

// NewPostgresMirror pings pool and ensures the mirror table exists.
func NewPostgresMirror(ctx context.Context, pool *pgxpool.Pool, logger *log.Logger) (*PostgresMirror, error) {
	if logger == nil {
		logger = log.Default()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, &ResourceError{
			EventStoreError: EventStoreError{Op: "NewPostgresMirror", Err: fmt.Errorf("unable to connect to database: %w", err)},
			Resource:        "database",
		}
	}

	m := &PostgresMirror{pool: pool, log: logger}
	if err := m.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PostgresMirror) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS event_log_mirror (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	aggregate_id  TEXT NOT NULL,
	payload       JSONB NOT NULL,
	event_ts      BIGINT NOT NULL,
	version       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS event_log_mirror_agg_idx ON event_log_mirror (aggregate_id, version);
`
	if _, err := m.pool.Exec(ctx, ddl); err != nil {
		return &ResourceError{
			EventStoreError: EventStoreError{Op: "ensureSchema", Err: err},
			Resource:        "database",
		}
	}
	return nil
}

// Write persists event to the mirror table. Failures are the caller's to
// log; Write itself never panics.
func (m *PostgresMirror) Write(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return &EventStoreError{Op: "PostgresMirror.Write", Err: fmt.Errorf("marshal payload: %w", err)}
	}

	_, err = m.pool.Exec(ctx,
		`INSERT INTO event_log_mirror (id, kind, aggregate_id, payload, event_ts, version)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Kind, event.AggregateID, payload, event.Timestamp, event.Version,
	)
	if err != nil {
		return &ResourceError{
			EventStoreError: EventStoreError{Op: "PostgresMirror.Write", Err: err},
			Resource:        "database",
		}
	}
	return nil
}

// LoadAll reads every mirrored event ordered by (event_ts, version), the
// same ordering as EventStore.AllEvents, for use when rehydrating a fresh
// in-memory store at process start.
func (m *PostgresMirror) LoadAll(ctx context.Context) ([]Event, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT id, kind, aggregate_id, payload, event_ts, version
		 FROM event_log_mirror ORDER BY event_ts ASC, version ASC`,
	)
	if err != nil {
		return nil, &ResourceError{
			EventStoreError: EventStoreError{Op: "PostgresMirror.LoadAll", Err: err},
			Resource:        "database",
		}
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.AggregateID, &payload, &e.Timestamp, &e.Version); err != nil {
			return nil, &ResourceError{
				EventStoreError: EventStoreError{Op: "PostgresMirror.LoadAll", Err: err},
				Resource:        "database",
			}
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, &EventStoreError{Op: "PostgresMirror.LoadAll", Err: fmt.Errorf("unmarshal payload for %s: %w", e.ID, err)}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &ResourceError{
			EventStoreError: EventStoreError{Op: "PostgresMirror.LoadAll", Err: err},
			Resource:        "database",
		}
	}
	return events, nil
}

// Close releases the underlying connection pool.
func (m *PostgresMirror) Close() {
	m.pool.Close()
}

// mirroredEventStore decorates an EventStore, writing every successfully
// appended event to a PostgresMirror in the background. A mirror-write
// failure is logged and never fails the caller's Append (spec §7: broadcast
// and mirror failures are observability concerns, not correctness ones).
type mirroredEventStore struct {
	EventStore
	mirror *PostgresMirror
	log    *log.Logger
}

// WithPostgresMirror wraps store so that every appended event is mirrored to
// Postgres asynchronously.
func WithPostgresMirror(store EventStore, mirror *PostgresMirror, logger *log.Logger) EventStore {
	if logger == nil {
		logger = log.Default()
	}
	return &mirroredEventStore{EventStore: store, mirror: mirror, log: logger}
}

func (s *mirroredEventStore) Append(event Event) error {
	if err := s.EventStore.Append(event); err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mirror.Write(ctx, event); err != nil {
			s.log.Printf("postgres mirror: failed to write event %s: %v", event.ID, err)
		}
	}()

	return nil
}
