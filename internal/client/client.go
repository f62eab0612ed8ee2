// Package client implements the client facade (spec §4.8): a local mirror
// of one store's event log and projection, with a submit path that applies
// directly to the mirror and a sync path that pulls the authoritative
// sequence from the server and rebuilds.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go-eventbook/internal/notebook"
	"go-eventbook/pkg/eventlog"
)

// Client mirrors one store locally. It is not safe for concurrent use by
// multiple goroutines without external synchronization, matching its single
// purpose as a per-session local cache.
type Client struct {
	baseURL string
	storeID string
	http    *http.Client

	store eventlog.EventStore
	proj  *notebook.ProjectionManager
}

// New returns a Client mirroring storeID at the server reachable via
// baseURL (e.g. "http://localhost:3000"). httpClient may be nil, in which
// case a client with a 10-second timeout is used.
func New(baseURL, storeID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		storeID: storeID,
		http:    httpClient,
		store:   eventlog.NewInMemoryEventStore(),
		proj:    notebook.NewProjectionManager(),
	}
}

// SubmitEvent applies a new event to the local mirror exactly as the server
// would: it computes the next version for storeID, builds the event, and
// folds it into both the local log and the local projection. Per spec §4.8,
// v1 does not upload this submission to the server — pushing local events
// upstream is an open non-goal.
func (c *Client) SubmitEvent(kind string, payload eventlog.Payload) (eventlog.Event, error) {
	version := c.store.LatestVersion(c.storeID) + 1
	event, err := eventlog.NewBuilder().
		Kind(kind).
		AggregateID(c.storeID).
		WithPayload(payload).
		Build(version)
	if err != nil {
		return eventlog.Event{}, err
	}

	if err := c.store.Append(event); err != nil {
		return eventlog.Event{}, err
	}
	if err := c.proj.ApplyNew([]eventlog.Event{event}); err != nil {
		return eventlog.Event{}, err
	}
	return event, nil
}

// Sync fetches every event for storeID from the server and rebuilds the
// local store and projection from that authoritative sequence, discarding
// whatever local-only submissions existed (spec §4.8: sync is a full
// pull-rebuild, not a merge — see SPEC_FULL.md §3.5).
func (c *Client) Sync(ctx context.Context) error {
	events, err := c.fetchAllEvents(ctx)
	if err != nil {
		return err
	}

	store := eventlog.NewInMemoryEventStore()
	for _, e := range events {
		if err := store.Append(e); err != nil {
			return fmt.Errorf("sync: replaying server events into local store: %w", err)
		}
	}

	if err := c.proj.RebuildFrom(events); err != nil {
		return fmt.Errorf("sync: rebuilding local projection: %w", err)
	}

	c.store = store
	return nil
}

type listEventsResponse struct {
	Events     []eventlog.Event `json:"events"`
	TotalCount int              `json:"total_count"`
	StoreID    string           `json:"store_id"`
}

func (c *Client) fetchAllEvents(ctx context.Context) ([]eventlog.Event, error) {
	url := fmt.Sprintf("%s/stores/%s/events", c.baseURL, c.storeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync: fetching events for store %s: %w", c.storeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync: server returned status %d for store %s", resp.StatusCode, c.storeID)
	}

	var body listEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("sync: decoding response for store %s: %w", c.storeID, err)
	}
	return body.Events, nil
}

// State returns a snapshot of the local projection.
func (c *Client) State() notebook.State {
	return c.proj.State()
}

// Events returns every event currently in the local mirror, ordered as the
// local store orders them.
func (c *Client) Events() []eventlog.Event {
	return c.store.EventsFor(c.storeID)
}
