package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"go-eventbook/internal/broadcaster"
	"go-eventbook/pkg/eventlog"
)

// logConcurrencyErrors controls whether version conflicts (expected under
// concurrent writers, since only one submission per version can win) are
// logged. Off by default, since they're normal in high-concurrency use;
// set LOG_CONCURRENCY_ERRORS=true to see them.
var logConcurrencyErrors = os.Getenv("LOG_CONCURRENCY_ERRORS") == "true"

// Server wires the store registry, the push broadcaster, and the WebSocket
// upgrader into a routable http.Handler.
type Server struct {
	registry    *Registry
	broadcaster *broadcaster.Manager
	upgrader    websocket.Upgrader
	logger      *log.Logger
}

// NewServer returns a Server backed by registry and broadcaster. Either may
// be nil, in which case fresh defaults are constructed.
func NewServer(registry *Registry, bcast *broadcaster.Manager, logger *log.Logger) *Server {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	if bcast == nil {
		bcast = broadcaster.NewManager()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		registry:    registry,
		broadcaster: bcast,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the mux.Router exposing every route in spec §4.6.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stores", s.handleListStores).Methods(http.MethodGet)
	r.HandleFunc("/stores/{id}/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/stores/{id}/events", s.handleSubmitEvent).Methods(http.MethodPost)
	r.HandleFunc("/stores/{id}/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/stores/{id}", s.handleStoreInfo).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now().Unix()})
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, storesResponse{StoreIDs: s.registry.ids()})
}

// handleSubmitEvent implements POST /stores/{id}/events: the critical
// section that assigns a version, appends, projects, and broadcasts, all
// under the store's single writer lock (spec §4.6, §5).
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["id"]

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "VALIDATION_ERROR"})
		return
	}

	event, err := s.submit(storeID, req.EventType, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{EventID: event.ID, Version: event.Version})
}

// submit runs the single-writer critical section of spec §4.6: read latest
// version, build, append, project, broadcast. It backs both the HTTP submit
// handler and Seed, so a process-startup seed load and a live HTTP submit
// go through identical logic.
func (s *Server) submit(storeID, eventType string, payload eventlog.Payload) (eventlog.Event, error) {
	st := s.registry.getOrCreate(storeID)

	st.mu.Lock()
	defer st.mu.Unlock()

	version := st.log.LatestVersion(storeID) + 1
	event, err := eventlog.NewBuilder().
		Kind(eventType).
		AggregateID(storeID).
		WithPayload(payload).
		Build(version)
	if err != nil {
		return eventlog.Event{}, err
	}

	if err := st.log.Append(event); err != nil {
		var concurrencyErr *eventlog.ConcurrencyError
		if logConcurrencyErrors && errors.As(err, &concurrencyErr) {
			s.logger.Printf("httpapi: concurrency condition failed (expected) for store %s: %v", storeID, err)
		}
		return eventlog.Event{}, err
	}

	if err := st.proj.ApplyNew([]eventlog.Event{event}); err != nil {
		s.logger.Printf("httpapi: materialization failed for store %s: %v", storeID, err)
		// The log is authoritative; a stalled projection is recomputable via
		// rebuild, so the append still stands (spec §7).
	}

	s.broadcaster.Broadcast(storeID, broadcaster.EventMessage(storeID, event))
	return event, nil
}

// Seed submits kind/payload to storeID through the same path a live HTTP
// request would use. Intended for loading a fixed notebook at process
// startup (SPEC_FULL.md §3.6).
func (s *Server) Seed(storeID, kind string, payload eventlog.Payload) (eventlog.Event, error) {
	return s.submit(storeID, kind, payload)
}

// handleListEvents implements GET /stores/{id}/events with limit, offset,
// and since_timestamp filtering (spec §4.6).
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["id"]
	st, ok := s.registry.get(storeID)
	if !ok {
		writeJSON(w, http.StatusOK, listResponse{Events: []eventlog.Event{}, TotalCount: 0, StoreID: storeID})
		return
	}

	events := st.log.EventsFor(storeID)

	if sinceStr := r.URL.Query().Get("since_timestamp"); sinceStr != "" {
		since, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since_timestamp", Code: "VALIDATION_ERROR"})
			return
		}
		filtered := events[:0:0]
		for _, e := range events {
			if e.Timestamp >= since {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	total := len(events)

	offset := 0
	if offStr := r.URL.Query().Get("offset"); offStr != "" {
		parsed, err := strconv.Atoi(offStr)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offset", Code: "VALIDATION_ERROR"})
			return
		}
		offset = parsed
	}
	if offset > len(events) {
		offset = len(events)
	}
	events = events[offset:]

	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		limit, err := strconv.Atoi(limStr)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit", Code: "VALIDATION_ERROR"})
			return
		}
		if limit < len(events) {
			events = events[:limit]
		}
	}

	writeJSON(w, http.StatusOK, listResponse{Events: events, TotalCount: total, StoreID: storeID})
}

func (s *Server) handleStoreInfo(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["id"]
	st, ok := s.registry.get(storeID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown store", Code: "VALIDATION_ERROR"})
		return
	}

	events := st.log.EventsFor(storeID)
	info := storeInfoResponse{
		StoreID:       storeID,
		EventCount:    len(events),
		LatestVersion: st.log.LatestVersion(storeID),
	}
	if len(events) > 0 {
		first, last := firstLastTimestamp(events)
		info.FirstEventTimestamp = &first
		info.LastEventTimestamp = &last
	}
	writeJSON(w, http.StatusOK, info)
}

func firstLastTimestamp(events []eventlog.Event) (int64, int64) {
	first, last := events[0].Timestamp, events[0].Timestamp
	for _, e := range events {
		if e.Timestamp < first {
			first = e.Timestamp
		}
		if e.Timestamp > last {
			last = e.Timestamp
		}
	}
	return first, last
}

// handleWebSocket implements GET /stores/{id}/ws: a connection is
// pre-subscribed to the URL's store id (spec §4.7).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("httpapi: websocket upgrade failed for store %s: %v", storeID, err)
		return
	}
	defer conn.Close()

	connID := s.newConnectionID()
	outbound := s.broadcaster.Subscribe(storeID, connID)
	defer s.broadcaster.Disconnect(connID)

	// gorilla/websocket allows at most one concurrent writer per connection,
	// so readInbound never calls conn.WriteJSON directly: it enqueues control
	// frames (e.g. pong) on local, and this goroutine is the sole writer.
	local := make(chan broadcaster.Message, 1)
	done := make(chan struct{})
	go s.readInbound(conn, storeID, connID, local, done)

	if err := conn.WriteJSON(wsOutbound(broadcaster.SubscribedMessage(storeID, connID))); err != nil {
		return
	}

	for {
		select {
		case msg, ok := <-outbound:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsOutbound(msg)); err != nil {
				return
			}
		case msg := <-local:
			if err := conn.WriteJSON(wsOutbound(msg)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readInbound drains client->server control frames (subscribe, unsubscribe,
// ping) until the connection closes. A connection is pre-subscribed to its
// URL's store id; an inbound subscribe naming a different store is logged
// and ignored (spec §4.7: multi-store per connection is a v1 non-goal).
// Replies (e.g. pong) are handed to local rather than written directly,
// since the connection's single writer lives in handleWebSocket's loop.
func (s *Server) readInbound(conn *websocket.Conn, storeID, connID string, local chan<- broadcaster.Message, done chan<- struct{}) {
	defer close(done)
	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		switch in.Type {
		case "ping":
			select {
			case local <- broadcaster.Message{Kind: "pong"}:
			default:
			}
		case "subscribe":
			if in.StoreID != "" && in.StoreID != storeID {
				s.logger.Printf("httpapi: connection %s requested subscribe to %s, ignoring (bound to %s)", connID, in.StoreID, storeID)
			}
		case "unsubscribe":
			if in.StoreID == storeID {
				s.broadcaster.Unsubscribe(storeID, connID)
				return
			}
		}
	}
}

func (s *Server) newConnectionID() string {
	return uuid.NewString()
}
