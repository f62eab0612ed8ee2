package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-eventbook/pkg/eventlog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := NewServer(nil, nil, nil)
	return httptest.NewServer(s.Router())
}

func submit(t *testing.T, baseURL, storeID, eventType string, payload map[string]any) submitResponse {
	t.Helper()
	body, err := json.Marshal(submitRequest{EventType: eventType, Payload: payload})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/stores/"+storeID+"/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "healthy", out.Status)
}

func TestSubmitAssignsSequentialVersions(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	r1 := submit(t, srv.URL, "d", "DocumentCreated", map[string]any{"title": "T"})
	assert.Equal(t, int64(1), r1.Version)

	r2 := submit(t, srv.URL, "d", "DocumentTitleUpdated", map[string]any{"title": "T2"})
	assert.Equal(t, int64(2), r2.Version)
	assert.NotEqual(t, r1.EventID, r2.EventID)
}

func TestListEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	submit(t, srv.URL, "d", "DocumentCreated", map[string]any{"title": "T"})
	submit(t, srv.URL, "d", "DocumentTitleUpdated", map[string]any{"title": "T2"})
	submit(t, srv.URL, "d", "DocumentTitleUpdated", map[string]any{"title": "T3"})

	resp, err := http.Get(srv.URL + "/stores/d/events?limit=1&offset=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out listResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 3, out.TotalCount)
	require.Len(t, out.Events, 1)
	assert.Equal(t, int64(2), out.Events[0].Version)
}

func TestStoreInfo(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	submit(t, srv.URL, "d", "DocumentCreated", map[string]any{"title": "T"})

	resp, err := http.Get(srv.URL + "/stores/d")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out storeInfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "d", out.StoreID)
	assert.Equal(t, 1, out.EventCount)
	assert.Equal(t, int64(1), out.LatestVersion)
}

func TestListStores(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	submit(t, srv.URL, "d1", "DocumentCreated", nil)
	submit(t, srv.URL, "d2", "DocumentCreated", nil)

	resp, err := http.Get(srv.URL + "/stores")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out storesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.ElementsMatch(t, []string{"d1", "d2"}, out.StoreIDs)
}

func TestSubmitRejectsEmptyEventType(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, err := json.Marshal(submitRequest{EventType: "  ", Payload: nil})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/stores/d/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "VALIDATION_ERROR", out.Code)
}

// TestSubmitSerializesConcurrentWriters exercises the single-writer critical
// section of spec §5: concurrent submits to the same store must still be
// assigned strictly increasing, gap-free versions.
func TestSubmitSerializesConcurrentWriters(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	const n = 10
	versions := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			r := submit(t, srv.URL, "concurrent", "CellSourceUpdated", map[string]any{"cell_id": "c"})
			versions <- r.Version
		}()
	}

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		v := <-versions
		require.False(t, seen[v], "version %d assigned more than once", v)
		seen[v] = true
	}
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v], "version %d was never assigned", v)
	}
}

// TestPreloadRehydratesStoreAndProjection exercises Registry.Preload, the
// path a Postgres-mirror-backed process uses at startup to replay mirrored
// rows back into a fresh in-memory log and rebuild its projection.
func TestPreloadRehydratesStoreAndProjection(t *testing.T) {
	registry := NewRegistry(nil)

	e1, err := eventlog.NewBuilder().Kind("DocumentCreated").AggregateID("d").
		WithPayload(eventlog.Payload{"title": "Recovered"}).Build(1)
	require.NoError(t, err)
	e2, err := eventlog.NewBuilder().Kind("DocumentTitleUpdated").AggregateID("d").
		WithPayload(eventlog.Payload{"title": "Recovered Twice"}).Build(2)
	require.NoError(t, err)

	require.NoError(t, registry.Preload("d", []eventlog.Event{e1, e2}))

	st, ok := registry.get("d")
	require.True(t, ok)
	assert.Equal(t, int64(2), st.log.LatestVersion("d"))
	assert.Equal(t, "Recovered Twice", st.proj.State().Documents["d"].Title)

	srv := NewServer(registry, nil, nil)
	router := httptest.NewServer(srv.Router())
	defer router.Close()

	resp, err := http.Get(router.URL + "/stores/d")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info storeInfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, 2, info.EventCount)

	// A preloaded store must still accept new writes at the next version.
	r3 := submit(t, router.URL, "d", "DocumentTitleUpdated", map[string]any{"title": "T3"})
	assert.Equal(t, int64(3), r3.Version)
}

// TestWebSocketPingDuringBroadcastDoesNotRace sends a client ping while
// events are being broadcast concurrently: both writes funnel through the
// connection's single writer goroutine (handleWebSocket's select loop), so
// this must complete without the data race gorilla/websocket would otherwise
// hit from two concurrent WriteJSON callers.
func TestWebSocketPingDuringBroadcastDoesNotRace(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stores/race/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "subscribed", ack["type"])

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			submit(t, srv.URL, "race", "CellSourceUpdated", map[string]any{"cell_id": "c"})
		}
	}()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))

	sawPong := false
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 21; i++ {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame["type"] == "pong" {
			sawPong = true
		}
	}
	<-done
	assert.True(t, sawPong, "expected a pong frame interleaved with broadcast events")
}

// TestWebSocketFanOut covers scenario S6: two subscribers connect, a third
// party submits an event, and both receive an "event" frame whose version
// matches the submit response.
func TestWebSocketFanOut(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stores/x/ws"

	conn1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn1.Close()
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn2.Close()

	// Drain each connection's "subscribed" ack first.
	for _, c := range []*websocket.Conn{conn1, conn2} {
		var frame map[string]any
		require.NoError(t, c.ReadJSON(&frame))
		require.Equal(t, "subscribed", frame["type"])
	}

	resp := submit(t, srv.URL, "x", "DocumentCreated", map[string]any{"title": "T"})

	for _, c := range []*websocket.Conn{conn1, conn2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame map[string]any
		require.NoError(t, c.ReadJSON(&frame))
		require.Equal(t, "event", frame["type"])
		event := frame["event"].(map[string]any)
		assert.Equal(t, float64(resp.Version), event["version"])
	}
}
