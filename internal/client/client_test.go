package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-eventbook/internal/client"
	"go-eventbook/internal/httpapi"
	"go-eventbook/pkg/eventlog"
)

type submitResult struct {
	EventID string `json:"event_id"`
	Version int64  `json:"version"`
}

func httptestPost(t *testing.T, baseURL, storeID, eventType string, payload map[string]any) submitResult {
	t.Helper()
	body, err := json.Marshal(map[string]any{"event_type": eventType, "payload": payload})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/stores/"+storeID+"/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out submitResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitEventAppliesLocally(t *testing.T) {
	c := client.New("http://unused", "d", nil)

	_, err := c.SubmitEvent("DocumentCreated", eventlog.Payload{"title": "Local"})
	require.NoError(t, err)

	state := c.State()
	assert.Equal(t, "Local", state.Documents["d"].Title)
	assert.Len(t, c.Events(), 1)
}

func TestSyncPullsAndRebuildsFromServer(t *testing.T) {
	srv := httpapi.NewServer(nil, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	seed := httptestPost(t, ts.URL, "d", "DocumentCreated", map[string]any{"title": "Remote"})
	require.Equal(t, int64(1), seed.Version)
	httptestPost(t, ts.URL, "d", "CellCreated", map[string]any{
		"cell_id": "c1", "cell_type": "code", "source": "1+1", "fractional_index": "a0",
	})

	c := client.New(ts.URL, "d", nil)
	require.NoError(t, c.Sync(context.Background()))

	state := c.State()
	assert.Equal(t, "Remote", state.Documents["d"].Title)
	assert.Equal(t, "1+1", state.Cells["c1"].Source)
	assert.Len(t, c.Events(), 2)
}

func TestSyncIsFullRebuildNotMerge(t *testing.T) {
	srv := httpapi.NewServer(nil, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	httptestPost(t, ts.URL, "d", "DocumentCreated", map[string]any{"title": "Remote"})

	c := client.New(ts.URL, "d", nil)
	_, err := c.SubmitEvent("DocumentCreated", eventlog.Payload{"title": "LocalOnly"})
	require.NoError(t, err)
	assert.Equal(t, "LocalOnly", c.State().Documents["d"].Title)

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, "Remote", c.State().Documents["d"].Title, "sync must discard local-only state, not merge it")
}
