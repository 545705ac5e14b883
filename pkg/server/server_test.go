package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skulddb/pkg/config"
	"github.com/orneryd/skulddb/pkg/skulddb"
)

var base = time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.LoadFromEnv()
	cfg.Database.InMemory = true
	cfg.Graph.EvictionEnabled = false

	db, err := skulddb.Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, cfg.Server, zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func entityBody(id, kind string, ts time.Time) map[string]any {
	return map[string]any{
		"id":         id,
		"kind":       kind,
		"timestamp":  ts.Format(time.RFC3339),
		"confidence": 0.9,
		"source":     "test",
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestEntity(t *testing.T) {
	s := newTestServer(t)

	t.Run("accepts a valid entity", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("news-1", "news_event", base))
		require.Equal(t, http.StatusCreated, w.Code)

		var resp AcceptedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "news-1", resp.ID)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("news-1", "news_event", base))
		require.Equal(t, http.StatusConflict, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "duplicate_id", resp.Error)
	})

	t.Run("unknown kind is invalid data", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("x-1", "weather_event", base))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing fields fail binding", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/entities", map[string]any{"id": "x-2"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestIngestRelation(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("news-1", "news_event", base)).Code)
	require.Equal(t, http.StatusCreated,
		doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("price-1", "price_movement", base.Add(5*time.Minute))).Code)

	relation := func(id, target string) map[string]any {
		return map[string]any{
			"id":            id,
			"source_entity": "news-1",
			"target_entity": target,
			"kind":          "causes",
			"start_time":    base.Format(time.RFC3339),
			"strength":      0.8,
			"confidence":    0.9,
			"causal_lag":    "5m",
		}
	}

	t.Run("accepts a valid relation", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/relations", relation("rel-1", "price-1"))
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("missing endpoint is unprocessable", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/relations", relation("rel-2", "ghost"))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "unknown_entity", resp.Error)
	})
}

func TestGetEntity(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("news-1", "news_event", base)).Code)

	t.Run("found", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/v1/entities/news-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/v1/entities/ghost", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListEntities(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("news-1", "news_event", base)).Code)
	require.Equal(t, http.StatusCreated,
		doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("price-1", "price_movement", base.Add(5*time.Minute))).Code)

	w := doJSON(t, s, http.MethodGet, "/api/v1/entities", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	// Ascending by timestamp.
	assert.Equal(t, "news-1", listed[0]["id"])
	assert.Equal(t, "price-1", listed[1]["id"])
}

func TestKinds(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/v1/kinds", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var kinds struct {
		EntityKinds   []string `json:"entity_kinds"`
		RelationKinds []string `json:"relation_kinds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &kinds))
	assert.Contains(t, kinds.EntityKinds, "news_event")
	assert.Contains(t, kinds.RelationKinds, "causes")
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		doJSON(t, s, http.MethodPost, "/api/v1/entities", entityBody("news-1", "news_event", base)).Code)

	w := doJSON(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats skulddb.GraphStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.EntityCount)
}

func TestAnalyticsRoutes(t *testing.T) {
	s := newTestServer(t)

	t.Run("malformed window rejected", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/analytics/discover?window=soon", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non positive window rejected", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/analytics/discover?window=0s", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_window", resp.Error)
	})

	t.Run("pattern run publishes the current set", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/analytics/patterns", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, s, http.MethodGet, "/api/v1/patterns", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("chain rebuild on an empty graph is empty", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/analytics/chains", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, s, http.MethodPost, "/api/v1/analytics/chains?max_length=zero", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("predictions honor the horizon parameter", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/analytics/predictions?horizon=30m", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "skulddb_graph_entities")
}
