package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.VectorConfig{
		URL:        srv.URL,
		Collection: "archon_vectors",
		Timeout:    2 * time.Second,
	})
}

func TestPointIDIsDeterministic(t *testing.T) {
	a := PointID("demo", "hash-1")
	b := PointID("demo", "hash-1")
	c := PointID("demo", "hash-2")
	d := PointID("other", "hash-1")

	assert.Equal(t, a, b, "same inputs must produce the same id")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	// UUIDv5 shape: version nibble is 5.
	assert.Equal(t, byte('5'), a[14])
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created bool
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			if created {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"result": map[string]any{
						"points_count": 0,
						"config": map[string]any{"params": map[string]any{
							"vectors": map[string]any{"size": 1536},
						}},
					},
				})
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			vectors := body["vectors"].(map[string]any)
			assert.EqualValues(t, 1536, vectors["size"])
			created = true
			_ = json.NewEncoder(w).Encode(map[string]any{"result": true})
		}
	})

	require.NoError(t, client.EnsureCollection(context.Background(), 1536))
	assert.True(t, created)
}

func TestEnsureCollectionRejectsDimensionMismatch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"points_count": 10,
				"config": map[string]any{"params": map[string]any{
					"vectors": map[string]any{"size": 768},
				}},
			},
		})
	})

	err := client.EnsureCollection(context.Background(), 1536)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestUpsertSendsPointsWithWait(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/archon_vectors/points", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))

		var body struct {
			Points []Point `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Points, 1)
		assert.Equal(t, "demo", body.Points[0].Payload.ProjectName)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	})

	err := client.Upsert(context.Background(), []Point{{
		ID:     PointID("demo", "h"),
		Vector: []float32{0.1, 0.2},
		Payload: Payload{
			DocumentID:  "doc-1",
			ProjectName: "demo",
			FilePath:    "a.py",
			ContentHash: "h",
		},
	}})
	require.NoError(t, err)
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected for empty upsert")
	})
	assert.NoError(t, client.Upsert(context.Background(), nil))
}

func TestExists(t *testing.T) {
	id := PointID("demo", "h")
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/archon_vectors/points", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{"id": id, "payload": map[string]any{"project_name": "demo"}}},
		})
	})

	ok, err := client.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAPIErrorSurfacesStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := client.Info(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}
