package catalog_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/planetlabs/gbifprep/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gbifItem(id string) map[string]any {
	return map[string]any{
		"type":         "Feature",
		"stac_version": "1.0.0",
		"id":           id,
		"collection":   "gbif",
		"geometry":     nil,
		"properties": map[string]any{
			"datetime": "2023-04-01T00:00:00Z",
		},
		"links": []any{
			map[string]any{"rel": "collection", "href": "https://example.com/collections/gbif"},
		},
		"assets": map[string]any{
			"data": map[string]any{
				"href":  fmt.Sprintf("abfs://gbif/occurrence/%s/occurrence.parquet", id),
				"type":  "application/x-parquet",
				"roles": []any{"data"},
				"table:storage_options": map[string]any{
					"account_name": "ai4edataeuwest",
				},
			},
		},
	}
}

type searchServer struct {
	server   *httptest.Server
	requests []map[string]any
}

func newSearchServer(t *testing.T, features ...map[string]any) *searchServer {
	s := &searchServer{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		request := map[string]any{}
		require.NoError(t, json.Unmarshal(body, &request))
		s.requests = append(s.requests, request)

		if features == nil {
			features = []map[string]any{}
		}
		w.Header().Set("Content-Type", "application/geo+json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"type":     "FeatureCollection",
			"features": features,
			"links": []any{
				map[string]any{"rel": "next", "href": "https://example.com/search?token=next"},
			},
		}))
	}))
	t.Cleanup(s.server.Close)
	return s
}

func TestLatest(t *testing.T) {
	s := newSearchServer(t, gbifItem("gbif-2023-04-01"), gbifItem("gbif-2023-03-01"))
	client := catalog.NewClient(s.server.URL + "/")

	item, err := client.Latest(context.Background(), "gbif")
	require.NoError(t, err)
	assert.Equal(t, "gbif-2023-04-01", item.Id)

	require.Len(t, s.requests, 1)
	assert.Equal(t, []any{"gbif"}, s.requests[0]["collections"])

	asset, err := item.Asset("data")
	require.NoError(t, err)
	assert.Equal(t, "abfs://gbif/occurrence/gbif-2023-04-01/occurrence.parquet", asset.Href)
	assert.Equal(t, map[string]any{"account_name": "ai4edataeuwest"}, asset.StorageOptions)
}

func TestLatestEmptyCollection(t *testing.T) {
	s := newSearchServer(t)
	client := catalog.NewClient(s.server.URL)

	_, err := client.Latest(context.Background(), "gbif")
	assert.ErrorIs(t, err, catalog.ErrNoItems)
}

func TestSearch(t *testing.T) {
	s := newSearchServer(t, gbifItem("one"), gbifItem("two"))
	client := catalog.NewClient(s.server.URL)

	results, err := client.Search(context.Background(), &catalog.SearchRequest{
		Collections: []string{"gbif"},
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, results.Features, 2)
	assert.Equal(t, "two", results.Features[1].Id)
	require.Len(t, results.Links, 1)
	assert.Equal(t, "next", results.Links[0].Rel)
	assert.Equal(t, float64(10), s.requests[0]["limit"])
}

func TestSearchInvalidItem(t *testing.T) {
	invalid := gbifItem("bad")
	delete(invalid, "id")
	s := newSearchServer(t, invalid)
	client := catalog.NewClient(s.server.URL)

	_, err := client.Latest(context.Background(), "gbif")
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid item")
}

func TestSearchInvalidAsset(t *testing.T) {
	invalid := gbifItem("bad")
	invalid["assets"] = map[string]any{"data": map[string]any{"type": "application/x-parquet"}}
	s := newSearchServer(t, invalid)
	client := catalog.NewClient(s.server.URL)

	_, err := client.Latest(context.Background(), "gbif")
	assert.ErrorContains(t, err, "assets/data is invalid")
}

func TestSearchErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try again later"))
	}))
	defer server.Close()

	client := catalog.NewClient(server.URL)
	_, err := client.Latest(context.Background(), "gbif")
	assert.ErrorContains(t, err, "unexpected response")
	assert.ErrorContains(t, err, "503 try again later")
}

func TestItemMissingAsset(t *testing.T) {
	s := newSearchServer(t, gbifItem("one"))
	client := catalog.NewClient(s.server.URL)

	item, err := client.Latest(context.Background(), "gbif")
	require.NoError(t, err)

	_, err = item.Asset("thumbnail")
	assert.ErrorIs(t, err, catalog.ErrMissingAsset)
}
