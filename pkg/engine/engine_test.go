package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/table-engine/internal/config"
	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/pdf"
)

const envelopePage = `| Assembly | Zone 4 | Zone 5 | Zone 6 | Zone 7A | Zone 7B | Zone 8 |
|---|---|---|---|---|---|---|
| Walls | 0.315 | 0.278 | 0.247 | 0.210 | 0.210 | 0.183 |
| Roofs | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 | 0.142 |
| Floors | 0.227 | 0.183 | 0.183 | 0.162 | 0.162 | 0.142 |
`

const envelopeResponse = `{"vintage": "2020", "table_kind": "3.2.2.2", "rows": [
  {"assembly_type": "Walls", "zone_4_max_u": 0.315, "zone_5_max_u": 0.278, "zone_6_max_u": 0.247, "zone_7a_max_u": 0.210, "zone_7b_max_u": 0.210, "zone_8_max_u": 0.183},
  {"assembly_type": "Roofs", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142},
  {"assembly_type": "Floors", "zone_4_max_u": 0.227, "zone_5_max_u": 0.183, "zone_6_max_u": 0.183, "zone_7a_max_u": 0.162, "zone_7b_max_u": 0.162, "zone_8_max_u": 0.142}
]}`

// fakeModelServer emulates the generate endpoint with a canned completion.
func fakeModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"response": envelopeResponse,
				"done":     true,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(endpoint string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Model.Endpoint = endpoint
	cfg.Storage.SQLite.Path = ":memory:"
	cfg.Observability.LogLevel = "error"
	return cfg
}

func TestClient_ExtractFrom_EndToEnd(t *testing.T) {
	srv := fakeModelServer(t)
	client, err := New(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	src := &pdf.MemorySource{Pages: []string{
		"Table of contents, no tables.",
		envelopePage,
	}}

	results, summary, err := client.ExtractFrom(context.Background(), src, "necb-2020.pdf", "2020",
		[]TableRequest{
			{TableID: "Table 3.2.2.2", Page: 2},
			{TableID: "3.2.2.2", Page: 1},
		})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, domain.StatusSuccess, results[0].Status)
	require.NotNil(t, results[0].Record)
	assert.Len(t, results[0].Record.Rows, 3)

	assert.Equal(t, domain.StatusHardFailure, results[1].Status)
	assert.Equal(t, domain.FailureExtractionEmpty, results[1].FailureKind)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failures, 1)

	stored, err := client.Results(context.Background(), "necb-2020.pdf")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestClient_ExtractFrom_RejectsUnknownVintage(t *testing.T) {
	srv := fakeModelServer(t)
	client, err := New(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	src := &pdf.MemorySource{Pages: []string{envelopePage}}
	_, _, err = client.ExtractFrom(context.Background(), src, "doc.pdf", "1985",
		[]TableRequest{{TableID: "3.2.2.2", Page: 1}})
	assert.Error(t, err)
}

func TestNew_UnreachableModelEndpointFails(t *testing.T) {
	_, err := New(context.Background(), testConfig("http://127.0.0.1:1"))
	assert.Error(t, err)
}

func TestClient_TableIDs(t *testing.T) {
	srv := fakeModelServer(t)
	client, err := New(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	assert.Contains(t, client.TableIDs(), "3.2.2.2")
	assert.Contains(t, client.TableIDs(), "8.4.4.8.B")
}
