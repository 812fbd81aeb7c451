package forecast

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/internal/model"
)

func newConnector(t *testing.T, baseURL string) *Connector {
	t.Helper()

	conf := config.New()
	conf.Set("Forecast.baseURL", baseURL)

	conn := model.Connection{
		Provider:   model.Forecast,
		Credential: model.Credential{APIKey: "secret"},
	}
	return New(conn, conf, logger.NOP, stats.NOP)
}

func TestFetch(t *testing.T) {
	var (
		mu      sync.Mutex
		apiKeys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		apiKeys = append(apiKeys, r.Header.Get("X-FORECAST-API-KEY"))
		mu.Unlock()

		switch r.URL.Path {
		case "/v1/non_project_time":
			fmt.Fprint(w, `[{"id":7,"name":"Vacation"},{"id":9,"name":"Sick leave"}]`)
		case "/v4/time_registrations/date_after/19900101":
			fmt.Fprint(w, `[
				{"id":1,"non_project_time":7},
				{"id":2,"non_project_time":null},
				{"id":3,"non_project_time":8}
			]`)
		case "/v1/projects":
			switch r.URL.Query().Get("pageNumber") {
			case "":
				fmt.Fprint(w, `{"totalObjectCount":5,"pageSize":2,"pageContents":[]}`)
			case "1":
				fmt.Fprint(w, `{"totalObjectCount":5,"pageSize":2,"pageContents":[{"id":"p1"},{"id":"p2"}]}`)
			case "2":
				fmt.Fprint(w, `{"totalObjectCount":5,"pageSize":2,"pageContents":[{"id":"p3"},{"id":"p4"}]}`)
			case "3":
				fmt.Fprint(w, `{"totalObjectCount":5,"pageSize":2,"pageContents":[{"id":"p5"}]}`)
			default:
				http.Error(w, "unexpected page", http.StatusBadRequest)
			}
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	var progress []float64
	onProgress := func(percent float64) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, percent)
	}

	c := newConnector(t, srv.URL)
	batches, err := c.Fetch(context.Background(), onProgress)
	require.NoError(t, err)
	require.Len(t, batches, len(endpoints))

	byTable := map[string][]model.Record{}
	for i, batch := range batches {
		require.Equal(t, endpoints[i].Name, batch.TableName)
		byTable[batch.TableName] = batch.Records
	}

	// paginated endpoints flatten in page order
	projectIDs := make([]string, 0, 5)
	for _, record := range byTable["projects"] {
		projectIDs = append(projectIDs, record["id"].(string))
	}
	require.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, projectIDs)

	// only registrations referencing a known non-project category get flagged
	registrations := byTable["time_registrations"]
	require.Len(t, registrations, 3)
	require.Equal(t, true, registrations[0]["is_non_project_time"])
	require.Equal(t, false, registrations[1]["is_non_project_time"])
	require.Equal(t, false, registrations[2]["is_non_project_time"])

	mu.Lock()
	defer mu.Unlock()
	for _, key := range apiKeys {
		require.Equal(t, "secret", key)
	}
	require.NotEmpty(t, progress)
	var maxReported float64
	for _, p := range progress {
		maxReported = max(maxReported, p)
	}
	require.InDelta(t, 95.0, maxReported, 0.01)
}

func TestFetchInvalidCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newConnector(t, srv.URL)
	_, err := c.Fetch(context.Background(), nil)
	require.ErrorIs(t, err, model.ErrInvalidCredential)
}

func TestEndpointURL(t *testing.T) {
	c := newConnector(t, "https://api.example.com/api")

	endpoint := model.Endpoint{Path: "/projects", APIVersion: "v1", Name: "projects"}
	require.Equal(t, "https://api.example.com/api/v1/projects", c.endpointURL(endpoint, 0))
	require.Equal(t, "https://api.example.com/api/v1/projects?pageNumber=2", c.endpointURL(endpoint, 2))
}
