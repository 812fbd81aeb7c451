// Package forecast fetches project management data from the Forecast REST
// API. Endpoints answer either a bare record array or a paginated envelope;
// envelope endpoints get their remaining pages fetched concurrently and
// flattened in page order.
package forecast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/logfield"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	apiKeyHeader = "X-FORECAST-API-KEY"

	// fetch progress tops out below 100 so the load or export phase that
	// follows has visible headroom
	fetchProgressCap = 95.0

	nonProjectTimeTable    = "non_project_time"
	timeRegistrationsTable = "time_registrations"
)

// endpoints in fetch order. The non-project time categories come first:
// time registration records derive a flag from their id set.
var endpoints = []model.Endpoint{
	{Path: "/non_project_time", APIVersion: "v1", Name: nonProjectTimeTable},
	{Path: "/projects", APIVersion: "v1", Name: "projects"},
	{Path: "/time_registrations/date_after/19900101", APIVersion: "v4", Name: timeRegistrationsTable},
	{Path: "/persons", APIVersion: "v2", Name: "persons"},
	{Path: "/person_cost_periods", APIVersion: "v1", Name: "person_cost_periods"},
	{Path: "/expense_items", APIVersion: "v1", Name: "expense_items"},
	{Path: "/expense_categories", APIVersion: "v1", Name: "expense_categories"},
	{Path: "/rate_cards", APIVersion: "v1", Name: "rate_cards"},
}

type Connector struct {
	client       *retryablehttp.Client
	baseURL      string
	apiKey       string
	endpoints    []model.Endpoint
	log          logger.Logger
	statsFactory stats.Stats
}

func New(conn model.Connection, conf *config.Config, log logger.Logger, statsFactory stats.Stats) *Connector {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = conf.GetDuration("Forecast.httpTimeout", 60, time.Second)
	client.Logger = nil
	client.RetryMax = conf.GetInt("Forecast.httpMaxRetry", 0)

	return &Connector{
		client:       client,
		baseURL:      conf.GetString("Forecast.baseURL", "https://api.forecast.it/api"),
		apiKey:       conn.Credential.APIKey,
		endpoints:    endpoints,
		log:          log.Child("forecast"),
		statsFactory: statsFactory,
	}
}

// pageEnvelope is the multi-page response shape. A single-page endpoint
// answers a bare JSON array instead.
type pageEnvelope struct {
	TotalObjectCount int            `json:"totalObjectCount"`
	PageSize         int            `json:"pageSize"`
	PageContents     []model.Record `json:"pageContents"`
}

// Fetch retrieves every endpoint's records. The non-project time endpoint
// resolves first; the remaining endpoints are fetched concurrently. Any HTTP
// status of 400 or above aborts the whole fetch with ErrInvalidCredential.
func (c *Connector) Fetch(ctx context.Context, onProgress model.ProgressFunc) ([]model.RecordBatch, error) {
	start := time.Now()
	tracker := &pageTracker{total: len(c.endpoints), onProgress: onProgress}

	nonProjectTime, err := c.fetchEndpoint(ctx, c.endpoints[0], tracker)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", c.endpoints[0].Name, err)
	}
	nonProjectIDs := make(map[string]struct{}, len(nonProjectTime))
	for _, record := range nonProjectTime {
		if id, ok := record["id"]; ok {
			nonProjectIDs[cast.ToString(id)] = struct{}{}
		}
	}

	batches := make([]model.RecordBatch, len(c.endpoints))
	batches[0] = model.RecordBatch{TableName: c.endpoints[0].Name, Records: nonProjectTime}

	g, gCtx := errgroup.WithContext(ctx)
	for i := 1; i < len(c.endpoints); i++ {
		endpoint := c.endpoints[i]
		g.Go(func() error {
			records, err := c.fetchEndpoint(gCtx, endpoint, tracker)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", endpoint.Name, err)
			}
			if endpoint.Name == timeRegistrationsTable {
				deriveNonProjectFlag(records, nonProjectIDs)
			}
			batches[i] = model.RecordBatch{TableName: endpoint.Name, Records: records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.statsFactory.NewTaggedStat("connector_fetch_duration_seconds", stats.TimerType, stats.Tags{
		"provider": string(model.Forecast),
	}).Since(start)

	c.log.Infow("fetched all endpoints",
		logfield.Provider, model.Forecast,
		logfield.Endpoint, len(c.endpoints),
	)
	return batches, nil
}

// deriveNonProjectFlag marks each time registration that references a
// non-project time category.
func deriveNonProjectFlag(records []model.Record, nonProjectIDs map[string]struct{}) {
	for _, record := range records {
		flagged := false
		if ref, ok := record["non_project_time"]; ok && ref != nil {
			_, flagged = nonProjectIDs[cast.ToString(ref)]
		}
		record["is_non_project_time"] = flagged
	}
}

func (c *Connector) fetchEndpoint(ctx context.Context, endpoint model.Endpoint, tracker *pageTracker) ([]model.Record, error) {
	body, err := c.get(ctx, c.endpointURL(endpoint, 0))
	if err != nil {
		return nil, err
	}

	if gjson.ParseBytes(body).IsArray() {
		var records []model.Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decoding %s response: %w", endpoint.Name, err)
		}
		tracker.done(1)
		return records, nil
	}

	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s page envelope: %w", endpoint.Name, err)
	}
	if envelope.PageSize <= 0 {
		return nil, fmt.Errorf("%s page envelope has no page size", endpoint.Name)
	}
	totalPages := (envelope.TotalObjectCount + envelope.PageSize - 1) / envelope.PageSize
	if totalPages <= 1 {
		tracker.done(1)
		return envelope.PageContents, nil
	}
	tracker.grow(totalPages - 1)

	c.log.Debugw("fanning out pages",
		logfield.Endpoint, endpoint.Name,
		"totalPages", totalPages,
	)

	pages := make([][]model.Record, totalPages)
	g, gCtx := errgroup.WithContext(ctx)
	for page := 1; page <= totalPages; page++ {
		g.Go(func() error {
			body, err := c.get(gCtx, c.endpointURL(endpoint, page))
			if err != nil {
				return err
			}
			var envelope pageEnvelope
			if err := json.Unmarshal(body, &envelope); err != nil {
				return fmt.Errorf("decoding %s page %d: %w", endpoint.Name, page, err)
			}
			pages[page-1] = envelope.PageContents
			tracker.done(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []model.Record
	for _, page := range pages {
		records = append(records, page...)
	}
	return records, nil
}

// endpointURL renders the request URL; pageNumber 0 means the unpaged probe.
func (c *Connector) endpointURL(endpoint model.Endpoint, pageNumber int) string {
	url := fmt.Sprintf("%s/%s%s", c.baseURL, endpoint.APIVersion, endpoint.Path)
	if pageNumber > 0 {
		url = fmt.Sprintf("%s?pageNumber=%d", url, pageNumber)
	}
	return url
}

func (c *Connector) get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("remote responded %d: %w", resp.StatusCode, model.ErrInvalidCredential)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// pageTracker reports fetch progress as completed pages over known pages,
// scaled to the fetch cap. The total grows as envelopes reveal page counts;
// the run's progress accumulator keeps the reported value monotonic.
type pageTracker struct {
	mu         sync.Mutex
	total      int
	completed  int
	onProgress model.ProgressFunc
}

func (t *pageTracker) grow(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += n
}

func (t *pageTracker) done(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed += n
	if t.onProgress != nil && t.total > 0 {
		t.onProgress(float64(t.completed) / float64(t.total) * fetchProgressCap)
	}
}
