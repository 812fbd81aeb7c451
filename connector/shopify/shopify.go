// Package shopify fetches commerce data through the Admin GraphQL bulk
// export: the provider has no synchronous bulk read, so a fetch runs an
// asynchronous export job to completion, downloads its JSONL result and
// denormalizes it into relational batches.
package shopify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/logfield"
)

type Connector struct {
	runner       *Runner
	download     *retryablehttp.Client
	log          logger.Logger
	statsFactory stats.Stats
}

func New(conn model.Connection, conf *config.Config, log logger.Logger, statsFactory stats.Stats) *Connector {
	log = log.Child("shopify")

	download := retryablehttp.NewClient()
	download.HTTPClient.Timeout = conf.GetDuration("Shopify.downloadTimeout", 300, time.Second)
	download.Logger = nil
	download.RetryMax = conf.GetInt("Shopify.httpMaxRetry", 0)

	return &Connector{
		runner:       NewRunner(newGraphqlClient(conn, conf), NewMemoryStore(), conf, log),
		download:     download,
		log:          log,
		statsFactory: statsFactory,
	}
}

// Runner exposes the bulk lifecycle for interactive polling.
func (c *Connector) Runner() *Runner { return c.runner }

// Fetch blocks until a bulk export completes, then downloads and
// denormalizes its result. A prior completed export within the staleness
// window is reused instead of starting a fresh one.
func (c *Connector) Fetch(ctx context.Context, onProgress model.ProgressFunc) ([]model.RecordBatch, error) {
	start := time.Now()
	report := func(percent float64) {
		if onProgress != nil {
			onProgress(percent)
		}
	}

	op, err := c.runner.Poll(ctx)
	if err != nil {
		return nil, err
	}
	if op != nil && op.Status == model.BulkStatusCompleted && op.URL != "" {
		c.log.Infow("reusing completed bulk operation",
			logfield.OperationID, op.ID,
			"createdAt", op.CreatedAt,
		)
	} else {
		if err := c.runner.Reset(ctx); err != nil {
			return nil, err
		}
		if _, err := c.runner.Start(ctx); err != nil {
			return nil, err
		}
		report(10)

		completed, err := c.runner.Wait(ctx)
		if err != nil {
			return nil, err
		}
		op = &completed
	}
	report(60)

	body, err := c.downloadResult(ctx, op.URL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	denormalized, err := Denormalize(body, c.log)
	if err != nil {
		return nil, err
	}
	report(95)

	c.statsFactory.NewTaggedStat("connector_fetch_duration_seconds", stats.TimerType, stats.Tags{
		"provider": string(model.Shopify),
	}).Since(start)

	c.log.Infow("fetched bulk export",
		logfield.Provider, model.Shopify,
		logfield.OperationID, op.ID,
		logfield.Records, len(denormalized.Orders)+len(denormalized.DraftOrders)+
			len(denormalized.LineItems)+len(denormalized.Customers)+len(denormalized.Refunds),
	)
	return denormalized.Batches(), nil
}

func (c *Connector) downloadResult(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading bulk result: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("bulk result download responded %d", resp.StatusCode)
	}
	return resp.Body, nil
}
