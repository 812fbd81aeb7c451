// Package intect fetches payroll data from the Intect REST API. Calls are
// sequentially dependent: a basic-auth login yields a bearer token, the
// token lists salary batches, and each batch's statements are fetched and
// flattened with the owning batch's name attached.
package intect

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/logfield"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	salaryBatchesTable    = "salary_batches"
	salaryStatementsTable = "salary_statements"
	batchNameField        = "salary_batch_name"
	batchForeignKeyField  = "SalaryBatchId"

	fetchProgressCap = 95.0
)

type Connector struct {
	client       *retryablehttp.Client
	baseURL      string
	username     string
	password     string
	log          logger.Logger
	statsFactory stats.Stats
}

func New(conn model.Connection, conf *config.Config, log logger.Logger, statsFactory stats.Stats) *Connector {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = conf.GetDuration("Intect.httpTimeout", 60, time.Second)
	client.Logger = nil
	client.RetryMax = conf.GetInt("Intect.httpMaxRetry", 0)

	return &Connector{
		client:       client,
		baseURL:      conf.GetString("Intect.baseURL", "https://api.intect.app"),
		username:     conn.Credential.Username,
		password:     conn.Credential.Password,
		log:          log.Child("intect"),
		statsFactory: statsFactory,
	}
}

// Fetch logs in, lists salary batches and resolves each batch's statements.
// It yields the batch list and the flattened statement list; every statement
// carries its batch's display name, joined by the batch foreign key.
func (c *Connector) Fetch(ctx context.Context, onProgress model.ProgressFunc) ([]model.RecordBatch, error) {
	start := time.Now()

	token, err := c.login(ctx)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	batches, err := c.getRecords(ctx, token, c.baseURL+"/api/salarybatches")
	if err != nil {
		return nil, fmt.Errorf("fetching salary batches: %w", err)
	}

	batchNames := make(map[string]any, len(batches))
	for _, batch := range batches {
		if id, ok := batch["Id"]; ok {
			batchNames[cast.ToString(id)] = batch["Name"]
		}
	}

	// one progress unit per batch detail call, after the list resolved
	var statements []model.Record
	for i, batch := range batches {
		id, ok := batch["Id"]
		if !ok {
			c.log.Warnw("skipping salary batch without id", logfield.Provider, model.Intect)
			continue
		}
		detail, err := c.getRecords(ctx, token,
			fmt.Sprintf("%s/api/salarybatches/%s/salarystatements", c.baseURL, cast.ToString(id)),
		)
		if err != nil {
			return nil, fmt.Errorf("fetching statements of batch %v: %w", id, err)
		}
		for _, statement := range detail {
			statement[batchNameField] = batchNames[cast.ToString(statement[batchForeignKeyField])]
		}
		statements = append(statements, detail...)

		if onProgress != nil {
			onProgress(float64(i+1) / float64(len(batches)) * fetchProgressCap)
		}
	}

	c.statsFactory.NewTaggedStat("connector_fetch_duration_seconds", stats.TimerType, stats.Tags{
		"provider": string(model.Intect),
	}).Since(start)

	c.log.Infow("fetched salary data",
		logfield.Provider, model.Intect,
		logfield.Records, len(batches)+len(statements),
	)

	return []model.RecordBatch{
		{TableName: salaryBatchesTable, Records: batches},
		{TableName: salaryStatementsTable, Records: statements},
	}, nil
}

// login exchanges the basic-auth pair for a bearer token.
func (c *Connector) login(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", nil)
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	pair := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+pair)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("login responded %d: %w", resp.StatusCode, model.ErrInvalidCredential)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading login response: %w", err)
	}
	var auth struct {
		Token string `json:"Token"`
	}
	if err := json.Unmarshal(body, &auth); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if auth.Token == "" {
		return "", fmt.Errorf("login response carries no token: %w", model.ErrInvalidCredential)
	}
	return auth.Token, nil
}

// getRecords fetches a record array. An object response gets its first
// array-valued field flattened out, the detail endpoints nest their records
// that way.
func (c *Connector) getRecords(ctx context.Context, token, url string) ([]model.Record, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+token)

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

	var records []model.Record
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	var wrapper map[string]any
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decoding response of %s: %w", url, err)
	}
	for _, value := range wrapper {
		nested, ok := value.([]any)
		if !ok {
			continue
		}
		records = make([]model.Record, 0, len(nested))
		for _, item := range nested {
			if record, ok := item.(map[string]any); ok {
				records = append(records, record)
			}
		}
		return records, nil
	}
	return nil, nil
}
