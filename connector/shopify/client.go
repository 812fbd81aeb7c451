package shopify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/config"

	"github.com/syncdock/syncdock-server/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const accessTokenHeader = "X-Shopify-Access-Token"

// graphqlClient speaks the Admin GraphQL API: one POST per document, the
// response's data payload handed back for path-based extraction.
type graphqlClient struct {
	client *retryablehttp.Client
	url    string
	token  string
}

func newGraphqlClient(conn model.Connection, conf *config.Config) *graphqlClient {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = conf.GetDuration("Shopify.httpTimeout", 60, time.Second)
	client.Logger = nil
	client.RetryMax = conf.GetInt("Shopify.httpMaxRetry", 0)

	url := conf.GetString("Shopify.graphqlURL", "")
	if url == "" {
		url = fmt.Sprintf("https://%s/admin/api/%s/graphql.json",
			conn.Credential.ShopDomain,
			conf.GetString("Shopify.apiVersion", "2025-01"),
		)
	}
	return &graphqlClient{
		client: client,
		url:    url,
		token:  conn.Credential.AccessToken,
	}
}

// request executes one GraphQL document and returns the data payload.
// Transport-level GraphQL errors become Go errors; userErrors embedded in
// mutation payloads are the caller's to inspect.
func (c *graphqlClient) request(ctx context.Context, query string) (gjson.Result, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encoding query: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("requesting %s: %w", c.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return gjson.Result{}, fmt.Errorf("remote responded %d: %w", resp.StatusCode, model.ErrInvalidCredential)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, fmt.Errorf("remote responded %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading response body: %w", err)
	}
	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		return gjson.Result{}, fmt.Errorf("graphql error: %s", errs.Array()[0].Get("message").String())
	}
	return parsed.Get("data"), nil
}
