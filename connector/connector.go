// Package connector retrieves provider data as named record batches. One
// implementation exists per supported provider; the provider is selected
// exactly once, here, and never branched on inside shared pipeline code.
package connector

import (
	"context"
	"fmt"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/connector/forecast"
	"github.com/syncdock/syncdock-server/connector/intect"
	"github.com/syncdock/syncdock-server/connector/shopify"
	"github.com/syncdock/syncdock-server/internal/model"
)

// Connector fetches every batch a provider exposes for one connection.
// onProgress may be nil; implementations report fetch progress in [0, 95]
// to leave headroom for the load or export phase.
type Connector interface {
	Fetch(ctx context.Context, onProgress model.ProgressFunc) ([]model.RecordBatch, error)
}

func New(conn model.Connection, conf *config.Config, log logger.Logger, statsFactory stats.Stats) (Connector, error) {
	switch conn.Provider {
	case model.Forecast:
		return forecast.New(conn, conf, log, statsFactory), nil
	case model.Intect:
		return intect.New(conn, conf, log, statsFactory), nil
	case model.Shopify:
		return shopify.New(conn, conf, log, statsFactory), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", conn.Provider)
	}
}
