package connector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/internal/model"
)

func TestNew(t *testing.T) {
	conf := config.New()

	for _, provider := range []model.Provider{model.Forecast, model.Intect, model.Shopify} {
		c, err := New(model.Connection{Provider: provider}, conf, logger.NOP, stats.NOP)
		require.NoError(t, err, provider)
		require.NotNil(t, c, provider)
	}

	_, err := New(model.Connection{Provider: "quickbooks"}, conf, logger.NOP, stats.NOP)
	require.ErrorContains(t, err, "unsupported provider")
}
