package shopify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

const bulkExportFixture = `{"id":"gid://shopify/Order/1","name":"#1001","createdAt":"2024-03-01T10:00:00Z","customer":{"id":"gid://shopify/Customer/7","displayName":"Jane"},"billingAddress":{"id":"addr-b","city":"Aarhus"},"shippingAddress":{"id":"addr-s","city":"Odense"},"totalPriceSet":{"shopMoney":{"amount":"10.0"}}}
{"id":"gid://shopify/LineItem/11","__parentId":"gid://shopify/Order/1","quantity":2}
{not valid json
{"id":"gid://shopify/LineItem/12","__parentId":"gid://shopify/Order/1","quantity":1}
{"id":"gid://shopify/DraftOrder/2","name":"#D2","status":"OPEN","customer":{"id":"gid://shopify/Customer/7","displayName":"Jane Updated"}}
{"__typename":"Refund","id":"gid://shopify/Refund/3","order":{"id":"gid://shopify/Order/1","customer":{"id":"gid://shopify/Customer/8","displayName":"Bob"}}}
`

func TestDenormalize(t *testing.T) {
	out, err := Denormalize(strings.NewReader(bulkExportFixture), logger.NOP)
	require.NoError(t, err)

	require.Len(t, out.Orders, 1)
	order := out.Orders[0]
	require.Equal(t, "gid://shopify/Order/1", order["id"])
	require.Equal(t, "gid://shopify/Customer/7", order["customer_id"])
	require.NotContains(t, order, "customer")
	require.Equal(t, "addr-b", order["billing_address_id"])
	require.NotContains(t, order, "billing_address")
	require.Equal(t, "addr-s", order["shipping_address_id"])
	require.NotContains(t, order, "shipping_address")
	require.Equal(t,
		[]any{"gid://shopify/LineItem/11", "gid://shopify/LineItem/12"},
		order["line_items_ids"],
	)
	// embedded sub-objects get their keys snaked all the way down
	priceSet, ok := order["total_price_set"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, priceSet, "shop_money")

	require.Len(t, out.DraftOrders, 1)
	draft := out.DraftOrders[0]
	require.Equal(t, "OPEN", draft["status"])
	require.Equal(t, []any{}, draft["line_items_ids"])

	require.Len(t, out.LineItems, 2)
	for _, item := range out.LineItems {
		require.Equal(t, "gid://shopify/Order/1", item["order_id"])
	}

	// first occurrence of a customer wins, later embeds only reference it
	require.Len(t, out.Customers, 2)
	require.Equal(t, "gid://shopify/Customer/7", out.Customers[0]["id"])
	require.Equal(t, "Jane", out.Customers[0]["display_name"])
	require.Equal(t, "gid://shopify/Customer/8", out.Customers[1]["id"])

	require.Len(t, out.Refunds, 1)
	refundOrder, ok := out.Refunds[0]["order"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "gid://shopify/Customer/8", refundOrder["customer_id"])
	require.NotContains(t, refundOrder, "customer")
}

func TestDenormalizeEmpty(t *testing.T) {
	out, err := Denormalize(strings.NewReader(""), logger.NOP)
	require.NoError(t, err)
	require.Empty(t, out.Orders)
	require.Empty(t, out.Customers)
}

func TestBatchesOrder(t *testing.T) {
	batches := Denormalized{}.Batches()
	names := make([]string, 0, len(batches))
	for _, batch := range batches {
		names = append(names, batch.TableName)
	}
	require.Equal(t, []string{"orders", "draft_orders", "line_items", "customers", "refunds"}, names)
}

func TestToSnake(t *testing.T) {
	cases := map[string]string{
		"id":                 "id",
		"displayName":        "display_name",
		"billingAddress":     "billing_address",
		"totalPriceSet":      "total_price_set",
		"URL":                "url",
		"customerID":         "customer_id",
		"HTTPServer":         "http_server",
		"already_snake_case": "already_snake_case",
	}
	for in, want := range cases {
		require.Equal(t, want, toSnake(in), in)
	}
}
