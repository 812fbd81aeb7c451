package shopify

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/logfield"
)

const (
	ordersTable      = "orders"
	draftOrdersTable = "draft_orders"
	lineItemsTable   = "line_items"
	customersTable   = "customers"
	refundsTable     = "refunds"

	// jsonl lines are usually small, but orders with embedded sub-objects
	// can grow well past bufio's default token size
	maxLineSize = 10 << 20
)

// Denormalized is the relational view of one bulk export file: top-level
// entities with embedded sub-objects replaced by foreign keys, children and
// shared entities materialized into their own lists.
type Denormalized struct {
	Orders      []model.Record
	DraftOrders []model.Record
	LineItems   []model.Record
	Customers   []model.Record
	Refunds     []model.Record
}

// Batches orders the lists for loading or export, parents before children.
func (d Denormalized) Batches() []model.RecordBatch {
	return []model.RecordBatch{
		{TableName: ordersTable, Records: d.Orders},
		{TableName: draftOrdersTable, Records: d.DraftOrders},
		{TableName: lineItemsTable, Records: d.LineItems},
		{TableName: customersTable, Records: d.Customers},
		{TableName: refundsTable, Records: d.Refunds},
	}
}

// Denormalize reconstructs parent/child relationships from a flat JSONL
// export in a single pass. Top-level lines are orders or draft orders, told
// apart by the status field; child lines carry a __parentId reference;
// refunds carry their own typename. Embedded customers are deduplicated by
// id, first occurrence wins. Malformed lines are logged and skipped.
func Denormalize(r io.Reader, log logger.Logger) (Denormalized, error) {
	var (
		out           Denormalized
		lineItemIDs   = map[string][]any{}
		customers     = map[string]struct{}{}
		topLevel      []model.Record
		topLevelIDs   []string
		topLevelDraft []bool
	)

	registerCustomer := func(raw any) (string, bool) {
		customer, ok := raw.(map[string]any)
		if !ok {
			return "", false
		}
		id, ok := customer["id"].(string)
		if !ok || id == "" {
			return "", false
		}
		if _, seen := customers[id]; !seen {
			customers[id] = struct{}{}
			out.Customers = append(out.Customers, snakeRecord(customer))
		}
		return id, true
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var parsed map[string]any
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			log.Warnw("skipping malformed jsonl line",
				"line", lineNo,
				logfield.Error, err.Error(),
			)
			continue
		}

		parentID, hasParent := parsed["__parentId"].(string)
		id, _ := parsed["id"].(string)
		_, hasName := parsed["name"]
		_, hasStatus := parsed["status"]
		typename, _ := parsed["__typename"].(string)

		switch {
		case typename == "Refund":
			if order, ok := parsed["order"].(map[string]any); ok {
				if customerID, ok := registerCustomer(order["customer"]); ok {
					order["customerId"] = customerID
				}
				delete(order, "customer")
			}
			out.Refunds = append(out.Refunds, snakeRecord(parsed))

		case hasParent && strings.Contains(id, "LineItem"):
			record := snakeRecord(parsed)
			record["order_id"] = parentID
			out.LineItems = append(out.LineItems, record)
			lineItemIDs[parentID] = append(lineItemIDs[parentID], id)

		case !hasParent && id != "" && hasName:
			record := snakeRecord(parsed)
			if customerID, ok := registerCustomer(parsed["customer"]); ok {
				record["customer_id"] = customerID
			}
			delete(record, "customer")
			if addr, ok := parsed["billingAddress"].(map[string]any); ok {
				record["billing_address_id"] = addr["id"]
			}
			delete(record, "billing_address")
			if addr, ok := parsed["shippingAddress"].(map[string]any); ok {
				record["shipping_address_id"] = addr["id"]
			}
			delete(record, "shipping_address")
			delete(record, "line_items")

			topLevel = append(topLevel, record)
			topLevelIDs = append(topLevelIDs, id)
			topLevelDraft = append(topLevelDraft, hasStatus)

		default:
			log.Debugw("skipping unclassified jsonl line", "line", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return Denormalized{}, fmt.Errorf("scanning jsonl: %w", err)
	}

	// line item ids only resolve after the full pass, children follow their
	// parent in the file but one parent's children may interleave with later
	// parents' lines
	for i, record := range topLevel {
		ids := lineItemIDs[topLevelIDs[i]]
		if ids == nil {
			ids = []any{}
		}
		record["line_items_ids"] = ids
		if topLevelDraft[i] {
			out.DraftOrders = append(out.DraftOrders, record)
		} else {
			out.Orders = append(out.Orders, record)
		}
	}
	return out, nil
}

// snakeRecord rewrites map keys to snake_case recursively so records line up
// with the target schema's column names and export headers.
func snakeRecord(m map[string]any) model.Record {
	out := make(model.Record, len(m))
	for key, value := range m {
		out[toSnake(key)] = snakeValue(value)
	}
	return out
}

func snakeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return map[string]any(snakeRecord(v))
	case []any:
		converted := make([]any, len(v))
		for i, item := range v {
			converted[i] = snakeValue(item)
		}
		return converted
	default:
		return value
	}
}

func toSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
