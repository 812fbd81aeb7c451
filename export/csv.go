// Package export turns record batches into downstream artifacts: CSV
// members of a ZIP archive stored in object storage, or sheets of a remote
// spreadsheet.
package export

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/syncdock/syncdock-server/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPlaceholder = "[separate table]"

// CSVOptions controls the extended conversion. Fields listed in
// PlaceholderFields are not expanded; their cells carry the placeholder
// literal because the field's records are materialized as a table of their
// own.
type CSVOptions struct {
	PlaceholderFields []string
	Placeholder       string
}

func (o CSVOptions) placeholder() string {
	if o.Placeholder == "" {
		return defaultPlaceholder
	}
	return o.Placeholder
}

// Headers derives the declared header set from the first record: the id
// column first, the rest alphabetical. Returns nil for an empty batch.
func Headers(records []model.Record) []string {
	if len(records) == 0 {
		return nil
	}
	headers := lo.Keys(records[0])
	sort.Slice(headers, func(i, j int) bool {
		if headers[i] == "id" {
			return true
		}
		if headers[j] == "id" {
			return false
		}
		return headers[i] < headers[j]
	})
	return headers
}

// WriteCSV writes the flat variant: one column per declared header, fields
// missing from a record default to empty. Cells containing commas, quotes or
// newlines are quote escaped by the writer.
func WriteCSV(w io.Writer, headers []string, records []model.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("writing header row: %w", err)
	}
	for _, record := range records {
		row := make([]string, len(headers))
		for i, header := range headers {
			row[i] = formatCell(record[header])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing record row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteExpandedCSV writes the extended variant: a declared field holding a
// non-array object in any record is expanded into one field_subkey column
// per subkey, except placeholder fields which keep a single column with the
// placeholder literal. Exactly one level is expanded; an object nested below
// that is serialized to a JSON string in its cell.
func WriteExpandedCSV(w io.Writer, headers []string, records []model.Record, opts CSVOptions) error {
	placeholders := lo.SliceToMap(opts.PlaceholderFields, func(f string) (string, struct{}) {
		return f, struct{}{}
	})

	// a field expands when any record carries an object under it
	subkeys := map[string][]string{}
	for _, header := range headers {
		if _, ok := placeholders[header]; ok {
			continue
		}
		seen := map[string]struct{}{}
		for _, record := range records {
			nested, ok := record[header].(map[string]any)
			if !ok {
				continue
			}
			for key := range nested {
				seen[key] = struct{}{}
			}
		}
		if len(seen) > 0 {
			keys := lo.Keys(seen)
			sort.Strings(keys)
			subkeys[header] = keys
		}
	}

	var columns []string
	for _, header := range headers {
		if keys, ok := subkeys[header]; ok {
			for _, key := range keys {
				columns = append(columns, header+"_"+key)
			}
			continue
		}
		columns = append(columns, header)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("writing header row: %w", err)
	}
	for _, record := range records {
		var row []string
		for _, header := range headers {
			if _, ok := placeholders[header]; ok {
				if record[header] != nil {
					row = append(row, opts.placeholder())
				} else {
					row = append(row, "")
				}
				continue
			}
			keys, expanded := subkeys[header]
			if !expanded {
				row = append(row, formatCell(record[header]))
				continue
			}
			nested, _ := record[header].(map[string]any)
			for _, key := range keys {
				row = append(row, formatCell(nested[key]))
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing record row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteArchive renders each batch as one extended CSV member of a ZIP
// archive. Empty batches produce no member.
func WriteArchive(w io.Writer, batches []model.RecordBatch, opts CSVOptions) error {
	zw := zip.NewWriter(w)
	for _, batch := range batches {
		if len(batch.Records) == 0 {
			continue
		}
		member, err := zw.Create(batch.TableName + ".csv")
		if err != nil {
			return fmt.Errorf("creating archive member %s: %w", batch.TableName, err)
		}
		if err := WriteExpandedCSV(member, Headers(batch.Records), batch.Records, opts); err != nil {
			return fmt.Errorf("writing archive member %s: %w", batch.TableName, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		serialized, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(serialized)
	default:
		return cast.ToString(v)
	}
}
