// Package export renders plan results as downloadable files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const ContentType = "text/csv"

// CSV writes rows with a header row. Columns follow the given order; when
// none are given the union of row keys is used, sorted.
func CSV(rows []map[string]interface{}, columns ...string) ([]byte, error) {
	if len(columns) == 0 {
		columns = Columns(rows)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(columns))
	for i, row := range rows {
		for j, col := range columns {
			record[j] = cell(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Columns returns the sorted union of keys across rows.
func Columns(rows []map[string]interface{}) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Filename names an export after its intent and creation time.
func Filename(prefix string, at time.Time) string {
	if prefix == "" {
		prefix = "export"
	}
	return fmt.Sprintf("%s-%s.csv", prefix, at.UTC().Format("20060102-150405"))
}

func cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
