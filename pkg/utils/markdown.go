package utils

import (
	"fmt"
	"sort"
	"strings"
)

// ProductsPreview renders up to limit rows as a markdown table, with a note
// when more rows exist. Columns come from the first row's keys, sorted for a
// stable layout. Returns "" for an empty slice.
func ProductsPreview(rows []map[string]any, limit int) string {
	if len(rows) == 0 {
		return ""
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var b strings.Builder
	b.WriteString("\n\n|")
	for _, col := range columns {
		b.WriteString(" " + titleCase(col) + " |")
	}
	b.WriteString("\n|")
	for range columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	shown := rows
	if limit > 0 && len(rows) > limit {
		shown = rows[:limit]
	}
	for _, row := range shown {
		b.WriteString("|")
		for _, col := range columns {
			b.WriteString(" " + cellValue(row[col]) + " |")
		}
		b.WriteString("\n")
	}

	if len(rows) > len(shown) {
		fmt.Fprintf(&b, "\n*This is a preview showing the first %d of %d products. For the complete list, please download the full report below.*",
			len(shown), len(rows))
	} else {
		b.WriteString("\n*This is a preview. For the complete list, please download the full report below.*")
	}

	return b.String()
}

func cellValue(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func titleCase(col string) string {
	words := strings.Split(strings.ReplaceAll(col, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
