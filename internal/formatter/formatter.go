package formatter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/statquery/statquery/internal/storage"
)

// Table renders a result as an aligned text table in the result's column
// order. An empty result renders a friendly message instead of a bare header.
func Table(result *storage.Result) string {
	if result == nil || result.RowCount == 0 {
		return "No results found.\n"
	}

	widths := make([]int, len(result.Columns))
	for i, col := range result.Columns {
		widths[i] = len(col)
	}

	cells := make([][]string, len(result.Rows))

	for r, row := range result.Rows {
		cells[r] = make([]string, len(result.Columns))

		for i, col := range result.Columns {
			text := renderValue(row[col])
			cells[r][i] = text

			if len(text) > widths[i] {
				widths[i] = len(text)
			}
		}
	}

	var sb strings.Builder

	writeRow := func(values []string) {
		for i, value := range values {
			if i > 0 {
				sb.WriteString("  ")
			}

			sb.WriteString(value)
			sb.WriteString(strings.Repeat(" ", widths[i]-len(value)))
		}

		sb.WriteString("\n")
	}

	writeRow(result.Columns)

	separators := make([]string, len(result.Columns))
	for i, width := range widths {
		separators[i] = strings.Repeat("-", width)
	}

	writeRow(separators)

	for _, row := range cells {
		writeRow(row)
	}

	sb.WriteString(fmt.Sprintf("\n%d row(s)\n", result.RowCount))

	return sb.String()
}

// JSON renders a result as indented JSON.
func JSON(result *storage.Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	return string(data) + "\n", nil
}

func renderValue(value any) string {
	if value == nil {
		return "NULL"
	}

	return fmt.Sprintf("%v", value)
}
