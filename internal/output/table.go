package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/metriclens/metriclens/internal/core"
)

// TableFormatter renders datasets as an ASCII table.
type TableFormatter struct{}

// FormatDataset renders a dataset as a table, one row per section.
func (f *TableFormatter) FormatDataset(dataset *core.Dataset) (string, error) {
	if dataset == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Run %s  %s to %s",
		dataset.RunID,
		dataset.Timeframe.Start.Format("2006-01-02"),
		dataset.Timeframe.End.Format("2006-01-02")))
	t.AppendHeader(table.Row{"Section", "Status", "Highlights", "Notes"})

	for _, section := range core.AllSections() {
		result := dataset.Sections[section]
		if result == nil {
			t.AppendRow(table.Row{string(section), "missing", "", ""})
			continue
		}
		t.AppendRow(table.Row{
			string(section),
			string(result.Status),
			highlights(result),
			result.Reason,
		})
	}

	t.AppendFooter(table.Row{"", string(dataset.Status), dataset.Summary, ""})

	return t.Render(), nil
}

// highlights compacts a section's headline numbers into one cell.
func highlights(result *core.ExtractionResult) string {
	if result == nil || len(result.Data) == 0 {
		return ""
	}

	parts := make([]string, 0, 3)
	for _, key := range sortedDataKeys(result.Data) {
		value := result.Data[key]
		switch typed := value.(type) {
		case float64:
			parts = append(parts, fmt.Sprintf("%s=%s", key, trimFloat(typed)))
		case int:
			parts = append(parts, fmt.Sprintf("%s=%d", key, typed))
		case string:
			parts = append(parts, fmt.Sprintf("%s=%s", key, typed))
		case []any:
			parts = append(parts, fmt.Sprintf("%s=%d items", key, len(typed)))
		}
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, ", ")
}

func sortedDataKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func trimFloat(value float64) string {
	formatted := fmt.Sprintf("%.2f", value)
	formatted = strings.TrimRight(formatted, "0")
	return strings.TrimRight(formatted, ".")
}
