package output

import (
	"encoding/csv"
	"io"
	"slices"

	"github.com/Loopxo/khoj/pkg/models"
)

// Columns returns the union of field names across records, sorted
func Columns(records []models.Record) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range records {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return cols
}

// WriteCSV writes one header row and one row per record. Missing fields are empty cells.
func WriteCSV(w io.Writer, records []models.Record) error {
	writer := csv.NewWriter(w)

	headers := Columns(records)
	if err := writer.Write(headers); err != nil {
		return err
	}
	for _, r := range records {
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = r[h]
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
