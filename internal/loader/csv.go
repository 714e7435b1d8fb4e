package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// csvBatchSize is the number of data rows under each "Rows" header.
const csvBatchSize = 20

// CSVLoader renders a CSV file as one section per batch of rows. Each row is
// written as "column: value" pairs.
type CSVLoader struct{}

func (l *CSVLoader) Load(r io.Reader, filename string) (*Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	var w markdownWriter
	if len(records) > 0 {
		headers := records[0]
		dataRows := records[1:]

		for i := 0; i < len(dataRows); i += csvBatchSize {
			end := min(i+csvBatchSize, len(dataRows))

			var text strings.Builder
			text.WriteString("Headers: " + strings.Join(headers, ", ") + "\n")
			for _, row := range dataRows[i:end] {
				for j, cell := range row {
					if j < len(headers) {
						text.WriteString(headers[j] + ": " + cell)
					} else {
						text.WriteString(cell)
					}
					if j < len(row)-1 {
						text.WriteString(", ")
					}
				}
				text.WriteString("\n")
			}

			// 1-indexed, counting the header row.
			w.heading(1, fmt.Sprintf("Rows %d-%d", i+2, end+1))
			w.block(escapeHeading(text.String()))
		}
	}

	return newDocument(filename, "csv", "", w.String()), nil
}
