package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// ImportCSV streams a CSV file whose first row is the header and imports every
// lead row.
func (ing *Ingester) ImportCSV(ctx context.Context, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields

	headerRow, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("ingest: empty csv file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	header := parseHeader(headerRow)

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: csv cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}
		for i, field := range row {
			row[i] = strings.TrimSpace(field)
		}
		rows = append(rows, row)
	}

	return ing.importRows(ctx, header, rows)
}
