package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ImportXLSX imports leads from the first sheet of an XLSX workbook. The first
// row is the header.
func (ing *Ingester) ImportXLSX(ctx context.Context, path string) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("ingest: empty xlsx sheet")
	}

	header := parseHeader(rowToStrings(sheet.Rows[0]))

	var rows [][]string
	for _, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: xlsx cancelled")
		}
		rows = append(rows, rowToStrings(row))
	}

	return ing.importRows(ctx, header, rows)
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
