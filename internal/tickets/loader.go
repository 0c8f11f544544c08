// Package tickets loads locate-ticket batches from spreadsheet or CSV
// files and normalizes their headers into the pipeline's field names.
package tickets

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

// headerAliases maps the header spellings seen in exported ticket sheets
// to canonical field names.
var headerAliases = map[string]string{
	"ticket_number": "ticket_number",
	"ticket":        "ticket_number",
	"ticket_no":     "ticket_number",
	"number":        "ticket_number",
	"street":        "street",
	"street_name":   "street",
	"road":          "street",
	"intersection":  "intersection",
	"cross_street":  "intersection",
	"nearest_intersection": "intersection",
	"city":        "city",
	"place":       "city",
	"county":      "county",
	"ticket_type": "ticket_type",
	"type":        "ticket_type",
	"priority":    "ticket_type",
	"duration":    "duration",
	"work_type":   "work_type",
	"work":        "work_type",
	"excavator":   "excavator",
	"contractor":  "excavator",
	"company":     "excavator",
}

// LoadResult is a parsed batch plus its bookkeeping.
type LoadResult struct {
	Tickets    []model.Ticket
	Rejected   int
	Duplicates int
}

// Load dispatches on file extension: .xlsx or .csv.
func Load(path string) (*LoadResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path)
	case ".csv":
		return LoadCSV(path)
	default:
		return nil, eris.Errorf("tickets: unsupported input format %s", path)
	}
}

// LoadCSV reads a ticket batch from a CSV file with a header row.
func LoadCSV(path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tickets: open %s", path)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "tickets: read header of %s", path)
	}
	cols := mapHeader(header)

	var rows [][]string
	for {
		row, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, eris.Wrapf(readErr, "tickets: read row of %s", path)
		}
		rows = append(rows, row)
	}
	return buildBatch(rows, cols, path), nil
}

// LoadXLSX reads a ticket batch from the first sheet of a workbook.
func LoadXLSX(path string) (*LoadResult, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tickets: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("tickets: no sheets in %s", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("tickets: empty sheet in %s", path)
	}

	header := rowToStrings(sheet.Rows[0])
	cols := mapHeader(header)

	var rows [][]string
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, rowToStrings(row))
	}
	return buildBatch(rows, cols, path), nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// mapHeader resolves each column index to a canonical field name; unknown
// columns map to "".
func mapHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		key = strings.ReplaceAll(key, "-", "_")
		cols[i] = headerAliases[key]
	}
	return cols
}

// buildBatch assembles tickets from rows, dropping rows without a ticket
// number and keeping the first of any duplicated number.
func buildBatch(rows [][]string, cols []string, path string) *LoadResult {
	res := &LoadResult{}
	seen := map[string]bool{}

	for _, row := range rows {
		t := ticketFromRow(row, cols)
		if t.TicketNumber == "" {
			if !emptyRow(row) {
				res.Rejected++
			}
			continue
		}
		if seen[t.TicketNumber] {
			res.Duplicates++
			continue
		}
		seen[t.TicketNumber] = true
		res.Tickets = append(res.Tickets, t)
	}

	zap.L().With(zap.String("component", "tickets")).Info("batch loaded",
		zap.String("path", path),
		zap.Int("tickets", len(res.Tickets)),
		zap.Int("rejected", res.Rejected),
		zap.Int("duplicates", res.Duplicates))
	return res
}

func ticketFromRow(row []string, cols []string) model.Ticket {
	var t model.Ticket
	for i, cell := range row {
		if i >= len(cols) {
			break
		}
		value := strings.TrimSpace(cell)
		switch cols[i] {
		case "ticket_number":
			t.TicketNumber = value
		case "street":
			t.Street = value
		case "intersection":
			t.Intersection = value
		case "city":
			t.City = value
		case "county":
			t.County = value
		case "ticket_type":
			t.TicketType = value
		case "duration":
			t.Duration = value
		case "work_type":
			t.WorkType = value
		case "excavator":
			t.Excavator = value
		}
	}
	return t
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
