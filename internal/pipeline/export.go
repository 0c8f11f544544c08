package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

// ResultColumns is the stable leading column order of every export. Flattened
// metadata keys follow, sorted.
var ResultColumns = []string{
	"ticket_number", "version", "latitude", "longitude", "confidence",
	"quality_tier", "review_priority", "method", "approach",
	"validation_flags", "reasoning", "created_by_stage", "created_at",
	"locked", "processing_time_ms",
}

// metadataColumns collects the sorted union of metadata keys across records.
func metadataColumns(records []model.GeocodeRecord) []string {
	seen := map[string]bool{}
	for _, rec := range records {
		for k := range rec.Metadata {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func recordRow(rec *model.GeocodeRecord, metaKeys []string) []string {
	row := []string{
		rec.TicketNumber,
		strconv.Itoa(rec.Version),
		floatCell(rec.Latitude),
		floatCell(rec.Longitude),
		floatCell(rec.Confidence),
		string(rec.QualityTier),
		string(rec.ReviewPriority),
		rec.Method,
		rec.Approach,
		strings.Join(rec.ValidationFlags, ";"),
		rec.Reasoning,
		rec.CreatedByStage,
		rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		strconv.FormatBool(rec.Locked),
		strconv.FormatFloat(rec.ProcessingTimeMs, 'f', 3, 64),
	}
	for _, k := range metaKeys {
		row = append(row, metaCell(rec.Metadata[k]))
	}
	return row
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func metaCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// WriteResultsCSV writes records to a CSV file, creating the parent
// directory as needed.
func WriteResultsCSV(path string, records []model.GeocodeRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create output directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", path)
	}
	defer func() { _ = f.Close() }()

	metaKeys := metadataColumns(records)
	w := csv.NewWriter(f)
	if err := w.Write(append(append([]string{}, ResultColumns...), metaKeys...)); err != nil {
		return eris.Wrap(err, "pipeline: write csv header")
	}
	for i := range records {
		if err := w.Write(recordRow(&records[i], metaKeys)); err != nil {
			return eris.Wrap(err, "pipeline: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "pipeline: flush csv")
	}
	return nil
}

// WriteResultsXLSX writes records to a single-sheet workbook.
func WriteResultsXLSX(path, sheetName string, records []model.GeocodeRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create output directory for %s", path)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "pipeline: add xlsx sheet")
	}

	metaKeys := metadataColumns(records)
	header := sheet.AddRow()
	for _, col := range append(append([]string{}, ResultColumns...), metaKeys...) {
		header.AddCell().SetString(col)
	}
	for i := range records {
		row := sheet.AddRow()
		for _, cell := range recordRow(&records[i], metaKeys) {
			row.AddCell().SetString(cell)
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "pipeline: save %s", path)
	}
	return nil
}

// WriteSummaryJSON writes the batch summary.
func WriteSummaryJSON(path string, summary *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create output directory for %s", path)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal summary")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}

// Export writes results, review queue, and summary into dir using the run
// id as the filename prefix.
func Export(dir string, outcome *Outcome) error {
	prefix := outcome.Summary.PipelineID
	if err := WriteResultsCSV(filepath.Join(dir, prefix+"_results.csv"), outcome.Results); err != nil {
		return err
	}
	if err := WriteResultsXLSX(filepath.Join(dir, prefix+"_results.xlsx"), "results", outcome.Results); err != nil {
		return err
	}
	if err := WriteResultsCSV(filepath.Join(dir, prefix+"_review_queue.csv"), outcome.ReviewQueue); err != nil {
		return err
	}
	return WriteSummaryJSON(filepath.Join(dir, prefix+"_summary.json"), outcome.Summary)
}

// summaryJSON renders the summary for the run-history row; errors collapse
// to an empty string since history is advisory.
func summaryJSON(summary *Summary) string {
	data, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(data)
}
