package harness

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/xuri/excelize/v2"
)

// Columns is the export header, in order.
var Columns = []string{
	"id", "category", "input", "expected_summary", "parsed_summary",
	"summary_match", "start_match", "end_match", "location_match",
	"pass", "elapsed_ms", "error",
}

// Row is one exported outcome as read back from a CSV export.
type Row struct {
	ID              string
	Category        string
	Input           string
	ExpectedSummary string
	ParsedSummary   string
	SummaryMatch    bool
	StartMatch      bool
	EndMatch        bool
	LocationMatch   bool
	Pass            bool
	ElapsedMs       int64
	Error           string
}

// cell folds CRLF to LF. csv.Reader returns LF for a CRLF inside a quoted
// field, so this keeps an export and its re-read identical.
func cell(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func record(o TestOutcome) []string {
	return []string{
		cell(o.ID),
		cell(o.Category),
		cell(o.Input),
		cell(o.Expected.Summary),
		cell(o.ParsedSummary()),
		strconv.FormatBool(o.Verdict.SummaryMatch),
		strconv.FormatBool(o.Verdict.StartMatch),
		strconv.FormatBool(o.Verdict.EndMatch),
		strconv.FormatBool(o.Verdict.LocationMatch),
		strconv.FormatBool(o.Passed()),
		strconv.FormatInt(o.ElapsedMs, 10),
		cell(o.Error),
	}
}

// ExportCSV writes the session's outcomes as CSV.
func (h *Harness) ExportCSV(w io.Writer) error {
	return WriteCSV(w, h.Outcomes())
}

// WriteCSV writes outcomes with a header row. Fields containing quotes,
// commas or newlines are quoted with inner quotes doubled.
func WriteCSV(w io.Writer, outcomes []TestOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := cw.Write(record(o)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSummaries parses a CSV export back into rows.
func ReadSummaries(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty export")
		}
		return nil, err
	}
	for i, name := range Columns {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %d: %q", i, header[i])
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := Row{
			ID:              rec[0],
			Category:        rec[1],
			Input:           rec[2],
			ExpectedSummary: rec[3],
			ParsedSummary:   rec[4],
			Error:           rec[11],
		}
		flags := []*bool{&row.SummaryMatch, &row.StartMatch, &row.EndMatch, &row.LocationMatch, &row.Pass}
		for i, dst := range flags {
			if *dst, err = strconv.ParseBool(rec[5+i]); err != nil {
				return nil, fmt.Errorf("row %s: %s: %w", row.ID, Columns[5+i], err)
			}
		}
		if row.ElapsedMs, err = strconv.ParseInt(rec[10], 10, 64); err != nil {
			return nil, fmt.Errorf("row %s: elapsed_ms: %w", row.ID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ExportXLSX writes the session's outcomes to a spreadsheet at path.
func (h *Harness) ExportXLSX(path string) error {
	f, err := buildWorkbook(h.Outcomes())
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// WriteXLSX writes outcomes as a spreadsheet to w.
func WriteXLSX(w io.Writer, outcomes []TestOutcome) error {
	f, err := buildWorkbook(outcomes)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

const (
	resultsSheet = "results"
	summarySheet = "summary"
)

func buildWorkbook(outcomes []TestOutcome) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(outcomes)+1)
	rows = append(rows, toAny(Columns))
	for _, o := range outcomes {
		rec := record(o)
		row := toAny(rec)
		row[10] = o.ElapsedMs
		rows = append(rows, row)
	}
	if err := writeSheet(f, resultsSheet, rows); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	summary := [][]any{{"category", "cases", "passed", "accuracy"}}
	for _, s := range summarize(outcomes) {
		summary = append(summary, []any{s.category, s.total, s.passed, s.accuracy})
	}
	if err := writeSheet(f, summarySheet, summary); err != nil {
		return nil, err
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any) error {
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("failed to set %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

type categorySummary struct {
	category string
	total    int
	passed   int
	accuracy string
}

// summarize groups outcomes by category in first-seen order, with an
// overall "all" line last.
func summarize(outcomes []TestOutcome) []categorySummary {
	var order []string
	groups := make(map[string][]TestOutcome)
	for _, o := range outcomes {
		if _, ok := groups[o.Category]; !ok {
			order = append(order, o.Category)
		}
		groups[o.Category] = append(groups[o.Category], o)
	}

	out := make([]categorySummary, 0, len(order)+1)
	for _, cat := range order {
		out = append(out, summaryOf(cat, groups[cat]))
	}
	out = append(out, summaryOf(CategoryAll, outcomes))
	return out
}

func summaryOf(category string, outcomes []TestOutcome) categorySummary {
	s := categorySummary{category: category, total: len(outcomes), accuracy: Accuracy(outcomes)}
	for _, o := range outcomes {
		if o.Passed() {
			s.passed++
		}
	}
	return s
}

// Report prints a per-category accuracy table for the session.
func (h *Harness) Report(w io.Writer) {
	WriteReport(w, h.Outcomes())
}

// WriteReport renders the per-category table to w.
func WriteReport(w io.Writer, outcomes []TestOutcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Category", "Cases", "Passed", "Accuracy %"})

	sums := summarize(outcomes)
	for _, s := range sums[:len(sums)-1] {
		t.AppendRow(table.Row{s.category, s.total, s.passed, s.accuracy})
	}
	total := sums[len(sums)-1]
	t.AppendFooter(table.Row{"Total", total.total, total.passed, total.accuracy})
	t.Render()
}
