package exercise

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// Spreadsheet columns, matched case-insensitively against the header row
const (
	ColumnTitle      = "title"
	ColumnText       = "text"
	ColumnLanguage   = "language"
	ColumnDifficulty = "difficulty"
	ColumnTopic      = "topic"
	ColumnQuestions  = "questions"
)

var defaultColumns = []string{ColumnTitle, ColumnText, ColumnLanguage, ColumnDifficulty, ColumnTopic, ColumnQuestions}

// RowError describes a spreadsheet row that could not be imported
type RowError struct {
	Row int    `json:"row"` // 1-based, as shown in spreadsheet tools
	Err string `json:"error"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Err)
}

// ImportResult holds the outcome of an import
type ImportResult struct {
	Processed int        `json:"processed"`
	Inserted  int        `json:"inserted"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors,omitempty"`
}

// SpreadsheetImporter imports exercises from .xlsx workbooks
type SpreadsheetImporter struct {
	tx     domain.Transactor
	logger *slog.Logger
}

// NewSpreadsheetImporter creates an importer writing through tx
func NewSpreadsheetImporter(tx domain.Transactor, logger *slog.Logger) *SpreadsheetImporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpreadsheetImporter{tx: tx, logger: logger}
}

// Import reads sheet (the first sheet when empty) from r. Rows that fail
// validation are reported in the result; a store failure aborts the import.
func (imp *SpreadsheetImporter) Import(ctx context.Context, r io.Reader, sheet string) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrInvalidInput)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	result := &ImportResult{}
	if len(rows) == 0 {
		return result, nil
	}

	columns, start := headerColumns(rows[0])

	uow, err := imp.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	for i := start; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}
		result.Processed++

		ex, err := parseRow(row, columns)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: i + 1, Err: err.Error()})
			continue
		}

		inserted, err := seedOne(ctx, uow.Exercises(), ex)
		if err != nil {
			_ = uow.Rollback()
			return nil, fmt.Errorf("import row %d: %w", i+1, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	imp.logger.Info("spreadsheet imported",
		"sheet", sheet,
		"processed", result.Processed,
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
	)
	return result, nil
}

// headerColumns maps column names to indices. A first row without a
// title cell is treated as data in the default column order.
func headerColumns(first []string) (map[string]int, int) {
	columns := make(map[string]int)
	for i, cell := range first {
		name := strings.ToLower(strings.TrimSpace(cell))
		for _, known := range defaultColumns {
			if name == known {
				columns[name] = i
			}
		}
	}
	if _, ok := columns[ColumnTitle]; ok {
		return columns, 1
	}

	for i, name := range defaultColumns {
		columns[name] = i
	}
	return columns, 0
}

func parseRow(row []string, columns map[string]int) (*domain.Exercise, error) {
	cell := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ex := &domain.Exercise{
		Title:    cell(ColumnTitle),
		Text:     cell(ColumnText),
		Language: strings.ToLower(cell(ColumnLanguage)),
		Topic:    cell(ColumnTopic),
	}

	if d := cell(ColumnDifficulty); d != "" {
		diff, err := domain.ParseDifficulty(d)
		if err != nil {
			return nil, err
		}
		ex.Difficulty = diff
	}

	if raw := cell(ColumnQuestions); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ex.Questions); err != nil {
			return nil, fmt.Errorf("questions: %v", err)
		}
	}

	ex.ApplyDefaults()
	if err := ex.Validate(); err != nil {
		return nil, err
	}
	return ex, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
