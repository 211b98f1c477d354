// Package xlsx backs the pipeline's collaborator interfaces with an Excel
// workbook: the tabular source and output sink read and write sheets, and
// the formula sandbox evaluates generated formulas in a scratch cell of
// the same workbook.
package xlsx

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	tablemap "github.com/vogtb/go-tablemap"
)

// scratch sheet holding the sandbox's single evaluation cell. removed
// before saving so it never appears in user-visible output.
const (
	scratchSheet = "_tablemap_scratch"
	scratchCell  = "A1"
)

// Workbook wraps one Excel file and hands out source, sink, and sandbox
// views of it. All views share the underlying file and must be used from
// a single goroutine; the sandbox in particular reuses one scratch cell
// serially.
type Workbook struct {
	file   *excelize.File
	logger *logrus.Logger
}

// Open opens an existing workbook file
func Open(path string) (*Workbook, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %q: %w", path, err)
	}
	return &Workbook{file: file, logger: logrus.StandardLogger()}, nil
}

// New creates an empty in-memory workbook
func New() *Workbook {
	return &Workbook{file: excelize.NewFile(), logger: logrus.StandardLogger()}
}

// SetLogger replaces the workbook's logger
func (w *Workbook) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// Close releases the underlying file
func (w *Workbook) Close() error {
	return w.file.Close()
}

// Save writes the workbook to path, dropping the sandbox scratch sheet
// first
func (w *Workbook) Save(path string) error {
	if idx, err := w.file.GetSheetIndex(scratchSheet); err == nil && idx >= 0 {
		if err := w.file.DeleteSheet(scratchSheet); err != nil {
			return fmt.Errorf("drop scratch sheet: %w", err)
		}
	}
	if err := w.file.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %q: %w", path, err)
	}
	return nil
}

// Source returns a TabularSource reading the named sheet. The first row
// is the header row; data rows are padded to header arity because Excel
// drops trailing empty cells.
func (w *Workbook) Source(sheet string) tablemap.TabularSource {
	return &sheetSource{wb: w, sheet: sheet}
}

// Sink returns an OutputSink writing the named sheet, creating it when
// missing. Values starting with "=" are written as formulas so the saved
// workbook recalculates them.
func (w *Workbook) Sink(sheet string) tablemap.OutputSink {
	return &sheetSink{wb: w, sheet: sheet}
}

// Sandbox returns the workbook's formula sandbox
func (w *Workbook) Sandbox() tablemap.FormulaSandbox {
	return &scratchSandbox{wb: w}
}

// MappingRules reads a two-column mapping sheet into ordered rules. Every
// row is taken as a (header, instruction) pair; title or note rows belong
// behind the comment marker.
func (w *Workbook) MappingRules(sheet string) ([]tablemap.MappingRule, error) {
	rows, err := w.file.GetRows(sheet)
	if err != nil {
		return nil, tablemap.NewConfigError("mapping sheet %q: %v", sheet, err)
	}
	var rules []tablemap.MappingRule
	for _, row := range rows {
		rule := tablemap.MappingRule{}
		if len(row) > 0 {
			rule.Header = row[0]
		}
		if len(row) > 1 {
			rule.Instruction = row[1]
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type sheetSource struct {
	wb    *Workbook
	sheet string
}

func (s *sheetSource) Read() ([]string, [][]string, error) {
	rows, err := s.wb.file.GetRows(s.sheet)
	if err != nil {
		return nil, nil, tablemap.NewConfigError("source sheet %q: %v", s.sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, tablemap.NewConfigError("source sheet %q has no header row", s.sheet)
	}

	headers := rows[0]
	data := rows[1:]
	for i, row := range data {
		for len(row) < len(headers) {
			row = append(row, "")
		}
		data[i] = row
	}

	s.wb.logger.WithFields(logrus.Fields{
		"sheet":   s.sheet,
		"columns": len(headers),
		"rows":    len(data),
	}).Debug("source sheet read")

	return headers, data, nil
}

type sheetSink struct {
	wb    *Workbook
	sheet string
}

func (s *sheetSink) Write(headers []string, rows [][]string) error {
	file := s.wb.file
	if idx, err := file.GetSheetIndex(s.sheet); err != nil {
		return fmt.Errorf("output sheet %q: %w", s.sheet, err)
	} else if idx < 0 {
		if _, err := file.NewSheet(s.sheet); err != nil {
			return fmt.Errorf("create output sheet %q: %w", s.sheet, err)
		}
	}

	if err := s.writeRow(1, headers); err != nil {
		return err
	}
	for i, row := range rows {
		if err := s.writeRow(i+2, row); err != nil {
			return err
		}
	}

	s.wb.logger.WithFields(logrus.Fields{
		"sheet": s.sheet,
		"rows":  len(rows),
	}).Debug("output sheet written")

	return nil
}

func (s *sheetSink) writeRow(rowNum int, values []string) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
		if err != nil {
			return err
		}
		if strings.HasPrefix(value, "=") {
			err = s.wb.file.SetCellFormula(s.sheet, cell, strings.TrimPrefix(value, "="))
		} else {
			err = s.wb.file.SetCellValue(s.sheet, cell, value)
		}
		if err != nil {
			return fmt.Errorf("write cell %s!%s: %w", s.sheet, cell, err)
		}
	}
	return nil
}

// scratchSandbox evaluates formulas in a single shared scratch cell:
// write formula, calculate, read the result back, clear the cell. Calls
// must be serial; two in-flight evaluations would corrupt each other's
// result.
type scratchSandbox struct {
	wb *Workbook
}

func (s *scratchSandbox) Evaluate(formula string) (string, error) {
	file := s.wb.file

	idx, err := file.GetSheetIndex(scratchSheet)
	if err != nil {
		return "", err
	}
	if idx < 0 {
		if _, err := file.NewSheet(scratchSheet); err != nil {
			return "", fmt.Errorf("create scratch sheet: %w", err)
		}
	}

	if err := file.SetCellFormula(scratchSheet, scratchCell, strings.TrimPrefix(formula, "=")); err != nil {
		return "", fmt.Errorf("set scratch formula %q: %w", formula, err)
	}

	value, calcErr := file.CalcCellValue(scratchSheet, scratchCell)

	// clear the slot so no residual state leaks into the next call
	if err := file.SetCellValue(scratchSheet, scratchCell, nil); err != nil {
		return "", fmt.Errorf("clear scratch cell: %w", err)
	}
	if calcErr != nil {
		return "", fmt.Errorf("evaluate %q: %w", formula, calcErr)
	}
	return value, nil
}
