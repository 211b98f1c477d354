package tablemap

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// TabularSource provides the input table: an ordered header row of unique
// column names and ordered data rows of display-formatted cell strings.
type TabularSource interface {
	Read() (headers []string, rows [][]string, err error)
}

// OutputSink accepts the transformed table. Implementations write the
// synthesized header row first, then the resolved data rows in order.
type OutputSink interface {
	Write(headers []string, rows [][]string) error
}

// MappingRule is one row of the mapping table: an output header paired
// with an instruction string.
type MappingRule struct {
	Header      string
	Instruction string
}

// RunStats summarizes one pipeline run
type RunStats struct {
	OutputColumns int
	FilterRules   int
	RowsRead      int
	RowsKept      int
	RowsFiltered  int
}

// Pipeline transforms a source table into an output table by applying a
// parsed mapping, one row at a time. Runs are single-threaded: sandbox
// evaluations share one scratch cell and must never overlap, and output
// columns within a row are computed strictly in mapping order so that
// self references observe earlier columns.
type Pipeline struct {
	sandbox FormulaSandbox
	logger  *logrus.Logger
}

// NewPipeline creates a pipeline using the given formula sandbox
func NewPipeline(sandbox FormulaSandbox) *Pipeline {
	return &Pipeline{
		sandbox: sandbox,
		logger:  logrus.StandardLogger(),
	}
}

// SetLogger replaces the pipeline's logger
func (p *Pipeline) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// ParseMappingTable parses every mapping row against the source headers.
// Rows with an empty or comment-marked header are skipped before the
// lexer sees them. All rule errors are collected and reported together;
// any error means the whole mapping is invalid and no data row may be
// processed.
func ParseMappingTable(mapping []MappingRule, sourceHeaders []string) ([]Instruction, error) {
	parser := NewParser(sourceHeaders)

	var errs *multierror.Error
	var instructions []Instruction
	for _, rule := range mapping {
		header := strings.TrimSpace(rule.Header)
		if header == "" || strings.HasPrefix(header, markerComment) {
			continue
		}
		inst, err := parser.ParseInstruction(header, rule.Instruction)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		instructions = append(instructions, inst)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return instructions, nil
}

// Run parses the mapping once, transforms every source row, applies the
// filter rules, and writes the surviving rows to the sink. Source row
// order is preserved exactly. No partial output is written when parsing
// fails.
func (p *Pipeline) Run(source TabularSource, mapping []MappingRule, sink OutputSink) (*RunStats, error) {
	headers, rows, err := source.Read()
	if err != nil {
		return nil, err
	}

	instructions, err := ParseMappingTable(mapping, headers)
	if err != nil {
		return nil, err
	}

	stats := &RunStats{RowsRead: len(rows)}

	var outputHeaders []string
	for _, inst := range instructions {
		if _, ok := inst.(*FilterRule); ok {
			stats.FilterRules++
			continue
		}
		outputHeaders = append(outputHeaders, inst.RuleHeader())
	}
	stats.OutputColumns = len(outputHeaders)

	p.logger.WithFields(logrus.Fields{
		"columns": stats.OutputColumns,
		"filters": stats.FilterRules,
		"rows":    stats.RowsRead,
	}).Debug("mapping parsed")

	var output [][]string
	for _, row := range rows {
		outRow, keep, err := p.processRow(headers, row, instructions)
		if err != nil {
			return nil, err
		}
		if keep {
			output = append(output, outRow)
			stats.RowsKept++
		} else {
			stats.RowsFiltered++
		}
	}

	if err := sink.Write(outputHeaders, output); err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"read":     stats.RowsRead,
		"kept":     stats.RowsKept,
		"filtered": stats.RowsFiltered,
	}).Info("run complete")

	return stats, nil
}

// processRow builds one output row and decides whether it survives the
// filters. Output columns are computed first, in mapping order, so that
// filters may self-reference any output column.
func (p *Pipeline) processRow(headers []string, row []string, instructions []Instruction) ([]string, bool, error) {
	ctx := NewEvaluationContext(headers, row)

	var outRow []string
	for _, inst := range instructions {
		if _, ok := inst.(*FilterRule); ok {
			continue
		}
		ctx.CurrentHeader = inst.RuleHeader()
		output, observed, err := EvaluateColumn(inst, ctx, p.sandbox)
		if err != nil {
			return nil, false, err
		}
		ctx.OutputSoFar[inst.RuleHeader()] = observed
		outRow = append(outRow, output)
	}

	for _, inst := range instructions {
		filter, ok := inst.(*FilterRule)
		if !ok {
			continue
		}
		ctx.CurrentHeader = filter.Header
		pass, err := EvaluateFilter(filter, ctx, p.sandbox)
		if err != nil {
			return nil, false, err
		}
		if !pass {
			return nil, false, nil
		}
	}

	return outRow, true, nil
}
