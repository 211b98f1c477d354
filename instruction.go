package tablemap

import "fmt"

// rule mini-language markers. these are the user-facing, stable surface of
// the mapping table.
const (
	markerFilter   = "_filter:"
	markerEval     = "eval:"
	markerConstant = "constant:"
	markerFormula  = "formula:"
	markerComment  = "//"
)

// Operator represents a comparison operator symbol in filter conditions
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="

	// OpFormula marks the degenerate condition whose verdict comes from
	// evaluating a spreadsheet formula instead of comparing two operands.
	OpFormula Operator = "FORMULA"
)

// Instruction is one parsed mapping-table rule. Exactly one of the
// concrete types below is produced per rule:
//
//   - Direct: output equals the row's value in a named source column
//   - Constant: output is a fixed literal
//   - FormulaRule: output is a spreadsheet formula template
//   - Expression: mixed literal/reference text resolved token by token
//   - FilterRule: row filter, never part of the output column set
//
// Instructions are parsed once per run and are read-only during
// evaluation.
type Instruction interface {
	// RuleHeader returns the mapping-table header the rule was defined
	// under, used for output column names and error messages.
	RuleHeader() string

	instruction()
}

// Direct maps an output column straight to a source column by name. The
// column is resolved against the source row at evaluation time; a missing
// column yields the empty string.
type Direct struct {
	Header string
	Column string
}

// Constant is a fixed literal output value
type Constant struct {
	Header string
	Value  string
}

// FormulaRule is a spreadsheet formula template with src/self references
// still unresolved. The template always starts with "=".
type FormulaRule struct {
	Header   string
	Template string
}

// Expression is mixed literal/reference text requiring token-by-token
// substitution. IsFormulaLike is set when the token sequence contains any
// source or self reference, signalling that substituted values may need
// formula-safe formatting downstream.
type Expression struct {
	Header        string
	Tokens        []Token
	Raw           string
	IsFormulaLike bool
}

// FilterRule decides whether a data row survives. Filters whose
// instruction lacks the eval marker are documentation rows and always
// pass. A filter is either a whole-formula check (IsFormula, Template) or
// a list of OR-connected conditions.
type FilterRule struct {
	Header     string
	IsEval     bool
	IsFormula  bool
	Template   string
	Conditions []Condition
}

func (d *Direct) RuleHeader() string      { return d.Header }
func (c *Constant) RuleHeader() string    { return c.Header }
func (f *FormulaRule) RuleHeader() string { return f.Header }
func (e *Expression) RuleHeader() string  { return e.Header }
func (f *FilterRule) RuleHeader() string  { return f.Header }

func (*Direct) instruction()      {}
func (*Constant) instruction()    {}
func (*FormulaRule) instruction() {}
func (*Expression) instruction()  {}
func (*FilterRule) instruction()  {}

// Condition is one OR segment of a filter rule: left op right, or the
// degenerate formula check when Op is OpFormula.
type Condition struct {
	Left    Operand
	Op      Operator
	Right   Operand
	Formula string
}

// Operand is one side of a filter condition
type Operand interface {
	operand()
}

// SourceRef resolves to the current data row's value in a source column
type SourceRef struct {
	Column string
}

// SelfRef resolves to an output value computed earlier in the same row
type SelfRef struct {
	Column string
}

// StringLit is a double-quoted string literal
type StringLit struct {
	Value string
}

// NumberLit is a numeric literal, normalized to a float at parse time
// (comma decimal separators are converted to dots once, here, not on
// every evaluation).
type NumberLit struct {
	Value float64
}

// FormulaLit is a spreadsheet formula used inside a condition; its value
// comes from the formula sandbox.
type FormulaLit struct {
	Formula string
}

// TextLit is the raw fallback for text that matched no other pattern
type TextLit struct {
	Value string
}

// CompoundExpr is a multi-token operand resolved like a template: every
// reference token is substituted, everything else passes through.
type CompoundExpr struct {
	Tokens []Token
	Raw    string
}

func (*SourceRef) operand()    {}
func (*SelfRef) operand()      {}
func (*StringLit) operand()    {}
func (*NumberLit) operand()    {}
func (*FormulaLit) operand()   {}
func (*TextLit) operand()      {}
func (*CompoundExpr) operand() {}

// EvaluationContext carries the per-row state the evaluator resolves
// references against. One context is built per data row and discarded
// afterwards; contexts are never shared between rows.
type EvaluationContext struct {
	// SourceRow maps source column names to the row's display values.
	SourceRow map[string]string

	// OutputSoFar maps output headers to values already computed for the
	// row being built. A self reference to a column not yet computed
	// resolves to the empty string.
	OutputSoFar map[string]string

	// OutputCellRefs optionally maps output headers to spreadsheet cell
	// addresses. When set, a self reference inside formula text resolves
	// to the cell address instead of the computed value, keeping the
	// generated formula live in the sheet.
	OutputCellRefs map[string]string

	// CurrentHeader is the rule being evaluated, for error messages.
	CurrentHeader string

	// FormulaMode indicates the current resolution happens inside formula
	// text, so substituted values must be formatted as formula-safe
	// literals rather than raw text.
	FormulaMode bool
}

// NewEvaluationContext builds a context for one data row. Header and cell
// counts may differ; extra cells are ignored and missing cells read as
// empty.
func NewEvaluationContext(headers []string, row []string) *EvaluationContext {
	source := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(row) {
			source[h] = row[i]
		} else {
			source[h] = ""
		}
	}
	return &EvaluationContext{
		SourceRow:      source,
		OutputSoFar:    make(map[string]string),
		OutputCellRefs: make(map[string]string),
	}
}

// withFormulaMode returns a shallow copy of the context flagged as
// resolving inside formula text
func (ctx *EvaluationContext) withFormulaMode() *EvaluationContext {
	if ctx.FormulaMode {
		return ctx
	}
	copied := *ctx
	copied.FormulaMode = true
	return &copied
}

// ErrorKind classifies fatal rule-processing errors
type ErrorKind uint8

const (
	// ErrorKindConfig covers missing or invalid run configuration, fatal
	// before any row processing begins.
	ErrorKindConfig ErrorKind = 1

	// ErrorKindSyntax covers malformed mapping rules: unbalanced
	// brackets, unknown src[] columns, bad formula prefixes, conditions
	// with no operator. Fatal at parse time; a single bad rule
	// invalidates the whole mapping.
	ErrorKindSyntax ErrorKind = 2
)

// errorKindNames maps error kinds to their display names
var errorKindNames = map[ErrorKind]string{
	ErrorKindConfig: "configuration error",
	ErrorKindSyntax: "syntax error",
}

// RuleError is a fatal error with the offending rule's header attached so
// the end user can find the bad mapping row.
type RuleError struct {
	Kind    ErrorKind
	Header  string
	Message string
}

func (e *RuleError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("%s in rule %q: %s", errorKindNames[e.Kind], e.Header, e.Message)
	}
	return fmt.Sprintf("%s: %s", errorKindNames[e.Kind], e.Message)
}

// NewSyntaxError creates a parse-time error attached to a rule header
func NewSyntaxError(header, format string, args ...any) *RuleError {
	return &RuleError{
		Kind:    ErrorKindSyntax,
		Header:  header,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewConfigError creates a configuration error
func NewConfigError(format string, args ...any) *RuleError {
	return &RuleError{
		Kind:    ErrorKindConfig,
		Message: fmt.Sprintf(format, args...),
	}
}
