package tablemap

import (
	"fmt"
	"strconv"
	"strings"
)

// FormulaSandbox computes the value of a spreadsheet formula string
// without touching user-visible data. Implementations must provide a
// fresh evaluation slot per call and round-trip synchronously; the
// evaluator never overlaps two calls because the backing scratch cell is
// shared and reused serially.
type FormulaSandbox interface {
	Evaluate(formula string) (string, error)
}

// the two-character empty-string literal substituted for missing values
// in formula text
const emptyFormulaLiteral = `""`

// EvaluateFilter evaluates a filter rule against one row. Non-eval
// filters pass vacuously. OR conditions short-circuit on the first true
// segment.
func EvaluateFilter(rule *FilterRule, ctx *EvaluationContext, sandbox FormulaSandbox) (bool, error) {
	if !rule.IsEval {
		return true, nil
	}

	if rule.IsFormula {
		return evaluateFormulaCheck(rule.Template, ctx, sandbox)
	}

	for _, cond := range rule.Conditions {
		ok, err := evaluateCondition(cond, ctx, sandbox)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// evaluateCondition evaluates one OR segment
func evaluateCondition(cond Condition, ctx *EvaluationContext, sandbox FormulaSandbox) (bool, error) {
	if cond.Op == OpFormula {
		return evaluateFormulaCheck(cond.Formula, ctx, sandbox)
	}

	left, err := ResolveOperand(cond.Left, ctx, sandbox)
	if err != nil {
		return false, err
	}
	right, err := ResolveOperand(cond.Right, ctx, sandbox)
	if err != nil {
		return false, err
	}

	switch cond.Op {
	case OpEqual:
		// loose comparison on the resolved values as given, no numeric
		// coercion. documented behavior, not an oversight.
		return left == right, nil
	case OpNotEqual:
		return left != right, nil
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		leftNum, leftOk := parseLeadingFloat(left)
		rightNum, rightOk := parseLeadingFloat(right)
		if !leftOk || !rightOk {
			// NaN comparisons are never true
			return false, nil
		}
		switch cond.Op {
		case OpGreater:
			return leftNum > rightNum, nil
		case OpLess:
			return leftNum < rightNum, nil
		case OpGreaterEqual:
			return leftNum >= rightNum, nil
		default:
			return leftNum <= rightNum, nil
		}
	default:
		return false, NewSyntaxError(ctx.CurrentHeader, "unknown operator %q", cond.Op)
	}
}

// evaluateFormulaCheck resolves references inside a formula, submits it
// to the sandbox, and interprets a TRUE result as pass
func evaluateFormulaCheck(template string, ctx *EvaluationContext, sandbox FormulaSandbox) (bool, error) {
	text := resolveRefsInText(template, ctx.withFormulaMode())
	result, err := sandbox.Evaluate(text)
	if err != nil {
		return false, err
	}
	return isTrue(result), nil
}

// ResolveOperand resolves a condition operand to its value. Missing
// source columns and not-yet-computed self references degrade to the
// empty string rather than failing: malformed data never aborts a run,
// only malformed rules do.
func ResolveOperand(op Operand, ctx *EvaluationContext, sandbox FormulaSandbox) (string, error) {
	switch v := op.(type) {
	case *SourceRef:
		return resolveRef(TokenSourceRef, v.Column, ctx), nil
	case *SelfRef:
		return resolveRef(TokenSelfRef, v.Column, ctx), nil
	case *StringLit:
		return v.Value, nil
	case *NumberLit:
		return formatFloat(v.Value), nil
	case *FormulaLit:
		text := resolveRefsInText(v.Formula, ctx.withFormulaMode())
		return sandbox.Evaluate(text)
	case *TextLit:
		return v.Value, nil
	case *CompoundExpr:
		return ResolveTemplate(v.Tokens, ctx), nil
	default:
		return "", NewSyntaxError(ctx.CurrentHeader, "unhandled operand type %T", op)
	}
}

// ResolveTemplate substitutes every reference token in a token sequence
// and passes everything else through verbatim. Operating on tokens
// instead of repeated whole-string replacement means a column name that
// is a substring of another column name can never be mis-substituted.
func ResolveTemplate(tokens []Token, ctx *EvaluationContext) string {
	var b strings.Builder
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenSourceRef, TokenSelfRef:
			b.WriteString(leadingWhitespace(tok.Raw))
			b.WriteString(resolveRef(tok.Kind, tok.Value, ctx))
		case TokenFormula:
			// formula bodies are opaque to the lexer; references inside
			// them are substituted textually, in formula mode
			b.WriteString(leadingWhitespace(tok.Raw))
			b.WriteString(resolveRefsInText(tok.Value, ctx.withFormulaMode()))
		default:
			b.WriteString(tok.Raw)
		}
	}
	return b.String()
}

// EvaluateColumn resolves a non-filter instruction to the row's output
// value. It returns both the value written to the output row and the
// value later self references and filter conditions observe; the two
// differ for formula-producing columns, where the output row gets the
// generated formula text while self references see the sandbox-computed
// result.
func EvaluateColumn(inst Instruction, ctx *EvaluationContext, sandbox FormulaSandbox) (output string, observed string, err error) {
	switch v := inst.(type) {
	case *Direct:
		value := ctx.SourceRow[v.Column]
		return value, value, nil

	case *Constant:
		return v.Value, v.Value, nil

	case *FormulaRule:
		text := resolveRefsInText(v.Template, ctx.withFormulaMode())
		computed, err := sandbox.Evaluate(text)
		if err != nil {
			return "", "", fmt.Errorf("rule %q: formula evaluation failed: %w", v.Header, err)
		}
		return text, computed, nil

	case *Expression:
		formulaShaped := len(v.Tokens) > 0 && v.Tokens[0].Kind == TokenFormula
		ectx := ctx
		if v.IsFormulaLike && formulaShaped {
			ectx = ctx.withFormulaMode()
		}
		text := ResolveTemplate(v.Tokens, ectx)
		if formulaShaped {
			computed, err := sandbox.Evaluate(text)
			if err != nil {
				return "", "", fmt.Errorf("rule %q: formula evaluation failed: %w", v.Header, err)
			}
			return text, computed, nil
		}
		return text, text, nil

	case *FilterRule:
		return "", "", fmt.Errorf("rule %q: filter rules produce no output column", v.Header)

	default:
		return "", "", fmt.Errorf("unhandled instruction type %T", inst)
	}
}

// resolveRef resolves one source or self reference against the context.
// In formula mode the resolved value is formatted as a formula-safe
// literal; a self reference with a registered output cell address
// resolves to the address itself so the generated formula stays live.
func resolveRef(kind TokenKind, column string, ctx *EvaluationContext) string {
	var value string
	switch kind {
	case TokenSourceRef:
		value = ctx.SourceRow[column]
	case TokenSelfRef:
		if ctx.FormulaMode {
			if addr, ok := ctx.OutputCellRefs[column]; ok && addr != "" {
				return addr
			}
		}
		value = ctx.OutputSoFar[column]
	}
	if ctx.FormulaMode {
		return formatFormulaValue(value)
	}
	return value
}

// resolveRefsInText substitutes src[...] and self[...] occurrences in
// untokenized formula text. The bracket delimiters make this scan exact;
// there is no bare-name replacement that could hit a column whose name is
// a substring of another.
func resolveRefsInText(text string, ctx *EvaluationContext) string {
	var b strings.Builder
	rest := text
	for len(rest) > 0 {
		srcIdx := strings.Index(rest, prefixSourceRef)
		selfIdx := strings.Index(rest, prefixSelfRef)

		idx, prefix, kind := srcIdx, prefixSourceRef, TokenSourceRef
		if srcIdx < 0 || (selfIdx >= 0 && selfIdx < srcIdx) {
			idx, prefix, kind = selfIdx, prefixSelfRef, TokenSelfRef
		}
		if idx < 0 {
			b.WriteString(rest)
			break
		}

		end := strings.IndexRune(rest[idx+len(prefix):], charRBrack)
		if end < 0 {
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:idx])
		name := rest[idx+len(prefix) : idx+len(prefix)+end]
		b.WriteString(resolveRef(kind, name, ctx))
		rest = rest[idx+len(prefix)+end+1:]
	}
	return b.String()
}

// formatFormulaValue formats a resolved value for substitution into
// formula text. Formula text is syntax, not data: unquoted text would
// break the generated formula or silently become a cell reference.
//
// Rules: empty values become the empty-string literal; DD/MM/YYYY and
// DD-MM-YYYY dates become a DATE(year,month,day) construction; otherwise
// comma decimals are normalized to dots and the value is left unquoted if
// it is numeric after stripping a trailing "%" for the test (the emitted
// text keeps the "%"), else wrapped in double quotes.
func formatFormulaValue(value string) string {
	if value == "" {
		return emptyFormulaLiteral
	}

	if day, month, year, ok := splitDMYDate(value); ok {
		return fmt.Sprintf("DATE(%s,%s,%s)", year, month, day)
	}

	normalized := strings.ReplaceAll(value, ",", ".")
	test := strings.TrimSuffix(normalized, "%")
	if _, err := strconv.ParseFloat(test, 64); err == nil {
		return normalized
	}

	escaped := strings.ReplaceAll(value, `"`, `""`)
	return `"` + escaped + `"`
}

// splitDMYDate recognizes DD/MM/YYYY and DD-MM-YYYY with a consistent
// separator and returns the three components
func splitDMYDate(s string) (day, month, year string, ok bool) {
	if len(s) != 10 {
		return "", "", "", false
	}
	sep := s[2]
	if (sep != '/' && sep != '-') || s[5] != sep {
		return "", "", "", false
	}
	day, month, year = s[0:2], s[3:5], s[6:10]
	for _, part := range []string{day, month, year} {
		for _, ch := range part {
			if !isDigit(ch) {
				return "", "", "", false
			}
		}
	}
	return day, month, year, true
}

// isTrue interprets a sandbox result as a boolean verdict
func isTrue(value string) bool {
	return strings.EqualFold(value, "true")
}

// parseLeadingFloat mimics a parseFloat that reads the longest numeric
// prefix and gives up only when there is none. Comma decimal separators
// are normalized first so locale-formatted data compares correctly.
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")

	end := 0
	seenDigit := false
	seenDot := false
	for i, ch := range s {
		if i == 0 && (ch == '+' || ch == '-') {
			end = i + 1
			continue
		}
		if isDigit(ch) {
			seenDigit = true
			end = i + 1
			continue
		}
		if ch == '.' && !seenDot {
			seenDot = true
			end = i + 1
			continue
		}
		break
	}
	if !seenDigit {
		return 0, false
	}

	num, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return 0, false
	}
	return num, true
}

// formatFloat renders a float without unnecessary decimals
func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'g', -1, 64)
}

// leadingWhitespace returns the whitespace prefix of a token's raw text
func leadingWhitespace(raw string) string {
	for i, ch := range raw {
		switch ch {
		case charSpace, charTab, charNewline, charReturn:
			continue
		default:
			return raw[:i]
		}
	}
	return raw
}
