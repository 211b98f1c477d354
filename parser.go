package tablemap

import (
	"strconv"
	"strings"
)

// Parser turns mapping-table rows into typed Instructions, validating
// structure as it goes. One parser is built per run from the source
// header row; the instructions it produces are immutable and shared
// across all data rows.
type Parser struct {
	headers map[string]struct{}
}

// NewParser creates a parser that validates src[] references against the
// given source headers
func NewParser(sourceHeaders []string) *Parser {
	headers := make(map[string]struct{}, len(sourceHeaders))
	for _, h := range sourceHeaders {
		headers[h] = struct{}{}
	}
	return &Parser{headers: headers}
}

// ParseInstruction classifies one (header, instruction) mapping row and
// returns its typed Instruction. Classification order: filter-marked
// headers, then the constant and formula markers, then tokenization. A
// tokenized instruction that reduces to exactly one Text token is a
// Direct column reference; anything else is a generic Expression.
func (p *Parser) ParseInstruction(header, instruction string) (Instruction, error) {
	instruction = strings.TrimSpace(instruction)

	if !balancedBrackets(instruction) {
		return nil, NewSyntaxError(header, "unbalanced column reference brackets in %q", instruction)
	}

	if strings.HasPrefix(header, markerFilter) {
		return p.parseFilter(header, instruction)
	}

	if rest, ok := strings.CutPrefix(instruction, markerConstant); ok {
		return &Constant{Header: header, Value: strings.TrimSpace(rest)}, nil
	}

	if rest, ok := strings.CutPrefix(instruction, markerFormula); ok {
		template := strings.TrimSpace(rest)
		if !strings.HasPrefix(template, "=") {
			return nil, NewSyntaxError(header, "formula must start with '=', got %q", template)
		}
		if err := p.validateSourceRefs(header, template); err != nil {
			return nil, err
		}
		return &FormulaRule{Header: header, Template: template}, nil
	}

	tokens := NewLexer(instruction).Tokenize()
	if len(tokens) == 1 && tokens[0].Kind == TokenText {
		return &Direct{Header: header, Column: tokens[0].Value}, nil
	}

	if err := p.validateSourceRefs(header, instruction); err != nil {
		return nil, err
	}
	return &Expression{
		Header:        header,
		Tokens:        tokens,
		Raw:           instruction,
		IsFormulaLike: containsReference(tokens),
	}, nil
}

// parseFilter parses a _filter: rule. The eval marker is stripped first;
// filters without it are documentation rows and are not parsed further,
// so prose in a non-eval filter never fails a run.
func (p *Parser) parseFilter(header, instruction string) (Instruction, error) {
	rule := &FilterRule{Header: header}

	body := instruction
	if rest, ok := strings.CutPrefix(body, markerEval); ok {
		rule.IsEval = true
		body = strings.TrimSpace(rest)
	}
	if !rule.IsEval {
		return rule, nil
	}

	if rest, ok := strings.CutPrefix(body, markerFormula); ok {
		template := strings.TrimSpace(rest)
		if !strings.HasPrefix(template, "=") {
			return nil, NewSyntaxError(header, "filter formula must start with '=', got %q", template)
		}
		if err := p.validateSourceRefs(header, template); err != nil {
			return nil, err
		}
		rule.IsFormula = true
		rule.Template = template
		return rule, nil
	}

	if err := p.validateSourceRefs(header, body); err != nil {
		return nil, err
	}

	tokens := NewLexer(body).Tokenize()
	for _, segment := range splitOnOr(tokens) {
		cond, err := p.parseCondition(header, segment)
		if err != nil {
			return nil, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}
	if len(rule.Conditions) == 0 {
		return nil, NewSyntaxError(header, "filter has no conditions")
	}
	return rule, nil
}

// parseCondition reduces one OR segment to a Condition. The first
// Operator token splits the segment into left and right operand spans. A
// segment without an operator but with a formula token becomes the
// degenerate formula condition; a segment with neither is a parse error.
func (p *Parser) parseCondition(header string, segment []Token) (Condition, error) {
	opIndex := -1
	for i, tok := range segment {
		if tok.Kind == TokenOperator {
			opIndex = i
			break
		}
	}

	if opIndex < 0 {
		for _, tok := range segment {
			if tok.Kind == TokenFormula {
				return Condition{Op: OpFormula, Formula: tok.Value}, nil
			}
		}
		return Condition{}, NewSyntaxError(header, "filter condition %q has no comparison operator and no formula", joinRaws(segment))
	}

	left, err := p.reduceOperand(header, segment[:opIndex])
	if err != nil {
		return Condition{}, err
	}
	right, err := p.reduceOperand(header, segment[opIndex+1:])
	if err != nil {
		return Condition{}, err
	}

	return Condition{Left: left, Op: Operator(segment[opIndex].Value), Right: right}, nil
}

// reduceOperand collapses a token span to a single Operand. A single
// token maps directly to its typed operand; multiple tokens become a
// CompoundExpr resolved later by template substitution.
func (p *Parser) reduceOperand(header string, span []Token) (Operand, error) {
	switch len(span) {
	case 0:
		return nil, NewSyntaxError(header, "comparison is missing an operand")
	case 1:
		tok := span[0]
		switch tok.Kind {
		case TokenSourceRef:
			return &SourceRef{Column: tok.Value}, nil
		case TokenSelfRef:
			return &SelfRef{Column: tok.Value}, nil
		case TokenString:
			return &StringLit{Value: tok.Value}, nil
		case TokenNumber:
			value, err := parseNumberLiteral(tok.Value)
			if err != nil {
				return nil, NewSyntaxError(header, "invalid number literal %q", tok.Value)
			}
			return &NumberLit{Value: value}, nil
		case TokenFormula:
			return &FormulaLit{Formula: tok.Value}, nil
		default:
			return &TextLit{Value: tok.Value}, nil
		}
	default:
		return &CompoundExpr{Tokens: span, Raw: joinRaws(span)}, nil
	}
}

// validateSourceRefs checks that every src[Name] occurrence in text names
// an existing source column. Unknown columns are a parse-time error, not
// a run-time one; self references are not checked because the columns
// they name are only known in mapping order at evaluation time.
func (p *Parser) validateSourceRefs(header, text string) error {
	rest := text
	for {
		idx := strings.Index(rest, prefixSourceRef)
		if idx < 0 {
			return nil
		}
		rest = rest[idx+len(prefixSourceRef):]
		end := strings.IndexRune(rest, charRBrack)
		if end < 0 {
			return nil // unbalanced brackets are rejected before this runs
		}
		name := rest[:end]
		if _, ok := p.headers[name]; !ok {
			return NewSyntaxError(header, "source column %q not found", name)
		}
		rest = rest[end+1:]
	}
}

// balancedBrackets checks the column-reference delimiters with a
// streaming counter: it must never go negative and must end at zero.
func balancedBrackets(s string) bool {
	depth := 0
	for _, ch := range s {
		switch ch {
		case charLBrack:
			depth++
		case charRBrack:
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// splitOnOr splits a token sequence on Or tokens. Splitting the token
// stream rather than the raw string keeps OR delimiters inside string
// literals from fragmenting a condition.
func splitOnOr(tokens []Token) [][]Token {
	var segments [][]Token
	start := 0
	for i, tok := range tokens {
		if tok.Kind == TokenOr {
			segments = append(segments, tokens[start:i])
			start = i + 1
		}
	}
	segments = append(segments, tokens[start:])
	return segments
}

// joinRaws reconstructs the raw text a token span was lexed from
func joinRaws(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.Raw)
	}
	return strings.TrimSpace(b.String())
}

// containsReference reports whether any token is a source or self
// reference
func containsReference(tokens []Token) bool {
	for _, tok := range tokens {
		if tok.Kind == TokenSourceRef || tok.Kind == TokenSelfRef {
			return true
		}
	}
	return false
}

// parseNumberLiteral converts a Number token to a float, normalizing a
// comma decimal separator to a dot first. This happens once at parse
// time; values read from data rows stay text until an operator needs
// them.
func parseNumberLiteral(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
