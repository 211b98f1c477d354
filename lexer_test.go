package tablemap

import (
	"strings"
	"testing"
)

func kindName(k TokenKind) string {
	switch k {
	case TokenSourceRef:
		return "SourceRef"
	case TokenSelfRef:
		return "SelfRef"
	case TokenString:
		return "String"
	case TokenNumber:
		return "Number"
	case TokenOperator:
		return "Operator"
	case TokenOr:
		return "Or"
	case TokenFormula:
		return "Formula"
	case TokenText:
		return "Text"
	}
	return "Unknown"
}

type expectedToken struct {
	kind  TokenKind
	value string
}

func TestTokenizeKinds(t *testing.T) {
	cases := []struct {
		input    string
		expected []expectedToken
	}{
		{
			input: "src[Name]",
			expected: []expectedToken{
				{TokenSourceRef, "Name"},
			},
		},
		{
			input: "self[Total]",
			expected: []expectedToken{
				{TokenSelfRef, "Total"},
			},
		},
		{
			input: "src[Age] >= 18 || src[Age] < 0",
			expected: []expectedToken{
				{TokenSourceRef, "Age"},
				{TokenOperator, ">="},
				{TokenNumber, "18"},
				{TokenOr, "||"},
				{TokenSourceRef, "Age"},
				{TokenOperator, "<"},
				{TokenNumber, "0"},
			},
		},
		{
			input: `src[City] == "Cali"`,
			expected: []expectedToken{
				{TokenSourceRef, "City"},
				{TokenOperator, "=="},
				{TokenString, "Cali"},
			},
		},
		{
			input: "=SUM(A1:A2)",
			expected: []expectedToken{
				{TokenFormula, "=SUM(A1:A2)"},
			},
		},
		{
			input: "src[Score] > 4,5",
			expected: []expectedToken{
				{TokenSourceRef, "Score"},
				{TokenOperator, ">"},
				{TokenNumber, "4,5"},
			},
		},
		{
			input: "Hello src[Name]",
			expected: []expectedToken{
				{TokenText, "Hello"},
				{TokenSourceRef, "Name"},
			},
		},
		{
			input: "plain column name",
			expected: []expectedToken{
				{TokenText, "plain column name"},
			},
		},
		{
			input: "=ISNUMBER(src[Qty])",
			expected: []expectedToken{
				{TokenFormula, "=ISNUMBER(src[Qty])"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			tokens := NewLexer(tc.input).Tokenize()
			if len(tokens) != len(tc.expected) {
				t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(tc.expected), tokens)
			}
			for i, want := range tc.expected {
				if tokens[i].Kind != want.kind {
					t.Errorf("token %d: kind %s, want %s", i, kindName(tokens[i].Kind), kindName(want.kind))
				}
				if tokens[i].Value != want.value {
					t.Errorf("token %d: value %q, want %q", i, tokens[i].Value, want.value)
				}
			}
		})
	}
}

// operator matching must come before formula matching so that "==" is
// never consumed as the start of a formula
func TestTokenizeOperatorFormulaPrecedence(t *testing.T) {
	tokens := NewLexer(`== "x"`).Tokenize()
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(tokens))
	}
	if tokens[0].Kind != TokenOperator || tokens[0].Value != "==" {
		t.Errorf("got %s %q, want Operator ==", kindName(tokens[0].Kind), tokens[0].Value)
	}
}

// a bare "=" or "= " is not a formula and falls through to text
func TestTokenizeBareEquals(t *testing.T) {
	tokens := NewLexer("= something").Tokenize()
	if len(tokens) != 1 || tokens[0].Kind != TokenText {
		t.Fatalf("expected one Text token, got %+v", tokens)
	}
	if tokens[0].Value != "= something" {
		t.Errorf("got value %q", tokens[0].Value)
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	inputs := []string{
		"src[Age] >= 18 || src[Age] < 0",
		"Hello src[Name], welcome",
		`  constant-ish text with "quotes" and 12,5  `,
		"=CONCAT(src[A],src[B])",
		"a == b || c",
		"self[Total] != src[Total]",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			tokens := NewLexer(input).Tokenize()
			var b strings.Builder
			for _, tok := range tokens {
				b.WriteString(tok.Raw)
			}
			want := strings.TrimRight(input, " \t\n\r")
			if b.String() != want {
				t.Errorf("raw round-trip %q, want %q", b.String(), want)
			}
		})
	}
}

// lexing is total: inputs that match nothing become single Text tokens
// and lexing always terminates
func TestTokenizeNeverFails(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"src[Unclosed",
		`"unclosed string`,
		"| single pipe",
		"!",
		"]]][[[",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			tokens := NewLexer(input).Tokenize()
			for _, tok := range tokens {
				if tok.Raw == "" {
					t.Errorf("empty raw in token %+v", tok)
				}
			}
		})
	}
}

func TestTokenizeNumberSeparators(t *testing.T) {
	cases := []struct {
		input string
		value string
	}{
		{"12", "12"},
		{"4.5", "4.5"},
		{"4,5", "4,5"},
		{"1.2.3", "1.2"}, // second separator ends the number
	}

	for _, tc := range cases {
		tokens := NewLexer(tc.input).Tokenize()
		if len(tokens) == 0 || tokens[0].Kind != TokenNumber {
			t.Errorf("%q: expected leading Number token, got %+v", tc.input, tokens)
			continue
		}
		if tokens[0].Value != tc.value {
			t.Errorf("%q: value %q, want %q", tc.input, tokens[0].Value, tc.value)
		}
	}
}
