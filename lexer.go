package tablemap

import "strings"

// TokenKind represents different types of tokens in rule instructions
type TokenKind int

const (
	TokenSourceRef TokenKind = iota // src[Column]
	TokenSelfRef                    // self[Column]
	TokenString                     // "literal"
	TokenNumber                     // 12, 4.5, 4,5
	TokenOperator                   // == != >= <= > <
	TokenOr                         // ||
	TokenFormula                    // =SUM(A1:A2)
	TokenText                       // anything the other patterns don't claim
)

// character classification constants. slightly easier to read.
const (
	charTab     = '\t'
	charNewline = '\n'
	charReturn  = '\r'
	charSpace   = ' '
	charQuote   = '"'
	charEqual   = '='
	charExclaim = '!'
	charLess    = '<'
	charGreater = '>'
	charPipe    = '|'
	charLBrack  = '['
	charRBrack  = ']'
	charPeriod  = '.'
	charComma   = ','
)

// reference prefixes recognized by the lexer
const (
	prefixSourceRef = "src["
	prefixSelfRef   = "self["
)

// comparison operators in match order. two-character operators come first
// so that ">=" is never split into ">" and "=".
var operatorSymbols = []string{"==", "!=", ">=", "<=", ">", "<"}

// Token is one lexical unit of an instruction string. Value holds the
// decoded payload (column name, operator symbol, formula body, literal
// text); Raw holds the exact substring consumed, including any whitespace
// skipped in front of the token, so that concatenating raws in order
// reconstructs the input up to trailing whitespace.
//
// Tokens are immutable: they are created by the Lexer and never mutated
// afterwards.
type Token struct {
	Kind  TokenKind
	Value string
	Raw   string
}

// Lexer tokenizes rule instruction strings. Tokenizing is total and
// deterministic: input that matches no pattern becomes Text tokens, and
// structural validation is left entirely to the parser.
type Lexer struct {
	input string
	runes []rune // UTF-8 aware representation
	pos   int
}

// NewLexer creates a new lexer for the given instruction input
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		runes: []rune(input),
		pos:   0,
	}
}

// Tokenize tokenizes the entire input. It never fails; anything that is
// not a recognized pattern is emitted as a Text token.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token

	for l.pos < len(l.runes) {
		wsStart := l.pos
		l.skipWhitespace()
		if l.pos >= len(l.runes) {
			// trailing whitespace belongs to no token
			break
		}

		if tok, ok := l.matchToken(); ok {
			tok.Raw = l.substring(wsStart, l.pos)
			tokens = append(tokens, tok)
			continue
		}

		// no pattern matches here. consume at least one rune, then scan
		// forward to the next position where a pattern does match, and
		// emit everything skipped as a single Text token. consuming one
		// rune up front guarantees the loop strictly shrinks the input.
		textStart := l.pos
		l.pos++
		for l.pos < len(l.runes) {
			if l.canStartToken(l.current()) {
				save := l.pos
				if _, ok := l.matchToken(); ok {
					l.pos = save
					break
				}
				l.pos = save
			}
			l.pos++
		}

		tokens = append(tokens, Token{
			Kind:  TokenText,
			Value: strings.TrimSpace(l.substring(textStart, l.pos)),
			Raw:   l.substring(wsStart, l.pos),
		})
	}

	return tokens
}

// matchToken tries each token pattern at the current position in fixed
// precedence order. Order matters: references before generic text so that
// bracketed references are never fragmented, and comparison operators
// before formulas so that "==" is never mis-lexed as the start of a
// formula. On success the position is advanced past the token.
func (l *Lexer) matchToken() (Token, bool) {
	if tok, ok := l.matchReference(prefixSourceRef, TokenSourceRef); ok {
		return tok, true
	}
	if tok, ok := l.matchReference(prefixSelfRef, TokenSelfRef); ok {
		return tok, true
	}
	if tok, ok := l.matchOperator(); ok {
		return tok, true
	}
	if tok, ok := l.matchFormula(); ok {
		return tok, true
	}
	if tok, ok := l.matchString(); ok {
		return tok, true
	}
	if tok, ok := l.matchNumber(); ok {
		return tok, true
	}
	if tok, ok := l.matchOr(); ok {
		return tok, true
	}
	return Token{}, false
}

// canStartToken reports whether ch could be the first character of any
// recognized pattern. used to bound the forward scan for Text tokens.
func (l *Lexer) canStartToken(ch rune) bool {
	switch ch {
	case 's', charEqual, charExclaim, charLess, charGreater, charQuote, charPipe:
		return true
	}
	return isDigit(ch)
}

// matchReference matches src[Column] or self[Column]. The bracketed name
// may contain any character except the closing bracket.
func (l *Lexer) matchReference(prefix string, kind TokenKind) (Token, bool) {
	if !l.hasPrefix(prefix) {
		return Token{}, false
	}

	nameStart := l.pos + len(prefix)
	end := nameStart
	for end < len(l.runes) && l.runes[end] != charRBrack {
		end++
	}
	if end >= len(l.runes) {
		// no closing bracket; the parser rejects unbalanced brackets
		// before lexing, so this only happens for standalone use
		return Token{}, false
	}

	name := l.substring(nameStart, end)
	l.pos = end + 1
	return Token{Kind: kind, Value: name}, true
}

// matchOperator matches one of the comparison operators
func (l *Lexer) matchOperator() (Token, bool) {
	for _, sym := range operatorSymbols {
		if l.hasPrefix(sym) {
			l.pos += len(sym)
			return Token{Kind: TokenOperator, Value: sym}, true
		}
	}
	return Token{}, false
}

// matchFormula matches a leading "=" followed by a run of characters that
// are not quotes, whitespace, pipes, or further equals signs. The value
// keeps the leading "=" since it is the formula template itself.
func (l *Lexer) matchFormula() (Token, bool) {
	if l.current() != charEqual {
		return Token{}, false
	}

	end := l.pos + 1
	for end < len(l.runes) && isFormulaBody(l.runes[end]) {
		end++
	}
	if end == l.pos+1 {
		// a bare "=" is not a formula
		return Token{}, false
	}

	value := l.substring(l.pos, end)
	l.pos = end
	return Token{Kind: TokenFormula, Value: value}, true
}

// matchString matches a double-quoted string literal. The value excludes
// the quotes. An unterminated quote is not a match and falls through to
// Text handling.
func (l *Lexer) matchString() (Token, bool) {
	if l.current() != charQuote {
		return Token{}, false
	}

	end := l.pos + 1
	for end < len(l.runes) && l.runes[end] != charQuote {
		end++
	}
	if end >= len(l.runes) {
		return Token{}, false
	}

	value := l.substring(l.pos+1, end)
	l.pos = end + 1
	return Token{Kind: TokenString, Value: value}, true
}

// matchNumber matches digits with at most one "." or "," decimal
// separator. The comma form is accepted for locales that write 4,5 for
// 4.5; normalization to a float happens in the parser.
func (l *Lexer) matchNumber() (Token, bool) {
	if !isDigit(l.current()) {
		return Token{}, false
	}

	end := l.pos
	for end < len(l.runes) && isDigit(l.runes[end]) {
		end++
	}

	// optional single decimal separator, must be followed by a digit
	if end < len(l.runes) && (l.runes[end] == charPeriod || l.runes[end] == charComma) {
		if end+1 < len(l.runes) && isDigit(l.runes[end+1]) {
			end++
			for end < len(l.runes) && isDigit(l.runes[end]) {
				end++
			}
		}
	}

	value := l.substring(l.pos, end)
	l.pos = end
	return Token{Kind: TokenNumber, Value: value}, true
}

// matchOr matches the OR connector "||"
func (l *Lexer) matchOr() (Token, bool) {
	if !l.hasPrefix("||") {
		return Token{}, false
	}
	l.pos += 2
	return Token{Kind: TokenOr, Value: "||"}, true
}

// helper methods for character navigation and classification

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return 0
	}
	return l.runes[l.pos]
}

func (l *Lexer) hasPrefix(s string) bool {
	for i, ch := range s {
		if l.pos+i >= len(l.runes) || l.runes[l.pos+i] != ch {
			return false
		}
	}
	return true
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn {
			l.pos++
		} else {
			break
		}
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

// isFormulaBody reports whether ch may appear in a formula token body.
// quotes, whitespace, pipes, and equals signs end the formula.
func isFormulaBody(ch rune) bool {
	switch ch {
	case charQuote, charSpace, charTab, charNewline, charReturn, charPipe, charEqual:
		return false
	}
	return true
}
