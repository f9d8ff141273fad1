package rill

import (
	"fmt"
	"strconv"
	"strings"
)

// tokKind enumerates the lexical categories the parser consumes.
// Grounded on the PEG compiler's BaseParser rune-scanning style
// (base_parser.go: cursor/line/column over a []rune input), adapted
// here to emit a token stream instead of backtracking combinators.
type tokKind int

const (
	tokEOF tokKind = iota
	tokName
	tokNumber
	tokString
	tokKeyword
	tokOp
	tokPunct
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  Position
}

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "if": true,
	"in": true, "local": true, "nil": true, "not": true, "or": true,
	"repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

// lexer turns source text into a token stream. Like BaseParser it
// tracks cursor and line over a []rune input; unlike
// it, there is no backtracking, since tokens are consumed strictly
// left to right.
type lexer struct {
	chunk  string
	input  []rune
	cursor int
	line   int
}

func newLexer(chunk, src string) *lexer {
	return &lexer{chunk: chunk, input: []rune(src), cursor: 0, line: 1}
}

func (l *lexer) pos() Position {
	return Position{Chunk: l.chunk, Line: l.line, Cursor: l.cursor}
}

func (l *lexer) peek() rune {
	if l.cursor >= len(l.input) {
		return eof
	}
	return l.input[l.cursor]
}

func (l *lexer) peekAt(n int) rune {
	if l.cursor+n >= len(l.input) {
		return eof
	}
	return l.input[l.cursor+n]
}

func (l *lexer) advance() rune {
	c := l.peek()
	if c == eof {
		return eof
	}
	l.cursor++
	if c == '\n' {
		l.line++
	}
	return c
}

const eof = -1

func isDigit(c rune) bool { return c >= '0' && c <= '9' }
func isAlpha(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isAlnum(c rune) bool { return isAlpha(c) || isDigit(c) }

func (l *lexer) skipSpaceAndComments() {
	for {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '-' && l.peekAt(1) == '-':
			l.advance()
			l.advance()
			for l.peek() != '\n' && l.peek() != eof {
				l.advance()
			}
		default:
			return
		}
	}
}

// next returns the next token, or a *Error of kind ErrSyntax.
func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	start := l.pos()
	c := l.peek()

	if c == eof {
		return token{kind: tokEOF, pos: start}, nil
	}

	if isAlpha(c) {
		var b strings.Builder
		for isAlnum(l.peek()) {
			b.WriteRune(l.advance())
		}
		text := b.String()
		if keywords[text] {
			return token{kind: tokKeyword, text: text, pos: start}, nil
		}
		return token{kind: tokName, text: text, pos: start}, nil
	}

	if isDigit(c) || (c == '.' && isDigit(l.peekAt(1))) {
		var b strings.Builder
		for isDigit(l.peek()) {
			b.WriteRune(l.advance())
		}
		if l.peek() == '.' {
			b.WriteRune(l.advance())
			for isDigit(l.peek()) {
				b.WriteRune(l.advance())
			}
		}
		if l.peek() == 'e' || l.peek() == 'E' {
			b.WriteRune(l.advance())
			if l.peek() == '+' || l.peek() == '-' {
				b.WriteRune(l.advance())
			}
			for isDigit(l.peek()) {
				b.WriteRune(l.advance())
			}
		}
		n, err := strconv.ParseFloat(b.String(), 64)
		if err != nil {
			return token{}, newSyntaxError(start, "malformed number near '%s'", b.String())
		}
		return token{kind: tokNumber, text: b.String(), num: n, pos: start}, nil
	}

	if c == '"' || c == '\'' {
		quote := l.advance()
		var b strings.Builder
		for {
			c := l.peek()
			if c == eof {
				return token{}, newSyntaxError(start, "unterminated string")
			}
			if c == quote {
				l.advance()
				break
			}
			if c == '\\' {
				l.advance()
				esc := l.advance()
				switch esc {
				case 'n':
					b.WriteRune('\n')
				case 't':
					b.WriteRune('\t')
				case 'r':
					b.WriteRune('\r')
				case '\\', '"', '\'':
					b.WriteRune(esc)
				default:
					b.WriteRune(esc)
				}
				continue
			}
			b.WriteRune(l.advance())
		}
		return token{kind: tokString, text: b.String(), pos: start}, nil
	}

	for _, op := range []string{"...", "..", "==", "~=", "<=", ">=", "::"} {
		if l.matchLiteral(op) {
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}

	switch c {
	case '+', '-', '*', '/', '%', '^', '#', '&', '~', '|', '<', '>', '=',
		'(', ')', '{', '}', '[', ']', ';', ':', ',', '.':
		l.advance()
		return token{kind: tokPunct, text: string(c), pos: start}, nil
	}

	return token{}, newSyntaxError(start, "unexpected symbol near '%c'", c)
}

func (l *lexer) matchLiteral(s string) bool {
	rs := []rune(s)
	for i, r := range rs {
		if l.peekAt(i) != r {
			return false
		}
	}
	for range rs {
		l.advance()
	}
	return true
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "<eof>"
	case tokNumber:
		return fmt.Sprintf("number(%s)", t.text)
	case tokString:
		return fmt.Sprintf("string(%q)", t.text)
	default:
		return t.text
	}
}
