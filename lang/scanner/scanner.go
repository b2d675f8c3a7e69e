// Package scanner tokenizes source code for the compiler to consume. The
// source is a flat byte string, scanned left to right in a single pass.
package scanner

import (
	"fmt"
	"strconv"

	"github.com/mna/lantana/lang/token"
)

// TokenAndValue combines the token type with the token value type in the same
// struct.
type TokenAndValue struct {
	Token token.Token
	Value token.Value
}

// ScanSource is a helper function that tokenizes src and returns the list of
// tokens, ending with an EOF token. It stops and returns the error of the
// first invalid token encountered, if any.
func ScanSource(src []byte) ([]TokenAndValue, error) {
	var (
		s      Scanner
		tokVal token.Value
		toks   []TokenAndValue
	)

	s.Init(src)
	for {
		tok, err := s.Scan(&tokVal)
		if err != nil {
			return toks, err
		}
		toks = append(toks, TokenAndValue{Token: tok, Value: tokVal})
		if tok == token.EOF {
			return toks, nil
		}
	}
}

// Scanner tokenizes a source string for the compiler to consume.
type Scanner struct {
	// immutable state after Init
	src []byte

	// mutable scanning state
	cur  rune // current character, -1 at end of input
	off  int  // offset in bytes of cur
	roff int  // reading offset in bytes (position after current character)
}

// Init initializes the scanner to tokenize a new source string.
func (s *Scanner) Init(src []byte) {
	s.src = src
	s.cur = ' '
	s.off = 0
	s.roff = 0
	s.advance()
}

// peek returns the byte following the most recently read character without
// advancing the scanner. If the scanner is at EOF, peek returns 0.
func (s *Scanner) peek() byte {
	if s.roff < len(s.src) {
		return s.src[s.roff]
	}
	return 0
}

// read the next byte into s.cur; s.cur < 0 means end-of-input.
func (s *Scanner) advance() {
	if s.roff >= len(s.src) {
		s.off = len(s.src)
		s.cur = -1
		return
	}
	s.off = s.roff
	s.cur = rune(s.src[s.roff])
	s.roff++
}

// advance only if the current char matches the specified one.
func (s *Scanner) advanceIf(match byte) bool {
	if s.cur == rune(match) {
		s.advance()
		return true
	}
	return false
}

// Scan returns the next token in the source. It fails on the first invalid
// byte or unterminated string literal.
func (s *Scanner) Scan(tokVal *token.Value) (token.Token, error) {
	s.skipWhitespace()

	// current token start
	pos := s.off

	switch cur := s.cur; {
	case isLetter(cur):
		// keywords and identifiers
		lit := s.ident()
		tok := token.IDENT
		if len(lit) > 1 {
			// keywords are longer than one letter - avoid lookup otherwise
			tok = token.LookupKw(lit)
		}
		*tokVal = token.Value{Raw: lit, Pos: pos}
		return tok, nil

	case isDigit(cur):
		lit := s.number()
		// the literal is a contiguous run of decimal digits, parsing
		// cannot fail except on range, which saturates
		n, _ := strconv.ParseFloat(lit, 64)
		*tokVal = token.Value{Raw: lit, Pos: pos, Num: n}
		return token.NUMBER, nil

	default:
		s.advance() // always make progress
		switch cur {
		case '=':
			tok := token.ASSIGN
			if s.advanceIf('=') {
				tok = token.EQL
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}
			return tok, nil

		case '!':
			if s.advanceIf('=') {
				*tokVal = token.Value{Raw: token.NEQ.String(), Pos: pos}
				return token.NEQ, nil
			}
			return token.ILLEGAL, fmt.Errorf("Unexpected char %c", cur)

		case '<', '>':
			tok := token.LT
			if cur == '>' {
				tok = token.GT
			}
			if s.advanceIf('=') {
				if tok == token.LT {
					tok = token.LE
				} else {
					tok = token.GE
				}
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}
			return tok, nil

		case '"':
			lit, val, err := s.shortString()
			if err != nil {
				return token.ILLEGAL, err
			}
			*tokVal = token.Value{Raw: lit, Pos: pos, Str: val}
			return token.STRING, nil

		case '(', ')', '+', '-', '*', '/', '{', '}', ',', ';':
			tok := token.LookupPunct(string(cur))
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}
			return tok, nil

		case -1:
			*tokVal = token.Value{Raw: "", Pos: pos}
			return token.EOF, nil

		default:
			return token.ILLEGAL, fmt.Errorf("Unexpected char %c", cur)
		}
	}
}

func (s *Scanner) ident() string {
	start := s.off
	for isLetter(s.cur) || isDigit(s.cur) {
		s.advance()
	}
	return string(s.src[start:s.off])
}

func (s *Scanner) number() string {
	start := s.off
	for isDigit(s.cur) {
		s.advance()
	}
	return string(s.src[start:s.off])
}

// skipWhitespace skips whitespace and line comments, which run from a
// double-slash to the end of the line.
func (s *Scanner) skipWhitespace() {
	for {
		for isWhitespace(s.cur) {
			s.advance()
		}
		if s.cur == '/' && s.peek() == '/' {
			for s.cur != '\n' && s.cur != -1 {
				s.advance()
			}
			continue
		}
		return
	}
}

func isWhitespace(rn rune) bool {
	return rn == ' ' || rn == '\t' || rn == '\n' || rn == '\r'
}

func isLetter(rn rune) bool {
	return 'a' <= rn && rn <= 'z' ||
		'A' <= rn && rn <= 'Z' ||
		rn == '_' || rn == '$'
}

func isDigit(rn rune) bool {
	return '0' <= rn && rn <= '9'
}
