package clsim

import (
	"strings"

	"github.com/pkg/errors"
)

// The simulator compiles the restricted OpenCL C subset that vexcl's code
// generator emits (and that hand-written interop kernels of the same shape
// use): kernel functions over scalar and global-pointer parameters, local
// declarations, for/if statements, assignments and scalar expressions.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
}

// punctuators, longest first so "<=" wins over "<".
var punctuators = []string{
	"&&", "||", "<=", ">=", "==", "!=",
	"(", ")", "{", "}", "[", "]", ",", ";",
	"<", ">", "=", "+", "-", "*", "/", "%", "?", ":", "!",
}

// lex tokenizes kernel source. Preprocessor lines and comments are skipped;
// the generated fp64 pragma needs no interpretation here.
func lex(source string) ([]token, error) {
	var tokens []token
	line := 1
	i := 0
	n := len(source)
	for i < n {
		c := source[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			// Preprocessor directive: skip to end of line.
			for i < n && source[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && source[i+1] == '/':
			for i < n && source[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && source[i+1] == '*':
			end := strings.Index(source[i+2:], "*/")
			if end < 0 {
				return nil, errors.Errorf("line %d: unterminated comment", line)
			}
			line += strings.Count(source[i:i+2+end+2], "\n")
			i += 2 + end + 2
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(source[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: source[start:i], line: line})
		case c >= '0' && c <= '9' || c == '.' && i+1 < n && source[i+1] >= '0' && source[i+1] <= '9':
			start := i
			for i < n && isNumberPart(source[i]) {
				// Exponent sign, as in "1e-8".
				if (source[i] == 'e' || source[i] == 'E') && i+1 < n && (source[i+1] == '+' || source[i+1] == '-') {
					i++
				}
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: source[start:i], line: line})
		default:
			matched := false
			for _, p := range punctuators {
				if strings.HasPrefix(source[i:], p) {
					tokens = append(tokens, token{kind: tokPunct, text: p, line: line})
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				return nil, errors.Errorf("line %d: unexpected character %q", line, string(c))
			}
		}
	}
	tokens = append(tokens, token{kind: tokEOF, line: line})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func isNumberPart(c byte) bool {
	return c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' ||
		c == 'f' || c == 'F' || c == 'u' || c == 'U' || c == 'l' || c == 'L'
}
