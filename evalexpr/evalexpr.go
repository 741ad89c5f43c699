// Package evalexpr implements the REPL's expression grammar: integer
// literals, `module!symbol` names, the `@register` sigil, and `+`.
package evalexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/moduleimage"
	"github.com/shimmerdbg/wdbg/symbolindex"
)

// ParseError carries the byte offset span of the offending token so the
// REPL can underline it, per spec §4.6 ("a diagnostic with span").
type ParseError struct {
	Message string
	Start   int
	End     int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at %d:%d", e.Message, e.Start, e.End)
}

// node is the parsed (but not yet evaluated) expression tree. Evaluation
// is deferred to Eval so the same parse can be re-evaluated against a
// different EvalContext (e.g. after stepping).
type node interface {
	eval(ctx EvalContext) (uint64, error)
}

// EvalContext is the short-lived binding used to evaluate a parsed
// expression: the current Process for name resolution and the current
// thread's register file (spec §3).
type EvalContext struct {
	Process *moduleimage.Process
	Thread  cpucontext.ThreadContext
}

type literal uint64

func (l literal) eval(EvalContext) (uint64, error) { return uint64(l), nil }

type register string

func (r register) eval(ctx EvalContext) (uint64, error) {
	v, ok := ctx.Thread.ByName(string(r))
	if !ok {
		return 0, fmt.Errorf("unknown register %q", string(r))
	}
	return v, nil
}

type symbol string

func (s symbol) eval(ctx EvalContext) (uint64, error) {
	return symbolindex.NameToAddress(ctx.Process, string(s))
}

type add struct {
	left, right node
}

func (a add) eval(ctx EvalContext) (uint64, error) {
	l, err := a.left.eval(ctx)
	if err != nil {
		return 0, err
	}
	r, err := a.right.eval(ctx)
	if err != nil {
		return 0, err
	}
	sum := l + r
	if sum < l {
		return 0, fmt.Errorf("integer overflow evaluating %d + %d", l, r)
	}
	return sum, nil
}

// Parse parses a single expression. On success the returned node can be
// evaluated (possibly repeatedly) via Eval. On failure it returns a
// *ParseError describing the offending span; per spec §4.6 the input
// itself must not be treated as consumed on error.
func Parse(input string) (node, error) {
	p := &parser{input: input}
	p.skipSpace()
	n, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, &ParseError{Message: "unexpected trailing input", Start: p.pos, End: len(p.input)}
	}
	return n, nil
}

// Eval parses and evaluates expr in one step — the form the `?`, `bp`,
// `db`, `ln`, `u` and `lsa` REPL commands use.
func Eval(ctx EvalContext, expr string) (uint64, error) {
	n, err := Parse(expr)
	if err != nil {
		return 0, err
	}
	return n.eval(ctx)
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// parseAdd parses a left-associative chain of `+`-separated terms.
func (p *parser) parseAdd() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.peek() != '+' {
			break
		}
		p.pos++
		p.skipSpace()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = add{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	p.skipSpace()
	start := p.pos
	if p.pos >= len(p.input) {
		return nil, &ParseError{Message: "expected expression, got end of input", Start: start, End: start}
	}

	c := p.peek()
	switch {
	case c == '@':
		p.pos++
		name := p.readIdentLike()
		if name == "" {
			return nil, &ParseError{Message: "expected register name after '@'", Start: start, End: p.pos}
		}
		return register(strings.ToLower(name)), nil

	case isDigit(c):
		return p.parseNumber(start)

	case isSymbolStart(c):
		return symbol(p.readSymbol()), nil
	}

	return nil, &ParseError{Message: fmt.Sprintf("unexpected character %q", c), Start: start, End: start + 1}
}

func (p *parser) parseNumber(start int) (node, error) {
	if p.peek() == '0' && p.pos+1 < len(p.input) && (p.input[p.pos+1] == 'x' || p.input[p.pos+1] == 'X') {
		p.pos += 2
		digitsStart := p.pos
		for p.pos < len(p.input) && isHexDigit(p.input[p.pos]) {
			p.pos++
		}
		if p.pos == digitsStart {
			return nil, &ParseError{Message: "expected hex digits after '0x'", Start: start, End: p.pos}
		}
		v, err := strconv.ParseUint(p.input[digitsStart:p.pos], 16, 64)
		if err != nil {
			return nil, &ParseError{Message: "invalid hex literal", Start: start, End: p.pos}
		}
		return literal(v), nil
	}

	for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
		p.pos++
	}
	v, err := strconv.ParseUint(p.input[start:p.pos], 10, 64)
	if err != nil {
		return nil, &ParseError{Message: "invalid decimal literal", Start: start, End: p.pos}
	}
	return literal(v), nil
}

// readIdentLike consumes plain identifier characters — used after '@' for
// a register name, which never contains the extended symbol punctuation.
func (p *parser) readIdentLike() string {
	start := p.pos
	for p.pos < len(p.input) && (isAlnum(p.input[p.pos])) {
		p.pos++
	}
	return p.input[start:p.pos]
}

// readSymbol consumes a symbol token: identifier characters plus the
// extended punctuation spec §4.6 allows (`! # . _`); `@` and `+` are never
// part of a symbol since they are the register sigil and the operator.
func (p *parser) readSymbol() string {
	start := p.pos
	for p.pos < len(p.input) && isSymbolChar(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool   { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }
func isAlnum(c byte) bool      { return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isSymbolStart(c byte) bool {
	return isAlnum(c) || c == '_' || c == '!' || c == '#' || c == '.'
}
func isSymbolChar(c byte) bool { return isSymbolStart(c) }
