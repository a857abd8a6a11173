// Package formula evaluates the operator-supplied price transform.
//
// The language is deliberately tiny: numbers, the free variable x, the four
// arithmetic operators, parentheses, and the functions abs, round, min, and
// max. There are no other identifiers, no calls, and no state, so an import
// file can safely carry an arbitrary operator expression.
package formula

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FormulaError wraps a parse or evaluation failure together with the
// offending expression. Callers keep the untransformed price when they see it.
type FormulaError struct {
	Formula string
	Err     error
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula %q: %v", e.Formula, e.Err)
}

func (e *FormulaError) Unwrap() error {
	return e.Err
}

var (
	// "2x" and "1.5 x" mean multiplication.
	implicitLeft = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*x\b`)
	// "x2" and "x 1.5" likewise.
	implicitRight = regexp.MustCompile(`\bx\s*(\d+(?:\.\d+)?)`)
)

// Normalize rewrites the "2x" / "x2" multiplication shorthands into explicit
// "2*x" / "x*2" form.
func Normalize(expr string) string {
	expr = strings.TrimSpace(expr)
	expr = implicitLeft.ReplaceAllString(expr, "$1*x")
	expr = implicitRight.ReplaceAllString(expr, "x*$1")
	return expr
}

// Apply evaluates expr with x bound to price and returns the result fixed to
// two decimals. An empty expression, the identity "x", or an empty price pass
// the price through unchanged. Any failure returns the original price along
// with a *FormulaError.
func Apply(price, expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	if price == "" || trimmed == "" || trimmed == "x" {
		return price, nil
	}

	x, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return price, &FormulaError{Formula: expr, Err: fmt.Errorf("price %q is not numeric", price)}
	}

	value, err := Eval(Normalize(trimmed), x)
	if err != nil {
		return price, &FormulaError{Formula: expr, Err: err}
	}
	return strconv.FormatFloat(value, 'f', 2, 64), nil
}

// Eval evaluates an already-normalized expression with the given x.
func Eval(expr string, x float64) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{tokens: tokens, x: x}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if !p.done() {
		return 0, fmt.Errorf("unexpected %q", p.peek().text)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("result is not finite")
	}
	return value, nil
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp // + - * /
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{kind: tokOp, text: string(c)})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			num, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[i:j])
			}
			tokens = append(tokens, token{kind: tokNumber, text: expr[i:j], num: num})
			i = j
		case isAlpha(c):
			j := i
			for j < len(expr) && isAlpha(expr[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokIdent, text: expr[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return append(tokens, token{kind: tokEOF, text: "end of expression"}), nil
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

type parser struct {
	tokens []token
	pos    int
	x      float64
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) done() bool {
	return p.peek().kind == tokEOF
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.peek().kind != kind {
		return fmt.Errorf("expected %s, got %q", what, p.peek().text)
	}
	p.next()
	return nil
}

// expr := term {("+"|"-") term}
func (p *parser) parseExpr() (float64, error) {
	value, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			value += rhs
		} else {
			value -= rhs
		}
	}
	return value, nil
}

// term := unary {("*"|"/") unary}
func (p *parser) parseTerm() (float64, error) {
	value, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text
		rhs, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "*" {
			value *= rhs
		} else {
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			value /= rhs
		}
	}
	return value, nil
}

// unary := ["-"|"+"] primary
func (p *parser) parseUnary() (float64, error) {
	if p.peek().kind == tokOp && (p.peek().text == "-" || p.peek().text == "+") {
		op := p.next().text
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -value, nil
		}
		return value, nil
	}
	return p.parsePrimary()
}

// primary := number | "x" | ident "(" args ")" | "(" expr ")"
func (p *parser) parsePrimary() (float64, error) {
	switch t := p.peek(); t.kind {
	case tokNumber:
		p.next()
		return t.num, nil
	case tokIdent:
		p.next()
		if t.text == "x" {
			return p.x, nil
		}
		args, err := p.parseArgs()
		if err != nil {
			return 0, err
		}
		return callFunc(t.text, args)
	case tokLParen:
		p.next()
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if err := p.expect(tokRParen, `")"`); err != nil {
			return 0, err
		}
		return value, nil
	default:
		return 0, fmt.Errorf("expected value, got %q", t.text)
	}
}

func (p *parser) parseArgs() ([]float64, error) {
	if err := p.expect(tokLParen, `"("`); err != nil {
		return nil, err
	}
	var args []float64
	for {
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, value)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	if err := p.expect(tokRParen, `")"`); err != nil {
		return nil, err
	}
	return args, nil
}

func callFunc(name string, args []float64) (float64, error) {
	switch name {
	case "abs":
		if len(args) != 1 {
			return 0, fmt.Errorf("abs takes 1 argument")
		}
		return math.Abs(args[0]), nil
	case "round":
		switch len(args) {
		case 1:
			return math.Round(args[0]), nil
		case 2:
			shift := math.Pow(10, math.Trunc(args[1]))
			return math.Round(args[0]*shift) / shift, nil
		default:
			return 0, fmt.Errorf("round takes 1 or 2 arguments")
		}
	case "min":
		if len(args) < 2 {
			return 0, fmt.Errorf("min takes at least 2 arguments")
		}
		value := args[0]
		for _, a := range args[1:] {
			value = math.Min(value, a)
		}
		return value, nil
	case "max":
		if len(args) < 2 {
			return 0, fmt.Errorf("max takes at least 2 arguments")
		}
		value := args[0]
		for _, a := range args[1:] {
			value = math.Max(value, a)
		}
		return value, nil
	default:
		return 0, fmt.Errorf("unknown function %q", name)
	}
}
