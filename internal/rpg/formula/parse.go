package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The grammar is deliberately closed: numbers, variables, arithmetic,
// comparisons, one ternary conditional, rand(), and a fixed whitelist of
// math functions. Nothing outside the supplied variable map and the
// whitelist can be resolved; expressions are operator-edited at runtime and
// must not reach a general evaluator.
//
//	ternary := cmp ('?' ternary ':' ternary)?
//	cmp     := add (('<'|'<='|'>'|'>='|'=='|'!=') add)?
//	add     := mul (('+'|'-') mul)*
//	mul     := unary (('*'|'/'|'%') unary)*
//	unary   := '-' unary | primary
//	primary := number | ident | ident '(' args ')' | '(' ternary ')'

const (
	maxTokens = 512
	maxDepth  = 64
)

type tokKind int

const (
	tokNumber tokKind = iota + 1
	tokIdent
	tokOp // + - * / % < <= > >= == != ? :
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokKind
	text string
	num  float64
}

func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[i:j])
			}
			toks = append(toks, token{kind: tokNumber, num: n})
			i = j
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			j := i
			for j < len(expr) && (expr[j] == '_' ||
				expr[j] >= 'a' && expr[j] <= 'z' ||
				expr[j] >= 'A' && expr[j] <= 'Z' ||
				expr[j] >= '0' && expr[j] <= '9') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: expr[i:j]})
			i = j
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma})
			i++
		case strings.ContainsRune("+-*/%?:", rune(c)):
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{kind: tokOp, text: op})
			i++
		case c == '=' || c == '!':
			if i+1 >= len(expr) || expr[i+1] != '=' {
				return nil, fmt.Errorf("unexpected %q", string(c))
			}
			toks = append(toks, token{kind: tokOp, text: string(c) + "="})
			i += 2
		default:
			return nil, fmt.Errorf("unexpected %q", string(c))
		}
		if len(toks) > maxTokens {
			return nil, fmt.Errorf("expression too long")
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

type node interface {
	eval(env *evalEnv) (float64, error)
}

type evalEnv struct {
	vars map[string]float64
	rand func() float64
}

type numNode struct{ v float64 }

func (n numNode) eval(*evalEnv) (float64, error) { return n.v, nil }

type varNode struct{ name string }

func (n varNode) eval(env *evalEnv) (float64, error) {
	v, ok := env.vars[n.name]
	if !ok {
		return 0, fmt.Errorf("unknown variable %q", n.name)
	}
	return v, nil
}

type unaryNode struct{ x node }

func (n unaryNode) eval(env *evalEnv) (float64, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binNode struct {
	op   string
	l, r node
}

func (n binNode) eval(env *evalEnv) (float64, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return 0, err
	}
	r, err := n.r.eval(env)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(l, r), nil
	case "<":
		return b2f(l < r), nil
	case "<=":
		return b2f(l <= r), nil
	case ">":
		return b2f(l > r), nil
	case ">=":
		return b2f(l >= r), nil
	case "==":
		return b2f(l == r), nil
	case "!=":
		return b2f(l != r), nil
	}
	return 0, fmt.Errorf("unknown operator %q", n.op)
}

type condNode struct{ c, t, f node }

func (n condNode) eval(env *evalEnv) (float64, error) {
	c, err := n.c.eval(env)
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return n.t.eval(env)
	}
	return n.f.eval(env)
}

type callNode struct {
	fn   string
	args []node
}

func (n callNode) eval(env *evalEnv) (float64, error) {
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	switch n.fn {
	case "rand":
		if len(vals) != 0 {
			return 0, fmt.Errorf("rand takes no arguments")
		}
		return env.rand(), nil
	case "min":
		if len(vals) < 2 {
			return 0, fmt.Errorf("min needs 2+ arguments")
		}
		v := vals[0]
		for _, x := range vals[1:] {
			v = math.Min(v, x)
		}
		return v, nil
	case "max":
		if len(vals) < 2 {
			return 0, fmt.Errorf("max needs 2+ arguments")
		}
		v := vals[0]
		for _, x := range vals[1:] {
			v = math.Max(v, x)
		}
		return v, nil
	case "abs":
		if len(vals) != 1 {
			return 0, fmt.Errorf("abs needs 1 argument")
		}
		return math.Abs(vals[0]), nil
	case "round":
		if len(vals) != 1 {
			return 0, fmt.Errorf("round needs 1 argument")
		}
		return math.Round(vals[0]), nil
	case "sqrt":
		if len(vals) != 1 {
			return 0, fmt.Errorf("sqrt needs 1 argument")
		}
		if vals[0] < 0 {
			return 0, fmt.Errorf("sqrt of negative")
		}
		return math.Sqrt(vals[0]), nil
	case "log":
		if len(vals) != 1 {
			return 0, fmt.Errorf("log needs 1 argument")
		}
		if vals[0] <= 0 {
			return 0, fmt.Errorf("log of non-positive")
		}
		return math.Log(vals[0]), nil
	case "exp":
		if len(vals) != 1 {
			return 0, fmt.Errorf("exp needs 1 argument")
		}
		return math.Exp(vals[0]), nil
	case "pow":
		if len(vals) != 2 {
			return 0, fmt.Errorf("pow needs 2 arguments")
		}
		return math.Pow(vals[0], vals[1]), nil
	}
	return 0, fmt.Errorf("unknown function %q", n.fn)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func parse(expr string) (node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("trailing input")
	}
	return n, nil
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) next() token  { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) isOp(s string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == s
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("expression too deep")
	}
	return nil
}

func (p *parser) ternary() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	c, err := p.cmp()
	if err != nil {
		return nil, err
	}
	if !p.isOp("?") {
		return c, nil
	}
	p.next()
	t, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if !p.isOp(":") {
		return nil, fmt.Errorf("expected ':'")
	}
	p.next()
	f, err := p.ternary()
	if err != nil {
		return nil, err
	}
	return condNode{c: c, t: t, f: f}, nil
}

func (p *parser) cmp() (node, error) {
	l, err := p.add()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "<", "<=", ">", ">=", "==", "!=":
			p.next()
			r, err := p.add()
			if err != nil {
				return nil, err
			}
			return binNode{op: t.text, l: l, r: r}, nil
		}
	}
	return l, nil
}

func (p *parser) add() (node, error) {
	l, err := p.mul()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || t.text != "+" && t.text != "-" {
			return l, nil
		}
		p.next()
		r, err := p.mul()
		if err != nil {
			return nil, err
		}
		l = binNode{op: t.text, l: l, r: r}
	}
}

func (p *parser) mul() (node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || t.text != "*" && t.text != "/" && t.text != "%" {
			return l, nil
		}
		p.next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binNode{op: t.text, l: l, r: r}
	}
}

func (p *parser) unary() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	if p.isOp("-") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryNode{x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numNode{v: t.num}, nil
	case tokIdent:
		if p.peek().kind != tokLParen {
			return varNode{name: t.text}, nil
		}
		p.next()
		var args []node
		if p.peek().kind != tokRParen {
			for {
				a, err := p.ternary()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ')'")
		}
		p.next()
		return callNode{fn: t.text, args: args}, nil
	case tokLParen:
		n, err := p.ternary()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ')'")
		}
		p.next()
		return n, nil
	}
	return nil, fmt.Errorf("unexpected token")
}
