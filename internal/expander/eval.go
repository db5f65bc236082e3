package expander

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// The formula grammar is deliberately tiny: arithmetic, comparisons, boolean
// connectives, and a closed set of functions. Formulas come from user
// configuration, so they are never handed to anything resembling a general
// evaluator; everything outside this grammar simply fails to parse and the
// text is kept verbatim.

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	num  float64
	int_ bool
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	c := l.src[l.pos]
	switch {
	case c >= '0' && c <= '9', c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]):
		return l.lexNumber()
	case c == '"' || c == '\'':
		return l.lexString(c)
	case isAlpha(c):
		start := l.pos
		for l.pos < len(l.src) && (isAlpha(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos]}, nil
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ","}, nil
	}
	for _, op := range []string{"**", "//", "==", "!=", "<=", ">=", "+", "-", "*", "/", "%", "<", ">"} {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op}, nil
		}
	}
	return token{}, fmt.Errorf("unexpected character %q", c)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	isInt := true
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		isInt = false
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		isInt = false
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := l.src[start:l.pos]
	// Zero-padded integers ("004") are formatted output, not numbers.
	if isInt && len(text) > 1 && text[0] == '0' {
		return token{}, fmt.Errorf("leading zero in number %q", text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, fmt.Errorf("malformed number %q", text)
	}
	return token{kind: tokNumber, text: text, num: f, int_: isInt}, nil
}

func (l *lexer) lexString(quote byte) (token, error) {
	l.pos++
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != quote {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{}, fmt.Errorf("unterminated string literal")
	}
	text := l.src[start:l.pos]
	l.pos++
	return token{kind: tokString, text: text}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// parser is a small Pratt-style recursive descent parser producing a value
// directly; formulas are tiny, so there is no reason to build an AST first.
type parser struct {
	toks []token
	pos  int
}

func tokenize(src string) ([]token, error) {
	l := &lexer{src: src}
	var toks []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			return toks, nil
		}
	}
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expectOp(text string) bool {
	t := p.peek()
	if t.kind == tokOp && t.text == text {
		p.advance()
		return true
	}
	return false
}

// evalFormula parses and evaluates src under the restricted grammar. The
// boolean result reports whether src was a valid formula at all; err is only
// set for formulas that parsed but failed at evaluation time.
func evalFormula(src string) (any, bool, error) {
	// Surrounding whitespace marks width-padded formatted text; collapsing
	// it to a bare number would undo the formatting.
	if src != strings.TrimSpace(src) {
		return nil, false, nil
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, false, nil
	}
	p := &parser{toks: toks}
	v, err := p.parseOr()
	if err != nil {
		if _, runtime := err.(*EvalError); runtime {
			return nil, true, err
		}
		return nil, false, nil
	}
	if p.peek().kind != tokEOF {
		return nil, false, nil
	}
	return v, true, nil
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "or" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "and" {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *parser) parseNot() (any, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.advance()
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || !isCompareOp(t.text) {
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left, err = compare(t.text, left, right)
		if err != nil {
			return nil, err
		}
	}
}

func isCompareOp(op string) bool {
	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
		return true
	}
	return false
}

func (p *parser) parseAdditive() (any, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left, err = arith(t.text, left, right)
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseMultiplicative() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "//" && t.text != "%") {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = arith(t.text, left, right)
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseUnary() (any, error) {
	if t := p.peek(); t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.advance()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return v, nil
		}
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		default:
			return nil, &EvalError{Reason: "unary minus on non-number"}
		}
	}
	return p.parsePower()
}

func (p *parser) parsePower() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.expectOp("**") {
		// Right-associative; the exponent may itself be signed.
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return arith("**", left, right)
	}
	return left, nil
}

func (p *parser) parsePrimary() (any, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.advance()
		if t.int_ {
			return int64(t.num), nil
		}
		return t.num, nil
	case tokString:
		p.advance()
		return t.text, nil
	case tokLParen:
		p.advance()
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.advance()
		return v, nil
	case tokIdent:
		return p.parseCall()
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// allowedFuncs is the closed set of functions callable from formulas.
var allowedFuncs = map[string]struct{}{
	"min": {}, "max": {}, "ceil": {}, "floor": {}, "int": {}, "float": {},
	"str": {}, "range": {}, "simplify_str": {}, "randint": {},
}

func (p *parser) parseCall() (any, error) {
	name := p.peek().text
	if _, ok := allowedFuncs[name]; !ok {
		return nil, fmt.Errorf("bare identifier %q", name)
	}
	p.advance()
	if p.peek().kind != tokLParen {
		return nil, fmt.Errorf("function %q used without call", name)
	}
	p.advance()
	var args []any
	if p.peek().kind != tokRParen {
		for {
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, v)
			if p.peek().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.peek().kind != tokRParen {
		return nil, fmt.Errorf("missing closing parenthesis in call to %q", name)
	}
	p.advance()
	return callFunc(name, args)
}

// --- evaluation helpers ---

func truthy(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case int64:
		return n != 0
	case float64:
		return n != 0
	case string:
		return n != ""
	case []any:
		return len(n) != 0
	}
	return false
}

func bothNumbers(a, b any) (fa, fb float64, bothInt, ok bool) {
	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	switch {
	case aInt && bInt:
		return float64(ia), float64(ib), true, true
	case aInt:
		if f, isF := b.(float64); isF {
			return float64(ia), f, false, true
		}
	case bInt:
		if f, isF := a.(float64); isF {
			return f, float64(ib), false, true
		}
	default:
		fa, aF := a.(float64)
		fb, bF := b.(float64)
		if aF && bF {
			return fa, fb, false, true
		}
	}
	return 0, 0, false, false
}

func arith(op string, a, b any) (any, error) {
	fa, fb, bothInt, ok := bothNumbers(a, b)
	if !ok {
		if op == "+" {
			sa, aStr := a.(string)
			sb, bStr := b.(string)
			if aStr && bStr {
				return sa + sb, nil
			}
		}
		return nil, &EvalError{Reason: fmt.Sprintf("operator %q needs numeric operands", op)}
	}
	switch op {
	case "+":
		return numResult(fa+fb, bothInt), nil
	case "-":
		return numResult(fa-fb, bothInt), nil
	case "*":
		return numResult(fa*fb, bothInt), nil
	case "/":
		if fb == 0 {
			return nil, &EvalError{Reason: "division by zero"}
		}
		// True division always yields a float.
		return fa / fb, nil
	case "//":
		if fb == 0 {
			return nil, &EvalError{Reason: "division by zero"}
		}
		return numResult(math.Floor(fa/fb), bothInt), nil
	case "%":
		if fb == 0 {
			return nil, &EvalError{Reason: "modulo by zero"}
		}
		m := math.Mod(fa, fb)
		if m != 0 && (m < 0) != (fb < 0) {
			m += fb
		}
		return numResult(m, bothInt), nil
	case "**":
		r := math.Pow(fa, fb)
		return numResult(r, bothInt && fb >= 0), nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func numResult(f float64, asInt bool) any {
	if asInt {
		return int64(f)
	}
	return f
}

func compare(op string, a, b any) (any, error) {
	if fa, fb, _, ok := bothNumbers(a, b); ok {
		switch op {
		case "==":
			return fa == fb, nil
		case "!=":
			return fa != fb, nil
		case "<":
			return fa < fb, nil
		case ">":
			return fa > fb, nil
		case "<=":
			return fa <= fb, nil
		case ">=":
			return fa >= fb, nil
		}
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		switch op {
		case "==":
			return sa == sb, nil
		case "!=":
			return sa != sb, nil
		case "<":
			return sa < sb, nil
		case ">":
			return sa > sb, nil
		case "<=":
			return sa <= sb, nil
		case ">=":
			return sa >= sb, nil
		}
	}
	ba, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool && (op == "==" || op == "!=") {
		return (ba == bb) == (op == "=="), nil
	}
	// Mixed types: equality is decidable, ordering is not.
	switch op {
	case "==":
		return false, nil
	case "!=":
		return true, nil
	}
	return nil, &EvalError{Reason: fmt.Sprintf("cannot order %T and %T", a, b)}
}

func callFunc(name string, args []any) (any, error) {
	switch name {
	case "min", "max":
		if len(args) == 0 {
			return nil, &EvalError{Reason: name + " needs at least one argument"}
		}
		best := args[0]
		for _, a := range args[1:] {
			cmpOp := "<"
			if name == "max" {
				cmpOp = ">"
			}
			better, err := compare(cmpOp, a, best)
			if err != nil {
				return nil, err
			}
			if better.(bool) {
				best = a
			}
		}
		return best, nil
	case "ceil", "floor":
		f, err := toFloat(args, name)
		if err != nil {
			return nil, err
		}
		if name == "ceil" {
			return int64(math.Ceil(f)), nil
		}
		return int64(math.Floor(f)), nil
	case "int":
		if len(args) != 1 {
			return nil, &EvalError{Reason: "int takes one argument"}
		}
		switch v := args[0].(type) {
		case int64:
			return v, nil
		case float64:
			return int64(math.Trunc(v)), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, &EvalError{Reason: fmt.Sprintf("int(%q): not an integer", v)}
			}
			return i, nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return nil, &EvalError{Reason: "int: unsupported argument"}
	case "float":
		if len(args) != 1 {
			return nil, &EvalError{Reason: "float takes one argument"}
		}
		switch v := args[0].(type) {
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, &EvalError{Reason: fmt.Sprintf("float(%q): not a number", v)}
			}
			return f, nil
		}
		return nil, &EvalError{Reason: "float: unsupported argument"}
	case "str":
		if len(args) != 1 {
			return nil, &EvalError{Reason: "str takes one argument"}
		}
		return renderEvalValue(args[0]), nil
	case "range":
		return rangeFunc(args)
	case "simplify_str":
		if len(args) != 1 {
			return nil, &EvalError{Reason: "simplify_str takes one argument"}
		}
		return simplifyStr(renderEvalValue(args[0])), nil
	case "randint":
		if len(args) != 2 {
			return nil, &EvalError{Reason: "randint takes two arguments"}
		}
		lo, loOK := args[0].(int64)
		hi, hiOK := args[1].(int64)
		if !loOK || !hiOK || hi < lo {
			return nil, &EvalError{Reason: "randint needs an integer range"}
		}
		return lo + rand.Int63n(hi-lo+1), nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

func toFloat(args []any, name string) (float64, error) {
	if len(args) != 1 {
		return 0, &EvalError{Reason: name + " takes one argument"}
	}
	switch v := args[0].(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, &EvalError{Reason: name + ": argument must be a number"}
}

func rangeFunc(args []any) (any, error) {
	ints := make([]int64, len(args))
	for i, a := range args {
		n, ok := a.(int64)
		if !ok {
			return nil, &EvalError{Reason: "range arguments must be integers"}
		}
		ints[i] = n
	}
	var start, stop, step int64
	switch len(args) {
	case 1:
		start, stop, step = 0, ints[0], 1
	case 2:
		start, stop, step = ints[0], ints[1], 1
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
		if step == 0 {
			return nil, &EvalError{Reason: "range step must not be zero"}
		}
	default:
		return nil, &EvalError{Reason: "range takes one to three arguments"}
	}
	var out []any
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out, nil
}

// simplifyStr lowers a string into a filesystem- and shell-safe identifier.
func simplifyStr(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// renderEvalValue converts an evaluated formula result back to template text.
func renderEvalValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case bool:
		if n {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return formatEvalFloat(n)
	case []any:
		parts := make([]string, len(n))
		for i, e := range n {
			parts[i] = renderEvalValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v", v)
}

func formatEvalFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
