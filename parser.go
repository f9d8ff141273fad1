package rill

import "fmt"

// parser is a hand-written recursive-descent parser over the lexer's
// token stream, grounded on BaseParser's idiom (a single mutable
// cursor over lookahead, NewError building a *Error) but
// without PEG backtracking: Rill's grammar is LL(1) with a fixed
// lookahead of one token, like the reference language it mirrors.
type parser struct {
	lex  *lexer
	tok  token
	next *token
}

// Parse compiles source text into a Block ready for the code
// generator (component I). chunk names the source for error
// positions and debug info (proto.go's Prototype.Source).
func Parse(chunk, src string) (*Block, error) {
	p := &parser{lex: newLexer(chunk, src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	b, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, newSyntaxError(p.tok.pos, "unexpected '%s'", p.tok)
	}
	return b, nil
}

func (p *parser) advance() error {
	if p.next != nil {
		p.tok = *p.next
		p.next = nil
		return nil
	}
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) isKw(s string) bool  { return p.tok.kind == tokKeyword && p.tok.text == s }
func (p *parser) isOp(s string) bool  { return (p.tok.kind == tokOp || p.tok.kind == tokPunct) && p.tok.text == s }

func (p *parser) expectKw(s string) error {
	if !p.isKw(s) {
		return newSyntaxError(p.tok.pos, "'%s' expected near '%s'", s, p.tok)
	}
	return p.advance()
}

func (p *parser) expectOp(s string) error {
	if !p.isOp(s) {
		return newSyntaxError(p.tok.pos, "'%s' expected near '%s'", s, p.tok)
	}
	return p.advance()
}

func (p *parser) expectName() (string, error) {
	if p.tok.kind != tokName {
		return "", newSyntaxError(p.tok.pos, "name expected near '%s'", p.tok)
	}
	name := p.tok.text
	return name, p.advance()
}

func blockEnd(p *parser) bool {
	if p.tok.kind == tokEOF {
		return true
	}
	if p.tok.kind != tokKeyword {
		return false
	}
	switch p.tok.text {
	case "end", "else", "elseif", "until":
		return true
	}
	return false
}

func (p *parser) block() (*Block, error) {
	b := &Block{}
	for !blockEnd(p) {
		if p.isKw("return") {
			stmt, err := p.returnStmt()
			if err != nil {
				return nil, err
			}
			b.Stmts = append(b.Stmts, stmt)
			break
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			b.Stmts = append(b.Stmts, stmt)
		}
	}
	return b, nil
}

func (p *parser) returnStmt() (Node, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	var exprs []Node
	if !blockEnd(p) && !p.isOp(";") {
		var err error
		exprs, err = p.exprList()
		if err != nil {
			return nil, err
		}
	}
	if p.isOp(";") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return &ReturnStmt{Exprs: exprs, Pos: pos}, nil
}

func (p *parser) statement() (Node, error) {
	pos := p.tok.pos
	switch {
	case p.isOp(";"):
		return nil, p.advance()
	case p.isKw("break"):
		return &BreakStmt{Pos: pos}, p.advance()
	case p.isKw("do"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		b, err := p.block()
		if err != nil {
			return nil, err
		}
		return b, p.expectKw("end")
	case p.isKw("while"):
		return p.whileStmt()
	case p.isKw("repeat"):
		return p.repeatStmt()
	case p.isKw("if"):
		return p.ifStmt()
	case p.isKw("for"):
		return p.forStmt()
	case p.isKw("function"):
		return p.funcStmt()
	case p.isKw("local"):
		return p.localStmt()
	default:
		return p.exprStmt()
	}
}

func (p *parser) whileStmt() (Node, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("do"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body, Pos: pos}, p.expectKw("end")
}

func (p *parser) repeatStmt() (Node, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("until"); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &RepeatStmt{Body: body, Cond: cond, Pos: pos}, nil
}

func (p *parser) ifStmt() (Node, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("then"); err != nil {
		return nil, err
	}
	then, err := p.block()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Cond: cond, Then: then, Pos: pos}
	switch {
	case p.isKw("elseif"):
		els, err := p.ifStmt()
		if err != nil {
			return nil, err
		}
		stmt.Else = els
		return stmt, nil
	case p.isKw("else"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		els, err := p.block()
		if err != nil {
			return nil, err
		}
		stmt.Else = els
		return stmt, p.expectKw("end")
	default:
		return stmt, p.expectKw("end")
	}
}

func (p *parser) forStmt() (Node, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if p.isOp("=") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		start, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(","); err != nil {
			return nil, err
		}
		stop, err := p.expr()
		if err != nil {
			return nil, err
		}
		var step Node
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			step, err = p.expr()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectKw("do"); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		return &NumForStmt{Var: name, Start: start, Stop: stop, Step: step, Body: body, Pos: pos}, p.expectKw("end")
	}

	names := []string{name}
	for p.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectName()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := p.expectKw("in"); err != nil {
		return nil, err
	}
	exprs, err := p.exprList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("do"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &GenForStmt{Vars: names, Exprs: exprs, Body: body, Pos: pos}, p.expectKw("end")
}

func (p *parser) funcStmt() (Node, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	first, err := p.expectName()
	if err != nil {
		return nil, err
	}
	names := []string{first}
	method := false
	for p.isOp(".") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectName()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if p.isOp(":") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectName()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
		method = true
	}
	fn, err := p.funcBody(method)
	if err != nil {
		return nil, err
	}
	return &FuncStmt{Name: names, Method: method, Fn: fn, Pos: pos}, nil
}

func (p *parser) funcBody(method bool) (*FuncExpr, error) {
	pos := p.tok.pos
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	fn := &FuncExpr{Pos: pos}
	if method {
		fn.Params = append(fn.Params, "self")
	}
	for !p.isOp(")") {
		if p.isOp("...") {
			fn.Vararg = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			break
		}
		n, err := p.expectName()
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, n)
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, p.expectKw("end")
}

func (p *parser) localStmt() (Node, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.isKw("function") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		fn, err := p.funcBody(false)
		if err != nil {
			return nil, err
		}
		return &LocalFuncStmt{Name: name, Fn: fn, Pos: pos}, nil
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	names := []string{name}
	for p.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectName()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	var exprs []Node
	if p.isOp("=") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		exprs, err = p.exprList()
		if err != nil {
			return nil, err
		}
	}
	return &LocalStmt{Names: names, Exprs: exprs, Pos: pos}, nil
}

func (p *parser) exprStmt() (Node, error) {
	pos := p.tok.pos
	e, err := p.suffixedExpr()
	if err != nil {
		return nil, err
	}
	if p.isOp("=") || p.isOp(",") {
		targets := []Node{e}
		for p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			t, err := p.suffixedExpr()
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
		if err := p.expectOp("="); err != nil {
			return nil, err
		}
		exprs, err := p.exprList()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{Targets: targets, Exprs: exprs, Pos: pos}, nil
	}
	if _, ok := e.(*CallExpr); !ok {
		return nil, newSyntaxError(pos, "syntax error: statement is not a call or assignment")
	}
	return &CallStmt{Call: e}, nil
}

func (p *parser) exprList() ([]Node, error) {
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	list := []Node{e}
	for p.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, nil
}

// ---- expression parsing: precedence climbing ----

var binPrec = map[string][2]int{
	"or":  {1, 1}, "and": {2, 2},
	"<": {3, 3}, ">": {3, 3}, "<=": {3, 3}, ">=": {3, 3}, "~=": {3, 3}, "==": {3, 3},
	"..": {5, 4}, // right assoc
	"+":  {6, 6}, "-": {6, 6},
	"*": {7, 7}, "/": {7, 7}, "%": {7, 7},
	"^": {10, 9}, // right assoc
}

const unaryPrec = 8

func (p *parser) expr() (Node, error) { return p.subExpr(0) }

func (p *parser) subExpr(limit int) (Node, error) {
	var left Node
	var err error
	pos := p.tok.pos
	if p.isKw("not") || p.isOp("-") || p.isOp("#") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.subExpr(unaryPrec)
		if err != nil {
			return nil, err
		}
		left = &UnExpr{Op: op, Rhs: rhs, Pos: pos}
	} else {
		left, err = p.simpleExpr()
		if err != nil {
			return nil, err
		}
	}

	for {
		op := p.tok.text
		isBinOp := (p.tok.kind == tokOp || p.tok.kind == tokPunct || p.tok.kind == tokKeyword) && isBinOpText(op)
		if !isBinOp {
			break
		}
		prec, ok := binPrec[op]
		if !ok || prec[0] <= limit {
			break
		}
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.subExpr(prec[1])
		if err != nil {
			return nil, err
		}
		left = &BinExpr{Op: op, Lhs: left, Rhs: rhs, Pos: pos}
	}
	return left, nil
}

func isBinOpText(op string) bool {
	_, ok := binPrec[op]
	return ok
}

func (p *parser) simpleExpr() (Node, error) {
	pos := p.tok.pos
	switch {
	case p.tok.kind == tokNumber:
		v := p.tok.num
		return &NumberExpr{Value: v, Pos: pos}, p.advance()
	case p.tok.kind == tokString:
		v := p.tok.text
		return &StringExpr{Value: v, Pos: pos}, p.advance()
	case p.isKw("nil"):
		return &NilExpr{Pos: pos}, p.advance()
	case p.isKw("true"):
		return &TrueExpr{Pos: pos}, p.advance()
	case p.isKw("false"):
		return &FalseExpr{Pos: pos}, p.advance()
	case p.isOp("..."):
		return &VarargExpr{Pos: pos}, p.advance()
	case p.isKw("function"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.funcBody(false)
	case p.isOp("{"):
		return p.tableExpr()
	default:
		return p.suffixedExpr()
	}
}

func (p *parser) primaryExpr() (Node, error) {
	pos := p.tok.pos
	if p.isOp("(") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		return e, p.expectOp(")")
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	return &NameExpr{Name: name, Pos: pos}, nil
}

func (p *parser) suffixedExpr() (Node, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		pos := p.tok.pos
		switch {
		case p.isOp("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			e = &IndexExpr{Obj: e, Key: &StringExpr{Value: name, Pos: pos}, Pos: pos}
		case p.isOp("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			e = &IndexExpr{Obj: e, Key: key, Pos: pos}
		case p.isOp(":"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			method, err := p.expectName()
			if err != nil {
				return nil, err
			}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{Fn: e, Args: args, Method: method, Pos: pos}
		case p.isOp("(") || p.isOp("{") || p.tok.kind == tokString:
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{Fn: e, Args: args, Pos: pos}
		default:
			return e, nil
		}
	}
}

func (p *parser) callArgs() ([]Node, error) {
	if p.tok.kind == tokString {
		s := p.tok.text
		pos := p.tok.pos
		return []Node{&StringExpr{Value: s, Pos: pos}}, p.advance()
	}
	if p.isOp("{") {
		t, err := p.tableExpr()
		if err != nil {
			return nil, err
		}
		return []Node{t}, nil
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	if p.isOp(")") {
		return nil, p.advance()
	}
	args, err := p.exprList()
	if err != nil {
		return nil, err
	}
	return args, p.expectOp(")")
}

func (p *parser) tableExpr() (Node, error) {
	pos := p.tok.pos
	if err := p.expectOp("{"); err != nil {
		return nil, err
	}
	t := &TableExpr{Pos: pos}
	for !p.isOp("}") {
		switch {
		case p.isOp("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			if err := p.expectOp("="); err != nil {
				return nil, err
			}
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			t.HKeys = append(t.HKeys, key)
			t.HVals = append(t.HVals, val)
		case p.tok.kind == tokName && p.peekAssignAfterName():
			name := p.tok.text
			namePos := p.tok.pos
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectOp("="); err != nil {
				return nil, err
			}
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			t.HKeys = append(t.HKeys, &StringExpr{Value: name, Pos: namePos})
			t.HVals = append(t.HVals, val)
		default:
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			t.AKeys = append(t.AKeys, val)
		}
		if p.isOp(",") || p.isOp(";") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return t, p.expectOp("}")
}

// peekAssignAfterName looks one token ahead without consuming,
// needed to disambiguate `name = expr` from a positional expression
// starting with a bare name inside a table constructor.
func (p *parser) peekAssignAfterName() bool {
	if p.next != nil {
		return p.next.kind == tokOp && p.next.text == "="
	}
	save := *p.lex
	t, err := p.lex.next()
	*p.lex = save
	if err != nil {
		return false
	}
	p.next = &t
	return t.kind == tokOp && t.text == "="
}

var _ = fmt.Sprintf
