// Package parser implements a hand-written, single-token-lookahead
// recursive-descent parser over the token stream pkg/lexer produces,
// building the AST defined in pkg/ast.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"routc/pkg/ast"
	"routc/pkg/diagnostics"
	"routc/pkg/lexer"
	"routc/pkg/token"
)

// syntaxError is panicked on the first grammar mismatch and recovered in
// ParseProgram. Spec's error policy is "no recovery; the first syntax
// error aborts", which this implementation models the same way most
// hand-written recursive-descent parsers in this corpus do: panic deep
// in the call stack, recover once at the top.
type syntaxError struct {
	pos      token.Position
	expected []token.Type
	got      token.Token
}

func (e *syntaxError) Error() string {
	want := make([]string, len(e.expected))
	for i, t := range e.expected {
		want[i] = t.String()
	}
	return fmt.Sprintf("expected %s, got %s %q", strings.Join(want, " or "), e.got.Type, e.got.Lexeme)
}

// Parser holds the single token of lookahead the grammar needs.
type Parser struct {
	lex *lexer.Lexer
	cur token.Token
}

// New returns a parser reading tokens from lex.
func New(lex *lexer.Lexer) *Parser {
	p := &Parser{lex: lex}
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.lex.NextToken()
}

func (p *Parser) fail(expected ...token.Type) {
	panic(&syntaxError{pos: p.cur.Pos(), expected: expected, got: p.cur})
}

// expect consumes the current token if it has type t, else fails.
func (p *Parser) expect(t token.Type) token.Token {
	if p.cur.Type != t {
		p.fail(t)
	}
	tok := p.cur
	p.advance()
	return tok
}

// ParseProgram consumes the whole token stream and returns the AST, or
// a *diagnostics.Diagnostic wrapped as an error on the first syntax
// error.
func (p *Parser) ParseProgram() (prog *ast.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*syntaxError)
			if !ok {
				panic(r)
			}
			err = diagnostics.Errorf(se.pos, "%s", se.Error())
		}
	}()

	var decls []ast.Declaration
	for p.cur.Type != token.EOF {
		if p.cur.Type == token.SEMICOLON {
			p.advance()
			continue
		}
		decls = append(decls, p.parseDeclaration())
	}
	return &ast.Program{Decls: decls}, nil
}

func (p *Parser) parseDeclaration() ast.Declaration {
	switch p.cur.Type {
	case token.VAR:
		return p.parseVarDecl()
	case token.TYPE:
		return p.parseTypeDecl()
	case token.ROUTINE:
		return p.parseRoutineDecl()
	default:
		p.fail(token.VAR, token.TYPE, token.ROUTINE)
		panic("unreachable")
	}
}

// parseVarDecl parses `var NAME (: Type)? (is Expression)? ;`. It is
// used both for top-level variables and for record field declarations.
func (p *Parser) parseVarDecl() *ast.VarDecl {
	pos := p.expect(token.VAR).Pos()
	name := p.expect(token.IDENT).Lexeme

	var typ ast.TypeExpr
	if p.cur.Type == token.COLON {
		p.advance()
		typ = p.parseType()
	}

	var init ast.Expression
	if p.cur.Type == token.IS {
		p.advance()
		init = p.parseExpression()
	}

	p.expect(token.SEMICOLON)
	return &ast.VarDecl{Position: pos, Name: name, Type: typ, Init: init}
}

func (p *Parser) parseTypeDecl() *ast.TypeDecl {
	pos := p.expect(token.TYPE).Pos()
	name := p.expect(token.IDENT).Lexeme
	p.expect(token.IS)
	aliased := p.parseType()
	p.expect(token.SEMICOLON)
	return &ast.TypeDecl{Position: pos, Name: name, Aliased: aliased}
}

func (p *Parser) parseRoutineDecl() *ast.RoutineDecl {
	pos := p.expect(token.ROUTINE).Pos()
	name := p.expect(token.IDENT).Lexeme

	p.expect(token.LPAREN)
	var params []*ast.Parameter
	if p.cur.Type != token.RPAREN {
		params = append(params, p.parseParameter())
		for p.cur.Type == token.COMMA {
			p.advance()
			params = append(params, p.parseParameter())
		}
	}
	p.expect(token.RPAREN)

	var retType ast.TypeExpr
	if p.cur.Type == token.COLON {
		p.advance()
		retType = p.parseType()
	}

	if p.cur.Type == token.FATARROW {
		p.advance()
		expr := p.parseExpression()
		p.expect(token.SEMICOLON)
		return &ast.RoutineDecl{Position: pos, Name: name, Params: params, ReturnType: retType, ExprBody: expr}
	}

	p.expect(token.IS)
	body := p.parseBody(token.END)
	p.expect(token.END)
	return &ast.RoutineDecl{Position: pos, Name: name, Params: params, ReturnType: retType, Body: body}
}

func (p *Parser) parseParameter() *ast.Parameter {
	pos := p.cur.Pos()
	byRef := false
	if p.cur.Type == token.REF {
		p.advance()
		byRef = true
	}
	name := p.expect(token.IDENT).Lexeme
	p.expect(token.COLON)
	typ := p.parseType()
	return &ast.Parameter{Position: pos, Name: name, Type: typ, ByRef: byRef}
}

// parseType parses one of Primitive | Array | Record | UserType.
func (p *Parser) parseType() ast.TypeExpr {
	pos := p.cur.Pos()
	switch p.cur.Type {
	case token.INTEGER:
		p.advance()
		return &ast.PrimitiveType{Position: pos, Kind: ast.IntegerType}
	case token.REAL_KW:
		p.advance()
		return &ast.PrimitiveType{Position: pos, Kind: ast.RealType}
	case token.BOOLEAN:
		p.advance()
		return &ast.PrimitiveType{Position: pos, Kind: ast.BooleanType}
	case token.STRING_KW:
		p.advance()
		return &ast.PrimitiveType{Position: pos, Kind: ast.StringType}
	case token.ARRAY:
		p.advance()
		p.expect(token.LBRACKET)
		var size ast.Expression
		if p.cur.Type != token.RBRACKET {
			size = p.parseExpression()
		}
		p.expect(token.RBRACKET)
		elem := p.parseType()
		return &ast.ArrayType{Position: pos, Size: size, Elem: elem}
	case token.RECORD:
		p.advance()
		var fields []*ast.VarDecl
		for p.cur.Type == token.VAR {
			fields = append(fields, p.parseVarDecl())
		}
		p.expect(token.END)
		return &ast.RecordType{Position: pos, Fields: fields}
	case token.IDENT:
		name := p.cur.Lexeme
		p.advance()
		return &ast.UserType{Position: pos, Name: name}
	default:
		p.fail(token.INTEGER, token.REAL_KW, token.BOOLEAN, token.STRING_KW, token.ARRAY, token.RECORD, token.IDENT)
		panic("unreachable")
	}
}

// parseBody consumes statements until it sees one of the stop tokens
// (never consuming the stop token itself), skipping stray semicolons.
func (p *Parser) parseBody(stop ...token.Type) ast.Body {
	var stmts ast.Body
	for !p.at(stop...) && p.cur.Type != token.EOF {
		if p.cur.Type == token.SEMICOLON {
			p.advance()
			continue
		}
		stmts = append(stmts, p.parseStatement())
	}
	return stmts
}

func (p *Parser) at(types ...token.Type) bool {
	for _, t := range types {
		if p.cur.Type == t {
			return true
		}
	}
	return false
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Type {
	case token.VAR:
		return p.parseVarDecl()
	case token.TYPE:
		return p.parseTypeDecl()
	case token.IDENT:
		return p.parseAssignmentOrCall()
	case token.PRINT:
		return p.parsePrint()
	case token.IF:
		return p.parseIf()
	case token.WHILE:
		return p.parseWhile()
	case token.FOR:
		return p.parseFor()
	case token.RETURN:
		return p.parseReturn()
	default:
		p.fail(token.VAR, token.TYPE, token.IDENT, token.PRINT, token.IF, token.WHILE, token.FOR, token.RETURN)
		panic("unreachable")
	}
}

// parseAssignmentOrCall disambiguates the two statement forms that start
// with an identifier: a bare call `NAME(args);` and an assignment
// `NAME accesses* := value;`.
func (p *Parser) parseAssignmentOrCall() ast.Statement {
	pos := p.cur.Pos()
	name := p.expect(token.IDENT).Lexeme

	if p.cur.Type == token.LPAREN {
		args := p.parseCallArgs()
		p.expect(token.SEMICOLON)
		return &ast.RoutineCall{Position: pos, Name: name, Args: args}
	}

	accesses := p.parseAccesses()
	target := &ast.ModifiablePrimary{Position: pos, Base: name, Accesses: accesses}
	p.expect(token.ASSIGN)
	value := p.parseExpression()
	p.expect(token.SEMICOLON)
	return &ast.Assignment{Position: pos, Target: target, Value: value}
}

func (p *Parser) parseAccesses() []ast.Access {
	var accesses []ast.Access
	for {
		switch p.cur.Type {
		case token.LBRACKET:
			pos := p.cur.Pos()
			p.advance()
			idx := p.parseExpression()
			p.expect(token.RBRACKET)
			accesses = append(accesses, &ast.IndexAccess{Position: pos, Index: idx})
		case token.DOT:
			p.advance()
			pos := p.cur.Pos()
			field := p.expect(token.IDENT).Lexeme
			accesses = append(accesses, &ast.FieldAccess{Position: pos, Name: field})
		default:
			return accesses
		}
	}
}

func (p *Parser) parsePrint() *ast.PrintStatement {
	pos := p.expect(token.PRINT).Pos()
	var args []ast.Expression
	if p.cur.Type == token.LPAREN {
		p.advance()
		if p.cur.Type != token.RPAREN {
			args = p.parseExprList()
		}
		p.expect(token.RPAREN)
	} else {
		args = p.parseExprList()
	}
	p.expect(token.SEMICOLON)
	return &ast.PrintStatement{Position: pos, Args: args}
}

func (p *Parser) parseIf() *ast.IfStatement {
	pos := p.expect(token.IF).Pos()
	cond := p.parseExpression()
	p.expect(token.THEN)
	thenBody := p.parseBody(token.ELSE, token.END)
	var elseBody ast.Body
	if p.cur.Type == token.ELSE {
		p.advance()
		elseBody = p.parseBody(token.END)
	}
	p.expect(token.END)
	return &ast.IfStatement{Position: pos, Cond: cond, Then: thenBody, Else: elseBody}
}

func (p *Parser) parseWhile() *ast.WhileLoop {
	pos := p.expect(token.WHILE).Pos()
	cond := p.parseExpression()
	p.expect(token.LOOP)
	body := p.parseBody(token.END)
	p.expect(token.END)
	return &ast.WhileLoop{Position: pos, Cond: cond, Body: body}
}

func (p *Parser) parseFor() *ast.ForLoop {
	pos := p.expect(token.FOR).Pos()
	loopVar := p.expect(token.IDENT).Lexeme
	p.expect(token.IN)
	first := p.parseExpression()

	rangePos := first.Pos()
	var rng *ast.Range
	if p.cur.Type == token.RANGE {
		p.advance()
		end := p.parseExpression()
		rng = &ast.Range{Position: rangePos, Start: first, End: end}
	} else {
		rng = &ast.Range{Position: rangePos, Start: nil, End: first}
	}

	reverse := false
	if p.cur.Type == token.REVERSE {
		p.advance()
		reverse = true
	}

	p.expect(token.LOOP)
	body := p.parseBody(token.END)
	p.expect(token.END)
	return &ast.ForLoop{Position: pos, Var: loopVar, Range: rng, Reverse: reverse, Body: body}
}

func (p *Parser) parseReturn() *ast.ReturnStatement {
	pos := p.expect(token.RETURN).Pos()
	var value ast.Expression
	if p.cur.Type != token.SEMICOLON {
		value = p.parseExpression()
	}
	p.expect(token.SEMICOLON)
	return &ast.ReturnStatement{Position: pos, Value: value}
}

func (p *Parser) parseExprList() []ast.Expression {
	list := []ast.Expression{p.parseExpression()}
	for p.cur.Type == token.COMMA {
		p.advance()
		list = append(list, p.parseExpression())
	}
	return list
}

func (p *Parser) parseCallArgs() []ast.Expression {
	p.expect(token.LPAREN)
	var args []ast.Expression
	if p.cur.Type != token.RPAREN {
		args = p.parseExprList()
	}
	p.expect(token.RPAREN)
	return args
}

// --- Expressions: or -> and -> comparison -> additive -> multiplicative -> unary -> primary ---

func (p *Parser) parseExpression() ast.Expression {
	return p.parseOr()
}

func (p *Parser) parseOr() ast.Expression {
	left := p.parseAnd()
	for p.cur.Type == token.OR || p.cur.Type == token.XOR {
		op := p.cur.Type
		pos := p.cur.Pos()
		p.advance()
		right := p.parseAnd()
		left = &ast.BinaryExpr{Position: pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expression {
	left := p.parseComparison()
	for p.cur.Type == token.AND {
		pos := p.cur.Pos()
		p.advance()
		right := p.parseComparison()
		left = &ast.BinaryExpr{Position: pos, Op: token.AND, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseComparison() ast.Expression {
	left := p.parseAdditive()
	for p.at(token.EQ, token.NEQ, token.LT, token.LE, token.GT, token.GE) {
		op := p.cur.Type
		pos := p.cur.Pos()
		p.advance()
		right := p.parseAdditive()
		left = &ast.BinaryExpr{Position: pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() ast.Expression {
	left := p.parseMultiplicative()
	for p.at(token.PLUS, token.MINUS) {
		op := p.cur.Type
		pos := p.cur.Pos()
		p.advance()
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{Position: pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expression {
	left := p.parseUnary()
	for p.at(token.STAR, token.SLASH, token.PERCENT) {
		op := p.cur.Type
		pos := p.cur.Pos()
		p.advance()
		right := p.parseUnary()
		left = &ast.BinaryExpr{Position: pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expression {
	if p.at(token.NOT, token.MINUS) {
		op := p.cur.Type
		pos := p.cur.Pos()
		p.advance()
		operand := p.parseUnary()
		return &ast.UnaryExpr{Position: pos, Op: op, Operand: operand}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() ast.Expression {
	pos := p.cur.Pos()
	switch p.cur.Type {
	case token.INT:
		lexeme := p.cur.Lexeme
		p.advance()
		v, _ := strconv.ParseInt(lexeme, 10, 64)
		return &ast.IntegerLiteral{Position: pos, Value: int32(v)}
	case token.REAL:
		lexeme := p.cur.Lexeme
		p.advance()
		v, _ := strconv.ParseFloat(lexeme, 64)
		return &ast.RealLiteral{Position: pos, Value: v}
	case token.BOOL:
		lexeme := p.cur.Lexeme
		p.advance()
		return &ast.BoolLiteral{Position: pos, Value: strings.EqualFold(lexeme, "true")}
	case token.STRING:
		lexeme := p.cur.Lexeme
		p.advance()
		return &ast.StringLiteral{Position: pos, Value: lexeme}
	case token.LPAREN:
		p.advance()
		e := p.parseExpression()
		p.expect(token.RPAREN)
		return e
	case token.IDENT:
		return p.parseIdentifierPrimary()
	case token.LBRACKET:
		return p.parseArrayLit()
	case token.LBRACE:
		return p.parseRecordLit()
	default:
		p.fail(token.INT, token.REAL, token.BOOL, token.STRING, token.LPAREN, token.IDENT, token.LBRACKET, token.LBRACE)
		panic("unreachable")
	}
}

func (p *Parser) parseIdentifierPrimary() ast.Expression {
	pos := p.cur.Pos()
	name := p.expect(token.IDENT).Lexeme

	if p.cur.Type == token.LPAREN {
		args := p.parseCallArgs()
		return &ast.FunctionCall{Position: pos, Name: name, Args: args}
	}
	if p.cur.Type == token.LBRACKET || p.cur.Type == token.DOT {
		accesses := p.parseAccesses()
		return &ast.ModifiablePrimary{Position: pos, Base: name, Accesses: accesses}
	}
	return &ast.Identifier{Position: pos, Name: name}
}

func (p *Parser) parseArrayLit() *ast.ArrayLit {
	pos := p.expect(token.LBRACKET).Pos()
	var elems []ast.Expression
	if p.cur.Type != token.RBRACKET {
		elems = p.parseExprList()
	}
	p.expect(token.RBRACKET)
	return &ast.ArrayLit{Position: pos, Elements: elems}
}

func (p *Parser) parseRecordLit() *ast.RecordLit {
	pos := p.expect(token.LBRACE).Pos()
	var fields []*ast.FieldInit
	if p.cur.Type != token.RBRACE {
		fields = append(fields, p.parseFieldInit())
		for p.cur.Type == token.COMMA {
			p.advance()
			fields = append(fields, p.parseFieldInit())
		}
	}
	p.expect(token.RBRACE)
	return &ast.RecordLit{Position: pos, Fields: fields}
}

func (p *Parser) parseFieldInit() *ast.FieldInit {
	pos := p.cur.Pos()
	name := p.expect(token.IDENT).Lexeme
	p.expect(token.COLON)
	value := p.parseExpression()
	return &ast.FieldInit{Position: pos, Name: name, Value: value}
}
