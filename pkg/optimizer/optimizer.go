// Package optimizer rewrites an already-analyzed AST into an equivalent
// but smaller one: constant folding, boolean if-simplification, and
// removal of statements that follow an unconditional return. It runs as
// a single bottom-up pass and shares subtrees it does not rewrite
// instead of copying the whole tree.
package optimizer

import (
	"routc/pkg/ast"
	"routc/pkg/token"
)

// Stats counts what one Optimize call actually changed, so a caller
// (the CLI, in verbose mode) can report it.
type Stats struct {
	FoldsApplied          int
	IfsSimplified         int
	DeadStatementsRemoved int
}

// Optimizer holds the running Stats for one Optimize call.
type Optimizer struct {
	stats Stats
}

// New returns an optimizer with a zeroed Stats.
func New() *Optimizer { return &Optimizer{} }

// Optimize returns a rewritten copy of prog and the accumulated Stats.
func (o *Optimizer) Optimize(prog *ast.Program) (*ast.Program, Stats) {
	decls := make([]ast.Declaration, len(prog.Decls))
	for i, d := range prog.Decls {
		decls[i] = o.optimizeDecl(d)
	}
	return &ast.Program{Decls: decls}, o.stats
}

func (o *Optimizer) optimizeDecl(d ast.Declaration) ast.Declaration {
	switch v := d.(type) {
	case *ast.VarDecl:
		if v.Init == nil {
			return v
		}
		nv := *v
		nv.Init = o.optimizeExpr(v.Init)
		return &nv
	case *ast.RoutineDecl:
		nv := *v
		if v.Body != nil {
			nv.Body = o.optimizeBody(v.Body)
		}
		if v.ExprBody != nil {
			nv.ExprBody = o.optimizeExpr(v.ExprBody)
		}
		return &nv
	default:
		return d
	}
}

// optimizeBody rewrites each statement and drops everything after the
// first unconditional return it sees, since constant if-folding can
// inline a return directly into the surrounding body.
func (o *Optimizer) optimizeBody(body ast.Body) ast.Body {
	var out ast.Body
	terminated := false
	for _, s := range body {
		if terminated {
			o.stats.DeadStatementsRemoved++
			continue
		}
		stmts := o.optimizeStmt(s)
		out = append(out, stmts...)
		if endsInReturn(stmts) {
			terminated = true
		}
	}
	return out
}

func endsInReturn(stmts []ast.Statement) bool {
	for _, s := range stmts {
		if _, ok := s.(*ast.ReturnStatement); ok {
			return true
		}
	}
	return false
}

// optimizeStmt returns a slice because folding a constant-condition if
// inlines its surviving branch directly into the parent body.
func (o *Optimizer) optimizeStmt(s ast.Statement) []ast.Statement {
	switch st := s.(type) {
	case *ast.VarDecl:
		if st.Init == nil {
			return []ast.Statement{st}
		}
		nv := *st
		nv.Init = o.optimizeExpr(st.Init)
		return []ast.Statement{&nv}
	case *ast.TypeDecl:
		return []ast.Statement{st}
	case *ast.Assignment:
		nv := *st
		nv.Target = o.optimizeModifiablePrimary(st.Target)
		nv.Value = o.optimizeExpr(st.Value)
		return []ast.Statement{&nv}
	case *ast.RoutineCall:
		nv := *st
		nv.Args = o.optimizeExprList(st.Args)
		return []ast.Statement{&nv}
	case *ast.ReturnStatement:
		if st.Value == nil {
			return []ast.Statement{st}
		}
		nv := *st
		nv.Value = o.optimizeExpr(st.Value)
		return []ast.Statement{&nv}
	case *ast.PrintStatement:
		nv := *st
		nv.Args = o.optimizeExprList(st.Args)
		return []ast.Statement{&nv}
	case *ast.IfStatement:
		return o.optimizeIf(st)
	case *ast.WhileLoop:
		nv := *st
		nv.Cond = o.optimizeExpr(st.Cond)
		nv.Body = o.optimizeBody(st.Body)
		return []ast.Statement{&nv}
	case *ast.ForLoop:
		nv := *st
		nv.Range = o.optimizeRange(st.Range)
		nv.Body = o.optimizeBody(st.Body)
		return []ast.Statement{&nv}
	default:
		return []ast.Statement{s}
	}
}

func (o *Optimizer) optimizeRange(r *ast.Range) *ast.Range {
	nv := &ast.Range{Position: r.Position, End: o.optimizeExpr(r.End)}
	if r.Start != nil {
		nv.Start = o.optimizeExpr(r.Start)
	}
	return nv
}

// optimizeIf folds a constant-boolean condition away entirely, inlining
// whichever branch survives (or dropping the statement if that branch
// is empty).
func (o *Optimizer) optimizeIf(st *ast.IfStatement) []ast.Statement {
	cond := o.optimizeExpr(st.Cond)
	then := o.optimizeBody(st.Then)
	var els ast.Body
	if st.Else != nil {
		els = o.optimizeBody(st.Else)
	}
	if lit, ok := cond.(*ast.BoolLiteral); ok {
		o.stats.IfsSimplified++
		if lit.Value {
			return then
		}
		return els
	}
	return []ast.Statement{&ast.IfStatement{Position: st.Position, Cond: cond, Then: then, Else: els}}
}

func (o *Optimizer) optimizeExpr(e ast.Expression) ast.Expression {
	switch ex := e.(type) {
	case *ast.BinaryExpr:
		left := o.optimizeExpr(ex.Left)
		right := o.optimizeExpr(ex.Right)
		if folded := foldBinary(ex.Position, ex.Op, left, right); folded != nil {
			o.stats.FoldsApplied++
			return folded
		}
		return &ast.BinaryExpr{Position: ex.Position, Op: ex.Op, Left: left, Right: right}
	case *ast.UnaryExpr:
		operand := o.optimizeExpr(ex.Operand)
		if folded := foldUnary(ex.Position, ex.Op, operand); folded != nil {
			o.stats.FoldsApplied++
			return folded
		}
		return &ast.UnaryExpr{Position: ex.Position, Op: ex.Op, Operand: operand}
	case *ast.ModifiablePrimary:
		return o.optimizeModifiablePrimary(ex)
	case *ast.RoutineCall:
		nv := *ex
		nv.Args = o.optimizeExprList(ex.Args)
		return &nv
	case *ast.FunctionCall:
		nv := *ex
		nv.Args = o.optimizeExprList(ex.Args)
		return &nv
	case *ast.ArrayLit:
		nv := *ex
		nv.Elements = o.optimizeExprList(ex.Elements)
		return &nv
	case *ast.RecordLit:
		fields := make([]*ast.FieldInit, len(ex.Fields))
		for i, f := range ex.Fields {
			fields[i] = &ast.FieldInit{Position: f.Position, Name: f.Name, Value: o.optimizeExpr(f.Value)}
		}
		nv := *ex
		nv.Fields = fields
		return &nv
	default:
		// Literals and bare identifiers carry no subexpressions to fold;
		// return them unchanged so unrewritten subtrees are shared, not copied.
		return e
	}
}

func (o *Optimizer) optimizeModifiablePrimary(m *ast.ModifiablePrimary) *ast.ModifiablePrimary {
	accesses := make([]ast.Access, len(m.Accesses))
	for i, a := range m.Accesses {
		if idx, ok := a.(*ast.IndexAccess); ok {
			accesses[i] = &ast.IndexAccess{Position: idx.Position, Index: o.optimizeExpr(idx.Index)}
		} else {
			accesses[i] = a
		}
	}
	nv := *m
	nv.Accesses = accesses
	return &nv
}

func (o *Optimizer) optimizeExprList(list []ast.Expression) []ast.Expression {
	out := make([]ast.Expression, len(list))
	for i, e := range list {
		out[i] = o.optimizeExpr(e)
	}
	return out
}

func asNumber(e ast.Expression) (value float64, isReal, ok bool) {
	switch v := e.(type) {
	case *ast.IntegerLiteral:
		return float64(v.Value), false, true
	case *ast.RealLiteral:
		return v.Value, true, true
	default:
		return 0, false, false
	}
}

// foldBinary returns a folded literal if both operands are already
// literals of compatible kind, or nil if op/operands don't constant-fold.
func foldBinary(pos token.Position, op token.Type, left, right ast.Expression) ast.Expression {
	switch op {
	case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT:
		return foldArithmetic(pos, op, left, right)
	case token.EQ, token.NEQ, token.LT, token.LE, token.GT, token.GE:
		return foldComparison(pos, op, left, right)
	case token.AND, token.OR, token.XOR:
		lb, lok := left.(*ast.BoolLiteral)
		rb, rok := right.(*ast.BoolLiteral)
		if !lok || !rok {
			return nil
		}
		var result bool
		switch op {
		case token.AND:
			result = lb.Value && rb.Value
		case token.OR:
			result = lb.Value || rb.Value
		case token.XOR:
			result = lb.Value != rb.Value
		}
		return &ast.BoolLiteral{Position: pos, Value: result}
	default:
		return nil
	}
}

func foldArithmetic(pos token.Position, op token.Type, left, right ast.Expression) ast.Expression {
	lv, lReal, lok := asNumber(left)
	rv, rReal, rok := asNumber(right)
	if !lok || !rok {
		return nil
	}
	isReal := lReal || rReal

	if !isReal {
		li, ri := int32(lv), int32(rv)
		switch op {
		case token.PLUS:
			return &ast.IntegerLiteral{Position: pos, Value: li + ri}
		case token.MINUS:
			return &ast.IntegerLiteral{Position: pos, Value: li - ri}
		case token.STAR:
			return &ast.IntegerLiteral{Position: pos, Value: li * ri}
		case token.SLASH:
			if ri == 0 {
				return nil // leave division by zero for runtime to trap
			}
			return &ast.IntegerLiteral{Position: pos, Value: li / ri}
		case token.PERCENT:
			if ri == 0 {
				return nil
			}
			return &ast.IntegerLiteral{Position: pos, Value: li % ri}
		}
		return nil
	}

	switch op {
	case token.PLUS:
		return &ast.RealLiteral{Position: pos, Value: lv + rv}
	case token.MINUS:
		return &ast.RealLiteral{Position: pos, Value: lv - rv}
	case token.STAR:
		return &ast.RealLiteral{Position: pos, Value: lv * rv}
	case token.SLASH:
		if rv == 0 {
			return nil
		}
		return &ast.RealLiteral{Position: pos, Value: lv / rv}
	default:
		return nil // `%` is integer-only
	}
}

func foldComparison(pos token.Position, op token.Type, left, right ast.Expression) ast.Expression {
	if lv, _, lok := asNumber(left); lok {
		if rv, _, rok := asNumber(right); rok {
			return &ast.BoolLiteral{Position: pos, Value: compareNumbers(op, lv, rv)}
		}
		return nil
	}
	if ls, ok := left.(*ast.StringLiteral); ok {
		if rs, ok := right.(*ast.StringLiteral); ok {
			return foldEquality(pos, op, ls.Value == rs.Value)
		}
		return nil
	}
	if lb, ok := left.(*ast.BoolLiteral); ok {
		if rb, ok := right.(*ast.BoolLiteral); ok {
			return foldEquality(pos, op, lb.Value == rb.Value)
		}
	}
	return nil
}

func foldEquality(pos token.Position, op token.Type, eq bool) ast.Expression {
	switch op {
	case token.EQ:
		return &ast.BoolLiteral{Position: pos, Value: eq}
	case token.NEQ:
		return &ast.BoolLiteral{Position: pos, Value: !eq}
	default:
		return nil // `<`/`<=`/`>`/`>=` aren't defined over strings/booleans
	}
}

func compareNumbers(op token.Type, l, r float64) bool {
	switch op {
	case token.EQ:
		return l == r
	case token.NEQ:
		return l != r
	case token.LT:
		return l < r
	case token.LE:
		return l <= r
	case token.GT:
		return l > r
	case token.GE:
		return l >= r
	default:
		return false
	}
}

// foldUnary returns a folded literal, or the double-negation identity
// -(-x) -> x when the inner operand did not itself fold to a literal,
// or nil if op/operand don't constant-fold.
func foldUnary(pos token.Position, op token.Type, operand ast.Expression) ast.Expression {
	switch op {
	case token.NOT:
		if b, ok := operand.(*ast.BoolLiteral); ok {
			return &ast.BoolLiteral{Position: pos, Value: !b.Value}
		}
		return nil
	case token.MINUS:
		switch v := operand.(type) {
		case *ast.IntegerLiteral:
			return &ast.IntegerLiteral{Position: pos, Value: -v.Value}
		case *ast.RealLiteral:
			return &ast.RealLiteral{Position: pos, Value: -v.Value}
		case *ast.UnaryExpr:
			if v.Op == token.MINUS {
				return v.Operand
			}
		}
		return nil
	default:
		return nil
	}
}
