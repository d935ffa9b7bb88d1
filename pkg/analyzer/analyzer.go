// Package analyzer implements the two-pass semantic analyzer: a first
// pass registers top-level type and routine signatures so forward
// references between them resolve, then a second pass walks every
// declaration and statement, populating a pkg/symbols.Context and
// reporting type errors and unused-variable warnings.
package analyzer

import (
	"fmt"

	"routc/pkg/ast"
	"routc/pkg/diagnostics"
	"routc/pkg/symbols"
	"routc/pkg/token"
)

// semanticError is panicked on the first fatal diagnostic and recovered
// in Analyze, the same one-shot-abort policy pkg/parser uses.
type semanticError struct{ diag *diagnostics.Diagnostic }

func (e *semanticError) Error() string { return e.diag.Error() }

// Analyzer carries the symbol context and the warnings accumulated so
// far across one Analyze call.
type Analyzer struct {
	ctx      *symbols.Context
	warnings []*diagnostics.Diagnostic
}

// New returns an analyzer with a fresh, empty symbol context.
func New() *Analyzer {
	return &Analyzer{ctx: symbols.NewContext()}
}

// Context exposes the populated symbol context after Analyze returns,
// for the code generator to consult (routine signatures, record field
// layouts via symbols.ResolveRecordType).
func (a *Analyzer) Context() *symbols.Context { return a.ctx }

// Analyze runs both passes over prog. It returns every non-fatal
// warning collected, and the first fatal diagnostic (wrapped as error)
// if one was raised; a non-nil error means the program did not pass
// analysis and must not proceed to codegen.
// Analyze opens the program-level scope and deliberately never pops it:
// codegen consults the same Context afterward for top-level type aliases
// and record layouts, so those bindings must still be live once Analyze
// returns.
func (a *Analyzer) Analyze(prog *ast.Program) (warnings []*diagnostics.Diagnostic, err error) {
	a.ctx.EnterScope()
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*semanticError)
			if !ok {
				panic(r)
			}
			err = se.diag
		}
	}()

	a.registerTopLevel(prog)
	a.checkTopLevel(prog)

	for _, u := range a.ctx.UnusedInScope() {
		a.warnf(u.Pos, "Variable '%s' declared at %d:%d is never used", u.Name, u.Pos.Line, u.Pos.Column)
	}
	return a.warnings, nil
}

func (a *Analyzer) fatalf(pos token.Position, format string, args ...any) {
	panic(&semanticError{diag: diagnostics.Errorf(pos, format, args...)})
}

func (a *Analyzer) warnf(pos token.Position, format string, args ...any) {
	a.warnings = append(a.warnings, diagnostics.Warningf(pos, format, args...))
}

// registerTopLevel is pass one: it makes every type and routine name
// visible regardless of declaration order, so a routine may call one
// declared later in the file and a record field may name a type
// declared later in the file.
func (a *Analyzer) registerTopLevel(prog *ast.Program) {
	for _, d := range prog.Decls {
		switch v := d.(type) {
		case *ast.TypeDecl:
			if _, exists := a.ctx.LookupType(v.Name); exists {
				a.fatalf(v.Position, "type %q already declared", v.Name)
			}
			a.ctx.DeclareType(v.Name, v.Aliased)
		case *ast.RoutineDecl:
			if _, exists := a.ctx.LookupRoutine(v.Name); exists {
				a.fatalf(v.Position, "routine %q already declared", v.Name)
			}
			a.ctx.DeclareRoutine(&symbols.RoutineSymbol{
				Name: v.Name, Params: v.Params, ReturnType: v.ReturnType, Pos: v.Position,
			})
		}
	}
}

// checkTopLevel is pass two: full type checking, in source order, of
// every declaration's body or initializer.
func (a *Analyzer) checkTopLevel(prog *ast.Program) {
	for _, d := range prog.Decls {
		switch v := d.(type) {
		case *ast.VarDecl:
			a.checkVarDecl(v)
		case *ast.TypeDecl:
			a.checkTypeExpr(v.Aliased)
		case *ast.RoutineDecl:
			a.checkRoutineDecl(v)
		}
	}
}

func (a *Analyzer) checkVarDecl(v *ast.VarDecl) {
	var initType ast.TypeExpr
	if v.Init != nil {
		initType = a.checkExpr(v.Init)
	}
	if v.Type == nil && initType == nil {
		a.fatalf(v.Position, "variable %q needs either a declared type or an initializer", v.Name)
	}
	if v.Type != nil {
		a.checkTypeExpr(v.Type)
	}
	if v.Type != nil && initType != nil && !a.assignable(v.Type, initType) {
		a.fatalf(v.Position, "cannot initialize %q of type %s with a value of type %s", v.Name, describe(v.Type), describe(initType))
	}

	effective := v.Type
	if effective == nil {
		effective = initType
	}
	_, existing, ok := a.ctx.DeclareVar(v.Name, effective, v.Position)
	if !ok {
		a.fatalf(v.Position, "%q is already declared in this scope (previous declaration at %s)", v.Name, existing.Pos)
	}
}

func (a *Analyzer) checkTypeExpr(t ast.TypeExpr) {
	switch v := t.(type) {
	case *ast.PrimitiveType:
	case *ast.ArrayType:
		if v.Size != nil {
			a.requireInteger(v.Position, a.checkExpr(v.Size))
		}
		a.checkTypeExpr(v.Elem)
	case *ast.RecordType:
		seen := make(map[string]bool)
		for _, f := range v.Fields {
			if seen[f.Name] {
				a.fatalf(f.Position, "duplicate field %q in record type", f.Name)
			}
			seen[f.Name] = true
			if f.Type != nil {
				a.checkTypeExpr(f.Type)
			}
		}
	case *ast.UserType:
		if _, ok := a.ctx.LookupType(v.Name); !ok {
			a.fatalf(v.Position, "undeclared type %q", v.Name)
		}
	}
}

func (a *Analyzer) checkRoutineDecl(v *ast.RoutineDecl) {
	sym, _ := a.ctx.LookupRoutine(v.Name)

	exitScope := a.ctx.EnterScope()
	defer exitScope()
	exitRoutine := a.ctx.EnterRoutine(sym)
	defer exitRoutine()

	for _, p := range v.Params {
		a.checkTypeExpr(p.Type)
		psym, existing, ok := a.ctx.DeclareVar(p.Name, p.Type, p.Position)
		if !ok {
			a.fatalf(p.Position, "parameter %q already declared (previous declaration at %s)", p.Name, existing.Pos)
		}
		psym.Used = true // a parameter unused in the body is not a warning candidate
	}
	if v.ReturnType != nil {
		a.checkTypeExpr(v.ReturnType)
	}

	if v.ExprBody != nil {
		bodyType := a.checkExpr(v.ExprBody)
		if v.ReturnType != nil && !a.assignable(v.ReturnType, bodyType) {
			a.fatalf(v.Position, "routine %q declares return type %s but its body produces %s", v.Name, describe(v.ReturnType), describe(bodyType))
		}
	} else {
		a.checkBody(v.Body)
	}

	for _, u := range a.ctx.UnusedInScope() {
		a.warnf(u.Pos, "Variable '%s' declared at %d:%d is never used", u.Name, u.Pos.Line, u.Pos.Column)
	}
}

func (a *Analyzer) checkBody(body ast.Body) {
	for _, s := range body {
		a.checkStmt(s)
	}
}

func (a *Analyzer) checkScopedBody(body ast.Body) {
	exit := a.ctx.EnterScope()
	defer exit()
	a.checkBody(body)
	for _, u := range a.ctx.UnusedInScope() {
		a.warnf(u.Pos, "Variable '%s' declared at %d:%d is never used", u.Name, u.Pos.Line, u.Pos.Column)
	}
}

func (a *Analyzer) checkStmt(s ast.Statement) {
	switch st := s.(type) {
	case *ast.VarDecl:
		a.checkVarDecl(st)
	case *ast.TypeDecl:
		a.ctx.DeclareType(st.Name, st.Aliased)
		a.checkTypeExpr(st.Aliased)
	case *ast.Assignment:
		a.checkAssignment(st)
	case *ast.RoutineCall:
		a.checkCall(st.Name, st.Args, st.Position)
	case *ast.ReturnStatement:
		if a.ctx.CurrentRoutine() == nil {
			a.fatalf(st.Position, "return used outside a routine")
		}
		routine := a.ctx.CurrentRoutine()
		if st.Value != nil {
			valueType := a.checkExpr(st.Value)
			if routine.ReturnType != nil && !a.assignable(routine.ReturnType, valueType) {
				a.fatalf(st.Position, "routine %q declares return type %s but returns %s", routine.Name, describe(routine.ReturnType), describe(valueType))
			}
		} else if routine.ReturnType != nil {
			a.fatalf(st.Position, "routine %q declares return type %s but this return has no value", routine.Name, describe(routine.ReturnType))
		}
	case *ast.PrintStatement:
		for _, arg := range st.Args {
			a.checkExpr(arg)
		}
	case *ast.IfStatement:
		a.requireBoolean(st.Position, a.checkExpr(st.Cond))
		a.checkScopedBody(st.Then)
		if st.Else != nil {
			a.checkScopedBody(st.Else)
		}
	case *ast.WhileLoop:
		a.requireBoolean(st.Position, a.checkExpr(st.Cond))
		exitLoop := a.ctx.EnterLoop()
		defer exitLoop()
		a.checkScopedBody(st.Body)
	case *ast.ForLoop:
		a.checkForLoop(st)
	default:
		a.fatalf(s.Pos(), "internal: unhandled statement %T", s)
	}
}

func (a *Analyzer) checkForLoop(st *ast.ForLoop) {
	exitScope := a.ctx.EnterScope()
	defer exitScope()
	exitLoop := a.ctx.EnterLoop()
	defer exitLoop()

	var loopVarType ast.TypeExpr
	if st.IsForEach() {
		arrType := a.checkExpr(st.Range.End)
		resolved := a.resolveAlias(arrType)
		at, ok := resolved.(*ast.ArrayType)
		if !ok {
			a.fatalf(st.Range.Position, "for-each requires an array, got %s", describe(arrType))
		}
		loopVarType = at.Elem
	} else {
		a.requireInteger(st.Range.Position, a.checkExpr(st.Range.Start))
		a.requireInteger(st.Range.Position, a.checkExpr(st.Range.End))
		loopVarType = &ast.PrimitiveType{Kind: ast.IntegerType}
	}

	sym, _, _ := a.ctx.DeclareVar(st.Var, loopVarType, st.Position)
	sym.Used = true // the loop variable not being read in the body is not a defect worth warning about
	a.checkBody(st.Body)
	for _, u := range a.ctx.UnusedInScope() {
		if u.Name != st.Var {
			a.warnf(u.Pos, "Variable '%s' declared at %d:%d is never used", u.Name, u.Pos.Line, u.Pos.Column)
		}
	}
}

func (a *Analyzer) checkAssignment(s *ast.Assignment) {
	sym, ok := a.ctx.LookupVar(s.Target.Base)
	if !ok {
		suggestion := diagnostics.SuggestName(s.Target.Base, a.ctx.VisibleVarNames())
		a.fatalf(s.Position, "%s", diagnostics.WithSuggestion(fmt.Sprintf("undeclared variable %q", s.Target.Base), suggestion))
	}
	targetType := a.resolveAccessChain(sym.Type, s.Target.Accesses, s.Position)
	valueType := a.checkExpr(s.Value)
	if !a.assignable(targetType, valueType) {
		a.fatalf(s.Position, "cannot assign value of type %s to %s", describe(valueType), describe(targetType))
	}
}

// resolveAccessChain walks a variable's declared type through a chain
// of index/field accesses, returning the resulting type.
func (a *Analyzer) resolveAccessChain(base ast.TypeExpr, accesses []ast.Access, pos token.Position) ast.TypeExpr {
	cur := base
	for _, acc := range accesses {
		switch ac := acc.(type) {
		case *ast.IndexAccess:
			resolved := a.resolveAlias(cur)
			at, ok := resolved.(*ast.ArrayType)
			if !ok {
				a.fatalf(ac.Position, "cannot index into %s", describe(cur))
			}
			a.requireInteger(ac.Position, a.checkExpr(ac.Index))
			cur = at.Elem
		case *ast.FieldAccess:
			if ac.Name == "size" {
				if _, ok := a.resolveAlias(cur).(*ast.ArrayType); ok {
					cur = &ast.PrimitiveType{Kind: ast.IntegerType}
					continue
				}
			}
			rec, ok := symbols.ResolveRecordType(a.ctx, cur)
			if !ok {
				a.fatalf(ac.Position, "%s has no fields", describe(cur))
			}
			var found *ast.VarDecl
			for _, f := range rec.Fields {
				if f.Name == ac.Name {
					found = f
					break
				}
			}
			if found == nil {
				a.fatalf(ac.Position, "%s has no field %q", describe(cur), ac.Name)
			}
			cur = found.Type
		}
	}
	return cur
}

func (a *Analyzer) checkCall(name string, args []ast.Expression, pos token.Position) ast.TypeExpr {
	sym, ok := a.ctx.LookupRoutine(name)
	if !ok {
		suggestion := diagnostics.SuggestName(name, a.ctx.RoutineNames())
		a.fatalf(pos, "%s", diagnostics.WithSuggestion(fmt.Sprintf("undeclared routine %q", name), suggestion))
	}
	if len(args) != len(sym.Params) {
		a.fatalf(pos, "routine %q expects %d argument(s), got %d", name, len(sym.Params), len(args))
	}
	for i, arg := range args {
		argType := a.checkExpr(arg)
		param := sym.Params[i]
		if param.ByRef {
			if _, ok := arg.(*ast.Identifier); !ok {
				a.fatalf(arg.Pos(), "argument %d to %q is passed by reference and must be a bare variable name", i+1, name)
			}
		}
		if !a.assignable(param.Type, argType) {
			a.fatalf(arg.Pos(), "argument %d to %q: expected %s, got %s", i+1, name, describe(param.Type), describe(argType))
		}
	}
	return sym.ReturnType
}

func (a *Analyzer) checkExpr(e ast.Expression) ast.TypeExpr {
	switch ex := e.(type) {
	case *ast.IntegerLiteral:
		return &ast.PrimitiveType{Position: ex.Position, Kind: ast.IntegerType}
	case *ast.RealLiteral:
		return &ast.PrimitiveType{Position: ex.Position, Kind: ast.RealType}
	case *ast.BoolLiteral:
		return &ast.PrimitiveType{Position: ex.Position, Kind: ast.BooleanType}
	case *ast.StringLiteral:
		return &ast.PrimitiveType{Position: ex.Position, Kind: ast.StringType}
	case *ast.Identifier:
		sym, ok := a.ctx.LookupVar(ex.Name)
		if !ok {
			suggestion := diagnostics.SuggestName(ex.Name, a.ctx.VisibleVarNames())
			a.fatalf(ex.Position, "%s", diagnostics.WithSuggestion(fmt.Sprintf("undeclared variable %q", ex.Name), suggestion))
		}
		return sym.Type
	case *ast.ModifiablePrimary:
		sym, ok := a.ctx.LookupVar(ex.Base)
		if !ok {
			suggestion := diagnostics.SuggestName(ex.Base, a.ctx.VisibleVarNames())
			a.fatalf(ex.Position, "%s", diagnostics.WithSuggestion(fmt.Sprintf("undeclared variable %q", ex.Base), suggestion))
		}
		return a.resolveAccessChain(sym.Type, ex.Accesses, ex.Position)
	case *ast.BinaryExpr:
		return a.checkBinary(ex)
	case *ast.UnaryExpr:
		return a.checkUnary(ex)
	case *ast.RoutineCall:
		return a.checkCall(ex.Name, ex.Args, ex.Position)
	case *ast.FunctionCall:
		return a.checkCall(ex.Name, ex.Args, ex.Position)
	case *ast.ArrayLit:
		return a.checkArrayLit(ex)
	case *ast.RecordLit:
		return a.checkRecordLit(ex)
	default:
		a.fatalf(e.Pos(), "internal: unhandled expression %T", e)
		return nil
	}
}

func (a *Analyzer) checkArrayLit(ex *ast.ArrayLit) ast.TypeExpr {
	if len(ex.Elements) == 0 {
		a.fatalf(ex.Position, "array literal cannot be empty")
	}
	elemType := a.checkExpr(ex.Elements[0])
	for _, el := range ex.Elements[1:] {
		t := a.checkExpr(el)
		if !a.assignable(elemType, t) {
			a.fatalf(el.Pos(), "array literal elements have mismatched types: %s and %s", describe(elemType), describe(t))
		}
	}
	return &ast.ArrayType{
		Position: ex.Position,
		Size:     &ast.IntegerLiteral{Position: ex.Position, Value: int32(len(ex.Elements))},
		Elem:     elemType,
	}
}

func (a *Analyzer) checkRecordLit(ex *ast.RecordLit) ast.TypeExpr {
	fields := make([]*ast.VarDecl, len(ex.Fields))
	for i, f := range ex.Fields {
		fields[i] = &ast.VarDecl{Position: f.Position, Name: f.Name, Type: a.checkExpr(f.Value)}
	}
	return &ast.RecordType{Position: ex.Position, Fields: fields}
}

func (a *Analyzer) checkBinary(ex *ast.BinaryExpr) ast.TypeExpr {
	leftType := a.checkExpr(ex.Left)
	rightType := a.checkExpr(ex.Right)

	switch ex.Op {
	case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT:
		return a.checkArithmetic(ex.Position, ex.Op, leftType, rightType)
	case token.LT, token.LE, token.GT, token.GE:
		a.requireNumeric(ex.Position, leftType)
		a.requireNumeric(ex.Position, rightType)
		return boolType(ex.Position)
	case token.EQ, token.NEQ:
		if !a.assignable(leftType, rightType) && !a.assignable(rightType, leftType) {
			a.fatalf(ex.Position, "cannot compare %s with %s", describe(leftType), describe(rightType))
		}
		return boolType(ex.Position)
	case token.AND, token.OR, token.XOR:
		a.requireBoolean(ex.Position, leftType)
		a.requireBoolean(ex.Position, rightType)
		return boolType(ex.Position)
	default:
		a.fatalf(ex.Position, "internal: unhandled binary operator %s", ex.Op)
		return nil
	}
}

// checkArithmetic enforces spec's restriction that string operands are
// only valid with `=`/`/=`: arithmetic is integer/real only, promoting
// to real when either operand is real.
func (a *Analyzer) checkArithmetic(pos token.Position, op token.Type, left, right ast.TypeExpr) ast.TypeExpr {
	lp, lok := a.resolveAlias(left).(*ast.PrimitiveType)
	rp, rok := a.resolveAlias(right).(*ast.PrimitiveType)
	if !lok || !rok || !isNumericKind(lp.Kind) || !isNumericKind(rp.Kind) {
		a.fatalf(pos, "arithmetic requires numeric operands, got %s and %s", describe(left), describe(right))
	}
	if op == token.PERCENT {
		if lp.Kind != ast.IntegerType || rp.Kind != ast.IntegerType {
			a.fatalf(pos, "%% requires integer operands, got %s and %s", describe(left), describe(right))
		}
		return &ast.PrimitiveType{Position: pos, Kind: ast.IntegerType}
	}
	if lp.Kind == ast.RealType || rp.Kind == ast.RealType {
		return &ast.PrimitiveType{Position: pos, Kind: ast.RealType}
	}
	return &ast.PrimitiveType{Position: pos, Kind: ast.IntegerType}
}

func (a *Analyzer) checkUnary(ex *ast.UnaryExpr) ast.TypeExpr {
	operandType := a.checkExpr(ex.Operand)
	switch ex.Op {
	case token.NOT:
		a.requireBoolean(ex.Position, operandType)
		return boolType(ex.Position)
	case token.MINUS:
		a.requireNumeric(ex.Position, operandType)
		return operandType
	default:
		a.fatalf(ex.Position, "internal: unhandled unary operator %s", ex.Op)
		return nil
	}
}

func (a *Analyzer) requireBoolean(pos token.Position, t ast.TypeExpr) {
	pt, ok := a.resolveAlias(t).(*ast.PrimitiveType)
	if !ok || pt.Kind != ast.BooleanType {
		a.fatalf(pos, "expected boolean, got %s", describe(t))
	}
}

func (a *Analyzer) requireInteger(pos token.Position, t ast.TypeExpr) {
	pt, ok := a.resolveAlias(t).(*ast.PrimitiveType)
	if !ok || pt.Kind != ast.IntegerType {
		a.fatalf(pos, "expected integer, got %s", describe(t))
	}
}

func (a *Analyzer) requireNumeric(pos token.Position, t ast.TypeExpr) {
	pt, ok := a.resolveAlias(t).(*ast.PrimitiveType)
	if !ok || !isNumericKind(pt.Kind) {
		a.fatalf(pos, "expected a numeric type, got %s", describe(t))
	}
}

func isNumericKind(k ast.PrimitiveKind) bool {
	return k == ast.IntegerType || k == ast.RealType
}

func boolType(pos token.Position) *ast.PrimitiveType {
	return &ast.PrimitiveType{Position: pos, Kind: ast.BooleanType}
}

// resolveAlias follows a chain of UserType references to the type they
// ultimately name, stopping if a cycle is detected (a malformed program
// the analyzer otherwise has no obligation to make sense of).
func (a *Analyzer) resolveAlias(t ast.TypeExpr) ast.TypeExpr {
	seen := make(map[string]bool)
	for {
		ut, ok := t.(*ast.UserType)
		if !ok {
			return t
		}
		if seen[ut.Name] {
			return t
		}
		seen[ut.Name] = true
		next, ok := a.ctx.LookupType(ut.Name)
		if !ok {
			return t
		}
		t = next
	}
}

// assignable reports whether a value of type value may be stored into a
// location of type target: identical primitives, integer widening into
// real, equal-length arrays with assignable elements (lengths compared
// when both are integer literals; an unsized array takes any length), and records
// compared structurally by field name rather than declaration order (so
// a record literal's field order need not match its named type's).
func (a *Analyzer) assignable(target, value ast.TypeExpr) bool {
	target = a.resolveAlias(target)
	value = a.resolveAlias(value)

	switch tt := target.(type) {
	case *ast.PrimitiveType:
		vt, ok := value.(*ast.PrimitiveType)
		if !ok {
			return false
		}
		if tt.Kind == vt.Kind {
			return true
		}
		// integer<->real is bidirectionally assignable: widening one way,
		// and narrowing the other with codegen inserting a truncating
		// conversion rather than the analyzer rejecting it outright.
		return isNumericKind(tt.Kind) && isNumericKind(vt.Kind)
	case *ast.ArrayType:
		vt, ok := value.(*ast.ArrayType)
		if !ok {
			return false
		}
		if ts, ok := tt.Size.(*ast.IntegerLiteral); ok {
			if vs, ok := vt.Size.(*ast.IntegerLiteral); ok && ts.Value != vs.Value {
				return false
			}
		}
		return a.assignable(tt.Elem, vt.Elem)
	case *ast.RecordType:
		vt, ok := value.(*ast.RecordType)
		if !ok || len(tt.Fields) != len(vt.Fields) {
			return false
		}
		for _, tf := range tt.Fields {
			var match *ast.VarDecl
			for _, vf := range vt.Fields {
				if vf.Name == tf.Name {
					match = vf
					break
				}
			}
			if match == nil || !a.assignable(tf.Type, match.Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func describe(t ast.TypeExpr) string {
	if t == nil {
		return "unknown"
	}
	return t.String()
}
