package symbols_test

import (
	"testing"

	"github.com/nalgeon/be"

	"routc/pkg/ast"
	"routc/pkg/symbols"
	"routc/pkg/token"
)

func intType() *ast.PrimitiveType { return &ast.PrimitiveType{Kind: ast.IntegerType} }

func TestDeclareAndLookupVarNested(t *testing.T) {
	ctx := symbols.NewContext()
	exit := ctx.EnterScope()
	_, _, ok := ctx.DeclareVar("x", intType(), token.Position{})
	be.True(t, ok)

	exitInner := ctx.EnterScope()
	sym, found := ctx.LookupVar("x")
	be.True(t, found)
	be.Equal(t, sym.Name, "x")
	exitInner()

	exit()
	_, found = ctx.LookupVar("x")
	be.True(t, !found)
}

func TestDuplicateDeclarationInSameScopeFails(t *testing.T) {
	ctx := symbols.NewContext()
	defer ctx.EnterScope()()
	_, _, ok := ctx.DeclareVar("x", intType(), token.Position{})
	be.True(t, ok)
	_, existing, ok := ctx.DeclareVar("x", intType(), token.Position{})
	be.True(t, !ok)
	be.True(t, existing != nil)
}

func TestShadowingAcrossScopesIsAllowed(t *testing.T) {
	ctx := symbols.NewContext()
	defer ctx.EnterScope()()
	_, _, ok := ctx.DeclareVar("x", intType(), token.Position{})
	be.True(t, ok)

	exitInner := ctx.EnterScope()
	_, _, ok = ctx.DeclareVar("x", intType(), token.Position{})
	be.True(t, ok)
	exitInner()
}

func TestLookupVarMarksUsed(t *testing.T) {
	ctx := symbols.NewContext()
	defer ctx.EnterScope()()
	ctx.DeclareVar("x", intType(), token.Position{})
	unused := ctx.UnusedInScope()
	be.Equal(t, len(unused), 1)

	ctx.LookupVar("x")
	unused = ctx.UnusedInScope()
	be.Equal(t, len(unused), 0)
}

func TestTypeScopeResolvesInnerBeforeOuter(t *testing.T) {
	ctx := symbols.NewContext()
	defer ctx.EnterScope()()
	outer := &ast.PrimitiveType{Kind: ast.IntegerType}
	ctx.DeclareType("T", outer)

	exitInner := ctx.EnterScope()
	inner := &ast.PrimitiveType{Kind: ast.RealType}
	ctx.DeclareType("T", inner)
	got, ok := ctx.LookupType("T")
	be.True(t, ok)
	be.Equal(t, got.(*ast.PrimitiveType).Kind, ast.RealType)
	exitInner()

	got, ok = ctx.LookupType("T")
	be.True(t, ok)
	be.Equal(t, got.(*ast.PrimitiveType).Kind, ast.IntegerType)
}

func TestRoutineTableIsFlat(t *testing.T) {
	ctx := symbols.NewContext()
	ctx.DeclareRoutine(&symbols.RoutineSymbol{Name: "f"})
	sym, ok := ctx.LookupRoutine("f")
	be.True(t, ok)
	be.Equal(t, sym.Name, "f")
	_, ok = ctx.LookupRoutine("g")
	be.True(t, !ok)
}

func TestCurrentRoutineRestoresOnExit(t *testing.T) {
	ctx := symbols.NewContext()
	be.True(t, ctx.CurrentRoutine() == nil)
	sym := &symbols.RoutineSymbol{Name: "f"}
	exit := ctx.EnterRoutine(sym)
	be.Equal(t, ctx.CurrentRoutine().Name, "f")
	exit()
	be.True(t, ctx.CurrentRoutine() == nil)
}

func TestLoopDepthNests(t *testing.T) {
	ctx := symbols.NewContext()
	be.True(t, !ctx.InLoop())
	exitOuter := ctx.EnterLoop()
	be.True(t, ctx.InLoop())
	exitInner := ctx.EnterLoop()
	be.True(t, ctx.InLoop())
	exitInner()
	be.True(t, ctx.InLoop())
	exitOuter()
	be.True(t, !ctx.InLoop())
}

func TestResolveRecordTypeFollowsAlias(t *testing.T) {
	ctx := symbols.NewContext()
	defer ctx.EnterScope()()
	rec := &ast.RecordType{Fields: []*ast.VarDecl{
		{Name: "x", Type: intType()},
		{Name: "y", Type: intType()},
	}}
	ctx.DeclareType("Point", rec)

	resolved, ok := symbols.ResolveRecordType(ctx, &ast.UserType{Name: "Point"})
	be.True(t, ok)
	be.Equal(t, len(resolved.Fields), 2)

	_, ok = symbols.ResolveRecordType(ctx, intType())
	be.True(t, !ok)
}

func TestVisibleVarNamesForSuggestions(t *testing.T) {
	ctx := symbols.NewContext()
	defer ctx.EnterScope()()
	ctx.DeclareVar("count", intType(), token.Position{})
	exitInner := ctx.EnterScope()
	ctx.DeclareVar("counter", intType(), token.Position{})
	names := ctx.VisibleVarNames()
	exitInner()

	be.Equal(t, len(names), 2)
}
