package optimizer_test

import (
	"testing"

	"github.com/nalgeon/be"

	"routc/pkg/ast"
	"routc/pkg/lexer"
	"routc/pkg/optimizer"
	"routc/pkg/parser"
)

func optimize(t *testing.T, src string) (*ast.Program, optimizer.Stats) {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, err := p.ParseProgram()
	be.Err(t, err, nil)
	return optimizer.New().Optimize(prog)
}

func TestConstantFoldingIntegerArithmetic(t *testing.T) {
	prog, stats := optimize(t, "var x : integer is 1 + 2 * 3;")
	v := prog.Decls[0].(*ast.VarDecl)
	lit, ok := v.Init.(*ast.IntegerLiteral)
	be.True(t, ok)
	be.Equal(t, lit.Value, int32(7))
	be.True(t, stats.FoldsApplied >= 2)
}

func TestConstantFoldingRealPromotion(t *testing.T) {
	prog, _ := optimize(t, "var x : real is 1 + 2.5;")
	v := prog.Decls[0].(*ast.VarDecl)
	lit, ok := v.Init.(*ast.RealLiteral)
	be.True(t, ok)
	be.Equal(t, lit.Value, 3.5)
}

func TestDoubleNegationIdentityOnVariable(t *testing.T) {
	prog, stats := optimize(t, "routine f(x: integer): integer => -(-x);")
	r := prog.Decls[0].(*ast.RoutineDecl)
	ident, ok := r.ExprBody.(*ast.Identifier)
	be.True(t, ok)
	be.Equal(t, ident.Name, "x")
	be.Equal(t, stats.FoldsApplied, 1)
}

func TestDoubleNegationOnRealLiteralFoldsToLiteral(t *testing.T) {
	prog, _ := optimize(t, "var x : real is -(-2.5);")
	v := prog.Decls[0].(*ast.VarDecl)
	lit, ok := v.Init.(*ast.RealLiteral)
	be.True(t, ok)
	be.Equal(t, lit.Value, 2.5)
}

func TestDivisionByZeroDoesNotFold(t *testing.T) {
	prog, _ := optimize(t, "var x : integer is 1 / 0;")
	v := prog.Decls[0].(*ast.VarDecl)
	_, isBinary := v.Init.(*ast.BinaryExpr)
	be.True(t, isBinary)
}

func TestStringEqualityFolds(t *testing.T) {
	prog, stats := optimize(t, `var ok : boolean is "a" = "a";`)
	v := prog.Decls[0].(*ast.VarDecl)
	lit, ok := v.Init.(*ast.BoolLiteral)
	be.True(t, ok)
	be.True(t, lit.Value)
	be.Equal(t, stats.FoldsApplied, 1)
}

func TestIfWithConstantTrueConditionInlinesThenBranch(t *testing.T) {
	prog, stats := optimize(t, "routine main() is\n  if true then\n    print 1;\n  else\n    print 2;\n  end\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	be.Equal(t, len(r.Body), 1)
	ps, ok := r.Body[0].(*ast.PrintStatement)
	be.True(t, ok)
	lit := ps.Args[0].(*ast.IntegerLiteral)
	be.Equal(t, lit.Value, int32(1))
	be.Equal(t, stats.IfsSimplified, 1)
}

func TestIfWithConstantFalseConditionInlinesElseBranch(t *testing.T) {
	prog, _ := optimize(t, "routine main() is\n  if 1 > 2 then\n    print 1;\n  else\n    print 2;\n  end\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	be.Equal(t, len(r.Body), 1)
	ps := r.Body[0].(*ast.PrintStatement)
	lit := ps.Args[0].(*ast.IntegerLiteral)
	be.Equal(t, lit.Value, int32(2))
}

func TestIfWithConstantFalseAndNoElseDisappears(t *testing.T) {
	prog, _ := optimize(t, "routine main() is\n  if false then\n    print 1;\n  end\n  print 2;\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	be.Equal(t, len(r.Body), 1)
	ps := r.Body[0].(*ast.PrintStatement)
	lit := ps.Args[0].(*ast.IntegerLiteral)
	be.Equal(t, lit.Value, int32(2))
}

func TestStatementsAfterReturnAreRemoved(t *testing.T) {
	prog, stats := optimize(t, "routine f(): integer is\n  return 1;\n  print 2;\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	be.Equal(t, len(r.Body), 1)
	_, ok := r.Body[0].(*ast.ReturnStatement)
	be.True(t, ok)
	be.Equal(t, stats.DeadStatementsRemoved, 1)
}

func TestNonConstantConditionIsLeftAsIf(t *testing.T) {
	prog, stats := optimize(t, "routine main() is\n  var x : integer is 1;\n  if x > 0 then\n    print x;\n  end\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	_, ok := r.Body[1].(*ast.IfStatement)
	be.True(t, ok)
	be.Equal(t, stats.IfsSimplified, 0)
}

func TestArrayLiteralElementsFold(t *testing.T) {
	prog, _ := optimize(t, "var a : array[2] integer is [1 + 1, 2 + 2];")
	v := prog.Decls[0].(*ast.VarDecl)
	lit := v.Init.(*ast.ArrayLit)
	first := lit.Elements[0].(*ast.IntegerLiteral)
	be.Equal(t, first.Value, int32(2))
}

func TestRecordLiteralFieldsFold(t *testing.T) {
	prog, _ := optimize(t, "var p : Point is {x: 1 + 1, y: 3};")
	v := prog.Decls[0].(*ast.VarDecl)
	lit := v.Init.(*ast.RecordLit)
	fx := lit.Fields[0].Value.(*ast.IntegerLiteral)
	be.Equal(t, fx.Value, int32(2))
}
