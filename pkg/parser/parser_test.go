package parser_test

import (
	"testing"

	"github.com/nalgeon/be"

	"routc/pkg/ast"
	"routc/pkg/lexer"
	"routc/pkg/parser"
	"routc/pkg/token"
)

func parseSource(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, err := p.ParseProgram()
	be.Err(t, err, nil)
	return prog
}

func TestParseVarDeclWithTypeAndInit(t *testing.T) {
	prog := parseSource(t, "var x : integer is 5;")
	be.Equal(t, len(prog.Decls), 1)
	v, ok := prog.Decls[0].(*ast.VarDecl)
	be.True(t, ok)
	be.Equal(t, v.Name, "x")
	_, isPrim := v.Type.(*ast.PrimitiveType)
	be.True(t, isPrim)
	lit, isLit := v.Init.(*ast.IntegerLiteral)
	be.True(t, isLit)
	be.Equal(t, lit.Value, int32(5))
}

func TestParseRoutineBodyForm(t *testing.T) {
	prog := parseSource(t, "routine main() is\n  print 1\nend")
	r, ok := prog.Decls[0].(*ast.RoutineDecl)
	be.True(t, ok)
	be.Equal(t, r.Name, "main")
	be.Equal(t, len(r.Body), 1)
	be.True(t, r.ExprBody == nil)
}

func TestParseRoutineExpressionForm(t *testing.T) {
	prog := parseSource(t, "routine square(x: integer): integer => x * x;")
	r := prog.Decls[0].(*ast.RoutineDecl)
	be.True(t, r.Body == nil)
	_, ok := r.ExprBody.(*ast.BinaryExpr)
	be.True(t, ok)
}

func TestReturnIsFirstClassNode(t *testing.T) {
	prog := parseSource(t, "routine f() is\n  return 1;\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	ret, ok := r.Body[0].(*ast.ReturnStatement)
	be.True(t, ok)
	_, isInt := ret.Value.(*ast.IntegerLiteral)
	be.True(t, isInt)
}

func TestArrayLiteralIsFirstClassNode(t *testing.T) {
	prog := parseSource(t, "var a : array[4] integer is [1, 2, 3, 4];")
	v := prog.Decls[0].(*ast.VarDecl)
	lit, ok := v.Init.(*ast.ArrayLit)
	be.True(t, ok)
	be.Equal(t, len(lit.Elements), 4)
}

func TestRecordLiteralIsFirstClassNode(t *testing.T) {
	prog := parseSource(t, `var p : Point is {x: 1, y: 2};`)
	v := prog.Decls[0].(*ast.VarDecl)
	lit, ok := v.Init.(*ast.RecordLit)
	be.True(t, ok)
	be.Equal(t, len(lit.Fields), 2)
	be.Equal(t, lit.Fields[0].Name, "x")
}

func TestForRangeLoop(t *testing.T) {
	prog := parseSource(t, "routine main() is\n  for i in 1..5 loop\n    print i;\n  end\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	fl := r.Body[0].(*ast.ForLoop)
	be.True(t, !fl.IsForEach())
	be.True(t, fl.Range.Start != nil)
}

func TestForEachLoop(t *testing.T) {
	prog := parseSource(t, "routine main() is\n  for x in arr loop\n    print x;\n  end\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	fl := r.Body[0].(*ast.ForLoop)
	be.True(t, fl.IsForEach())
	_, ok := fl.Range.End.(*ast.Identifier)
	be.True(t, ok)
}

func TestForReverseLoop(t *testing.T) {
	prog := parseSource(t, "routine main() is\n  for i in 1..5 reverse loop\n    print i;\n  end\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	fl := r.Body[0].(*ast.ForLoop)
	be.True(t, fl.Reverse)
}

func TestAssignmentWithAccessChain(t *testing.T) {
	prog := parseSource(t, "routine main() is\n  a[1].field := 2;\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	assign := r.Body[0].(*ast.Assignment)
	be.Equal(t, assign.Target.Base, "a")
	be.Equal(t, len(assign.Target.Accesses), 2)
	_, isIdx := assign.Target.Accesses[0].(*ast.IndexAccess)
	be.True(t, isIdx)
	_, isField := assign.Target.Accesses[1].(*ast.FieldAccess)
	be.True(t, isField)
}

func TestRoutineCallStatement(t *testing.T) {
	prog := parseSource(t, "routine main() is\n  doThing(1, 2);\nend")
	r := prog.Decls[0].(*ast.RoutineDecl)
	call := r.Body[0].(*ast.RoutineCall)
	be.Equal(t, call.Name, "doThing")
	be.Equal(t, len(call.Args), 2)
}

func TestPrecedenceCascade(t *testing.T) {
	prog := parseSource(t, "var x : integer is 1 + 2 * 3;")
	v := prog.Decls[0].(*ast.VarDecl)
	bin := v.Init.(*ast.BinaryExpr)
	be.Equal(t, bin.Op, token.PLUS)
	_, rightIsMul := bin.Right.(*ast.BinaryExpr)
	be.True(t, rightIsMul)
}

func TestRecordTypeFieldsPreserveOrder(t *testing.T) {
	prog := parseSource(t, "type Point is record\n  var x : integer;\n  var y : integer;\nend;")
	td := prog.Decls[0].(*ast.TypeDecl)
	rt := td.Aliased.(*ast.RecordType)
	be.Equal(t, len(rt.Fields), 2)
	be.Equal(t, rt.Fields[0].Name, "x")
	be.Equal(t, rt.Fields[1].Name, "y")
}

func TestSyntaxErrorIsFatal(t *testing.T) {
	p := parser.New(lexer.New("var := 5;"))
	_, err := p.ParseProgram()
	be.True(t, err != nil)
}
