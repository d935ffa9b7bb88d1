package analyzer_test

import (
	"testing"

	"github.com/nalgeon/be"

	"routc/pkg/analyzer"
	"routc/pkg/lexer"
	"routc/pkg/parser"
)

func analyze(t *testing.T, src string) ([]error, error) {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, perr := p.ParseProgram()
	be.Err(t, perr, nil)

	a := analyzer.New()
	warnings, err := a.Analyze(prog)
	out := make([]error, len(warnings))
	for i, w := range warnings {
		out[i] = w
	}
	return out, err
}

func TestWellTypedProgramPasses(t *testing.T) {
	_, err := analyze(t, "routine main() is\n  var x : integer is 1 + 2;\n  print x;\nend")
	be.Err(t, err, nil)
}

func TestUndeclaredVariableIsFatal(t *testing.T) {
	_, err := analyze(t, "routine main() is\n  print y;\nend")
	be.True(t, err != nil)
}

func TestUndeclaredVariableSuggestsClosestName(t *testing.T) {
	_, err := analyze(t, "routine main() is\n  var count : integer is 1;\n  print coutn;\nend")
	be.True(t, err != nil)
	be.True(t, contains(err.Error(), "count"))
}

func TestDuplicateDeclarationInSameScopeIsFatal(t *testing.T) {
	_, err := analyze(t, "routine main() is\n  var x : integer is 1;\n  var x : integer is 2;\nend")
	be.True(t, err != nil)
}

func TestUnusedVariableIsWarning(t *testing.T) {
	warnings, err := analyze(t, "routine main() is\n  var x : integer is 1;\nend")
	be.Err(t, err, nil)
	be.Equal(t, len(warnings), 1)
}

func TestForwardRoutineReferenceResolves(t *testing.T) {
	_, err := analyze(t, "routine main() is\n  helper();\nend\nroutine helper() is\nend")
	be.Err(t, err, nil)
}

func TestArityMismatchIsFatal(t *testing.T) {
	_, err := analyze(t, "routine f(x: integer) is\nend\nroutine main() is\n  f(1, 2);\nend")
	be.True(t, err != nil)
}

func TestArgumentTypeMismatchIsFatal(t *testing.T) {
	_, err := analyze(t, `routine f(x: integer) is
end
routine main() is
  f("hi");
end`)
	be.True(t, err != nil)
}

func TestRefParameterRequiresVariable(t *testing.T) {
	_, err := analyze(t, "routine f(ref x: integer) is\nend\nroutine main() is\n  f(1);\nend")
	be.True(t, err != nil)
}

func TestRefParameterAcceptsVariable(t *testing.T) {
	_, err := analyze(t, "routine f(ref x: integer) is\nend\nroutine main() is\n  var y : integer is 1;\n  f(y);\nend")
	be.Err(t, err, nil)
}

func TestIntegerWidensToReal(t *testing.T) {
	_, err := analyze(t, "routine main() is\n  var x : real is 1;\nend")
	be.Err(t, err, nil)
}

func TestRealNarrowsToIntegerWithConversion(t *testing.T) {
	_, err := analyze(t, "routine main() is\n  var x : integer is 1.5;\nend")
	be.Err(t, err, nil)
}

func TestModuloRequiresIntegerOperands(t *testing.T) {
	_, err := analyze(t, "var x : real is 5.0 % 2.0;")
	be.True(t, err != nil)
}

func TestStringArithmeticIsFatal(t *testing.T) {
	_, err := analyze(t, `routine main() is
  var x : string is "a" + "b";
end`)
	be.True(t, err != nil)
}

func TestStringEqualityIsAllowed(t *testing.T) {
	_, err := analyze(t, `routine main() is
  var ok : boolean is "a" = "b";
end`)
	be.Err(t, err, nil)
}

func TestArrayIndexMustBeInteger(t *testing.T) {
	_, err := analyze(t, `routine main() is
  var a : array[3] integer is [1, 2, 3];
  print a["x"];
end`)
	be.True(t, err != nil)
}

func TestArrayIndexAndAssignment(t *testing.T) {
	_, err := analyze(t, `routine main() is
  var a : array[3] integer is [1, 2, 3];
  a[1] := 9;
end`)
	be.Err(t, err, nil)
}

func TestRecordFieldAccess(t *testing.T) {
	_, err := analyze(t, `type Point is record
  var x : integer;
  var y : integer;
end;
routine main() is
  var p : Point is {x: 1, y: 2};
  p.x := 3;
end`)
	be.Err(t, err, nil)
}

func TestRecordLiteralFieldOrderIndependent(t *testing.T) {
	_, err := analyze(t, `type Point is record
  var x : integer;
  var y : integer;
end;
routine main() is
  var p : Point is {y: 2, x: 1};
end`)
	be.Err(t, err, nil)
}

func TestUnknownFieldIsFatal(t *testing.T) {
	_, err := analyze(t, `type Point is record
  var x : integer;
end;
routine main() is
  var p : Point is {x: 1};
  p.z := 3;
end`)
	be.True(t, err != nil)
}

func TestForEachRequiresArray(t *testing.T) {
	_, err := analyze(t, `routine main() is
  var x : integer is 1;
  for e in x loop
    print e;
  end
end`)
	be.True(t, err != nil)
}

func TestForEachOverArray(t *testing.T) {
	_, err := analyze(t, `routine main() is
  var a : array[3] integer is [1, 2, 3];
  for e in a loop
    print e;
  end
end`)
	be.Err(t, err, nil)
}

func TestBareReturnInValueRoutineIsFatal(t *testing.T) {
	// A routine that declares a return type must return a value; a bare
	// return inside it is rejected.
	_, err := analyze(t, `routine f(): integer is
  return;
end`)
	be.True(t, err != nil)
}

func TestReturnTypeMatches(t *testing.T) {
	_, err := analyze(t, "routine f(): integer is\n  return 1;\nend")
	be.Err(t, err, nil)
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
