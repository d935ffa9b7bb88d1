package codegen_test

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"routc/pkg/analyzer"
	"routc/pkg/codegen"
	"routc/pkg/lexer"
	"routc/pkg/optimizer"
	"routc/pkg/parser"
)

func generate(t *testing.T, src string) string {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, perr := p.ParseProgram()
	be.Err(t, perr, nil)

	a := analyzer.New()
	_, aerr := a.Analyze(prog)
	be.Err(t, aerr, nil)

	optimized, _ := optimizer.New().Optimize(prog)

	wat, err := codegen.Generate(optimized, a.Context())
	be.Err(t, err, nil)
	return wat
}

func TestModuleHasFiveEnvImports(t *testing.T) {
	wat := generate(t, "routine main() is\nend")
	for _, want := range []string{"printInt", "printFloat", "printBool", "printString", "printNewline"} {
		be.True(t, strings.Contains(wat, want))
	}
}

func TestMainIsExported(t *testing.T) {
	wat := generate(t, "routine main() is\nend")
	be.True(t, strings.Contains(wat, `(export "main" (func $r_main))`))
}

func TestF64ComparisonsUseCorrectSpelling(t *testing.T) {
	wat := generate(t, `routine main() is
  var x : real is 1.0;
  var y : real is 2.0;
  var ok : boolean is x < y;
end`)
	be.True(t, strings.Contains(wat, "f64.lt"))
	be.True(t, !strings.Contains(wat, "f64.lt_s"))
}

func TestRecordFieldOffsetsFollowDeclarationOrder(t *testing.T) {
	wat := generate(t, `type Point is record
  var x : integer;
  var y : real;
end;
routine main() is
  var p : Point is {x: 1, y: 2.0};
  p.x := 3;
  p.y := 4.0;
end`)
	// x is field 0 at offset 0 (4-byte i32); y is field 1 at offset 4 (f64).
	be.True(t, strings.Contains(wat, "i32.const 4\n    i32.add"))
}

func TestRefParameterMutatesCallerStorage(t *testing.T) {
	wat := generate(t, `routine bump(ref n: integer) is
  n := n + 1;
end
routine main() is
  var x : integer is 1;
  bump(x);
end`)
	// A ref parameter lowers to a plain i32 (an address); reads/writes to it
	// inside the callee go through load/store rather than local.get/set.
	be.True(t, strings.Contains(wat, "(func $r_bump (param $p_n i32)"))
	be.True(t, strings.Contains(wat, "i32.load"))
	be.True(t, strings.Contains(wat, "i32.store"))
}

func TestRefToGlobalIsRejected(t *testing.T) {
	p := parser.New(lexer.New(`var g : integer is 1;
routine bump(ref n: integer) is
  n := n + 1;
end
routine main() is
  bump(g);
end`))
	prog, perr := p.ParseProgram()
	be.Err(t, perr, nil)
	a := analyzer.New()
	_, aerr := a.Analyze(prog)
	be.Err(t, aerr, nil)
	optimized, _ := optimizer.New().Optimize(prog)

	_, err := codegen.Generate(optimized, a.Context())
	be.True(t, err != nil)
}

func TestArrayIndexingIsOneBasedInMemory(t *testing.T) {
	wat := generate(t, `routine main() is
  var a : array[3] integer is [1, 2, 3];
  a[1] := 9;
end`)
	// base + header(4) + (index-1)*4: the "- 1" is the one-based adjustment.
	be.True(t, strings.Contains(wat, "i32.const 1\n    i32.sub"))
}

func TestArraySizeLoadsHeaderWord(t *testing.T) {
	wat := generate(t, `routine main() is
  var a : array[3] integer is [1, 2, 3];
  print a.size;
end`)
	be.True(t, strings.Contains(wat, "i32.load\n    call $printInt"))
}

func TestStringEqualityCallsHelper(t *testing.T) {
	wat := generate(t, `routine main() is
  var ok : boolean is "a" = "b";
end`)
	be.True(t, strings.Contains(wat, "call $streq"))
}

func TestIntegerWideningInsertsConversion(t *testing.T) {
	wat := generate(t, `routine main() is
  var x : real is 1;
end`)
	be.True(t, strings.Contains(wat, "f64.convert_i32_s"))
}

func TestRealNarrowingInsertsTruncation(t *testing.T) {
	wat := generate(t, `routine main() is
  var x : integer is 1.5;
end`)
	be.True(t, strings.Contains(wat, "i32.trunc_f64_s"))
}

func TestGlobalInitializersRunInStartFunction(t *testing.T) {
	wat := generate(t, `var total : integer is 1 + 2;`)
	be.True(t, strings.Contains(wat, "$__init_globals"))
	be.True(t, strings.Contains(wat, "(start $__init_globals)"))
}

func TestDeduplicatesStringConstants(t *testing.T) {
	wat := generate(t, `routine main() is
  print "hi";
  print "hi";
end`)
	be.Equal(t, strings.Count(wat, `(data`), 1)
}

func TestForEachIteratesArray(t *testing.T) {
	wat := generate(t, `routine main() is
  var a : array[3] integer is [1, 2, 3];
  for e in a loop
    print e;
  end
end`)
	be.True(t, strings.Contains(wat, "loop $foreach_continue"))
}

func TestReverseForRangeDecrements(t *testing.T) {
	wat := generate(t, `routine main() is
  for i in 1..3 reverse loop
    print i;
  end
end`)
	be.True(t, strings.Contains(wat, "i32.lt_s"))
}
