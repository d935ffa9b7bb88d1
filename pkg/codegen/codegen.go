// Package codegen lowers an analyzed, optimized AST into WebAssembly
// text format. It consults the pkg/symbols.Context the analyzer
// populated for type aliases, routine signatures, and record field
// layouts, but tracks top-level variables and each routine's own locals
// itself as it emits the module.
package codegen

import (
	"bytes"
	"fmt"
	"strconv"

	"routc/pkg/ast"
	"routc/pkg/symbols"
	"routc/pkg/token"
)

// InternalError is panicked on a codegen-time assertion — a branch that
// a semantically valid tree, per the analyzer, should never reach. This
// is the unreachable-branch policy the ref-to-global restriction below
// and the record/array resolution fallbacks rely on.
type InternalError struct{ Message string }

func (e *InternalError) Error() string { return "internal codegen error: " + e.Message }

func internalf(format string, args ...any) {
	panic(&InternalError{Message: fmt.Sprintf(format, args...)})
}

const (
	arrayHeaderSize = 4 // one i32 length word ahead of the element block
)

// varLoc describes where one variable's value lives and how to reach
// it. memoryBacked is set for a true `ref` parameter (the caller passed
// an address) and for any local that collectAddressTaken found passed
// by reference somewhere in its own routine — both are read and written
// through i32.load/store (or f64.load/store) against the address held
// in watName, rather than through local.get/set directly.
type varLoc struct {
	watName      string
	typ          ast.TypeExpr
	isGlobal     bool
	memoryBacked bool
}

type wasmLocal struct {
	name    string
	watType string
}

type recordLayout struct {
	offsets map[string]int
	size    int
}

// Generator holds the state accumulated across one Generate call:
// the deduplicated string table, top-level globals, and the rendered
// text of every routine's function body.
type Generator struct {
	ctx *symbols.Context

	stringOffsets map[string]int
	stringOrder   []string
	dataEnd       int

	globalOrder []string
	globalLocs  map[string]*varLoc
	globalInit  bytes.Buffer

	layouts map[*ast.RecordType]*recordLayout

	funcs             []string
	labelSeq          int
	pendingLocals     []wasmLocal
	currentReturnHint ast.TypeExpr
}

// Generate lowers prog (already checked by pkg/analyzer against ctx and
// rewritten by pkg/optimizer) into WAT module text.
func Generate(prog *ast.Program, ctx *symbols.Context) (wat string, err error) {
	g := &Generator{
		ctx:           ctx,
		stringOffsets: make(map[string]int),
		globalLocs:    make(map[string]*varLoc),
		layouts:       make(map[*ast.RecordType]*recordLayout),
	}
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*InternalError); ok {
				err = ie
				return
			}
			panic(r)
		}
	}()

	g.collectStringsProgram(prog)
	g.assignDataOffsets()
	bumpStart := align8(max(1024, g.dataEnd))

	hasMain := false
	for _, d := range prog.Decls {
		switch v := d.(type) {
		case *ast.VarDecl:
			g.declareGlobal(v)
		case *ast.RoutineDecl:
			if v.Name == "main" {
				hasMain = true
			}
		}
	}
	for _, d := range prog.Decls {
		if rd, ok := d.(*ast.RoutineDecl); ok {
			g.funcs = append(g.funcs, g.genRoutine(rd))
		}
	}
	return g.assemble(bumpStart, hasMain), nil
}

func align8(n int) int { return (n + 7) &^ 7 }
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// --- module assembly ---

func (g *Generator) assemble(bumpStart int, hasMain bool) string {
	var out bytes.Buffer
	out.WriteString("(module\n")
	out.WriteString(`  (import "env" "printInt" (func $printInt (param i32)))` + "\n")
	out.WriteString(`  (import "env" "printFloat" (func $printFloat (param f64)))` + "\n")
	out.WriteString(`  (import "env" "printBool" (func $printBool (param i32)))` + "\n")
	out.WriteString(`  (import "env" "printString" (func $printString (param i32)))` + "\n")
	out.WriteString(`  (import "env" "printNewline" (func $printNewline))` + "\n")
	out.WriteString("  (memory $mem 1)\n")
	out.WriteString(`  (export "memory" (memory $mem))` + "\n")

	fmt.Fprintf(&out, "  (global $bump (mut i32) (i32.const %d))\n", bumpStart)
	for _, name := range g.globalOrder {
		loc := g.globalLocs[name]
		fmt.Fprintf(&out, "  (global %s (mut %s) (%s.const 0))\n", loc.watName, g.watType(loc.typ), g.watType(loc.typ))
	}

	for _, s := range g.stringOrder {
		offset := g.stringOffsets[s]
		fmt.Fprintf(&out, "  (data (i32.const %d) %q)\n", offset, s+"\x00")
	}

	out.WriteString(stringEqualsHelperWAT)
	out.WriteString(bumpAllocHelperWAT)

	out.WriteString("  (func $__init_globals\n")
	out.Write(g.globalInit.Bytes())
	out.WriteString("  )\n")
	out.WriteString("  (start $__init_globals)\n")

	for _, f := range g.funcs {
		out.WriteString(f)
	}

	if hasMain {
		out.WriteString(`  (export "main" (func $r_main))` + "\n")
	}
	out.WriteString(")\n")
	return out.String()
}

const stringEqualsHelperWAT = `  (func $streq (param $a i32) (param $b i32) (result i32)
    (local $ca i32)
    (local $cb i32)
    (block $done
      (loop $again
        local.get $a
        i32.load8_u
        local.set $ca
        local.get $b
        i32.load8_u
        local.set $cb
        local.get $ca
        local.get $cb
        i32.ne
        if
          i32.const 0
          return
        end
        local.get $ca
        i32.eqz
        br_if $done
        local.get $a
        i32.const 1
        i32.add
        local.set $a
        local.get $b
        i32.const 1
        i32.add
        local.set $b
        br $again
      )
    )
    i32.const 1
  )
`

const bumpAllocHelperWAT = `  (func $alloc (param $size i32) (result i32)
    (local $addr i32)
    global.get $bump
    local.set $addr
    global.get $bump
    local.get $size
    i32.add
    global.set $bump
    local.get $addr
  )
`

// --- string table ---

func (g *Generator) collectStringsProgram(prog *ast.Program) {
	for _, d := range prog.Decls {
		switch v := d.(type) {
		case *ast.VarDecl:
			if v.Init != nil {
				g.collectStringsExpr(v.Init)
			}
		case *ast.RoutineDecl:
			if v.Body != nil {
				g.collectStringsBody(v.Body)
			}
			if v.ExprBody != nil {
				g.collectStringsExpr(v.ExprBody)
			}
		}
	}
}

func (g *Generator) collectStringsBody(body ast.Body) {
	for _, s := range body {
		g.collectStringsStmt(s)
	}
}

func (g *Generator) collectStringsStmt(s ast.Statement) {
	switch st := s.(type) {
	case *ast.VarDecl:
		if st.Init != nil {
			g.collectStringsExpr(st.Init)
		}
	case *ast.Assignment:
		g.collectStringsAccesses(st.Target.Accesses)
		g.collectStringsExpr(st.Value)
	case *ast.RoutineCall:
		for _, a := range st.Args {
			g.collectStringsExpr(a)
		}
	case *ast.ReturnStatement:
		if st.Value != nil {
			g.collectStringsExpr(st.Value)
		}
	case *ast.PrintStatement:
		for _, a := range st.Args {
			g.collectStringsExpr(a)
		}
	case *ast.IfStatement:
		g.collectStringsExpr(st.Cond)
		g.collectStringsBody(st.Then)
		g.collectStringsBody(st.Else)
	case *ast.WhileLoop:
		g.collectStringsExpr(st.Cond)
		g.collectStringsBody(st.Body)
	case *ast.ForLoop:
		if st.Range.Start != nil {
			g.collectStringsExpr(st.Range.Start)
		}
		g.collectStringsExpr(st.Range.End)
		g.collectStringsBody(st.Body)
	}
}

func (g *Generator) collectStringsAccesses(accesses []ast.Access) {
	for _, a := range accesses {
		if idx, ok := a.(*ast.IndexAccess); ok {
			g.collectStringsExpr(idx.Index)
		}
	}
}

func (g *Generator) collectStringsExpr(e ast.Expression) {
	switch ex := e.(type) {
	case *ast.StringLiteral:
		if _, ok := g.stringOffsets[ex.Value]; !ok {
			g.stringOffsets[ex.Value] = -1
			g.stringOrder = append(g.stringOrder, ex.Value)
		}
	case *ast.ModifiablePrimary:
		g.collectStringsAccesses(ex.Accesses)
	case *ast.BinaryExpr:
		g.collectStringsExpr(ex.Left)
		g.collectStringsExpr(ex.Right)
	case *ast.UnaryExpr:
		g.collectStringsExpr(ex.Operand)
	case *ast.RoutineCall:
		for _, a := range ex.Args {
			g.collectStringsExpr(a)
		}
	case *ast.FunctionCall:
		for _, a := range ex.Args {
			g.collectStringsExpr(a)
		}
	case *ast.ArrayLit:
		for _, el := range ex.Elements {
			g.collectStringsExpr(el)
		}
	case *ast.RecordLit:
		for _, f := range ex.Fields {
			g.collectStringsExpr(f.Value)
		}
	}
}

// assignDataOffsets lays the deduplicated strings out starting at byte
// 8 (leaving the first machine word free of any real allocation, so a
// stray null pointer never aliases live data).
func (g *Generator) assignDataOffsets() {
	offset := 8
	for _, s := range g.stringOrder {
		g.stringOffsets[s] = offset
		offset += len(s) + 1
	}
	g.dataEnd = offset
}

// --- type helpers ---

func (g *Generator) resolveAlias(t ast.TypeExpr) ast.TypeExpr {
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
		next, ok := g.ctx.LookupType(ut.Name)
		if !ok {
			internalf("undeclared type %q reached codegen", ut.Name)
		}
		t = next
	}
}

// watType reports the WASM value type a source type lowers to: f64 for
// real, i32 for everything else (integer, boolean, and every pointer
// representation — string, array, record).
func (g *Generator) watType(t ast.TypeExpr) string {
	if pt, ok := g.resolveAlias(t).(*ast.PrimitiveType); ok && pt.Kind == ast.RealType {
		return "f64"
	}
	return "i32"
}

// sizeOf is the in-memory size of one value of type t: 8 bytes for a
// real field, 4 bytes otherwise. Used by layoutOf to compute record
// field offsets from declaration order instead of a fixed layout.
func (g *Generator) sizeOf(t ast.TypeExpr) int {
	if g.watType(t) == "f64" {
		return 8
	}
	return 4
}

func (g *Generator) layoutOf(rec *ast.RecordType) *recordLayout {
	if l, ok := g.layouts[rec]; ok {
		return l
	}
	l := &recordLayout{offsets: make(map[string]int)}
	offset := 0
	for _, f := range rec.Fields {
		l.offsets[f.Name] = offset
		offset += g.sizeOf(f.Type)
	}
	l.size = offset
	g.layouts[rec] = l
	return l
}

func loadOp(watType string) string {
	if watType == "f64" {
		return "f64.load"
	}
	return "i32.load"
}

func storeOp(watType string) string {
	if watType == "f64" {
		return "f64.store"
	}
	return "i32.store"
}

func intType() *ast.PrimitiveType  { return &ast.PrimitiveType{Kind: ast.IntegerType} }
func boolType() *ast.PrimitiveType { return &ast.PrimitiveType{Kind: ast.BooleanType} }

// --- global variables ---

func (g *Generator) declareGlobal(v *ast.VarDecl) {
	typ := v.Type
	if typ == nil {
		typ = g.typeOf(v.Init, nil)
	}
	loc := &varLoc{watName: "$g_" + v.Name, typ: typ, isGlobal: true}
	g.globalLocs[v.Name] = loc
	g.globalOrder = append(g.globalOrder, v.Name)

	if v.Init != nil {
		g.emitExpr(&g.globalInit, nil, v.Init, typ)
		fmt.Fprintf(&g.globalInit, "    global.set %s\n", loc.watName)
	}
}

func (g *Generator) lookupVar(locals *localEnv, name string) *varLoc {
	if locals != nil {
		if loc, ok := locals.lookup(name); ok {
			return loc
		}
	}
	if loc, ok := g.globalLocs[name]; ok {
		return loc
	}
	internalf("undeclared variable %q reached codegen", name)
	return nil
}

// --- local scope tracking ---

type localEnv struct {
	scopes []map[string]*varLoc
}

func newLocalEnv() *localEnv { return &localEnv{} }

func (le *localEnv) push() { le.scopes = append(le.scopes, make(map[string]*varLoc)) }
func (le *localEnv) pop()  { le.scopes = le.scopes[:len(le.scopes)-1] }

func (le *localEnv) declare(name string, loc *varLoc) {
	le.scopes[len(le.scopes)-1][name] = loc
}

func (le *localEnv) lookup(name string) (*varLoc, bool) {
	for i := len(le.scopes) - 1; i >= 0; i-- {
		if loc, ok := le.scopes[i][name]; ok {
			return loc, true
		}
	}
	return nil, false
}

// --- routine codegen ---

func (g *Generator) genRoutine(rd *ast.RoutineDecl) string {
	g.pendingLocals = nil
	g.labelSeq = 0
	g.currentReturnHint = rd.ReturnType
	locals := newLocalEnv()
	locals.push()

	addressTaken := collectAddressTaken(rd)

	var sigParams bytes.Buffer
	var prologue bytes.Buffer
	for _, p := range rd.Params {
		paramWatName := "$p_" + p.Name
		var watT string
		if p.ByRef {
			watT = "i32"
		} else {
			watT = g.watType(p.Type)
		}
		fmt.Fprintf(&sigParams, " (param %s %s)", paramWatName, watT)

		switch {
		case p.ByRef:
			locals.declare(p.Name, &varLoc{watName: paramWatName, typ: p.Type, memoryBacked: true})
		case addressTaken[p.Name]:
			slotName := g.spillToMemory(&prologue, p.Name, p.Type)
			fmt.Fprintf(&prologue, "    local.get %s\n    local.get %s\n    %s\n",
				slotName, paramWatName, storeOp(g.watType(p.Type)))
			locals.declare(p.Name, &varLoc{watName: slotName, typ: p.Type, memoryBacked: true})
		default:
			locals.declare(p.Name, &varLoc{watName: paramWatName, typ: p.Type})
		}
	}

	var body bytes.Buffer
	body.Write(prologue.Bytes())
	if rd.ExprBody != nil {
		g.emitExpr(&body, locals, rd.ExprBody, rd.ReturnType)
	} else {
		g.genBody(&body, locals, rd.Body, addressTaken)
		if rd.ReturnType != nil {
			body.WriteString("    unreachable\n")
		}
	}
	locals.pop()

	var out bytes.Buffer
	fmt.Fprintf(&out, "  (func $r_%s%s", rd.Name, sigParams.String())
	if rd.ReturnType != nil {
		fmt.Fprintf(&out, " (result %s)", g.watType(rd.ReturnType))
	}
	out.WriteString("\n")
	for _, l := range g.pendingLocals {
		fmt.Fprintf(&out, "    (local %s %s)\n", l.name, l.watType)
	}
	out.Write(body.Bytes())
	out.WriteString("  )\n")
	return out.String()
}

// spillToMemory allocates a memory slot for a variable that some call
// site in this routine takes the address of, and declares the i32 local
// that holds that slot's address. Called once per address-taken
// variable, at function entry.
func (g *Generator) spillToMemory(buf *bytes.Buffer, name string, typ ast.TypeExpr) string {
	slotName := g.newLocal("$slot_"+name, "i32")
	fmt.Fprintf(buf, "    i32.const %d\n    call $alloc\n    local.set %s\n", g.sizeOf(typ), slotName)
	return slotName
}

func (g *Generator) newLocal(name, watType string) string {
	g.pendingLocals = append(g.pendingLocals, wasmLocal{name: name, watType: watType})
	return name
}

func (g *Generator) newLabel(prefix string) string {
	g.labelSeq++
	return fmt.Sprintf("$%s_%d", prefix, g.labelSeq)
}

// collectAddressTaken scans one routine's body for call sites passing a
// bare identifier as an argument (to any parameter, ref or not),
// returning the set of this routine's own variable names that therefore
// get memory-backed storage instead of a plain WASM local.
func collectAddressTaken(rd *ast.RoutineDecl) map[string]bool {
	taken := make(map[string]bool)
	var walkExpr func(ast.Expression)
	var walkBody func(ast.Body)

	markCall := func(name string, args []ast.Expression) {
		// The callee's own symbol (and therefore which parameters are
		// ref) isn't threaded through this pre-pass; it conservatively
		// marks every bare identifier argument to any call, which only
		// grows the address-taken set beyond what's strictly needed for
		// non-ref calls (harmless: an unnecessarily memory-backed local
		// still reads and writes correctly, just through one extra
		// load/store).
		_ = name
		for _, a := range args {
			if id, ok := a.(*ast.Identifier); ok {
				taken[id.Name] = true
			}
		}
	}

	walkExpr = func(e ast.Expression) {
		switch ex := e.(type) {
		case *ast.BinaryExpr:
			walkExpr(ex.Left)
			walkExpr(ex.Right)
		case *ast.UnaryExpr:
			walkExpr(ex.Operand)
		case *ast.RoutineCall:
			markCall(ex.Name, ex.Args)
			for _, a := range ex.Args {
				walkExpr(a)
			}
		case *ast.FunctionCall:
			markCall(ex.Name, ex.Args)
			for _, a := range ex.Args {
				walkExpr(a)
			}
		case *ast.ArrayLit:
			for _, el := range ex.Elements {
				walkExpr(el)
			}
		case *ast.RecordLit:
			for _, f := range ex.Fields {
				walkExpr(f.Value)
			}
		case *ast.ModifiablePrimary:
			for _, a := range ex.Accesses {
				if idx, ok := a.(*ast.IndexAccess); ok {
					walkExpr(idx.Index)
				}
			}
		}
	}
	walkBody = func(body ast.Body) {
		for _, s := range body {
			switch st := s.(type) {
			case *ast.VarDecl:
				if st.Init != nil {
					walkExpr(st.Init)
				}
			case *ast.Assignment:
				walkExpr(st.Value)
			case *ast.RoutineCall:
				markCall(st.Name, st.Args)
				for _, a := range st.Args {
					walkExpr(a)
				}
			case *ast.ReturnStatement:
				if st.Value != nil {
					walkExpr(st.Value)
				}
			case *ast.PrintStatement:
				for _, a := range st.Args {
					walkExpr(a)
				}
			case *ast.IfStatement:
				walkExpr(st.Cond)
				walkBody(st.Then)
				walkBody(st.Else)
			case *ast.WhileLoop:
				walkExpr(st.Cond)
				walkBody(st.Body)
			case *ast.ForLoop:
				if st.Range.Start != nil {
					walkExpr(st.Range.Start)
				}
				walkExpr(st.Range.End)
				walkBody(st.Body)
			}
		}
	}

	if rd.Body != nil {
		walkBody(rd.Body)
	}
	if rd.ExprBody != nil {
		walkExpr(rd.ExprBody)
	}
	return taken
}

// --- statements ---

func (g *Generator) genBody(buf *bytes.Buffer, locals *localEnv, body ast.Body, addressTaken map[string]bool) {
	for _, s := range body {
		g.genStmt(buf, locals, s, addressTaken)
	}
}

func (g *Generator) genScopedBody(buf *bytes.Buffer, locals *localEnv, body ast.Body, addressTaken map[string]bool) {
	locals.push()
	g.genBody(buf, locals, body, addressTaken)
	locals.pop()
}

func (g *Generator) declareLocalVar(buf *bytes.Buffer, locals *localEnv, name string, typ ast.TypeExpr, addressTaken map[string]bool) *varLoc {
	if addressTaken[name] {
		slot := g.spillToMemory(buf, name, typ)
		loc := &varLoc{watName: slot, typ: typ, memoryBacked: true}
		locals.declare(name, loc)
		return loc
	}
	watName := g.newLocal("$l_"+name+"_"+strconv.Itoa(len(g.pendingLocals)), g.watType(typ))
	loc := &varLoc{watName: watName, typ: typ}
	locals.declare(name, loc)
	return loc
}

func (g *Generator) genStmt(buf *bytes.Buffer, locals *localEnv, s ast.Statement, addressTaken map[string]bool) {
	switch st := s.(type) {
	case *ast.VarDecl:
		typ := st.Type
		if typ == nil {
			typ = g.typeOf(st.Init, locals)
		}
		loc := g.declareLocalVar(buf, locals, st.Name, typ, addressTaken)
		if st.Init != nil {
			g.emitStoreScalar(buf, locals, loc, st.Init)
		}
	case *ast.TypeDecl:
		// Local type aliases carry no runtime representation; nothing to emit.
	case *ast.Assignment:
		g.genAssignment(buf, locals, st)
	case *ast.RoutineCall:
		resultType := g.emitCall(buf, locals, st.Name, st.Args)
		if resultType != nil {
			buf.WriteString("    drop\n")
		}
	case *ast.ReturnStatement:
		if st.Value != nil {
			routineReturnType := g.currentReturnHint
			g.emitExpr(buf, locals, st.Value, routineReturnType)
		}
		buf.WriteString("    return\n")
	case *ast.PrintStatement:
		g.genPrint(buf, locals, st)
	case *ast.IfStatement:
		g.genIf(buf, locals, st, addressTaken)
	case *ast.WhileLoop:
		g.genWhile(buf, locals, st, addressTaken)
	case *ast.ForLoop:
		g.genFor(buf, locals, st, addressTaken)
	}
}

func (g *Generator) emitStoreScalar(buf *bytes.Buffer, locals *localEnv, loc *varLoc, value ast.Expression) {
	if loc.memoryBacked {
		fmt.Fprintf(buf, "    local.get %s\n", loc.watName)
		g.emitExpr(buf, locals, value, loc.typ)
		buf.WriteString("    " + storeOp(g.watType(loc.typ)) + "\n")
		return
	}
	g.emitExpr(buf, locals, value, loc.typ)
	fmt.Fprintf(buf, "    local.set %s\n", loc.watName)
}

func (g *Generator) genAssignment(buf *bytes.Buffer, locals *localEnv, s *ast.Assignment) {
	loc := g.lookupVar(locals, s.Target.Base)
	if len(s.Target.Accesses) == 0 {
		if loc.isGlobal {
			g.emitExpr(buf, locals, s.Value, loc.typ)
			fmt.Fprintf(buf, "    global.set %s\n", loc.watName)
			return
		}
		g.emitStoreScalar(buf, locals, loc, s.Value)
		return
	}

	finalType := g.emitAddressChain(buf, locals, loc, s.Target.Accesses)
	g.emitExpr(buf, locals, s.Value, finalType)
	buf.WriteString("    " + storeOp(g.watType(finalType)) + "\n")
}

// emitAddressChain pushes the address reached by walking loc's base
// value through a chain of index/field accesses, leaving it on the
// stack, and returns the type found there.
func (g *Generator) emitAddressChain(buf *bytes.Buffer, locals *localEnv, loc *varLoc, accesses []ast.Access) ast.TypeExpr {
	if loc.isGlobal {
		fmt.Fprintf(buf, "    global.get %s\n", loc.watName)
	} else if loc.memoryBacked {
		fmt.Fprintf(buf, "    local.get %s\n    %s\n", loc.watName, loadOp(g.watType(loc.typ)))
	} else {
		fmt.Fprintf(buf, "    local.get %s\n", loc.watName)
	}

	cur := loc.typ
	for _, acc := range accesses {
		switch ac := acc.(type) {
		case *ast.IndexAccess:
			resolved, ok := g.resolveAlias(cur).(*ast.ArrayType)
			if !ok {
				internalf("index access on non-array type %s reached codegen", cur)
			}
			elemSize := g.sizeOf(resolved.Elem)
			buf.WriteString("    i32.const " + strconv.Itoa(arrayHeaderSize) + "\n    i32.add\n")
			g.emitExpr(buf, locals, ac.Index, intType())
			buf.WriteString("    i32.const 1\n    i32.sub\n")
			fmt.Fprintf(buf, "    i32.const %d\n    i32.mul\n    i32.add\n", elemSize)
			cur = resolved.Elem
		case *ast.FieldAccess:
			if ac.Name == "size" {
				if _, ok := g.resolveAlias(cur).(*ast.ArrayType); ok {
					// The header word lives at the array's own base address,
					// so the address chain built so far already points at it.
					cur = intType()
					continue
				}
			}
			rec, ok := symbols.ResolveRecordType(g.ctx, cur)
			if !ok {
				internalf("field access on non-record type %s reached codegen", cur)
			}
			layout := g.layoutOf(rec)
			offset, ok := layout.offsets[ac.Name]
			if !ok {
				internalf("unknown field %q reached codegen", ac.Name)
			}
			fmt.Fprintf(buf, "    i32.const %d\n    i32.add\n", offset)
			for _, f := range rec.Fields {
				if f.Name == ac.Name {
					cur = f.Type
				}
			}
		}
	}
	return cur
}

func (g *Generator) genPrint(buf *bytes.Buffer, locals *localEnv, st *ast.PrintStatement) {
	for _, arg := range st.Args {
		t := g.typeOf(arg, locals)
		pt, _ := g.resolveAlias(t).(*ast.PrimitiveType)
		switch {
		case pt != nil && pt.Kind == ast.RealType:
			g.emitExpr(buf, locals, arg, t)
			buf.WriteString("    call $printFloat\n")
		case pt != nil && pt.Kind == ast.BooleanType:
			g.emitExpr(buf, locals, arg, t)
			buf.WriteString("    call $printBool\n")
		case pt != nil && pt.Kind == ast.StringType:
			g.emitExpr(buf, locals, arg, t)
			buf.WriteString("    call $printString\n")
		default:
			g.emitExpr(buf, locals, arg, t)
			buf.WriteString("    call $printInt\n")
		}
	}
	buf.WriteString("    call $printNewline\n")
}

func (g *Generator) genIf(buf *bytes.Buffer, locals *localEnv, st *ast.IfStatement, addressTaken map[string]bool) {
	g.emitExpr(buf, locals, st.Cond, boolType())
	buf.WriteString("    if\n")
	g.genScopedBody(buf, locals, st.Then, addressTaken)
	if st.Else != nil {
		buf.WriteString("    else\n")
		g.genScopedBody(buf, locals, st.Else, addressTaken)
	}
	buf.WriteString("    end\n")
}

func (g *Generator) genWhile(buf *bytes.Buffer, locals *localEnv, st *ast.WhileLoop, addressTaken map[string]bool) {
	exitLabel := g.newLabel("while_exit")
	continueLabel := g.newLabel("while_continue")
	fmt.Fprintf(buf, "    block %s\n      loop %s\n", exitLabel, continueLabel)
	g.emitExpr(buf, locals, st.Cond, boolType())
	buf.WriteString("      i32.eqz\n      br_if " + exitLabel + "\n")
	g.genScopedBody(buf, locals, st.Body, addressTaken)
	fmt.Fprintf(buf, "      br %s\n      end\n    end\n", continueLabel)
}

func (g *Generator) genFor(buf *bytes.Buffer, locals *localEnv, st *ast.ForLoop, addressTaken map[string]bool) {
	locals.push()
	defer locals.pop()

	if st.IsForEach() {
		g.genForEach(buf, locals, st, addressTaken)
		return
	}

	loopVarType := intType()
	loopLoc := g.declareLocalVar(buf, locals, st.Var, loopVarType, addressTaken)
	endName := g.newLocal(g.newLabel("for_end"), "i32")

	g.emitStoreScalar(buf, locals, loopLoc, st.Range.Start)
	g.emitExpr(buf, locals, st.Range.End, intType())
	fmt.Fprintf(buf, "    local.set %s\n", endName)

	exitLabel := g.newLabel("for_exit")
	continueLabel := g.newLabel("for_continue")
	fmt.Fprintf(buf, "    block %s\n      loop %s\n", exitLabel, continueLabel)
	g.emitLoadVar(buf, loopLoc)
	fmt.Fprintf(buf, "      local.get %s\n", endName)
	if st.Reverse {
		buf.WriteString("      i32.lt_s\n")
	} else {
		buf.WriteString("      i32.gt_s\n")
	}
	buf.WriteString("      br_if " + exitLabel + "\n")
	g.genBody(buf, locals, st.Body, addressTaken)
	if loopLoc.memoryBacked {
		fmt.Fprintf(buf, "      local.get %s\n", loopLoc.watName)
	}
	g.emitLoadVar(buf, loopLoc)
	if st.Reverse {
		buf.WriteString("      i32.const 1\n      i32.sub\n")
	} else {
		buf.WriteString("      i32.const 1\n      i32.add\n")
	}
	if loopLoc.memoryBacked {
		buf.WriteString("      i32.store\n")
	} else {
		fmt.Fprintf(buf, "      local.set %s\n", loopLoc.watName)
	}
	fmt.Fprintf(buf, "      br %s\n      end\n    end\n", continueLabel)
}

func (g *Generator) genForEach(buf *bytes.Buffer, locals *localEnv, st *ast.ForLoop, addressTaken map[string]bool) {
	arrType, ok := g.resolveAlias(g.typeOf(st.Range.End, locals)).(*ast.ArrayType)
	if !ok {
		internalf("for-each over non-array type reached codegen")
	}
	elemSize := g.sizeOf(arrType.Elem)

	arrName := g.newLocal(g.newLabel("for_arr"), "i32")
	idxName := g.newLocal(g.newLabel("for_idx"), "i32")
	lenName := g.newLocal(g.newLabel("for_len"), "i32")
	loopLoc := g.declareLocalVar(buf, locals, st.Var, arrType.Elem, addressTaken)

	g.emitExpr(buf, locals, st.Range.End, nil)
	fmt.Fprintf(buf, "    local.set %s\n", arrName)
	fmt.Fprintf(buf, "    local.get %s\n    i32.load\n    local.set %s\n", arrName, lenName)

	if st.Reverse {
		fmt.Fprintf(buf, "    local.get %s\n    i32.const 1\n    i32.sub\n    local.set %s\n", lenName, idxName)
	} else {
		fmt.Fprintf(buf, "    i32.const 0\n    local.set %s\n", idxName)
	}

	exitLabel := g.newLabel("foreach_exit")
	continueLabel := g.newLabel("foreach_continue")
	fmt.Fprintf(buf, "    block %s\n      loop %s\n", exitLabel, continueLabel)
	if st.Reverse {
		fmt.Fprintf(buf, "      local.get %s\n      i32.const 0\n      i32.lt_s\n      br_if %s\n", idxName, exitLabel)
	} else {
		fmt.Fprintf(buf, "      local.get %s\n      local.get %s\n      i32.ge_s\n      br_if %s\n", idxName, lenName, exitLabel)
	}

	if loopLoc.memoryBacked {
		fmt.Fprintf(buf, "      local.get %s\n", loopLoc.watName)
	}
	fmt.Fprintf(buf, "      local.get %s\n      i32.const %d\n      i32.add\n      local.get %s\n      i32.const %d\n      i32.mul\n      i32.add\n",
		arrName, arrayHeaderSize, idxName, elemSize)
	buf.WriteString("      " + loadOp(g.watType(arrType.Elem)) + "\n")
	if loopLoc.memoryBacked {
		buf.WriteString("      " + storeOp(g.watType(arrType.Elem)) + "\n")
	} else {
		fmt.Fprintf(buf, "      local.set %s\n", loopLoc.watName)
	}

	g.genBody(buf, locals, st.Body, addressTaken)

	if st.Reverse {
		fmt.Fprintf(buf, "      local.get %s\n      i32.const 1\n      i32.sub\n      local.set %s\n", idxName, idxName)
	} else {
		fmt.Fprintf(buf, "      local.get %s\n      i32.const 1\n      i32.add\n      local.set %s\n", idxName, idxName)
	}
	fmt.Fprintf(buf, "      br %s\n      end\n    end\n", continueLabel)
}

// --- expressions ---

func (g *Generator) emitExpr(buf *bytes.Buffer, locals *localEnv, e ast.Expression, target ast.TypeExpr) ast.TypeExpr {
	natural := g.emitExprRaw(buf, locals, e)
	return g.coerce(buf, natural, target)
}

func (g *Generator) coerce(buf *bytes.Buffer, natural, target ast.TypeExpr) ast.TypeExpr {
	if target == nil || natural == nil {
		return natural
	}
	np, nok := g.resolveAlias(natural).(*ast.PrimitiveType)
	tp, tok := g.resolveAlias(target).(*ast.PrimitiveType)
	if !nok || !tok || np.Kind == tp.Kind {
		return natural
	}
	switch {
	case tp.Kind == ast.RealType && np.Kind == ast.IntegerType:
		buf.WriteString("    f64.convert_i32_s\n")
		return target
	case tp.Kind == ast.IntegerType && np.Kind == ast.RealType:
		buf.WriteString("    i32.trunc_f64_s\n")
		return target
	}
	return natural
}

func (g *Generator) emitExprRaw(buf *bytes.Buffer, locals *localEnv, e ast.Expression) ast.TypeExpr {
	switch ex := e.(type) {
	case *ast.IntegerLiteral:
		fmt.Fprintf(buf, "    i32.const %d\n", ex.Value)
		return intType()
	case *ast.RealLiteral:
		fmt.Fprintf(buf, "    f64.const %s\n", strconv.FormatFloat(ex.Value, 'g', -1, 64))
		return &ast.PrimitiveType{Kind: ast.RealType}
	case *ast.BoolLiteral:
		v := 0
		if ex.Value {
			v = 1
		}
		fmt.Fprintf(buf, "    i32.const %d\n", v)
		return boolType()
	case *ast.StringLiteral:
		fmt.Fprintf(buf, "    i32.const %d\n", g.stringOffsets[ex.Value])
		return &ast.PrimitiveType{Kind: ast.StringType}
	case *ast.Identifier:
		loc := g.lookupVar(locals, ex.Name)
		g.emitLoadVar(buf, loc)
		return loc.typ
	case *ast.ModifiablePrimary:
		loc := g.lookupVar(locals, ex.Base)
		if len(ex.Accesses) == 0 {
			g.emitLoadVar(buf, loc)
			return loc.typ
		}
		finalType := g.emitAddressChain(buf, locals, loc, ex.Accesses)
		buf.WriteString("    " + loadOp(g.watType(finalType)) + "\n")
		return finalType
	case *ast.BinaryExpr:
		return g.emitBinary(buf, locals, ex)
	case *ast.UnaryExpr:
		return g.emitUnary(buf, locals, ex)
	case *ast.RoutineCall:
		return g.emitCall(buf, locals, ex.Name, ex.Args)
	case *ast.FunctionCall:
		return g.emitCall(buf, locals, ex.Name, ex.Args)
	case *ast.ArrayLit:
		return g.emitArrayLit(buf, locals, ex)
	case *ast.RecordLit:
		return g.emitRecordLit(buf, locals, ex)
	default:
		internalf("unhandled expression %T reached codegen", e)
		return nil
	}
}

func (g *Generator) emitLoadVar(buf *bytes.Buffer, loc *varLoc) {
	switch {
	case loc.isGlobal:
		fmt.Fprintf(buf, "    global.get %s\n", loc.watName)
	case loc.memoryBacked:
		fmt.Fprintf(buf, "    local.get %s\n    %s\n", loc.watName, loadOp(g.watType(loc.typ)))
	default:
		fmt.Fprintf(buf, "    local.get %s\n", loc.watName)
	}
}

func (g *Generator) arithResultType(left, right ast.TypeExpr) ast.TypeExpr {
	lp, _ := g.resolveAlias(left).(*ast.PrimitiveType)
	rp, _ := g.resolveAlias(right).(*ast.PrimitiveType)
	if (lp != nil && lp.Kind == ast.RealType) || (rp != nil && rp.Kind == ast.RealType) {
		return &ast.PrimitiveType{Kind: ast.RealType}
	}
	return intType()
}

func (g *Generator) emitBinary(buf *bytes.Buffer, locals *localEnv, ex *ast.BinaryExpr) ast.TypeExpr {
	leftType := g.typeOf(ex.Left, locals)
	rightType := g.typeOf(ex.Right, locals)

	switch ex.Op {
	case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT:
		promoted := g.arithResultType(leftType, rightType)
		g.emitExpr(buf, locals, ex.Left, promoted)
		g.emitExpr(buf, locals, ex.Right, promoted)
		buf.WriteString("    " + arithOp(ex.Op, g.watType(promoted)) + "\n")
		return promoted
	case token.LT, token.LE, token.GT, token.GE:
		promoted := g.arithResultType(leftType, rightType)
		g.emitExpr(buf, locals, ex.Left, promoted)
		g.emitExpr(buf, locals, ex.Right, promoted)
		buf.WriteString("    " + compareOp(ex.Op, g.watType(promoted)) + "\n")
		return boolType()
	case token.EQ, token.NEQ:
		return g.emitEquality(buf, locals, ex, leftType, rightType)
	case token.AND, token.OR, token.XOR:
		g.emitExpr(buf, locals, ex.Left, boolType())
		g.emitExpr(buf, locals, ex.Right, boolType())
		buf.WriteString("    " + logicalOp(ex.Op) + "\n")
		return boolType()
	default:
		internalf("unhandled binary operator %s reached codegen", ex.Op)
		return nil
	}
}

func (g *Generator) emitEquality(buf *bytes.Buffer, locals *localEnv, ex *ast.BinaryExpr, leftType, rightType ast.TypeExpr) ast.TypeExpr {
	lp, _ := g.resolveAlias(leftType).(*ast.PrimitiveType)
	if lp != nil && lp.Kind == ast.StringType {
		g.emitExpr(buf, locals, ex.Left, leftType)
		g.emitExpr(buf, locals, ex.Right, rightType)
		buf.WriteString("    call $streq\n")
		if ex.Op == token.NEQ {
			buf.WriteString("    i32.eqz\n")
		}
		return boolType()
	}
	if lp != nil && (lp.Kind == ast.IntegerType || lp.Kind == ast.RealType) {
		promoted := g.arithResultType(leftType, rightType)
		g.emitExpr(buf, locals, ex.Left, promoted)
		g.emitExpr(buf, locals, ex.Right, promoted)
		buf.WriteString("    " + compareOp(ex.Op, g.watType(promoted)) + "\n")
		return boolType()
	}
	// boolean or pointer (array/record) identity comparison.
	g.emitExpr(buf, locals, ex.Left, leftType)
	g.emitExpr(buf, locals, ex.Right, leftType)
	if ex.Op == token.EQ {
		buf.WriteString("    i32.eq\n")
	} else {
		buf.WriteString("    i32.ne\n")
	}
	return boolType()
}

func (g *Generator) emitUnary(buf *bytes.Buffer, locals *localEnv, ex *ast.UnaryExpr) ast.TypeExpr {
	switch ex.Op {
	case token.NOT:
		g.emitExpr(buf, locals, ex.Operand, boolType())
		buf.WriteString("    i32.eqz\n")
		return boolType()
	case token.MINUS:
		t := g.typeOf(ex.Operand, locals)
		if g.watType(t) == "f64" {
			g.emitExpr(buf, locals, ex.Operand, t)
			buf.WriteString("    f64.neg\n")
		} else {
			buf.WriteString("    i32.const 0\n")
			g.emitExpr(buf, locals, ex.Operand, t)
			buf.WriteString("    i32.sub\n")
		}
		return t
	default:
		internalf("unhandled unary operator %s reached codegen", ex.Op)
		return nil
	}
}

func arithOp(op token.Type, watType string) string {
	real := watType == "f64"
	switch op {
	case token.PLUS:
		if real {
			return "f64.add"
		}
		return "i32.add"
	case token.MINUS:
		if real {
			return "f64.sub"
		}
		return "i32.sub"
	case token.STAR:
		if real {
			return "f64.mul"
		}
		return "i32.mul"
	case token.SLASH:
		if real {
			return "f64.div"
		}
		return "i32.div_s"
	case token.PERCENT:
		return "i32.rem_s"
	}
	return ""
}

// compareOp spells f64 comparisons correctly (f64.lt, f64.le, ...), not
// the invalid f64.lt_s family an integer-only naming scheme might
// suggest.
func compareOp(op token.Type, watType string) string {
	real := watType == "f64"
	switch op {
	case token.LT:
		if real {
			return "f64.lt"
		}
		return "i32.lt_s"
	case token.LE:
		if real {
			return "f64.le"
		}
		return "i32.le_s"
	case token.GT:
		if real {
			return "f64.gt"
		}
		return "i32.gt_s"
	case token.GE:
		if real {
			return "f64.ge"
		}
		return "i32.ge_s"
	case token.EQ:
		if real {
			return "f64.eq"
		}
		return "i32.eq"
	case token.NEQ:
		if real {
			return "f64.ne"
		}
		return "i32.ne"
	}
	return ""
}

func logicalOp(op token.Type) string {
	switch op {
	case token.AND:
		return "i32.and"
	case token.OR:
		return "i32.or"
	case token.XOR:
		return "i32.xor"
	}
	return ""
}

// emitCall looks the callee up by name, rejects a ref argument that
// resolves to a global (WASM globals have no addressable memory
// location), and otherwise pushes either the argument's value or, for a
// ref parameter, the address of the memory-backed local it names.
func (g *Generator) emitCall(buf *bytes.Buffer, locals *localEnv, name string, args []ast.Expression) ast.TypeExpr {
	sym, ok := g.ctx.LookupRoutine(name)
	if !ok {
		internalf("undeclared routine %q reached codegen", name)
	}
	for i, arg := range args {
		param := sym.Params[i]
		if param.ByRef {
			id, ok := arg.(*ast.Identifier)
			if !ok {
				internalf("ref argument %d to %q is not a bare identifier", i+1, name)
			}
			loc := g.lookupVar(locals, id.Name)
			if loc.isGlobal {
				internalf("cannot pass global %q by reference: WASM globals are not addressable", id.Name)
			}
			fmt.Fprintf(buf, "    local.get %s\n", loc.watName)
			continue
		}
		g.emitExpr(buf, locals, arg, param.Type)
	}
	fmt.Fprintf(buf, "    call $r_%s\n", name)
	return sym.ReturnType
}

func (g *Generator) emitArrayLit(buf *bytes.Buffer, locals *localEnv, ex *ast.ArrayLit) ast.TypeExpr {
	elemType := g.typeOf(ex.Elements[0], locals)
	elemSize := g.sizeOf(elemType)
	totalSize := arrayHeaderSize + elemSize*len(ex.Elements)

	ptrName := g.newLocal(g.newLabel("arrlit"), "i32")
	fmt.Fprintf(buf, "    i32.const %d\n    call $alloc\n    local.set %s\n", totalSize, ptrName)
	fmt.Fprintf(buf, "    local.get %s\n    i32.const %d\n    i32.store\n", ptrName, len(ex.Elements))

	for i, el := range ex.Elements {
		fmt.Fprintf(buf, "    local.get %s\n    i32.const %d\n    i32.add\n", ptrName, arrayHeaderSize+i*elemSize)
		g.emitExpr(buf, locals, el, elemType)
		buf.WriteString("    " + storeOp(g.watType(elemType)) + "\n")
	}
	fmt.Fprintf(buf, "    local.get %s\n", ptrName)
	return &ast.ArrayType{Size: &ast.IntegerLiteral{Value: int32(len(ex.Elements))}, Elem: elemType}
}

func (g *Generator) emitRecordLit(buf *bytes.Buffer, locals *localEnv, ex *ast.RecordLit) ast.TypeExpr {
	fieldTypes := make([]ast.TypeExpr, len(ex.Fields))
	fields := make([]*ast.VarDecl, len(ex.Fields))
	for i, f := range ex.Fields {
		fieldTypes[i] = g.typeOf(f.Value, locals)
		fields[i] = &ast.VarDecl{Name: f.Name, Type: fieldTypes[i]}
	}
	synthetic := &ast.RecordType{Fields: fields}
	layout := g.layoutOf(synthetic)

	ptrName := g.newLocal(g.newLabel("reclit"), "i32")
	fmt.Fprintf(buf, "    i32.const %d\n    call $alloc\n    local.set %s\n", layout.size, ptrName)
	for i, f := range ex.Fields {
		offset := layout.offsets[f.Name]
		fmt.Fprintf(buf, "    local.get %s\n    i32.const %d\n    i32.add\n", ptrName, offset)
		g.emitExpr(buf, locals, f.Value, fieldTypes[i])
		buf.WriteString("    " + storeOp(g.watType(fieldTypes[i])) + "\n")
	}
	fmt.Fprintf(buf, "    local.get %s\n", ptrName)
	return synthetic
}

// typeOf re-derives an already-checked expression's static type during
// codegen; the analyzer's own symbol scopes are gone by this point
// (routine-local ones pop on exit), so codegen keeps its own localEnv
// and mirrors the analyzer's type rules against it plus the
// still-live, never-popped top-level scope in ctx.
func (g *Generator) typeOf(e ast.Expression, locals *localEnv) ast.TypeExpr {
	switch ex := e.(type) {
	case *ast.IntegerLiteral:
		return intType()
	case *ast.RealLiteral:
		return &ast.PrimitiveType{Kind: ast.RealType}
	case *ast.BoolLiteral:
		return boolType()
	case *ast.StringLiteral:
		return &ast.PrimitiveType{Kind: ast.StringType}
	case *ast.Identifier:
		return g.lookupVar(locals, ex.Name).typ
	case *ast.ModifiablePrimary:
		loc := g.lookupVar(locals, ex.Base)
		cur := loc.typ
		for _, acc := range ex.Accesses {
			switch ac := acc.(type) {
			case *ast.IndexAccess:
				if at, ok := g.resolveAlias(cur).(*ast.ArrayType); ok {
					cur = at.Elem
				}
			case *ast.FieldAccess:
				if ac.Name == "size" {
					if _, ok := g.resolveAlias(cur).(*ast.ArrayType); ok {
						cur = intType()
						continue
					}
				}
				if rec, ok := symbols.ResolveRecordType(g.ctx, cur); ok {
					for _, f := range rec.Fields {
						if f.Name == ac.Name {
							cur = f.Type
						}
					}
				}
			}
		}
		return cur
	case *ast.BinaryExpr:
		switch ex.Op {
		case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT:
			return g.arithResultType(g.typeOf(ex.Left, locals), g.typeOf(ex.Right, locals))
		default:
			return boolType()
		}
	case *ast.UnaryExpr:
		if ex.Op == token.NOT {
			return boolType()
		}
		return g.typeOf(ex.Operand, locals)
	case *ast.RoutineCall:
		sym, ok := g.ctx.LookupRoutine(ex.Name)
		if !ok {
			internalf("undeclared routine %q reached codegen", ex.Name)
		}
		return sym.ReturnType
	case *ast.FunctionCall:
		sym, ok := g.ctx.LookupRoutine(ex.Name)
		if !ok {
			internalf("undeclared routine %q reached codegen", ex.Name)
		}
		return sym.ReturnType
	case *ast.ArrayLit:
		return &ast.ArrayType{Size: &ast.IntegerLiteral{Value: int32(len(ex.Elements))}, Elem: g.typeOf(ex.Elements[0], locals)}
	case *ast.RecordLit:
		fields := make([]*ast.VarDecl, len(ex.Fields))
		for i, f := range ex.Fields {
			fields[i] = &ast.VarDecl{Name: f.Name, Type: g.typeOf(f.Value, locals)}
		}
		return &ast.RecordType{Fields: fields}
	default:
		internalf("unhandled expression %T in typeOf", e)
		return nil
	}
}
