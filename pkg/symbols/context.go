// Package symbols implements the scoped symbol model the semantic
// analyzer populates and the code generator later consults read-only:
// stacked variable and type scopes that nest together, plus one flat
// routine table, current-routine and in-loop markers.
package symbols

import (
	"routc/pkg/ast"
	"routc/pkg/token"
)

// VarSymbol is one entry of a variable scope.
type VarSymbol struct {
	Name string
	Type ast.TypeExpr
	Pos  token.Position
	Used bool
}

// RoutineSymbol is one entry of the flat routine table.
type RoutineSymbol struct {
	Name       string
	Params     []*ast.Parameter
	ReturnType ast.TypeExpr
	Pos        token.Position
}

// Context is the symbol model for one compilation. Scope push/pop is
// RAII-style: EnterScope returns a closer the caller must defer, so the
// stack unwinds on every exit path, including an early return from a
// fatal semantic error.
type Context struct {
	varScopes  []map[string]*VarSymbol
	typeScopes []map[string]ast.TypeExpr
	routines   map[string]*RoutineSymbol

	currentRoutine *RoutineSymbol
	loopDepth      int
}

// NewContext returns an empty context with no open scopes.
func NewContext() *Context {
	return &Context{routines: make(map[string]*RoutineSymbol)}
}

// Depth reports the current variable/type scope nesting depth.
func (c *Context) Depth() int { return len(c.varScopes) }

// EnterScope pushes a fresh variable scope and a fresh type scope,
// nested together per spec's symbol model, and returns a func that pops
// both. Callers must `defer` the returned func.
func (c *Context) EnterScope() func() {
	c.varScopes = append(c.varScopes, make(map[string]*VarSymbol))
	c.typeScopes = append(c.typeScopes, make(map[string]ast.TypeExpr))
	return func() {
		c.varScopes = c.varScopes[:len(c.varScopes)-1]
		c.typeScopes = c.typeScopes[:len(c.typeScopes)-1]
	}
}

// EnterRoutine sets the current-routine marker, returning a func that
// restores the previous one (nil at top level).
func (c *Context) EnterRoutine(sym *RoutineSymbol) func() {
	prev := c.currentRoutine
	c.currentRoutine = sym
	return func() { c.currentRoutine = prev }
}

// CurrentRoutine is the routine currently being analyzed, or nil at top
// level / inside a nested scope that isn't a routine body.
func (c *Context) CurrentRoutine() *RoutineSymbol { return c.currentRoutine }

// EnterLoop marks the analyzer as being inside a loop body, returning a
// func that restores the previous depth. Loops nest, so this is a
// counter rather than a flag.
func (c *Context) EnterLoop() func() {
	c.loopDepth++
	return func() { c.loopDepth-- }
}

// InLoop reports whether analysis is currently inside any loop body.
func (c *Context) InLoop() bool { return c.loopDepth > 0 }

// DeclareVar binds name in the innermost scope. ok is false if name is
// already declared in that same scope (existing is the prior symbol);
// the caller decides whether that is a fatal duplicate-declaration
// error.
func (c *Context) DeclareVar(name string, typ ast.TypeExpr, pos token.Position) (sym *VarSymbol, existing *VarSymbol, ok bool) {
	scope := c.varScopes[len(c.varScopes)-1]
	if prior, found := scope[name]; found {
		return nil, prior, false
	}
	sym = &VarSymbol{Name: name, Type: typ, Pos: pos}
	scope[name] = sym
	return sym, nil, true
}

// LookupVar walks the scope stack inside-out and marks the variable
// used if found.
func (c *Context) LookupVar(name string) (*VarSymbol, bool) {
	for i := len(c.varScopes) - 1; i >= 0; i-- {
		if sym, ok := c.varScopes[i][name]; ok {
			sym.Used = true
			return sym, true
		}
	}
	return nil, false
}

// UnusedInScope returns the variables of the innermost scope that were
// never read, in declaration order is not preserved (map iteration),
// which is fine since warnings are reported per-variable, not ordered.
func (c *Context) UnusedInScope() []*VarSymbol {
	var unused []*VarSymbol
	scope := c.varScopes[len(c.varScopes)-1]
	for _, sym := range scope {
		if !sym.Used {
			unused = append(unused, sym)
		}
	}
	return unused
}

// DeclareType binds name to t in the innermost type scope.
func (c *Context) DeclareType(name string, t ast.TypeExpr) {
	c.typeScopes[len(c.typeScopes)-1][name] = t
}

// LookupType walks the type scope stack inside-out.
func (c *Context) LookupType(name string) (ast.TypeExpr, bool) {
	for i := len(c.typeScopes) - 1; i >= 0; i-- {
		if t, ok := c.typeScopes[i][name]; ok {
			return t, true
		}
	}
	return nil, false
}

// DeclareRoutine binds a routine signature in the flat routine table.
// Routines are only declared at program top level (spec §3).
func (c *Context) DeclareRoutine(sym *RoutineSymbol) {
	c.routines[sym.Name] = sym
}

// LookupRoutine looks up a routine by name.
func (c *Context) LookupRoutine(name string) (*RoutineSymbol, bool) {
	sym, ok := c.routines[name]
	return sym, ok
}

// VisibleVarNames returns every variable name visible from the
// innermost scope outward, used to build "did you mean" suggestions.
func (c *Context) VisibleVarNames() []string {
	seen := make(map[string]bool)
	var names []string
	for i := len(c.varScopes) - 1; i >= 0; i-- {
		for name := range c.varScopes[i] {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// RoutineNames returns every declared routine name, used to build "did
// you mean" suggestions for undeclared-routine errors.
func (c *Context) RoutineNames() []string {
	names := make([]string, 0, len(c.routines))
	for name := range c.routines {
		names = append(names, name)
	}
	return names
}

// ResolveRecordType follows UserType aliases until it reaches a
// RecordType, or returns ok=false if t does not name/alias a record.
// The code generator uses this to compute field offsets from the
// declared field order instead of a hard-coded layout.
func ResolveRecordType(ctx *Context, t ast.TypeExpr) (*ast.RecordType, bool) {
	for {
		switch v := t.(type) {
		case *ast.RecordType:
			return v, true
		case *ast.UserType:
			next, ok := ctx.LookupType(v.Name)
			if !ok {
				return nil, false
			}
			t = next
		default:
			return nil, false
		}
	}
}
