// Package ast defines the closed set of node types that the parser
// produces, the analyzer checks, the optimizer rewrites, and the code
// generator lowers. Every node carries its source position; passes walk
// the tree with type switches rather than a visitor interface, since the
// node set is closed and Go's exhaustiveness checking on switches over
// concrete types catches a missed case at compile time as reliably as a
// visitor would.
package ast

import (
	"fmt"
	"strings"

	"routc/pkg/token"
)

// Node is implemented by every AST node.
type Node interface {
	Pos() token.Position
}

// Declaration is a top-level program member: a variable, a type alias,
// or a routine.
type Declaration interface {
	Node
	declNode()
}

// Statement is a body element that does not itself introduce a new
// top-level name. VarDecl and TypeDecl implement both Declaration (for
// Program.Decls) and Statement (for use inside a routine Body), matching
// spec's "Body = ordered list of Declaration | Statement".
type Statement interface {
	Node
	stmtNode()
}

// Expression is any node that produces a value.
type Expression interface {
	Node
	exprNode()
}

// TypeExpr is a type reference: a primitive name, an array shape, an
// inline record shape, or a named alias.
type TypeExpr interface {
	Node
	typeNode()
	String() string
}

// Access is one link of a ModifiablePrimary's access chain: a field
// name or an index expression.
type Access interface {
	Node
	accessNode()
}

// Body is an ordered sequence of statements (which may themselves be
// VarDecl/TypeDecl), terminated by `end` in the source grammar.
type Body []Statement

// Program is the root node: an ordered list of top-level declarations.
type Program struct {
	Decls []Declaration
}

func (p *Program) Pos() token.Position {
	if len(p.Decls) == 0 {
		return token.Position{Line: 1, Column: 1}
	}
	return p.Decls[0].Pos()
}

// VarDecl is `var NAME (: Type)? (is Expression)? ;`. Type and Init are
// both optional at parse time; the analyzer rejects a declaration that
// has neither.
type VarDecl struct {
	Position token.Position
	Name     string
	Type     TypeExpr   // nil if elided
	Init     Expression // nil if elided
}

func (d *VarDecl) Pos() token.Position { return d.Position }
func (*VarDecl) declNode()             {}
func (*VarDecl) stmtNode()             {}

// TypeDecl is `type NAME is Type ;`.
type TypeDecl struct {
	Position token.Position
	Name     string
	Aliased  TypeExpr
}

func (d *TypeDecl) Pos() token.Position { return d.Position }
func (*TypeDecl) declNode()             {}
func (*TypeDecl) stmtNode()             {}

// Parameter is one entry of a routine's parameter list.
type Parameter struct {
	Position token.Position
	Name     string
	Type     TypeExpr
	ByRef    bool
}

func (p *Parameter) Pos() token.Position { return p.Position }

// RoutineDecl is `routine NAME(params) (: Type)? (is Body end | => Expr ;)`.
// Exactly one of Body or ExprBody is non-nil (spec invariant 2).
type RoutineDecl struct {
	Position   token.Position
	Name       string
	Params     []*Parameter
	ReturnType TypeExpr // nil for a routine with no declared return type
	Body       Body     // nil when ExprBody is set
	ExprBody   Expression
}

func (d *RoutineDecl) Pos() token.Position { return d.Position }
func (*RoutineDecl) declNode()             {}

// --- Types ---

// PrimitiveKind names one of the four built-in scalar types.
type PrimitiveKind int

const (
	IntegerType PrimitiveKind = iota
	RealType
	BooleanType
	StringType
)

func (k PrimitiveKind) String() string {
	switch k {
	case IntegerType:
		return "integer"
	case RealType:
		return "real"
	case BooleanType:
		return "boolean"
	case StringType:
		return "string"
	}
	return "unknown"
}

// PrimitiveType is one of integer|real|boolean|string.
type PrimitiveType struct {
	Position token.Position
	Kind     PrimitiveKind
}

func (t *PrimitiveType) Pos() token.Position { return t.Position }
func (*PrimitiveType) typeNode()             {}
func (t *PrimitiveType) String() string      { return t.Kind.String() }

// ArrayType is `array [ Size? ] Elem`. Size is nil for an unsized
// (parameter) array type.
type ArrayType struct {
	Position token.Position
	Size     Expression // nil if unsized
	Elem     TypeExpr
}

func (t *ArrayType) Pos() token.Position { return t.Position }
func (*ArrayType) typeNode()             {}
func (t *ArrayType) String() string      { return fmt.Sprintf("array[] %s", t.Elem) }

// RecordType is `record VarDecl* end`; Fields preserves declaration
// order, which the code generator uses to compute field byte offsets.
type RecordType struct {
	Position token.Position
	Fields   []*VarDecl
}

func (t *RecordType) Pos() token.Position { return t.Position }
func (*RecordType) typeNode()             {}
func (t *RecordType) String() string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return fmt.Sprintf("record{%s}", strings.Join(names, ", "))
}

// UserType is a reference to a name introduced by a TypeDecl.
type UserType struct {
	Position token.Position
	Name     string
}

func (t *UserType) Pos() token.Position { return t.Position }
func (*UserType) typeNode()             {}
func (t *UserType) String() string      { return t.Name }

// --- Statements ---

// FieldAccess is the `.name` link of a ModifiablePrimary access chain.
type FieldAccess struct {
	Position token.Position
	Name     string
}

func (a *FieldAccess) Pos() token.Position { return a.Position }
func (*FieldAccess) accessNode()           {}

// IndexAccess is the `[expr]` link of a ModifiablePrimary access chain.
type IndexAccess struct {
	Position token.Position
	Index    Expression
}

func (a *IndexAccess) Pos() token.Position { return a.Position }
func (*IndexAccess) accessNode()           {}

// ModifiablePrimary is an L-value: a base name followed by zero or more
// field/index accesses.
type ModifiablePrimary struct {
	Position token.Position
	Base     string
	Accesses []Access
}

func (m *ModifiablePrimary) Pos() token.Position { return m.Position }
func (*ModifiablePrimary) exprNode()             {}

// Assignment is `target := value ;`.
type Assignment struct {
	Position token.Position
	Target   *ModifiablePrimary
	Value    Expression
}

func (s *Assignment) Pos() token.Position { return s.Position }
func (*Assignment) stmtNode()             {}

// RoutineCall as a statement is `NAME(args) ;` (a call whose result, if
// any, is discarded).
type RoutineCall struct {
	Position token.Position
	Name     string
	Args     []Expression
}

func (s *RoutineCall) Pos() token.Position { return s.Position }
func (*RoutineCall) stmtNode()             {}
func (*RoutineCall) exprNode()             {}

// ReturnStatement is `return Expression? ;`. A first-class node —
// spec's design notes flag the source encoding as a synthetic
// RoutineCall named "return"; this reimplementation promotes it, which
// removes a special case from both the analyzer and the code generator.
type ReturnStatement struct {
	Position token.Position
	Value    Expression // nil for a bare `return;`
}

func (s *ReturnStatement) Pos() token.Position { return s.Position }
func (*ReturnStatement) stmtNode()             {}

// PrintStatement is `print (expr, ...) ;` or `print expr, ... ;`.
type PrintStatement struct {
	Position token.Position
	Args     []Expression
}

func (s *PrintStatement) Pos() token.Position { return s.Position }
func (*PrintStatement) stmtNode()             {}

// IfStatement is `if cond then Body (else Body)? end`.
type IfStatement struct {
	Position token.Position
	Cond     Expression
	Then     Body
	Else     Body // nil if no else clause
}

func (s *IfStatement) Pos() token.Position { return s.Position }
func (*IfStatement) stmtNode()             {}

// WhileLoop is `while cond loop Body end`.
type WhileLoop struct {
	Position token.Position
	Cond     Expression
	Body     Body
}

func (s *WhileLoop) Pos() token.Position { return s.Position }
func (*WhileLoop) stmtNode()             {}

// Range is a for-loop's iteration source. Start is nil for a for-each
// loop, in which case End must be an *Identifier naming an array
// (spec invariant 3).
type Range struct {
	Position token.Position
	Start    Expression // nil for a for-each loop
	End      Expression
}

func (r *Range) Pos() token.Position { return r.Position }

// ForLoop is `for NAME in Range (reverse)? loop Body end`.
type ForLoop struct {
	Position token.Position
	Var      string
	Range    *Range
	Reverse  bool
	Body     Body
}

func (s *ForLoop) Pos() token.Position { return s.Position }
func (*ForLoop) stmtNode()             {}

// IsForEach reports whether this loop iterates an array by identifier
// rather than a numeric range.
func (s *ForLoop) IsForEach() bool { return s.Range.Start == nil }

// --- Expressions ---

// IntegerLiteral is a decimal integer literal.
type IntegerLiteral struct {
	Position token.Position
	Value    int32
}

func (e *IntegerLiteral) Pos() token.Position { return e.Position }
func (*IntegerLiteral) exprNode()             {}

// RealLiteral is a floating-point literal (digits '.' digits).
type RealLiteral struct {
	Position token.Position
	Value    float64
}

func (e *RealLiteral) Pos() token.Position { return e.Position }
func (*RealLiteral) exprNode()             {}

// BoolLiteral is `true` or `false`.
type BoolLiteral struct {
	Position token.Position
	Value    bool
}

func (e *BoolLiteral) Pos() token.Position { return e.Position }
func (*BoolLiteral) exprNode()             {}

// StringLiteral is a `"..."` literal, taken verbatim with no escapes.
type StringLiteral struct {
	Position token.Position
	Value    string
}

func (e *StringLiteral) Pos() token.Position { return e.Position }
func (*StringLiteral) exprNode()             {}

// Identifier is a bare name usage.
type Identifier struct {
	Position token.Position
	Name     string
}

func (e *Identifier) Pos() token.Position { return e.Position }
func (*Identifier) exprNode()             {}

// BinaryExpr is `left op right`.
type BinaryExpr struct {
	Position token.Position
	Op       token.Type
	Left     Expression
	Right    Expression
}

func (e *BinaryExpr) Pos() token.Position { return e.Position }
func (*BinaryExpr) exprNode()             {}

// UnaryExpr is `not operand` or unary `-operand`.
type UnaryExpr struct {
	Position token.Position
	Op       token.Type
	Operand  Expression
}

func (e *UnaryExpr) Pos() token.Position { return e.Position }
func (*UnaryExpr) exprNode()             {}

// FunctionCall is a call used in expression position: `NAME(args)`.
type FunctionCall struct {
	Position token.Position
	Name     string
	Args     []Expression
}

func (e *FunctionCall) Pos() token.Position { return e.Position }
func (*FunctionCall) exprNode()             {}

// ArrayLit is `[e1, ..., eN]`. First-class per spec's design notes,
// replacing the reference implementation's `FunctionCall("array_literal", ...)`
// string-tag encoding.
type ArrayLit struct {
	Position token.Position
	Elements []Expression
}

func (e *ArrayLit) Pos() token.Position { return e.Position }
func (*ArrayLit) exprNode()             {}

// FieldInit is one `name: expr` pair inside a RecordLit.
type FieldInit struct {
	Position token.Position
	Name     string
	Value    Expression
}

func (f *FieldInit) Pos() token.Position { return f.Position }

// RecordLit is `{name: expr, ...}`. First-class per spec's design
// notes, replacing `FunctionCall("record_literal", [FunctionCall("field", ...)])`.
type RecordLit struct {
	Position token.Position
	Fields   []*FieldInit
}

func (e *RecordLit) Pos() token.Position { return e.Position }
func (*RecordLit) exprNode()             {}
