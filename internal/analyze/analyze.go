// Package analyze statically inspects a lowered cell body to find the names
// it binds at top level and the module imports it performs.
package analyze

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// ImportIdent is the global function whose string-literal calls are treated
// as module imports.
const ImportIdent = "require"

// wrapper turns the body into a function so top-level await and return are
// legal, matching how the harness runs it.
const (
	wrapperHead = "async function __nodebook_cell__() {\n"
	wrapperTail = "\n}"
)

// goja numbers positions from 1 for a file parsed without a FileSet.
const fileBase = 1

// Position is a 1-based line and 0-based column in the analyzed body.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ImportSite is one `require("name")` call used as a declarator initializer.
// Start and End are byte offsets into the body; End is exclusive and covers
// the closing parenthesis.
type ImportSite struct {
	Module string
	Start  int
	End    int
	Pos    Position
}

// Result is the outcome of analyzing one cell body.
type Result struct {
	// Exports lists top-level bound names in source order, without duplicates.
	Exports []string
	// Imports lists import call sites in source order.
	Imports []ImportSite
	// Recovered holds parse errors the analysis tolerated.
	Recovered error
}

// AnalysisError reports a top-level declaration whose shape is unsupported.
type AnalysisError struct {
	Pos     Position
	Message string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed at %s: %s", e.Pos, e.Message)
}

// Analyze parses body and collects its exports and import sites.
func Analyze(body string) (*Result, error) {
	src := wrapperHead + body + wrapperTail
	program, perr := parser.ParseFile(nil, "cell.js", src, parser.IgnoreRegExpErrors, parser.WithDisableSourceMaps)
	fn := cellFunction(program)
	if fn == nil {
		if perr == nil {
			perr = errors.New("empty program")
		}
		return nil, &AnalysisError{Pos: Position{Line: 1}, Message: perr.Error()}
	}

	a := &analyzer{body: body, seen: make(map[string]bool)}
	for _, stmt := range fn.Body.List {
		if err := a.statement(stmt); err != nil {
			return nil, err
		}
	}

	return &Result{Exports: a.exports, Imports: a.imports, Recovered: perr}, nil
}

// cellFunction returns the wrapper function literal, or nil if parsing did
// not get far enough to produce it.
func cellFunction(program *ast.Program) *ast.FunctionLiteral {
	if program == nil || len(program.Body) == 0 {
		return nil
	}
	decl, ok := program.Body[0].(*ast.FunctionDeclaration)
	if !ok || decl.Function == nil || decl.Function.Body == nil {
		return nil
	}
	return decl.Function
}

type analyzer struct {
	body    string
	exports []string
	imports []ImportSite
	seen    map[string]bool
}

func (a *analyzer) statement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Name != nil {
			a.export(s.Function.Name.Name.String())
		}
	case *ast.VariableStatement:
		return a.bindings(s.List)
	case *ast.LexicalDeclaration:
		return a.bindings(s.List)
	}
	return nil
}

func (a *analyzer) bindings(list []*ast.Binding) error {
	for _, b := range list {
		switch target := b.Target.(type) {
		case *ast.Identifier:
			a.export(target.Name.String())
		case *ast.ObjectPattern:
			a.objectPattern(target)
		case *ast.ArrayPattern:
			// Names bound only through array patterns are not harvested.
		default:
			return &AnalysisError{
				Pos:     a.position(b.Target.Idx0()),
				Message: fmt.Sprintf("unsupported variable declaration target %T", b.Target),
			}
		}
		a.importCall(b.Initializer)
	}
	return nil
}

// objectPattern collects the local names bound by a single-level object
// pattern, including the rest element. Nested patterns are skipped.
func (a *analyzer) objectPattern(p *ast.ObjectPattern) {
	for _, prop := range p.Properties {
		switch pr := prop.(type) {
		case *ast.PropertyShort:
			a.export(pr.Name.Name.String())
		case *ast.PropertyKeyed:
			if name, ok := boundName(pr.Value); ok {
				a.export(name)
			}
		}
	}
	if p.Rest != nil {
		if name, ok := boundName(p.Rest); ok {
			a.export(name)
		}
	}
}

func boundName(expr ast.Expression) (string, bool) {
	switch e := expr.(type) {
	case *ast.Identifier:
		return e.Name.String(), true
	case *ast.AssignExpression:
		// {key: local = fallback}
		if id, ok := e.Left.(*ast.Identifier); ok {
			return id.Name.String(), true
		}
	}
	return "", false
}

// importCall records init when it is require("literal").
func (a *analyzer) importCall(init ast.Expression) {
	call, ok := init.(*ast.CallExpression)
	if !ok || len(call.ArgumentList) != 1 {
		return
	}
	callee, ok := call.Callee.(*ast.Identifier)
	if !ok || callee.Name.String() != ImportIdent {
		return
	}
	lit, ok := call.ArgumentList[0].(*ast.StringLiteral)
	if !ok {
		return
	}
	start := a.offset(callee.Idx0())
	end := a.offset(call.Idx1())
	if start < 0 || end > len(a.body) || start >= end {
		return
	}
	a.imports = append(a.imports, ImportSite{
		Module: lit.Value.String(),
		Start:  start,
		End:    end,
		Pos:    a.position(callee.Idx0()),
	})
}

func (a *analyzer) export(name string) {
	if name == "" || a.seen[name] {
		return
	}
	a.seen[name] = true
	a.exports = append(a.exports, name)
}

// offset converts a parser index into a byte offset in the body.
func (a *analyzer) offset(idx file.Idx) int {
	return int(idx) - fileBase - len(wrapperHead)
}

func (a *analyzer) position(idx file.Idx) Position {
	off := a.offset(idx)
	if off < 0 {
		return Position{Line: 1}
	}
	if off > len(a.body) {
		off = len(a.body)
	}
	before := a.body[:off]
	line := strings.Count(before, "\n") + 1
	col := off - (strings.LastIndex(before, "\n") + 1)
	return Position{Line: line, Column: col}
}
