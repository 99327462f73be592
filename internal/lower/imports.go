package lower

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/nodebook/internal/analyze"
)

// importDecl matches one import declaration as the compiler prints it: at
// the start of a line, an optional clause, the module path and an optional
// attributes block.
var importDecl = regexp.MustCompile(`(?m)^import(?:[ \t\n]+([^;]*?)[ \t\n]+from)?[ \t]*("[^"\n]*"|'[^'\n]*')(?:[ \t]+(?:with|assert)[ \t]*\{[^;]*\})?;$`)

const identPattern = `[\p{L}\p{Nl}_$][\p{L}\p{Nl}\p{Mn}\p{Mc}\p{Nd}\p{Pc}_$]*`

var (
	identRe      = regexp.MustCompile(`^` + identPattern + `$`)
	namespaceRe  = regexp.MustCompile(`^\*\s*as\s+(` + identPattern + `)$`)
	importItemRe = regexp.MustCompile(`^(` + identPattern + `|"[^"]*"|'[^']*')(?:\s+as\s+(` + identPattern + `))?$`)
)

// importClause is the binding part of an import declaration.
type importClause struct {
	def   string
	ns    string
	props []string
}

// parseClause reads the text between "import" and "from". An empty clause
// is a side-effect import.
func parseClause(clause string) (importClause, bool) {
	var c importClause
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return c, true
	}

	if !strings.HasPrefix(clause, "{") && !strings.HasPrefix(clause, "*") {
		def, rest, _ := strings.Cut(clause, ",")
		def = strings.TrimSpace(def)
		if !identRe.MatchString(def) {
			return c, false
		}
		c.def = def
		clause = strings.TrimSpace(rest)
		if clause == "" {
			return c, true
		}
	}

	if m := namespaceRe.FindStringSubmatch(clause); m != nil {
		c.ns = m[1]
		return c, true
	}
	if !strings.HasPrefix(clause, "{") || !strings.HasSuffix(clause, "}") {
		return c, false
	}
	for _, item := range strings.Split(clause[1:len(clause)-1], ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		m := importItemRe.FindStringSubmatch(item)
		if m == nil {
			return c, false
		}
		name, local := m[1], m[2]
		switch {
		case local == "" && !identRe.MatchString(name):
			return c, false
		case local == "" || local == name:
			c.props = append(c.props, name)
		default:
			c.props = append(c.props, name+": "+local)
		}
	}
	return c, true
}

// declaration renders the clause as a const declaration initialized by a
// require call of path. call is the offset of the callee in the result.
func (c importClause) declaration(path string) (stmt string, call int) {
	req := analyze.ImportIdent + "(" + path + ")"
	var head, tail string
	switch {
	case c.ns != "":
		head = "const " + c.ns + " = "
		if c.def != "" {
			tail = ", { default: " + c.def + " } = " + c.ns
		}
	default:
		props := c.props
		if c.def != "" {
			props = append([]string{"default: " + c.def}, props...)
		}
		if len(props) == 0 {
			head = "const {} = "
		} else {
			head = "const { " + strings.Join(props, ", ") + " } = "
		}
	}
	return head + req + tail + ";", len(head)
}

type importEdit struct {
	start, end int
	text       string
	call       int
}

// requireImports turns the import declarations in body into require
// declarators, keeping each declaration's line span. A match that the
// analyzer does not see as a top-level declarator, such as a line inside a
// template literal, is left as it was.
func requireImports(body string) string {
	matches := importDecl.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body
	}

	edits := make([]importEdit, 0, len(matches))
	for _, m := range matches {
		clause := ""
		if m[2] >= 0 {
			clause = body[m[2]:m[3]]
		}
		c, ok := parseClause(clause)
		if !ok {
			continue
		}
		stmt, call := c.declaration(body[m[4]:m[5]])
		stmt += strings.Repeat("\n", strings.Count(body[m[0]:m[1]], "\n"))
		edits = append(edits, importEdit{start: m[0], end: m[1], text: stmt, call: call})
	}

	out, calls := applyEdits(body, edits)
	res, err := analyze.Analyze(out)
	if err != nil || res.Recovered != nil {
		return out
	}
	sites := make(map[int]bool, len(res.Imports))
	for _, site := range res.Imports {
		sites[site.Start] = true
	}

	kept := make([]importEdit, 0, len(edits))
	for i, e := range edits {
		if sites[calls[i]] {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(edits) {
		return out
	}
	out, _ = applyEdits(body, kept)
	return out
}

// applyEdits splices edits, which are ordered and disjoint, into body. It
// returns the offset of each edit's require callee in the result.
func applyEdits(body string, edits []importEdit) (string, []int) {
	var b strings.Builder
	calls := make([]int, len(edits))
	last := 0
	for i, e := range edits {
		b.WriteString(body[last:e.start])
		calls[i] = b.Len() + e.call
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(body[last:])
	return b.String(), calls
}
