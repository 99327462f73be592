// Package lower converts a cell's TypeScript source into the JavaScript that is
// actually executed.
//
// The lowered output starts with whatever helper code the compiler emits,
// followed by a sentinel statement. Everything after the sentinel is the cell
// body proper; see Split.
//
// Import declarations in the body become const declarators initialized by
// require("name"), so the body can run inside a function and its imports
// can be found and rewritten like any other require call.
//
// Only legal comments (//! and /*! */) survive lowering. The compiler drops
// every other comment.
package lower

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// SentinelName is the identifier of the no-op statement that marks the start
// of the cell body in lowered output.
const SentinelName = "__nodebook_body__"

// sentinelStmt is the exact text esbuild prints for the sentinel.
const sentinelStmt = "const " + SentinelName + " = void 0;\n"

// tsconfig mirrors the compiler options the notebook has always used:
// non-strict, synthetic default imports allowed, no interop helpers.
const tsconfig = `{
  "compilerOptions": {
    "strict": false,
    "alwaysStrict": false,
    "allowSyntheticDefaultImports": true,
    "esModuleInterop": false,
    "importHelpers": false,
    "verbatimModuleSyntax": false
  }
}`

// LoweringError reports that the typed source could not be lowered.
type LoweringError struct {
	Messages []Message
}

// Message is one compiler diagnostic, positioned in the user's source.
type Message struct {
	Text   string
	Line   int // 1-based, 0 when unknown
	Column int // 0-based byte column
}

func (e *LoweringError) Error() string {
	if len(e.Messages) == 0 {
		return "lowering failed"
	}
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		if m.Line > 0 {
			parts = append(parts, fmt.Sprintf("%d:%d: %s", m.Line, m.Column, m.Text))
		} else {
			parts = append(parts, m.Text)
		}
	}
	return "lowering failed: " + strings.Join(parts, "; ")
}

// Compile lowers source, declaring every name in previous as an ambient
// binding so references to earlier cells are not treated as undefined.
// Output is deterministic for identical inputs.
func Compile(source string, previous []string) (string, error) {
	names := append([]string(nil), previous...)
	sort.Strings(names)

	ambient := ambientDecls(names)
	header := sentinelStmt + ambient
	input := header + source

	result := api.Transform(input, api.TransformOptions{
		Loader:        api.LoaderTS,
		Format:        api.FormatDefault,
		Target:        api.ES2022,
		Sourcefile:    "cell.ts",
		TsconfigRaw:   tsconfig,
		LegalComments: api.LegalCommentsInline,
		Charset:       api.CharsetUTF8,
	})
	if len(result.Errors) > 0 {
		return "", newLoweringError(result.Errors, header)
	}

	out := string(result.Code)
	if ambient != "" {
		out = strings.Replace(out, ambient, "", 1)
	}
	if !strings.Contains(out, sentinelStmt) {
		// esbuild keeps unused top-level statements in transform mode; if this
		// ever changes the body boundary is lost and analysis would be wrong.
		return "", &LoweringError{Messages: []Message{{Text: "sentinel statement missing from lowered output"}}}
	}
	prelude, body := Split(out)
	return prelude + requireImports(body), nil
}

// Split separates lowered source into the compiler prelude (helpers plus the
// sentinel) and the cell body. If the sentinel is absent the whole input is
// treated as body.
func Split(lowered string) (prelude, body string) {
	idx := strings.Index(lowered, sentinelStmt)
	if idx < 0 {
		return "", lowered
	}
	end := idx + len(sentinelStmt)
	return lowered[:end], lowered[end:]
}

// ambientDecls renders one value-less declaration per name.
func ambientDecls(names []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString("declare var ")
		b.WriteString(name)
		b.WriteString(": any;\n")
	}
	return b.String()
}

// newLoweringError maps esbuild diagnostics back to user source lines by
// discounting the injected header.
func newLoweringError(msgs []api.Message, header string) *LoweringError {
	headerLines := strings.Count(header, "\n")
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg := Message{Text: m.Text}
		if m.Location != nil {
			msg.Line = m.Location.Line - headerLines
			msg.Column = m.Location.Column
			if msg.Line < 1 {
				msg.Line = 0
			}
		}
		out = append(out, msg)
	}
	return &LoweringError{Messages: out}
}
