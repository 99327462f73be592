package engine

import (
	"github.com/leapstack-labs/nodebook/internal/analyze"
	"github.com/leapstack-labs/nodebook/internal/lower"
	"github.com/leapstack-labs/nodebook/internal/rewrite"
)

// Prepared is lowered cell source ready for evaluation.
type Prepared struct {
	// Source is the compiler prelude followed by the rewritten body.
	Source string
	// Exports are the names the cell binds at top level.
	Exports []string
	// Imports are the module names the cell requires, in source order.
	Imports []string
	// Recovered is a parse error the analysis tolerated.
	Recovered error
}

// Prepare analyzes lowered source and rewrites its module imports against
// reg. Only the body after the sentinel is analyzed.
func Prepare(lowered string, reg rewrite.Registry) (*Prepared, error) {
	prelude, body := lower.Split(lowered)

	res, err := analyze.Analyze(body)
	if err != nil {
		return nil, err
	}

	imports := make([]string, 0, len(res.Imports))
	for _, site := range res.Imports {
		imports = append(imports, site.Module)
	}

	return &Prepared{
		Source:    prelude + rewrite.Rewrite(body, res.Imports, reg),
		Exports:   res.Exports,
		Imports:   imports,
		Recovered: res.Recovered,
	}, nil
}
