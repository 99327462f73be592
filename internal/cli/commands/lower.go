package commands

import (
	"strings"

	"github.com/leapstack-labs/nodebook/internal/cli/output"
	"github.com/leapstack-labs/nodebook/internal/engine"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/rewrite"
	"github.com/spf13/cobra"
)

// LoweredCell is the lowered form of a cell with its analysis.
type LoweredCell struct {
	CellID  string   `json:"cellId"`
	Lowered string   `json:"lowered"`
	Source  string   `json:"evaluated,omitempty"`
	Exports []string `json:"exports"`
	Imports []string `json:"imports"`
}

// NewLowerCommand creates the lower command.
func NewLowerCommand() *cobra.Command {
	var cellRef string
	var rewritten bool

	cmd := &cobra.Command{
		Use:   "lower <notebook>",
		Short: "Show the lowered JavaScript of notebook cells",
		Long: `Lower cells to plain JavaScript and show the bindings each one exports
and the modules it imports. Without --cell every cell is lowered.`,
		Example: `  # Lower one cell
  nodebook lower analysis.json --cell load

  # Include the source handed to the evaluator
  nodebook lower analysis.json --cell load --rewritten`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(cmd, args[0], cellRef, rewritten)
		},
	}

	cmd.Flags().StringVarP(&cellRef, "cell", "c", "", "Cell to lower (id or name)")
	cmd.Flags().BoolVar(&rewritten, "rewritten", false, "Also show the source with imports rewritten")

	return cmd
}

func runLower(cmd *cobra.Command, path, cellRef string, rewritten bool) error {
	cctx := NewCommandContext(cmd)
	r := cctx.Renderer

	project, err := readNotebook(path)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(project.Cells))
	if cellRef != "" {
		c, err := findCell(project, cellRef)
		if err != nil {
			return err
		}
		ids = append(ids, c.ID)
	} else {
		for _, c := range project.Cells {
			ids = append(ids, c.ID)
		}
	}

	sess := cctx.NewSession(project)
	defer sess.Close()

	cells := make([]LoweredCell, 0, len(ids))
	for _, id := range ids {
		if err := sess.Lower(id); err != nil {
			return err
		}
		var lowered string
		var reg rewrite.MapRegistry
		sess.View(func(p *notebook.Project) {
			c, _ := p.Cell(id)
			lowered = c.Lowered
			reg = p.Registry()
		})

		prepared, err := engine.Prepare(lowered, reg)
		if err != nil {
			return err
		}
		lc := LoweredCell{
			CellID:  id,
			Lowered: lowered,
			Exports: prepared.Exports,
			Imports: prepared.Imports,
		}
		if rewritten {
			lc.Source = prepared.Source
		}
		cells = append(cells, lc)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(cells)
	}
	for _, lc := range cells {
		r.Header("cell " + lc.CellID)
		r.Block("js", lc.Lowered)
		r.KeyValue("exports", listOrNone(lc.Exports))
		r.KeyValue("imports", listOrNone(lc.Imports))
		if lc.Source != "" {
			r.Block("js", lc.Source)
		}
	}
	return nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
