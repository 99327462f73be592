package commands

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/nodebook/internal/engine"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Cell  string
	Write bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <notebook>",
		Short: "Run the cells of a notebook file",
		Long: `Run every cell of a notebook file in order. Each cell sees the bindings
exported by the cells before it.

Use --cell to stop after a given cell. Cells that throw keep running the rest
of the notebook; the command fails if any cell failed.`,
		Example: `  # Run a notebook
  nodebook run analysis.json

  # Run up to and including the cell named "load"
  nodebook run analysis.yaml --cell load

  # Record last-run results in the file
  nodebook run analysis.json --write`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Cell, "cell", "c", "", "Stop after this cell (id or name)")
	cmd.Flags().BoolVarP(&opts.Write, "write", "w", false, "Write run results back to the notebook file")

	return cmd
}

func runRun(cmd *cobra.Command, path string, opts *RunOptions) error {
	cctx := NewCommandContext(cmd)

	project, err := readNotebook(path)
	if err != nil {
		return err
	}
	sess := cctx.NewSession(project)
	defer sess.Close()

	report, err := runNotebook(cmd.Context(), sess, opts.Cell)
	if err != nil {
		return err
	}

	if opts.Write {
		if err := saveSession(path, sess); err != nil {
			return err
		}
		cctx.Logger.Debug("notebook written", "path", path)
	}

	if err := renderReport(cctx.Renderer, report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d cells failed", report.Failed, len(report.Cells))
	}
	return nil
}

// runNotebook runs cells in order, stopping after stopAt (id or name) when
// it is set. Fatal cell errors are reported, not returned.
func runNotebook(ctx context.Context, sess *engine.Session, stopAt string) (*RunReport, error) {
	type cellRef struct{ id, name string }
	var cells []cellRef
	var findErr error
	sess.View(func(p *notebook.Project) {
		stop := ""
		if stopAt != "" {
			c, err := findCell(p, stopAt)
			if err != nil {
				findErr = err
				return
			}
			stop = c.ID
		}
		for _, c := range p.Cells {
			cells = append(cells, cellRef{c.ID, c.Name})
			if c.ID == stop {
				break
			}
		}
	})
	if findErr != nil {
		return nil, findErr
	}

	report := &RunReport{Cells: []CellReport{}}
	for _, c := range cells {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := sess.RunCell(ctx, c.id)
		report.add(newCellReport(c.id, c.name, res, err))
	}
	return report, nil
}
