package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/nodebook/internal/cli/output"
	"github.com/leapstack-labs/nodebook/internal/engine"
)

// CellReport is the rendered outcome of one cell run.
type CellReport struct {
	CellID     string   `json:"cellId"`
	Name       string   `json:"name,omitempty"`
	Output     string   `json:"output"`
	DurationMs int64    `json:"durationMs"`
	Exports    []string `json:"exports"`
	Failed     bool     `json:"failed"`
	Error      string   `json:"error,omitempty"`
}

// RunReport summarizes a notebook run.
type RunReport struct {
	Cells  []CellReport `json:"cells"`
	Failed int          `json:"failed"`
}

func newCellReport(id, name string, res *engine.RunResult, err error) CellReport {
	rep := CellReport{CellID: id, Name: name, Exports: []string{}}
	if err != nil {
		rep.Failed = true
		rep.Error = err.Error()
		return rep
	}
	rep.Output = res.Output
	rep.DurationMs = res.DurationMs
	if res.Exports != nil {
		rep.Exports = res.Exports
	}
	rep.Failed = res.Failed
	return rep
}

func (rr *RunReport) add(rep CellReport) {
	rr.Cells = append(rr.Cells, rep)
	if rep.Failed {
		rr.Failed++
	}
}

// renderCell writes one cell report in text or markdown mode.
func renderCell(r *output.Renderer, rep CellReport) {
	label := rep.CellID
	if rep.Name != "" {
		label = fmt.Sprintf("%s (%s)", rep.Name, rep.CellID)
	}
	r.Header("cell " + label)

	if rep.Error != "" {
		r.Error(rep.Error)
		return
	}
	r.Block("text", rep.Output)

	exports := "none"
	if len(rep.Exports) > 0 {
		exports = strings.Join(rep.Exports, ", ")
	}
	summary := fmt.Sprintf("%dms, exports: %s", rep.DurationMs, exports)
	if rep.Failed {
		r.Warning("cell failed; its bindings were not stored")
	}
	r.Muted(summary)
}

// renderReport writes a full run report in the renderer's mode.
func renderReport(r *output.Renderer, rr *RunReport) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(rr)
	}
	for _, rep := range rr.Cells {
		renderCell(r, rep)
	}
	if rr.Failed == 0 {
		r.Success(fmt.Sprintf("%d cells ran", len(rr.Cells)))
	}
	return nil
}
