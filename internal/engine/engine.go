// Package engine runs notebook cells: it lowers their source, discovers
// their bindings and imports, evaluates them against the bindings of earlier
// cells and records the results.
//
// A Session owns one project and one JavaScript runtime. Runs of the same
// cell that overlap share a single evaluation; runs of different cells are
// queued, since the runtime executes one cell at a time.
package engine

import (
	"log/slog"
	"time"

	"github.com/leapstack-labs/nodebook/internal/harness"
)

// Default timings.
const (
	DefaultRelowerDelay = 300 * time.Millisecond
)

// Config holds session configuration.
type Config struct {
	// RelowerDelay is the quiet period after an edit before the cell is
	// lowered again.
	RelowerDelay time.Duration
	// MinRunTime pads every run to at least this long.
	MinRunTime time.Duration
	// Fetcher loads module source for imports (optional).
	Fetcher harness.Fetcher
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RelowerDelay <= 0 {
		c.RelowerDelay = DefaultRelowerDelay
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// RunResult is the outcome of running one cell.
type RunResult struct {
	CellID   string        `json:"cellId"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"-"`
	// DurationMs is Duration in milliseconds.
	DurationMs int64     `json:"durationMs"`
	Exports    []string  `json:"exports"`
	Failed     bool      `json:"failed"`
	Settled    bool      `json:"settled"`
	Date       time.Time `json:"date"`
}
