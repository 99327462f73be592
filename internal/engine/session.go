package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/nodebook/internal/harness"
	"github.com/leapstack-labs/nodebook/internal/lower"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"golang.org/x/sync/singleflight"
)

// Session runs the cells of one project.
type Session struct {
	cfg    Config
	logger *slog.Logger

	// mu guards project. It is never held during evaluation.
	mu      sync.Mutex
	project *notebook.Project

	runtime  *harness.Runtime
	runMu    sync.Mutex
	flight   singleflight.Group
	debounce *Debouncer
}

// NewSession creates a session over project. The session takes ownership of
// the project; access it through View and Update afterwards.
func NewSession(project *notebook.Project, cfg Config) *Session {
	cfg = cfg.withDefaults()
	if project == nil {
		project = notebook.New()
	}
	return &Session{
		cfg:      cfg,
		logger:   cfg.Logger,
		project:  project,
		runtime:  harness.New(harness.Config{Fetcher: cfg.Fetcher, Logger: cfg.Logger}),
		debounce: NewDebouncer(cfg.RelowerDelay),
	}
}

// Close cancels pending relowers.
func (s *Session) Close() {
	s.debounce.Stop()
}

// View calls fn with the project under the session lock.
func (s *Session) View(fn func(p *notebook.Project)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.project)
}

// Update calls fn with the project under the session lock.
func (s *Session) Update(fn func(p *notebook.Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.project)
}

// AddCell appends a cell and schedules its lowering.
func (s *Session) AddCell(name, source string) *notebook.Cell {
	s.mu.Lock()
	c := s.project.AddCell(name, source)
	s.mu.Unlock()

	s.scheduleRelower(c.ID)
	return c
}

// Edit replaces a cell's source and restarts its relower timer.
func (s *Session) Edit(id, source string) error {
	s.mu.Lock()
	err := s.project.UpdateSource(id, source)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.scheduleRelower(id)
	return nil
}

// RemoveCell deletes a cell and cancels its pending relower.
func (s *Session) RemoveCell(id string) error {
	s.debounce.Cancel(id)
	return s.Update(func(p *notebook.Project) error {
		return p.RemoveCell(id)
	})
}

// Export encodes the project without runtime state.
func (s *Session) Export(format notebook.Format) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.Export(format)
}

func (s *Session) scheduleRelower(id string) {
	s.debounce.Schedule(id, func() {
		if err := s.Lower(id); err != nil {
			s.logger.Debug("relower failed", "cell_id", id, "error", err)
		}
	})
}

// Lower lowers a cell now if its lowered form is stale. Failures are
// recorded on the cell and returned.
func (s *Session) Lower(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.lowerLocked(id)
	return err
}

// lowerLocked returns the cell's lowered source, lowering it first when
// needed. s.mu must be held.
func (s *Session) lowerLocked(id string) (string, error) {
	c, err := s.project.Cell(id)
	if err != nil {
		return "", err
	}
	if c.LoweredValid {
		return c.Lowered, nil
	}

	prev, err := s.project.PreviousStore(id)
	if err != nil {
		return "", err
	}
	lowered, err := lower.Compile(c.Source, prev.Names())
	if err != nil {
		c.LastError = err.Error()
		return "", err
	}

	c.Lowered = lowered
	c.LoweredValid = true
	c.LastError = ""
	s.logger.Debug("cell lowered", "cell_id", id, "bytes", len(lowered))
	return lowered, nil
}

// RunCell runs one cell against the bindings of the cells before it. A
// pending relower is cancelled and the cell is lowered synchronously. Overlapping
// calls for the same cell share one run.
//
// Exceptions thrown by the cell are part of the result. Errors are returned
// only when the cell could not be lowered, analyzed or wrapped; they are
// also recorded on the cell.
func (s *Session) RunCell(ctx context.Context, id string) (*RunResult, error) {
	v, err, _ := s.flight.Do(id, func() (any, error) {
		return s.run(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RunResult), nil
}

// RunAll runs every cell in order. A cell that fails fatally keeps its error
// and the run continues with the next cell; the first such error is
// returned alongside the results.
func (s *Session) RunAll(ctx context.Context) ([]*RunResult, error) {
	var ids []string
	s.View(func(p *notebook.Project) {
		for _, c := range p.Cells {
			ids = append(ids, c.ID)
		}
	})

	results := make([]*RunResult, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.RunCell(ctx, id)
		if err != nil {
			if errors.Is(err, notebook.ErrCellNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("cell %s: %w", id, err))
			continue
		}
		results = append(results, res)
	}
	if len(errs) > 0 {
		return results, errs[0]
	}
	return results, nil
}

func (s *Session) run(ctx context.Context, id string) (*RunResult, error) {
	s.debounce.Cancel(id)
	started := time.Now()

	s.mu.Lock()
	lowered, err := s.lowerLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	c, _ := s.project.Cell(id)
	source := c.Source
	reg := s.project.Registry()
	prev, _ := s.project.PreviousStore(id)
	s.mu.Unlock()

	prepared, err := Prepare(lowered, reg)
	if err != nil {
		s.recordError(id, err)
		return nil, err
	}
	if prepared.Recovered != nil {
		s.logger.Warn("analysis recovered from parse error", "cell_id", id, "error", prepared.Recovered)
	}
	s.logger.Debug("cell prepared",
		"cell_id", id,
		"exports", len(prepared.Exports),
		"imports", len(prepared.Imports),
	)

	s.runMu.Lock()
	res, err := s.runtime.Evaluate(ctx, harness.Request{
		Source:   prepared.Source,
		Exports:  prepared.Exports,
		Previous: prev,
		Sink:     harness.NewSink(),
		Registry: reg,
	})
	s.runMu.Unlock()
	if err != nil {
		s.recordError(id, err)
		return nil, err
	}

	if wait := s.cfg.MinRunTime - time.Since(started); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	out := &RunResult{
		CellID:     id,
		Output:     res.Output,
		Duration:   res.Duration,
		DurationMs: res.Duration.Milliseconds(),
		Exports:    res.Store.Names(),
		Failed:     res.Failed,
		Settled:    res.Settled,
		Date:       time.Now(),
	}

	s.mu.Lock()
	if c, err := s.project.Cell(id); err == nil {
		c.LastRun = &notebook.LastRun{Date: out.Date, Duration: out.DurationMs, Result: out.Output}
		c.LastError = ""
		// An edit during the run invalidates what it produced.
		if c.Source == source {
			c.Store = res.Store
			c.HasRun = true
		}
	}
	s.mu.Unlock()

	s.logger.Info("cell run",
		"cell_id", id,
		"duration_ms", out.DurationMs,
		"exports", len(out.Exports),
		"failed", out.Failed,
	)
	return out, nil
}

func (s *Session) recordError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, cerr := s.project.Cell(id); cerr == nil {
		c.LastError = err.Error()
	}
}
