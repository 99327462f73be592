package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/nodebook/internal/engine"
	"github.com/spf13/cobra"
)

// defaultWatchDelay is the quiet period after a change before the notebook is rerun.
const defaultWatchDelay = 100 * time.Millisecond

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "watch <notebook>",
		Short: "Rerun a notebook file whenever it changes",
		Long: `Run a notebook file, then run it again every time it is saved. Each rerun
starts from a fresh session. Press Ctrl+C to stop.`,
		Example: `  nodebook watch analysis.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			r := cctx.Renderer
			_, _ = fmt.Fprintf(r.ErrWriter(), "Watching %s (Ctrl+C to stop)\n", args[0])
			return watchNotebook(cmd.Context(), cctx, args[0], delay, func(report *RunReport, err error) {
				if err != nil {
					r.Error(err.Error())
					return
				}
				if err := renderReport(r, report); err != nil {
					r.Error(err.Error())
				}
			})
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", defaultWatchDelay, "Quiet period after a change before rerunning")

	return cmd
}

// watchNotebook runs path once and again after every change until ctx is
// done. Each outcome is passed to report. The parent directory is watched
// because editors often replace files instead of writing them.
func watchNotebook(ctx context.Context, cctx *CommandContext, path string, delay time.Duration, report func(*RunReport, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	debounce := engine.NewDebouncer(delay)
	defer debounce.Stop()

	trigger := make(chan struct{}, 1)
	rerun := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	rerun()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-trigger:
			report(runNotebookFile(ctx, cctx, abs))

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cctx.Logger.Debug("notebook changed", "path", event.Name, "op", event.Op.String())
			debounce.Schedule(abs, rerun)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cctx.Logger.Error("watcher error", "error", err)
		}
	}
}

func runNotebookFile(ctx context.Context, cctx *CommandContext, path string) (*RunReport, error) {
	project, err := readNotebook(path)
	if err != nil {
		return nil, err
	}
	sess := cctx.NewSession(project)
	defer sess.Close()
	return runNotebook(ctx, sess, "")
}
