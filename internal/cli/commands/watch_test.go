package commands

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/leapstack-labs/nodebook/internal/cli/testutil"
	itestutil "github.com/leapstack-labs/nodebook/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchNotebook_RerunsOnChange(t *testing.T) {
	setupConfig(t)
	path := testutil.SetupTestNotebook(t, "nb.json", "const a = 1;")
	tr := testutil.NewTestRendererJSON()
	cctx := &CommandContext{Cfg: getConfig(), Logger: itestutil.NewTestLoggerAt(t, slog.LevelInfo), Renderer: tr.Renderer}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *RunReport, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchNotebook(ctx, cctx, path, 20*time.Millisecond, func(r *RunReport, err error) {
			if err == nil {
				reports <- r
			}
		})
	}()

	first := receiveReport(t, reports)
	require.Len(t, first.Cells, 1)
	assert.Equal(t, []string{"a"}, first.Cells[0].Exports)

	changed := testutil.SetupTestNotebook(t, "nb.json", "const b = 2;", "const c = b + 1;")
	data, err := os.ReadFile(changed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	second := receiveReport(t, reports)
	require.Len(t, second.Cells, 2)
	assert.Equal(t, []string{"c"}, second.Cells[1].Exports)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func receiveReport(t *testing.T, reports <-chan *RunReport) *RunReport {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("no run report")
		return nil
	}
}
