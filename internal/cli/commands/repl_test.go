package commands

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/nodebook/internal/cli/output"
	"github.com/leapstack-labs/nodebook/internal/cli/testutil"
	"github.com/leapstack-labs/nodebook/internal/engine"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/registry"
	itestutil "github.com/leapstack-labs/nodebook/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestREPL(t *testing.T) (*replSession, *testutil.TestRenderer) {
	t.Helper()
	tr := testutil.NewTestRenderer(output.ModeText, false)
	sess := engine.NewSession(notebook.New(), engine.Config{Logger: itestutil.NewTestLogger(t)})
	t.Cleanup(sess.Close)
	return &replSession{
		sess:     sess,
		registry: registry.NewClient(registry.Config{}),
		r:        tr.Renderer,
	}, tr
}

func TestREPL_EvalThreadsBindings(t *testing.T) {
	repl, tr := newTestREPL(t)
	ctx := context.Background()

	repl.eval(ctx, "const a: number = 1;")
	repl.eval(ctx, "console.log(a + 1);")

	assert.Equal(t, "2\n", tr.Output())
	assert.Empty(t, tr.ErrorOutput())
}

func TestREPL_EvalDropsCellsThatCannotLower(t *testing.T) {
	repl, tr := newTestREPL(t)

	repl.eval(context.Background(), "const = ;")

	assert.NotEmpty(t, tr.ErrorOutput())
	repl.sess.View(func(p *notebook.Project) {
		assert.Empty(t, p.Cells)
	})
}

func TestREPL_EvalReportsFailure(t *testing.T) {
	repl, tr := newTestREPL(t)

	repl.eval(context.Background(), "const x = 1;\nthrow new Error('nope');")

	assert.Contains(t, tr.Output(), "nope")
	assert.Contains(t, tr.Output(), "bindings not stored")
}

func TestREPL_DotCommands(t *testing.T) {
	repl, tr := newTestREPL(t)
	ctx := context.Background()
	repl.eval(ctx, "const greeting = 'hi';")
	tr.Out.Reset()

	assert.False(t, repl.dot(ctx, ".store"))
	assert.Contains(t, tr.Output(), "greeting")
	assert.Contains(t, tr.Output(), `"hi"`)

	tr.Out.Reset()
	assert.False(t, repl.dot(ctx, ".cells"))
	assert.Contains(t, tr.Output(), "const greeting = 'hi';")
	assert.Contains(t, tr.Output(), "ran")

	tr.Out.Reset()
	assert.False(t, repl.dot(ctx, ".help"))
	assert.Contains(t, tr.Output(), ".package")

	assert.False(t, repl.dot(ctx, ".bogus"))
	assert.Contains(t, tr.ErrorOutput(), "Unknown command: .bogus")

	assert.True(t, repl.dot(ctx, ".exit"))
	assert.True(t, repl.dot(ctx, ".quit"))
}

func TestREPL_Save(t *testing.T) {
	repl, tr := newTestREPL(t)
	ctx := context.Background()
	repl.eval(ctx, "const a = 1;")

	assert.False(t, repl.dot(ctx, ".save"))
	assert.Contains(t, tr.ErrorOutput(), "Usage: .save")

	path := filepath.Join(t.TempDir(), "session.yaml")
	assert.False(t, repl.dot(ctx, ".save "+path))

	nb := testutil.ReadTestNotebook(t, path)
	require.Len(t, nb.Cells, 1)
	assert.Equal(t, "const a = 1;", nb.Cells[0].Source)
	assert.Equal(t, path, repl.path)
}
