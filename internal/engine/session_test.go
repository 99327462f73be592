package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/nodebook/internal/analyze"
	"github.com/leapstack-labs/nodebook/internal/lower"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, sources ...string) (*Session, []string) {
	t.Helper()
	p := notebook.New()
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		ids = append(ids, p.AddCell("", src).ID)
	}
	s := NewSession(p, Config{
		RelowerDelay: time.Hour,
		Logger:       testutil.NewTestLogger(t),
	})
	t.Cleanup(s.Close)
	return s, ids
}

func cellStore(t *testing.T, s *Session, id string) map[string]any {
	t.Helper()
	var out map[string]any
	s.View(func(p *notebook.Project) {
		c, err := p.Cell(id)
		require.NoError(t, err)
		out = c.Store.Export()
	})
	return out
}

func TestSession_RunAllThreadsBindings(t *testing.T) {
	s, ids := newTestSession(t,
		"const a: number = 1;",
		"console.log(a + 1);",
		"throw new Error(\"boom\");",
		"const b = a * 10;",
	)

	results, err := s.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, map[string]any{"a": int64(1)}, cellStore(t, s, ids[0]))
	assert.GreaterOrEqual(t, results[0].DurationMs, int64(0))

	assert.Contains(t, results[1].Output, "2")
	assert.Empty(t, cellStore(t, s, ids[1]))

	assert.True(t, results[2].Failed)
	assert.Contains(t, results[2].Output, "boom")
	assert.Empty(t, cellStore(t, s, ids[2]))

	assert.False(t, results[3].Failed)
	assert.Equal(t, map[string]any{"b": int64(10)}, cellStore(t, s, ids[3]))

	s.View(func(p *notebook.Project) {
		for _, c := range p.Cells {
			assert.True(t, c.HasRun)
			require.NotNil(t, c.LastRun)
		}
		prev, err := p.PreviousStore(ids[3])
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": int64(1)}, prev.Export())
	})
}

func TestSession_RunAllContinuesPastFatalErrors(t *testing.T) {
	s, ids := newTestSession(t,
		"const a = 1;",
		"const = ;",
		"const c = a + 1;",
	)

	results, err := s.RunAll(context.Background())
	require.Error(t, err)

	var lerr *lower.LoweringError
	assert.True(t, errors.As(err, &lerr))
	require.Len(t, results, 2)
	assert.Equal(t, map[string]any{"c": int64(2)}, cellStore(t, s, ids[2]))

	s.View(func(p *notebook.Project) {
		c, _ := p.Cell(ids[1])
		assert.NotEmpty(t, c.LastError)
		assert.False(t, c.HasRun)
	})
}

func TestSession_EditForcesLoweringOnRun(t *testing.T) {
	s, ids := newTestSession(t, "const a = 1;")

	_, err := s.RunCell(context.Background(), ids[0])
	require.NoError(t, err)

	require.NoError(t, s.Edit(ids[0], "const a = 2;"))
	assert.True(t, s.debounce.Pending(ids[0]))
	assert.Empty(t, cellStore(t, s, ids[0]), "edit drops the old store")

	_, err = s.RunCell(context.Background(), ids[0])
	require.NoError(t, err)

	assert.False(t, s.debounce.Pending(ids[0]))
	assert.Equal(t, map[string]any{"a": int64(2)}, cellStore(t, s, ids[0]))
}

func TestSession_DebouncedRelower(t *testing.T) {
	p := notebook.New()
	c := p.AddCell("", "const a: string = 'x';")
	s := NewSession(p, Config{RelowerDelay: 10 * time.Millisecond, Logger: testutil.NewTestLogger(t)})
	t.Cleanup(s.Close)

	require.NoError(t, s.Edit(c.ID, "const b: number = 2;"))

	assert.Eventually(t, func() bool {
		valid := false
		s.View(func(p *notebook.Project) {
			cell, _ := p.Cell(c.ID)
			valid = cell.LoweredValid && cell.Lowered != ""
		})
		return valid
	}, time.Second, 5*time.Millisecond)
}

func TestSession_RunCellImports(t *testing.T) {
	p := notebook.New()
	p.AddPackage(notebook.Package{Name: "pkg", Version: "1.0.0", URL: "https://cdn.example/pkg.js"})
	c := p.AddCell("", "const {x, ...rest} = require(\"pkg\");")

	s := NewSession(p, Config{
		Fetcher: fakeFetcher{"https://cdn.example/pkg.js": "export const x = 1; export const y = 2;"},
		Logger:  testutil.NewTestLogger(t),
	})
	t.Cleanup(s.Close)

	res, err := s.RunCell(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, res.Failed, res.Output)
	assert.Equal(t, []string{"x", "rest"}, res.Exports)
	assert.Equal(t, map[string]any{"x": int64(1), "rest": map[string]any{"y": int64(2)}}, cellStore(t, s, c.ID))
}

func TestSession_RunCellImportDeclarations(t *testing.T) {
	const url = "https://cdn.example/pkg.js"
	const module = "export const x = 1;\nexport default function greet(n) { return \"hi \" + n; }\n"

	tests := []struct {
		name   string
		source string
		key    string
		want   any
	}{
		{name: "named", source: "import { x } from \"pkg\";\nconst y = x + 1;", key: "y", want: int64(2)},
		{name: "renamed", source: "import { x as w } from \"pkg\";\nconst y = w + 5;", key: "y", want: int64(6)},
		{name: "default", source: "import greet from \"pkg\";\nconst msg = greet(\"bob\");", key: "msg", want: "hi bob"},
		{name: "namespace", source: "import * as ns from \"pkg\";\nconst z = ns.x + 10;", key: "z", want: int64(11)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := notebook.New()
			p.AddPackage(notebook.Package{Name: "pkg", Version: "1.0.0", URL: url})
			c := p.AddCell("", tt.source)

			s := NewSession(p, Config{
				Fetcher: fakeFetcher{url: module},
				Logger:  testutil.NewTestLogger(t),
			})
			t.Cleanup(s.Close)

			res, err := s.RunCell(context.Background(), c.ID)
			require.NoError(t, err)
			require.False(t, res.Failed, res.Output)
			assert.Contains(t, res.Exports, tt.key)
			assert.Equal(t, tt.want, cellStore(t, s, c.ID)[tt.key])
		})
	}
}

func TestSession_ImportedBindingsReachLaterCells(t *testing.T) {
	const url = "https://cdn.example/pkg.js"
	p := notebook.New()
	p.AddPackage(notebook.Package{Name: "pkg", Version: "1.0.0", URL: url})
	first := p.AddCell("", "import { x } from \"pkg\";\nconsole.log(x);")
	second := p.AddCell("", "const doubled = x * 2;")

	s := NewSession(p, Config{
		Fetcher: fakeFetcher{url: "export const x = 21;"},
		Logger:  testutil.NewTestLogger(t),
	})
	t.Cleanup(s.Close)

	_, err := s.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(21), cellStore(t, s, first.ID)["x"])
	assert.Equal(t, int64(42), cellStore(t, s, second.ID)["doubled"])
}

func TestSession_ConcurrentRunsOfSameCell(t *testing.T) {
	s, ids := newTestSession(t, "const v = await new Promise(r => setTimeout(() => r(7), 20));")

	var wg sync.WaitGroup
	results := make([]*RunResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.RunCell(context.Background(), ids[0])
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.False(t, res.Failed)
	}
	assert.Equal(t, map[string]any{"v": int64(7)}, cellStore(t, s, ids[0]))
}

func TestSession_MinRunTime(t *testing.T) {
	p := notebook.New()
	c := p.AddCell("", "1;")
	s := NewSession(p, Config{MinRunTime: 50 * time.Millisecond})
	t.Cleanup(s.Close)

	start := time.Now()
	_, err := s.RunCell(context.Background(), c.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSession_UnknownCell(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := s.RunCell(context.Background(), "missing")
	assert.True(t, errors.Is(err, notebook.ErrCellNotFound))
	assert.True(t, errors.Is(s.Edit("missing", "x"), notebook.ErrCellNotFound))
}

func TestPrepare(t *testing.T) {
	lowered, err := lower.Compile("const {a, ...b} = require('m');\nfunction f() {}", nil)
	require.NoError(t, err)

	p, err := Prepare(lowered, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "f"}, p.Exports)
	assert.Equal(t, []string{"m"}, p.Imports)
	assert.NotContains(t, p.Source, "require(")
	assert.Contains(t, p.Source, lower.SentinelName)

	_, err = Prepare("const "+lower.SentinelName+" = void 0;\nconst = 1;", nil)
	var aerr *analyze.AnalysisError
	assert.True(t, errors.As(err, &aerr))
}
