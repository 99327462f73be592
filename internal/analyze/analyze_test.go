package analyze

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_Exports(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "identifiers",
			body: "const a = 1;\nlet b = 2;\nvar c = 3, d;",
			want: []string{"a", "b", "c", "d"},
		},
		{
			name: "function declarations",
			body: "function f() {}\nasync function g() {}",
			want: []string{"f", "g"},
		},
		{
			name: "class declarations not exported",
			body: "class K {}\nconst k = new K();",
			want: []string{"k"},
		},
		{
			name: "object destructuring with rest",
			body: "const {x, y: local, z = 1, ...rest} = obj;",
			want: []string{"x", "local", "z", "rest"},
		},
		{
			name: "array destructuring dropped",
			body: "const [p, q] = pair;\nconst r = 1;",
			want: []string{"r"},
		},
		{
			name: "nested declarations ignored",
			body: "if (true) { const inner = 1; }\nfunction f() { const alsoInner = 2; }",
			want: []string{"f"},
		},
		{
			name: "duplicates collapsed",
			body: "var a = 1;\nvar a = 2;",
			want: []string{"a"},
		},
		{
			name: "expression statements only",
			body: "console.log(1);",
			want: nil,
		},
		{
			name: "await at top level",
			body: "const v = await load();",
			want: []string{"v"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Analyze(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Exports)
			assert.NoError(t, res.Recovered)
		})
	}
}

func TestAnalyze_Imports(t *testing.T) {
	body := "const {x, ...rest} = require(\"pkg\");\nconst other = require('other');\nconst skip = require(name);\nrequire(\"bare\");"

	res, err := Analyze(body)
	require.NoError(t, err)

	require.Len(t, res.Imports, 2)

	first := res.Imports[0]
	assert.Equal(t, "pkg", first.Module)
	assert.Equal(t, `require("pkg")`, body[first.Start:first.End])
	assert.Equal(t, Position{Line: 1, Column: 21}, first.Pos)

	second := res.Imports[1]
	assert.Equal(t, "other", second.Module)
	assert.Equal(t, `require('other')`, body[second.Start:second.End])
	assert.Equal(t, 2, second.Pos.Line)

	assert.Equal(t, []string{"x", "rest", "other", "skip"}, res.Exports)
}

func TestAnalyze_Tolerant(t *testing.T) {
	res, err := Analyze("const a = 1;\nconst b = ;")
	require.NoError(t, err)
	assert.Error(t, res.Recovered)
	assert.Contains(t, res.Exports, "a")
}

func TestAnalyze_UnsupportedTarget(t *testing.T) {
	_, err := Analyze("const a = 1;\nconst = 2;")
	require.Error(t, err)

	var aerr *AnalysisError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 2, aerr.Pos.Line)
}
