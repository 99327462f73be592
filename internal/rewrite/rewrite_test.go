package rewrite

import (
	"strings"
	"testing"

	"github.com/leapstack-labs/nodebook/internal/analyze"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewrite(t *testing.T) {
	body := "const {x, ...rest} = require(\"pkg\");\nconst y = require(\"unknown\");\n"
	res, err := analyze.Analyze(body)
	require.NoError(t, err)

	reg := MapRegistry{"pkg": "https://cdn.example/pkg.js"}
	out := Rewrite(body, res.Imports, reg)

	assert.NotContains(t, out, "require(")
	assert.Contains(t, out, `const {x, ...rest} = `+Expression("https://cdn.example/pkg.js")+";")
	assert.Contains(t, out, `const y = `+Expression("unknown")+";")
}

func TestRewrite_OffsetsStable(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("const m")
		b.WriteByte(byte('0' + i))
		b.WriteString(" = require(\"a\");\n")
	}
	body := b.String()

	res, err := analyze.Analyze(body)
	require.NoError(t, err)
	require.Len(t, res.Imports, 5)

	out := Rewrite(body, res.Imports, MapRegistry{"a": "https://cdn.example/a-with-a-long-url.js"})
	assert.Equal(t, 5, strings.Count(out, Expression("https://cdn.example/a-with-a-long-url.js")))
	assert.NotContains(t, out, "require(")

	// Result is the same regardless of the order sites are given in.
	reversed := make([]analyze.ImportSite, len(res.Imports))
	for i, s := range res.Imports {
		reversed[len(reversed)-1-i] = s
	}
	assert.Equal(t, out, Rewrite(body, reversed, MapRegistry{"a": "https://cdn.example/a-with-a-long-url.js"}))
}

func TestRewrite_SkipsBadSites(t *testing.T) {
	body := "const a = require(\"a\");"
	tests := []struct {
		name  string
		sites []analyze.ImportSite
	}{
		{
			name: "nested site after enclosing one",
			sites: []analyze.ImportSite{
				{Module: "a", Start: 10, End: 22},
				{Module: "a", Start: 12, End: 20},
			},
		},
		{
			name: "nested site before enclosing one",
			sites: []analyze.ImportSite{
				{Module: "a", Start: 12, End: 20},
				{Module: "a", Start: 10, End: 22},
			},
		},
		{
			name: "same start keeps the wider site",
			sites: []analyze.ImportSite{
				{Module: "a", Start: 10, End: 15},
				{Module: "a", Start: 10, End: 22},
			},
		},
		{
			name: "partial overlap keeps the earlier site",
			sites: []analyze.ImportSite{
				{Module: "a", Start: 10, End: 22},
				{Module: "a", Start: 20, End: 23},
			},
		},
		{
			name: "out of range",
			sites: []analyze.ImportSite{
				{Module: "a", Start: 10, End: 22},
				{Module: "a", Start: 5, End: 500},
				{Module: "a", Start: -1, End: 3},
				{Module: "a", Start: 4, End: 4},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Rewrite(body, tt.sites, nil)
			assert.Equal(t, "const a = "+Expression("a")+";", out)
		})
	}
}

func TestResolve(t *testing.T) {
	reg := MapRegistry{"pkg": "https://cdn.example/pkg.js", "empty": ""}
	assert.Equal(t, "https://cdn.example/pkg.js", Resolve(reg, "pkg"))
	assert.Equal(t, "other", Resolve(reg, "other"))
	assert.Equal(t, "empty", Resolve(reg, "empty"))
	assert.Equal(t, "pkg", Resolve(nil, "pkg"))
}

func TestExpression(t *testing.T) {
	assert.Equal(t,
		`(await __nodebook_import__("https://x.test/a\"b.js").then(_$ => _$ && _$.__esModule ? _$.default : _$))`,
		Expression(`https://x.test/a"b.js`))
}
