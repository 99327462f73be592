package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(mode Mode, isTTY bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewRendererWithTTY(&out, &errOut, mode, isTTY), &out, &errOut
}

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			r, _, _ := newTestRenderer(tt.mode, tt.isTTY)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestRenderer_NonTerminalWriterIsNotTTY(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, &buf, ModeAuto)
	assert.False(t, r.IsTTY())
	assert.Equal(t, ModeMarkdown, r.EffectiveMode())
}

func TestRenderer_TextHasNoEscapesWithoutTTY(t *testing.T) {
	r, out, errOut := newTestRenderer(ModeText, false)

	r.Header("Cells")
	r.Success("done")
	r.KeyValue("id", "abc")
	r.Error("broken")

	assert.Equal(t, "Cells\n✓ done\nid: abc\n", out.String())
	assert.Equal(t, "✗ broken\n", errOut.String())
	assert.NotContains(t, out.String(), "\x1b[")
}

func TestRenderer_Markdown(t *testing.T) {
	r, out, _ := newTestRenderer(ModeMarkdown, false)

	r.Header("Cell a")
	r.KeyValue("duration", "3ms")
	r.Block("text", "> \n42\n")

	assert.Equal(t, "## Cell a\n\n- **duration:** 3ms\n```text\n> \n42\n```\n", out.String())
}

func TestRenderer_JSONSuppressesDecoration(t *testing.T) {
	r, out, _ := newTestRenderer(ModeJSON, true)

	r.Header("ignored")
	r.Success("ignored")
	r.Muted("ignored")
	require.NoError(t, r.JSON(map[string]int{"a": 1}))

	assert.Equal(t, "{\n  \"a\": 1\n}\n", out.String())
}

func TestRenderer_Table(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeMarkdown, false)
		r.Table([]string{"ID", "Name"}, [][]string{{"a1", "first"}})

		assert.Contains(t, out.String(), "| --- | --- |")
		assert.Contains(t, out.String(), "| a1 | first |")
	})

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText, false)
		r.Table([]string{"ID", "Name"}, [][]string{{"a1", "first"}})

		assert.Contains(t, out.String(), "┌")
		assert.Contains(t, out.String(), "a1")
		assert.Contains(t, out.String(), "first")
	})
}
