package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkdown = `# Revenue by region

| region | total |
| --- | --- |
| north | 100 |
`

func TestRenderPlainPassesThrough(t *testing.T) {
	r := NewGoldmarkRenderer()
	out, err := r.Render(sampleMarkdown, true)
	require.NoError(t, err)
	assert.Equal(t, sampleMarkdown, out)
}

func TestRenderHTMLPage(t *testing.T) {
	r := NewGoldmarkRenderer(WithTitle("Quarterly Revenue"))
	out, err := r.Render(sampleMarkdown, false)
	require.NoError(t, err)
	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, "<title>Quarterly Revenue</title>")
	assert.Contains(t, out, "<h1>Revenue by region</h1>")
	// GFM tables must survive the conversion.
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>north</td>")
}
