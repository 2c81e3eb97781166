package promote

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsRenderNonOKNeverPromotes(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.False(t, h.NeedsRender(404, []byte("tiny")))
	require.False(t, h.NeedsRender(503, nil))
}

func TestNeedsRenderEmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.True(t, h.NeedsRender(200, nil))
	require.True(t, h.NeedsRender(200, []byte{}))
}

func TestNeedsRenderSPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	padding := bytes.Repeat([]byte("<p>static content here</p>"), 200)

	for _, marker := range []string{`<div id="root"></div>`, `<div id="app">`, "listing.grid.push({id: 1})"} {
		body := append(append([]byte{}, padding...), []byte(marker)...)
		require.True(t, h.NeedsRender(200, body), "marker %q must promote", marker)
	}
	require.False(t, h.NeedsRender(200, padding))
}

func TestNeedsRenderScriptHeavyShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(2048)
	shell := []byte(`<html><body><script>` + strings.Repeat("var x=1;", 100) + `</script><p>hi</p></body></html>`)
	require.Less(t, len(shell), 2048)
	require.True(t, h.NeedsRender(200, shell))

	// Small but mostly text: no promotion.
	text := []byte("<html><body>" + strings.Repeat("<p>plain words</p>", 50) + "</body></html>")
	require.Less(t, len(text), 2048)
	require.False(t, h.NeedsRender(200, text))
}

func TestScriptDensityMalformedScript(t *testing.T) {
	t.Parallel()

	// Unclosed script tag counts to end of document.
	require.True(t, scriptDensityHigh([]byte(`<html><script>var a = 1;`)))
	require.False(t, scriptDensityHigh([]byte(`<html><p>no scripts at all</p></html>`)))
}
