package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean_StripsNonContent(t *testing.T) {
	in := []byte(`<html>
<head><title>Contact</title><link rel="stylesheet" href="x.css"></head>
<body>
<!-- navigation -->
<script>analytics();</script>
<style>.office { color: red; }</style>
<svg viewBox="0 0 24 24"><path d="M0 0"/></svg>
<noscript>Enable JS</noscript>
<div class="office">
  <h2>Fresno Office</h2>
  <address>100 Main St, Fresno, CA 93721</address>
  <span>Phone: (559) 555-0100</span>
</div>
</body>
</html>`)

	out := string(Clean(in))
	assert.NotContains(t, out, "analytics")
	assert.NotContains(t, out, "stylesheet")
	assert.NotContains(t, out, "color: red")
	assert.NotContains(t, out, "viewBox")
	assert.NotContains(t, out, "Enable JS")
	assert.NotContains(t, out, "navigation")

	// Content markup survives for the extractor.
	assert.Contains(t, out, `<div class="office">`)
	assert.Contains(t, out, "Fresno Office")
	assert.Contains(t, out, "100 Main St, Fresno, CA 93721")
	assert.Contains(t, out, "(559) 555-0100")
}

func TestClean_MultilineScript(t *testing.T) {
	in := []byte("<body><script type=\"text/javascript\">\nvar a = 1;\nvar b = 2;\n</script><p>kept</p></body>")
	out := string(Clean(in))
	assert.NotContains(t, out, "var a")
	assert.Contains(t, out, "<p>kept</p>")
}

func TestClean_CollapsesBlankRuns(t *testing.T) {
	in := []byte("<body><p>a</p>\n\n\n\n\n<p>b</p></body>")
	out := string(Clean(in))
	assert.NotContains(t, out, "\n\n\n")
	assert.Contains(t, out, "<p>a</p>")
	assert.Contains(t, out, "<p>b</p>")
}

func TestClean_PlainTextUntouched(t *testing.T) {
	in := []byte("just text, no markup")
	assert.Equal(t, "just text, no markup", string(Clean(in)))
}
