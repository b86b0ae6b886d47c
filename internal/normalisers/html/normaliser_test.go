package html

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensions(t *testing.T) {
	assert.ElementsMatch(t, []string{".html", ".htm", ".xhtml"}, New().Extensions())
}

func TestNormalise(t *testing.T) {
	content := `<html>
<head><title>Fish &amp; Chips</title><style>body{}</style></head>
<body>
<script>alert("x")</script>
<h1>Menu</h1>
<p>Cod   and <b>haddock</b>.</p>
<!-- hidden -->
<ul><li>Peas</li><li>Vinegar</li></ul>
</body>
</html>`

	result, err := New().Normalise("menu.html", []byte(content))

	require.NoError(t, err)
	assert.Equal(t, "Fish & Chips", result.Title)
	assert.Equal(t, "html", result.Format)
	assert.Equal(t, "Menu\nCod and haddock.\nPeas\nVinegar", result.Text)
}

func TestNormalise_TitleFromName(t *testing.T) {
	result, err := New().Normalise("pages/about-us.htm", []byte("<p>Hello</p>"))

	require.NoError(t, err)
	assert.Equal(t, "about us", result.Title)
	assert.Equal(t, "Hello", result.Text)
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"entities decoded", "<p>a &lt; b</p>", "a < b"},
		{"br splits lines", "one<br/>two", "one\ntwo"},
		{"svg removed", "<svg><path/></svg>text", "text"},
		{"noscript removed", "<noscript>enable js</noscript>ok", "ok"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripHTML(tt.input))
		})
	}
}
