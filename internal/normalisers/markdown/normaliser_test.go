package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensions(t *testing.T) {
	assert.ElementsMatch(t, []string{".md", ".markdown", ".mdx"}, New().Extensions())
}

func TestNormalise_TitleFromHeading(t *testing.T) {
	content := "Intro line\n\n# Release Notes\n\nSome **bold** text."

	result, err := New().Normalise("docs/notes.md", []byte(content))

	require.NoError(t, err)
	assert.Equal(t, "Release Notes", result.Title)
	assert.Equal(t, "markdown", result.Format)
	assert.Contains(t, result.Text, "Some bold text.")
	assert.NotContains(t, result.Text, "#")
}

func TestNormalise_TitleFromName(t *testing.T) {
	result, err := New().Normalise("docs/getting-started_guide.md", []byte("## Second level only"))

	require.NoError(t, err)
	assert.Equal(t, "getting started guide", result.Title)
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"heading", "## Setup", "Setup"},
		{"link keeps text", "See [the docs](https://example.com).", "See the docs."},
		{"image removed", "![logo](logo.png)Text", "Text"},
		{"inline code removed", "Run `make` now", "Run  now"},
		{"code block removed", "Before\n```go\nfmt.Println()\n```\nAfter", "Before\n\nAfter"},
		{"emphasis", "**strong** and *soft*", "strong and soft"},
		{"list markers", "- one\n- two", "one\ntwo"},
		{"numbered list", "1. first\n2. second", "first\nsecond"},
		{"blockquote", "> quoted", "quoted"},
		{"newlines collapsed", "a\n\n\n\nb", "a\n\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripMarkdown(tt.input))
		})
	}
}

func TestNormalise_Empty(t *testing.T) {
	result, err := New().Normalise("empty.md", nil)

	require.NoError(t, err)
	assert.Empty(t, result.Text)
	assert.Equal(t, "empty", result.Title)
}
