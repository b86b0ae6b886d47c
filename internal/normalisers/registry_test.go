package normalisers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

type upperNormaliser struct{}

func (upperNormaliser) Extensions() []string { return []string{".TXT"} }

func (upperNormaliser) Normalise(_ string, content []byte) (driven.NormaliseResult, error) {
	return driven.NormaliseResult{Text: "upper:" + string(content), Format: "text"}, nil
}

func TestDefault_Extensions(t *testing.T) {
	exts := Default().Extensions()

	assert.Contains(t, exts, ".md")
	assert.Contains(t, exts, ".html")
	assert.IsIncreasing(t, exts)
}

func TestRegistry_Dispatch(t *testing.T) {
	r := Default()

	result, err := r.Normalise("README.MD", []byte("# Title\n\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "markdown", result.Format)
	assert.Equal(t, "Title", result.Title)

	result, err = r.Normalise("index.html", []byte("<head><title>Home</title></head><p>hi</p>"))
	require.NoError(t, err)
	assert.Equal(t, "html", result.Format)
	assert.Equal(t, "hi", result.Text)
}

func TestRegistry_UnknownPassesThrough(t *testing.T) {
	result, err := Default().Normalise("main.go", []byte("package main"))

	require.NoError(t, err)
	assert.Equal(t, "package main", result.Text)
	assert.Empty(t, result.Format)
}

func TestRegistry_RegisterIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(upperNormaliser{})

	n, ok := r.For("notes.txt")
	require.True(t, ok)
	result, err := n.Normalise("notes.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "upper:x", result.Text)

	_, ok = r.For("notes.md")
	assert.False(t, ok)
}
