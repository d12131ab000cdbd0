package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarksInsertions(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	html, err := r.Render("hello", "hello world")
	require.NoError(t, err)
	assert.Contains(t, html, "<ins")
	assert.Contains(t, html, " world")
	assert.NotContains(t, html, "<del")
}

func TestRenderMarksDeletions(t *testing.T) {
	t.Parallel()

	r := New(Config{LineBased: true})
	html, err := r.Render("price: $10\nstock: yes", "stock: yes")
	require.NoError(t, err)
	assert.Contains(t, html, "<del")
}

func TestRenderIdenticalHasNoEdits(t *testing.T) {
	t.Parallel()

	html, err := New(Config{}).Render("same", "same")
	require.NoError(t, err)
	assert.NotContains(t, html, "<ins")
	assert.NotContains(t, html, "<del")
}
