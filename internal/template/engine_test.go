package template

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Memory(t *testing.T) {
	e := NewEngine("")
	e.Register("alert", "{{ level }}: {{ body }}")

	out, err := e.Render("alert", map[string]any{"level": "WARN", "body": "disk 95%"})
	require.NoError(t, err)
	assert.Equal(t, "WARN: disk 95%", out)
}

func TestRender_NotFound(t *testing.T) {
	e := NewEngine("")
	_, err := e.Render("ghost", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestRender_Conditional(t *testing.T) {
	e := NewEngine("")
	e.Register("cond", "{% if urgent %}[URGENT] {% endif %}{{ text }}")

	out, err := e.Render("cond", map[string]any{"urgent": true, "text": "fire"})
	require.NoError(t, err)
	assert.Equal(t, "[URGENT] fire", out)

	out, err = e.Render("cond", map[string]any{"urgent": false, "text": "calm"})
	require.NoError(t, err)
	assert.Equal(t, "calm", out)
}

func TestRender_Loop(t *testing.T) {
	e := NewEngine("")
	e.Register("list", "{% for item in items %}{{ item }},{% endfor %}")

	out, err := e.Render("list", map[string]any{"items": []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, "a,b,c,", out)
}

func TestRender_AttributeAccess(t *testing.T) {
	e := NewEngine("")
	e.Register("attr", "{{ user.name }} has {{ user.count }} alerts")

	out, err := e.Render("attr", map[string]any{
		"user": map[string]any{"name": "ops", "count": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "ops has 3 alerts", out)
}

func TestRender_NoAutoescape(t *testing.T) {
	e := NewEngine("")
	e.Register("raw", "{{ body }}")

	out, err := e.Render("raw", map[string]any{"body": "<b>&amp;</b>"})
	require.NoError(t, err)
	assert.Equal(t, "<b>&amp;</b>", out)
}

func TestRenderString(t *testing.T) {
	e := NewEngine("")
	out, err := e.RenderString("Hello {{ name }}!", map[string]any{"name": "axel"})
	require.NoError(t, err)
	assert.Equal(t, "Hello axel!", out)
}

func TestRenderString_SyntaxError(t *testing.T) {
	e := NewEngine("")
	_, err := e.RenderString("{% if %}", nil)
	require.Error(t, err)
}

func TestFileNamespace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.txt"), []byte("hi {{ who }}"), 0o644))

	e := NewEngine(dir)
	out, err := e.Render("greet.txt", map[string]any{"who": "there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)

	listing := e.List()
	assert.Equal(t, []string{"greet.txt"}, listing["files"])
}

func TestMemoryWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup"), []byte("from file"), 0o644))

	e := NewEngine(dir)
	e.Register("dup", "from memory")

	out, err := e.Render("dup", nil)
	require.NoError(t, err)
	assert.Equal(t, "from memory", out)
}

func TestRegisterUnregister(t *testing.T) {
	e := NewEngine("")
	e.Register("a", "x")
	assert.True(t, e.Has("a"))
	assert.True(t, e.Unregister("a"))
	assert.False(t, e.Has("a"))
	assert.False(t, e.Unregister("a"))
}

func TestReregisterReplacesCompiled(t *testing.T) {
	e := NewEngine("")
	e.Register("v", "one")
	out, err := e.Render("v", nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	e.Register("v", "two")
	out, err = e.Render("v", nil)
	require.NoError(t, err)
	assert.Equal(t, "two", out)
}
