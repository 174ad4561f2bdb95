package inspect_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-context/framework/container"
	"github.com/km-arc/go-context/framework/inspect"
)

func fixture() (root, child *container.Context) {
	root = container.NewContext(nil, "app")
	root.Bind("config.db").To(map[string]any{"host": "localhost"}).Tag("config")
	root.Bind("controllers.greeter").ToAlias("greeter").Tag("controller").InScope(container.ScopeSingleton)
	child = container.NewContext(root, "module")
	child.Bind("controllers.users").To("users").Tag("controller")
	return root, child
}

func get(t *testing.T, h http.Handler, target string) (int, any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	if data, ok := body["data"]; ok {
		return rr.Code, data
	}
	return rr.Code, body
}

func TestHandler_Tree(t *testing.T) {
	root, _ := fixture()

	code, data := get(t, inspect.Handler(root), "/")
	require.Equal(t, http.StatusOK, code)

	tree := data.(map[string]any)
	assert.Equal(t, "app", tree["name"])
	assert.Contains(t, tree["bindings"], "config.db")
	children := tree["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, "module", children[0].(map[string]any)["name"])
}

func TestHandler_TreeWithParent(t *testing.T) {
	_, child := fixture()

	_, data := get(t, inspect.Handler(child), "/?parent=true")
	tree := data.(map[string]any)
	assert.Equal(t, "module", tree["name"])
	assert.Equal(t, "app", tree["parent"].(map[string]any)["name"])
	assert.NotContains(t, tree, "children")
}

func TestHandler_BindingsFiltered(t *testing.T) {
	_, child := fixture()
	h := inspect.Handler(child)

	_, data := get(t, h, "/bindings?tag=controller")
	list := data.([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "controllers.users", first["key"])
	assert.Equal(t, "module", first["context"])
	second := list[1].(map[string]any)
	assert.Equal(t, "controllers.greeter", second["key"])
	assert.Equal(t, "app", second["context"])
	assert.Equal(t, "singleton", second["scope"])

	_, data = get(t, h, "/bindings?key=config.*")
	require.Len(t, data.([]any), 1)

	_, data = get(t, h, "/bindings?tag=controller&key=*.users")
	require.Len(t, data.([]any), 1)

	_, data = get(t, h, "/bindings")
	assert.Len(t, data.([]any), 3)
}

func TestHandler_OneBinding(t *testing.T) {
	_, child := fixture()
	h := inspect.Handler(child)

	code, data := get(t, h, "/bindings/controllers.greeter")
	require.Equal(t, http.StatusOK, code)
	b := data.(map[string]any)
	assert.Equal(t, "alias", b["type"])
	assert.Equal(t, "greeter", b["alias"])
	assert.Equal(t, "app", b["context"])

	code, data = get(t, h, "/bindings/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, data.(map[string]any)["message"], `"nope"`)
}
