// Package inspect serves a read-only JSON view of a Context tree.
package inspect

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/km-arc/go-context/framework/container"
	gohttp "github.com/km-arc/go-context/framework/http"
)

// Handler exposes c over HTTP:
//
//	GET /                    the tree rooted at c (?parent=true adds the ancestor chain)
//	GET /bindings            bindings visible from c, filtered by ?tag= and ?key=
//	GET /bindings/{key}      one binding and the Context that owns it
func Handler(c *container.Context) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		includeParent, _ := strconv.ParseBool(req.URL.Query().Get("parent"))
		gohttp.NewResponse(w).Success(Tree(c, includeParent))
	})
	r.Get("/bindings", func(w http.ResponseWriter, req *http.Request) {
		gohttp.NewResponse(w).Success(Bindings(c, req.URL.Query()["tag"], req.URL.Query().Get("key")))
	})
	r.Get("/bindings/{key}", func(w http.ResponseWriter, req *http.Request) {
		res := gohttp.NewResponse(w)
		key := chi.URLParam(req, "key")
		b, ok := c.GetBinding(key)
		if !ok {
			res.NotFound("binding " + strconv.Quote(key) + " is not bound in " + c.Name())
			return
		}
		res.Success(describe(b, c.GetOwnerContext(key)))
	})
	return r
}

// Tree describes c and, recursively, its open children.
func Tree(c *container.Context, includeParent bool) map[string]any {
	out := c.Inspect(container.InspectOptions{IncludeParent: includeParent})
	children := c.Children()
	if len(children) > 0 {
		nested := make([]map[string]any, 0, len(children))
		for _, child := range children {
			nested = append(nested, Tree(child, false))
		}
		out["children"] = nested
	}
	return out
}

// Bindings lists the bindings visible from c carrying every tag in tags and
// matching the key pattern, if given.
func Bindings(c *container.Context, tags []string, pattern string) []map[string]any {
	var filter container.BindingFilter = container.All
	if len(tags) > 0 {
		filter = container.FilterByTag(tags...)
	}
	if pattern != "" {
		filter = container.And(filter, container.FilterByKey(pattern))
	}
	found := c.Find(filter)
	out := make([]map[string]any, 0, len(found))
	for _, b := range found {
		out = append(out, describe(b, c.GetOwnerContext(b.Key())))
	}
	return out
}

func describe(b *container.Binding, owner *container.Context) map[string]any {
	out := b.Inspect()
	out["context"] = owner.Name()
	return out
}
