package http_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/km-arc/go-context/framework/container"
	gohttp "github.com/km-arc/go-context/framework/http"
)

// ── Query ──────────────────────────────────────────────────────────────────

func newGetRequest(t *testing.T, rawQuery string) *gohttp.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	return gohttp.NewRequest(req)
}

func TestRequest_Query(t *testing.T) {
	req := newGetRequest(t, "page=2&limit=10")

	if got := req.Query("page"); got != "2" {
		t.Errorf("Query page: got %q want %q", got, "2")
	}
	if got := req.Query("limit"); got != "10" {
		t.Errorf("Query limit: got %q want %q", got, "10")
	}
}

func TestRequest_Query_Fallback(t *testing.T) {
	req := newGetRequest(t, "")
	if got := req.Query("missing", "1"); got != "1" {
		t.Errorf("Query fallback: got %q want %q", got, "1")
	}
}

// ── Request Context ───────────────────────────────────────────────────────────

func TestRequestFrom_ResolvesBoundRequest(t *testing.T) {
	c := container.NewContext(nil, "request-test")
	r := httptest.NewRequest(http.MethodGet, "/greet?user=john", nil)
	rr := httptest.NewRecorder()
	gohttp.BindRequest(c, r, rr, "req-1")

	req, err := gohttp.RequestFrom(c)
	if err != nil {
		t.Fatalf("RequestFrom: %v", err)
	}
	if req.ID() != "req-1" {
		t.Errorf("ID: got %q want %q", req.ID(), "req-1")
	}
	if req.Query("user") != "john" {
		t.Errorf("Query user: got %q want john", req.Query("user"))
	}
	if req.Scope() != c {
		t.Error("Scope should be the request Context")
	}

	c.Bind("answer").To(42)
	v, err := req.Resolve("answer")
	if err != nil || v != 42 {
		t.Errorf("Resolve: got %v, %v", v, err)
	}

	res, err := gohttp.ResponseFrom(c)
	if err != nil {
		t.Fatalf("ResponseFrom: %v", err)
	}
	res.Success("ok")
	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d want 200", rr.Code)
	}
}

func TestRequestFrom_OutsideRequestContext(t *testing.T) {
	c := container.NewContext(nil, "plain")

	_, err := gohttp.RequestFrom(c)
	var notFound *container.BindingNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected BindingNotFoundError, got %v", err)
	}
	if notFound.Key != gohttp.RequestKey {
		t.Errorf("Key: got %q want %q", notFound.Key, gohttp.RequestKey)
	}

	if _, err := gohttp.NewRequest(httptest.NewRequest(http.MethodGet, "/", nil)).Resolve("x"); err == nil {
		t.Error("Resolve without a request Context should fail")
	}
}

func TestCurrentRequest_ReportsResolutionPath(t *testing.T) {
	c := container.NewContext(nil, "app")
	c.Bind("currentUser").ToDynamicValue(func(rc *container.ResolutionContext) (any, error) {
		req, err := gohttp.CurrentRequest(rc)
		if err != nil {
			return nil, err
		}
		return req.Query("user"), nil
	})

	_, err := c.GetSync("currentUser")
	var notFound *container.BindingNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected BindingNotFoundError, got %v", err)
	}
	want := []string{"currentUser", gohttp.RequestKey}
	if len(notFound.Path) != 2 || notFound.Path[0] != want[0] || notFound.Path[1] != want[1] {
		t.Errorf("Path: got %v want %v", notFound.Path, want)
	}

	scope := container.NewContext(c, "request")
	gohttp.BindRequest(scope, httptest.NewRequest(http.MethodGet, "/?user=jane", nil), httptest.NewRecorder(), "id")
	v, err := scope.GetSync("currentUser")
	if err != nil || v != "jane" {
		t.Errorf("got %v, %v want jane", v, err)
	}
}
