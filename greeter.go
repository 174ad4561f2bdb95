package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/km-arc/go-context/framework/app"
	"github.com/km-arc/go-context/framework/container"
	gohttp "github.com/km-arc/go-context/framework/http"
	"github.com/km-arc/go-context/framework/routing"
)

// Greeter greets the user of the current request.
type Greeter struct {
	User string
	// Clock is optional; tests pin it.
	Clock func() time.Time `inject:"clock,optional"`
}

func NewGreeter(user string) *Greeter {
	return &Greeter{User: user}
}

func (g *Greeter) Greet() string {
	now := time.Now
	if g.Clock != nil {
		now = g.Clock
	}
	return fmt.Sprintf("[%s] Hello, %s", now().UTC().Format(time.RFC3339), g.User)
}

type greetController struct {
	app.Controller
	greeter *Greeter
}

func (c *greetController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.Response(w).Success(map[string]string{
		"message":   c.greeter.Greet(),
		"requestId": c.Request(r).ID(),
	})
}

// greeterProvider binds the demo:
//
//	currentUser  ← ?user= of the request, "anonymous" by default
//	greeter      ← NewGreeter(currentUser)
//	GET /greet   → greetController(greeter)
type greeterProvider struct {
	container.BaseProvider
}

func (p *greeterProvider) Register(a *container.Context) {
	a.Bind("currentUser").ToDynamicValue(func(rc *container.ResolutionContext) (any, error) {
		req, err := gohttp.CurrentRequest(rc)
		if err != nil {
			return nil, err
		}
		return req.Query("user", "anonymous"), nil
	}).InScope(container.ScopeRequest)

	a.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser"))

	_ = a.Add(routing.NewRoute(http.MethodGet, "/greet", "controllers.greeter").
		ToClass(func(g *Greeter) *greetController {
			return &greetController{greeter: g}
		}, container.Inject("greeter")))
}
