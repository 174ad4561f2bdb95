package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-context/framework/app"
	"github.com/km-arc/go-context/framework/config"
	"github.com/km-arc/go-context/framework/logging"
)

func TestGreeter_PerRequestUser(t *testing.T) {
	a, err := app.New(&config.Config{
		App:     config.AppConfig{Name: "demo", Env: "testing", Port: "0"},
		Context: config.ContextConfig{ChildPolicy: "orphan"},
	}, app.WithLogger(logging.NewTestLogger().Logger))
	require.NoError(t, err)
	defer a.Close()

	pinned := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a.Bind("clock").To(func() time.Time { return pinned })
	require.NoError(t, a.Register(&greeterProvider{}))

	h, err := a.Handler()
	require.NoError(t, err)

	for user, want := range map[string]string{
		"/greet?user=John": "[2024-01-02T03:04:05Z] Hello, John",
		"/greet?user=Jane": "[2024-01-02T03:04:05Z] Hello, Jane",
		"/greet":           "[2024-01-02T03:04:05Z] Hello, anonymous",
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, user, nil))
		require.Equal(t, http.StatusOK, rr.Code, user)

		var body struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, want, body.Data["message"])
		assert.NotEmpty(t, body.Data["requestId"])
	}
}

func TestGreeter_OutsideRequestFails(t *testing.T) {
	a, err := app.New(&config.Config{}, app.WithLogger(logging.NewTestLogger().Logger))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Register(&greeterProvider{}))

	_, err = a.GetSync("greeter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greeter --> currentUser")
}

func TestInspectCommand(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"inspect", "--env-file", "testdata/none.env"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())

	var tree map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &tree))
	assert.Equal(t, "application", tree["name"])
	bindings := tree["bindings"].(map[string]any)
	assert.Contains(t, bindings, "greeter")
	assert.Contains(t, bindings, "controllers.greeter")
	assert.Contains(t, bindings, "router")
}
