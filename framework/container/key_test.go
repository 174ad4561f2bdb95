package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/km-arc/go-context/framework/container"
)

func TestParseKey(t *testing.T) {
	key, path := container.ParseKey("config#db.host")
	assert.Equal(t, "config", key)
	assert.Equal(t, "db.host", path)

	key, path = container.ParseKey("plain")
	assert.Equal(t, "plain", key)
	assert.Equal(t, "", path)

	assert.Equal(t, "plain", container.KeyWithPath("plain", ""))
	assert.Equal(t, "db:$config#host", container.KeyWithPath(container.ConfigKey("db"), "host"))
}

func TestDeepProperty(t *testing.T) {
	type server struct {
		Host  string `json:"host"`
		Ports []int
	}
	value := map[string]any{
		"server": &server{Host: "localhost", Ports: []int{80, 443}},
		"nested": map[string]any{"level": map[string]string{"deep": "yes"}},
	}

	tests := []struct {
		path string
		want any
	}{
		{"", value},
		{"server.host", "localhost"},
		{"server.Host", "localhost"},
		{"server.Ports.1", 443},
		{"nested.level.deep", "yes"},
		{"server.Ports.9", nil},
		{"server.Ports.-1", nil},
		{"server.Ports.9223372036854775808", nil},
		{"server.missing", nil},
		{"nested.level.deep.deeper", nil},
		{"absent", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, container.DeepProperty(value, tt.path))
		})
	}

	assert.Nil(t, container.DeepProperty(nil, "a"))
}
