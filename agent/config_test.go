package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvSocket, "")
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	p := filepath.Join(t.TempDir(), "hotswap.toml")
	require.NoError(t, os.WriteFile(p, []byte(`
socket = "/run/preview.sock"
retention = 5
loader = "so"
render_output = "/tmp/out.txt"
`), 0644))
	c, err = LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "/run/preview.sock", c.Socket)
	assert.Equal(t, 5, c.Retention)
	assert.Equal(t, "so", c.Loader)
	assert.Equal(t, "render", c.Entry, "unset keys keep defaults")
	assert.Equal(t, "/tmp/out.txt", c.RenderOutput)

	t.Setenv(EnvSocket, "/tmp/env.sock")
	c, err = LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.sock", c.Socket)
}

func TestConfigValidate(t *testing.T) {
	for name, mut := range map[string]func(*Config){
		"retention": func(c *Config) { c.Retention = 0 },
		"socket":    func(c *Config) { c.Socket = "" },
		"loader":    func(c *Config) { c.Loader = "wasm" },
	} {
		c := Default()
		mut(&c)
		assert.Error(t, c.Validate(), name)
	}
	p := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(p, []byte("retention = \"x\""), 0644))
	_, err := LoadConfig(p)
	assert.ErrorContains(t, err, "parse error")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
