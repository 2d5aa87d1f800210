package agent

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// EnvSocket overrides the control socket path.
const EnvSocket = "HOTSWAP_SOCKET"

// Config of one agent process, usually read from hotswap.toml.
type Config struct {
	Socket       string   `toml:"socket"`
	Retention    int      `toml:"retention"`     //resident module cap
	Entry        string   `toml:"entry"`         //render entry symbol
	Loader       string   `toml:"loader"`        //goobj or so
	Package      string   `toml:"package"`       //package path of Go artifacts
	Libraries    []string `toml:"libraries"`     //shared libraries Go artifacts may link against
	RenderOutput string   `toml:"render_output"` //file receiving every render result, optional
	BulkDir      string   `toml:"bulk_dir"`      //directory of bulk segments, /dev/shm when empty
	CompressBulk bool     `toml:"compress_bulk"`
	StateFile    string   `toml:"state_file"` //bbolt file persisting state, optional
	Debug        bool     `toml:"debug"`
}

// Default configuration.
func Default() Config {
	return Config{
		Socket:    "/tmp/hotswap_preview.sock",
		Retention: 3,
		Entry:     "render",
		Loader:    "goobj",
		Package:   "main",
	}
}

// LoadConfig reads path over the defaults, an empty path only applies defaults and environment.
func LoadConfig(path string) (c Config, err error) {
	c = Default()
	if path != "" {
		var data []byte
		if data, err = os.ReadFile(path); err != nil {
			return c, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if err = toml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse error in %s: %w", path, err)
		}
	}
	if v := os.Getenv(EnvSocket); v != "" {
		c.Socket = v
	}
	err = c.Validate()
	return
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.Retention < 1 {
		return fmt.Errorf("retention must be at least 1, got %d", c.Retention)
	}
	if c.Socket == "" {
		return fmt.Errorf("socket path is empty")
	}
	switch c.Loader {
	case "goobj", "so":
	default:
		return fmt.Errorf("unknown loader %q", c.Loader)
	}
	return nil
}
