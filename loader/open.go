package loader

import (
	"fmt"

	"github.com/ZenLiuCN/hotswap"
)

// Options select and set up a loader.
type Options struct {
	Kind      string   //goobj or so
	Package   string   //package path of Go objects
	Libraries []string //shared libraries whose symbols Go objects may link against
	Debug     bool
}

// Open the loader of kind.
func Open(o Options) (hotswap.Loader, error) {
	switch o.Kind {
	case "goobj", "":
		g, err := NewGoObject(o.Package)
		if err != nil {
			return nil, err
		}
		g.Debug = o.Debug
		for _, lib := range o.Libraries {
			if err = g.RegisterLibrary(lib); err != nil {
				return nil, err
			}
		}
		return g, nil
	case "so":
		return openShared()
	default:
		return nil, fmt.Errorf("unknown loader %q", o.Kind)
	}
}
