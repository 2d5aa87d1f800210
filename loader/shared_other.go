//go:build !darwin && !linux

package loader

import (
	"fmt"
	"runtime"

	"github.com/ZenLiuCN/hotswap"
)

func openShared() (hotswap.Loader, error) {
	return nil, fmt.Errorf("shared objects on %s: %w", runtime.GOOS, hotswap.ErrUnsupportedArch)
}
