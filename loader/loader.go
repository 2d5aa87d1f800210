// Package loader maps reloadable artifacts into the process for the agent.
//
// [GoObject] links Go relocatable object files (.o, .a) with goloader. [Shared] opens C ABI shared
// objects with dlopen. Both implement [hotswap.Loader].
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unsafe"

	"github.com/ZenLiuCN/hotswap"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hotswap.loader")

// CheckPath validates an artifact path before it reaches the native loader.
func CheckPath(path string) error {
	if path == "" || strings.IndexByte(path, 0) >= 0 {
		return fmt.Errorf("%w: %q", hotswap.ErrInvalidPath, path)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", hotswap.ErrFileNotFound, path)
		}
		return fmt.Errorf("%w: %v", hotswap.ErrLoadFailed, err)
	}
	return nil
}

// pairs turns alternating old/new names into renames, a trailing odd name is dropped.
func pairs(names []string) (v []hotswap.Rename) {
	if len(names)%2 != 0 {
		log.Warningf("manifest has odd length %d, dropping %q", len(names), names[len(names)-1])
	}
	for i := 0; i+1 < len(names); i += 2 {
		v = append(v, hotswap.Rename{Old: names[i], New: names[i+1]})
	}
	return
}

const maxCString = 1 << 20

// cString copies the NUL terminated string at ptr.
func cString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	buf := make([]byte, 0, 64)
	for i := uintptr(0); i < maxCString; i++ {
		ch := *(*byte)(unsafe.Pointer(ptr + i))
		if ch == 0 {
			break
		}
		buf = append(buf, ch)
	}
	return string(buf)
}

// cStrings reads a NULL terminated array of C string pointers at ptr.
func cStrings(ptr uintptr) (v []string) {
	const size = unsafe.Sizeof(uintptr(0))
	for i := uintptr(0); ; i++ {
		p := *(*uintptr)(unsafe.Pointer(ptr + i*size))
		if p == 0 {
			return
		}
		v = append(v, cString(p))
	}
}
