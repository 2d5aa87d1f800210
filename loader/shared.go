//go:build darwin || linux

package loader

import (
	"fmt"
	"sync"

	"github.com/ZenLiuCN/hotswap"
	"github.com/ebitengine/purego"
)

// ManifestSymbol is the exported NULL terminated array of alternating old/new names in a shared object.
const ManifestSymbol = "hotswap_manifest"

type (
	// Shared opens C ABI shared objects with dlopen.
	Shared struct{}
	// sharedHandle owns one dlopen handle and every address resolved from it.
	sharedHandle struct {
		mu     sync.RWMutex
		path   string
		handle uintptr
		owned  map[uintptr]struct{}
	}
)

// NewShared create a shared object loader.
func NewShared() *Shared {
	return new(Shared)
}

func (s *Shared) Load(path string) (hotswap.Handle, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("%w: dlopen(%s): %v", hotswap.ErrLoadFailed, path, err)
	}
	return &sharedHandle{path: path, handle: handle, owned: make(map[uintptr]struct{})}, nil
}

func (s *Shared) handle(h hotswap.Handle) (*sharedHandle, error) {
	x, ok := h.(*sharedHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	return x, nil
}

func (s *Shared) Resolve(h hotswap.Handle, symbol string) (uintptr, error) {
	x, err := s.handle(h)
	if err != nil {
		return 0, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.handle == 0 {
		return 0, fmt.Errorf("%s: %w", x.path, hotswap.ErrClosed)
	}
	addr, err := purego.Dlsym(x.handle, symbol)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("%w: dlsym(%s) in %s: %v", hotswap.ErrSymbolNotFound, symbol, x.path, err)
	}
	x.owned[addr] = struct{}{}
	return addr, nil
}

func (s *Shared) Manifest(h hotswap.Handle) ([]hotswap.Rename, error) {
	addr, err := s.Resolve(h, ManifestSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hotswap.ErrNoManifest, err)
	}
	return pairs(cStrings(addr)), nil
}

func (s *Shared) Call(addr uintptr) (string, error) {
	r, _, _ := purego.SyscallN(addr)
	return cString(r), nil
}

func (s *Shared) Unload(h hotswap.Handle) error {
	x, err := s.handle(h)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.handle == 0 {
		return fmt.Errorf("%s: %w", x.path, hotswap.ErrClosed)
	}
	err = purego.Dlclose(x.handle)
	x.handle = 0
	if err != nil {
		return fmt.Errorf("dlclose(%s): %w", x.path, err)
	}
	return nil
}

func (h *sharedHandle) Path() string {
	return h.path
}

func (h *sharedHandle) Owns(addr uintptr) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.owned[addr]
	return ok
}

func openShared() (hotswap.Loader, error) {
	return NewShared(), nil
}
