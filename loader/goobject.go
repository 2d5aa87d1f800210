package loader

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/hotswap"
	"github.com/pkujhd/goloader"
)

// ManifestFunc is the exported function of a Go artifact returning alternating old/new names.
const ManifestFunc = "HotManifest"

type (
	// GoObject links Go relocatable object files against the host executable with goloader.
	//
	// Every artifact links against the host symbols only, never against a previously loaded
	// artifact, so a reload always runs the freshly compiled code.
	GoObject struct {
		Package string //package path of loaded objects, main by default
		Debug   bool

		mu      sync.Mutex
		symbols map[string]uintptr
	}
	goHandle struct {
		path   string
		pkg    string
		linker *goloader.Linker
		module *goloader.CodeModule
		lo, hi uintptr
	}
)

// NewGoObject create a GoObject loader, registering host symbols and the optional types shared with artifacts.
func NewGoObject(pkg string, types ...any) (g *GoObject, err error) {
	if pkg == "" {
		pkg = "main"
	}
	g = &GoObject{Package: pkg, symbols: make(map[string]uintptr)}
	if err = goloader.RegSymbol(g.symbols); err != nil {
		return nil, fmt.Errorf("register host symbols: %w", err)
	}
	g.RegisterTypes(types...)
	return
}

// RegisterTypes makes host types available to artifacts.
func (g *GoObject) RegisterTypes(types ...any) {
	if len(types) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Debug {
		log.Debugf("register types %v", types)
	}
	goloader.RegTypes(g.symbols, types...)
}

// RegisterLibrary makes the symbols of a shared library available to artifacts.
func (g *GoObject) RegisterLibrary(path string) error {
	if err := CheckPath(path); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := goloader.RegSymbolWithSo(g.symbols, path); err != nil {
		return fmt.Errorf("register symbols of %s: %w", path, err)
	}
	return nil
}

func (g *GoObject) qualify(sym string) string {
	if strings.IndexByte(sym, '.') < 0 {
		return g.Package + "." + sym
	}
	return sym
}

func (g *GoObject) Load(path string) (hotswap.Handle, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}
	g.mu.Lock()
	symbols := maps.Clone(g.symbols)
	g.mu.Unlock()
	linker, err := goloader.ReadObj(path, g.Package)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", hotswap.ErrLoadFailed, path, err)
	}
	module, err := goloader.Load(linker, symbols)
	if err != nil {
		if missing := goloader.UnresolvedSymbols(linker, symbols); len(missing) > 0 {
			return nil, fmt.Errorf("%w: link %s: %v (unresolved: %s)", hotswap.ErrLoadFailed, path, err, strings.Join(missing, ", "))
		}
		return nil, fmt.Errorf("%w: link %s: %v", hotswap.ErrLoadFailed, path, err)
	}
	h := &goHandle{path: path, pkg: g.Package, linker: linker, module: module}
	for _, addr := range module.Syms {
		if h.lo == 0 || addr < h.lo {
			h.lo = addr
		}
		if addr > h.hi {
			h.hi = addr
		}
	}
	if g.Debug {
		log.Debugf("linked %s: %d symbols in [%#x, %#x]", path, len(module.Syms), h.lo, h.hi)
	}
	return h, nil
}

func (g *GoObject) handle(h hotswap.Handle) (*goHandle, error) {
	x, ok := h.(*goHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	if x.module == nil {
		return nil, fmt.Errorf("%s: %w", x.path, hotswap.ErrClosed)
	}
	return x, nil
}

func (g *GoObject) Resolve(h hotswap.Handle, symbol string) (uintptr, error) {
	x, err := g.handle(h)
	if err != nil {
		return 0, err
	}
	symbol = g.qualify(symbol)
	addr, ok := x.module.Syms[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", hotswap.ErrSymbolNotFound, symbol, x.path)
	}
	return addr, nil
}

func (g *GoObject) Manifest(h hotswap.Handle) (v []hotswap.Rename, err error) {
	addr, err := g.Resolve(h, ManifestFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hotswap.ErrNoManifest, err)
	}
	names := hotswap.As[func() []string](addr)()
	for _, r := range pairs(names) {
		v = append(v, hotswap.Rename{Old: r.Old, New: g.qualify(r.New)})
	}
	return
}

func (g *GoObject) Call(addr uintptr) (string, error) {
	return hotswap.As[func() string](addr)(), nil
}

func (g *GoObject) Exports(h hotswap.Handle) []string {
	x, err := g.handle(h)
	if err != nil {
		return nil
	}
	v := fn.MapKeys(x.module.Syms)
	slices.Sort(v)
	return v
}

func (g *GoObject) Unload(h hotswap.Handle) error {
	x, err := g.handle(h)
	if err != nil {
		return err
	}
	_ = os.Stdout.Sync()
	x.module.Unload()
	x.module = nil
	x.linker = nil
	if g.Debug {
		log.Debugf("unloaded %s", x.path)
	}
	return nil
}

func (h *goHandle) Path() string {
	return h.path
}

func (h *goHandle) Owns(addr uintptr) bool {
	return h.hi != 0 && addr >= h.lo && addr <= h.hi
}
