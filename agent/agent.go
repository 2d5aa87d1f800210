// Package agent drives reload cycles: it loads an artifact, repoints the indirection table from the
// artifact's manifest, preserves registered state, renders through the fresh code, and keeps at most
// Retention modules resident.
package agent

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/ZenLiuCN/hotswap"
	"github.com/ZenLiuCN/hotswap/loader"
	"github.com/ZenLiuCN/hotswap/patch"
	"github.com/ZenLiuCN/hotswap/state"
	"github.com/davecgh/go-spew/spew"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hotswap.agent")

// Agent is the reload orchestrator. Reload cycles are strictly serialized; a cycle requested while
// another one runs fails with [hotswap.ErrBusy].
type Agent struct {
	Loader       hotswap.Loader
	Table        *hotswap.Table
	States       *state.Registry
	Patcher      *patch.Patcher
	Store        state.Store //optional persistence of captured state
	Retention    int
	Entry        string
	RenderOutput string
	Debug        bool

	cycle    sync.Mutex   //held for one reload, rollback or render
	mu       sync.RWMutex //guards the fields below
	modules  []*Module    //oldest first
	version  uint64
	closed   bool
	bmu      sync.RWMutex //guards bindings, never held while mu is acquired
	bindings map[string][]Binding
}

// New create an Agent on the process-wide table and state registry.
func New(l hotswap.Loader, c Config) *Agent {
	return &Agent{
		Loader:       l,
		Table:        hotswap.Global(),
		States:       state.Global(),
		Patcher:      patch.New(),
		Retention:    c.Retention,
		Entry:        c.Entry,
		RenderOutput: c.RenderOutput,
		Debug:        c.Debug,
	}
}

// Bind mirrors every future swap of symbol into native memory.
func (a *Agent) Bind(symbol string, b Binding) error {
	if e, ok := b.(EntryBinding); ok {
		t, err := patch.TemplateFor(a.Patcher.Arch, a.Patcher.ABI)
		if err != nil {
			return err
		}
		if e.Size < t.Size {
			return fmt.Errorf("%w: %s is %d bytes, trampoline needs %d", hotswap.ErrFunctionTooSmall, symbol, e.Size, t.Size)
		}
	}
	a.bmu.Lock()
	defer a.bmu.Unlock()
	if a.bindings == nil {
		a.bindings = make(map[string][]Binding)
	}
	a.bindings[symbol] = append(a.bindings[symbol], b)
	return nil
}

// RestoreState loads the persisted snapshot, if any, into the state registry.
func (a *Agent) RestoreState() error {
	if a.Store == nil {
		return nil
	}
	s, err := a.Store.Load()
	if err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	}
	if s != nil {
		a.States.Restore(s)
		log.Infof("restored %d state entries captured at %s", s.Len(), s.TakenAt.Format(time.RFC3339))
	}
	return nil
}

// HotReload runs one full reload cycle on path.
func (a *Agent) HotReload(path string) ReloadResult {
	return a.HotReloadSource(path, "")
}

// HotReloadSource runs one reload cycle; when hash is not empty and matches the resident module
// loaded from the same path, nothing is loaded.
func (a *Agent) HotReloadSource(path, hash string) (r ReloadResult) {
	start := time.Now()
	defer func() {
		r.Duration = time.Since(start)
		if a.Debug {
			log.Debugf("reload %s: %s", path, spew.Sdump(r))
		}
	}()
	if !a.cycle.TryLock() {
		return a.fail(hotswap.ErrBusy)
	}
	defer a.cycle.Unlock()
	if a.isClosed() {
		return a.fail(hotswap.ErrClosed)
	}
	if hash != "" {
		if m := a.latest(); m != nil && m.Path == path && m.SourceHash == hash {
			return ReloadResult{Success: true, Version: m.Version, Cached: true}
		}
	}
	if err := loader.CheckPath(path); err != nil {
		return a.fail(err)
	}

	snap := a.States.Capture()
	restored := false
	defer func() {
		if !restored {
			a.States.Restore(snap)
		}
	}()
	if a.Store != nil {
		if err := a.Store.Save(snap); err != nil {
			log.Warningf("persist state before reload: %v", err)
		}
	}

	h, err := a.Loader.Load(path)
	if err != nil {
		return a.fail(err)
	}
	renames, err := a.Loader.Manifest(h)
	switch {
	case errors.Is(err, hotswap.ErrNoManifest):
		renames = a.conventional(h)
	case err != nil:
		a.unload(h)
		return a.fail(err)
	}

	applied, skipped, err := a.swap(h, renames)
	if err != nil {
		a.revert(applied)
		a.unload(h)
		r = a.fail(err)
		r.Skipped = skipped
		return
	}

	a.States.Restore(snap)
	restored = true

	m := &Module{Handle: h, Path: path, SourceHash: hash, LoadedAt: time.Now(), swaps: applied}
	if x, ok := a.Loader.(hotswap.Exporter); ok {
		m.Exports = x.Exports(h)
	} else {
		for _, s := range applied {
			m.Exports = append(m.Exports, s.Symbol)
		}
	}
	a.mu.Lock()
	a.version++
	m.Version = a.version
	a.modules = append(a.modules, m)
	a.evictLocked()
	a.mu.Unlock()
	registered := 0
	for _, s := range applied {
		if s.Registered {
			registered++
		}
	}
	log.Infof("loaded %s as version %d, %d swapped, %d registered, %d skipped", path, m.Version, len(applied)-registered, registered, len(skipped))

	r = ReloadResult{Success: true, Version: m.Version, Swapped: len(applied) - registered, Registered: registered, Skipped: skipped}
	renderStart := time.Now()
	r.Output, r.RenderErr = a.render(m)
	r.RenderDuration = time.Since(renderStart)
	return
}

func (a *Agent) fail(err error) ReloadResult {
	log.Errorf("reload failed: %v", err)
	return ReloadResult{Version: a.Version(), Err: err}
}

// conventional matches every registered symbol exported under the same name by h.
func (a *Agent) conventional(h hotswap.Handle) (v []hotswap.Rename) {
	for _, sym := range a.Table.List() {
		if _, err := a.Loader.Resolve(h, sym); err == nil {
			v = append(v, hotswap.Rename{Old: sym, New: sym})
		}
	}
	return
}

// swap applies renames. Unresolvable pairs are skipped, a symbol not yet in the table is registered at
// the new address. A failed native mirror aborts the cycle with the swaps applied so far.
func (a *Agent) swap(h hotswap.Handle, renames []hotswap.Rename) (applied []swap, skipped []string, err error) {
	for _, rn := range renames {
		addr, err := a.Loader.Resolve(h, rn.New)
		if err != nil {
			log.Warningf("skip %s -> %s: %v", rn.Old, rn.New, err)
			skipped = append(skipped, rn.Old+"->"+rn.New)
			continue
		}
		prev, err := a.Table.Swap(rn.Old, addr)
		if err != nil {
			a.Table.Register(rn.Old, addr)
			applied = append(applied, swap{Symbol: rn.Old, Next: addr, Registered: true})
			log.Infof("registered %s at %#x (%s)", rn.Old, addr, rn.New)
			continue
		}
		applied = append(applied, swap{Symbol: rn.Old, Prev: prev, Next: addr})
		if err = a.mirror(rn.Old, addr); err != nil {
			return applied, skipped, fmt.Errorf("mirror %s: %w", rn.Old, err)
		}
	}
	return
}

// revert puts back the previous address of every applied swap, newest first.
func (a *Agent) revert(applied []swap) {
	for i := len(applied) - 1; i >= 0; i-- {
		s := applied[i]
		if s.Registered {
			a.Table.Remove(s.Symbol)
			continue
		}
		if _, err := a.Table.Swap(s.Symbol, s.Prev); err != nil {
			log.Errorf("revert %s: %v", s.Symbol, err)
			continue
		}
		if err := a.mirror(s.Symbol, s.Prev); err != nil {
			log.Errorf("revert native %s: %v", s.Symbol, err)
		}
	}
}

func (a *Agent) mirror(symbol string, addr uintptr) error {
	a.bmu.RLock()
	bs := slices.Clone(a.bindings[symbol])
	a.bmu.RUnlock()
	for _, b := range bs {
		if err := b.apply(a.Patcher, addr); err != nil {
			return err
		}
	}
	return nil
}

// evictLocked unloads the oldest modules beyond Retention. Table entries still pointing into an
// evicted module are rolled back to their original address first.
func (a *Agent) evictLocked() {
	limit := a.Retention
	if limit < 1 {
		limit = 1
	}
	for len(a.modules) > limit {
		old := a.modules[0]
		a.modules = a.modules[1:]
		a.release(old)
	}
}

// reset puts back the native memory patched for symbol.
func (a *Agent) reset(symbol string) {
	a.bmu.RLock()
	bs := slices.Clone(a.bindings[symbol])
	a.bmu.RUnlock()
	for _, b := range bs {
		if err := b.reset(a.Patcher); err != nil {
			log.Errorf("reset native %s: %v", symbol, err)
		}
	}
}

// release makes sure nothing in the table references m, then unloads it. Entries pointing into m go
// back to their original address; entries registered by m are removed while they still point into m,
// otherwise their current address becomes their original.
func (a *Agent) release(m *Module) {
	for _, sym := range a.Table.List() {
		e, ok := a.Table.Get(sym)
		if !ok {
			continue
		}
		current, original := m.Handle.Owns(e.Current), m.Handle.Owns(e.Original)
		switch {
		case current && original:
			log.Warningf("%s was registered by %s (version %d), removing it", sym, m.Path, m.Version)
			a.Table.Remove(sym)
			a.reset(sym)
		case current:
			log.Warningf("%s still points into %s (version %d), rolling back to original", sym, m.Path, m.Version)
			if err := a.Table.Rollback(sym); err != nil {
				log.Errorf("rollback %s: %v", sym, err)
				continue
			}
			if err := a.mirror(sym, e.Original); err != nil {
				log.Errorf("rollback native %s: %v", sym, err)
			}
		case original:
			if err := a.Table.Rebase(sym, e.Current); err != nil {
				log.Errorf("rebase %s: %v", sym, err)
				continue
			}
			log.Infof("%s registered by %s now originates at %#x", sym, m.Path, e.Current)
		}
	}
	a.unload(m.Handle)
}

func (a *Agent) unload(h hotswap.Handle) {
	if err := a.Loader.Unload(h); err != nil {
		log.Errorf("unload %s: %v", h.Path(), err)
	}
}

// Rollback pops the most recent module and restores the previous version. Symbols swapped by the
// popped module are repointed to their pre-swap address when it is still resident, else to their original.
func (a *Agent) Rollback() error {
	if !a.cycle.TryLock() {
		return hotswap.ErrBusy
	}
	defer a.cycle.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return hotswap.ErrClosed
	}
	if len(a.modules) < 2 {
		return hotswap.ErrNoPreviousVersion
	}
	top := a.modules[len(a.modules)-1]
	a.modules = a.modules[:len(a.modules)-1]
	for i := len(top.swaps) - 1; i >= 0; i-- {
		s := top.swaps[i]
		e, ok := a.Table.Get(s.Symbol)
		if !ok || s.Registered || e.Current != s.Next {
			continue
		}
		target := s.Prev
		if !a.residentLocked(target, e.Original) {
			target = e.Original
		}
		if _, err := a.Table.Swap(s.Symbol, target); err != nil {
			log.Errorf("rollback %s: %v", s.Symbol, err)
			continue
		}
		if err := a.mirror(s.Symbol, target); err != nil {
			log.Errorf("rollback native %s: %v", s.Symbol, err)
		}
	}
	a.release(top)
	a.version = a.modules[len(a.modules)-1].Version
	log.Infof("rolled back %s, now at version %d", top.Path, a.version)
	return nil
}

func (a *Agent) residentLocked(addr, original uintptr) bool {
	if addr == original {
		return true
	}
	for _, m := range a.modules {
		if m.Handle.Owns(addr) {
			return true
		}
	}
	return false
}

// Render calls the entry point of the resident code.
func (a *Agent) Render() (string, error) {
	if !a.cycle.TryLock() {
		return "", hotswap.ErrBusy
	}
	defer a.cycle.Unlock()
	return a.render(a.latest())
}

// render calls the entry through the table when registered, else the entry exported by m.
func (a *Agent) render(m *Module) (out string, err error) {
	if a.Entry == "" {
		return
	}
	addr, ok := a.Table.Lookup(a.Entry)
	if !ok {
		if m == nil {
			return "", fmt.Errorf("%w: %s", hotswap.ErrSymbolNotFound, a.Entry)
		}
		if addr, err = a.Loader.Resolve(m.Handle, a.Entry); err != nil {
			return
		}
	}
	if out, err = a.call(addr); err != nil {
		return
	}
	if a.RenderOutput != "" {
		if werr := os.WriteFile(a.RenderOutput, []byte(out), 0644); werr != nil {
			log.Warningf("write render output %s: %v", a.RenderOutput, werr)
		}
	}
	return
}

func (a *Agent) call(addr uintptr) (out string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &CrashError{Value: v, Stack: debug.Stack()}
		}
	}()
	return a.Loader.Call(addr)
}

// Invalidate forgets the source hash of modules loaded from path, the next reload of path always loads.
func (a *Agent) Invalidate(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.modules {
		if m.Path == path {
			m.SourceHash = ""
		}
	}
}

// Version of the resident code, zero before the first reload.
func (a *Agent) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// ModuleCount of resident modules.
func (a *Agent) ModuleCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.modules)
}

// Modules resident, oldest first.
func (a *Agent) Modules() []ModuleInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v := make([]ModuleInfo, 0, len(a.modules))
	for _, m := range a.modules {
		v = append(v, m.info())
	}
	return v
}

func (a *Agent) latest() *Module {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.modules) == 0 {
		return nil
	}
	return a.modules[len(a.modules)-1]
}

func (a *Agent) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// Close unloads every module, newest first, and restores every native patch.
func (a *Agent) Close() error {
	a.cycle.Lock()
	defer a.cycle.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	for i := len(a.modules) - 1; i >= 0; i-- {
		a.release(a.modules[i])
	}
	a.modules = nil
	return a.Patcher.RestoreAll()
}
