package hotswap

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var tableLog = commonlog.GetLogger("hotswap.table")

type (
	// Entry is a point-in-time copy of one indirection table entry.
	Entry struct {
		Symbol   string
		Current  uintptr //address invoked by every call site going through the table
		Original uintptr //address at registration, the rollback target
		Version  uint64  //incremented on every swap or rollback
	}
	entry struct {
		mu       sync.Mutex //serializes writers of one entry, readers never take it
		current  atomic.Uintptr
		original uintptr
		version  atomic.Uint64
	}
	// Table maps symbolic function names to the address currently in effect.
	//
	// Lookups never block: they load the entry from a sync.Map and the address from an atomic word,
	// so a reader observes either the pre-swap or the post-swap address. Writers of one entry are
	// serialized by a per-entry lock whose critical section never calls out of the table.
	Table struct {
		mu      sync.Mutex //serializes Register and Clear
		entries sync.Map   //map[string]*entry
	}
)

// NewTable create an empty Table.
func NewTable() *Table {
	return new(Table)
}

func (t *Table) load(symbol string) (*entry, bool) {
	v, ok := t.entries.Load(symbol)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Register inserts symbol with current and original set to addr and version zero.
// Registering the same symbol and address again is a no-op; a different address overwrites the entry.
func (t *Table) Register(symbol string, addr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.load(symbol); ok {
		if e.original == addr {
			return
		}
		tableLog.Warningf("re-register %s: %#x replaced by %#x", symbol, e.original, addr)
	}
	e := &entry{original: addr}
	e.current.Store(addr)
	t.entries.Store(symbol, e)
}

// Lookup the address currently in effect for symbol.
func (t *Table) Lookup(symbol string) (addr uintptr, ok bool) {
	e, ok := t.load(symbol)
	if !ok {
		return
	}
	return e.current.Load(), true
}

// Swap atomically replaces the current address of symbol and returns the previous one.
func (t *Table) Swap(symbol string, addr uintptr) (prev uintptr, err error) {
	e, ok := t.load(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotRegistered, symbol)
	}
	e.mu.Lock()
	prev = e.current.Swap(addr)
	e.version.Add(1)
	e.mu.Unlock()
	return
}

// Rollback restores the original address of symbol. It is a no-op when symbol is already at its original.
func (t *Table) Rollback(symbol string) error {
	e, ok := t.load(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, symbol)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current.Load() == e.original {
		return nil
	}
	e.current.Store(e.original)
	e.version.Add(1)
	return nil
}

// Rebase makes addr the original address of symbol, the current address is left alone.
func (t *Table) Rebase(symbol string, addr uintptr) error {
	e, ok := t.load(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, symbol)
	}
	e.mu.Lock()
	e.original = addr
	e.mu.Unlock()
	return nil
}

// Remove the entry of symbol, it reports whether the symbol was registered.
func (t *Table) Remove(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries.LoadAndDelete(symbol)
	return ok
}

// Get a copy of the entry of symbol.
func (t *Table) Get(symbol string) (v Entry, ok bool) {
	e, ok := t.load(symbol)
	if !ok {
		return
	}
	e.mu.Lock()
	v = Entry{Symbol: symbol, Current: e.current.Load(), Original: e.original, Version: e.version.Load()}
	e.mu.Unlock()
	return
}

// Version of symbol, zero when not registered.
func (t *Table) Version(symbol string) uint64 {
	if e, ok := t.load(symbol); ok {
		return e.version.Load()
	}
	return 0
}

// List registered symbols in lexical order.
func (t *Table) List() (v []string) {
	t.entries.Range(func(k, _ any) bool {
		v = append(v, k.(string))
		return true
	})
	slices.Sort(v)
	return
}

// Pointing lists symbols whose current address is owned by h.
func (t *Table) Pointing(h Handle) (v []string) {
	t.entries.Range(func(k, e any) bool {
		if h.Owns(e.(*entry).current.Load()) {
			v = append(v, k.(string))
		}
		return true
	})
	slices.Sort(v)
	return
}

// Clear removes every entry.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Range(func(k, _ any) bool {
		t.entries.Delete(k)
		return true
	})
}
