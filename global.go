package hotswap

import (
	"sync"
)

var (
	globalOnce  sync.Once
	globalTable *Table
)

// Global returns the process-wide indirection table, created on first use.
func Global() *Table {
	globalOnce.Do(func() {
		globalTable = NewTable()
	})
	return globalTable
}

// Register symbol into the global table.
func Register(symbol string, addr uintptr) {
	Global().Register(symbol, addr)
}

// Lookup symbol in the global table.
func Lookup(symbol string) (uintptr, bool) {
	return Global().Lookup(symbol)
}
