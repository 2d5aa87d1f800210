package patch

import (
	"slices"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kind tells which protection a page is assumed to carry when the platform can not report it.
type Kind int

const (
	KindUnknown Kind = iota
	KindData         //read and write
	KindCode         //read and execute
)

func (k Kind) prot() int {
	if k == KindCode {
		return unix.PROT_READ | unix.PROT_EXEC
	}
	return unix.PROT_READ | unix.PROT_WRITE
}

var (
	pageSize  = uintptr(unix.Getpagesize())
	pageLocks sync.Map //map[uintptr]*sync.Mutex
)

// PageSize of the running system.
func PageSize() uintptr {
	return pageSize
}

// span lists the page starts touched by n bytes at addr, ascending.
func span(addr uintptr, n int) (v []uintptr) {
	if n <= 0 {
		n = 1
	}
	first := addr &^ (pageSize - 1)
	last := (addr + uintptr(n) - 1) &^ (pageSize - 1)
	for pg := first; pg <= last; pg += pageSize {
		v = append(v, pg)
	}
	return
}

// lockPages locks every page in ascending order and returns the unlock function.
func lockPages(pages []uintptr) func() {
	sorted := slices.Clone(pages)
	slices.Sort(sorted)
	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, pg := range sorted {
		m, _ := pageLocks.LoadOrStore(pg, new(sync.Mutex))
		mu := m.(*sync.Mutex)
		mu.Lock()
		locks = append(locks, mu)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func mprotect(page uintptr, prot int) error {
	return unix.Mprotect(unsafe.Slice((*byte)(unsafe.Pointer(page)), pageSize), prot)
}
