package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"unsafe"

	"github.com/ZenLiuCN/hotswap"
	"github.com/tliron/commonlog"
	"golang.org/x/sys/unix"
)

var log = commonlog.GetLogger("hotswap.patch")

const ptrSize = int(unsafe.Sizeof(uintptr(0)))

type (
	// Record is one raw memory patch, kept for exact restoration.
	Record struct {
		Addr     uintptr
		Original []byte
		Size     int
		kind     Kind
	}
	// Error is a failed protection change or write. It matches [hotswap.ErrPatchFailed].
	Error struct {
		Op   string
		Addr uintptr
		Err  error
	}
	// Patcher applies raw patches and keeps a private log of them, most recent last.
	Patcher struct {
		Arch string //processor architecture of trampolines, runtime.GOARCH by default
		ABI  ABI    //calling convention the trampoline must preserve
		Kind Kind   //protection assumed where the platform can not report it

		mu      sync.Mutex
		records []Record
	}
)

func (e *Error) Error() string {
	return fmt.Sprintf("patch %s at %#x: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{hotswap.ErrPatchFailed, e.Err}
}

// New create a Patcher for the running processor and the Go calling convention.
func New() *Patcher {
	return &Patcher{Arch: runtime.GOARCH, ABI: ABIGo}
}

// PatchPointer overwrites the pointer-sized slot with value and returns its previous content.
func (p *Patcher) PatchPointer(slot, value uintptr) (prev uintptr, err error) {
	b := make([]byte, ptrSize)
	putPointer(b, value)
	var old []byte
	if old, err = p.apply(slot, b, KindData); err != nil {
		return
	}
	prev = getPointer(old)
	log.Debugf("slot %#x: %#x -> %#x", slot, prev, value)
	return
}

// InstallTrampoline overwrites the entry of a function with an unconditional branch to target.
//
// size is the length of the function at entry; it must hold the whole trampoline, otherwise the
// adjacent code would be corrupted and ErrFunctionTooSmall is returned.
func (p *Patcher) InstallTrampoline(entry, target uintptr, size int) error {
	t, err := TemplateFor(p.Arch, p.ABI)
	if err != nil {
		return err
	}
	if size < t.Size {
		return fmt.Errorf("%w: %d < %d bytes at %#x", hotswap.ErrFunctionTooSmall, size, t.Size, entry)
	}
	if _, err = p.apply(entry, t.Assemble(target), KindCode); err != nil {
		return err
	}
	log.Debugf("trampoline %#x -> %#x (%s/%s)", entry, target, p.Arch, p.ABI)
	return nil
}

// RestoreAll walks the recorded patches in reverse order and writes their original bytes back.
// Records that fail to restore are kept.
func (p *Patcher) RestoreAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	var kept []Record
	for i := len(p.records) - 1; i >= 0; i-- {
		r := p.records[i]
		if _, err := write(r.Addr, r.Original, p.fallback(r.kind)); err != nil {
			errs = append(errs, err)
			kept = append([]Record{r}, kept...)
		}
	}
	p.records = kept
	return errors.Join(errs...)
}

// Restore writes back the bytes addr held before its first recorded patch and forgets every patch
// recorded at addr. It is a no-op when nothing was patched at addr.
func (p *Patcher) Restore(addr uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.IndexFunc(p.records, func(r Record) bool { return r.Addr == addr })
	if i < 0 {
		return nil
	}
	r := p.records[i]
	if _, err := write(r.Addr, r.Original, p.fallback(r.kind)); err != nil {
		return err
	}
	p.records = slices.DeleteFunc(p.records, func(r Record) bool { return r.Addr == addr })
	log.Debugf("restored %d bytes at %#x", r.Size, addr)
	return nil
}

// Records returns a copy of the patch log, oldest first.
func (p *Patcher) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := make([]Record, len(p.records))
	copy(v, p.records)
	return v
}

func (p *Patcher) fallback(k Kind) Kind {
	if p.Kind != KindUnknown {
		return p.Kind
	}
	return k
}

func (p *Patcher) apply(addr uintptr, b []byte, k Kind) (old []byte, err error) {
	if addr == 0 {
		return nil, &Error{Op: "write", Addr: addr, Err: unix.EINVAL}
	}
	// a failed protection restore still leaves the bytes written, so it is recorded
	if old, err = write(addr, b, p.fallback(k)); old != nil {
		p.mu.Lock()
		p.records = append(p.records, Record{Addr: addr, Original: old, Size: len(old), kind: k})
		p.mu.Unlock()
	}
	return
}

// write copies b to addr under writable protection and restores the prior protection of every
// page touched. The pages stay locked for the whole sequence.
func write(addr uintptr, b []byte, k Kind) (old []byte, err error) {
	pages := span(addr, len(b))
	unlock := lockPages(pages)
	defer unlock()
	prior := make([]int, len(pages))
	for i, pg := range pages {
		if prior[i], err = protectionOf(pg, k); err != nil {
			return nil, &Error{Op: "query", Addr: pg, Err: err}
		}
	}
	changed := 0
	defer func() {
		for i := 0; i < changed; i++ {
			if e := mprotect(pages[i], prior[i]); e != nil && err == nil {
				err = &Error{Op: "restore", Addr: pages[i], Err: e}
			}
		}
	}()
	for i, pg := range pages {
		if e := mprotect(pg, prior[i]|unix.PROT_WRITE); e != nil {
			return nil, &Error{Op: "unprotect", Addr: pg, Err: e}
		}
		changed++
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b))
	old = make([]byte, len(b))
	copy(old, mem)
	copy(mem, b)
	return
}

func putPointer(b []byte, v uintptr) {
	if ptrSize == 8 {
		binary.NativeEndian.PutUint64(b, uint64(v))
	} else {
		binary.NativeEndian.PutUint32(b, uint32(v))
	}
}

func getPointer(b []byte) uintptr {
	if ptrSize == 8 {
		return uintptr(binary.NativeEndian.Uint64(b))
	}
	return uintptr(binary.NativeEndian.Uint32(b))
}
