package agent

import (
	"github.com/ZenLiuCN/hotswap/patch"
)

type (
	// Binding mirrors a table swap into native memory through the Patcher.
	Binding interface {
		apply(p *patch.Patcher, addr uintptr) error
		reset(p *patch.Patcher) error
	}
	// SlotBinding rewrites a pointer-sized slot (a function pointer variable, a GOT entry) with the new address.
	SlotBinding struct {
		Slot uintptr
	}
	// EntryBinding installs a trampoline at a function entry jumping to the new address.
	// Size is the length of the function at Entry and must hold the whole trampoline.
	// Pointing the symbol back at Entry itself puts the function's own bytes back.
	EntryBinding struct {
		Entry uintptr
		Size  int
	}
)

func (b SlotBinding) apply(p *patch.Patcher, addr uintptr) error {
	_, err := p.PatchPointer(b.Slot, addr)
	return err
}

func (b EntryBinding) apply(p *patch.Patcher, addr uintptr) error {
	if addr == b.Entry {
		return p.Restore(b.Entry)
	}
	return p.InstallTrampoline(b.Entry, addr, b.Size)
}

func (b SlotBinding) reset(p *patch.Patcher) error {
	return p.Restore(b.Slot)
}

func (b EntryBinding) reset(p *patch.Patcher) error {
	return p.Restore(b.Entry)
}
