package patch

import (
	"encoding/binary"
	"fmt"

	"github.com/ZenLiuCN/hotswap"
)

// ABI is the calling convention whose argument registers a trampoline must leave untouched.
type ABI string

const (
	ABIGo ABI = "go" //Go internal register ABI
	ABIC  ABI = "c"  //platform C ABI
)

// Template is the machine code of a branch trampoline for one architecture and ABI.
type Template struct {
	Arch     string
	ABI      ABI
	Size     int
	assemble func(b []byte, target uintptr)
}

// Assemble the trampoline jumping to target.
func (t Template) Assemble(target uintptr) []byte {
	b := make([]byte, t.Size)
	t.assemble(b, target)
	return b
}

// movabs into a scratch register then jump through it.
// Go ABIInternal passes arguments up to R11, so R12 is used there; C callers only allow R11.
func amd64Template(abi ABI, mov [2]byte, jmp [3]byte) Template {
	return Template{Arch: "amd64", ABI: abi, Size: 13, assemble: func(b []byte, target uintptr) {
		copy(b[0:2], mov[:])
		binary.LittleEndian.PutUint64(b[2:10], uint64(target))
		copy(b[10:13], jmp[:])
	}}
}

// ldr x16, #8; br x16; .quad target. X16 is IP0 in both ABIs.
func arm64Template(abi ABI) Template {
	return Template{Arch: "arm64", ABI: abi, Size: 16, assemble: func(b []byte, target uintptr) {
		binary.LittleEndian.PutUint32(b[0:4], 0x58000050)
		binary.LittleEndian.PutUint32(b[4:8], 0xD61F0200)
		binary.LittleEndian.PutUint64(b[8:16], uint64(target))
	}}
}

var templates = map[string]map[ABI]Template{
	"amd64": {
		ABIGo: amd64Template(ABIGo, [2]byte{0x49, 0xBC}, [3]byte{0x41, 0xFF, 0xE4}),
		ABIC:  amd64Template(ABIC, [2]byte{0x49, 0xBB}, [3]byte{0x41, 0xFF, 0xE3}),
	},
	"arm64": {
		ABIGo: arm64Template(ABIGo),
		ABIC:  arm64Template(ABIC),
	},
}

// TemplateFor returns the trampoline template of arch and abi.
func TemplateFor(arch string, abi ABI) (Template, error) {
	if t, ok := templates[arch][abi]; ok {
		return t, nil
	}
	return Template{}, fmt.Errorf("%w: %s/%s", hotswap.ErrUnsupportedArch, arch, abi)
}
