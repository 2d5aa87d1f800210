package hotswap

import (
	"errors"
)

type (
	// Rename is one manifest pair: the table entry Old is repointed to the address of New inside
	// the freshly loaded artifact.
	Rename struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	// Handle is an opaque, exclusively owned reference to one mapped artifact.
	Handle interface {
		Path() string           //artifact path the handle was loaded from
		Owns(addr uintptr) bool //whether addr lies inside this artifact's mapped image
	}
	// Loader maps artifacts into the process. It is the one seam where the runtime depends on the
	// host's dynamic loading facility.
	Loader interface {
		Load(path string) (h Handle, err error)                    //map an artifact, throws ErrFileNotFound, ErrInvalidPath or ErrLoadFailed
		Resolve(h Handle, symbol string) (addr uintptr, err error) //address of an exported symbol, throws ErrSymbolNotFound
		Unload(h Handle) error                                     //release the handle, exactly once
		Manifest(h Handle) (r []Rename, err error)                 //rename pairs exported by the artifact, throws ErrNoManifest
		Call(addr uintptr) (out string, err error)                 //invoke an entry point returning the render result
	}
	// Exporter is implemented by loaders able to enumerate the symbols of an artifact.
	Exporter interface {
		Exports(h Handle) []string
	}
)

var (
	// ErrFileNotFound occurs when an artifact path does not exist before load.
	ErrFileNotFound = errors.New("artifact not found")
	// ErrLoadFailed occurs when the loader rejects an artifact, the loader diagnostic is wrapped.
	ErrLoadFailed = errors.New("load failed")
	// ErrSymbolNotFound occurs when an expected symbol is absent from an artifact.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrPatchFailed occurs when a page protection change fails.
	ErrPatchFailed = errors.New("patch failed")
	// ErrInvalidPath occurs when a path can not be represented as a native string.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNoPreviousVersion occurs when rollback is requested with fewer than two tracked modules.
	ErrNoPreviousVersion = errors.New("no previous version")
	// ErrProtocolDecode occurs on a malformed frame.
	ErrProtocolDecode = errors.New("protocol decode error")
	// ErrTimeout occurs when the controller gives up waiting for the agent.
	ErrTimeout = errors.New("timeout")
	// ErrBusy occurs when a reload is requested while another one is in flight.
	ErrBusy = errors.New("reload in progress")
	// ErrNoManifest occurs when an artifact exports no manifest symbol.
	ErrNoManifest = errors.New("no manifest")
	// ErrNotRegistered occurs when a symbol was never registered in the table.
	ErrNotRegistered = errors.New("symbol not registered")
	// ErrFunctionTooSmall occurs when a function is shorter than the trampoline to be installed on it.
	ErrFunctionTooSmall = errors.New("function too small for trampoline")
	// ErrUnsupportedArch occurs when no trampoline template exists for the running processor.
	ErrUnsupportedArch = errors.New("unsupported architecture")
	// ErrClosed occurs when using a closed agent or handle.
	ErrClosed = errors.New("closed")
)
