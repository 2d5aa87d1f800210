package agent

import (
	"time"

	"github.com/ZenLiuCN/hotswap"
)

type (
	// Module is one artifact resident in the process. It is owned by the agent and unloaded exactly once.
	Module struct {
		Handle     hotswap.Handle
		Path       string
		Version    uint64
		Exports    []string
		SourceHash string
		LoadedAt   time.Time
		swaps      []swap
	}
	// ModuleInfo is a copy of the public part of a Module.
	ModuleInfo struct {
		Path       string    `json:"path"`
		Version    uint64    `json:"version"`
		Exports    []string  `json:"exports"`
		SourceHash string    `json:"source_hash,omitempty"`
		LoadedAt   time.Time `json:"loaded_at"`
	}
	// swap is one table change made while loading a module.
	swap struct {
		Symbol     string
		Prev       uintptr
		Next       uintptr
		Registered bool //the symbol entered the table with this module, Prev is meaningless
	}
)

func (m *Module) info() ModuleInfo {
	return ModuleInfo{
		Path:       m.Path,
		Version:    m.Version,
		Exports:    append([]string(nil), m.Exports...),
		SourceHash: m.SourceHash,
		LoadedAt:   m.LoadedAt,
	}
}
