/*
Package hotswap is a live code-swapping runtime: a running process replaces the implementation of
already-loaded functions with newly compiled code, keeps its in-memory state, and renders a result
from the new code.

# License

Source codes are under Apache License Version 2.0.

# Underwater

 1. Every reloadable function is called through the process-wide indirection [Table], which maps a
    symbol name to the address currently in effect. A swap is a single atomic store, so callers see
    either the old or the new address, never a torn one.
 2. Artifacts are mapped by a [Loader]: Go relocatable object files through [goloader] (see the
    loader package), or C-ABI shared objects through dlopen.
 3. An artifact may export a manifest of (old, new) symbol renames. The agent package resolves the
    new names and repoints the table, optionally mirroring the swap into native pointer slots or
    function entries through the patch package.
 4. State registered in the state package survives reload cycles: it is captured before a load and
    written back afterwards, whether or not the reload succeeded.
 5. The agent runs in its own process (agentd) behind a length-prefixed JSON protocol (proto package),
    so a crash in user code cannot take down the controller (hotctl or an IDE).

# Notes

 1. Reload cycles are strictly serialized; a second reload while one is in flight fails with [ErrBusy].
 2. At most Retention modules stay resident. Table entries still pointing into an evicted module are
    rolled back to their original address before the module is unloaded.
 3. A render call into loaded code is synchronous and cannot be cancelled.

# Artifact contract

A Go artifact exports:

	func Render() string        // entry point, named by the agent entry setting
	func HotManifest() []string // optional, alternating old/new names

A shared object exports:

	const char* render(void);
	const char* hotswap_manifest[] = {"render", "render_v2", NULL}; // optional

[goloader]: https://github.com/pkujhd/goloader
*/
package hotswap
