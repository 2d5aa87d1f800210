// Package patch rewrites executable and data memory in place: pointer-sized slots, and function
// entries overwritten with a branch trampoline. Every change is recorded so RestoreAll can put the
// original bytes back, Restore does the same for a single address.
//
// Protection changes are page aligned and span exactly the pages a write touches. Pages are locked
// process wide for the whole protect-write-restore sequence, so patches to different pages proceed
// concurrently while patches to one page are serialized.
package patch
