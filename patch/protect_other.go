//go:build unix && !linux

package patch

// protectionOf can not query the platform, the page is assumed to carry the protection of its kind.
func protectionOf(_ uintptr, k Kind) (int, error) {
	return k.prot(), nil
}
