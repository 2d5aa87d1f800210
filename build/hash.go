package build

import (
	"encoding/hex"
	"io"
	"os"
	"slices"

	"github.com/ZenLiuCN/fn"
	"github.com/zeebo/blake3"
)

// SourceHash is the blake3 digest of the named files, in lexical order of their names.
// The agent skips a reload when the hash matches the resident module.
func SourceHash(files ...string) (string, error) {
	files = slices.Clone(files)
	slices.Sort(files)
	h := blake3.New()
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return "", err
		}
		_, _ = io.WriteString(h, name+"\x00")
		_, err = io.Copy(h, f)
		fn.IgnoreClose(f)
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
