package build

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
	"github.com/pkujhd/goloader/obj"
)

// Info contains the imports of an object file
type Info struct {
	File    string
	PkgPath string
	Imports map[string]string // with pairs of package import path and version
}

func (i Info) String() string {
	s := strings.Builder{}
	k := fn.MapKeys(i.Imports)
	slices.Sort(k)
	for _, p := range k {
		if v := i.Imports[p]; v != "" {
			s.WriteString(fmt.Sprintf("\t%s@%s\n", p, v))
		} else {
			s.WriteString(fmt.Sprintf("\t%s\n", p))
		}
	}
	return s.String()
}

// Imports resolves the packages imported by an object file, with their module version when known.
func Imports(file, pkgPath string) (*Info, error) {
	if pkgPath == "" {
		pkgPath = "main"
	}
	v := &obj.Pkg{Syms: make(map[string]*obj.ObjSymbol), File: file, PkgPath: pkgPath}
	if err := v.Symbols(); err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	i := versions(v.ImportPkgs, v.CUFiles)
	i.File = file
	i.PkgPath = pkgPath
	return i, nil
}

// versions matches imported packages against the compilation unit file paths, which carry
// module versions as path@version.
func versions(imports, files []string) (i *Info) {
	i = &Info{Imports: make(map[string]string)}
	for _, pkg := range imports {
		i.Imports[pkg] = ""
	}
	for _, f := range files {
		f = strings.TrimPrefix(f, "gofile..")
		if strings.HasPrefix(f, "$GOROOT") {
			continue
		}
		if strings.IndexByte(f, '!') >= 0 {
			f = unescape(f)
		}
		for _, pkg := range imports {
			x := strings.Index(f, pkg+"@")
			if x < 0 || i.Imports[pkg] != "" {
				continue
			}
			ver := f[x+len(pkg)+1:]
			if y := strings.IndexByte(ver, '/'); y >= 0 {
				ver = ver[:y]
			}
			i.Imports[pkg] = ver
		}
	}
	return
}

// unescape a module cache path, where !x stands for X.
func unescape(f string) string {
	v := strings.Builder{}
	x := false
	for _, c := range []byte(f) {
		switch {
		case c == '!':
			x = true
		case x:
			x = false
			v.WriteByte(c - 32)
		default:
			v.WriteByte(c)
		}
	}
	return v.String()
}

// Symbols lists the symbols defined inside an object file.
func Symbols(file, pkgPath string) ([]string, error) {
	if pkgPath == "" {
		pkgPath = "main"
	}
	return goloader.Parse(file, pkgPath)
}
