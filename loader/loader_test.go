package loader

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"unsafe"

	"github.com/ZenLiuCN/hotswap"
	"github.com/ZenLiuCN/hotswap/build"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func junk(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("not an artifact"), 0644))
	return p
}

func TestCheckPath(t *testing.T) {
	assert.ErrorIs(t, CheckPath(""), hotswap.ErrInvalidPath)
	assert.ErrorIs(t, CheckPath("/tmp/a\x00b.so"), hotswap.ErrInvalidPath)
	assert.ErrorIs(t, CheckPath(filepath.Join(t.TempDir(), "missing.so")), hotswap.ErrFileNotFound)
	assert.NoError(t, CheckPath(junk(t, "present.so")))
}

func TestPairs(t *testing.T) {
	assert.Equal(t, []hotswap.Rename{{Old: "render", New: "render_v1"}, {Old: "tick", New: "tick_v1"}},
		pairs([]string{"render", "render_v1", "tick", "tick_v1"}))
	assert.Equal(t, []hotswap.Rename{{Old: "render", New: "render_v1"}},
		pairs([]string{"render", "render_v1", "dangling"}))
	assert.Empty(t, pairs(nil))
}

func TestCStrings(t *testing.T) {
	render := []byte("render\x00")
	v1 := []byte("render_v1\x00")
	table := []uintptr{
		uintptr(unsafe.Pointer(&render[0])),
		uintptr(unsafe.Pointer(&v1[0])),
		0,
	}
	got := cStrings(uintptr(unsafe.Pointer(&table[0])))
	assert.Equal(t, []string{"render", "render_v1"}, got)
	assert.Equal(t, "", cString(0))
	assert.Equal(t, "render", cString(table[0]))
	runtime.KeepAlive(render)
	runtime.KeepAlive(v1)
}

func TestSharedRejects(t *testing.T) {
	s := NewShared()
	_, err := s.Load(filepath.Join(t.TempDir(), "missing.so"))
	assert.ErrorIs(t, err, hotswap.ErrFileNotFound)
	_, err = s.Load(junk(t, "junk.so"))
	assert.ErrorIs(t, err, hotswap.ErrLoadFailed)
	_, err = s.Load("bad\x00path.so")
	assert.ErrorIs(t, err, hotswap.ErrInvalidPath)
}

func TestGoObjectRejects(t *testing.T) {
	g, err := NewGoObject("")
	require.NoError(t, err)
	assert.Equal(t, "main", g.Package)
	assert.Equal(t, "main.Render", g.qualify("Render"))
	assert.Equal(t, "sample.Render", g.qualify("sample.Render"))

	_, err = g.Load(filepath.Join(t.TempDir(), "missing.o"))
	assert.ErrorIs(t, err, hotswap.ErrFileNotFound)
	_, err = g.Load(junk(t, "junk.o"))
	assert.ErrorIs(t, err, hotswap.ErrLoadFailed)
}

func TestGoObjectRender(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go tool not in PATH")
	}
	object := filepath.Join(t.TempDir(), "render.o")
	_, err := build.Compile(context.Background(), build.Options{Package: "sample", Output: object}, []string{"../testdata/sample/render.go"})
	require.NoError(t, err)
	g, err := NewGoObject("sample")
	require.NoError(t, err)
	h, err := g.Load(object)
	if err != nil {
		t.Skipf("goloader can not link on %s: %v", runtime.Version(), err)
	}
	defer func() { assert.NoError(t, g.Unload(h)) }()

	addr, err := g.Resolve(h, "RenderV2")
	require.NoError(t, err)
	assert.True(t, h.Owns(addr))
	out, err := g.Call(addr)
	require.NoError(t, err)
	assert.Contains(t, out, "<view version=2 renders=1 ")

	m, err := g.Manifest(h)
	require.NoError(t, err)
	assert.Equal(t, []hotswap.Rename{{Old: "render", New: "sample.RenderV2"}}, m)

	_, err = g.Resolve(h, "Missing")
	assert.ErrorIs(t, err, hotswap.ErrSymbolNotFound)
}

func TestOpen(t *testing.T) {
	_, err := Open(Options{Kind: "wasm"})
	assert.Error(t, err)

	l, err := Open(Options{Package: "sample"})
	require.NoError(t, err)
	assert.Equal(t, "sample", l.(*GoObject).Package)

	_, err = Open(Options{Kind: "goobj", Libraries: []string{filepath.Join(t.TempDir(), "libmissing.so")}})
	assert.ErrorIs(t, err, hotswap.ErrFileNotFound)

	l, err = Open(Options{Kind: "so"})
	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		require.NoError(t, err)
		assert.IsType(t, &Shared{}, l)
	} else {
		assert.ErrorIs(t, err, hotswap.ErrUnsupportedArch)
	}
}
