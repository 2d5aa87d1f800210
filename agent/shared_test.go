//go:build darwin || linux

package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/hotswap"
	"github.com/ZenLiuCN/hotswap/loader"
	"github.com/ZenLiuCN/hotswap/patch"
	"github.com/ZenLiuCN/hotswap/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedSample compiles testdata/sample/render.c as version v of the artifact.
func sharedSample(t *testing.T, v int) string {
	t.Helper()
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no C compiler in PATH")
	}
	src := string(fn.Panic1(os.ReadFile("../testdata/sample/render.c")))
	src = strings.NewReplacer("render_v1", fmt.Sprintf("render_v%d", v), "version=1", fmt.Sprintf("version=%d", v)).Replace(src)
	dir := t.TempDir()
	c := filepath.Join(dir, "render.c")
	require.NoError(t, os.WriteFile(c, []byte(src), 0644))
	so := filepath.Join(dir, fmt.Sprintf("render_v%d.so", v))
	out, err := exec.Command(cc, "-shared", "-fPIC", "-o", so, c).CombinedOutput()
	require.NoError(t, err, string(out))
	return so
}

func TestSharedObjectCycle(t *testing.T) {
	v1, v2 := sharedSample(t, 1), sharedSample(t, 2)
	a := New(loader.NewShared(), Default())
	a.Table = hotswap.NewTable()
	a.States = state.NewRegistry()
	a.Patcher = patch.New()

	r := a.HotReload(v1)
	require.True(t, r.Success, r.Error())
	assert.Equal(t, 1, r.Registered, "render enters the table with its first module")
	assert.Equal(t, 0, r.Swapped)
	require.NoError(t, r.RenderErr)
	assert.Equal(t, "<view version=1 renders=1/>", r.Output)

	r = a.HotReload(v2)
	require.True(t, r.Success, r.Error())
	assert.Equal(t, 1, r.Swapped)
	assert.Equal(t, "<view version=2 renders=1/>", r.Output)
	e, ok := a.Table.Get("render")
	require.True(t, ok)
	assert.NotEqual(t, e.Original, e.Current)

	require.NoError(t, a.Rollback())
	out, err := a.Render()
	require.NoError(t, err)
	assert.Equal(t, "<view version=1 renders=2/>", out)

	require.NoError(t, a.Close())
	_, ok = a.Table.Lookup("render")
	assert.False(t, ok, "symbol registered by an unloaded module is gone")
}
