package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const compilerOutput = `./render.go:7:2: undefined: fmtt
./render.go:12:9: cannot use 1 (untyped int constant) as string value in return statement
/tmp/x/state.go:3: syntax error: non-declaration statement outside function body
too many errors
`

func TestParseDiagnostics(t *testing.T) {
	d := ParseDiagnostics(compilerOutput)
	require.Len(t, d, 3)
	assert.Equal(t, Diagnostic{File: "./render.go", Line: 7, Col: 2, Message: "undefined: fmtt"}, d[0])
	assert.Equal(t, 12, d[1].Line)
	assert.Equal(t, Diagnostic{File: "/tmp/x/state.go", Line: 3, Message: "syntax error: non-declaration statement outside function body"}, d[2])
	assert.Equal(t, "./render.go:7:2: undefined: fmtt", d[0].String())
	assert.Equal(t, "/tmp/x/state.go:3: syntax error: non-declaration statement outside function body", d[2].String())
	assert.Empty(t, ParseDiagnostics("go: no such tool \"compile\"\n"))
}

func TestErrorText(t *testing.T) {
	e := &Error{Diagnostics: ParseDiagnostics(compilerOutput), Output: compilerOutput}
	assert.Contains(t, e.Error(), "compile failed:\n./render.go:7:2: undefined: fmtt\n")
	assert.Equal(t, "compile failed: boom", (&Error{Output: "boom\n"}).Error())
}

func TestVersions(t *testing.T) {
	i := versions(
		[]string{"fmt", "github.com/BurntSushi/toml", "github.com/ZenLiuCN/fn"},
		[]string{
			"gofile..$GOROOT/src/fmt/print.go",
			"gofile../home/u/go/pkg/mod/github.com/!burnt!sushi/toml@v1.6.0/decode.go",
			"gofile../home/u/go/pkg/mod/github.com/!zen!liu!c!n/fn@v0.1.33/fn.go",
		},
	)
	assert.Equal(t, map[string]string{
		"fmt":                        "",
		"github.com/BurntSushi/toml": "v1.6.0",
		"github.com/ZenLiuCN/fn":     "v0.1.33",
	}, i.Imports)
	assert.Equal(t, "\tfmt\n\tgithub.com/BurntSushi/toml@v1.6.0\n\tgithub.com/ZenLiuCN/fn@v0.1.33\n", i.String())
	assert.Equal(t, "github.com/ZenLiuCN/fn", unescape("github.com/!zen!liu!c!n/fn"))
}

func TestSources(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"render.go", "render_test.go", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("package main"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.go"), 0755))
	v, err := Sources(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "render.go")}, v)
	_, err = Sources(t.TempDir())
	assert.Error(t, err)
}

func TestSourceHash(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.go"), filepath.Join(dir, "b.go")
	require.NoError(t, os.WriteFile(a, []byte("package main\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("func render() string { return \"v1\" }\n"), 0644))
	h1 := fn.Panic1(SourceHash(a, b))
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, fn.Panic1(SourceHash(b, a)), "order independent")
	require.NoError(t, os.WriteFile(b, []byte("func render() string { return \"v2\" }\n"), 0644))
	assert.NotEqual(t, h1, fn.Panic1(SourceHash(a, b)))
	_, err := SourceHash(filepath.Join(dir, "missing.go"))
	assert.Error(t, err)
}

func TestSDK(t *testing.T) {
	root := t.TempDir()
	internal := filepath.Join(root, sdkSource, "objabi")
	require.NoError(t, os.MkdirAll(internal, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(internal, "flag.go"), []byte("package objabi"), 0600))

	copied, err := PrepareSDK(root)
	require.NoError(t, err)
	assert.True(t, copied)
	got := fn.Panic1(os.ReadFile(filepath.Join(root, sdkTarget, "objabi", "flag.go")))
	assert.Equal(t, "package objabi", string(got))
	st := fn.Panic1(os.Stat(filepath.Join(root, sdkTarget, "objabi", "flag.go")))
	assert.Equal(t, os.FileMode(0600), st.Mode().Perm())

	copied, err = PrepareSDK(root)
	require.NoError(t, err)
	assert.False(t, copied)

	removed, err := CleanSDK(root)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(root, sdkTarget))
	removed, err = CleanSDK(root)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestOptions(t *testing.T) {
	assert.Equal(t, "main", Options{}.pkg())
	assert.Equal(t, filepath.Join("/w", "sample.o"), Options{Dir: "/w", Package: "example.com/sample"}.output())
	assert.Equal(t, "/tmp/x.o", Options{Output: "/tmp/x.o"}.output())
}
