package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZenLiuCN/hotswap/agent"
	"github.com/ZenLiuCN/hotswap/build"
	"github.com/ZenLiuCN/hotswap/proto"
	"github.com/ZenLiuCN/hotswap/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type backend struct {
	mu          sync.Mutex
	path, hash  string
	invalidated []string
}

func (b *backend) HotReloadSource(path, hash string) agent.ReloadResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.path, b.hash = path, hash
	return agent.ReloadResult{Success: true, Version: 1, Swapped: 1}
}
func (b *backend) Rollback() error         { return nil }
func (b *backend) Render() (string, error) { return "<frame/>", nil }
func (b *backend) Version() uint64         { return 1 }
func (b *backend) Invalidate(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidated = append(b.invalidated, path)
}

func agentd(t *testing.T) (socket, bulk string, b *backend) {
	t.Helper()
	socket, bulk, b = filepath.Join(t.TempDir(), "agent.sock"), t.TempDir(), &backend{}
	s, err := proto.Listen(socket, b, state.NewRegistry(), proto.Segments{Dir: bulk})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Serve(ctx) }()
	return
}

func hotctl(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run(append([]string{"hotctl", "-t", "5s"}, args...)))
	return out.String()
}

func TestPing(t *testing.T) {
	socket, _, _ := agentd(t)
	assert.Equal(t, "{\"type\":\"Pong\"}\n", hotctl(t, "-s", socket, "ping"))
}

func TestReloadHashesSources(t *testing.T) {
	socket, _, b := agentd(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "render.go")
	require.NoError(t, os.WriteFile(src, []byte("package main\n"), 0644))
	out := hotctl(t, "-s", socket, "reload", "--source", dir, filepath.Join(dir, "render.o"))
	assert.Contains(t, out, `"success":true`)
	want, err := build.SourceHash(src)
	require.NoError(t, err)
	b.mu.Lock()
	assert.Equal(t, filepath.Join(dir, "render.o"), b.path)
	assert.Equal(t, want, b.hash)
	b.mu.Unlock()

	hotctl(t, "-s", socket, "invalidate", filepath.Join(dir, "render.o"))
	b.mu.Lock()
	assert.Equal(t, []string{filepath.Join(dir, "render.o")}, b.invalidated)
	b.mu.Unlock()
}

func TestRenderReadsSegment(t *testing.T) {
	socket, bulk, _ := agentd(t)
	assert.Equal(t, "<frame/>", hotctl(t, "-s", socket, "render", "--bulk-dir", bulk))
	left, err := os.ReadDir(bulk)
	require.NoError(t, err)
	assert.Empty(t, left, "segment removed after reading")
}

func TestUnreachableAgent(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"hotctl", "-s", filepath.Join(t.TempDir(), "none.sock"), "-t", time.Second.String(), "ping"})
	assert.Error(t, err)
}

func TestBuildWithoutSources(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	assert.Error(t, app.Run([]string{"hotctl", "build"}))
}

func TestCompileFailureDiagnostics(t *testing.T) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := failed(cli.NewContext(app, nil, nil), &build.Error{Diagnostics: build.ParseDiagnostics("./render.go:12:5: undefined: x\n")})
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.ExitCode())

	p, err := proto.Decode(bytes.TrimSpace(out.Bytes()))
	require.NoError(t, err)
	r, ok := p.(proto.ReloadComplete)
	require.True(t, ok)
	assert.False(t, r.Success)
	assert.Equal(t, []proto.Diagnostic{{File: "./render.go", Line: 12, Col: 5, Message: "undefined: x"}}, r.Diagnostics)
}
