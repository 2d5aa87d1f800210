// Package build compiles artifact sources into Go object files the agent can link, and inspects them.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hotswap.build")

// Options of one compilation.
type Options struct {
	Dir     string //working directory, the current one when empty
	Output  string //object file, <package base>.o in Dir when empty
	Package string //package path, main when empty
	Debug   bool   //keep the generated importcfg
}

func (o Options) pkg() string {
	if o.Package == "" {
		return "main"
	}
	return o.Package
}

func (o Options) output() string {
	if o.Output != "" {
		return o.Output
	}
	return filepath.Join(o.Dir, filepath.Base(o.pkg())+".o")
}

// Sources lists the non test Go files of dir.
func Sources(dir string) (v []string, err error) {
	var e []os.DirEntry
	if e, err = os.ReadDir(dir); err != nil {
		return
	}
	for _, entry := range e {
		if entry.IsDir() {
			continue
		}
		n := entry.Name()
		if strings.HasSuffix(n, ".go") && !strings.HasSuffix(n, "_test.go") {
			v = append(v, filepath.Join(dir, n))
		}
	}
	if len(v) == 0 {
		err = fmt.Errorf("no go sources in %s", dir)
	}
	return
}

// Importcfg writes the import configuration of sources, listing the export data of every
// dependency, and returns its path.
func Importcfg(ctx context.Context, o Options, sources []string) (path string, err error) {
	var out []byte
	if out, err = golist(ctx, o, append([]string{"-f", "{{join .Imports \" \"}}"}, sources...)...); err != nil {
		return "", fmt.Errorf("inspect imports: %w", err)
	}
	deps := strings.Fields(string(out))
	if o.Debug {
		log.Debugf("imports of %v: %v", sources, deps)
	}
	if out, err = golist(ctx, o, append([]string{"-deps", "-f", "{{if .Export}}packagefile {{.ImportPath}}={{.Export}}{{end}}", "std"}, deps...)...); err != nil {
		return "", fmt.Errorf("inspect dependencies: %w", err)
	}
	path = filepath.Join(o.Dir, "importcfg")
	if err = os.WriteFile(path, out, 0644); err != nil {
		return "", err
	}
	return
}

func golist(ctx context.Context, o Options, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "go", append([]string{"list", "-export"}, args...)...)
	cmd.Dir = o.Dir
	if o.Debug {
		log.Debugf("execute: %v", cmd.Args)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w\n%s", err, stderr.String())
	}
	return out, nil
}

// Compile sources into one object file and returns its path. A compiler rejection is returned as
// an *Error carrying the parsed diagnostics.
func Compile(ctx context.Context, o Options, sources []string) (object string, err error) {
	if len(sources) == 0 {
		return "", errors.New("missing target sources list")
	}
	if _, err = exec.LookPath("go"); err != nil {
		return "", fmt.Errorf("missing go sdk: %w", err)
	}
	var cfg string
	if cfg, err = Importcfg(ctx, o, sources); err != nil {
		return
	}
	if !o.Debug {
		defer func() {
			_ = os.Remove(cfg)
		}()
	}
	object = o.output()
	args := append([]string{"tool", "compile", "-importcfg", cfg, "-p", o.pkg(), "-o", object}, sources...)
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = o.Dir
	if o.Debug {
		log.Debugf("execute: %v", cmd.Args)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err = cmd.Run(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return "", &Error{Diagnostics: ParseDiagnostics(out.String()), Output: out.String()}
		}
		return "", err
	}
	log.Infof("compiled %d sources into %s", len(sources), object)
	return
}

// CopyFile from src to dest with optional src file info
func CopyFile(src string, dest string, si os.FileInfo) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(sf)
	if si == nil {
		if si, err = sf.Stat(); err != nil {
			return
		}
	}
	df, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, si.Mode())
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(df)
	_, err = df.ReadFrom(sf)
	return
}

// CopyDir from src to dest with optional src file info
func CopyDir(src string, dest string, si os.FileInfo) (err error) {
	if si == nil {
		if si, err = os.Stat(src); err != nil {
			return err
		}
	}
	if err = os.MkdirAll(dest, si.Mode()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return err
		}
		sp, dp := filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())
		if e.IsDir() {
			err = CopyDir(sp, dp, info)
		} else {
			err = CopyFile(sp, dp, info)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
