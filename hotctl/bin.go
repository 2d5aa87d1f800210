package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ZenLiuCN/hotswap/agent"
	"github.com/ZenLiuCN/hotswap/build"
	"github.com/ZenLiuCN/hotswap/proto"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli/v2"
)

var logger = commonlog.GetLogger("hotctl")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "hotctl"
	app.Usage = "hot swap controller"
	app.Description = "controller which compiles go sources into objfile and drives a running agent"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "socket", Aliases: []string{"s"}, Value: agent.Default().Socket, EnvVars: []string{agent.EnvSocket}},
		&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 10 * time.Second},
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
	}
	app.Before = func(ctx *cli.Context) error {
		if ctx.Bool("debug") {
			commonlog.Configure(2, nil)
		} else {
			commonlog.Configure(0, nil)
		}
		return nil
	}
	pkg := &cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path or default main"}
	app.Commands = []*cli.Command{
		{
			Name:   "build",
			Action: compile,
			Flags: []cli.Flag{
				pkg,
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "object file"},
			},
			Args:  true,
			Usage: "compile go sources to objfile. the arguments can be list of go sources or '.' for lookup at working directory.",
		},
		{
			Name:   "imports",
			Action: imports,
			Usage:  "display imports of go objfile",
			Flags:  []cli.Flag{pkg},
			Args:   true,
		},
		{
			Name:   "symbols",
			Action: symbols,
			Usage:  "display symbols of go objfile",
			Flags:  []cli.Flag{pkg},
			Args:   true,
		},
		{
			Name:  "sdk",
			Usage: "manage the go sdk internals required by the loader",
			Subcommands: []*cli.Command{
				{Name: "prepare", Action: prepare, Usage: "copy internals of go sdk"},
				{Name: "clean", Action: clean, Usage: "remove copied internals of go sdk"},
			},
		},
		{
			Name:   "reload",
			Action: reload,
			Usage:  "load an artifact into the agent",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "source", Aliases: []string{"src"}, Usage: "sources of the artifact, a reload is skipped while they are unchanged"},
				&cli.BoolFlag{Name: "build", Aliases: []string{"b"}, Usage: "compile the sources into the artifact first"},
				pkg,
			},
			Args: true,
		},
		{Name: "rollback", Action: request(proto.Rollback{}), Usage: "restore the previous version"},
		{Name: "invalidate", Action: invalidate, Usage: "forget the source hash of an artifact", Args: true},
		{Name: "ping", Action: request(proto.Ping{}), Usage: "check the agent is alive"},
		{Name: "state", Action: request(proto.RequestState{}), Usage: "display the registered state"},
		{
			Name:   "render",
			Action: render,
			Usage:  "render through the current code and print the result",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "keep", Usage: "keep the bulk segment"},
				&cli.StringFlag{Name: "bulk-dir", Usage: "bulk segment directory of the agent, /dev/shm when empty"},
			},
		},
		{Name: "shutdown", Action: request(proto.Shutdown{}), Usage: "stop the agent"},
	}
	return app
}

// sources expands directories in args to their go sources.
func sources(args []string) (v []string, err error) {
	for _, a := range args {
		if st, e := os.Stat(a); e == nil && st.IsDir() {
			var s []string
			if s, err = build.Sources(a); err != nil {
				return
			}
			v = append(v, s...)
			logger.Debugf("found go sources at %s: %v", a, s)
			continue
		}
		v = append(v, a)
	}
	return
}

func compile(ctx *cli.Context) (err error) {
	o, err := sources(ctx.Args().Slice())
	if err != nil {
		return
	}
	if len(o) == 0 {
		return fmt.Errorf("missing target sources list")
	}
	obj, err := build.Compile(ctx.Context, build.Options{Package: ctx.String("pkg"), Output: ctx.String("out"), Debug: ctx.Bool("debug")}, o)
	if err != nil {
		return failed(ctx, err)
	}
	fmt.Fprintln(ctx.App.Writer, obj)
	return
}

// failed reports a compile rejection the way the agent reports a failed reload.
func failed(ctx *cli.Context, err error) error {
	var be *build.Error
	if !errors.As(err, &be) {
		return err
	}
	r := proto.ReloadComplete{Error: be.Error()}
	for _, d := range be.Diagnostics {
		r.Diagnostics = append(r.Diagnostics, proto.Diagnostic(d))
	}
	if e := emit(ctx, r); e != nil {
		return e
	}
	return cli.Exit("", 1)
}

func imports(ctx *cli.Context) (err error) {
	for _, s := range ctx.Args().Slice() {
		var v *build.Info
		if v, err = build.Imports(s, ctx.String("pkg")); err != nil {
			return
		}
		fmt.Fprintf(ctx.App.Writer, "%s\n%s", s, v.String())
	}
	return
}

func symbols(ctx *cli.Context) (err error) {
	for _, s := range ctx.Args().Slice() {
		var v []string
		if v, err = build.Symbols(s, ctx.String("pkg")); err != nil {
			return
		}
		for _, sym := range v {
			fmt.Fprintln(ctx.App.Writer, sym)
		}
	}
	return
}

func goroot() string {
	if r := os.Getenv("GOROOT"); r != "" {
		return r
	}
	return runtime.GOROOT()
}

func prepare(ctx *cli.Context) error {
	_, err := build.PrepareSDK(goroot())
	return err
}

func clean(ctx *cli.Context) error {
	_, err := build.CleanSDK(goroot())
	return err
}

func dial(ctx *cli.Context) (*proto.Client, error) {
	return proto.Dial(ctx.String("socket"), ctx.Duration("timeout"))
}

// call sends one request and returns the response.
func call(ctx *cli.Context, p proto.Payload) (proto.Payload, error) {
	c, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = c.Close()
	}()
	return c.Request(p)
}

func emit(ctx *cli.Context, p proto.Payload) error {
	b, err := proto.Encode(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(b))
	return err
}

// respond prints the response, a failed reload or a crash report ends with a non zero status.
func respond(ctx *cli.Context, p proto.Payload) error {
	if err := emit(ctx, p); err != nil {
		return err
	}
	switch r := p.(type) {
	case proto.ReloadComplete:
		if !r.Success {
			return cli.Exit("", 1)
		}
	case proto.CrashReport:
		return cli.Exit("", 2)
	}
	return nil
}

func request(p proto.Payload) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		resp, err := call(ctx, p)
		if err != nil {
			return err
		}
		return respond(ctx, resp)
	}
}

func reload(ctx *cli.Context) (err error) {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expect exactly one artifact path")
	}
	path, err := filepath.Abs(ctx.Args().First())
	if err != nil {
		return
	}
	req := proto.Reload{Path: path}
	if src := ctx.StringSlice("source"); len(src) > 0 {
		var files []string
		if files, err = sources(src); err != nil {
			return
		}
		if ctx.Bool("build") {
			if _, err = build.Compile(ctx.Context, build.Options{Package: ctx.String("pkg"), Output: path, Debug: ctx.Bool("debug")}, files); err != nil {
				return failed(ctx, err)
			}
		}
		if req.SourceHash, err = build.SourceHash(files...); err != nil {
			return
		}
	}
	resp, err := call(ctx, req)
	if err != nil {
		return
	}
	return respond(ctx, resp)
}

func invalidate(ctx *cli.Context) (err error) {
	for _, a := range ctx.Args().Slice() {
		var path string
		if path, err = filepath.Abs(a); err != nil {
			return
		}
		if _, err = call(ctx, proto.Invalidate{Path: path}); err != nil {
			return
		}
	}
	return
}

func render(ctx *cli.Context) (err error) {
	resp, err := call(ctx, proto.Render{})
	if err != nil {
		return
	}
	img, ok := resp.(proto.ImageReady)
	if !ok {
		return respond(ctx, resp)
	}
	seg := proto.Segments{Dir: ctx.String("bulk-dir")}
	data, err := seg.Get(img)
	if err != nil {
		return
	}
	if !ctx.Bool("keep") {
		if err = seg.Remove(img); err != nil {
			return
		}
	}
	_, err = ctx.App.Writer.Write(data)
	return
}
