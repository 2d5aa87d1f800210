package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZenLiuCN/hotswap/agent"
	"github.com/ZenLiuCN/hotswap/loader"
	"github.com/ZenLiuCN/hotswap/proto"
	"github.com/ZenLiuCN/hotswap/state"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "agentd"
	app.Usage = "hot swap agent"
	app.Description = "agent process which loads compiled artifacts, swaps them into the running code and renders the result"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "toml configuration file"},
		&cli.StringFlag{Name: "socket", Aliases: []string{"s"}, Usage: "control socket path", EnvVars: []string{agent.EnvSocket}},
		&cli.IntFlag{Name: "retention", Aliases: []string{"r"}, Usage: "resident module cap"},
		&cli.StringFlag{Name: "loader", Aliases: []string{"l"}, Usage: "artifact loader, goobj or so"},
		&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path of go artifacts or default main"},
		&cli.StringSliceFlag{Name: "library", Usage: "shared library go artifacts may link against"},
		&cli.StringFlag{Name: "log", Usage: "log file, stderr when empty"},
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
	}
	app.Action = serve
	return app
}

// configure reads the configuration file and applies the flags set on the command line over it.
func configure(ctx *cli.Context) (c agent.Config, err error) {
	if c, err = agent.LoadConfig(ctx.String("config")); err != nil {
		return
	}
	if ctx.String("socket") != "" {
		c.Socket = ctx.String("socket")
	}
	if ctx.IsSet("retention") {
		c.Retention = ctx.Int("retention")
	}
	if ctx.IsSet("loader") {
		c.Loader = ctx.String("loader")
	}
	if ctx.IsSet("pkg") {
		c.Package = ctx.String("pkg")
	}
	if ctx.IsSet("library") {
		c.Libraries = append(c.Libraries, ctx.StringSlice("library")...)
	}
	if ctx.Bool("debug") {
		c.Debug = true
	}
	err = c.Validate()
	return
}

func serve(ctx *cli.Context) (err error) {
	c, err := configure(ctx)
	if err != nil {
		return
	}
	verbosity := 1
	if c.Debug {
		verbosity = 2
	}
	var path *string
	if p := ctx.String("log"); p != "" {
		path = &p
	}
	commonlog.Configure(verbosity, path)

	l, err := loader.Open(loader.Options{Kind: c.Loader, Package: c.Package, Libraries: c.Libraries, Debug: c.Debug})
	if err != nil {
		return fmt.Errorf("open loader: %w", err)
	}
	a := agent.New(l, c)
	if c.StateFile != "" {
		var s *state.BoltStore
		if s, err = state.OpenBolt(c.StateFile); err != nil {
			return
		}
		defer func() {
			_ = s.Close()
		}()
		a.Store = s
		if err = a.RestoreState(); err != nil {
			return
		}
	}
	defer func() {
		if e := a.Close(); e != nil && err == nil {
			err = e
		}
	}()

	srv, err := proto.Listen(c.Socket, a, a.States, proto.Segments{Dir: c.BulkDir, Compress: c.CompressBulk})
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.Socket, err)
	}
	sig, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(sig)
}
