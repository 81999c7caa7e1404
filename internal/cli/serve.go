package cli

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"github.com/vadiminshakov/valutatrade/internal/setup"
	"github.com/vadiminshakov/valutatrade/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveCmd struct {
	g      *Globals
	listen string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP API with periodic rate refresh" }
func (*serveCmd) Usage() string {
	return `valutatrade serve [-listen ADDR]

  Refreshes rates every refresh_interval and serves the JSON API until
  interrupted.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.listen, "listen", "", "listen address (overrides the config)")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := c.g.open()
	if err != nil {
		return c.g.fail(err)
	}
	defer s.close()

	addr := s.Config().Listen
	if c.listen != "" {
		addr = c.listen
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := web.NewServer(addr, s.App, s.logger.Named("web"))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return s.RunRefresher(gctx, s.Config().RefreshInterval) })

	c.g.printf("Serving on %s, refreshing every %s\n", addr, s.Config().RefreshInterval)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("serve stopped", zap.Error(err))
		return c.g.fail(err)
	}
	return subcommands.ExitSuccess
}

type setupCmd struct {
	g   *Globals
	out string
}

func (*setupCmd) Name() string     { return "setup" }
func (*setupCmd) Synopsis() string { return "interactive configuration wizard" }
func (*setupCmd) Usage() string {
	return `valutatrade setup [-out FILE]

  Walks through the configuration and writes it as yaml.
`
}

func (c *setupCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "out", "", "file to write (default -config or valutatrade.yaml)")
}

func (c *setupCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	path := c.out
	if path == "" {
		path = c.g.ConfigPath
	}
	if err := setup.RunTUI(path); err != nil {
		return c.g.fail(err)
	}
	return subcommands.ExitSuccess
}
