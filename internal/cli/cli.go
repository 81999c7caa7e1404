// Package cli implements the valutatrade command line commands.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/vadiminshakov/valutatrade/config"
	"github.com/vadiminshakov/valutatrade/internal/app"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

const emptyCacheMessage = "Local rate cache is empty. Run 'update-rates' first."

// Globals top-level flags and streams shared by all commands.
type Globals struct {
	ConfigPath string
	User       string
	Stdout     io.Writer
	Stderr     io.Writer
	// AppOptions are passed to app.New.
	AppOptions []app.Option
}

// NewGlobals returns globals bound to the process streams.
func NewGlobals() *Globals {
	return &Globals{Stdout: os.Stdout, Stderr: os.Stderr}
}

// SetFlags registers the global flags.
func (g *Globals) SetFlags(f *flag.FlagSet) {
	f.StringVar(&g.ConfigPath, "config", "", "path to the yaml config (default "+config.DefaultPath+" when present)")
	f.StringVar(&g.User, "user", "", "user id for portfolio commands (env "+config.EnvUser+")")
}

// Register adds all commands to the commander.
func Register(c *subcommands.Commander, g *Globals) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&updateRatesCmd{g: g}, "rates")
	c.Register(&showRatesCmd{g: g}, "rates")
	c.Register(&getRateCmd{g: g}, "rates")
	c.Register(&historyCmd{g: g}, "rates")

	c.Register(&tradeCmd{g: g, side: domain.SideBuy}, "portfolio")
	c.Register(&tradeCmd{g: g, side: domain.SideSell}, "portfolio")
	c.Register(&tradeCmd{g: g, side: domain.SideDeposit}, "portfolio")
	c.Register(&showPortfolioCmd{g: g}, "portfolio")

	c.Register(&serveCmd{g: g}, "service")
	c.Register(&setupCmd{g: g}, "service")
}

// session is an opened application with its logger.
type session struct {
	*app.App
	logger *zap.Logger
}

func (s *session) close() {
	_ = s.App.Close()
	_ = s.logger.Sync()
}

func (g *Globals) open() (*session, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, logger, g.AppOptions...)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{App: a, logger: logger}, nil
}

// user resolves the --user flag, falling back to the environment.
func (g *Globals) user() (string, error) {
	user := strings.TrimSpace(g.User)
	if user == "" {
		user = strings.TrimSpace(os.Getenv(config.EnvUser))
	}
	if user == "" {
		return "", fmt.Errorf("user is required: pass --user or set %s", config.EnvUser)
	}
	return user, nil
}

func (g *Globals) printf(format string, args ...any) {
	fmt.Fprintf(g.Stdout, format, args...)
}

func (g *Globals) println(args ...any) {
	fmt.Fprintln(g.Stdout, args...)
}

// fail reports err and returns the failure status.
func (g *Globals) fail(err error) subcommands.ExitStatus {
	if errors.Is(err, domain.ErrEmptyCache) {
		fmt.Fprintln(g.Stdout, emptyCacheMessage)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(g.Stderr, errorStyle.Render("Error: "+err.Error()))
	return subcommands.ExitFailure
}

func (g *Globals) usage(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(g.Stderr, format+"\n", args...)
	return subcommands.ExitUsageError
}
