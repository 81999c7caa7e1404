// Command valutatrade is a multi-currency wallet simulator backed by a local rate cache.
//
// Usage:
//
//	valutatrade update-rates
//	valutatrade -user alice deposit -currency USD -amount 1000
//	valutatrade -user alice buy -currency BTC -amount 0.01
//	valutatrade serve
//
// Configuration is read from valutatrade.yaml (or -config), a .env file and
// the environment (EXCHANGERATE_API_KEY, VALUTATRADE_*).
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/vadiminshakov/valutatrade/internal/cli"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	globals := cli.NewGlobals()
	globals.SetFlags(flag.CommandLine)
	cli.Register(commander, globals)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
