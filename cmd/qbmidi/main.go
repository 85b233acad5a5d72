// qbmidi finds Quirkbot boards on the serial bus, reports them and
// uploads firmware to them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/moffa90/go-qbmidi/cmd/qbmidi/cli"
	"github.com/moffa90/go-qbmidi/internal/config"
)

func main() {
	cfg, err := config.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qbmidi: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cli.New(cfg)
	kctx := kong.Parse(c, append(cli.KongOptions(cfg),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)...)

	kctx.FatalIfErrorf(kctx.Run(c))
}
