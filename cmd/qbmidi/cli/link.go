package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/moffa90/go-qbmidi/link"
)

// LinkFlags select the target link of a command. With neither flag set
// the only discovered link is used.
type LinkFlags struct {
	UUID      string        `name:"uuid" short:"u" help:"Identity of the target link."`
	RuntimeID uint64        `name:"id" help:"Runtime id of the target link."`
	Wait      time.Duration `name:"wait" help:"How long to wait for the link to be discovered." default:"10s"`
}

// UploadCmd uploads a firmware image.
type UploadCmd struct {
	LinkFlags
	File string `arg:"" name:"file" help:"Intel HEX firmware image." type:"existingfile"`
}

// Run executes the upload command.
func (c *UploadCmd) Run(cli *CLI, ctx context.Context) error {
	image, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read firmware: %w", err)
	}

	return cli.withLink(ctx, c.LinkFlags, func(rt *Runtime, l *link.Link) error {
		if _, err := rt.Monitor.UploadFirmware(ctx, l, string(image)); err != nil {
			return err
		}
		return cli.PrintOut("Uploaded %s to %s\n", c.File, l.UUID())
	})
}

// EnterBootloaderCmd switches a link to bootloader mode.
type EnterBootloaderCmd struct {
	LinkFlags
}

// Run executes the enter-bootloader command.
func (c *EnterBootloaderCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.withLink(ctx, c.LinkFlags, func(rt *Runtime, l *link.Link) error {
		if _, err := rt.Monitor.EnterBootloaderMode(ctx, l); err != nil {
			return err
		}
		return cli.PrintOut("Link %d is in bootloader mode\n", l.RuntimeID())
	})
}

// ExitBootloaderCmd switches a link back to its program.
type ExitBootloaderCmd struct {
	LinkFlags
}

// Run executes the exit-bootloader command.
func (c *ExitBootloaderCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.withLink(ctx, c.LinkFlags, func(rt *Runtime, l *link.Link) error {
		if _, err := rt.Monitor.ExitBootloaderMode(ctx, l); err != nil {
			return err
		}
		return cli.PrintOut("Link %d is running %s\n", l.RuntimeID(), l.UUID())
	})
}

func (c *CLI) withLink(ctx context.Context, flags LinkFlags, fn func(*Runtime, *link.Link) error) error {
	rt, err := c.Runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	if err := rt.Start(ctx); err != nil {
		return err
	}

	l, err := rt.FindLink(ctx, flags.UUID, flags.RuntimeID, flags.Wait)
	if err != nil {
		return fmt.Errorf("%s: %w", c.selector(flags.UUID, flags.RuntimeID), err)
	}
	return fn(rt, l)
}
