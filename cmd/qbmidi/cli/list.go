package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/moffa90/go-qbmidi/link"
)

// ListCmd lists the links found after a discovery period.
type ListCmd struct {
	Wait time.Duration `name:"wait" help:"How long to discover before listing." default:"3s"`
	JSON bool          `name:"json" help:"Print JSON."`
}

// Run executes the list command.
func (c *ListCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := cli.Runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	if err := rt.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.Wait):
	}

	links := rt.Monitor.Links()
	infos := make([]link.Info, 0, len(links))
	for _, l := range links {
		infos = append(infos, l.Info())
	}

	if c.JSON {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return err
		}
		return cli.PrintOut("%s\n", data)
	}

	if len(infos) == 0 {
		return cli.PrintOut("No links found\n")
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUUID\tMODE\tMIDI\tINPUT\tOUTPUT\tMETHOD")
	for _, i := range infos {
		mode := "running"
		if i.Bootloader {
			mode = "bootloader"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\t%s\n",
			i.RuntimeID, i.UUID, mode, i.MIDI, i.Input, i.Output, i.Method)
	}
	return w.Flush()
}
