package cli

import (
	"context"
)

// MonitorCmd runs the monitor until interrupted.
type MonitorCmd struct{}

// Run executes the monitor command.
func (c *MonitorCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := cli.Runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	if err := rt.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
