package cli

import (
	"context"
	"fmt"
	"time"
)

// RunCommands executes commands in order, printing each reply and pausing
// wait between them. It stops at the first failure.
func RunCommands(ctx context.Context, client Client, p *Printer, commands []string, wait time.Duration) error {
	for i, cmd := range commands {
		reply, err := client.Exec(ctx, cmd)
		if err != nil {
			return fmt.Errorf("command %q failed: %w", cmd, err)
		}
		p.Response(reply)

		if wait > 0 && i < len(commands)-1 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
