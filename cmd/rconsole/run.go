package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/cli"
)

// maxWait bounds --wait.
const maxWait = 10 * time.Minute

func newExecCmd(a *app) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "exec <command> [command...]",
		Short: "Run one or more commands and print the replies",
		Example: `  rconsole exec list
  rconsole exec --wait 2s "say restarting" "save-all" stop`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait < 0 || wait > maxWait {
				return fmt.Errorf("--wait must be between 0 and %s", maxWait)
			}

			ctx := cmd.Context()
			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			return cli.RunCommands(ctx, client, a.printer(), args, wait)
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "delay between commands")
	return cmd
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return err
			}

			games, err := a.newGameClient(client)
			if err != nil {
				return err
			}

			sh, err := cli.NewShell(client, games, a.printer())
			if err != nil {
				return err
			}
			return sh.Run(ctx)
		},
	}
}

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "call <name> [key=value...]",
		Short:   "Run a command template and print the parsed result",
		Example: `  rconsole call whitelistAdd player=notch`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := cli.ParseParams(args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			games, err := a.newGameClient(client)
			if err != nil {
				return err
			}

			res, err := games.Call(ctx, args[0], params)
			if err != nil {
				return err
			}
			return a.printer().Result(res)
		},
	}
}

func newCommandsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the available command templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			games, err := a.newGameClient(nil)
			if err != nil {
				return err
			}
			a.printer().Commands(games)
			return nil
		},
	}
}
