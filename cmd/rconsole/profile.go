package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved connection profiles",
	}
	cmd.AddCommand(newProfileAddCmd(a), newProfileListCmd(a), newProfileRemoveCmd(a))
	return cmd
}

func newProfileAddCmd(a *app) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Save the connection flags as a named profile",
		Example: `  rconsole profile add survival -H mc.example.com -P 25575 -p secret
  rconsole exec --profile survival list`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p := db.Profile{
				Name:        args[0],
				Host:        a.host,
				Port:        a.port,
				Password:    a.password,
				TimeoutMs:   int(a.timeout / time.Millisecond),
				Description: description,
			}
			if p.Host == "" {
				p.Host = "localhost"
			}
			if p.Port == 0 {
				p.Port = config.DefaultRCONPort
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Save(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %q saved (%s).\n", p.Name, p.Options().Address())
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "free-form note")
	return cmd
}

func newProfileListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			profiles, err := store.List(ctx)
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles saved.")
				return nil
			}
			a.printer().Profiles(profiles)
			return nil
		},
	}
}

func newProfileRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Delete a saved profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %q removed.\n", args[0])
			return nil
		},
	}
}
