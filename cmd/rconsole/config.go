package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/config"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Run the interactive setup wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RunSetupWizard(a.cfg, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", a.cfg.Path())
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration file",
	}
	cmd.AddCommand(newConfigSetCmd(a), newConfigShowCmd(a))
	return cmd
}

func newConfigSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Change one configuration value",
		Example: `  rconsole config set rcon.host mc.example.com
  rconsole config set api.allowed_origins '["http://localhost:3000"]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.UpdateField(args[0], args[1]); err != nil {
				return err
			}

			result := config.Validate(a.cfg)
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			for _, e := range result.Errors {
				if e.Field == args[0] {
					return e
				}
			}

			if err := a.cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config updated: %s\n", args[0])
			return nil
		},
	}
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.Marshal(a.cfg)
			if err != nil {
				return err
			}
			var view map[string]map[string]any
			if err := json.Unmarshal(data, &view); err != nil {
				return err
			}
			mask(view, "rcon", "password")
			mask(view, "api", "token")

			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", a.cfg.Path(), out)
			return nil
		},
	}
}

func mask(view map[string]map[string]any, section, key string) {
	if s, ok := view[section][key].(string); ok && s != "" {
		view[section][key] = "********"
	}
}
