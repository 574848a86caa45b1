// Package contextcmd manages the CLI's named daemon contexts.
package contextcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"dozer/cmd/dozer/ui"
	"dozer/config"
)

func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage daemon contexts",
	}
	cmd.AddCommand(addCmd(), listCmd(), useCmd(), removeCmd())
	return cmd
}

func addCmd() *cobra.Command {
	var use bool

	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add or update a context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], config.Context{URL: args[1]}); err != nil {
				return err
			}
			if use {
				if err := cfg.Use(args[0]); err != nil {
					return err
				}
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Context %s saved.", ui.Bold(args[0])))
			return nil
		},
	}
	cmd.Flags().BoolVar(&use, "use", false, "Also make it the current context")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List contexts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.Contexts) == 0 {
				fmt.Fprintln(out, ui.InfoMsg("No contexts configured, using %s.", config.DefaultURL))
				return nil
			}

			rows := make([][]string, 0, len(cfg.Contexts))
			for _, name := range cfg.Names() {
				current := ""
				if name == cfg.CurrentContext {
					current = "*"
				}
				rows = append(rows, []string{current, name, cfg.Contexts[name].URL})
			}
			fmt.Fprintln(out, ui.Table([]string{"", "NAME", "URL"}, rows))
			return nil
		},
	}
}

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Use(args[0]); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Switched to context %s.", ui.Bold(args[0])))
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a context",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !yes {
				ok, err := ui.Confirm(fmt.Sprintf("Remove context %s?", ui.Bold(name)), "use --yes to skip")
				if err != nil || !ok {
					return err
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Remove(name); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Context %s removed.", ui.Bold(name)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}
