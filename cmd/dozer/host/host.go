// Package hostcmd holds the commands that act on the managed host through
// the daemon.
package hostcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dozer/cmd/dozer/cmdutil"
	"dozer/cmd/dozer/ui"
	"dozer/internal/api"
	"dozer/internal/lifecycle"
)

// Cmds returns the host commands. target points at the root's connection
// flags.
func Cmds(target *cmdutil.Target) []*cobra.Command {
	return []*cobra.Command{
		intentCmd(target, "start", "Start a game server, waking the host if needed", "Starting %s", (*api.Client).Start),
		intentCmd(target, "stop", "Stop a game server", "Stopping %s", (*api.Client).Stop),
		statusCmd(target),
		containersCmd(target),
		triggerCmd(target),
	}
}

type intentFunc func(*api.Client, context.Context, string) (lifecycle.Result, error)

func intentCmd(target *cmdutil.Target, use, short, progress string, do intentFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := target.Client()
			if err != nil {
				return err
			}

			var res lifecycle.Result
			err = ui.Spin(cmd.Context(), fmt.Sprintf(progress, ui.Bold(args[0])), func(ctx context.Context) error {
				var err error
				res, err = do(client, ctx, args[0])
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), ui.ResultMsg(res))
			if !res.OK() {
				return cmdutil.ExitCode(1)
			}
			return nil
		},
	}
}

func statusCmd(target *cmdutil.Target) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show host and game server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := target.Client()
			if err != nil {
				return err
			}

			var st api.Status
			err = ui.Spin(cmd.Context(), "Probing host", func(ctx context.Context) error {
				var err error
				st, err = client.Status(ctx)
				return err
			})
			if err != nil {
				return err
			}

			reachable := ui.Muted("asleep")
			if st.State.Reachable {
				reachable = ui.SuccessStyle.Render("awake")
			}
			pairs := []ui.Pair{
				ui.KV("Host", st.Host),
				ui.KV("State", reachable),
				ui.KV("Phase", ui.Phase(st.Phase)),
			}
			if st.State.Reachable {
				pairs = append(pairs,
					ui.KV("Running", ui.List(st.State.Running)),
					ui.KV("Available", ui.List(st.State.Available)),
				)
			}
			if c := st.LastCycle; c != nil {
				last := fmt.Sprintf("%s %s", c.Outcome, ui.Muted(time.Since(c.At).Truncate(time.Second).String()+" ago"))
				if c.Error != "" {
					last += " " + ui.ErrorStyle.Render(c.Error)
				}
				pairs = append(pairs, ui.KV("Last check", last))
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.KeyValues("  ", pairs...))
			return nil
		},
	}
}

func containersCmd(target *cmdutil.Target) *cobra.Command {
	return &cobra.Command{
		Use:     "containers",
		Aliases: []string{"ls"},
		Short:   "List the game servers that can be started (wakes the host)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := target.Client()
			if err != nil {
				return err
			}

			var names []string
			err = ui.Spin(cmd.Context(), "Loading game servers", func(ctx context.Context) error {
				var err error
				names, err = client.Containers(ctx)
				return err
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, ui.InfoMsg("No game servers are allow-listed on the host."))
				return nil
			}
			rows := make([][]string, 0, len(names))
			for _, n := range names {
				rows = append(rows, []string{n})
			}
			fmt.Fprintln(out, ui.Table([]string{"SERVER"}, rows))
			return nil
		},
	}
}

func triggerCmd(target *cmdutil.Target) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Run an idle check now instead of waiting for the next poll",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := target.Client()
			if err != nil {
				return err
			}
			queued, err := client.Trigger(cmd.Context())
			if err != nil {
				return err
			}
			if queued {
				fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Idle check queued."))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), ui.InfoMsg("An idle check is already pending."))
			}
			return nil
		},
	}
}
