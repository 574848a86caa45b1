package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dozer/cmd/dozer/cmdutil"
	contextcmd "dozer/cmd/dozer/context"
	hostcmd "dozer/cmd/dozer/host"
	"dozer/cmd/dozer/ui"
	"dozer/internal/logging"
)

func main() {
	var (
		debug         bool
		noInteraction bool
		target        cmdutil.Target
	)

	root := &cobra.Command{
		Use:           "dozer",
		Short:         "Wake, use and put to sleep a game server host",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if _, err := logging.Configure(logging.Options{Level: level}); err != nil {
				return err
			}
			ui.ConfigureTerminal(noInteraction)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&noInteraction, "no-interaction", false, "Never prompt or animate")
	root.PersistentFlags().StringVar(&target.URL, "url", "", "dozerd API URL (overrides contexts)")
	root.PersistentFlags().StringVar(&target.Context, "context", "", "Context name to use")

	root.AddCommand(hostcmd.Cmds(&target)...)
	root.AddCommand(contextcmd.Cmd())

	if err := root.Execute(); err != nil {
		var code cmdutil.ExitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
