package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "airecorder",
		Short:         "Record microphone, system audio and screen into one file",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&ctx.socket, "socket", "", "Path to the airecorderd socket")
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")

	root.AddCommand(newRecordCommand(ctx))
	root.AddCommand(newDaemonCommands(ctx)...)
	root.AddCommand(
		newRetryCommand(ctx),
		newSessionsCommand(ctx),
		newShowCommand(ctx),
		newExportWAVCommand(ctx),
		newPruneCommand(ctx),
		newLogsCommand(ctx),
		newDoctorCommand(ctx),
		newConfigCommand(ctx),
	)
	return root
}
