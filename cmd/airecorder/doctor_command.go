package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"airecorder/internal/deps"
	"airecorder/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, disk space and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			statuses := preflight.CheckSystemDeps(cfg)

			if jsonOut {
				if err := writeJSON(cmd, struct {
					Checks       []preflight.Result `json:"checks"`
					Dependencies []deps.Status      `json:"dependencies"`
				}{results, statuses}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Checks", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, s := range statuses {
					kind, detail := statusOK, s.Command
					switch {
					case !s.Available && s.Optional:
						kind, detail = statusWarn, s.Detail+" (optional)"
					case !s.Available:
						kind, detail = statusError, s.Detail
					}
					fmt.Fprintln(out, renderStatusLine(s.Name, kind, detail, colorize))
				}
			}

			if failed := preflight.Failed(results); len(failed) > 0 || len(deps.Missing(statuses)) > 0 {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
