package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"airecorder/internal/config"
	"airecorder/internal/spool"
	"airecorder/internal/store"
	"airecorder/internal/wavexport"
)

func newExportWAVCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export-wav <session-id>",
		Short: "Export the raw audio spools of a session as WAV files",
		Long: "Export writes one WAV file per audio track still spooled for a session. " +
			"It works on failed sessions whose merge could not complete.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				rec, err := st.Find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if rec.SpoolDir == "" {
					return fmt.Errorf("session %s has no spool directory", shortID(rec.ID))
				}
				m, err := spool.ReadManifest(rec.SpoolDir)
				if err != nil {
					return fmt.Errorf("read spool manifest: %w", err)
				}
				dest := strings.TrimSpace(outDir)
				if dest == "" {
					dest = cfg.Paths.OutputDir
				} else if dest, err = config.ExpandPath(dest); err != nil {
					return err
				}
				results, err := wavexport.Export(rec.SpoolDir, m, dest)
				out := cmd.OutOrStdout()
				for _, r := range results {
					fmt.Fprintf(out, "%-16s %s\n", humanize(string(r.Source)), r.Path)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Destination directory (defaults to the output directory)")
	return cmd
}
