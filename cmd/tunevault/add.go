package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tunevault/tunevault-go/internal/download"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		thumbnail     string
		playlistName  string
		playlistID    int64
		tracklistFile string
	)

	cmd := &cobra.Command{
		Use:   "add <owner> <url>",
		Short: "Queue a source URL for download by a running daemon",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			spec := download.JobSpec{
				SourceURL:    args[1],
				ThumbnailURL: thumbnail,
				PlaylistID:   playlistID,
				PlaylistName: playlistName,
			}
			if tracklistFile != "" {
				data, err := os.ReadFile(tracklistFile)
				if err != nil {
					return fmt.Errorf("read tracklist: %w", err)
				}
				spec.Splits = timestamps.Parse(string(data), nil)
				if len(spec.Splits) == 0 {
					return fmt.Errorf("no timestamps found in %s", tracklistFile)
				}
			}

			path, err := writeSubmission(cfg.Library.SpoolDir, submission{Owner: args[0], JobSpec: spec})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued %s for %s (%s)\n", spec.SourceURL, args[0], path)
			if len(spec.Splits) > 0 {
				fmt.Fprintf(out, "Split into %d tracks:\n%s\n", len(spec.Splits), timestamps.Render(spec.Splits))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "Cover art URL to embed")
	cmd.Flags().StringVar(&playlistName, "playlist", "", "Append the new tracks to this playlist, creating it if needed")
	cmd.Flags().Int64Var(&playlistID, "playlist-id", 0, "Append the new tracks to an existing playlist")
	cmd.Flags().StringVar(&tracklistFile, "tracklist", "", "File of timestamped titles to split the source by")
	return cmd
}
