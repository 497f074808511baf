package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tunevault/tunevault-go/internal/splitter"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

func newSplitCommand(ctx *commandContext) *cobra.Command {
	var (
		description     string
		descriptionFile string
		outDir          string
	)

	cmd := &cobra.Command{
		Use:   "split <file>",
		Short: "Split a local audio file into tracks using a timestamped tracklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input := args[0]

			text := description
			if descriptionFile != "" {
				data, err := os.ReadFile(descriptionFile)
				if err != nil {
					return fmt.Errorf("read description: %w", err)
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("a --description or --description-file is required")
			}

			logger, err := newLogger(cfg, ctx.dataDir(), true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			sp := newSplitter(cfg, logger)
			duration, err := sp.Duration(cmd.Context(), input)
			if err != nil {
				return err
			}
			spans := timestamps.Parse(text, &duration)
			if len(spans) == 0 {
				return fmt.Errorf("no timestamps inside the %s file length", timestamps.Format(duration))
			}

			if outDir == "" {
				base := filepath.Base(input)
				outDir = filepath.Join(filepath.Dir(input), strings.TrimSuffix(base, filepath.Ext(base)))
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			errOut := cmd.ErrOrStderr()
			results, err := sp.Split(cmd.Context(), input, spans, outDir, func(p splitter.Progress) {
				fmt.Fprintf(errOut, "\r[%d/%d] %-40.40s", p.Current, p.Total, p.Track)
			})
			fmt.Fprintln(errOut)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				end := duration
				if r.End != nil {
					end = *r.End
				}
				rows = append(rows, []string{
					strconv.Itoa(r.TrackNumber),
					r.Title,
					timestamps.Format(r.Start),
					timestamps.Format(end),
					filepath.Base(r.Path),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
				numCol("#"), textCol("Title"), numCol("Start"), numCol("End"), textCol("File"),
			}, rows))
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Tracklist text containing timestamps")
	cmd.Flags().StringVar(&descriptionFile, "description-file", "", "Read the tracklist from a file")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: next to the input)")
	return cmd
}
