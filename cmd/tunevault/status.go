package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		owner string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recently finished download jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			history := store.NewJobHistoryStore(db)
			records, err := history.List(cmd.Context(), owner, 0, limit)
			if err != nil {
				return err
			}
			stats, err := history.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No finished jobs")
			} else {
				fmt.Fprintln(out, renderHistory(records))
			}
			fmt.Fprintf(out, "%s jobs, %s completed, %s failed, %s tracks added\n",
				humanize.Comma(int64(stats.Total)),
				humanize.Comma(int64(stats.Completed)),
				humanize.Comma(int64(stats.Failed)),
				humanize.Comma(int64(stats.TracksAdded)))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only show jobs of this owner")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	return cmd
}

func renderHistory(records []*store.JobRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		title := r.Title
		if title == "" {
			title = r.SourceURL
		}
		rows = append(rows, []string{
			humanize.Time(r.FinishedAt),
			r.OwnerID,
			r.Status,
			apperrors.Truncate(title, 48),
			strconv.Itoa(r.TracksAdded),
			strconv.Itoa(r.TracksSkipped),
			apperrors.Truncate(r.ErrorMessage, 48),
		})
	}
	return renderTable([]column{
		textCol("Finished"), textCol("Owner"), textCol("Status"), textCol("Title"),
		numCol("Added"), numCol("Skipped"), textCol("Error"),
	}, rows)
}
