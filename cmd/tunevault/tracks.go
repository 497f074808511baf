package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/store"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

func newTracksCommand(ctx *commandContext) *cobra.Command {
	var (
		playlistID int64
		relPath    string
	)

	cmd := &cobra.Command{
		Use:   "tracks <owner>",
		Short: "List an owner's library, a playlist, or a single track",
		Args:  cobra.ExactArgs(1),
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

			owner := args[0]
			tracks := store.NewTrackStore(db)
			out := cmd.OutOrStdout()

			var list []*store.Track
			switch {
			case relPath != "":
				t, err := tracks.GetByPath(cmd.Context(), owner, relPath)
				if err != nil {
					return fmt.Errorf("%s: %w", relPath, err)
				}
				list = []*store.Track{t}
			case playlistID != 0:
				list, err = playlistTracks(cmd.Context(), store.NewPlaylistStore(db), tracks, owner, playlistID)
				if err != nil {
					return err
				}
			default:
				list, err = tracks.ListByOwner(cmd.Context(), owner)
				if err != nil {
					return err
				}
			}

			if len(list) == 0 {
				fmt.Fprintf(out, "No tracks for %s\n", owner)
			} else {
				fmt.Fprintln(out, renderTracks(list))
			}

			total, err := tracks.CountByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s tracks in %s's library\n", humanize.Comma(int64(total)), owner)
			return nil
		},
	}

	cmd.Flags().Int64Var(&playlistID, "playlist-id", 0, "Show the tracks of this playlist in order")
	cmd.Flags().StringVar(&relPath, "path", "", "Show the track stored at this library-relative path")
	return cmd
}

func playlistTracks(ctx context.Context, playlists *store.PlaylistStore, tracks *store.TrackStore, owner string, id int64) ([]*store.Track, error) {
	pl, err := playlists.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	ids, err := playlists.TrackIDs(ctx, pl.ID)
	if err != nil {
		return nil, err
	}
	list := make([]*store.Track, 0, len(ids))
	for _, trackID := range ids {
		t, err := tracks.Get(ctx, trackID)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, nil
}

func renderTracks(list []*store.Track) string {
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		number := ""
		if t.TrackNumber > 0 {
			number = strconv.Itoa(t.TrackNumber)
		}
		source := "pending"
		if t.MetadataProcessedAt.Valid {
			source = t.MetadataSource.String
			if source == "" {
				source = "none"
			}
		}
		rows = append(rows, []string{
			number,
			apperrors.Truncate(t.Title, 40),
			apperrors.Truncate(t.Artist.String, 28),
			apperrors.Truncate(t.Album.String, 28),
			timestamps.Format(t.Duration),
			source,
			t.RelPath,
		})
	}
	return renderTable([]column{
		numCol("#"), textCol("Title"), textCol("Artist"), textCol("Album"),
		numCol("Length"), textCol("Metadata"), textCol("Path"),
	}, rows)
}
