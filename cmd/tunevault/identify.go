package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tunevault/tunevault-go/internal/fingerprint"
	"github.com/tunevault/tunevault-go/internal/metadata"
)

type identifyReport struct {
	File     string             `json:"file"`
	Current  metadata.Current   `json:"current"`
	Match    *fingerprint.Match `json:"match,omitempty"`
	Resolved metadata.Resolved  `json:"resolved"`
	Merged   metadata.Current   `json:"merged"`
	Changed  []string           `json:"changed,omitempty"`
}

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "identify <file>",
		Short: "Fingerprint a file and show what the metadata cascade would write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, ctx.dataDir(), true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			path := args[0]
			current, err := metadata.ReadTags(path)
			if err != nil {
				return err
			}
			if current.Title == "" {
				base := filepath.Base(path)
				current.Title = strings.TrimSuffix(base, filepath.Ext(base))
			}

			lookup, err := newLookupStack(cfg, logger)
			if err != nil {
				return err
			}

			q := metadata.Query{
				Path:   path,
				Title:  current.Title,
				Artist: current.Artist,
				Album:  current.Album,
			}
			match := lookup.identifier.Identify(cmd.Context(), path)
			if match != nil {
				q.RecordingID = match.RecordingID
				q.Fingerprinted = true
				q.MatchTitle = match.Title
				q.MatchArtist = match.Artist
			}
			resolved := lookup.resolver.Resolve(cmd.Context(), q)
			before := metadata.Current{
				Title:       current.Title,
				Artist:      current.Artist,
				Album:       current.Album,
				AlbumArtist: current.AlbumArtist,
				Genre:       current.Genre,
				Year:        current.Year,
			}
			merged, changed := metadata.Merge(before, resolved)

			report := identifyReport{
				File:     path,
				Current:  before,
				Match:    match,
				Resolved: resolved,
				Merged:   merged,
				Changed:  changed,
			}
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
