package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tunevault/tunevault-go/internal/security"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), ctx.configPath())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			masked := *cfg
			masked.Metadata.AcoustIDKey = maskSecret(masked.Metadata.AcoustIDKey)
			masked.Metadata.LastFMKey = maskSecret(masked.Metadata.LastFMKey)
			out, err := json.MarshalIndent(masked, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt-secret [value]",
		Short: "Encrypt an API key for use in the settings file",
		Long: "Encrypt an API key for use in the settings file. The value is read from\n" +
			"stdin when not given as an argument. Paste the printed enc: value into\n" +
			"metadata.acoustid_key or metadata.lastfm_key.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = line
			}
			secret = strings.TrimSpace(secret)

			sealed, err := security.NewSecretBox(ctx.dataDir()).Seal(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	})

	var confirm bool
	resetKey := &cobra.Command{
		Use:   "reset-key",
		Short: "Delete the key that protects encrypted settings",
		Long: "Delete the key that protects encrypted settings. Every enc: value in the\n" +
			"settings file becomes unreadable and must be encrypted again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete the settings key without --yes")
			}
			if err := security.NewSecretBox(ctx.dataDir()).DeleteKey(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings key deleted; re-run encrypt-secret for each API key")
			return nil
		},
	}
	resetKey.Flags().BoolVar(&confirm, "yes", false, "Confirm deleting the key")
	cmd.AddCommand(resetKey)

	return cmd
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
