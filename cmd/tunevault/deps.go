package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tunevault/tunevault-go/internal/monitoring"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check that the external tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := monitoring.CheckTools(toolRequirements(cfg))
			fmt.Fprintln(cmd.OutOrStdout(), renderTools(statuses))

			var missing []string
			for _, s := range statuses {
				if !s.Available && !s.Optional {
					missing = append(missing, s.Name)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func renderTools(statuses []monitoring.ToolStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		state := "ok"
		switch {
		case !s.Available && s.Optional:
			state = "missing (optional)"
		case !s.Available:
			state = "missing"
		}
		rows = append(rows, []string{s.Name, s.Command, state, s.Description, s.Detail})
	}
	return renderTable([]column{
		textCol("Tool"), textCol("Command"), textCol("Status"), textCol("Used for"), textCol("Detail"),
	}, rows)
}
