package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

const version = "v0.3.0"

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate automontage configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := os.Getenv("AUTOMONTAGE_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/automontage/config.json"
			}
			fmt.Fprintf(out, "Config file: %s\n\n", cfgPath)
			data, err := json.MarshalIndent(root.cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("automontage %s\n", version)
			cmd.Printf("Built with Go %s\n", runtime.Version())
		},
	}
}

func newRunsCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent montage runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tINPUT\tCREATED")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show components and tile placements of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			rec, err := root.store.Job(id)
			if err != nil {
				return fmt.Errorf("run %s: %w", id, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s (%s) %s\n", rec.ID, rec.JobType, rec.Status)
			if rec.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", rec.Error)
			}
			comps, err := root.store.Components(id)
			if err != nil {
				return err
			}
			placements, err := root.store.Placements(id)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, c := range comps {
				fmt.Fprintf(tw, "\ngroup %d (fov %g) component %d: root %d, %d tiles\n", c.GroupIndex, c.FOV, c.ComponentID, c.RootTile, c.TileCount)
				fmt.Fprintln(tw, "TILE\tMOVIE\tREF\tTRANSX\tTRANSY")
				for _, p := range placements {
					if p.GroupIndex != c.GroupIndex || p.ComponentID != c.ComponentID {
						continue
					}
					fmt.Fprintf(tw, "%d\t%s\t%d\t%.2f\t%.2f\n", p.TileIndex, p.Movie, p.ReferenceTile, p.TransX, p.TransY)
				}
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(showCmd)
	return cmd
}
