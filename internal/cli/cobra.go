package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"automontage/internal/config"
	"automontage/internal/pipeline"
	"automontage/internal/storage"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe pipelineClient) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "automontage",
		Short: "automontage registers AO-SLO tiles into montages",
		Long: `automontage reads confocal/split/avg tile triplets with nominal retinal
positions, registers overlapping tiles by feature matching, and writes
per-component placements and composited canvases.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newRunsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))
	return rootCmd
}

type outputFlags struct {
	output     string
	writeTiles bool
	noCanvas   bool
	prefetch   int
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output directory")
	cmd.Flags().BoolVar(&f.writeTiles, "write-tiles", false, "write each warped tile with its mask")
	cmd.Flags().BoolVar(&f.noCanvas, "no-canvas", false, "skip composited canvases")
	cmd.Flags().IntVar(&f.prefetch, "prefetch", -1, "estimate all neighbor pairs up front with N workers (0 = lazy, -1 = config)")
}

func (f *outputFlags) options(cmd *cobra.Command) map[string]any {
	opts := map[string]any{"source": "cli"}
	if cmd.Flags().Changed("write-tiles") {
		opts["writeTiles"] = f.writeTiles
	}
	if f.noCanvas {
		opts["writeCanvas"] = false
	}
	if f.prefetch >= 0 {
		opts["prefetch"] = f.prefetch
	}
	return opts
}

func newRunCmd(root *Root) *cobra.Command {
	var flags outputFlags
	cmd := &cobra.Command{
		Use:   "run <manifest.yaml>",
		Short: "Montage one session",
		Long: `Load the session described by a montage.yaml manifest, register every
field-of-view group and write placements.json plus canvases.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("montage"),
				Type:      pipeline.JobMontage,
				InputPath: args[0],
				Output:    flags.output,
				Options:   flags.options(cmd),
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v components, placements in %v\n", job.ID, res.Meta["components"], res.Meta["placements"])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var flags outputFlags
	cmd := &cobra.Command{
		Use:   "batch <root>",
		Short: "Montage every subject folder under root",
		Long: `Each subject folder needs a processed/ directory of tile triplets and a
positions sheet (.xlsx or .csv). Subjects that fail are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("batch"),
				Type:      pipeline.JobBatch,
				InputPath: args[0],
				Output:    flags.output,
				Options:   flags.options(cmd),
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: subjects %v, failed %v\n", job.ID, res.Meta["subjects"], res.Meta["failed"])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Montage manifests as they appear in directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("watching for manifests", "dirs", args, "settle", root.settle)
			return root.watch(cmd.Context(), args)
		},
	}
	cmd.Flags().DurationVar(&root.settle, "settle", root.settle, "quiet period before a changed manifest is queued")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server with run API and live progress",
		Long: `Start an HTTP server for submitting runs, listing run history and
streaming registration progress over a websocket.

Examples:
  automontage serve --addr :8080
  automontage serve --addr :8080 --watch /data/incoming`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			root.log.Info("starting server", "addr", addr, "watch_paths", watchPaths)
			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, watchPaths, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (host:port), defaults to config")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to monitor for new manifests")
	return cmd
}
