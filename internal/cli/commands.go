package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"nerfmark/internal/config"
	"nerfmark/internal/pipeline"
	"nerfmark/internal/storage"
	"nerfmark/internal/tasks"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nerfmark",
		Short: "Barycentre extraction for segmentation masks and NeRF camera paths",
		Long: `nerfmark reduces per-frame segmentation masks to one representative point per
object, writes them to a JSON table, and converts Metashape camera exports into
NeRF camera paths.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(root.out)

	rootCmd.AddCommand(newBarycentreCmd(root))
	rootCmd.AddCommand(newCampathCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

type barycentreFlags struct {
	parent     string
	minArea    float64
	parallel   int
	annotate   bool
	backend    string
	imageName  string
	outputName string
	dryRun     bool
}

func (f *barycentreFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.parent, "parent-folder", "", "folder holding one subdirectory per frame (default paths.default_input)")
	cmd.Flags().Float64Var(&f.minArea, "min-area", 0, "discard regions with area at or below this (default from config)")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "frames processed at once (default from config)")
	cmd.Flags().BoolVar(&f.annotate, "annotate", false, "draw the points onto each frame's source image")
	cmd.Flags().StringVar(&f.backend, "backend", "", "extractor backend: native or opencv")
	cmd.Flags().StringVar(&f.imageName, "image-name", "", "source image that marks a frame directory")
	cmd.Flags().StringVar(&f.outputName, "output-name", "", "result table file name inside the parent folder")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "extract without writing any file")
}

func (f *barycentreFlags) options(cmd *cobra.Command) map[string]any {
	opts := map[string]any{"source": "cli"}
	if cmd.Flags().Changed("min-area") {
		opts["minArea"] = f.minArea
	}
	if f.parallel > 0 {
		opts["parallel"] = f.parallel
	}
	if cmd.Flags().Changed("annotate") {
		opts["annotate"] = f.annotate
	}
	if f.backend != "" {
		opts["backend"] = f.backend
	}
	if f.imageName != "" {
		opts["imageName"] = f.imageName
	}
	if f.outputName != "" {
		opts["outputName"] = f.outputName
	}
	if f.dryRun {
		opts["dryRun"] = true
	}
	return opts
}

// job builds the barycentre job. defaultParent stands in for an omitted
// --parent-folder.
func (f *barycentreFlags) job(cmd *cobra.Command, defaultParent string) (pipeline.Job, error) {
	parent := f.parent
	if parent == "" {
		parent = defaultParent
	}
	if parent == "" {
		return pipeline.Job{}, fmt.Errorf("%w: --parent-folder not given and paths.default_input not set", tasks.ErrConfiguration)
	}
	info, err := os.Stat(parent)
	if err != nil || !info.IsDir() {
		return pipeline.Job{}, fmt.Errorf("%w: parent folder %q does not exist or is not a directory", tasks.ErrConfiguration, parent)
	}
	abs, err := filepath.Abs(parent)
	if err != nil {
		return pipeline.Job{}, err
	}
	return pipeline.Job{
		ID:        newID("barycentre"),
		Type:      pipeline.JobBarycentre,
		InputPath: abs,
		Options:   f.options(cmd),
	}, nil
}

func newBarycentreCmd(root *Root) *cobra.Command {
	var flags barycentreFlags

	cmd := &cobra.Command{
		Use:     "barycentre",
		Aliases: []string{"barycenter"},
		Short:   "Extract one point per mask for every frame directory",
		Long: `Walk the parent folder, treat each subdirectory holding the source image as a
frame, reduce each mask_<n> file to a point on or inside its largest region and
write the table to barycentres_general.json in the parent folder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := flags.job(cmd, root.cfg.Paths.DefaultInput)
			if err != nil {
				return err
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(root.out, "Barycentres written to %v\n", res.Meta["output"])
			root.printMeta(res.Meta, "output")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newCampathCmd(root *Root) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "campath <xml_file> <json_file>",
		Short: "Convert a Metashape camera export to a NeRF camera path",
		Long: `Read every camera transform from the Metashape XML export, map it into the NeRF
world frame with the dataparser transform and scale, and write a camera path
document usable for rendering.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = root.cfg.CameraPath.OutputName
			}
			job := pipeline.Job{
				ID:        newID("campath"),
				Type:      pipeline.JobCampath,
				InputPath: args[0],
				Output:    output,
				Options:   map[string]any{"dataparser": args[1], "source": "cli"},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(root.out, "Camera path with %v cameras written to %v\n", res.Meta["cameras"], res.Meta["output"])
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output camera path file (default from config)")
	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var imageName string

	cmd := &cobra.Command{
		Use:   "scan <parent_folder>",
		Short: "List frame directories and their masks without extracting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"source": "cli"}
			if imageName != "" {
				opts["imageName"] = imageName
			}
			job := pipeline.Job{
				ID:        newID("scan"),
				Type:      pipeline.JobScan,
				InputPath: args[0],
				Options:   opts,
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			if frames, ok := res.Meta["frame_list"].([]map[string]any); ok {
				for _, f := range frames {
					fmt.Fprintf(root.out, "%v\t%v masks\t%v\n", f["name"], f["masks"], f["dir"])
				}
			}
			root.printMeta(res.Meta, "frame_list")
			return nil
		},
	}
	cmd.Flags().StringVar(&imageName, "image-name", "", "source image that marks a frame directory")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var flags barycentreFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run barycentre extraction whenever the parent folder changes",
		Long: `Run the barycentre job once, then watch the parent folder and its frame
directories and run it again after changes have settled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			first, err := flags.job(cmd, root.cfg.Paths.DefaultInput)
			if err != nil {
				return err
			}
			wait, err := root.cfg.WatchDebounce()
			if err != nil {
				return err
			}
			return root.watch(cmd.Context(), first.InputPath, wait, func() (pipeline.Job, error) {
				return flags.job(cmd, root.cfg.Paths.DefaultInput)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for submitting and inspecting jobs",
		Long: `Start an HTTP server exposing job submission, job history, stored centroid
tables, a server-sent event stream and a websocket feed of results.

Examples:
  nerfmark serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			root.log.Info("starting server", "addr", addr,
				"endpoints", []string{"/healthz", "/jobs", "/jobs/{id}/centroids", "/stream", "/ws"})
			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, root.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "server address (default from config)")
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(root.out, "nerfmark %s\n", Version)
		},
	}
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, tasks.ErrConfiguration), errors.Is(err, config.ErrInvalid):
		return 2
	default:
		return 1
	}
}
