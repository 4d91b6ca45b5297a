package main

import (
	"fmt"
	"os"
	"strconv"

	"rl-deconv/internal/config"
	"rl-deconv/internal/convolve"
	"rl-deconv/internal/logger"
	"rl-deconv/internal/metrics"
	"rl-deconv/internal/opencv"
	"rl-deconv/internal/pipeline"
	"rl-deconv/internal/shutdown"
	"rl-deconv/internal/viewer"

	"fyne.io/fyne/v2/app"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rl-deconv IMAGE ITERATIONS",
		Short: "Blur an image with a Gaussian PSF and restore it with Richardson-Lucy",
		Long: `rl-deconv loads a sharp grayscale image, blurs it with a Gaussian
point-spread function and runs ITERATIONS Richardson-Lucy updates to
estimate the original. The sharp, blurred and restored images are shown
in separate windows unless --show=false is given.`,
		Args:          cobra.ExactArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.String("config", "", "YAML configuration file")
	f.Int("psf-size", 0, "PSF side length in pixels (default 5)")
	f.Float64("sigma-row", 0, "PSF standard deviation along rows (default 9)")
	f.Float64("sigma-col", 0, "PSF standard deviation along columns (default 5)")
	f.StringP("output", "o", "", "write the estimate to this file")
	f.Int("workers", 1, "goroutines per pass, 0 for one per CPU")
	f.String("division", "", "zero-denominator policy: epsilon or strict")
	f.Float64("epsilon", 0, "denominator floor for the epsilon policy")
	f.String("border", "", "border mode: reflect101, replicate or zero")
	f.String("engine", "", "convolution engine: go or opencv")
	f.String("codec", "", "image codec: opencv or go")
	f.Bool("grayscale", false, "reduce color input to one channel instead of failing")
	f.Bool("show", true, "show the stage images and wait for the windows to close")
	f.String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
	f.String("log-level", "", "debug, info, warn or error (default from LOG_LEVEL)")
	f.Bool("log-json", false, "log JSON lines instead of console output")

	return cmd
}

// buildConfig layers defaults, the config file, positional arguments and
// explicitly set flags, in that order.
func buildConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	iterations, err := strconv.Atoi(args[1])
	if err != nil {
		return cfg, config.NewValidationError("ITERATIONS", args[1], "must be an integer")
	}
	cfg.Deconvolution.Iterations = iterations

	if f.Changed("psf-size") {
		cfg.PSF.Size, _ = f.GetInt("psf-size")
	}
	if f.Changed("sigma-row") {
		cfg.PSF.SigmaRow, _ = f.GetFloat64("sigma-row")
	}
	if f.Changed("sigma-col") {
		cfg.PSF.SigmaCol, _ = f.GetFloat64("sigma-col")
	}
	if f.Changed("output") {
		cfg.Output.Path, _ = f.GetString("output")
	}
	if f.Changed("workers") {
		cfg.Deconvolution.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("division") {
		cfg.Deconvolution.Division, _ = f.GetString("division")
	}
	if f.Changed("epsilon") {
		cfg.Deconvolution.Epsilon, _ = f.GetFloat64("epsilon")
	}
	if f.Changed("border") {
		cfg.Deconvolution.Border, _ = f.GetString("border")
	}
	if f.Changed("engine") {
		cfg.Deconvolution.Engine, _ = f.GetString("engine")
	}
	if f.Changed("codec") {
		cfg.Input.Codec, _ = f.GetString("codec")
	}
	if f.Changed("grayscale") {
		cfg.Input.Grayscale, _ = f.GetBool("grayscale")
	}
	if f.Changed("show") {
		cfg.Output.Show, _ = f.GetBool("show")
	}
	if f.Changed("metrics-textfile") {
		cfg.Metrics.Textfile, _ = f.GetString("metrics-textfile")
	}
	if f.Changed("log-level") {
		cfg.Logging.Level, _ = f.GetString("log-level")
	} else if path == "" {
		cfg.Logging.Level = logger.LevelFromEnv().String()
	}
	if f.Changed("log-json") {
		jsonLogs, _ := f.GetBool("log-json")
		cfg.Logging.Console = !jsonLogs
	}

	return cfg, cfg.Validate()
}

// newLogger falls back to JSON when stderr is not a terminal.
func newLogger(cfg config.Config) *logger.ZerologAdapter {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	fd := os.Stderr.Fd()
	console := cfg.Logging.Console && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
	return logger.New(os.Stderr, level, console)
}

// pipelineOptions wires the configured codec and engine.
func pipelineOptions(cfg config.Config) []pipeline.Option {
	var opts []pipeline.Option
	if cfg.Input.Codec == config.CodecOpenCV {
		opts = append(opts,
			pipeline.WithLoader(opencvLoader{grayscale: cfg.Input.Grayscale}),
			pipeline.WithSaver(opencvSaver{}),
		)
	}
	if cfg.Deconvolution.Engine == config.EngineOpenCV {
		opts = append(opts, pipeline.WithConvolver(opencv.NewFilter2DEngine(cfg.Border())))
	} else {
		opts = append(opts, pipeline.WithConvolver(convolve.NewEngine(cfg.Border(), cfg.Deconvolution.Workers)))
	}
	return opts
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	mgr := shutdown.NewManager(cmd.Context(), log)
	mgr.Listen()
	defer mgr.Shutdown()

	rec := metrics.New()
	opts := append(pipelineOptions(cfg), pipeline.WithMetrics(rec))

	var view *viewer.Viewer
	if cfg.Output.Show {
		view = viewer.New(app.NewWithID(viewer.AppID))
		mgr.Register(view)
		opts = append(opts, pipeline.WithDisplay(display{view}))
	}

	coordinator, err := pipeline.NewCoordinator(cfg, log, opts...)
	if err != nil {
		return err
	}

	res, runErr := coordinator.Run(mgr.Context(), args[0])

	if path := cfg.Metrics.Textfile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			log.Error("Metrics", err, map[string]interface{}{"path": path})
		}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d iterations, final MSE %.6g\n",
		res.RunID, cfg.Deconvolution.Iterations, res.FinalMSE())

	if view != nil {
		return view.Run()
	}
	return nil
}
