// Package pipeline runs one deconvolution experiment: load a sharp image,
// blur it with a Gaussian PSF, restore it with Richardson-Lucy and hand the
// three stages to a saver and a display.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rl-deconv/internal/config"
	"rl-deconv/internal/convolve"
	"rl-deconv/internal/deconv"
	"rl-deconv/internal/logger"
	"rl-deconv/internal/matrix"
	"rl-deconv/internal/psf"

	"github.com/google/uuid"
)

const component = "Pipeline"

// Stage names used for timing, metrics and window titles.
const (
	StageLoad       = "load"
	StagePSF        = "psf"
	StageBlur       = "blur"
	StageDeconvolve = "deconvolve"
	StageSave       = "save"

	TitleSharp    = "Float"
	TitleBlurred  = "BlurredFloat"
	TitleEstimate = "Estimation"
)

var ErrNoInput = errors.New("pipeline: input path is empty")

// Result holds every stage of a finished run.
type Result struct {
	RunID      string
	Source     *ImageData
	PSF        *matrix.Dense
	Blurred    *matrix.Dense
	Estimate   *matrix.Dense
	MSE        []float64 // against the sharp source, one per iteration
	Guarded    int
	Timings    map[string]time.Duration
	OutputPath string
}

// FinalMSE is the error of the returned estimate against the sharp source.
func (r *Result) FinalMSE() float64 {
	if len(r.MSE) == 0 {
		v, _ := matrix.MSE(r.Estimate, r.Source.Pixels)
		return v
	}
	return r.MSE[len(r.MSE)-1]
}

type Coordinator struct {
	cfg       config.Config
	logger    logger.Logger
	loader    ImageLoader
	saver     ImageSaver
	display   Display
	metrics   MetricsRecorder
	convolver convolve.Convolver
	newRunID  func() string
}

type Option func(*Coordinator)

func WithLoader(l ImageLoader) Option {
	return func(c *Coordinator) { c.loader = l }
}

func WithSaver(s ImageSaver) Option {
	return func(c *Coordinator) { c.saver = s }
}

// WithDisplay receives the three stage images when output.show is set.
func WithDisplay(d Display) Option {
	return func(c *Coordinator) { c.display = d }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithConvolver replaces the pure-Go engine for both the blur and the
// restoration.
func WithConvolver(cv convolve.Convolver) Option {
	return func(c *Coordinator) { c.convolver = cv }
}

// NewCoordinator validates cfg. Without options it decodes with the Go image
// packages, writes PNG and convolves with the pure-Go engine.
func NewCoordinator(cfg config.Config, log logger.Logger, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:      cfg,
		logger:   log,
		saver:    PNGSaver{},
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loader == nil {
		c.loader = NewStdlibLoader(cfg.Input.Grayscale, log)
	}
	if c.convolver == nil {
		c.convolver = convolve.NewEngine(cfg.Border(), cfg.Deconvolution.Workers)
	}
	return c, nil
}

// Run executes the pipeline for the image at input. The context is checked
// between stages and between iterations.
func (c *Coordinator) Run(ctx context.Context, input string) (result *Result, err error) {
	runID := c.newRunID()
	log := runLogger{inner: c.logger, runID: runID}

	var observe func(string, time.Duration)
	if c.metrics != nil {
		observe = c.metrics.ObserveStage
		defer func() { c.metrics.RunFinished(err) }()
	}
	timer := newTimingTracker(observe)

	defer func() {
		if err != nil {
			log.Error(err, map[string]interface{}{"input": input})
		}
	}()

	if input == "" {
		return nil, ErrNoInput
	}

	log.Info("run started", map[string]interface{}{
		"input":      input,
		"iterations": c.cfg.Deconvolution.Iterations,
		"psf_size":   c.cfg.PSF.Size,
		"division":   c.cfg.Deconvolution.Division,
		"border":     c.cfg.Deconvolution.Border,
		"workers":    c.cfg.Deconvolution.Workers,
	})

	res := &Result{RunID: runID}

	// load
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stageCtx := timer.StartTiming(ctx, StageLoad)
	res.Source, err = c.loader.Load(input)
	timer.EndTiming(stageCtx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", input, err)
	}
	if err := res.Source.Pixels.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", input, err)
	}

	// psf
	stageCtx = timer.StartTiming(ctx, StagePSF)
	res.PSF, err = psf.Gaussian(c.cfg.PSF.Size, c.cfg.PSF.SigmaRow, c.cfg.PSF.SigmaCol)
	timer.EndTiming(stageCtx)
	if err != nil {
		return nil, fmt.Errorf("build psf: %w", err)
	}
	log.Debug("psf built", map[string]interface{}{
		"size":      c.cfg.PSF.Size,
		"sigma_row": c.cfg.PSF.SigmaRow,
		"sigma_col": c.cfg.PSF.SigmaCol,
		"sum":       res.PSF.Sum(),
	})

	// blur
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stageCtx = timer.StartTiming(ctx, StageBlur)
	res.Blurred, err = c.convolver.Filter2D(res.Source.Pixels, res.PSF)
	timer.EndTiming(stageCtx)
	if err != nil {
		return nil, fmt.Errorf("blur: %w", err)
	}

	// deconvolve
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stageCtx = timer.StartTiming(ctx, StageDeconvolve)
	res.Estimate, err = deconv.RichardsonLucy(res.Blurred, res.PSF, c.cfg.Deconvolution.Iterations,
		deconv.WithContext(ctx),
		deconv.WithConvolver(c.convolver),
		deconv.WithWorkers(c.cfg.Deconvolution.Workers),
		deconv.WithDivisionPolicy(c.cfg.DivisionPolicy()),
		deconv.WithEpsilon(c.cfg.Deconvolution.Epsilon),
		deconv.WithIterationHook(c.iterationHook(log, res)),
	)
	timer.EndTiming(stageCtx)
	if err != nil {
		return nil, fmt.Errorf("deconvolve: %w", err)
	}

	// save
	if path := c.cfg.Output.Path; path != "" {
		stageCtx = timer.StartTiming(ctx, StageSave)
		err = c.saver.Save(path, res.Estimate, res.Source.Depth)
		timer.EndTiming(stageCtx)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", path, err)
		}
		res.OutputPath = path
	}

	res.Timings = timer.Timings()

	log.Info("run completed", map[string]interface{}{
		"final_mse":     res.FinalMSE(),
		"guarded":       res.Guarded,
		"deconvolve_ms": res.Timings[StageDeconvolve].Milliseconds(),
		"output":        res.OutputPath,
	})

	if c.cfg.Output.Show && c.display != nil {
		c.display.Show(TitleSharp, res.Source.Pixels)
		c.display.Show(TitleBlurred, res.Blurred)
		c.display.Show(TitleEstimate, res.Estimate)
	}

	return res, nil
}

func (c *Coordinator) iterationHook(log runLogger, res *Result) deconv.IterationHook {
	return func(stats deconv.IterationStats, estimate *matrix.Dense) {
		mse, err := matrix.MSE(estimate, res.Source.Pixels)
		if err != nil {
			mse = -1
		}
		res.MSE = append(res.MSE, mse)
		res.Guarded += stats.Guarded

		if c.metrics != nil {
			c.metrics.Iteration(stats.Guarded, mse)
		}

		fields := map[string]interface{}{
			"iteration": stats.Iteration,
			"total":     stats.Total,
			"mse":       mse,
		}
		if stats.Guarded > 0 {
			fields["guarded"] = stats.Guarded
			log.Warning("near-zero denominators replaced by epsilon", fields)
			return
		}
		log.Debug("iteration complete", fields)
	}
}

// runLogger stamps every entry with the run ID.
type runLogger struct {
	inner logger.Logger
	runID string
}

func (l runLogger) fields(f map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["run_id"] = l.runID
	return out
}

func (l runLogger) Info(msg string, f map[string]interface{}) {
	l.inner.Info(component, msg, l.fields(f))
}

func (l runLogger) Debug(msg string, f map[string]interface{}) {
	l.inner.Debug(component, msg, l.fields(f))
}

func (l runLogger) Warning(msg string, f map[string]interface{}) {
	l.inner.Warning(component, msg, l.fields(f))
}

func (l runLogger) Error(err error, f map[string]interface{}) {
	l.inner.Error(component, err, l.fields(f))
}
