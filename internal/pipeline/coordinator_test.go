package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rl-deconv/internal/config"
	"rl-deconv/internal/deconv"
	"rl-deconv/internal/logger"
	"rl-deconv/internal/matrix"
	"rl-deconv/internal/metrics"
	"rl-deconv/internal/pipeline"
	"rl-deconv/internal/raster"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scene(t *testing.T) *matrix.Dense {
	t.Helper()
	m, err := matrix.Filled(24, 24, 0.25)
	require.NoError(t, err)
	for r := 6; r < 14; r++ {
		for c := 8; c < 16; c++ {
			require.NoError(t, m.Set(r, c, 0.9))
		}
	}
	return m
}

type stubLoader struct {
	data *pipeline.ImageData
	err  error
}

func (l stubLoader) Load(path string) (*pipeline.ImageData, error) {
	if l.err != nil {
		return nil, l.err
	}
	d := *l.data
	d.Path = path
	return &d, nil
}

func loaderFor(m *matrix.Dense) stubLoader {
	return stubLoader{data: &pipeline.ImageData{
		Pixels: m, Width: m.Cols(), Height: m.Rows(), Channels: 1, Depth: raster.Depth8,
	}}
}

type recordingSaver struct {
	path  string
	depth raster.Depth
	saved *matrix.Dense
}

func (s *recordingSaver) Save(path string, m *matrix.Dense, depth raster.Depth) error {
	s.path, s.depth, s.saved = path, depth, m.Clone()
	return nil
}

type recordingDisplay struct {
	titles []string
}

func (d *recordingDisplay) Show(title string, _ *matrix.Dense) {
	d.titles = append(d.titles, title)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PSF = config.PSF{Size: 5, SigmaRow: 1.5, SigmaCol: 1.5}
	cfg.Deconvolution.Iterations = 8
	return cfg
}

func TestRunProducesAllStages(t *testing.T) {
	var logs bytes.Buffer
	log := logger.New(&logs, zerolog.DebugLevel, false)

	cfg := testConfig()
	cfg.Output.Path = "restored.png"
	saver := &recordingSaver{}
	display := &recordingDisplay{}
	rec := metrics.New()

	c, err := pipeline.NewCoordinator(cfg, log,
		pipeline.WithLoader(loaderFor(scene(t))),
		pipeline.WithSaver(saver),
		pipeline.WithDisplay(display),
		pipeline.WithMetrics(rec),
	)
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "sharp.png")
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.MSE, 8)
	assert.Less(t, res.MSE[7], res.MSE[0])
	assert.Equal(t, res.MSE[7], res.FinalMSE())
	assert.InDelta(t, 1.0, res.PSF.Sum(), 1e-12)
	assert.True(t, matrix.SameShape(res.Source.Pixels, res.Estimate))
	assert.True(t, matrix.SameShape(res.Source.Pixels, res.Blurred))

	assert.Equal(t, "restored.png", saver.path)
	assert.Equal(t, raster.Depth8, saver.depth)
	assert.True(t, matrix.Equal(res.Estimate, saver.saved, 0))
	assert.Equal(t, "restored.png", res.OutputPath)

	assert.Equal(t, []string{pipeline.TitleSharp, pipeline.TitleBlurred, pipeline.TitleEstimate}, display.titles)

	for _, stage := range []string{pipeline.StageLoad, pipeline.StagePSF, pipeline.StageBlur, pipeline.StageDeconvolve, pipeline.StageSave} {
		_, ok := res.Timings[stage]
		assert.True(t, ok, stage)
	}

	assert.Contains(t, logs.String(), res.RunID)
	assert.Contains(t, logs.String(), `"component":"Pipeline"`)
	assert.Equal(t, 8, strings.Count(logs.String(), "iteration complete"))

	n, err := testutil.GatherAndCount(rec.Registry(), "rl_deconv_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunWithoutShowOrOutput(t *testing.T) {
	cfg := testConfig()
	cfg.Output.Show = false
	saver := &recordingSaver{}
	display := &recordingDisplay{}

	c, err := pipeline.NewCoordinator(cfg, logger.Nop(),
		pipeline.WithLoader(loaderFor(scene(t))),
		pipeline.WithSaver(saver),
		pipeline.WithDisplay(display),
	)
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "sharp.png")
	require.NoError(t, err)
	assert.Empty(t, display.titles)
	assert.Empty(t, saver.path)
	assert.Empty(t, res.OutputPath)
}

func TestRunZeroIterations(t *testing.T) {
	cfg := testConfig()
	cfg.Deconvolution.Iterations = 0

	c, err := pipeline.NewCoordinator(cfg, logger.Nop(), pipeline.WithLoader(loaderFor(scene(t))))
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "sharp.png")
	require.NoError(t, err)
	assert.Empty(t, res.MSE)

	half, err := matrix.Filled(24, 24, 0.5)
	require.NoError(t, err)
	assert.True(t, matrix.Equal(half, res.Estimate, 0))
	want, err := matrix.MSE(half, res.Source.Pixels)
	require.NoError(t, err)
	assert.Equal(t, want, res.FinalMSE())
}

func TestRunErrors(t *testing.T) {
	c, err := pipeline.NewCoordinator(testConfig(), logger.Nop(), pipeline.WithLoader(loaderFor(scene(t))))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "")
	require.ErrorIs(t, err, pipeline.ErrNoInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Run(ctx, "sharp.png")
	require.ErrorIs(t, err, context.Canceled)

	boom := errors.New("disk on fire")
	rec := metrics.New()
	c, err = pipeline.NewCoordinator(testConfig(), logger.Nop(),
		pipeline.WithLoader(stubLoader{err: boom}), pipeline.WithMetrics(rec))
	require.NoError(t, err)
	_, err = c.Run(context.Background(), "sharp.png")
	require.ErrorIs(t, err, boom)

	require.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(`
# HELP rl_deconv_runs_total Deconvolution runs by outcome.
# TYPE rl_deconv_runs_total counter
rl_deconv_runs_total{outcome="error"} 1
`), "rl_deconv_runs_total"))
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.PSF.Size = 0
	_, err := pipeline.NewCoordinator(cfg, logger.Nop())
	var ve *config.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestBlackImageDivisionPolicies(t *testing.T) {
	black, err := matrix.NewDense(12, 12)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Deconvolution.Iterations = 3
	cfg.Deconvolution.Division = "strict"
	c, err := pipeline.NewCoordinator(cfg, logger.Nop(), pipeline.WithLoader(loaderFor(black)))
	require.NoError(t, err)
	_, err = c.Run(context.Background(), "black.png")
	require.ErrorIs(t, err, deconv.ErrZeroDivision)

	cfg.Deconvolution.Division = "epsilon"
	c, err = pipeline.NewCoordinator(cfg, logger.Nop(), pipeline.WithLoader(loaderFor(black)))
	require.NoError(t, err)
	res, err := c.Run(context.Background(), "black.png")
	require.NoError(t, err)
	assert.Equal(t, 2*12*12, res.Guarded)
	require.NoError(t, res.Estimate.Validate())
}

func TestStdlibLoaderAndPNGSaverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "sharp.png")
	f, err := os.Create(in)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, raster.ToGray16(scene(t))))
	require.NoError(t, f.Close())

	cfg := testConfig()
	cfg.Deconvolution.Iterations = 2
	cfg.Output.Path = filepath.Join(dir, "restored.png")

	c, err := pipeline.NewCoordinator(cfg, logger.Nop())
	require.NoError(t, err)
	res, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, raster.Depth16, res.Source.Depth)
	assert.Equal(t, 1, res.Source.Channels)

	back, err := pipeline.NewStdlibLoader(false, logger.Nop()).Load(cfg.Output.Path)
	require.NoError(t, err)
	assert.Equal(t, raster.Depth16, back.Depth)
	want := res.Estimate.Clone()
	for r := 0; r < want.Rows(); r++ {
		row := want.Row(r)
		for c, v := range row {
			row[c] = raster.Quantize(v, 65535) / 65535
		}
	}
	assert.True(t, matrix.Equal(want, back.Pixels, 1e-12))
}

func TestPNGSaverRejects(t *testing.T) {
	m := scene(t)
	dir := t.TempDir()
	var s pipeline.PNGSaver

	require.Error(t, s.Save(filepath.Join(dir, "x.tif"), m, raster.Depth8))
	require.ErrorIs(t, s.Save(filepath.Join(dir, "x.png"), m, raster.Depth(4)), raster.ErrUnsupportedDepth)
	require.ErrorIs(t, s.Save(filepath.Join(dir, "x.png"), nil, raster.Depth8), matrix.ErrNilMatrix)
}

func TestStdlibLoaderRejectsColorWithoutGrayscale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "color.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, colorCard()))
	require.NoError(t, f.Close())

	_, err = pipeline.NewStdlibLoader(false, logger.Nop()).Load(path)
	require.ErrorIs(t, err, raster.ErrMultiChannel)

	data, err := pipeline.NewStdlibLoader(true, logger.Nop()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, data.Channels)
	assert.Equal(t, 4, data.Width)
}
