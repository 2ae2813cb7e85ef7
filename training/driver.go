// Package training drives one end-to-end training job: it opens a tracked
// run, hands the configuration to a trainer and uploads what the trainer
// produced.
package training

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tutortoise/helmet-detection-service/config"
	"github.com/Tutortoise/helmet-detection-service/tracking"
)

const (
	// RunArtifactPath holds the trainer's output directory.
	RunArtifactPath = "ultralytics_run"
	// MetaArtifactPath holds the sidecar pointing at the best weights.
	MetaArtifactPath = "meta"
	// SidecarName is the file that records the best weights path.
	SidecarName = "best_path.txt"
)

// WeightsRelPath locates the best weights inside a run directory.
var WeightsRelPath = filepath.Join("weights", "best.pt")

// Tracker records a run on an experiment tracking server.
type Tracker interface {
	SetExperiment(ctx context.Context, name string) (tracking.Experiment, error)
	CreateRun(ctx context.Context, experimentID, runName string) (tracking.RunInfo, error)
	LogParams(ctx context.Context, runID string, params []tracking.Param) error
	LogArtifacts(ctx context.Context, run tracking.RunInfo, localDir, artifactPath string) error
	LogArtifact(ctx context.Context, run tracking.RunInfo, localPath, artifactPath string) error
	UpdateRun(ctx context.Context, runID string, status tracking.RunStatus) error
}

// Job is one training request.
type Job struct {
	Config      *config.Training
	TrackingURI string
	Experiment  tracking.Experiment
	Run         tracking.RunInfo
}

// Trainer runs a training job to completion.
type Trainer interface {
	Train(ctx context.Context, job Job) error
}

type Driver struct {
	cfg     *config.Training
	tracker Tracker
	trainer Trainer
	logger  *zap.Logger
	workDir string
}

type Option func(*Driver)

// WithWorkDir resolves a relative RunsDir and writes the sidecar below dir
// instead of the working directory.
func WithWorkDir(dir string) Option {
	return func(d *Driver) { d.workDir = dir }
}

func NewDriver(cfg *config.Training, tracker Tracker, trainer Trainer, logger *zap.Logger, opts ...Option) *Driver {
	d := &Driver{
		cfg:     cfg,
		tracker: tracker,
		trainer: trainer,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Params returns the run parameters recorded before training starts.
func Params(cfg *config.Training) []tracking.Param {
	return []tracking.Param{
		{Key: "data", Value: cfg.DataYAML},
		{Key: "base_model", Value: cfg.BaseModel},
		{Key: "epochs", Value: strconv.Itoa(cfg.Epochs)},
		{Key: "imgsz", Value: strconv.Itoa(cfg.ImgSize)},
		{Key: "batch", Value: strconv.Itoa(cfg.Batch)},
		{Key: "workers", Value: strconv.Itoa(cfg.Workers)},
		{Key: "device", Value: cfg.Device},
		{Key: "run_name", Value: cfg.RunName},
	}
}

// Run executes the job once. Nothing is retried.
func (d *Driver) Run(ctx context.Context) error {
	exp, err := d.tracker.SetExperiment(ctx, d.cfg.ExperimentName)
	if err != nil {
		return errors.Wrap(err, "set experiment")
	}
	d.logger.Info("using experiment",
		zap.String("experiment", d.cfg.ExperimentName),
		zap.String("experiment_id", exp.ExperimentID),
		zap.String("tracking_uri", d.cfg.TrackingURI),
	)

	return d.withRun(ctx, exp.ExperimentID, func(run tracking.RunInfo) error {
		if err := d.tracker.LogParams(ctx, run.RunID, Params(d.cfg)); err != nil {
			return errors.Wrap(err, "log params")
		}

		d.logger.Info("training started",
			zap.String("run_id", run.RunID),
			zap.String("data", d.cfg.DataYAML),
			zap.String("base_model", d.cfg.BaseModel),
			zap.Int("epochs", d.cfg.Epochs),
			zap.String("device", d.cfg.Device),
		)
		start := time.Now()
		job := Job{Config: d.cfg, TrackingURI: d.cfg.TrackingURI, Experiment: exp, Run: run}
		if err := d.trainer.Train(ctx, job); err != nil {
			return errors.Wrap(err, "train")
		}
		d.logger.Info("training finished", zap.Duration("elapsed", time.Since(start)))

		return d.logOutputs(ctx, run)
	})
}

// withRun opens a run and always ends it: FINISHED when fn succeeds, KILLED
// when ctx was cancelled, FAILED otherwise, including panics.
func (d *Driver) withRun(ctx context.Context, experimentID string, fn func(run tracking.RunInfo) error) (err error) {
	run, err := d.tracker.CreateRun(ctx, experimentID, d.cfg.RunName)
	if err != nil {
		return errors.Wrap(err, "start run")
	}
	d.logger.Info("run started", zap.String("run", d.cfg.RunName), zap.String("run_id", run.RunID))

	defer func() {
		p := recover()
		status := tracking.StatusFinished
		switch {
		case p == nil && err == nil:
		case ctx.Err() != nil:
			status = tracking.StatusKilled
		default:
			status = tracking.StatusFailed
		}

		if endErr := d.tracker.UpdateRun(context.WithoutCancel(ctx), run.RunID, status); endErr != nil {
			err = multierr.Append(err, errors.Wrap(endErr, "end run"))
		}
		d.logger.Info("run ended", zap.String("run_id", run.RunID), zap.String("status", string(status)))
		if p != nil {
			panic(p)
		}
	}()

	return fn(run)
}

func (d *Driver) runsDir() string {
	if filepath.IsAbs(d.cfg.RunsDir) {
		return d.cfg.RunsDir
	}
	return filepath.Join(d.workDir, d.cfg.RunsDir)
}

func (d *Driver) logOutputs(ctx context.Context, run tracking.RunInfo) error {
	trainDir, err := LatestRunDir(d.runsDir())
	if err != nil {
		return errors.Wrap(err, "find training output")
	}
	if trainDir == "" {
		d.logger.Warn("no training output found, skipping artifacts", zap.String("runs_dir", d.runsDir()))
		return nil
	}

	if err := d.tracker.LogArtifacts(ctx, run, trainDir, RunArtifactPath); err != nil {
		return errors.Wrap(err, "log training output")
	}

	weights := filepath.Join(trainDir, WeightsRelPath)
	if _, err := os.Stat(weights); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("no best weights in training output", zap.String("dir", trainDir))
			return nil
		}
		return err
	}

	sidecar := filepath.Join(d.workDir, SidecarName)
	if err := os.WriteFile(sidecar, []byte(weights), 0o644); err != nil {
		return errors.Wrap(err, "write weights sidecar")
	}
	if err := d.tracker.LogArtifact(ctx, run, sidecar, MetaArtifactPath); err != nil {
		return errors.Wrap(err, "log weights sidecar")
	}
	d.logger.Info("best weights recorded", zap.String("weights", weights))
	return nil
}
