package training

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// stopGrace is how long the trainer gets to exit after an interrupt.
const stopGrace = 30 * time.Second

// YOLOTrainer runs the ultralytics command line trainer.
type YOLOTrainer struct {
	Bin    string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	logger *zap.Logger
}

func NewYOLOTrainer(bin string, logger *zap.Logger) *YOLOTrainer {
	return &YOLOTrainer{
		Bin:    bin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger,
	}
}

// TrainArgs returns the trainer arguments for job.
func TrainArgs(job Job) []string {
	cfg := job.Config
	return []string{
		"detect", "train",
		"data=" + cfg.DataYAML,
		"model=" + cfg.BaseModel,
		fmt.Sprintf("epochs=%d", cfg.Epochs),
		fmt.Sprintf("imgsz=%d", cfg.ImgSize),
		fmt.Sprintf("batch=%d", cfg.Batch),
		fmt.Sprintf("workers=%d", cfg.Workers),
		"device=" + cfg.Device,
		"project=" + cfg.RunsDir,
	}
}

// trainEnv points the trainer's own MLflow callback at the open run so its
// per-epoch metrics land next to the driver's params.
func trainEnv(job Job) []string {
	return append(os.Environ(),
		"MLFLOW_TRACKING_URI="+job.TrackingURI,
		"MLFLOW_EXPERIMENT_NAME="+job.Experiment.Name,
		"MLFLOW_EXPERIMENT_ID="+job.Experiment.ExperimentID,
		"MLFLOW_RUN_ID="+job.Run.RunID,
		"MLFLOW_RUN="+job.Config.RunName,
	)
}

// Train blocks until the trainer exits. Cancelling ctx interrupts it.
func (t *YOLOTrainer) Train(ctx context.Context, job Job) error {
	args := TrainArgs(job)
	cmd := exec.CommandContext(ctx, t.Bin, args...)
	cmd.Dir = t.Dir
	cmd.Env = trainEnv(job)
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGrace

	t.logger.Info("running trainer", zap.String("cmd", t.Bin+" "+strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return errors.Errorf("trainer exited with code %d", exitErr.ExitCode())
		}
		return errors.Wrapf(err, "run %s", t.Bin)
	}
	return nil
}
