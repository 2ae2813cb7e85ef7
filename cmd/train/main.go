package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Tutortoise/helmet-detection-service/config"
	"github.com/Tutortoise/helmet-detection-service/logging"
	"github.com/Tutortoise/helmet-detection-service/tracking"
	"github.com/Tutortoise/helmet-detection-service/training"
)

func main() {
	app := &cli.App{
		Name:   "helmet-train",
		Usage:  "train the helmet detector and record the run in MLflow",
		Flags:  config.TrainingFlags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.TrainingFromContext(c, time.Now())
	if err != nil {
		return err
	}
	logger, err := logging.New("train", cfg.Logging)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = logger.Sync() }()

	client, err := tracking.NewClient(cfg.TrackingURI, tracking.WithLogger(logger.Named("mlflow")))
	if err != nil {
		return err
	}
	trainer := training.NewYOLOTrainer(cfg.YOLOBin, logger.Named("yolo"))
	driver := training.NewDriver(cfg, client, trainer, logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := driver.Run(ctx); err != nil {
		logger.Error("training run failed", zap.String("run", cfg.RunName), zap.Error(err))
		return err
	}
	return nil
}
