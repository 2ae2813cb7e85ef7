package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tutortoise/helmet-detection-service/config"
	"github.com/Tutortoise/helmet-detection-service/detections"
	"github.com/Tutortoise/helmet-detection-service/logging"
	"github.com/Tutortoise/helmet-detection-service/server"
)

// startupTimeout bounds the remote detector health probe.
const startupTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:   "helmet-api",
		Usage:  "serve helmet detection over HTTP",
		Flags:  config.ServerFlags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) (err error) {
	cfg, err := config.ServerFromContext(c)
	if err != nil {
		return err
	}
	logger, err := logging.New("api", cfg.Logging)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting helmet detection service",
		zap.String("backend", cfg.Backend),
		zap.String("model", cfg.ModelPath),
		zap.String("max_upload", units.BytesSize(float64(cfg.MaxUploadSize))),
		zap.Strings("cpu_features", detections.CPUFeatures()),
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector, cleanup, err := newDetector(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to load detector", zap.Error(err))
		return err
	}
	defer func() { err = multierr.Append(err, cleanup()) }()

	return server.New(cfg, detector, logger).ListenAndServe(ctx)
}

// newDetector builds the configured backend. The returned cleanup releases
// the detector and any runtime it loaded.
func newDetector(ctx context.Context, cfg *config.Server, logger *zap.Logger) (detections.Detector, func() error, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		det := detections.NewRemoteDetector(cfg.InferenceURL, nil, logger.Named("remote"))
		healthCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		if err := det.CheckHealth(healthCtx); err != nil {
			return nil, nil, errors.Wrap(err, "inference service not reachable")
		}
		return det, det.Close, nil
	default:
		destroyRuntime, err := detections.InitRuntime(cfg.RuntimeLib)
		if err != nil {
			return nil, nil, err
		}
		det, err := detections.NewONNXDetector(detections.ONNXConfig{
			ModelPath:     cfg.ModelPath,
			PoolSize:      cfg.PoolSize,
			ConfThreshold: float32(cfg.ConfThreshold),
			IOUThreshold:  float32(cfg.IOUThreshold),
		}, logger.Named("onnx"))
		if err != nil {
			return nil, nil, multierr.Append(errors.Wrap(err, "load model"), destroyRuntime())
		}
		return det, func() error {
			return multierr.Append(det.Close(), destroyRuntime())
		}, nil
	}
}
