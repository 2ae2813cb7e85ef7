// Package config resolves the settings of the inference service and the
// training driver from command-line flags and environment variables. Every
// default is declared here once.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Inference service defaults.
const (
	DefaultAddr          = ":8000"
	DefaultModelPath     = "/models/best.pt"
	DefaultBackend       = BackendONNX
	DefaultInferenceURL  = "http://localhost:5000/predict"
	DefaultRuntimeLib    = "libonnxruntime.so"
	DefaultPoolSize      = 4
	DefaultConfThreshold = 0.25
	DefaultIOUThreshold  = 0.7
	DefaultMaxUpload     = "32MB"
	DefaultJPEGQuality   = 75
)

// Training driver defaults.
const (
	DefaultTrackingURI = "http://mlflow:5000"
	DefaultExperiment  = "yolo11-cpu"
	DefaultDataYAML    = "dataset/data.yaml"
	DefaultBaseModel   = "yolo11n.pt"
	DefaultEpochs      = 50
	DefaultImgSize     = 640
	DefaultBatch       = 4
	DefaultWorkers     = 4
	DefaultDevice      = "cpu"
	DefaultRunsDir     = "runs/detect"
	DefaultYOLOBin     = "yolo"
)

// Detector backends.
const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// Flag names.
const (
	flagDebug   = "debug"
	flagLogFile = "log-file"

	flagAddr          = "addr"
	flagModelPath     = "model-path"
	flagBackend       = "backend"
	flagInferenceURL  = "inference-url"
	flagRuntimeLib    = "onnxruntime-lib"
	flagPoolSize      = "pool-size"
	flagConfThreshold = "conf-threshold"
	flagIOUThreshold  = "iou-threshold"
	flagMaxUpload     = "max-upload-size"
	flagJPEGQuality   = "jpeg-quality"

	flagTrackingURI = "tracking-uri"
	flagExperiment  = "experiment"
	flagRunName     = "run-name"
	flagDataYAML    = "data"
	flagBaseModel   = "base-model"
	flagEpochs      = "epochs"
	flagImgSize     = "imgsz"
	flagBatch       = "batch"
	flagWorkers     = "workers"
	flagDevice      = "device"
	flagRunsDir     = "runs-dir"
	flagYOLOBin     = "yolo-bin"
)

// Logging configures the process logger.
type Logging struct {
	Debug   bool
	LogFile string
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Usage:   "enable debug logging",
			EnvVars: []string{"DEBUG"},
		},
		&cli.StringFlag{
			Name:    flagLogFile,
			Usage:   "also write JSON logs to this rotated file",
			EnvVars: []string{"LOG_FILE"},
		},
	}
}

func loggingFromContext(c *cli.Context) Logging {
	return Logging{
		Debug:   c.Bool(flagDebug),
		LogFile: c.String(flagLogFile),
	}
}

// Server holds the inference service settings.
type Server struct {
	Logging

	Addr          string
	ModelPath     string
	Backend       string
	InferenceURL  string
	RuntimeLib    string
	PoolSize      int
	ConfThreshold float64
	IOUThreshold  float64
	MaxUploadSize int64
	JPEGQuality   int
}

// ServerFlags returns the flags of the inference service.
func ServerFlags() []cli.Flag {
	return append(loggingFlags(),
		&cli.StringFlag{Name: flagAddr, Value: DefaultAddr, Usage: "listen address", EnvVars: []string{"ADDR"}},
		&cli.StringFlag{Name: flagModelPath, Value: DefaultModelPath, Usage: "detector model file", EnvVars: []string{"MODEL_PATH"}},
		&cli.StringFlag{Name: flagBackend, Value: DefaultBackend, Usage: "detector backend (onnx or remote)", EnvVars: []string{"DETECTOR_BACKEND"}},
		&cli.StringFlag{Name: flagInferenceURL, Value: DefaultInferenceURL, Usage: "remote inference endpoint", EnvVars: []string{"INFERENCE_URL"}},
		&cli.StringFlag{Name: flagRuntimeLib, Value: DefaultRuntimeLib, Usage: "path to the onnxruntime shared library", EnvVars: []string{"ONNXRUNTIME_LIB"}},
		&cli.IntFlag{Name: flagPoolSize, Value: DefaultPoolSize, Usage: "number of pooled model sessions", EnvVars: []string{"DETECTOR_POOL_SIZE"}},
		&cli.Float64Flag{Name: flagConfThreshold, Value: DefaultConfThreshold, Usage: "minimum detection confidence", EnvVars: []string{"CONF_THRESHOLD"}},
		&cli.Float64Flag{Name: flagIOUThreshold, Value: DefaultIOUThreshold, Usage: "non-max suppression IoU threshold", EnvVars: []string{"IOU_THRESHOLD"}},
		&cli.StringFlag{Name: flagMaxUpload, Value: DefaultMaxUpload, Usage: "largest accepted upload", EnvVars: []string{"MAX_UPLOAD_SIZE"}},
		&cli.IntFlag{Name: flagJPEGQuality, Value: DefaultJPEGQuality, Usage: "quality of the returned JPEG", EnvVars: []string{"JPEG_QUALITY"}},
	)
}

// ServerFromContext builds and validates the service settings.
func ServerFromContext(c *cli.Context) (*Server, error) {
	maxUpload, err := units.RAMInBytes(c.String(flagMaxUpload))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", flagMaxUpload)
	}
	cfg := &Server{
		Logging:       loggingFromContext(c),
		Addr:          c.String(flagAddr),
		ModelPath:     c.String(flagModelPath),
		Backend:       strings.ToLower(c.String(flagBackend)),
		InferenceURL:  c.String(flagInferenceURL),
		RuntimeLib:    c.String(flagRuntimeLib),
		PoolSize:      c.Int(flagPoolSize),
		ConfThreshold: c.Float64(flagConfThreshold),
		IOUThreshold:  c.Float64(flagIOUThreshold),
		MaxUploadSize: maxUpload,
		JPEGQuality:   c.Int(flagJPEGQuality),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that is out of range.
func (s *Server) Validate() error {
	switch s.Backend {
	case BackendONNX, BackendRemote:
	default:
		return errors.Errorf("unknown detector backend %q", s.Backend)
	}
	if s.Backend == BackendRemote && s.InferenceURL == "" {
		return errors.New("remote backend requires an inference url")
	}
	if s.PoolSize <= 0 {
		return errors.Errorf("pool size must be positive, got %d", s.PoolSize)
	}
	if s.ConfThreshold < 0 || s.ConfThreshold > 1 {
		return errors.Errorf("confidence threshold must be within [0,1], got %v", s.ConfThreshold)
	}
	if s.IOUThreshold <= 0 || s.IOUThreshold > 1 {
		return errors.Errorf("iou threshold must be within (0,1], got %v", s.IOUThreshold)
	}
	if s.MaxUploadSize <= 0 {
		return errors.New("max upload size must be positive")
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return errors.Errorf("jpeg quality must be within [1,100], got %d", s.JPEGQuality)
	}
	return nil
}

// Training holds the training driver settings. It is not modified after
// TrainingFromContext returns.
type Training struct {
	Logging

	TrackingURI    string
	ExperimentName string
	RunName        string
	DataYAML       string
	BaseModel      string
	Epochs         int
	ImgSize        int
	Batch          int
	Workers        int
	Device         string
	RunsDir        string
	YOLOBin        string
}

// TrainingFlags returns the flags of the training driver.
func TrainingFlags() []cli.Flag {
	return append(loggingFlags(),
		&cli.StringFlag{Name: flagTrackingURI, Value: DefaultTrackingURI, Usage: "MLflow tracking server", EnvVars: []string{"MLFLOW_TRACKING_URI"}},
		&cli.StringFlag{Name: flagExperiment, Value: DefaultExperiment, Usage: "MLflow experiment name", EnvVars: []string{"EXPERIMENT_NAME"}},
		&cli.StringFlag{Name: flagRunName, Usage: "MLflow run name (default train_<unix time>)", EnvVars: []string{"RUN_NAME"}},
		&cli.StringFlag{Name: flagDataYAML, Value: DefaultDataYAML, Usage: "dataset descriptor", EnvVars: []string{"DATA_YAML"}},
		&cli.StringFlag{Name: flagBaseModel, Value: DefaultBaseModel, Usage: "base model weights", EnvVars: []string{"BASE_MODEL"}},
		&cli.IntFlag{Name: flagEpochs, Value: DefaultEpochs, Usage: "training epochs", EnvVars: []string{"EPOCHS"}},
		&cli.IntFlag{Name: flagImgSize, Value: DefaultImgSize, Usage: "training image size", EnvVars: []string{"IMGSZ"}},
		&cli.IntFlag{Name: flagBatch, Value: DefaultBatch, Usage: "batch size (-1 for auto)", EnvVars: []string{"BATCH"}},
		&cli.IntFlag{Name: flagWorkers, Value: DefaultWorkers, Usage: "dataloader workers", EnvVars: []string{"WORKERS"}},
		&cli.StringFlag{Name: flagDevice, Value: DefaultDevice, Usage: "compute device", EnvVars: []string{"DEVICE"}},
		&cli.StringFlag{Name: flagRunsDir, Value: DefaultRunsDir, Usage: "where the trainer writes train* directories", EnvVars: []string{"RUNS_DIR"}},
		&cli.StringFlag{Name: flagYOLOBin, Value: DefaultYOLOBin, Usage: "trainer executable", EnvVars: []string{"YOLO_BIN"}},
	)
}

// TrainingFromContext builds and validates the driver settings. now is used
// for the default run name.
func TrainingFromContext(c *cli.Context, now time.Time) (*Training, error) {
	runName := c.String(flagRunName)
	if runName == "" {
		runName = DefaultRunName(now)
	}
	cfg := &Training{
		Logging:        loggingFromContext(c),
		TrackingURI:    c.String(flagTrackingURI),
		ExperimentName: c.String(flagExperiment),
		RunName:        runName,
		DataYAML:       c.String(flagDataYAML),
		BaseModel:      c.String(flagBaseModel),
		Epochs:         c.Int(flagEpochs),
		ImgSize:        c.Int(flagImgSize),
		Batch:          c.Int(flagBatch),
		Workers:        c.Int(flagWorkers),
		Device:         c.String(flagDevice),
		RunsDir:        c.String(flagRunsDir),
		YOLOBin:        c.String(flagYOLOBin),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultRunName is the run name used when RUN_NAME is unset.
func DefaultRunName(now time.Time) string {
	return fmt.Sprintf("train_%d", now.Unix())
}

// Validate reports the first setting that is out of range.
func (t *Training) Validate() error {
	if t.TrackingURI == "" {
		return errors.New("tracking uri is required")
	}
	if t.ExperimentName == "" {
		return errors.New("experiment name is required")
	}
	if t.Epochs < 0 {
		return errors.Errorf("epochs must not be negative, got %d", t.Epochs)
	}
	if t.ImgSize <= 0 {
		return errors.Errorf("image size must be positive, got %d", t.ImgSize)
	}
	if t.Batch == 0 || t.Batch < -1 {
		return errors.Errorf("batch must be positive or -1, got %d", t.Batch)
	}
	if t.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", t.Workers)
	}
	return nil
}
