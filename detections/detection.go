package detections

import (
	"context"
	"fmt"
	"image"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Tutortoise/helmet-detection-service/models"
)

// Detector finds objects in an image. Implementations are safe for concurrent
// use by multiple requests.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]models.Detection, error)
	Close() error
}

// MetricsReporter is implemented by detectors that pool resources.
type MetricsReporter interface {
	Metrics() PoolMetrics
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// ONNXConfig configures an ONNXDetector.
type ONNXConfig struct {
	ModelPath     string
	PoolSize      int
	ConfThreshold float32
	IOUThreshold  float32
}

// ONNXDetector runs a YOLO detection model exported to ONNX.
type ONNXDetector struct {
	cfg          ONNXConfig
	layout       modelLayout
	pool         *ModelSessionPool
	preprocessor *Preprocessor
	logger       *zap.Logger
}

// NewONNXDetector loads the model at cfg.ModelPath into a pool of sessions.
// The onnxruntime environment must already be initialized.
func NewONNXDetector(cfg ONNXConfig, logger *zap.Logger) (*ONNXDetector, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("error reading model info: %w", err)
	}
	layout, err := newModelLayout(inputs, outputs)
	if err != nil {
		return nil, err
	}

	pool, err := NewModelSessionPool(cfg.PoolSize, func() (*ModelSession, error) {
		return initSession(cfg.ModelPath, layout, cfg.PoolSize)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("input_width", layout.Width),
		zap.Int("input_height", layout.Height),
		zap.Int("classes", layout.NumClasses),
		zap.Int("anchors", layout.NumAnchors),
		zap.Int("sessions", pool.Size()),
	)

	return &ONNXDetector{
		cfg:          cfg,
		layout:       layout,
		pool:         pool,
		preprocessor: NewPreprocessor(layout.Width, layout.Height),
		logger:       logger,
	}, nil
}

func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	timings := models.TimingsFromContext(ctx)

	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, &ProcessingError{Message: "acquire session", Cause: err}
	}
	defer d.pool.Release(session)

	prepStart := time.Now()
	lb := d.preprocessor.Process(img, session.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := session.Session.Run(); err != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	b := img.Bounds()
	dets, err := decodeOutput(session.Output.GetData(), d.layout, lb, b.Dx(), b.Dy(), d.cfg.ConfThreshold)
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	dets = nonMaxSuppression(dets, d.cfg.IOUThreshold, MaxDetections)
	timings.Postprocess = time.Since(postStart)

	return dets, nil
}

func (d *ONNXDetector) Metrics() PoolMetrics {
	return d.pool.GetMetrics()
}

func (d *ONNXDetector) Close() error {
	d.pool.Destroy()
	return nil
}

// modelLayout describes the tensors of a YOLO detection model.
type modelLayout struct {
	InputName  string
	OutputName string
	Width      int
	Height     int
	NumClasses int
	NumAnchors int
}

func newModelLayout(inputs, outputs []ort.InputOutputInfo) (modelLayout, error) {
	if len(inputs) != 1 || len(outputs) < 1 {
		return modelLayout{}, fmt.Errorf("expected one input and at least one output, got %d and %d", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 || in.Dimensions[1] != imgChannels {
		return modelLayout{}, fmt.Errorf("input %q has shape %v, want [1 3 H W]", in.Name, in.Dimensions)
	}
	if len(out.Dimensions) != 3 || out.Dimensions[1] <= boxChannels {
		return modelLayout{}, fmt.Errorf("output %q has shape %v, want [1 4+classes anchors]", out.Name, out.Dimensions)
	}

	layout := modelLayout{
		InputName:  in.Name,
		OutputName: out.Name,
		Height:     dimOrDefault(in.Dimensions[2], DefaultInputSize),
		Width:      dimOrDefault(in.Dimensions[3], DefaultInputSize),
		NumClasses: int(out.Dimensions[1]) - boxChannels,
		NumAnchors: int(out.Dimensions[2]),
	}
	if layout.NumAnchors <= 0 {
		layout.NumAnchors = anchorCount(layout.Width, layout.Height)
	}
	return layout, nil
}

func dimOrDefault(d int64, def int) int {
	if d <= 0 {
		return def
	}
	return int(d)
}

// anchorCount is the number of predictions a YOLO head emits for an input.
func anchorCount(width, height int) int {
	n := 0
	for _, s := range headStrides {
		n += (width / s) * (height / s)
	}
	return n
}
