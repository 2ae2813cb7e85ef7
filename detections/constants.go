package detections

const (
	// DefaultInputSize is used when the model declares dynamic spatial dims.
	DefaultInputSize = 640
	// LetterboxFill is the grey level of the padding around a letterboxed image.
	LetterboxFill = 114
	// MaxDetections caps the boxes returned for one image.
	MaxDetections = 300

	boxChannels = 4
	imgChannels = 3
)

// Strides of the YOLO detection heads, used to size dynamic outputs.
var headStrides = []int{8, 16, 32}
