package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// letterbox records how an image was mapped into the model input so boxes can
// be mapped back.
type letterbox struct {
	scale      float32
	padX, padY float32
}

// toSource maps a point in model input space back to the original image.
func (lb letterbox) toSource(x, y float32) (float32, float32) {
	return (x - lb.padX) / lb.scale, (y - lb.padY) / lb.scale
}

// Preprocessor letterboxes images into a CHW float32 buffer scaled to [0,1].
type Preprocessor struct {
	width, height int
	numWorkers    int
}

func NewPreprocessor(width, height int) *Preprocessor {
	workers := runtime.GOMAXPROCS(0)
	if workers > height {
		workers = height
	}
	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: max(workers, 1),
	}
}

// Process writes img into dst, which must hold 3*width*height values.
func (p *Preprocessor) Process(img image.Image, dst []float32) letterbox {
	canvas, lb := p.letterbox(img)
	p.processParallel(canvas, dst)
	return lb
}

func (p *Preprocessor) letterbox(img image.Image) (*image.NRGBA, letterbox) {
	b := img.Bounds()
	scale := math.Min(float64(p.width)/float64(b.Dx()), float64(p.height)/float64(b.Dy()))
	nw := max(1, int(math.Round(float64(b.Dx())*scale)))
	nh := max(1, int(math.Round(float64(b.Dy())*scale)))
	padX := (p.width - nw) / 2
	padY := (p.height - nh) / 2

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(p.width, p.height, color.NRGBA{LetterboxFill, LetterboxFill, LetterboxFill, 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, letterbox{
		scale: float32(scale),
		padX:  float32(padX),
		padY:  float32(padY),
	}
}

func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	channelSize := p.width * p.height
	rowsPerWorker := p.height / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)

	for w := 0; w < p.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == p.numWorkers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				row := img.Pix[y*img.Stride:]
				offset := y * p.width
				for x := 0; x < p.width; x++ {
					i := offset + x
					px := row[x*4 : x*4+3]
					buffer[i] = float32(px[0]) / 255.0
					buffer[channelSize+i] = float32(px[1]) / 255.0
					buffer[channelSize*2+i] = float32(px[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
