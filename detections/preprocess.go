package detections

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecodeImage marks payloads that could not be decoded as an image.
var ErrDecodeImage = errors.New("decode image")

// DecodeImage sniffs and decodes an encoded frame (JPEG, PNG, GIF, BMP,
// TIFF or WebP). Grayscale sources come back as single-channel images;
// the tensor fill replicates luminance across R, G and B.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecodeImage, err)
	}
	return img, format, nil
}

// Stretch resizes img to the model input resolution. Both axes scale
// independently, so non-square frames distort rather than letterbox.
func Stretch(img image.Image) *image.NRGBA {
	return imaging.Resize(img, InputSize, InputSize, imaging.Linear)
}

// Preprocessor fills planar CHW float32 tensors from resized frames.
// Buffers are pooled and reused, so callers must Recycle them once
// inference has consumed the data.
type Preprocessor struct {
	width, height int
	numWorkers    int
	bufferPool    *sync.Pool
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		width:      InputSize,
		height:     InputSize,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]float32, InputSize*InputSize*3)
			},
		},
	}
}

// Fill converts a resized frame into a [3][H][W] tensor with each channel
// scaled to [0,1]. Rows are split across workers.
func (p *Preprocessor) Fill(img image.Image) []float32 {
	buffer := p.bufferPool.Get().([]float32)

	rowsPerWorker := p.height / p.numWorkers
	if rowsPerWorker == 0 {
		rowsPerWorker = p.height
	}

	var wg sync.WaitGroup
	for start := 0; start < p.height; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > p.height {
			end = p.height
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			if nrgba, ok := img.(*image.NRGBA); ok {
				p.fillRowsNRGBA(nrgba, buffer, start, end)
			} else {
				p.fillRowsGeneric(img, buffer, start, end)
			}
		}(start, end)
	}
	wg.Wait()

	return buffer
}

// Recycle returns a tensor buffer to the pool.
func (p *Preprocessor) Recycle(buffer []float32) {
	p.bufferPool.Put(buffer)
}

// fillRowsNRGBA walks the pixel slab directly. imaging.Resize always
// produces NRGBA, so this is the path every real frame takes.
func (p *Preprocessor) fillRowsNRGBA(img *image.NRGBA, buffer []float32, startRow, endRow int) {
	channelSize := p.width * p.height
	for y := startRow; y < endRow; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+p.width*4]
		offset := y * p.width
		for x := 0; x < p.width; x++ {
			i := offset + x
			px := row[x*4 : x*4+4]
			buffer[i] = float32(px[0]) / 255.0
			buffer[channelSize+i] = float32(px[1]) / 255.0
			buffer[channelSize*2+i] = float32(px[2]) / 255.0
		}
	}
}

func (p *Preprocessor) fillRowsGeneric(img image.Image, buffer []float32, startRow, endRow int) {
	channelSize := p.width * p.height
	bounds := img.Bounds()
	for y := startRow; y < endRow; y++ {
		offset := y * p.width
		for x := 0; x < p.width; x++ {
			i := offset + x
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			buffer[i] = float32(r>>8) / 255.0
			buffer[channelSize+i] = float32(g>>8) / 255.0
			buffer[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}
