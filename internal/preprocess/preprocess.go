package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/example/skinsight/internal/tensor"
)

// ErrUnsupportedInput marks payloads that are not a decodable, non-empty image.
var ErrUnsupportedInput = errors.New("unsupported input")

// DefaultTargetSize is the square edge the bundled models were trained at.
const DefaultTargetSize = 224

// DefaultMaxPixels bounds the decoded area of an upload.
const DefaultMaxPixels = 40_000_000

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Input is one request's image, either raw bytes or a path to read them from.
type Input struct {
	Bytes []byte
	Path  string
}

// FromBytes wraps an in-memory payload.
func FromBytes(b []byte) Input { return Input{Bytes: b} }

// FromPath wraps a file reference.
func FromPath(path string) Input { return Input{Path: path} }

// Load returns the payload bytes, reading Path when no bytes were supplied.
func (in Input) Load() ([]byte, error) {
	if len(in.Bytes) > 0 {
		return in.Bytes, nil
	}
	if in.Path == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedInput)
	}
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnsupportedInput, in.Path)
	}
	return data, nil
}

// Options controls the transform. Zero values select the defaults.
type Options struct {
	TargetSize int
	MaxPixels  int
	Mean       [3]float32
	Std        [3]float32
}

func (o Options) withDefaults() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	if o.Std == ([3]float32{}) {
		o.Mean, o.Std = imageNetMean, imageNetStd
	}
	return o
}

// Preprocess decodes the payload and produces a normalized [1,3,H,W] tensor.
// The same bytes always produce the same tensor.
func Preprocess(in Input, opts Options) (*tensor.Tensor, error) {
	data, err := in.Load()
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	img, err := Decode(data, opts.MaxPixels)
	if err != nil {
		return nil, err
	}
	return FromImage(img, opts)
}

// Decode turns bytes into an image, honouring EXIF orientation. The header is
// checked first so images larger than maxPixels are never allocated.
func Decode(data []byte, maxPixels int) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: image has zero area", ErrUnsupportedInput)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedInput, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has zero area", ErrUnsupportedInput)
	}
	return img, nil
}

// FromImage drops alpha, resizes, scales to [0,1], normalizes per channel and
// lays the pixels out channel-first behind a batch dimension of one.
func FromImage(img image.Image, opts Options) (*tensor.Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has zero area", ErrUnsupportedInput)
	}
	opts = opts.withDefaults()
	size := opts.TargetSize

	resized := resize.Resize(uint(size), uint(size), opaque(img), resize.Bilinear)
	bounds := resized.Bounds()
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*size + x
			data[idx] = (float32(r)/65535.0 - opts.Mean[0]) / opts.Std[0]
			data[plane+idx] = (float32(g)/65535.0 - opts.Mean[1]) / opts.Std[1]
			data[2*plane+idx] = (float32(b)/65535.0 - opts.Mean[2]) / opts.Std[2]
		}
	}

	return tensor.New([]int64{1, 3, int64(size), int64(size)}, data)
}

// opaque copies img into straight-alpha NRGBA and forces every pixel opaque,
// keeping the stored colour of transparent pixels.
func opaque(img image.Image) *image.NRGBA {
	flat := imaging.Clone(img)
	for i := 3; i < len(flat.Pix); i += 4 {
		flat.Pix[i] = 0xff
	}
	return flat
}
