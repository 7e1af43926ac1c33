package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocessProducesBatchedChannelFirstTensor(t *testing.T) {
	payload := solidPNG(t, 64, 48, color.RGBA{R: 255, A: 255})

	out, err := Preprocess(FromBytes(payload), Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, DefaultTargetSize, DefaultTargetSize}, out.Shape)
	require.Len(t, out.Data, 3*DefaultTargetSize*DefaultTargetSize)

	plane := DefaultTargetSize * DefaultTargetSize
	assert.InDelta(t, (1-0.485)/0.229, out.Data[0], 1e-2)
	assert.InDelta(t, (0-0.456)/0.224, out.Data[plane], 1e-2)
	assert.InDelta(t, (0-0.406)/0.225, out.Data[2*plane+plane-1], 1e-2)
}

func TestPreprocessIsDeterministic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 6), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	first, err := Preprocess(FromBytes(buf.Bytes()), Options{TargetSize: 32})
	require.NoError(t, err)
	second, err := Preprocess(FromBytes(buf.Bytes()), Options{TargetSize: 32})
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, []int64{1, 3, 32, 32}, first.Shape)
}

func TestPreprocessRejectsMalformedBytes(t *testing.T) {
	_, err := Preprocess(FromBytes([]byte("definitely not an image")), Options{})
	require.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestPreprocessRejectsEmptyInput(t *testing.T) {
	_, err := Preprocess(Input{}, Options{})
	require.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestPreprocessReadsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	require.NoError(t, os.WriteFile(path, solidPNG(t, 10, 10, color.White), 0o600))

	out, err := Preprocess(FromPath(path), Options{TargetSize: 8})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 8, 8}, out.Shape)
}

func TestPreprocessMissingPath(t *testing.T) {
	_, err := Preprocess(FromPath(filepath.Join(t.TempDir(), "missing.png")), Options{})
	require.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestFromImageRejectsZeroArea(t *testing.T) {
	_, err := FromImage(image.NewRGBA(image.Rect(0, 0, 0, 0)), Options{})
	require.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestPreprocessKeepsColourOfTransparentPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 0})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := Preprocess(FromBytes(buf.Bytes()), Options{TargetSize: 4})
	require.NoError(t, err)

	plane := 4 * 4
	for i := 0; i < plane; i++ {
		assert.InDelta(t, (1-0.485)/0.229, out.Data[i], 1e-4)
		assert.InDelta(t, (0-0.456)/0.224, out.Data[plane+i], 1e-4)
		assert.InDelta(t, (0-0.406)/0.225, out.Data[2*plane+i], 1e-4)
	}
}

func TestPreprocessSemiTransparentMatchesOpaque(t *testing.T) {
	encode := func(a uint8) []byte {
		img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				img.SetNRGBA(x, y, color.NRGBA{R: 30, G: 140, B: 220, A: a})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		return buf.Bytes()
	}

	translucent, err := Preprocess(FromBytes(encode(80)), Options{TargetSize: 3})
	require.NoError(t, err)
	solid, err := Preprocess(FromBytes(encode(255)), Options{TargetSize: 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, solid.Data, translucent.Data, 1e-4)
}

func TestPreprocessRejectsOversizedDimensions(t *testing.T) {
	payload := solidPNG(t, 100, 50, color.White)

	_, err := Preprocess(FromBytes(payload), Options{TargetSize: 8, MaxPixels: 100*50 - 1})
	require.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = Preprocess(FromBytes(payload), Options{TargetSize: 8, MaxPixels: 100 * 50})
	require.NoError(t, err)
}

func TestPreprocessDecodesTIFF(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))

	out, err := Preprocess(FromBytes(buf.Bytes()), Options{TargetSize: 4})
	require.NoError(t, err)
	assert.InDelta(t, (1-0.485)/0.229, out.Data[0], 1e-4)
}
