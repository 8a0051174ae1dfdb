package inference

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"

	xdraw "golang.org/x/image/draw"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrImageDimensions   = errors.New("image dimensions exceed limit")
)

// CheckDimensions reads only the image header and rejects images wider or
// taller than maxSide pixels before anything allocates the pixel buffer.
// A non-positive maxSide disables the check.
func CheckDimensions(r io.Reader, maxSide int) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return cfg, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return cfg, fmt.Errorf("decode image header: empty image %dx%d", cfg.Width, cfg.Height)
	}
	if maxSide > 0 && (cfg.Width > maxSide || cfg.Height > maxSide) {
		return cfg, fmt.Errorf("%w: %dx%d, max %d per side", ErrImageDimensions, cfg.Width, cfg.Height, maxSide)
	}
	return cfg, nil
}

// Decode reads a JPEG or PNG image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if format != "jpeg" && format != "png" {
		return nil, format, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return img, format, nil
}

// Resize scales img to exactly width x height, ignoring aspect ratio.
func Resize(img image.Image, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Preprocess resizes img to the network input, converts it to the expected
// channel count, scales intensities to [0,1] and adds a batch dimension of 1.
func Preprocess(img image.Image, shape InputShape) *Tensor {
	resized := Resize(img, shape.Width, shape.Height)
	t := NewTensor(1, shape.Height, shape.Width, shape.Channels)

	i := 0
	for y := 0; y < shape.Height; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < shape.Width; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			if shape.Channels == 1 {
				t.Data[i] = luminance(r, g, b) / 255
				i++
				continue
			}
			t.Data[i] = float32(r) / 255
			t.Data[i+1] = float32(g) / 255
			t.Data[i+2] = float32(b) / 255
			i += 3
		}
	}
	return t
}

// luminance uses the ITU-R 601-2 luma transform.
func luminance(r, g, b uint8) float32 {
	return float32(r)*0.299 + float32(g)*0.587 + float32(b)*0.114
}
