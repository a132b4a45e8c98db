package session

import (
	"bufio"
	"fmt"
	"image"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"gopkg.in/gographics/imagick.v3/imagick"
)

// LoadGray decodes a tile image to 8-bit grayscale. Files the native TIFF
// decoder rejects are retried through ImageMagick.
func LoadGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	img, decodeErr := tiff.Decode(bufio.NewReader(f))
	f.Close()
	if decodeErr == nil {
		return toGray(img), nil
	}
	gray, err := loadWithMagick(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v; imagemagick: %w", path, decodeErr, err)
	}
	return gray, nil
}

// toGray collapses any image to a zero-origin *image.Gray. Colour images
// that were saved as RGB by mistake reduce to luminance.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func loadWithMagick(path string) (*image.Gray, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, err
	}
	if err := mw.SetImageColorspace(imagick.COLORSPACE_GRAY); err != nil {
		return nil, err
	}
	width := mw.GetImageWidth()
	height := mw.GetImageHeight()
	pixels, err := mw.ExportImagePixels(0, 0, width, height, "I", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, err
	}
	raw, ok := pixels.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel buffer %T", pixels)
	}
	out := image.NewGray(image.Rect(0, 0, int(width), int(height)))
	copy(out.Pix, raw)
	return out, nil
}
