package discovery

import (
	"fmt"
	"image"
	"os"

	// Register the decoders for the formats the walker discovers.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/hupe1980/huevec/colorspace"
)

// DecodeFile decodes an image file into raw RGB pixels.
func DecodeFile(path string) (colorspace.RawImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return colorspace.RawImage{}, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return colorspace.RawImage{}, fmt.Errorf("decode %s: %w", path, err)
	}

	return colorspace.FromImage(src), nil
}
