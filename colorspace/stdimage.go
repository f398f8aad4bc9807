package colorspace

import "image"

// FromImage flattens a decoded image into a RawImage. Alpha is
// discarded; color values are truncated to 8 bits per channel.
func FromImage(src image.Image) RawImage {
	bounds := src.Bounds()
	out := NewRawImage(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(b >> 8)
			i += 3
		}
	}
	return out
}
