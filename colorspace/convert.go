package colorspace

// Converter maps raw images into the table's color space. It is
// stateless apart from the table reference and safe for concurrent use.
type Converter struct {
	table *Table
}

// NewConverter creates a converter over a loaded table.
func NewConverter(table *Table) *Converter {
	return &Converter{table: table}
}

// Space returns the output color space identifier.
func (c *Converter) Space() string {
	return c.table.Space()
}

// Table returns the underlying lookup table.
func (c *Converter) Table() *Table {
	return c.table
}

// Convert produces the perceptual image for img. The same input and
// table always yield bit-identical output.
func (c *Converter) Convert(img RawImage) (PerceptualImage, error) {
	if err := img.Validate(); err != nil {
		return PerceptualImage{}, err
	}

	out := PerceptualImage{
		W:     img.W,
		H:     img.H,
		Space: c.table.Space(),
		Pix:   make([]float32, img.W*img.H*3),
	}
	for i := 0; i < len(img.Pix); i += 3 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.table.Lookup(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
	}
	return out, nil
}
