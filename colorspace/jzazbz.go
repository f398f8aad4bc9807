package colorspace

import "math"

// SpaceJzAzBzD65 names the default perceptually uniform space: JzAzBz
// under a D65 white point, computed from sRGB input.
const SpaceJzAzBzD65 = "jzazbz-d65"

// JzAzBz constants from Safdar et al., "Perceptually uniform color space
// for image signals including high dynamic range and wide gamut" (2017).
const (
	jzB  = 1.15
	jzG  = 0.66
	jzC1 = 3424.0 / 4096.0
	jzC2 = 2413.0 / 128.0
	jzC3 = 2392.0 / 128.0
	jzN  = 2610.0 / 16384.0
	jzP  = 1.7 * 2523.0 / 32.0
	jzD  = -0.56
	jzD0 = 1.6295499532821566e-11

	// Display luminance assumed for the relative sRGB signal, in cd/m².
	// 203 is the reference white of BT.2408 graded content.
	jzWhiteLuminance = 203.0
)

// sRGB to XYZ (D65), linear RGB in, rows of the standard matrix.
var srgbToXYZ = [3][3]float64{
	{0.4124564, 0.3575761, 0.1804375},
	{0.2126729, 0.7151522, 0.0721750},
	{0.0193339, 0.1191920, 0.9503041},
}

// Adapted XYZ to LMS.
var xyzToLMS = [3][3]float64{
	{0.41478972, 0.579999, 0.0146480},
	{-0.2015100, 1.120649, 0.0531008},
	{-0.0166008, 0.264800, 0.6684799},
}

// srgbEOTF linearizes one 8-bit sRGB channel.
func srgbEOTF(c uint8) float64 {
	v := float64(c) / 255.0
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

// pqForward applies the SMPTE ST 2084 perceptual quantizer to an
// absolute luminance value.
func pqForward(t float64) float64 {
	if t < 0 {
		t = 0
	}
	tn := math.Pow(t/10000.0, jzN)
	return math.Pow((jzC1+jzC2*tn)/(1.0+jzC3*tn), jzP)
}

// srgbToJzAzBz converts one 8-bit sRGB triple to JzAzBz coordinates.
func srgbToJzAzBz(r, g, b uint8) (jz, az, bz float64) {
	lr := srgbEOTF(r)
	lg := srgbEOTF(g)
	lb := srgbEOTF(b)

	x := srgbToXYZ[0][0]*lr + srgbToXYZ[0][1]*lg + srgbToXYZ[0][2]*lb
	y := srgbToXYZ[1][0]*lr + srgbToXYZ[1][1]*lg + srgbToXYZ[1][2]*lb
	z := srgbToXYZ[2][0]*lr + srgbToXYZ[2][1]*lg + srgbToXYZ[2][2]*lb

	// Pre-adaptation sharpens the blue and green response.
	xp := jzB*x - (jzB-1.0)*z
	yp := jzG*y - (jzG-1.0)*x

	l := xyzToLMS[0][0]*xp + xyzToLMS[0][1]*yp + xyzToLMS[0][2]*z
	m := xyzToLMS[1][0]*xp + xyzToLMS[1][1]*yp + xyzToLMS[1][2]*z
	s := xyzToLMS[2][0]*xp + xyzToLMS[2][1]*yp + xyzToLMS[2][2]*z

	lp := pqForward(l * jzWhiteLuminance)
	mp := pqForward(m * jzWhiteLuminance)
	sp := pqForward(s * jzWhiteLuminance)

	iz := 0.5 * (lp + mp)
	az = 3.524000*lp - 4.066708*mp + 0.542708*sp
	bz = 0.199076*lp + 1.096799*mp - 1.295875*sp
	jz = ((1.0+jzD)*iz)/(1.0+jzD*iz) - jzD0

	return jz, az, bz
}
