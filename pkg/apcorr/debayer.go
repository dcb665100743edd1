package apcorr

// DebayerRGGB interpolates a raw RGGB Bayer mosaic bilinearly and returns the
// luminance (R+G+B)/3 of every pixel.
//
//	(even row, even col) = R
//	(even row, odd  col) = Gr
//	(odd  row, even col) = Gb
//	(odd  row, odd  col) = B
//
// Neighbours outside the frame are mirrored about the edge pixel, which keeps
// their Bayer colour.
func DebayerRGGB(data []float64, width, height int) []float64 {
	at := func(x, y int) float64 {
		return data[bayerMirror(y, height)*width+bayerMirror(x, width)]
	}
	cross := func(x, y int) float64 {
		return (at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)) / 4
	}
	diagonal := func(x, y int) float64 {
		return (at(x-1, y-1) + at(x+1, y-1) + at(x-1, y+1) + at(x+1, y+1)) / 4
	}
	horizontal := func(x, y int) float64 { return (at(x-1, y) + at(x+1, y)) / 2 }
	vertical := func(x, y int) float64 { return (at(x, y-1) + at(x, y+1)) / 2 }

	out := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var r, g, b float64
			switch {
			case y%2 == 0 && x%2 == 0:
				r, g, b = at(x, y), cross(x, y), diagonal(x, y)
			case y%2 == 0:
				r, g, b = horizontal(x, y), at(x, y), vertical(x, y)
			case x%2 == 0:
				r, g, b = vertical(x, y), at(x, y), horizontal(x, y)
			default:
				r, g, b = diagonal(x, y), cross(x, y), at(x, y)
			}
			out[y*width+x] = (r + g + b) / 3
		}
	}
	return out
}

// bayerMirror maps -1 to 1 and n to n-2 so the index keeps its parity.
func bayerMirror(i, n int) int {
	if i < 0 {
		i = -i
	}
	if i >= n {
		i = 2*(n-1) - i
	}
	return min(max(i, 0), n-1)
}

// DebayerToMat debayers raw unsigned pixels into a normalized luminance Mat.
func DebayerToMat(pixels []uint16, bitDepth, width, height int) Mat {
	scale := float64(uint32(1) << uint(bitDepth))
	data := make([]float64, len(pixels))
	for i, p := range pixels {
		data[i] = float64(p) / scale
	}
	m := NewMatWithSize(height, width)
	dest := m.DataFloat32()
	for i, v := range DebayerRGGB(data, width, height) {
		dest[i] = float32(v)
	}
	return m
}
