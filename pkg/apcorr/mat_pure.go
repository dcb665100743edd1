//go:build purego || js

package apcorr

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
)

// Mat is a single-channel float32 image stored contiguously in row-major
// order.
type Mat struct {
	data []float32
	rows int
	cols int
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{data: make([]float32, rows*cols), rows: rows, cols: cols}
}

func (m Mat) Rows() int   { return m.rows }
func (m Mat) Cols() int   { return m.cols }
func (m Mat) Empty() bool { return len(m.data) == 0 }

func (m Mat) Clone() Mat {
	c := NewMatWithSize(m.rows, m.cols)
	copy(c.data, m.data)
	return c
}

func (m *Mat) Close() {
	m.data = nil
	m.rows, m.cols = 0, 0
}

// DataFloat32 returns the pixel buffer. Writes go straight to the image.
func (m Mat) DataFloat32() []float32 { return m.data }

// ensureShape reallocates dst unless it already matches rows x cols.
func ensureShape(dst *Mat, rows, cols int) {
	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}
}

// reflectIndex mirrors out-of-range indices the way BORDER_REFLECT does:
// fedcba|abcdef|fedcba.
func reflectIndex(idx, size int) int {
	if size == 1 {
		return 0
	}
	for idx < 0 || idx >= size {
		if idx < 0 {
			idx = -idx - 1
		} else {
			idx = 2*size - idx - 1
		}
	}
	return idx
}

func separableFilter(src Mat, dst *Mat, kernelX, kernelY Mat) {
	rows, cols := src.rows, src.cols
	kx, ky := kernelX.data, kernelY.data
	hx, hy := len(kx)/2, len(ky)/2

	tmp := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		row := src.data[r*cols : (r+1)*cols]
		for c := 0; c < cols; c++ {
			var sum float32
			for k, w := range kx {
				sum += row[reflectIndex(c+k-hx, cols)] * w
			}
			tmp[r*cols+c] = sum
		}
	}

	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for k, w := range ky {
			srcRow := tmp[reflectIndex(r+k-hy, rows)*cols:]
			for c := 0; c < cols; c++ {
				out[r*cols+c] += srcRow[c] * w
			}
		}
	}

	ensureShape(dst, rows, cols)
	copy(dst.data, out)
}

func gaussianKernel(size int, sigma float64) Mat {
	k := NewMatWithSize(size, 1)
	half := size / 2
	var sum float64
	weights := make([]float64, size)
	for i := range weights {
		x := float64(i - half)
		weights[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += weights[i]
	}
	for i, w := range weights {
		k.data[i] = float32(w / sum)
	}
	return k
}

func median3x3(src Mat, dst *Mat) {
	rows, cols := src.rows, src.cols
	out := make([]float32, rows*cols)
	var window [9]float32
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			n := 0
			for dr := -1; dr <= 1; dr++ {
				rr := reflectIndex(r+dr, rows)
				for dc := -1; dc <= 1; dc++ {
					window[n] = src.data[rr*cols+reflectIndex(c+dc, cols)]
					n++
				}
			}
			// insertion sort is plenty for nine values
			for i := 1; i < 9; i++ {
				for j := i; j > 0 && window[j] < window[j-1]; j-- {
					window[j], window[j-1] = window[j-1], window[j]
				}
			}
			out[r*cols+c] = window[4]
		}
	}
	ensureShape(dst, rows, cols)
	copy(dst.data, out)
}

func absDiffTo(a, b Mat, dst *Mat) {
	ensureShape(dst, a.rows, a.cols)
	for i := range a.data {
		dst.data[i] = float32(math.Abs(float64(a.data[i] - b.data[i])))
	}
}

func thresholdTo(src Mat, dst *Mat, thresh, maxval float32) {
	ensureShape(dst, src.rows, src.cols)
	for i, v := range src.data {
		if v > thresh {
			dst.data[i] = maxval
		} else {
			dst.data[i] = 0
		}
	}
}

func nonZeroCount(src Mat) int {
	n := 0
	for _, v := range src.data {
		if v != 0 {
			n++
		}
	}
	return n
}

func copyMasked(src Mat, dst *Mat, mask Mat) {
	for i, m := range mask.data {
		if m != 0 {
			dst.data[i] = src.data[i]
		}
	}
}

func inRangeTo(src Mat, lower, upper float32, dst *Mat) {
	ensureShape(dst, src.rows, src.cols)
	for i, v := range src.data {
		if v >= lower && v <= upper {
			dst.data[i] = 1
		} else {
			dst.data[i] = 0
		}
	}
}

func meanStdDev(src Mat) (float64, float64) {
	if len(src.data) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range src.data {
		sum += float64(v)
	}
	mean := sum / float64(len(src.data))
	var sse float64
	for _, v := range src.data {
		d := float64(v) - mean
		sse += d * d
	}
	return mean, math.Sqrt(sse / float64(len(src.data)))
}

// ReadImage decodes a PNG or JPEG file into a grayscale [0, 1] Mat and
// returns the bit depth of the stored samples.
func ReadImage(path string) (Mat, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return Mat{}, 0, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Mat{}, 0, fmt.Errorf("decoding image: %w", err)
	}
	bitDepth := 8
	switch img.ColorModel() {
	case color.Gray16Model, color.RGBA64Model, color.NRGBA64Model:
		bitDepth = 16
	}

	b := img.Bounds()
	m := NewMatWithSize(b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum := (19595*r + 38470*g + 7471*bl + 1<<15) >> 16
			m.data[y*b.Dx()+x] = float32(lum) / 65535
		}
	}
	return m, bitDepth, nil
}
