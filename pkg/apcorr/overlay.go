package apcorr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// overlayWidth is the rendered width in pixels; height keeps the aspect.
const overlayWidth = 800

// RenderCorrectionMapFile renders the correction map and writes it as JPEG.
func RenderCorrectionMapFile(apc *ApertureCorrection, outputPath string) (err error) {
	img, err := RenderCorrectionMap(apc)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close overlay file: %w", cerr)
		}
	}()

	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

// RenderCorrectionMapBytes renders the correction map as JPEG bytes.
func RenderCorrectionMapBytes(apc *ApertureCorrection) ([]byte, error) {
	img, err := RenderCorrectionMap(apc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderCorrectionMap draws the correction surface as a heat map with the
// sample stars marked and a summary line underneath.
func RenderCorrectionMap(apc *ApertureCorrection) (*image.RGBA, error) {
	if apc == nil {
		return nil, errors.New("no aperture correction")
	}
	width, height := apc.Size()

	scale := float64(overlayWidth) / float64(width)
	imgW := overlayWidth
	imgH := max(int(float64(height)*scale), 100)
	const summaryH = 60
	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH+summaryH))

	values := make([]float64, imgW*imgH)
	lo, hi := math.Inf(1), math.Inf(-1)
	for py := 0; py < imgH; py++ {
		for px := 0; px < imgW; px++ {
			v, _, err := apc.ComputeAt((float64(px)+0.5)/scale, (float64(py)+0.5)/scale)
			if err != nil {
				return nil, err
			}
			values[py*imgW+px] = v
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	span := hi - lo
	for py := 0; py < imgH; py++ {
		for px := 0; px < imgW; px++ {
			t := 0.5
			if span > 0 {
				t = (values[py*imgW+px] - lo) / span
			}
			img.SetRGBA(px, py, correctionColor(t))
		}
	}
	for y := imgH; y < imgH+summaryH; y++ {
		for x := 0; x < imgW; x++ {
			img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	face := basicfont.Face7x13
	marker := color.RGBA{255, 255, 255, 220}
	for _, s := range apc.Samples() {
		cx, cy := int(s.X*scale), int(s.Y*scale)
		drawCircle(img, cx, cy, 4, marker)
		drawText(img, face, fmt.Sprintf("%.3f", s.ApCorr), cx+6, cy+4, marker)
	}

	summaryColor := color.RGBA{220, 220, 220, 255}
	ctrl := apc.Control()
	drawText(img, face, fmt.Sprintf("%s r=%g -> %s r=%g  %s order %d  n=%d",
		ctrl.Algorithm1, ctrl.Radius1, ctrl.Algorithm2, ctrl.Radius2, ctrl.PolyStyle, ctrl.Order, len(apc.samples)),
		10, imgH+15, summaryColor)
	status := ""
	if err := apc.Check(); err != nil {
		status = "  [" + err.Error() + "]"
	}
	drawText(img, face, fmt.Sprintf("range %.4f .. %.4f%s", lo, hi, status), 10, imgH+33, summaryColor)

	return img, nil
}

// correctionColor maps t in [0, 1] from blue through green to red.
func correctionColor(t float64) color.RGBA {
	t = clampFloat64(t, 0, 1)
	if t < 0.5 {
		u := t / 0.5
		return color.RGBA{20, uint8(60 + u*120), uint8(200 - u*160), 255}
	}
	u := (t - 0.5) / 0.5
	return color.RGBA{uint8(20 + u*220), uint8(180 - u*140), 40, 255}
}

func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawCircle draws a circle outline using the midpoint algorithm.
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	x, y, err := radius, 0, 0
	for x >= y {
		for _, p := range [8][2]int{{x, y}, {y, x}, {-y, x}, {-x, y}, {-x, -y}, {-y, -x}, {y, -x}, {x, -y}} {
			img.Set(cx+p[0], cy+p[1], c)
		}
		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}
