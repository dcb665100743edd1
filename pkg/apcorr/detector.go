/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package apcorr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DetectorParams contains the star detection settings.
type DetectorParams struct {
	HotpixelFiltering       bool
	HotpixelThreshold       float64
	NoiseReductionRadius    int
	NoiseClippingMultiplier float64
	StarClippingMultiplier  float64
	StructureLayers         int
	MinimumBoundingBoxSize  int
	BackgroundBoxExpansion  int
	Sensitivity             float64
	PeakResponse            float64
	MaxDistortion           float64
	StarCenterTolerance     float64
	SaturationThreshold     float64
}

// NewDetectorParams returns the default detection settings.
func NewDetectorParams() *DetectorParams {
	return &DetectorParams{
		HotpixelFiltering:       true,
		HotpixelThreshold:       0.001,
		NoiseReductionRadius:    3,
		NoiseClippingMultiplier: 4.0,
		StarClippingMultiplier:  2.0,
		StructureLayers:         4,
		MinimumBoundingBoxSize:  5,
		BackgroundBoxExpansion:  3,
		Sensitivity:             10.0,
		PeakResponse:            0.75,
		MaxDistortion:           0.5,
		StarCenterTolerance:     0.3,
		SaturationThreshold:     0.99,
	}
}

// DetectorMetrics counts why structure candidates were rejected.
type DetectorMetrics struct {
	StructureCandidates int
	TotalDetected       int
	TooSmall            int
	OnBorder            int
	TooDistorted        int
	Degenerate          int
	Saturated           int
	LowSensitivity      int
	NotCentered         int
	TooFlat             int
	HFRAnalysisFailed   int
	HotpixelCount       int64
}

// DetectionResult is the output of Detect.
type DetectionResult struct {
	Sources    []*Source
	Metrics    DetectorMetrics
	NoiseSigma float64
}

// Detect finds star-like sources in the exposure. It measures the centroid,
// local background, peak, half-flux radius and isophotal flux of each source
// and fills Source.ApFlux with the isophotal flux. The exposure image is not
// modified.
func Detect(ctx context.Context, exp *Exposure, p *DetectorParams) (*DetectionResult, error) {
	if exp == nil || exp.Image.Empty() {
		return nil, errors.New("detect: empty exposure")
	}
	if p == nil {
		p = NewDetectorParams()
	}

	var metrics DetectorMetrics

	work := exp.Image.Clone()
	defer work.Close()
	if p.HotpixelFiltering {
		metrics.HotpixelCount = filterHotpixels(&work, p.HotpixelThreshold)
	}
	rawNoise := EstimateNoise(work, p.NoiseClippingMultiplier, 0.00001, 5)

	structure := work.Clone()
	defer structure.Close()
	if p.NoiseReductionRadius > 0 {
		ConvolveGaussian(&structure, &structure, p.NoiseReductionRadius*2+1)
	}
	smoothedNoise := EstimateNoise(structure, p.NoiseClippingMultiplier, 0.00001, 5)

	// Remove the large-scale background so only compact structures remain
	if p.StructureLayers > 0 {
		large := SmoothLargeScale(structure, p.StructureLayers)
		SubtractClamped(&structure, large)
		large.Close()
		ConvolveGaussian(&structure, &structure, p.StructureLayers*2+1)
	}

	threshold := Median(structure) + p.NoiseClippingMultiplier*smoothedNoise.Sigma
	thresholdTo(structure, &structure, float32(threshold), 1.0)

	regions, err := scanRegions(ctx, structure)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	d := &detection{img: work, p: p, noiseSigma: rawNoise.Sigma, gain: exp.Gain, metrics: &metrics}
	sources := make([]*Source, 0, len(regions))
	for _, reg := range regions {
		metrics.StructureCandidates++
		if src := d.evaluate(reg); src != nil {
			metrics.TotalDetected++
			src.ID = len(sources) + 1
			sources = append(sources, src)
		}
	}

	return &DetectionResult{Sources: sources, Metrics: metrics, NoiseSigma: rawNoise.Sigma}, nil
}

// filterHotpixels replaces pixels deviating from their 3x3 median by more
// than threshold with that median and returns how many were replaced.
func filterHotpixels(img *Mat, threshold float64) int64 {
	blurred := NewMat()
	defer blurred.Close()
	diff := NewMat()
	defer diff.Close()
	mask := NewMat()
	defer mask.Close()

	median3x3(*img, &blurred)
	absDiffTo(*img, blurred, &diff)
	thresholdTo(diff, &mask, float32(threshold), 1.0)
	n := int64(nonZeroCount(mask))
	copyMasked(blurred, img, mask)
	return n
}

type region struct {
	points []image.Point
	bounds image.Rectangle
}

// scanRegions extracts 4-connected regions of set pixels. The binary map is
// consumed.
func scanRegions(ctx context.Context, binary Mat) ([]region, error) {
	width, height := binary.Cols(), binary.Rows()
	data := binary.DataFloat32()

	var regions []region
	stack := make([]image.Point, 0, 256)
	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < width; x++ {
			if data[y*width+x] < 0.5 {
				continue
			}
			reg := region{bounds: image.Rect(x, y, x+1, y+1)}
			data[y*width+x] = 0
			stack = append(stack[:0], image.Pt(x, y))
			for len(stack) > 0 {
				pt := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				reg.points = append(reg.points, pt)
				reg.bounds = reg.bounds.Union(image.Rect(pt.X, pt.Y, pt.X+1, pt.Y+1))

				for _, n := range [4]image.Point{{pt.X - 1, pt.Y}, {pt.X + 1, pt.Y}, {pt.X, pt.Y - 1}, {pt.X, pt.Y + 1}} {
					if n.X < 0 || n.Y < 0 || n.X >= width || n.Y >= height {
						continue
					}
					if data[n.Y*width+n.X] >= 0.5 {
						data[n.Y*width+n.X] = 0
						stack = append(stack, n)
					}
				}
			}
			regions = append(regions, reg)
		}
	}
	return regions, nil
}

type detection struct {
	img        Mat
	p          *DetectorParams
	noiseSigma float64
	gain       float64
	metrics    *DetectorMetrics
}

func (d *detection) evaluate(reg region) *Source {
	p, b := d.p, reg.bounds
	if b.Dx() < p.MinimumBoundingBoxSize || b.Dy() < p.MinimumBoundingBoxSize {
		d.metrics.TooSmall++
		return nil
	}
	if b.Min.X == 0 || b.Min.Y == 0 || b.Max.X >= d.img.Cols() || b.Max.Y >= d.img.Rows() {
		d.metrics.OnBorder++
		return nil
	}
	side := math.Max(float64(b.Dx()), float64(b.Dy()))
	if float64(len(reg.points))/(side*side) < p.MaxDistortion {
		d.metrics.TooDistorted++
		return nil
	}

	background := d.localBackground(b)
	clip := background + p.StarClippingMultiplier*d.noiseSigma

	width := d.img.Cols()
	data := d.img.DataFloat32()
	var sx, sy, flux, peak float64
	starPixels := make([]float64, 0, len(reg.points))
	for _, pt := range reg.points {
		v := float64(data[pt.Y*width+pt.X])
		if v <= clip {
			continue
		}
		v -= background
		sx += v * float64(pt.X)
		sy += v * float64(pt.Y)
		flux += v
		peak = math.Max(peak, v)
		starPixels = append(starPixels, v)
	}
	if len(starPixels) <= 1 || flux <= 0 {
		d.metrics.Degenerate++
		return nil
	}
	if background+peak >= p.SaturationThreshold {
		d.metrics.Saturated++
		return nil
	}

	meanFlux := flux / float64(len(reg.points))
	if (peak-(1-p.PeakResponse)*meanFlux)/d.noiseSigma <= p.Sensitivity {
		d.metrics.LowSensitivity++
		return nil
	}

	center := Point2d{X: sx / flux, Y: sy / flux}
	if !isCentered(center, b, p.StarCenterTolerance) {
		d.metrics.NotCentered++
		return nil
	}

	sort.Float64s(starPixels)
	if stat.Quantile(0.5, stat.Empirical, starPixels, nil) >= p.PeakResponse*peak {
		d.metrics.TooFlat++
		return nil
	}

	src := &Source{
		Center:      center,
		BoundingBox: b,
		Background:  background,
		Peak:        peak,
		ApFlux: FluxMeasurement{
			Flux:    flux,
			FluxErr: math.Sqrt(flux/d.gain + float64(len(starPixels))*d.noiseSigma*d.noiseSigma),
		},
		PsfFlux: FluxMeasurement{Flag: true},
	}
	if !d.measureHFR(src, clip-background) {
		d.metrics.HFRAnalysisFailed++
		return nil
	}
	return src
}

// localBackground is the median of the ring of pixels between the bounding
// box and the box expanded by BackgroundBoxExpansion.
func (d *detection) localBackground(b image.Rectangle) float64 {
	outer := b.Inset(-d.p.BackgroundBoxExpansion).Intersect(image.Rect(0, 0, d.img.Cols(), d.img.Rows()))
	width := d.img.Cols()
	data := d.img.DataFloat32()

	ring := make([]float64, 0, outer.Dx()*outer.Dy()-b.Dx()*b.Dy())
	for y := outer.Min.Y; y < outer.Max.Y; y++ {
		for x := outer.Min.X; x < outer.Max.X; x++ {
			if image.Pt(x, y).In(b) {
				continue
			}
			ring = append(ring, float64(data[y*width+x]))
		}
	}
	if len(ring) == 0 {
		return 0
	}
	sort.Float64s(ring)
	return stat.Quantile(0.5, stat.Empirical, ring, nil)
}

// measureHFR computes the half-flux radius as the flux-weighted mean distance
// from the centroid over the bounding box.
func (d *detection) measureHFR(src *Source, noiseThreshold float64) bool {
	var total, weighted float64
	b := src.BoundingBox
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := BilinearSample(d.img, float64(x), float64(y)) - src.Background - noiseThreshold
			if v <= 0 {
				continue
			}
			dist := math.Hypot(float64(x)-src.Center.X, float64(y)-src.Center.Y)
			weighted += v * dist
			total += v
		}
	}
	if total <= 0 {
		return false
	}
	src.HFR = weighted / total
	return true
}

func isCentered(c Point2d, box image.Rectangle, tolerance float64) bool {
	tw := float64(box.Dx()) * tolerance
	th := float64(box.Dy()) * tolerance
	minX := float64(box.Min.X) + (float64(box.Dx())-tw)/2
	minY := float64(box.Min.Y) + (float64(box.Dy())-th)/2
	return c.X >= minX && c.X <= minX+tw && c.Y >= minY && c.Y <= minY+th
}
