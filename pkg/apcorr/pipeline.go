package apcorr

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// PipelineOptions configures Process.
type PipelineOptions struct {
	Detector *DetectorParams
	Selector SelectorConfig
	Cells    CellParams
	Control  Control
	// PSFHalfWidth is the fit window used to fill Source.PsfFlux.
	PSFHalfWidth float64
}

// DefaultPipelineOptions returns the defaults of every stage.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Detector:     NewDetectorParams(),
		Selector:     DefaultSelectorConfig(),
		Cells:        DefaultCellParams(),
		Control:      DefaultControl(),
		PSFHalfWidth: 8,
	}
}

// Result holds the intermediate products of Process.
type Result struct {
	Detection  *DetectionResult
	Selected   []*Source
	Cells      *CellSet
	Correction *ApertureCorrection
}

// Process detects sources on exp, fits their PSF flux, selects usable
// sources into spatial cells and computes the aperture correction.
func Process(ctx context.Context, exp *Exposure, opts PipelineOptions, log *zap.SugaredLogger) (*Result, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := opts.Control.Validate(); err != nil {
		return nil, err
	}

	det, err := Detect(ctx, exp, opts.Detector)
	if err != nil {
		return nil, fmt.Errorf("detecting stars: %w", err)
	}
	m := det.Metrics
	log.Infof("Detected %d of %d structures (small=%d border=%d distorted=%d degenerate=%d saturated=%d faint=%d off-centre=%d flat=%d)",
		m.TotalDetected, m.StructureCandidates, m.TooSmall, m.OnBorder, m.TooDistorted, m.Degenerate,
		m.Saturated, m.LowSensitivity, m.NotCentered, m.TooFlat)

	if err := measurePSFs(ctx, exp, det.Sources, opts.PSFHalfWidth); err != nil {
		return nil, err
	}

	res := &Result{Detection: det}
	res.Selected = SelectSources(det.Sources, opts.Selector)
	log.Infof("Selected %d of %d sources on %s flux (S/N > %g)",
		len(res.Selected), len(det.Sources), opts.Selector.FluxType, opts.Selector.MinSNR)

	res.Cells, err = BuildCellSet(exp.Width(), exp.Height(), res.Selected, opts.Selector.FluxType, opts.Cells)
	if err != nil {
		return nil, err
	}
	res.Correction, err = NewApertureCorrection(exp, res.Cells, opts.Control, log)
	if err != nil {
		return res, err
	}
	return res, nil
}

// measurePSFs fits the PSF of every source on at most GOMAXPROCS goroutines.
// Workers stop picking up sources once ctx is done.
func measurePSFs(ctx context.Context, exp *Exposure, sources []*Source, halfWidth float64) error {
	queue := make(chan *Source)
	var wg sync.WaitGroup
	for i := 0; i < min(runtime.GOMAXPROCS(0), len(sources)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range queue {
				if ctx.Err() != nil {
					continue
				}
				MeasurePSF(exp, s, halfWidth)
			}
		}()
	}

feed:
	for _, s := range sources {
		select {
		case queue <- s:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()
	return ctx.Err()
}
