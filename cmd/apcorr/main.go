package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	ac "apcorr/pkg/apcorr"
)

type options struct {
	configPath  string
	overlayPath string
	debayer     bool
	gridSize    int
	minSNR      float64
}

func main() {
	var opts options
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level")
	flag.StringVar(&opts.configPath, "config", "", "YAML aperture correction control file")
	flag.StringVar(&opts.overlayPath, "overlay", "", "write a JPEG correction map to this path")
	flag.BoolVar(&opts.debayer, "debayer", false, "debayer RGGB FITS data before detection")
	flag.IntVar(&opts.gridSize, "grid", 3, "print an N x N grid of corrections")
	flag.Float64Var(&opts.minSNR, "min-snr", ac.DefaultSelectorConfig().MinSNR, "minimum source S/N; <= 0 disables the cut")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: apcorr [flags] <image>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	dev, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(dev)
	defer zap.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, flag.Args(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		zap.S().Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, opts options) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: apcorr [flags] <image>")
	}
	inputFilePath := args[0]

	pipe := ac.DefaultPipelineOptions()
	if opts.configPath != "" {
		ctrl, err := ac.LoadControl(opts.configPath)
		if err != nil {
			return err
		}
		pipe.Control = ctrl
	}
	pipe.Selector.MinSNR = opts.minSNR

	fmt.Printf("Loading: %s\n", inputFilePath)
	exp, err := loadExposure(inputFilePath, opts.debayer)
	if err != nil {
		return err
	}
	defer exp.Image.Close()

	startTime := time.Now()
	res, err := ac.Process(ctx, exp, pipe, zap.S())
	if err != nil {
		return err
	}
	apc := res.Correction
	ctrl := apc.Control()

	fmt.Println()
	fmt.Printf("=== Aperture Correction (%.1fs) ===\n", time.Since(startTime).Seconds())
	fmt.Printf("  Image size:      %d x %d\n", exp.Width(), exp.Height())
	fmt.Printf("  Sources:         %d detected, %d selected\n", len(res.Detection.Sources), len(res.Selected))
	fmt.Printf("  Correction:      %s r=%g -> %s r=%g\n", ctrl.Algorithm1, ctrl.Radius1, ctrl.Algorithm2, ctrl.Radius2)
	fmt.Printf("  Surface:         %s order %d\n", ctrl.PolyStyle, ctrl.Order)
	for _, r := range apc.Ratings() {
		fmt.Printf("  %-32s %g\n", r.Name, r.Value)
	}
	if err := apc.Check(); err != nil {
		fmt.Printf("  Warning:         %v\n", err)
	}

	grid, err := apc.Grid(opts.gridSize)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("=== Correction Grid (%dx%d) ===\n", opts.gridSize, opts.gridSize)
	for _, row := range grid {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%7.4f", v)
		}
		fmt.Printf("  %s\n", strings.Join(cells, "  "))
	}
	fmt.Println("==============================")

	if opts.overlayPath != "" {
		if err := ac.RenderCorrectionMapFile(apc, opts.overlayPath); err != nil {
			return fmt.Errorf("rendering overlay: %w", err)
		}
		fmt.Printf("Overlay written to %s\n", opts.overlayPath)
	}
	return nil
}

func loadExposure(path string, debayer bool) (*ac.Exposure, error) {
	lowerPath := strings.ToLower(path)
	if strings.HasSuffix(lowerPath, ".fits") || strings.HasSuffix(lowerPath, ".fit") {
		fitsData, err := ac.ReadFits(path)
		if err != nil {
			return nil, fmt.Errorf("reading FITS: %w", err)
		}
		fmt.Printf("FITS loaded: %dx%d, %d-bit\n", fitsData.Width, fitsData.Height, fitsData.BitDepth)
		return ac.ExposureFromFits(fitsData, debayer), nil
	}

	img, bitDepth, err := ac.ReadImage(path)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Image loaded: %dx%d, %d-bit\n", img.Cols(), img.Rows(), bitDepth)
	return ac.ExposureFromImage(img, bitDepth), nil
}
