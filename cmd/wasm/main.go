//go:build js && wasm

package main

import (
	"context"
	"syscall/js"

	ac "apcorr/pkg/apcorr"
)

var lastCorrection *ac.ApertureCorrection

func main() {
	js.Global().Set("computeApCorr", js.FuncOf(computeApCorr))
	js.Global().Set("renderCorrectionMap", js.FuncOf(renderCorrectionMap))
	select {} // block forever
}

// computeApCorr(fileBytes, options) with options {debayer, minSNR, grid, config}.
// config is a YAML control document.
func computeApCorr(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("usage: computeApCorr(fileBytes, options)")
	}

	jsBytes := args[0]
	fileBytes := make([]byte, jsBytes.Get("length").Int())
	js.CopyBytesToGo(fileBytes, jsBytes)

	pipe := ac.DefaultPipelineOptions()
	debayer := false
	gridSize := 3
	if len(args) >= 2 && args[1].Type() == js.TypeObject {
		o := args[1]
		if v := o.Get("debayer"); v.Type() == js.TypeBoolean {
			debayer = v.Bool()
		}
		if v := o.Get("minSNR"); v.Type() == js.TypeNumber {
			pipe.Selector.MinSNR = v.Float()
		}
		if v := o.Get("grid"); v.Type() == js.TypeNumber {
			gridSize = v.Int()
		}
		if v := o.Get("config"); v.Type() == js.TypeString {
			ctrl, err := ac.ParseControl([]byte(v.String()))
			if err != nil {
				return errorResult("config error: " + err.Error())
			}
			pipe.Control = ctrl
		}
	}

	fitsData, err := ac.ReadFitsFromBytes(fileBytes)
	if err != nil {
		return errorResult("FITS parse error: " + err.Error())
	}
	exp := ac.ExposureFromFits(fitsData, debayer)
	defer exp.Image.Close()

	res, err := ac.Process(context.Background(), exp, pipe, nil)
	if err != nil {
		return errorResult("aperture correction error: " + err.Error())
	}
	apc := res.Correction
	lastCorrection = apc

	cx, cy := float64(exp.Width())/2, float64(exp.Height())/2
	value, uncertainty, err := apc.ComputeAt(cx, cy)
	if err != nil {
		return errorResult(err.Error())
	}
	grid, err := apc.Grid(gridSize)
	if err != nil {
		return errorResult(err.Error())
	}

	ratings := make(map[string]interface{}, 3)
	for _, r := range apc.Ratings() {
		ratings[r.Name] = r.Value
	}
	jsGrid := make([]interface{}, len(grid))
	for j, row := range grid {
		jsRow := make([]interface{}, len(row))
		for i, v := range row {
			jsRow[i] = v
		}
		jsGrid[j] = jsRow
	}
	samples := apc.Samples()
	jsSamples := make([]interface{}, len(samples))
	for i, s := range samples {
		jsSamples[i] = map[string]interface{}{
			"x":         s.X,
			"y":         s.Y,
			"flux1":     s.Flux1.Flux,
			"flux2":     s.Flux2.Flux,
			"apCorr":    s.ApCorr,
			"apCorrErr": s.ApCorrErr,
		}
	}

	result := map[string]interface{}{
		"width":      exp.Width(),
		"height":     exp.Height(),
		"detected":   len(res.Detection.Sources),
		"selected":   len(res.Selected),
		"centre":     value,
		"centreErr":  uncertainty,
		"ratings":    ratings,
		"grid":       jsGrid,
		"samples":    jsSamples,
		"noiseSigma": res.Detection.NoiseSigma,
	}
	if err := apc.Check(); err != nil {
		result["warning"] = err.Error()
	}
	return js.ValueOf(result)
}

func renderCorrectionMap(this js.Value, args []js.Value) interface{} {
	if lastCorrection == nil {
		return js.Null()
	}

	jpegBytes, err := ac.RenderCorrectionMapBytes(lastCorrection)
	if err != nil {
		return js.Null()
	}

	uint8Array := js.Global().Get("Uint8Array").New(len(jpegBytes))
	js.CopyBytesToJS(uint8Array, jpegBytes)
	return uint8Array
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}
