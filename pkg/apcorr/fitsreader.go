package apcorr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	fitsCardSize  = 80
	fitsBlockSize = 2880
)

// FitsMetadata holds the primary header cards, keyed by upper-case keyword.
type FitsMetadata struct {
	Headers map[string]string
}

func NewFitsMetadata() *FitsMetadata {
	return &FitsMetadata{Headers: make(map[string]string)}
}

func (m *FitsMetadata) GetString(key string) string {
	return m.Headers[strings.ToUpper(key)]
}

func (m *FitsMetadata) GetDouble(key string) (float64, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (m *FitsMetadata) GetInt(key string) (int, bool) {
	d, ok := m.GetDouble(key)
	if !ok || d != math.Trunc(d) {
		return 0, false
	}
	return int(d), true
}

func (m *FitsMetadata) ObjectName() string { return m.GetString("OBJECT") }
func (m *FitsMetadata) Filter() string     { return m.GetString("FILTER") }

func (m *FitsMetadata) ExposureTime() (float64, bool) {
	if v, ok := m.GetDouble("EXPTIME"); ok {
		return v, true
	}
	return m.GetDouble("EXPOSURE")
}

// Gain returns the detector gain in electrons per ADU (GAIN or EGAIN).
func (m *FitsMetadata) Gain() (float64, bool) {
	if v, ok := m.GetDouble("GAIN"); ok && v > 0 {
		return v, true
	}
	if v, ok := m.GetDouble("EGAIN"); ok && v > 0 {
		return v, true
	}
	return 0, false
}

// FitsImageData is a decoded primary image, clamped to unsigned 16 bits.
type FitsImageData struct {
	Pixels   []uint16
	Width    int
	Height   int
	BitDepth int
	Metadata *FitsMetadata
}

// ReadFits reads headers and pixel data from a FITS file.
func ReadFits(filePath string) (*FitsImageData, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return decodeFits(f)
}

// ReadFitsFromBytes reads headers and pixel data from an in-memory FITS file.
func ReadFitsFromBytes(data []byte) (*FitsImageData, error) {
	return decodeFits(bytes.NewReader(data))
}

type fitsLayout struct {
	bitpix, naxis, width, height int
	bzero, bscale                float64
}

func readFitsHeader(r io.Reader) (*FitsMetadata, fitsLayout, error) {
	layout := fitsLayout{bscale: 1}
	meta := NewFitsMetadata()
	block := make([]byte, fitsBlockSize)

	for {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, layout, fmt.Errorf("reading FITS header block: %w", err)
		}
		for off := 0; off < fitsBlockSize; off += fitsCardSize {
			card := string(block[off : off+fitsCardSize])
			keyword := strings.TrimSpace(card[:8])
			if keyword == "END" {
				return meta, layout, nil
			}
			if card[8] != '=' || card[9] != ' ' || keyword == "" {
				continue
			}

			raw := fitsValueField(card[10:])
			if v := parseFitsValue(raw); v != "" {
				meta.Headers[strings.ToUpper(keyword)] = v
			}
			switch keyword {
			case "BITPIX":
				layout.bitpix, _ = strconv.Atoi(raw)
			case "NAXIS":
				layout.naxis, _ = strconv.Atoi(raw)
			case "NAXIS1":
				layout.width, _ = strconv.Atoi(raw)
			case "NAXIS2":
				layout.height, _ = strconv.Atoi(raw)
			case "BZERO":
				layout.bzero, _ = strconv.ParseFloat(raw, 64)
			case "BSCALE":
				layout.bscale, _ = strconv.ParseFloat(raw, 64)
			}
		}
	}
}

func decodeFits(r io.Reader) (*FitsImageData, error) {
	meta, layout, err := readFitsHeader(r)
	if err != nil {
		return nil, err
	}
	if layout.naxis < 2 || layout.width <= 0 || layout.height <= 0 {
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", layout.naxis, layout.width, layout.height)
	}

	var sample func(b []byte) float64
	switch layout.bitpix {
	case 8:
		sample = func(b []byte) float64 { return float64(b[0]) }
	case 16:
		sample = func(b []byte) float64 { return float64(int16(binary.BigEndian.Uint16(b))) }
	case 32:
		sample = func(b []byte) float64 { return float64(int32(binary.BigEndian.Uint32(b))) }
	case -32:
		sample = func(b []byte) float64 { return float64(math.Float32frombits(binary.BigEndian.Uint32(b))) }
	default:
		return nil, fmt.Errorf("unsupported BITPIX: %d", layout.bitpix)
	}

	bytesPerPixel := abs(layout.bitpix) / 8
	numPixels := layout.width * layout.height
	raw := make([]byte, numPixels*bytesPerPixel)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading %d-bit pixel data: %w", layout.bitpix, err)
	}

	pixels := make([]uint16, numPixels)
	for i := range pixels {
		v := sample(raw[i*bytesPerPixel:])*layout.bscale + layout.bzero
		pixels[i] = uint16(clampFloat64(v, 0, 65535))
	}

	bitDepth := 16
	if layout.bitpix == 8 {
		bitDepth = 8
	}
	return &FitsImageData{
		Pixels:   pixels,
		Width:    layout.width,
		Height:   layout.height,
		BitDepth: bitDepth,
		Metadata: meta,
	}, nil
}

// fitsValueField strips the trailing comment from the value field of a card.
// A quoted string ends at the first quote that is not doubled.
func fitsValueField(field string) string {
	field = strings.TrimSpace(field)
	if !strings.HasPrefix(field, "'") {
		return strings.TrimSpace(strings.SplitN(field, "/", 2)[0])
	}
	for i := 1; i < len(field); i++ {
		if field[i] != '\'' {
			continue
		}
		if i+1 < len(field) && field[i+1] == '\'' {
			i++
			continue
		}
		return field[:i+1]
	}
	return field
}

func parseFitsValue(raw string) string {
	switch {
	case raw == "":
		return ""
	case raw == "T":
		return "True"
	case raw == "F":
		return "False"
	case strings.HasPrefix(raw, "'"):
		if end := strings.LastIndex(raw, "'"); end > 0 {
			return strings.ReplaceAll(strings.TrimRight(raw[1:end], " "), "''", "'")
		}
		return strings.Trim(raw, "' ")
	}
	return raw
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
