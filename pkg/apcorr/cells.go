package apcorr

import (
	"fmt"
	"image"
	"sort"
)

// CellParams configures the spatial cell grid.
type CellParams struct {
	SizeX, SizeY int
	// MaxCandidatesPerCell caps each cell, dropping the faintest candidates.
	// Values <= 0 mean no cap.
	MaxCandidatesPerCell int
}

// DefaultCellParams returns 256x256 pixel cells holding up to 5 candidates.
func DefaultCellParams() CellParams {
	return CellParams{SizeX: 256, SizeY: 256, MaxCandidatesPerCell: 5}
}

// CandidateStatus marks whether a candidate may be used.
type CandidateStatus int

const (
	CandidateUnknown CandidateStatus = iota
	CandidateGood
	CandidateBad
)

func (s CandidateStatus) String() string {
	switch s {
	case CandidateGood:
		return "good"
	case CandidateBad:
		return "bad"
	default:
		return "unknown"
	}
}

// Candidate is a source placed in a cell.
type Candidate struct {
	Source *Source
	Status CandidateStatus
	flux   float64
}

func (c *Candidate) X() float64 { return c.Source.Center.X }
func (c *Candidate) Y() float64 { return c.Source.Center.Y }

// Cell is one rectangle of a CellSet. Candidates are kept brightest first.
type Cell struct {
	Label      string
	Bounds     image.Rectangle
	candidates []*Candidate
}

// Candidates returns the candidates of the cell, skipping bad ones when
// ignoreBad is set.
func (c *Cell) Candidates(ignoreBad bool) []*Candidate {
	out := make([]*Candidate, 0, len(c.candidates))
	for _, cand := range c.candidates {
		if ignoreBad && cand.Status == CandidateBad {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// CellSet partitions an image into a grid of cells.
type CellSet struct {
	bounds image.Rectangle
	params CellParams
	nx, ny int
	cells  []*Cell
}

// NewCellSet creates an empty grid over a width x height image. Edge cells
// are truncated to the image.
func NewCellSet(width, height int, p CellParams) (*CellSet, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidControl, width, height)
	}
	if p.SizeX <= 0 || p.SizeY <= 0 {
		return nil, fmt.Errorf("%w: cell size %dx%d", ErrInvalidControl, p.SizeX, p.SizeY)
	}

	cs := &CellSet{
		bounds: image.Rect(0, 0, width, height),
		params: p,
		nx:     (width + p.SizeX - 1) / p.SizeX,
		ny:     (height + p.SizeY - 1) / p.SizeY,
	}
	cs.cells = make([]*Cell, 0, cs.nx*cs.ny)
	for j := 0; j < cs.ny; j++ {
		for i := 0; i < cs.nx; i++ {
			r := image.Rect(i*p.SizeX, j*p.SizeY, (i+1)*p.SizeX, (j+1)*p.SizeY).Intersect(cs.bounds)
			cs.cells = append(cs.cells, &Cell{Label: fmt.Sprintf("Cell %dx%d", i, j), Bounds: r})
		}
	}
	return cs, nil
}

// BuildCellSet creates a grid and inserts every source, ranked by fluxType.
func BuildCellSet(width, height int, sources []*Source, fluxType FluxType, p CellParams) (*CellSet, error) {
	cs, err := NewCellSet(width, height, p)
	if err != nil {
		return nil, err
	}
	for _, s := range sources {
		cs.Insert(s, fluxType)
	}
	return cs, nil
}

func (cs *CellSet) Bounds() image.Rectangle { return cs.bounds }
func (cs *CellSet) Cells() []*Cell          { return cs.cells }

// Insert places src in the cell containing its centroid. It returns false
// when the centroid is flagged or outside the image, or the candidate is fainter than
// everything a full cell holds.
func (cs *CellSet) Insert(src *Source, fluxType FluxType) bool {
	if !hasCentroid(src) || src.Center.X < 0 || src.Center.Y < 0 {
		return false
	}
	x, y := int(src.Center.X), int(src.Center.Y)
	if !image.Pt(x, y).In(cs.bounds) {
		return false
	}
	cell := cs.cells[(y/cs.params.SizeY)*cs.nx+x/cs.params.SizeX]

	cand := &Candidate{Source: src, flux: src.Flux(fluxType).Flux}
	idx := sort.Search(len(cell.candidates), func(i int) bool {
		return cell.candidates[i].flux < cand.flux
	})
	limit := cs.params.MaxCandidatesPerCell
	if limit > 0 && idx >= limit {
		return false
	}
	cell.candidates = append(cell.candidates, nil)
	copy(cell.candidates[idx+1:], cell.candidates[idx:])
	cell.candidates[idx] = cand
	if limit > 0 && len(cell.candidates) > limit {
		cell.candidates = cell.candidates[:limit]
	}
	return true
}

// Candidates returns all candidates in cell order, skipping bad ones when
// ignoreBad is set.
func (cs *CellSet) Candidates(ignoreBad bool) []*Candidate {
	var out []*Candidate
	for _, c := range cs.cells {
		out = append(out, c.Candidates(ignoreBad)...)
	}
	return out
}
