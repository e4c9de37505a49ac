package tiledflow

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// WeightMask is the blend weight of a single tile. It peaks at the tile centre
// and decays radially towards the border. The same mask is used for every tile
// of a grid; only its placement differs.
//
// A WeightMask is immutable once built, and may be shared between goroutines.
type WeightMask struct {
	size  Size
	sigma float64
	m     *mat.Dense
}

// NewWeightMask computes the Gaussian density of the normalized radial distance
// from the patch centre:
//
//	h, w = i/H, j/W
//	r    = sqrt((h-0.5)² + (w-0.5)²) / sigma
//	mask = exp(-r²/2) / (sigma * sqrt(2π))
//
// Smaller sigma concentrates the weight in the centre of each tile.
func NewWeightMask(patch Size, sigma float64) (*WeightMask, error) {
	if patch.H <= 0 || patch.W <= 0 {
		return nil, fmt.Errorf("%w: patch size %v must be positive", ErrInvalidConfig, patch)
	}
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return nil, fmt.Errorf("%w: sigma %v must be a positive finite number", ErrInvalidConfig, sigma)
	}
	denorm := 1 / (sigma * math.Sqrt(2*math.Pi))
	data := make([]float64, patch.Area())
	for i := 0; i < patch.H; i++ {
		h := float64(i)/float64(patch.H) - 0.5
		for j := 0; j < patch.W; j++ {
			w := float64(j)/float64(patch.W) - 0.5
			r := math.Sqrt(h*h+w*w) / sigma
			data[i*patch.W+j] = denorm * math.Exp(-0.5*r*r)
		}
	}
	return &WeightMask{
		size:  patch,
		sigma: sigma,
		m:     mat.NewDense(patch.H, patch.W, data),
	}, nil
}

// Size returns the patch size the mask was built for
func (wm *WeightMask) Size() Size {
	return wm.size
}

// Sigma returns the blend sharpness the mask was built for
func (wm *WeightMask) Sigma() float64 {
	return wm.sigma
}

// At returns the weight at row i, column j of the patch
func (wm *WeightMask) At(i, j int) float64 {
	return wm.m.At(i, j)
}

// Matrix returns a read-only view of the mask
func (wm *WeightMask) Matrix() mat.Matrix {
	return wm.m
}

// Peak returns the largest weight, which is always at the patch centre
func (wm *WeightMask) Peak() float64 {
	return floats.Max(wm.m.RawMatrix().Data)
}

// Min returns the smallest weight, which is always in a corner of the patch
func (wm *WeightMask) Min() float64 {
	return floats.Min(wm.m.RawMatrix().Data)
}

// Centre returns the weight at (H/2, W/2)
func (wm *WeightMask) Centre() float64 {
	return wm.m.At(wm.size.H/2, wm.size.W/2)
}

// CentreEdgeRatio returns the weight at the centre divided by the weight at the
// middle of the top edge. It grows as sigma shrinks.
// The result may be +Inf when the edge weight underflows to zero.
func (wm *WeightMask) CentreEdgeRatio() float64 {
	return wm.Centre() / wm.m.At(0, wm.size.W/2)
}

// ScatterWeights adds the mask into a zeroed image-sized canvas at every origin
// of the grid, and returns the canvas. Every pixel of the result is positive for
// a grid that covers the image, unless the weights underflow.
func ScatterWeights(image Size, grid Grid, wm *WeightMask) (*mat.Dense, error) {
	canvas := mat.NewDense(image.H, image.W, nil)
	for _, o := range grid {
		if err := addAt(canvas, o, wm.m); err != nil {
			return nil, err
		}
	}
	return canvas, nil
}

// addAt adds src into dst with its top-left corner at origin
func addAt(dst *mat.Dense, o Origin, src mat.Matrix) error {
	dr, dc := dst.Dims()
	sr, sc := src.Dims()
	if o.H < 0 || o.W < 0 || o.H+sr > dr || o.W+sc > dc {
		return fmt.Errorf("%w: %dx%d tile at %v outside %dx%d canvas", ErrInvalidConfig, sr, sc, o, dr, dc)
	}
	view := dst.Slice(o.H, o.H+sr, o.W, o.W+sc).(*mat.Dense)
	view.Add(view, src)
	return nil
}
