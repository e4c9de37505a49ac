// Package evaluate measures the accuracy of a predicted flow field against ground truth.
//
// Dense benchmarks (Sintel, FlyingThings3D) report the end-point error averaged
// over every pixel of every image, plus the fraction of pixels within 1, 3 and 5
// pixels of the truth. Sparse benchmarks (KITTI) only score pixels marked valid,
// average the end-point error per image, and report the percentage of outliers:
// pixels whose error exceeds both 3 pixels and 5% of the true flow magnitude.
package evaluate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrShape indicates fields of different lengths
var ErrShape = errors.New("evaluate: fields have different sizes")

// Flow is one flow field as two planes of equal length
type Flow struct {
	U []float64
	V []float64
}

// Len returns the number of pixels
func (f Flow) Len() int {
	return len(f.U)
}

func (f Flow) check() error {
	if len(f.U) != len(f.V) {
		return fmt.Errorf("%w: %d horizontal vs %d vertical components", ErrShape, len(f.U), len(f.V))
	}
	return nil
}

// EPE returns the per-pixel end-point error between pred and gt
func EPE(pred, gt Flow) ([]float64, error) {
	if err := pred.check(); err != nil {
		return nil, err
	}
	if err := gt.check(); err != nil {
		return nil, err
	}
	if pred.Len() != gt.Len() {
		return nil, fmt.Errorf("%w: prediction has %d pixels, ground truth %d", ErrShape, pred.Len(), gt.Len())
	}
	epe := make([]float64, pred.Len())
	for i := range epe {
		epe[i] = math.Hypot(pred.U[i]-gt.U[i], pred.V[i]-gt.V[i])
	}
	return epe, nil
}

// Dense summarizes the end-point error of a dense benchmark
type Dense struct {
	EPE    float64 `json:"epe"`
	PX1    float64 `json:"1px"`
	PX3    float64 `json:"3px"`
	PX5    float64 `json:"5px"`
	Pixels int     `json:"pixels"`
}

// Summarize computes the dense statistics of a list of per-pixel errors
func Summarize(epe []float64) Dense {
	if len(epe) == 0 {
		return Dense{}
	}
	var px1, px3, px5 int
	for _, e := range epe {
		if e < 1 {
			px1++
		}
		if e < 3 {
			px3++
		}
		if e < 5 {
			px5++
		}
	}
	n := float64(len(epe))
	return Dense{
		EPE:    stat.Mean(epe, nil),
		PX1:    float64(px1) / n,
		PX3:    float64(px3) / n,
		PX5:    float64(px5) / n,
		Pixels: len(epe),
	}
}

// Sparse is the score of one image of a sparse benchmark
type Sparse struct {
	EPE      float64 // Mean end-point error over valid pixels
	Outliers int     // Valid pixels with error > 3 and error/|gt| > 0.05
	Valid    int     // Number of valid pixels
}

// KITTI scores pred against gt over the pixels where valid >= 0.5
func KITTI(pred, gt Flow, valid []float64) (Sparse, error) {
	epe, err := EPE(pred, gt)
	if err != nil {
		return Sparse{}, err
	}
	if len(valid) != len(epe) {
		return Sparse{}, fmt.Errorf("%w: valid mask has %d pixels, flow %d", ErrShape, len(valid), len(epe))
	}
	var s Sparse
	scored := make([]float64, 0, len(epe))
	for i, e := range epe {
		if valid[i] < 0.5 {
			continue
		}
		scored = append(scored, e)
		mag := math.Hypot(gt.U[i], gt.V[i])
		if e > 3 && e/mag > 0.05 {
			s.Outliers++
		}
	}
	s.Valid = len(scored)
	if s.Valid > 0 {
		s.EPE = stat.Mean(scored, nil)
	}
	return s, nil
}

// Accumulator aggregates scores over a dataset.
// Dense and sparse images may be mixed; each contributes to its own report.
type Accumulator struct {
	dense      []float64
	sparseEPE  []float64
	outliers   int
	validTotal int
}

// AddDense adds one densely annotated image
func (a *Accumulator) AddDense(pred, gt Flow) error {
	epe, err := EPE(pred, gt)
	if err != nil {
		return err
	}
	a.dense = append(a.dense, epe...)
	return nil
}

// AddSparse adds one sparsely annotated image. Images without valid pixels are ignored.
func (a *Accumulator) AddSparse(pred, gt Flow, valid []float64) error {
	s, err := KITTI(pred, gt, valid)
	if err != nil {
		return err
	}
	if s.Valid == 0 {
		return nil
	}
	a.sparseEPE = append(a.sparseEPE, s.EPE)
	a.outliers += s.Outliers
	a.validTotal += s.Valid
	return nil
}

// Report is the dataset-level result
type Report struct {
	Dense      Dense   `json:"dense"`
	SparseEPE  float64 `json:"kitti_epe"`
	SparseF1   float64 `json:"kitti_f1"` // Percentage of outlier pixels
	SparseImgs int     `json:"kitti_images"`
}

// Report returns the aggregated scores
func (a *Accumulator) Report() Report {
	r := Report{
		Dense:      Summarize(a.dense),
		SparseImgs: len(a.sparseEPE),
	}
	if len(a.sparseEPE) > 0 {
		r.SparseEPE = stat.Mean(a.sparseEPE, nil)
	}
	if a.validTotal > 0 {
		r.SparseF1 = 100 * float64(a.outliers) / float64(a.validTotal)
	}
	return r
}
