package evaluate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEPE(t *testing.T) {
	pred := Flow{U: []float64{0, 3, -1}, V: []float64{0, 4, 1}}
	gt := Flow{U: []float64{0, 0, -1}, V: []float64{0, 0, 1}}
	epe, err := EPE(pred, gt)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 5, 0}, epe)
}

func TestEPEShape(t *testing.T) {
	_, err := EPE(Flow{U: []float64{1}, V: []float64{1}}, Flow{U: []float64{1, 2}, V: []float64{1, 2}})
	require.ErrorIs(t, err, ErrShape)
	_, err = EPE(Flow{U: []float64{1}, V: nil}, Flow{U: []float64{1}, V: []float64{1}})
	require.ErrorIs(t, err, ErrShape)
	_, err = KITTI(Flow{U: []float64{1}, V: []float64{1}}, Flow{U: []float64{1}, V: []float64{1}}, nil)
	require.ErrorIs(t, err, ErrShape)
}

func TestSummarize(t *testing.T) {
	require.Equal(t, Dense{}, Summarize(nil))

	d := Summarize([]float64{0.5, 1, 2.5, 4, 6})
	require.InDelta(t, 2.8, d.EPE, 1e-12)
	require.InDelta(t, 0.2, d.PX1, 1e-12)
	require.InDelta(t, 0.6, d.PX3, 1e-12)
	require.InDelta(t, 0.8, d.PX5, 1e-12)
	require.Equal(t, 5, d.Pixels)
}

func TestKITTI(t *testing.T) {
	gt := Flow{
		U: []float64{100, 1, 0, 10},
		V: []float64{0, 0, 0, 0},
	}
	pred := Flow{
		U: []float64{104, 5, 50, 10},
		V: []float64{0, 0, 0, 0},
	}
	cases := []struct {
		name  string
		valid []float64
		want  Sparse
	}{
		// 4px on a 100px flow is an error but not an outlier
		{"All", []float64{1, 1, 1, 1}, Sparse{EPE: 14.5, Outliers: 2, Valid: 4}},
		{"Masked", []float64{1, 0, 0.49, 0.5}, Sparse{EPE: 2, Outliers: 0, Valid: 2}},
		{"NoneValid", []float64{0, 0, 0, 0}, Sparse{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := KITTI(pred, gt, tc.valid)
			require.NoError(t, err)
			require.InDelta(t, tc.want.EPE, s.EPE, 1e-12)
			require.Equal(t, tc.want.Outliers, s.Outliers)
			require.Equal(t, tc.want.Valid, s.Valid)
		})
	}
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator
	require.Equal(t, Report{}, acc.Report())

	zero := Flow{U: []float64{0, 0}, V: []float64{0, 0}}
	require.NoError(t, acc.AddDense(Flow{U: []float64{3, 0}, V: []float64{4, 0.5}}, zero))
	require.NoError(t, acc.AddDense(Flow{U: []float64{0, 0}, V: []float64{2, 0}}, zero))

	gt := Flow{U: []float64{10, 10}, V: []float64{0, 0}}
	require.NoError(t, acc.AddSparse(Flow{U: []float64{20, 10}, V: []float64{0, 0}}, gt, []float64{1, 1}))
	require.NoError(t, acc.AddSparse(Flow{U: []float64{12, 0}, V: []float64{0, 0}}, gt, []float64{1, 0}))
	// Ignored: no valid pixels
	require.NoError(t, acc.AddSparse(Flow{U: []float64{99, 99}, V: []float64{0, 0}}, gt, []float64{0, 0}))
	require.ErrorIs(t, acc.AddDense(zero, Flow{U: []float64{0}, V: []float64{0}}), ErrShape)

	r := acc.Report()
	require.Equal(t, 4, r.Dense.Pixels)
	require.InDelta(t, 1.875, r.Dense.EPE, 1e-12)
	require.InDelta(t, 0.5, r.Dense.PX1, 1e-12)
	require.Equal(t, 2, r.SparseImgs)
	// Per-image means are 5 and 2
	require.InDelta(t, 3.5, r.SparseEPE, 1e-12)
	// One outlier among three valid pixels
	require.InDelta(t, 100.0/3, r.SparseF1, 1e-12)
}
