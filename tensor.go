package tiledflow

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Size is the height and width of an image, a patch or a mask
type Size struct {
	H int
	W int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.H, s.W)
}

// Area returns H*W
func (s Size) Area() int {
	return s.H * s.W
}

// Tensor is a planar (channel, row, column) buffer.
// Images have 3 channels and flow fields have 2.
type Tensor struct {
	C    int
	H    int
	W    int
	Data []float64
}

// NewTensor returns a zeroed tensor
func NewTensor(c, h, w int) *Tensor {
	return &Tensor{
		C:    c,
		H:    h,
		W:    w,
		Data: make([]float64, c*h*w),
	}
}

// Size returns the spatial dimensions of the tensor
func (t *Tensor) Size() Size {
	return Size{H: t.H, W: t.W}
}

// At returns the value at channel c, row y, column x
func (t *Tensor) At(c, y, x int) float64 {
	return t.Data[(c*t.H+y)*t.W+x]
}

// Set writes the value at channel c, row y, column x
func (t *Tensor) Set(c, y, x int, v float64) {
	t.Data[(c*t.H+y)*t.W+x] = v
}

// Fill sets every element of channel c to v
func (t *Tensor) Fill(c int, v float64) {
	plane := t.Data[c*t.H*t.W : (c+1)*t.H*t.W]
	for i := range plane {
		plane[i] = v
	}
}

// Plane returns channel c as a matrix that shares storage with the tensor
func (t *Tensor) Plane(c int) *mat.Dense {
	n := t.H * t.W
	return mat.NewDense(t.H, t.W, t.Data[c*n:(c+1)*n])
}

// Crop copies the size.H x size.W window whose top-left corner is at origin
func (t *Tensor) Crop(origin Origin, size Size) (*Tensor, error) {
	if origin.H < 0 || origin.W < 0 || origin.H+size.H > t.H || origin.W+size.W > t.W {
		return nil, fmt.Errorf("%w: crop %v at %v outside %v", ErrInvalidConfig, size, origin, t.Size())
	}
	out := NewTensor(t.C, size.H, size.W)
	for c := 0; c < t.C; c++ {
		for y := 0; y < size.H; y++ {
			src := ((c*t.H)+origin.H+y)*t.W + origin.W
			dst := (c*size.H + y) * size.W
			copy(out.Data[dst:dst+size.W], t.Data[src:src+size.W])
		}
	}
	return out, nil
}

// IsFinite returns false if any element is NaN or infinite
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Equal reports whether both tensors have the same shape and bit-identical data
func (t *Tensor) Equal(b *Tensor) bool {
	if t.C != b.C || t.H != b.H || t.W != b.W || len(t.Data) != len(b.Data) {
		return false
	}
	for i, v := range t.Data {
		if math.Float64bits(v) != math.Float64bits(b.Data[i]) {
			return false
		}
	}
	return true
}

// Pair is the two frames whose motion is estimated
type Pair struct {
	A *Tensor
	B *Tensor
}

// Shape returns the common shape of the pair, or ErrShapeMismatch
func (p Pair) Shape() (Size, error) {
	if p.A == nil || p.B == nil {
		return Size{}, fmt.Errorf("%w: pair is missing an image", ErrShapeMismatch)
	}
	if p.A.C != p.B.C || p.A.H != p.B.H || p.A.W != p.B.W {
		return Size{}, fmt.Errorf("%w: %dx%v vs %dx%v", ErrShapeMismatch, p.A.C, p.A.Size(), p.B.C, p.B.Size())
	}
	return p.A.Size(), nil
}
