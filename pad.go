package tiledflow

import (
	"fmt"
	"strings"
)

// PadBlock is the alignment of the divisible padding policies
const PadBlock = 8

// Policy selects how an image is padded before tiling
type Policy int

const (
	// PolicyNone leaves the image untouched
	PolicyNone Policy = iota
	// PolicyCentered pads both axes up to a multiple of PadBlock, split evenly,
	// with the odd pixel on the trailing side
	PolicyCentered
	// PolicyBottom pads only the bottom, up to a fixed target height
	PolicyBottom
	// PolicyCenteredWidth pads the width like PolicyCentered, and the height up to
	// a multiple of PadBlock entirely at the bottom
	PolicyCenteredWidth
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyCentered:
		return "centered"
	case PolicyBottom:
		return "bottom"
	case PolicyCenteredWidth:
		return "centered-width"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// PaddingSpec is the number of pixels added on each side of an image
type PaddingSpec struct {
	Left   int `json:"left"`
	Right  int `json:"right"`
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
}

// IsZero returns true if the spec adds no pixels
func (s PaddingSpec) IsZero() bool {
	return s == PaddingSpec{}
}

// Apply returns the size of an image of the given size after padding
func (s PaddingSpec) Apply(size Size) Size {
	return Size{H: size.H + s.Top + s.Bottom, W: size.W + s.Left + s.Right}
}

// Padder pads images according to a Policy.
// TargetHeight is only used by PolicyBottom.
type Padder struct {
	Policy       Policy
	TargetHeight int
}

// ParsePadder returns the padder for a policy name.
// "sintel" and "centered" select PolicyCentered, "kitti432", "kitti400" and
// "kitti376" select PolicyBottom with that target height, "default" and
// "centered-width" select PolicyCenteredWidth.
func ParsePadder(name string) (Padder, error) {
	name = strings.ToLower(name)
	switch name {
	case "", "none":
		return Padder{Policy: PolicyNone}, nil
	case "sintel", "centered":
		return Padder{Policy: PolicyCentered}, nil
	case "default", "centered-width":
		return Padder{Policy: PolicyCenteredWidth}, nil
	}
	var target int
	if n, _ := fmt.Sscanf(name, "kitti%d", &target); n == 1 && name == fmt.Sprintf("kitti%d", target) {
		return Padder{Policy: PolicyBottom, TargetHeight: target}, nil
	}
	if n, _ := fmt.Sscanf(name, "bottom%d", &target); n == 1 && name == fmt.Sprintf("bottom%d", target) {
		return Padder{Policy: PolicyBottom, TargetHeight: target}, nil
	}
	return Padder{}, fmt.Errorf("%w: unknown padding policy %q", ErrInvalidConfig, name)
}

// String returns a name that ParsePadder accepts
func (p Padder) String() string {
	if p.Policy == PolicyBottom {
		return fmt.Sprintf("bottom%d", p.TargetHeight)
	}
	return p.Policy.String()
}

// Spec computes the padding for an image of the given size
func (p Padder) Spec(size Size) (PaddingSpec, error) {
	if size.H <= 0 || size.W <= 0 {
		return PaddingSpec{}, fmt.Errorf("%w: image size %v must be positive", ErrInvalidConfig, size)
	}
	padH := (PadBlock - size.H%PadBlock) % PadBlock
	padW := (PadBlock - size.W%PadBlock) % PadBlock
	switch p.Policy {
	case PolicyNone:
		return PaddingSpec{}, nil
	case PolicyCentered:
		return PaddingSpec{Left: padW / 2, Right: padW - padW/2, Top: padH / 2, Bottom: padH - padH/2}, nil
	case PolicyCenteredWidth:
		return PaddingSpec{Left: padW / 2, Right: padW - padW/2, Bottom: padH}, nil
	case PolicyBottom:
		if p.TargetHeight < size.H {
			return PaddingSpec{}, fmt.Errorf("%w: target height %d is smaller than image height %d", ErrInvalidConfig, p.TargetHeight, size.H)
		}
		return PaddingSpec{Bottom: p.TargetHeight - size.H}, nil
	}
	return PaddingSpec{}, fmt.Errorf("%w: unknown padding policy %v", ErrInvalidConfig, p.Policy)
}

// Pad returns a zero-padded copy of t and the padding that was applied.
// With a zero spec the returned tensor is t itself.
func (p Padder) Pad(t *Tensor) (*Tensor, PaddingSpec, error) {
	spec, err := p.Spec(t.Size())
	if err != nil {
		return nil, PaddingSpec{}, err
	}
	return PadWith(t, spec), spec, nil
}

// PadWith zero-pads t by spec
func PadWith(t *Tensor, spec PaddingSpec) *Tensor {
	if spec.IsZero() {
		return t
	}
	size := spec.Apply(t.Size())
	out := NewTensor(t.C, size.H, size.W)
	for c := 0; c < t.C; c++ {
		for y := 0; y < t.H; y++ {
			src := (c*t.H + y) * t.W
			dst := (c*size.H+y+spec.Top)*size.W + spec.Left
			copy(out.Data[dst:dst+t.W], t.Data[src:src+t.W])
		}
	}
	return out
}

// Unpad removes the padding described by spec
func Unpad(t *Tensor, spec PaddingSpec) (*Tensor, error) {
	if spec.IsZero() {
		return t, nil
	}
	h := t.H - spec.Top - spec.Bottom
	w := t.W - spec.Left - spec.Right
	if h <= 0 || w <= 0 || spec.Top < 0 || spec.Left < 0 || spec.Bottom < 0 || spec.Right < 0 {
		return nil, fmt.Errorf("%w: cannot remove %+v from %v", ErrShapeMismatch, spec, t.Size())
	}
	return t.Crop(Origin{H: spec.Top, W: spec.Left}, Size{H: h, W: w})
}
