package tiledflow

import "errors"

var (
	// ErrInvalidConfig indicates a tiling, weighting or padding parameter that cannot
	// produce a valid geometry for the requested image.
	ErrInvalidConfig = errors.New("tiledflow: invalid configuration")
	// ErrShapeMismatch indicates the two images of a pair differ in shape.
	ErrShapeMismatch = errors.New("tiledflow: image shapes differ")
	// ErrInferenceFailure indicates the estimator failed or returned an unusable tile.
	ErrInferenceFailure = errors.New("tiledflow: inference failed")
	// ErrNumericInstability indicates a pixel with no accumulated weight at normalization.
	ErrNumericInstability = errors.New("tiledflow: accumulated weight is not positive")
)
