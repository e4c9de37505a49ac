package tiledflow

/*
Package tiledflow runs a fixed-size optical flow estimator over images that are
larger than the estimator's input, and stitches the per-tile flow back into a
single full-resolution field.

The tile placement is simple once you see the two rules it has to obey.
Every pixel of the image must be inside at least one tile, and no tile may
hang over the edge of the image, because that would mean running the network
on pixels that don't exist. The following talks about the vertical (height)
dimension only, but the exact same logic applies to the width.

With the step strategy, we walk down the image in steps of

	Step = Patch - MinOverlap

producing candidate origins 0, Step, 2*Step, ... while the origin is still
inside the image. Every candidate is clamped to, and the last candidate is
overwritten with

	Last = Image - Patch

so that the final tile is flush with the bottom edge and no tile hangs over it.
The clamp matters when MinOverlap is large: for Image 10, Patch 6, MinOverlap 3
the candidates are 0, 3, 6, 9 and the origins become 0, 3, 4, 4.
The last two tiles usually overlap by more than MinOverlap, and occasionally the overwritten
origin is identical to the one before it. We keep such duplicates. A duplicated
tile counts twice in the blend, which makes no difference wherever the tiles
covering a pixel agree, or where it is the only tile.

The even strategy instead computes the minimum number of tiles that keeps
adjacent overlap at or above MinOverlap,

	Count = 1 + ceil((Image - Patch) / Step)

and spreads them evenly between 0 and Image - Patch. The overlap is then the
same everywhere (up to 1 pixel of rounding) instead of being concentrated at
the far edge.
*/

import (
	"fmt"
	"strings"
)

// Origin is the top-left corner of a tile
type Origin struct {
	H int
	W int
}

func (o Origin) String() string {
	return fmt.Sprintf("(%d,%d)", o.H, o.W)
}

// Grid is a list of tile origins in row-major order (outer over H, inner over W)
type Grid []Origin

// Footprints returns the rectangle covered by each tile of the grid.
// Box.Tile is the index of the tile inside the grid.
func (g Grid) Footprints(patch Size) []Box {
	boxes := make([]Box, len(g))
	for i, o := range g {
		boxes[i] = MakeBox(int32(o.W), int32(o.H), int32(o.W+patch.W), int32(o.H+patch.H), i)
	}
	return boxes
}

// Strategy selects how tile origins are placed along each axis
type Strategy int

const (
	// StrategyStep places tiles at multiples of (patch - minOverlap) and forces the last one flush
	StrategyStep Strategy = iota
	// StrategyEven places the minimum number of tiles evenly between both edges
	StrategyEven
)

func (s Strategy) String() string {
	switch s {
	case StrategyStep:
		return "step"
	case StrategyEven:
		return "even"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy converts a name produced by Strategy.String back into a Strategy
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "step":
		return StrategyStep, nil
	case "even":
		return StrategyEven, nil
	}
	return 0, fmt.Errorf("%w: unknown tiling strategy %q", ErrInvalidConfig, name)
}

// PlanGrid computes the grid for the given strategy
func PlanGrid(strategy Strategy, image, patch Size, minOverlap int) (Grid, error) {
	switch strategy {
	case StrategyStep:
		return ComputeGrid(image, patch, minOverlap)
	case StrategyEven:
		return ComputeGridEven(image, patch, minOverlap)
	}
	return nil, fmt.Errorf("%w: unknown tiling strategy %v", ErrInvalidConfig, strategy)
}

// ComputeGrid places tiles with the step strategy.
// Duplicate origins at the far edge are preserved.
func ComputeGrid(image, patch Size, minOverlap int) (Grid, error) {
	if err := validateGeometry(image, patch, minOverlap); err != nil {
		return nil, err
	}
	hs := StepOrigins(image.H, patch.H, minOverlap)
	ws := StepOrigins(image.W, patch.W, minOverlap)
	return cartesian(hs, ws), nil
}

// ComputeGridEven places tiles with the even strategy
func ComputeGridEven(image, patch Size, minOverlap int) (Grid, error) {
	if err := validateGeometry(image, patch, minOverlap); err != nil {
		return nil, err
	}
	hs := EvenOrigins(image.H, patch.H, minOverlap)
	ws := EvenOrigins(image.W, patch.W, minOverlap)
	return cartesian(hs, ws), nil
}

// StepOrigins returns the origins along one axis for the step strategy.
// The caller must have validated the geometry.
func StepOrigins(srcSize, nnSize, minOverlap int) []int {
	step := nnSize - minOverlap
	origins := []int{}
	last := srcSize - nnSize
	for o := 0; o < srcSize; o += step {
		// A large overlap can push candidates before the final one past the edge too
		origins = append(origins, min(o, last))
	}
	// Make sure the final tile is flush with the image boundary
	origins[len(origins)-1] = last
	return origins
}

// EvenOrigins returns the origins along one axis for the even strategy.
// The caller must have validated the geometry.
func EvenOrigins(srcSize, nnSize, minOverlap int) []int {
	spaceBetween, numTiles := ComputeTileSpacingAndCount(srcSize, nnSize, minOverlap)
	origins := make([]int, numTiles)
	for i := range origins {
		origins[i] = OriginAt(i, spaceBetween)
	}
	return origins
}

// Return the position of the origin of tile i along one axis
func OriginAt(i int, spaceBetween float64) int {
	return int(float64(i)*spaceBetween + 0.5)
}

// Split one dimension into the minimum number of evenly spaced tiles whose
// neighbours overlap by at least minOverlap.
// The returned float64 is the space between tiles.
// The returned int is the total number of tiles.
func ComputeTileSpacingAndCount(srcSize, nnSize, minOverlap int) (float64, int) {
	if srcSize <= nnSize {
		return 0, 1
	}
	step := nnSize - minOverlap
	numTotalTiles := 1 + (srcSize-nnSize+step-1)/step // round up
	return float64(srcSize-nnSize) / float64(numTotalTiles-1), numTotalTiles
}

// CheckCoverage verifies that the union of the grid's tiles is exactly the image
// and that the last tile along each axis is flush with the far edge.
func CheckCoverage(image, patch Size, grid Grid) error {
	if len(grid) == 0 {
		return fmt.Errorf("%w: empty grid", ErrInvalidConfig)
	}
	maxH, maxW := 0, 0
	for _, o := range grid {
		if o.H < 0 || o.W < 0 || o.H+patch.H > image.H || o.W+patch.W > image.W {
			return fmt.Errorf("%w: tile at %v with patch %v leaves image %v", ErrInvalidConfig, o, patch, image)
		}
		maxH = max(maxH, o.H)
		maxW = max(maxW, o.W)
	}
	if maxH+patch.H != image.H || maxW+patch.W != image.W {
		return fmt.Errorf("%w: last tile ends at (%d,%d), image is %v", ErrInvalidConfig, maxH+patch.H, maxW+patch.W, image)
	}
	counts := TileMultiplicity(image, patch, grid)
	for i, n := range counts {
		if n == 0 {
			return fmt.Errorf("%w: pixel (%d,%d) is not covered by any tile", ErrInvalidConfig, i/image.W, i%image.W)
		}
	}
	return nil
}

// TileMultiplicity returns, for every pixel of the image in row-major order,
// the number of tiles that cover it. Duplicate origins are counted twice.
// Tiles are clipped to the image.
func TileMultiplicity(image, patch Size, grid Grid) []int {
	// 2D difference array, then a prefix sum in both directions
	stride := image.W + 1
	diff := make([]int, (image.H+1)*stride)
	for _, o := range grid {
		y1, x1 := max(o.H, 0), max(o.W, 0)
		y2, x2 := min(o.H+patch.H, image.H), min(o.W+patch.W, image.W)
		if y1 >= y2 || x1 >= x2 {
			continue
		}
		diff[y1*stride+x1]++
		diff[y1*stride+x2]--
		diff[y2*stride+x1]--
		diff[y2*stride+x2]++
	}
	for y := 0; y <= image.H; y++ {
		for x := 1; x <= image.W; x++ {
			diff[y*stride+x] += diff[y*stride+x-1]
		}
	}
	for y := 1; y <= image.H; y++ {
		for x := 0; x <= image.W; x++ {
			diff[y*stride+x] += diff[(y-1)*stride+x]
		}
	}
	counts := make([]int, image.Area())
	for y := 0; y < image.H; y++ {
		copy(counts[y*image.W:(y+1)*image.W], diff[y*stride:y*stride+image.W])
	}
	return counts
}

func validateGeometry(image, patch Size, minOverlap int) error {
	if image.H <= 0 || image.W <= 0 {
		return fmt.Errorf("%w: image size %v must be positive", ErrInvalidConfig, image)
	}
	if patch.H <= 0 || patch.W <= 0 {
		return fmt.Errorf("%w: patch size %v must be positive", ErrInvalidConfig, patch)
	}
	if minOverlap < 0 {
		return fmt.Errorf("%w: min overlap %d is negative", ErrInvalidConfig, minOverlap)
	}
	if minOverlap >= patch.H || minOverlap >= patch.W {
		return fmt.Errorf("%w: min overlap %d must be smaller than patch %v", ErrInvalidConfig, minOverlap, patch)
	}
	if patch.H > image.H || patch.W > image.W {
		return fmt.Errorf("%w: patch %v is larger than image %v", ErrInvalidConfig, patch, image)
	}
	return nil
}

func cartesian(hs, ws []int) Grid {
	grid := make(Grid, 0, len(hs)*len(ws))
	for _, h := range hs {
		for _, w := range ws {
			grid = append(grid, Origin{H: h, W: w})
		}
	}
	return grid
}
