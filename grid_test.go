package tiledflow

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestStepOrigins(t *testing.T) {

	validateSplit := func(srcSize, nnSize, minOverlap int, expectedTileStart []int, log bool) {
		actualTileStart := StepOrigins(srcSize, nnSize, minOverlap)
		if expectedTileStart != nil {
			require.Equal(t, expectedTileStart, actualTileStart)
		}
		for i := 1; i < len(actualTileStart); i++ {
			overlap := (actualTileStart[i-1] + nnSize) - actualTileStart[i]
			require.GreaterOrEqual(t, overlap, minOverlap)
		}

		// first tile must be at zero
		require.Equal(t, 0, actualTileStart[0])

		// no tile may hang over the far edge
		for _, o := range actualTileStart {
			require.LessOrEqual(t, o+nnSize, srcSize)
		}

		// last tile must be precisely at edge of image
		require.Equal(t, srcSize-nnSize, actualTileStart[len(actualTileStart)-1])

		if log {
			t.Logf("StepOrigins(%4d, %4d, %2d) = %v", srcSize, nnSize, minOverlap, actualTileStart)
		}
	}

	validateSplit(10, 10, 0, []int{0}, true)
	validateSplit(10, 10, 3, []int{0, 0}, true) // step 7 < 10 gives a second candidate, forced back to 0
	validateSplit(10, 5, 0, []int{0, 5}, true)
	validateSplit(10, 6, 2, []int{0, 4, 4}, true) // duplicate kept
	validateSplit(14, 6, 1, []int{0, 5, 8}, true)
	validateSplit(10, 6, 3, []int{0, 3, 4, 4}, true) // 6 would end at 12, clamped to 4
	validateSplit(7, 5, 2, []int{0, 2, 2}, true)
	validateSplit(436, 432, 20, []int{0, 4}, true)
	validateSplit(1024, 960, 20, []int{0, 64}, true)
	validateSplit(1242, 960, 20, []int{0, 282}, true)
	validateSplit(20, 6, 2, nil, true)

	for imgSize := 14; imgSize < 20; imgSize++ {
		for nnSize := 6; nnSize <= 14; nnSize++ {
			for minOverlap := 0; minOverlap <= 4; minOverlap++ {
				validateSplit(imgSize, nnSize, minOverlap, nil, false)
			}
		}
	}
}

func TestEvenOrigins(t *testing.T) {

	validateSplit := func(srcSize, nnSize, minOverlap int, expectedTileStart []int) {
		actualTileStart := EvenOrigins(srcSize, nnSize, minOverlap)
		if expectedTileStart != nil {
			require.Equal(t, expectedTileStart, actualTileStart)
		}
		for i := 1; i < len(actualTileStart); i++ {
			overlap := (actualTileStart[i-1] + nnSize) - actualTileStart[i]
			require.GreaterOrEqual(t, overlap, minOverlap)
		}
		require.Equal(t, 0, actualTileStart[0])
		require.Equal(t, srcSize-nnSize, actualTileStart[len(actualTileStart)-1])
	}

	validateSplit(10, 10, 3, []int{0})
	validateSplit(10, 5, 0, []int{0, 5})
	validateSplit(10, 6, 2, []int{0, 4})
	validateSplit(20, 6, 2, []int{0, 4, 7, 11, 14})

	for imgSize := 14; imgSize < 40; imgSize++ {
		for nnSize := 6; nnSize <= 14; nnSize++ {
			for minOverlap := 0; minOverlap <= 4; minOverlap++ {
				validateSplit(imgSize, nnSize, minOverlap, nil)
			}
		}
	}
}

func TestComputeGridRowMajor(t *testing.T) {
	grid, err := ComputeGrid(Size{H: 436, W: 1024}, Size{H: 432, W: 960}, 20)
	require.NoError(t, err)
	want := Grid{{0, 0}, {0, 64}, {4, 0}, {4, 64}}
	if diff := cmp.Diff(want, grid); diff != "" {
		t.Errorf("ComputeGrid mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeGridDuplicateOrigins(t *testing.T) {
	grid, err := ComputeGrid(Size{H: 10, W: 10}, Size{H: 6, W: 6}, 2)
	require.NoError(t, err)
	require.Equal(t, 9, len(grid))
	require.Equal(t, Origin{4, 4}, grid[4])
	require.Equal(t, Origin{4, 4}, grid[8])
	require.NoError(t, CheckCoverage(Size{H: 10, W: 10}, Size{H: 6, W: 6}, grid))
}

func TestComputeGridErrors(t *testing.T) {
	cases := []struct {
		name       string
		image      Size
		patch      Size
		minOverlap int
	}{
		{"OverlapEqualsPatchHeight", Size{100, 100}, Size{20, 40}, 20},
		{"OverlapExceedsPatchWidth", Size{100, 100}, Size{40, 20}, 25},
		{"NegativeOverlap", Size{100, 100}, Size{40, 40}, -1},
		{"PatchTallerThanImage", Size{30, 100}, Size{40, 40}, 4},
		{"PatchWiderThanImage", Size{100, 30}, Size{40, 40}, 4},
		{"EmptyImage", Size{0, 100}, Size{40, 40}, 4},
		{"EmptyPatch", Size{100, 100}, Size{0, 40}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, s := range []Strategy{StrategyStep, StrategyEven} {
				_, err := PlanGrid(s, tc.image, tc.patch, tc.minOverlap)
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("PlanGrid(%v, %v, %v, %d) error = %v; want %v", s, tc.image, tc.patch, tc.minOverlap, err, ErrInvalidConfig)
				}
			}
		})
	}
}

// Every valid geometry must be covered, and flush on both axes
func TestGridCoverage(t *testing.T) {
	for _, s := range []Strategy{StrategyStep, StrategyEven} {
		for h := 6; h <= 30; h += 3 {
			for w := 7; w <= 33; w += 5 {
				for ph := 4; ph <= min(h, 12); ph += 2 {
					for pw := 5; pw <= min(w, 13); pw += 4 {
						for minOverlap := 0; minOverlap < min(ph, pw); minOverlap += 2 {
							image, patch := Size{h, w}, Size{ph, pw}
							grid, err := PlanGrid(s, image, patch, minOverlap)
							require.NoError(t, err)
							require.NoError(t, CheckCoverage(image, patch, grid), "%v %v %v %d", s, image, patch, minOverlap)
						}
					}
				}
			}
		}
	}
}

func TestComputeGridLargeOverlap(t *testing.T) {
	cases := []struct {
		image      Size
		patch      Size
		minOverlap int
	}{
		{Size{10, 10}, Size{6, 6}, 3},
		{Size{6, 7}, Size{4, 5}, 2},
		{Size{40, 40}, Size{9, 9}, 8},
	}
	for _, tc := range cases {
		grid, err := ComputeGrid(tc.image, tc.patch, tc.minOverlap)
		require.NoError(t, err)
		require.NoError(t, CheckCoverage(tc.image, tc.patch, grid), "%v %v %d", tc.image, tc.patch, tc.minOverlap)
	}
}

func TestCheckCoverageDetectsGaps(t *testing.T) {
	image, patch := Size{10, 10}, Size{4, 4}
	require.ErrorIs(t, CheckCoverage(image, patch, Grid{{0, 0}, {0, 6}, {6, 0}, {6, 6}}), ErrInvalidConfig)
	require.ErrorIs(t, CheckCoverage(image, patch, Grid{{0, 0}, {0, 4}}), ErrInvalidConfig)
	require.ErrorIs(t, CheckCoverage(image, patch, Grid{{0, 0}, {0, 7}}), ErrInvalidConfig)
	require.ErrorIs(t, CheckCoverage(image, patch, nil), ErrInvalidConfig)
}

func TestTileMultiplicity(t *testing.T) {
	counts := TileMultiplicity(Size{3, 5}, Size{3, 3}, Grid{{0, 0}, {0, 2}, {0, 2}})
	row := []int{1, 1, 3, 2, 2}
	require.Equal(t, append(append(append([]int{}, row...), row...), row...), counts)
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{StrategyStep, StrategyEven} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseStrategy("spiral")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFootprints(t *testing.T) {
	boxes := Grid{{0, 0}, {4, 64}}.Footprints(Size{432, 960})
	require.Equal(t, Box{X1: 0, Y1: 0, X2: 960, Y2: 432, Tile: 0}, boxes[0])
	require.Equal(t, Box{X1: 64, Y1: 4, X2: 1024, Y2: 436, Tile: 1}, boxes[1])
}
