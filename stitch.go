package tiledflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MinNormalWeight is the smallest accumulated weight a pixel may have.
// Below it the weight is subnormal, and flow*weight loses precision.
const MinNormalWeight = 0x1p-1022

// Estimator computes the flow between two patch-sized, 3-channel tiles.
// The result must be a 2-channel tensor of the same spatial size.
type Estimator interface {
	Estimate(ctx context.Context, a, b *Tensor) (*Tensor, error)
}

// EstimatorFunc adapts a function to the Estimator interface
type EstimatorFunc func(ctx context.Context, a, b *Tensor) (*Tensor, error)

func (f EstimatorFunc) Estimate(ctx context.Context, a, b *Tensor) (*Tensor, error) {
	return f(ctx, a, b)
}

// StitcherOptions configures a Stitcher
type StitcherOptions struct {
	Patch      Size     // Input size of the estimator
	MinOverlap int      // Minimum overlap in pixels between adjacent tiles
	Sigma      float64  // Blend sharpness. Smaller values favour tile centres.
	Strategy   Strategy // Tile placement
	Workers    int      // Maximum number of concurrent Estimate calls. 0 and 1 run sequentially.
}

// Return the options that match the estimator's training resolution
func DefaultStitcherOptions() StitcherOptions {
	return StitcherOptions{
		Patch:      Size{H: 432, W: 960},
		MinOverlap: 20,
		Sigma:      0.05,
		Strategy:   StrategyStep,
		Workers:    1,
	}
}

// Validate checks everything that does not depend on the image size
func (o StitcherOptions) Validate() error {
	if o.Patch.H <= 0 || o.Patch.W <= 0 {
		return fmt.Errorf("%w: patch size %v must be positive", ErrInvalidConfig, o.Patch)
	}
	if o.MinOverlap < 0 || o.MinOverlap >= o.Patch.H || o.MinOverlap >= o.Patch.W {
		return fmt.Errorf("%w: min overlap %d must be in [0, %d)", ErrInvalidConfig, o.MinOverlap, min(o.Patch.H, o.Patch.W))
	}
	if !(o.Sigma > 0) {
		return fmt.Errorf("%w: sigma %v must be positive", ErrInvalidConfig, o.Sigma)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers %d is negative", ErrInvalidConfig, o.Workers)
	}
	if o.Strategy != StrategyStep && o.Strategy != StrategyEven {
		return fmt.Errorf("%w: unknown tiling strategy %v", ErrInvalidConfig, o.Strategy)
	}
	return nil
}

// PlanKey identifies the inputs a Plan was computed from
type PlanKey struct {
	Image      Size
	Patch      Size
	MinOverlap int
	Sigma      float64
	Strategy   Strategy
}

// Plan is the tiling of one image size: the tile origins, the blend mask and a
// spatial index of the tile footprints. A Plan is never modified after NewPlan
// returns, so it can be shared by concurrent stitches.
type Plan struct {
	Key       PlanKey
	Grid      Grid
	Mask      *WeightMask
	Index     *TileIndex
	MinWeight float64 // Smallest accumulated weight over the image
}

// NewPlan computes the grid and weight mask for key
func NewPlan(key PlanKey) (*Plan, error) {
	return newPlan(key, nil)
}

// newPlan reuses the mask of prev when the patch size and sigma are unchanged
func newPlan(key PlanKey, prev *Plan) (*Plan, error) {
	grid, err := PlanGrid(key.Strategy, key.Image, key.Patch, key.MinOverlap)
	if err != nil {
		return nil, err
	}
	var mask *WeightMask
	if prev != nil && prev.Key.Patch == key.Patch && prev.Key.Sigma == key.Sigma {
		mask = prev.Mask
	} else if mask, err = NewWeightMask(key.Patch, key.Sigma); err != nil {
		return nil, err
	}
	weights, err := ScatterWeights(key.Image, grid, mask)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Key:       key,
		Grid:      grid,
		Mask:      mask,
		Index:     NewTileIndex(grid.Footprints(key.Patch)),
		MinWeight: floats.Min(weights.RawMatrix().Data),
	}, nil
}

// State is the phase of the most recent stitch
type State int32

const (
	StateIdle State = iota
	StatePlanning
	StateAccumulating
	StateNormalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateAccumulating:
		return "accumulating"
	case StateNormalizing:
		return "normalizing"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Stitcher runs an Estimator over the tiles of an image pair and blends the
// per-tile flow into one full-resolution flow field.
//
// The tiling is cached per image size. When an image of a different size
// arrives, a new Plan replaces the cached one; stitches that are still running
// keep using the Plan they started with.
// A Stitcher is safe for concurrent use.
type Stitcher struct {
	est   Estimator
	opts  StitcherOptions
	mu    sync.Mutex
	plan  *Plan
	state atomic.Int32
}

// NewStitcher returns a Stitcher
func NewStitcher(est Estimator, opts StitcherOptions) (*Stitcher, error) {
	if est == nil {
		return nil, fmt.Errorf("%w: estimator is nil", ErrInvalidConfig)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Stitcher{
		est:  est,
		opts: opts,
	}, nil
}

// Options returns the options the stitcher was created with
func (s *Stitcher) Options() StitcherOptions {
	return s.opts
}

// State returns the phase of the most recent stitch
func (s *Stitcher) State() State {
	return State(s.state.Load())
}

func (s *Stitcher) setState(st State) {
	s.state.Store(int32(st))
}

// Plan returns the tiling for an image of the given size, computing it if
// the cached one was made for a different size.
func (s *Stitcher) Plan(image Size) (*Plan, error) {
	key := PlanKey{
		Image:      image,
		Patch:      s.opts.Patch,
		MinOverlap: s.opts.MinOverlap,
		Sigma:      s.opts.Sigma,
		Strategy:   s.opts.Strategy,
	}
	s.mu.Lock()
	cached := s.plan
	s.mu.Unlock()
	if cached != nil && cached.Key == key {
		return cached, nil
	}

	s.setState(StatePlanning)
	if cached != nil {
		Logf("tiledflow: image size changed from %v to %v, replanning", cached.Key.Image, image)
	}
	plan, err := newPlan(key, cached)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()
	return plan, nil
}

// Stitch estimates the flow from pair.A to pair.B at full resolution.
//
// Errors wrap one of ErrInvalidConfig, ErrShapeMismatch, ErrInferenceFailure or
// ErrNumericInstability, or the context's error if ctx is done between tiles.
// A failure discards all work done for this pair and nothing else.
func (s *Stitcher) Stitch(ctx context.Context, pair Pair) (*Tensor, error) {
	image, err := pair.Shape()
	if err != nil {
		return nil, err
	}
	plan, err := s.Plan(image)
	if err != nil {
		s.setState(StateIdle)
		return nil, err
	}
	defer s.setState(StateIdle)
	if !(plan.MinWeight >= MinNormalWeight) {
		return nil, fmt.Errorf("%w: smallest weight for %v is %g (sigma %v too small?)", ErrNumericInstability, image, plan.MinWeight, plan.Key.Sigma)
	}
	return s.stitchPlan(ctx, pair, plan)
}

// stitchPlan estimates and blends every tile of plan
func (s *Stitcher) stitchPlan(ctx context.Context, pair Pair, plan *Plan) (*Tensor, error) {
	s.setState(StateAccumulating)
	acc := newAccumulator(plan.Key.Image, plan.Mask)
	if s.opts.Workers <= 1 {
		for i, o := range plan.Grid {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tile, err := s.estimateTile(ctx, pair, plan, i)
			if err != nil {
				return nil, err
			}
			if err := acc.add(o, tile); err != nil {
				return nil, err
			}
		}
	} else {
		tiles, err := s.estimateAll(ctx, pair, plan)
		if err != nil {
			return nil, err
		}
		// Accumulate in grid order, so that the result is identical to the sequential path
		for i, o := range plan.Grid {
			if err := acc.add(o, tiles[i]); err != nil {
				return nil, err
			}
		}
	}

	s.setState(StateNormalizing)
	return acc.normalize(plan.Index)
}

// estimateAll runs up to Workers estimates concurrently.
// The first failure cancels the remaining tiles.
func (s *Stitcher) estimateAll(ctx context.Context, pair Pair, plan *Plan) ([]*Tensor, error) {
	tiles := make([]*Tensor, len(plan.Grid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range plan.Grid {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tile, err := s.estimateTile(gctx, pair, plan, i)
			if err != nil {
				return err
			}
			tiles[i] = tile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tiles, nil
}

func (s *Stitcher) estimateTile(ctx context.Context, pair Pair, plan *Plan, i int) (*Tensor, error) {
	o := plan.Grid[i]
	patch := plan.Key.Patch
	a, err := pair.A.Crop(o, patch)
	if err != nil {
		return nil, err
	}
	b, err := pair.B.Crop(o, patch)
	if err != nil {
		return nil, err
	}
	flow, err := s.est.Estimate(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: tile %d at %v: %w", ErrInferenceFailure, i, o, err)
	}
	if flow == nil {
		return nil, fmt.Errorf("%w: tile %d at %v: estimator returned no flow", ErrInferenceFailure, i, o)
	}
	if flow.C != 2 || flow.H != patch.H || flow.W != patch.W || len(flow.Data) != 2*patch.Area() {
		return nil, fmt.Errorf("%w: tile %d at %v: flow is %dx%v, want 2x%v", ErrInferenceFailure, i, o, flow.C, flow.Size(), patch)
	}
	if !flow.IsFinite() {
		return nil, fmt.Errorf("%w: tile %d at %v: flow is not finite", ErrInferenceFailure, i, o)
	}
	return flow, nil
}

// accumulator holds the weighted flow sum and the weight sum of one stitch
type accumulator struct {
	image   Size
	mask    *WeightMask
	flow    *Tensor
	weight  *mat.Dense
	scratch *mat.Dense
}

func newAccumulator(image Size, mask *WeightMask) *accumulator {
	return &accumulator{
		image:   image,
		mask:    mask,
		flow:    NewTensor(2, image.H, image.W),
		weight:  mat.NewDense(image.H, image.W, nil),
		scratch: mat.NewDense(mask.size.H, mask.size.W, nil),
	}
}

// add scatters mask*tile into the flow sum and mask into the weight sum
func (a *accumulator) add(o Origin, tile *Tensor) error {
	for c := 0; c < 2; c++ {
		a.scratch.MulElem(tile.Plane(c), a.mask.m)
		if err := addAt(a.flow.Plane(c), o, a.scratch); err != nil {
			return err
		}
	}
	return addAt(a.weight, o, a.mask.m)
}

// normalize divides the flow sum by the weight sum
func (a *accumulator) normalize(index *TileIndex) (*Tensor, error) {
	for i, w := range a.weight.RawMatrix().Data {
		if !(w >= MinNormalWeight) {
			y, x := i/a.image.W, i%a.image.W
			return nil, fmt.Errorf("%w: weight %g at pixel (%d,%d), covered by %d tiles", ErrNumericInstability, w, y, x, len(index.Covering(y, x)))
		}
	}
	out := NewTensor(2, a.image.H, a.image.W)
	for c := 0; c < 2; c++ {
		out.Plane(c).DivElem(a.flow.Plane(c), a.weight)
	}
	return out, nil
}
