package tiledflow

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Ricky513125/tiledflow/evaluate"
)

// Sample is one frame pair from a dataset.
// FlowGT and Valid are optional. When FlowGT is set without Valid the sample is
// scored densely; with Valid (one channel, >= 0.5 means annotated) it is scored sparsely.
type Sample struct {
	ID     string
	Pair   Pair
	FlowGT *Tensor
	Valid  *Tensor
}

// Source yields samples until it returns io.EOF
type Source interface {
	Next(ctx context.Context) (Sample, error)
}

// SliceSource is a Source over a fixed list of samples
type SliceSource struct {
	Samples []Sample
	pos     int
}

func (s *SliceSource) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if s.pos >= len(s.Samples) {
		return Sample{}, io.EOF
	}
	s.pos++
	return s.Samples[s.pos-1], nil
}

// Result is the output for one sample. Flow has the sample's native resolution;
// Padding is what was added around it before tiling.
type Result struct {
	ID      string
	Flow    *Tensor
	Padding PaddingSpec
}

// Sink receives every sample's result, or the error that aborted it
type Sink func(res Result, err error)

// Summary describes a completed Run
type Summary struct {
	Processed int
	Failed    int
	Metrics   evaluate.Report
}

// Pipeline pads a pair, stitches it, and crops the flow back to the input size.
// It replaces one hand-written loop per dataset: the dataset-specific parts are
// the Padder and the Stitcher's options.
type Pipeline struct {
	Stitcher *Stitcher
	Padder   Padder
}

// NewPipeline returns a Pipeline
func NewPipeline(st *Stitcher, padder Padder) *Pipeline {
	return &Pipeline{
		Stitcher: st,
		Padder:   padder,
	}
}

// Process computes the flow for a single pair
func (p *Pipeline) Process(ctx context.Context, pair Pair) (Result, error) {
	if _, err := pair.Shape(); err != nil {
		return Result{}, err
	}
	a, spec, err := p.Padder.Pad(pair.A)
	if err != nil {
		return Result{}, err
	}
	b := PadWith(pair.B, spec)
	flow, err := p.Stitcher.Stitch(ctx, Pair{A: a, B: b})
	if err != nil {
		return Result{}, err
	}
	flow, err = Unpad(flow, spec)
	if err != nil {
		return Result{}, err
	}
	return Result{Flow: flow, Padding: spec}, nil
}

// Run processes every sample of src. A sample that fails is reported to sink
// and counted, and the run continues with the next sample. Configuration
// errors, source errors and cancellation stop the run.
func (p *Pipeline) Run(ctx context.Context, src Source, sink Sink) (Summary, error) {
	var summary Summary
	var scores evaluate.Accumulator
	for {
		sample, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, err
		}

		res, err := p.Process(ctx, sample.Pair)
		if err == nil && sample.FlowGT != nil {
			err = score(&scores, res.Flow, sample)
		}
		res.ID = sample.ID
		if err != nil {
			if errors.Is(err, ErrInvalidConfig) || ctx.Err() != nil {
				return summary, err
			}
			Logf("tiledflow: sample %q failed: %v", sample.ID, err)
			summary.Failed++
			if sink != nil {
				sink(res, err)
			}
			continue
		}
		summary.Processed++
		if sink != nil {
			sink(res, nil)
		}
	}
	summary.Metrics = scores.Report()
	Logf("tiledflow: run finished, %d processed, %d failed", summary.Processed, summary.Failed)
	return summary, nil
}

func score(scores *evaluate.Accumulator, flow *Tensor, sample Sample) error {
	gt := sample.FlowGT
	if gt.C != 2 || gt.H != flow.H || gt.W != flow.W {
		return fmt.Errorf("%w: ground truth is %dx%v, flow is 2x%v", ErrShapeMismatch, gt.C, gt.Size(), flow.Size())
	}
	if sample.Valid == nil {
		return scores.AddDense(flowPlanes(flow), flowPlanes(gt))
	}
	if sample.Valid.H != flow.H || sample.Valid.W != flow.W {
		return fmt.Errorf("%w: valid mask is %v, flow is %v", ErrShapeMismatch, sample.Valid.Size(), flow.Size())
	}
	return scores.AddSparse(flowPlanes(flow), flowPlanes(gt), sample.Valid.Data[:flow.Size().Area()])
}

func flowPlanes(t *Tensor) evaluate.Flow {
	n := t.H * t.W
	return evaluate.Flow{U: t.Data[:n], V: t.Data[n : 2*n]}
}
