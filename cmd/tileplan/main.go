// Command tileplan prints how an image of a given size would be padded, tiled
// and blended, without running an estimator.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Ricky513125/tiledflow"
)

func main() {
	logger := log.New(os.Stderr, "[tileplan] ", log.LstdFlags)
	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		logger.Fatalf("failed: %v", err)
	}
}

func run(args []string, out io.Writer, logger *log.Logger) error {
	fs := flag.NewFlagSet("tileplan", flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON config file")
	preset := fs.String("preset", "", "start from a named preset")
	height := fs.Int("height", 436, "image height")
	width := fs.Int("width", 1024, "image width")
	query := fs.String("query", "", "list tiles overlapping the region x1,y1,x2,y2 of the unpadded image")
	listOrigins := fs.Bool("origins", true, "print every tile origin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *preset, logger)
	if err != nil {
		return err
	}
	opts, err := cfg.StitcherOptions()
	if err != nil {
		return err
	}
	padder, err := cfg.Padder()
	if err != nil {
		return err
	}

	image := tiledflow.Size{H: *height, W: *width}
	spec, err := padder.Spec(image)
	if err != nil {
		return err
	}
	padded := spec.Apply(image)
	plan, err := tiledflow.NewPlan(tiledflow.PlanKey{
		Image:      padded,
		Patch:      opts.Patch,
		MinOverlap: opts.MinOverlap,
		Sigma:      opts.Sigma,
		Strategy:   opts.Strategy,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "image     %v\n", image)
	fmt.Fprintf(out, "padding   %s %+v -> %v\n", padder, spec, padded)
	fmt.Fprintf(out, "patch     %v, min overlap %d, strategy %v\n", opts.Patch, opts.MinOverlap, opts.Strategy)
	fmt.Fprintf(out, "tiles     %d\n", len(plan.Grid))
	if *listOrigins {
		for i, o := range plan.Grid {
			fmt.Fprintf(out, "  %3d %v\n", i, o)
		}
	}
	fmt.Fprintf(out, "mask      sigma %g, peak %.6g, min %.6g, centre/edge %.6g\n", opts.Sigma, plan.Mask.Peak(), plan.Mask.Min(), plan.Mask.CentreEdgeRatio())
	fmt.Fprintf(out, "weight    min accumulated %.6g\n", plan.MinWeight)
	if err := tiledflow.CheckCoverage(padded, opts.Patch, plan.Grid); err != nil {
		return err
	}
	if !(plan.MinWeight >= tiledflow.MinNormalWeight) {
		logger.Printf("warn: accumulated weight underflows, stitching with sigma %g will fail", opts.Sigma)
	}

	if *query != "" {
		var q tiledflow.Box
		if _, err := fmt.Sscanf(*query, "%d,%d,%d,%d", &q.X1, &q.Y1, &q.X2, &q.Y2); err != nil {
			return fmt.Errorf("invalid -query %q: %w", *query, err)
		}
		q.Tile = -1
		// Tiles live in padded coordinates
		q.Offset(int32(spec.Left), int32(spec.Top))
		for _, i := range plan.Index.Overlapping(q, nil) {
			b := plan.Index.Box(i)
			iou := b.IoU(q)
			b.Offset(-int32(spec.Left), -int32(spec.Top))
			fmt.Fprintf(out, "  tile %3d [%d,%d,%d,%d] IoU %.4f\n", i, b.X1, b.Y1, b.X2, b.Y2, iou)
		}
	}
	return nil
}

// loadConfig applies the config file, if one was given, over the preset.
// A missing file is not fatal.
func loadConfig(path, preset string, logger *log.Logger) (tiledflow.Config, error) {
	cfg := tiledflow.DefaultConfig()
	if preset != "" {
		var err error
		if cfg, err = tiledflow.PresetConfig(preset); err != nil {
			return cfg, err
		}
	}
	if path == "" {
		return cfg, nil
	}
	loaded, err := tiledflow.LoadConfigOver(cfg, path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Printf("warn: config file '%s' not found, using %s settings", path, describe(preset))
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	return *loaded, nil
}

func describe(preset string) string {
	if preset == "" {
		return "default"
	}
	return preset
}
