package tiledflow

import (
	"sort"
	"sync"

	flatbush "github.com/bmharper/flatbush-go"
)

// Box is a pixel rectangle. X2 and Y2 are exclusive.
type Box struct {
	X1   int32
	Y1   int32
	X2   int32
	Y2   int32
	Tile int // Index of the tile inside its grid, or -1 for a query box
}

// MakeBox returns a Box
func MakeBox(x1, y1, x2, y2 int32, tile int) Box {
	return Box{
		X1:   x1,
		Y1:   y1,
		X2:   x2,
		Y2:   y2,
		Tile: tile,
	}
}

// Intersection over Union
func (r Box) IoU(b Box) float64 {
	// Compute intersection
	x1 := max(r.X1, b.X1)
	y1 := max(r.Y1, b.Y1)
	x2 := min(r.X2, b.X2)
	y2 := min(r.Y2, b.Y2)
	intersection := float64(max(0, int(x2-x1))) * float64(max(0, int(y2-y1)))

	// Compute union
	union := r.Area() + b.Area() - intersection
	if union == 0 {
		return 0
	}
	return intersection / union
}

// Overlaps returns true if the two boxes share at least one pixel
func (r Box) Overlaps(b Box) bool {
	return r.X1 < b.X2 && b.X1 < r.X2 && r.Y1 < b.Y2 && b.Y1 < r.Y2
}

func (r Box) Width() float64 {
	return float64(r.X2 - r.X1)
}

func (r Box) Height() float64 {
	return float64(r.Y2 - r.Y1)
}

func (r Box) Area() float64 {
	return r.Width() * r.Height()
}

// Move the box by dx, dy
func (r *Box) Offset(dx, dy int32) {
	r.X1 = r.X1 + dx
	r.Y1 = r.Y1 + dy
	r.X2 = r.X2 + dx
	r.Y2 = r.Y2 + dy
}

// TileIndex answers "which tiles touch this region" for a fixed set of tile footprints.
// It is immutable after construction and safe for concurrent use.
type TileIndex struct {
	mu    sync.Mutex // guards searches on fb
	fb    *flatbush.Flatbush64
	boxes []Box
}

// NewTileIndex builds a spatial index over the given footprints
func NewTileIndex(boxes []Box) *TileIndex {
	fb := flatbush.NewFlatbush64()
	fb.Reserve(len(boxes))
	for _, r := range boxes {
		fb.Add(float64(r.X1), float64(r.Y1), float64(r.X2), float64(r.Y2))
	}
	fb.Finish()
	return &TileIndex{
		fb:    fb,
		boxes: append([]Box(nil), boxes...),
	}
}

// Len returns the number of indexed tiles
func (ix *TileIndex) Len() int {
	return len(ix.boxes)
}

// Box returns the footprint of tile i
func (ix *TileIndex) Box(i int) Box {
	return ix.boxes[i]
}

// Overlapping returns the indices of the tiles that share at least one pixel with query,
// in ascending order. results is reused if it has enough capacity.
func (ix *TileIndex) Overlapping(query Box, results []int) []int {
	if len(ix.boxes) == 0 {
		return results[:0]
	}
	ix.mu.Lock()
	nearby := ix.fb.SearchFast(float64(query.X1), float64(query.Y1), float64(query.X2), float64(query.Y2), nil)
	ix.mu.Unlock()

	// flatbush treats touching edges as intersecting, our boxes have exclusive far edges
	results = results[:0]
	for _, i := range nearby {
		if ix.boxes[i].Overlaps(query) {
			results = append(results, i)
		}
	}
	sort.Ints(results)
	return results
}

// Covering returns the indices of the tiles that contain pixel (y, x)
func (ix *TileIndex) Covering(y, x int) []int {
	return ix.Overlapping(MakeBox(int32(x), int32(y), int32(x+1), int32(y+1), -1), nil)
}
