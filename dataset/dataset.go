// Package dataset - sample sources feeding the transform pipeline: image
// folders, COCO-annotated detection sets and the box-crop sets consumed by
// the embedding stage.
package dataset

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// ItemInfo describes one sample before any pixel data is loaded.
type ItemInfo struct {
	Filename string
	ImageID  int
	Width    int
	Height   int
}

// AnnInfo carries the ground-truth annotations of one sample.
type AnnInfo struct {
	Boxes        []images.Box
	Labels       []int
	IgnoreBoxes  []images.Box
	IgnoreLabels []int
}

// Dataset is a source of records for the pipeline.
type Dataset interface {
	// Len is the number of samples.
	Len() int
	// ItemInfo returns the sample descriptor without loading pixels.
	ItemInfo(idx int) (ItemInfo, error)
	// AnnInfo returns the sample's annotations. Sources without annotations
	// return an empty AnnInfo.
	AnnInfo(idx int) (AnnInfo, error)
	// LoadRecord loads pixels and annotations into a fresh pipeline record.
	LoadRecord(idx int) (*pipeline.Record, error)
}

// Grouped wraps a dataset with aspect-ratio group flags so that resampling
// after a rejection stays within the same group. Landscape images (width
// over height above 1) form group 1, the rest group 0.
type Grouped struct {
	ds    Dataset
	flags []uint8
}

// NewGrouped computes the group flags up front.
func NewGrouped(ds Dataset) (*Grouped, error) {
	flags := make([]uint8, ds.Len())
	for i := range flags {
		info, err := ds.ItemInfo(i)
		if err != nil {
			return nil, errors.Wrapf(err, "group flags: item %d", i)
		}
		if info.Height > 0 && float64(info.Width)/float64(info.Height) > 1 {
			flags[i] = 1
		}
	}
	return &Grouped{ds: ds, flags: flags}, nil
}

// Dataset returns the wrapped source.
func (g *Grouped) Dataset() Dataset { return g.ds }

// Len is the number of samples.
func (g *Grouped) Len() int { return g.ds.Len() }

// LoadRecord loads the record for idx, tagging it with its index.
func (g *Grouped) LoadRecord(idx int) (*pipeline.Record, error) {
	return g.ds.LoadRecord(idx)
}

// RandAnother draws a random index from idx's aspect-ratio group, idx itself
// included.
func (g *Grouped) RandAnother(rng *rand.Rand, idx int) int {
	pool := g.groupPool(idx, true)
	return pool[rng.Intn(len(pool))]
}

// BatchRandOthers draws n indices from idx's group excluding idx. An empty
// pool repeats idx; a pool smaller than n draws with replacement; otherwise
// the draw is without replacement.
func (g *Grouped) BatchRandOthers(rng *rand.Rand, idx, n int) []int {
	pool := g.groupPool(idx, false)
	out := make([]int, n)
	switch {
	case len(pool) == 0:
		for i := range out {
			out[i] = idx
		}
	case len(pool) < n:
		for i := range out {
			out[i] = pool[rng.Intn(len(pool))]
		}
	default:
		perm := rng.Perm(len(pool))
		for i := range out {
			out[i] = pool[perm[i]]
		}
	}
	return out
}

func (g *Grouped) groupPool(idx int, includeSelf bool) []int {
	var pool []int
	for i, f := range g.flags {
		if f != g.flags[idx] {
			continue
		}
		if i == idx && !includeSelf {
			continue
		}
		pool = append(pool, i)
	}
	return pool
}
