package dataset

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// fakeDataset serves fixed-size samples without touching the filesystem.
type fakeDataset struct {
	infos []ItemInfo
	loads int
}

func (d *fakeDataset) Len() int { return len(d.infos) }

func (d *fakeDataset) ItemInfo(idx int) (ItemInfo, error) { return d.infos[idx], nil }

func (d *fakeDataset) AnnInfo(idx int) (AnnInfo, error) { return AnnInfo{}, nil }

func (d *fakeDataset) LoadRecord(idx int) (*pipeline.Record, error) {
	d.loads++
	info := d.infos[idx]
	img := images.NewFilled(info.Height, info.Width, []float32{0, 0, 0})
	shape := pipeline.ShapeOf(img)
	return &pipeline.Record{
		Filename:    info.Filename,
		Index:       idx,
		ImageID:     info.ImageID,
		Image:       img,
		OrigShape:   shape,
		Shape:       shape,
		PadShape:    shape,
		ScaleFactor: pipeline.ScaleFactor{W: 1, H: 1},
	}, nil
}

func newFakeDataset(sizes ...[2]int) *fakeDataset {
	d := &fakeDataset{}
	for i, wh := range sizes {
		d.infos = append(d.infos, ItemInfo{
			Filename: "img.jpg", ImageID: i, Width: wh[0], Height: wh[1],
		})
	}
	return d
}

func TestGroupedFlags(t *testing.T) {
	// Landscape samples group together, square and portrait ones together.
	ds := newFakeDataset([2]int{40, 20}, [2]int{20, 40}, [2]int{60, 20}, [2]int{20, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		assert.Contains(t, []int{0, 2}, g.RandAnother(rng, 0))
		assert.Contains(t, []int{1, 3}, g.RandAnother(rng, 3))
	}
}

func TestBatchRandOthersExcludesSelf(t *testing.T) {
	ds := newFakeDataset([2]int{40, 20}, [2]int{40, 20}, [2]int{40, 20}, [2]int{40, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	picks := g.BatchRandOthers(rng, 1, 3)
	require.Len(t, picks, 3)
	seen := map[int]bool{}
	for _, p := range picks {
		assert.NotEqual(t, 1, p)
		assert.False(t, seen[p], "a large enough pool draws without replacement")
		seen[p] = true
	}
}

func TestBatchRandOthersSmallPools(t *testing.T) {
	// Index 1 is the lone portrait sample, so its peer pool is empty.
	ds := newFakeDataset([2]int{40, 20}, [2]int{20, 40}, [2]int{40, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	assert.Equal(t, []int{1, 1, 1}, g.BatchRandOthers(rng, 1, 3))

	for _, p := range g.BatchRandOthers(rng, 0, 5) {
		assert.Equal(t, 2, p, "a pool smaller than n draws from it with replacement")
	}
}

// rejectFirst rejects its first n applications and passes afterwards.
type rejectFirst struct {
	n     int
	calls int
}

func (s *rejectFirst) Name() string { return "flaky" }

func (s *rejectFirst) Apply(_ *rand.Rand, rec *pipeline.Record) (*pipeline.Record, error) {
	s.calls++
	if s.calls <= s.n {
		return nil, pipeline.Reject(s.Name(), "attempt %d", s.calls)
	}
	return rec, nil
}

func TestLoaderResamplesOnRejection(t *testing.T) {
	ds := newFakeDataset([2]int{40, 20}, [2]int{40, 20}, [2]int{40, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	stage := &rejectFirst{n: 2}
	loader, err := NewLoader(g, pipeline.NewCompose(stage), LoaderConfig{})
	require.NoError(t, err)

	rec, err := loader.Sample(rand.New(rand.NewSource(1)), 0)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, stage.calls)
	assert.Equal(t, 3, ds.loads, "each rejection reloads a fresh record")
}

func TestLoaderResampleCap(t *testing.T) {
	ds := newFakeDataset([2]int{40, 20}, [2]int{40, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	stage := &rejectFirst{n: 1 << 30}
	loader, err := NewLoader(g, pipeline.NewCompose(stage), LoaderConfig{MaxResamples: 4})
	require.NoError(t, err)

	_, err = loader.Sample(rand.New(rand.NewSource(1)), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 4 resamples")
	assert.Equal(t, 5, stage.calls, "the original draw plus the capped resamples")
}

func TestLoaderTestModeSurfacesRejection(t *testing.T) {
	ds := newFakeDataset([2]int{40, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	stage := &rejectFirst{n: 1}
	loader, err := NewLoader(g, pipeline.NewCompose(stage), LoaderConfig{TestMode: true})
	require.NoError(t, err)

	_, err = loader.Sample(rand.New(rand.NewSource(1)), 0)
	require.Error(t, err)
	assert.True(t, pipeline.IsRejection(err), "test mode does not hide the rejection")
	assert.Equal(t, 1, stage.calls)
}

// tagStage records the dataset index it saw, for order checks.
type tagStage struct{}

func (tagStage) Name() string { return "tag" }

func (tagStage) Apply(_ *rand.Rand, rec *pipeline.Record) (*pipeline.Record, error) {
	return rec, nil
}

func TestLoaderBatchPreservesOrder(t *testing.T) {
	ds := newFakeDataset([2]int{40, 20}, [2]int{40, 20}, [2]int{40, 20}, [2]int{40, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	loader, err := NewLoader(g, pipeline.NewCompose(tagStage{}), LoaderConfig{Workers: 3})
	require.NoError(t, err)

	indices := []int{2, 0, 3, 1}
	recs, err := loader.Batch(context.Background(), indices)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for slot, want := range indices {
		assert.Equal(t, want, recs[slot].Index, "slot %d", slot)
	}
}

func TestLoaderBatchCancelled(t *testing.T) {
	ds := newFakeDataset([2]int{40, 20}, [2]int{40, 20})
	g, err := NewGrouped(ds)
	require.NoError(t, err)

	loader, err := NewLoader(g, pipeline.NewCompose(tagStage{}), LoaderConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.Batch(ctx, []int{0, 1})
	assert.Error(t, err)
}
