package coco

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/roi"
)

func TestBuildDetectionFileRoundsBoxes(t *testing.T) {
	results := []ImageDetections{
		{
			FileName: "a.jpg", ImageID: 7,
			Detections: []roi.Detection{
				{Box: images.Box{X1: 10.4, Y1: 20.6, X2: 31.0, Y2: 40.7}, Score: 0.9, Label: 3},
				{Box: images.Box{X1: 0, Y1: 0, X2: 5, Y2: 5}, Score: 0.5, Label: 1},
			},
		},
		{
			FileName: "b.jpg", ImageID: 8,
			Detections: []roi.Detection{
				{Box: images.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, Score: 0.7, Label: 2},
			},
		},
	}

	file := BuildDetectionFile(results)
	require.Len(t, file.Images, 2)
	require.Len(t, file.Annotations, 3)

	assert.Equal(t, Image{FileName: "a.jpg", ID: 7}, file.Images[0])

	// Origin and extent both round half-up independently.
	assert.Equal(t, [4]int{10, 21, 21, 20}, file.Annotations[0].BBox)
	assert.Equal(t, 3, file.Annotations[0].CategoryID)
	assert.Equal(t, 7, file.Annotations[0].ImageID)

	for i, ann := range file.Annotations {
		assert.Equal(t, i, ann.ID, "annotation ids count up across images")
	}
	assert.Equal(t, 8, file.Annotations[2].ImageID)
}

func TestBuildDetectionFileEmptyImage(t *testing.T) {
	file := BuildDetectionFile([]ImageDetections{{FileName: "empty.jpg", ImageID: 1}})
	assert.Len(t, file.Images, 1)
	assert.NotNil(t, file.Annotations, "annotations serialize as [] rather than null")
	assert.Empty(t, file.Annotations)
}

func TestDetectionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.json")
	file := BuildDetectionFile([]ImageDetections{
		{FileName: "a.jpg", ImageID: 1, Detections: []roi.Detection{
			{Box: images.Box{X1: 1, Y1: 2, X2: 11, Y2: 12}, Score: 0.25, Label: 4},
		}},
	})

	require.NoError(t, WriteDetections(path, file))
	back, err := ReadDetections(path)
	require.NoError(t, err)
	assert.Equal(t, file, back)
}

func TestReadTaxonomy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.json")
	body := `{"info": {"year": 2024}, "categories": [{"id": 5, "name": "apple"}, {"id": 9, "name": "banana"}], "images": []}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	tax, err := ReadTaxonomy(path)
	require.NoError(t, err)
	require.Len(t, tax.Categories, 2)
	assert.Equal(t, Category{ID: 5, Name: "apple"}, tax.Categories[0])

	_, err = ReadTaxonomy(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestBuildLabelMappingByName(t *testing.T) {
	ref := &Taxonomy{Categories: []Category{{ID: 1, Name: "apple"}, {ID: 2, Name: "banana"}}}
	qry := &Taxonomy{Categories: []Category{{ID: 10, Name: "banana"}, {ID: 20, Name: "apple"}}}

	mapping, err := BuildLabelMapping(ref, qry, UnmatchedFail, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 20, 2: 10}, mapping)
}

func TestBuildLabelMappingUnmatchedPolicies(t *testing.T) {
	ref := &Taxonomy{Categories: []Category{
		{ID: 1, Name: "apple"},
		{ID: 2, Name: "zebra"},
		{ID: 3, Name: "yak"},
	}}
	qry := &Taxonomy{Categories: []Category{{ID: 10, Name: "apple"}}}

	_, err := BuildLabelMapping(ref, qry, UnmatchedFail, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[yak zebra]", "unmatched names are listed sorted")

	mapping, err := BuildLabelMapping(ref, qry, UnmatchedDrop, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 10}, mapping)

	mapping, err = BuildLabelMapping(ref, qry, UnmatchedMapToID, 99)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 10, 2: 99, 3: 99}, mapping)
}

func TestBuildLabelMappingDuplicateQueryName(t *testing.T) {
	ref := &Taxonomy{Categories: []Category{{ID: 1, Name: "apple"}}}
	qry := &Taxonomy{Categories: []Category{{ID: 10, Name: "apple"}, {ID: 11, Name: "apple"}}}

	_, err := BuildLabelMapping(ref, qry, UnmatchedFail, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
