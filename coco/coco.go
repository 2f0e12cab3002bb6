// Package coco - COCO-style JSON serialization for detection results and
// category taxonomies, plus the name-based mapping between two taxonomies.
package coco

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/roi"
)

// Image is one entry of the "images" list.
type Image struct {
	FileName string `json:"file_name"`
	ID       int    `json:"id"`
}

// Annotation is one entry of the "annotations" list. BBox is [x, y, w, h] in
// integer pixels.
type Annotation struct {
	ImageID    int     `json:"image_id"`
	ID         int     `json:"id"`
	BBox       [4]int  `json:"bbox"`
	CategoryID int     `json:"category_id"`
	Score      float32 `json:"score"`
}

// DetectionFile is the serialized detection output.
type DetectionFile struct {
	Images      []Image      `json:"images"`
	Annotations []Annotation `json:"annotations"`
}

// Category is one entry of a taxonomy's "categories" list.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Taxonomy is the category table of an annotation file. Fields other than
// categories are ignored on read and preserved nowhere.
type Taxonomy struct {
	Categories []Category `json:"categories"`
}

// ImageDetections couples one image's identity with its detections.
type ImageDetections struct {
	FileName   string
	ImageID    int
	Detections []roi.Detection
}

// BuildDetectionFile converts per-image detections into the serialized form.
// Boxes become integer [x, y, w, h] with a +0.5 rounding bias on both the
// origin and the extent; annotation ids are assigned monotonically across the
// whole file starting at zero.
func BuildDetectionFile(results []ImageDetections) *DetectionFile {
	out := &DetectionFile{
		Images:      make([]Image, 0, len(results)),
		Annotations: []Annotation{},
	}
	annID := 0
	for _, res := range results {
		out.Images = append(out.Images, Image{FileName: res.FileName, ID: res.ImageID})
		for _, det := range res.Detections {
			out.Annotations = append(out.Annotations, Annotation{
				ImageID: res.ImageID,
				ID:      annID,
				BBox: [4]int{
					int(det.Box.X1 + 0.5),
					int(det.Box.Y1 + 0.5),
					int(det.Box.X2 - det.Box.X1 + 0.5),
					int(det.Box.Y2 - det.Box.Y1 + 0.5),
				},
				CategoryID: det.Label,
				Score:      det.Score,
			})
			annID++
		}
	}
	return out
}

// WriteDetections serializes a detection file as JSON.
func WriteDetections(path string, file *DetectionFile) error {
	return writeJSON(path, file)
}

// ReadDetections parses a detection file.
func ReadDetections(path string) (*DetectionFile, error) {
	var file DetectionFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// ReadTaxonomy parses the category table of an annotation file.
func ReadTaxonomy(path string) (*Taxonomy, error) {
	var tax Taxonomy
	if err := readJSON(path, &tax); err != nil {
		return nil, err
	}
	return &tax, nil
}

// UnmatchedPolicy decides what happens to a reference category whose name has
// no counterpart in the query taxonomy.
type UnmatchedPolicy int

const (
	// UnmatchedFail aborts the mapping with an error naming the categories.
	UnmatchedFail UnmatchedPolicy = iota
	// UnmatchedDrop leaves the category out of the mapping.
	UnmatchedDrop
	// UnmatchedMapToID maps the category to a configured fallback id.
	UnmatchedMapToID
)

// BuildLabelMapping matches reference categories to query categories by exact
// name and returns the reference-id to query-id mapping.
//
// Arguments:
//   - ref: Taxonomy whose ids appear in the inferred labels.
//   - qry: Taxonomy whose ids the submission must carry.
//   - policy: Handling of reference names absent from qry.
//   - fallbackID: Target id for UnmatchedMapToID.
//
// Returns:
//   - map[int]int: Reference category id to query category id.
//   - error: Non-nil for duplicate query names or unmatched names under
//     UnmatchedFail.
func BuildLabelMapping(ref, qry *Taxonomy, policy UnmatchedPolicy, fallbackID int) (map[int]int, error) {
	byName := make(map[string]int, len(qry.Categories))
	for _, cat := range qry.Categories {
		if _, dup := byName[cat.Name]; dup {
			return nil, errors.Errorf("label mapping: duplicate query category name %q", cat.Name)
		}
		byName[cat.Name] = cat.ID
	}

	mapping := make(map[int]int, len(ref.Categories))
	var unmatched []string
	for _, cat := range ref.Categories {
		if qid, ok := byName[cat.Name]; ok {
			mapping[cat.ID] = qid
			continue
		}
		switch policy {
		case UnmatchedFail:
			unmatched = append(unmatched, cat.Name)
		case UnmatchedDrop:
		case UnmatchedMapToID:
			mapping[cat.ID] = fallbackID
		default:
			return nil, errors.Errorf("label mapping: unknown policy %d", policy)
		}
	}
	if len(unmatched) > 0 {
		sort.Strings(unmatched)
		return nil, errors.Errorf("label mapping: unmatched reference categories %v", unmatched)
	}
	return mapping, nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func readJSON(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
