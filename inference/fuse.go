package inference

import (
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/coco"
)

// FuseConfig configures the final label fusion.
type FuseConfig struct {
	// ScoreThr drops detections below this confidence from the submission.
	ScoreThr float32 `json:"score_thr" yaml:"score_thr"`
	// Rank selects which rank's labels to fuse. Defaults to 1.
	Rank int `json:"rank,omitempty" yaml:"rank,omitempty"`
}

// FuseLabels overwrites each detection's category with its inferred label
// and filters low-confidence detections. Every annotation id must have an
// inferred label; a hole means the query stage and the detection file have
// drifted apart and is reported as an error.
func FuseLabels(dets *coco.DetectionFile, labels *LabelResult, cfg FuseConfig) (*coco.DetectionFile, error) {
	if cfg.Rank == 0 {
		cfg.Rank = 1
	}
	ranked, ok := labels.LabelsByRank[cfg.Rank]
	if !ok {
		return nil, errors.Errorf("fuse: no labels for rank %d", cfg.Rank)
	}
	if len(ranked) != len(labels.BBoxIDs) {
		return nil, errors.Errorf("fuse: %d labels for %d ids", len(ranked), len(labels.BBoxIDs))
	}
	byID := make(map[int]int, len(ranked))
	for i, id := range labels.BBoxIDs {
		byID[id] = ranked[i]
	}

	out := &coco.DetectionFile{
		Images:      append([]coco.Image(nil), dets.Images...),
		Annotations: []coco.Annotation{},
	}
	for _, ann := range dets.Annotations {
		label, ok := byID[ann.ID]
		if !ok {
			return nil, errors.Errorf("fuse: annotation %d has no inferred label", ann.ID)
		}
		if ann.Score < cfg.ScoreThr {
			continue
		}
		ann.CategoryID = label
		out.Annotations = append(out.Annotations, ann)
	}
	return out, nil
}
