package roi

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// NMSConfig holds the thresholds for multiclass non-maximum suppression.
type NMSConfig struct {
	// ScoreThr drops candidates below this confidence before suppression.
	ScoreThr float32 `json:"score_thr" yaml:"score_thr"`
	// IoUThr suppresses a candidate overlapping a kept one above this IoU.
	IoUThr float32 `json:"iou_thr" yaml:"iou_thr"`
	// MaxPerImage caps the detections kept per image. Zero means no cap.
	MaxPerImage int `json:"max_per_image" yaml:"max_per_image"`
}

// Validate checks the threshold ranges.
func (c NMSConfig) Validate() error {
	if c.ScoreThr < 0 || c.ScoreThr > 1 {
		return errors.Errorf("nms: score threshold %v outside [0, 1]", c.ScoreThr)
	}
	if c.IoUThr < 0 || c.IoUThr > 1 {
		return errors.Errorf("nms: iou threshold %v outside [0, 1]", c.IoUThr)
	}
	if c.MaxPerImage < 0 {
		return errors.Errorf("nms: negative per-image cap %d", c.MaxPerImage)
	}
	return nil
}

// MulticlassNMS suppresses overlapping candidates independently per class and
// returns the survivors sorted by descending score.
//
// Arguments:
//   - boxes: Per candidate, either a single class-agnostic box or one box per
//     class.
//   - scores: Per candidate, one score per class plus a trailing background
//     column that is ignored.
//   - cfg: Score threshold, IoU threshold and per-image cap.
//
// Returns:
//   - []Detection: Kept detections with zero-based class labels, sorted by
//     descending score.
//   - error: Non-nil on shape mismatches or bad thresholds.
func MulticlassNMS(boxes [][]images.Box, scores [][]float32, cfg NMSConfig) ([]Detection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(boxes) != len(scores) {
		return nil, errors.Errorf("nms: %d box rows but %d score rows", len(boxes), len(scores))
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	numClasses := len(scores[0]) - 1
	if numClasses < 1 {
		return nil, errors.Errorf("nms: need at least 1 class plus background, got %d columns", len(scores[0]))
	}

	// Collect per-class candidates above the score threshold.
	perClass := make([][]Detection, numClasses)
	for i := range boxes {
		if len(scores[i]) != numClasses+1 {
			return nil, errors.Errorf("nms: candidate %d has %d score columns, want %d", i, len(scores[i]), numClasses+1)
		}
		if len(boxes[i]) != 1 && len(boxes[i]) != numClasses {
			return nil, errors.Errorf("nms: candidate %d has %d boxes, want 1 or %d", i, len(boxes[i]), numClasses)
		}
		for c := 0; c < numClasses; c++ {
			if scores[i][c] <= cfg.ScoreThr {
				continue
			}
			b := boxes[i][0]
			if len(boxes[i]) == numClasses {
				b = boxes[i][c]
			}
			perClass[c] = append(perClass[c], Detection{Box: b, Score: scores[i][c], Label: c})
		}
	}

	var kept []Detection
	for c := range perClass {
		kept = append(kept, nmsGreedy(perClass[c], cfg.IoUThr)...)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if cfg.MaxPerImage > 0 && len(kept) > cfg.MaxPerImage {
		kept = kept[:cfg.MaxPerImage]
	}
	return kept, nil
}

// nmsGreedy keeps the highest-scoring candidate and discards every later one
// overlapping a kept candidate above the threshold.
func nmsGreedy(dets []Detection, iouThr float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Score > dets[j].Score })
	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if d.Box.IoU(k.Box) > iouThr {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}
