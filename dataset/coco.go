package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// cocoFile mirrors the subset of a COCO annotation file the dataset needs.
type cocoFile struct {
	Images []struct {
		ID       int    `json:"id"`
		FileName string `json:"file_name"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
	} `json:"images"`
	Annotations []struct {
		ImageID    int        `json:"image_id"`
		BBox       [4]float32 `json:"bbox"`
		CategoryID int        `json:"category_id"`
		IsCrowd    int        `json:"iscrowd"`
	} `json:"annotations"`
	Categories []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
}

// CocoDetection is a detection dataset backed by a COCO annotation file.
// Category ids are mapped to contiguous zero-based labels in the order the
// categories appear; crowd annotations land in the ignore lists.
type CocoDetection struct {
	root    string
	items   []ItemInfo
	anns    []AnnInfo
	classes []string
	catIDs  []int
}

// CocoDetectionConfig configures a CocoDetection dataset.
type CocoDetectionConfig struct {
	// AnnotationFile is the COCO JSON path.
	AnnotationFile string `json:"annotation_file" yaml:"annotation_file"`
	// ImageRoot prefixes the per-image file names.
	ImageRoot string `json:"image_root" yaml:"image_root"`
	// MinImageSize filters out images whose smaller side is below it.
	MinImageSize int `json:"min_image_size,omitempty" yaml:"min_image_size,omitempty"`
}

// NewCocoDetection parses the annotation file and indexes it per image.
func NewCocoDetection(cfg CocoDetectionConfig) (*CocoDetection, error) {
	data, err := os.ReadFile(cfg.AnnotationFile)
	if err != nil {
		return nil, errors.Wrapf(err, "read annotations %s", cfg.AnnotationFile)
	}
	var file cocoFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse annotations %s", cfg.AnnotationFile)
	}

	catToLabel := make(map[int]int, len(file.Categories))
	classes := make([]string, 0, len(file.Categories))
	catIDs := make([]int, 0, len(file.Categories))
	for i, cat := range file.Categories {
		catToLabel[cat.ID] = i
		classes = append(classes, cat.Name)
		catIDs = append(catIDs, cat.ID)
	}

	annsByImage := make(map[int]AnnInfo)
	for _, ann := range file.Annotations {
		label, ok := catToLabel[ann.CategoryID]
		if !ok {
			return nil, errors.Errorf("annotations %s: unknown category id %d", cfg.AnnotationFile, ann.CategoryID)
		}
		box := images.Box{
			X1: ann.BBox[0], Y1: ann.BBox[1],
			X2: ann.BBox[0] + ann.BBox[2], Y2: ann.BBox[1] + ann.BBox[3],
		}
		entry := annsByImage[ann.ImageID]
		if ann.IsCrowd != 0 {
			entry.IgnoreBoxes = append(entry.IgnoreBoxes, box)
			entry.IgnoreLabels = append(entry.IgnoreLabels, label)
		} else {
			entry.Boxes = append(entry.Boxes, box)
			entry.Labels = append(entry.Labels, label)
		}
		annsByImage[ann.ImageID] = entry
	}

	ds := &CocoDetection{root: cfg.ImageRoot, classes: classes, catIDs: catIDs}
	for _, img := range file.Images {
		if cfg.MinImageSize > 0 && (img.Width < cfg.MinImageSize || img.Height < cfg.MinImageSize) {
			continue
		}
		ds.items = append(ds.items, ItemInfo{
			Filename: img.FileName, ImageID: img.ID,
			Width: img.Width, Height: img.Height,
		})
		ann := annsByImage[img.ID]
		if ann.Boxes == nil {
			ann.Boxes = []images.Box{}
		}
		if ann.Labels == nil {
			ann.Labels = []int{}
		}
		ds.anns = append(ds.anns, ann)
	}
	if len(ds.items) == 0 {
		return nil, errors.Errorf("annotations %s: no usable images", cfg.AnnotationFile)
	}
	return ds, nil
}

// Classes returns the category names in label order.
func (d *CocoDetection) Classes() []string { return d.classes }

// CategoryID returns the raw category id behind a contiguous label.
func (d *CocoDetection) CategoryID(label int) int { return d.catIDs[label] }

// Len implements Dataset.
func (d *CocoDetection) Len() int { return len(d.items) }

// ItemInfo implements Dataset.
func (d *CocoDetection) ItemInfo(idx int) (ItemInfo, error) {
	if idx < 0 || idx >= len(d.items) {
		return ItemInfo{}, errors.Errorf("coco dataset: index %d outside [0, %d)", idx, len(d.items))
	}
	return d.items[idx], nil
}

// AnnInfo implements Dataset.
func (d *CocoDetection) AnnInfo(idx int) (AnnInfo, error) {
	if idx < 0 || idx >= len(d.anns) {
		return AnnInfo{}, errors.Errorf("coco dataset: index %d outside [0, %d)", idx, len(d.anns))
	}
	return d.anns[idx], nil
}

// LoadRecord implements Dataset.
func (d *CocoDetection) LoadRecord(idx int) (*pipeline.Record, error) {
	info, err := d.ItemInfo(idx)
	if err != nil {
		return nil, err
	}
	ann, err := d.AnnInfo(idx)
	if err != nil {
		return nil, err
	}
	img, err := ReadImage(filepath.Join(d.root, info.Filename))
	if err != nil {
		return nil, err
	}
	// Annotation arrays are shared across loads; the record must own its own
	// copies before the pipeline mutates them.
	annCopy := AnnInfo{
		Boxes:        images.CloneBoxes(ann.Boxes),
		Labels:       append([]int(nil), ann.Labels...),
		IgnoreBoxes:  images.CloneBoxes(ann.IgnoreBoxes),
		IgnoreLabels: append([]int(nil), ann.IgnoreLabels...),
	}
	return newRecord(idx, info, annCopy, img), nil
}
