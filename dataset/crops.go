package dataset

import (
	"path/filepath"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/coco"
	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// Crop is one box cut out of a source image, resized to the embedding input
// size. Reference crops carry a Label and a BBoxID of -1; query crops carry
// the detection's annotation id and a Label of -1.
type Crop struct {
	Image  *images.Image
	Label  int
	BBoxID int
	Box    images.Box
}

// CropSet enumerates box crops for the embedding stage.
type CropSet interface {
	Len() int
	Crop(idx int) (*Crop, error)
}

// cropSource locates one crop in its source image.
type cropSource struct {
	file   string
	box    images.Box
	label  int
	bboxID int
}

// cropSet cuts boxes out of images on demand, caching the most recently
// decoded image since crops of one image are enumerated consecutively.
type cropSet struct {
	root     string
	size     pipeline.Scale
	sources  []cropSource
	lastFile string
	lastImg  *images.Image
}

// ReferenceCropsConfig configures a labeled crop set built from ground-truth
// annotations.
type ReferenceCropsConfig struct {
	// AnnotationFile is the COCO JSON carrying ground-truth boxes.
	AnnotationFile string `json:"annotation_file" yaml:"annotation_file"`
	// ImageRoot prefixes the per-image file names.
	ImageRoot string `json:"image_root" yaml:"image_root"`
	// CropSize is the (width, height) every crop is resized to.
	CropSize pipeline.Scale `json:"crop_size" yaml:"crop_size"`
}

// NewReferenceCrops builds one labeled crop per ground-truth annotation. The
// labels are the raw reference category ids.
func NewReferenceCrops(cfg ReferenceCropsConfig) (CropSet, error) {
	if cfg.CropSize.W <= 0 || cfg.CropSize.H <= 0 {
		return nil, errors.Errorf("reference crops: non-positive crop size %dx%d", cfg.CropSize.W, cfg.CropSize.H)
	}
	ds, err := NewCocoDetection(CocoDetectionConfig{
		AnnotationFile: cfg.AnnotationFile,
		ImageRoot:      cfg.ImageRoot,
	})
	if err != nil {
		return nil, err
	}

	set := &cropSet{root: cfg.ImageRoot, size: cfg.CropSize}
	for i := 0; i < ds.Len(); i++ {
		info, _ := ds.ItemInfo(i)
		ann, _ := ds.AnnInfo(i)
		for j, box := range ann.Boxes {
			// AnnInfo labels are contiguous; the mapping stage wants the raw
			// reference category ids.
			set.sources = append(set.sources, cropSource{
				file: info.Filename, box: box, label: ds.CategoryID(ann.Labels[j]), bboxID: -1,
			})
		}
	}
	if len(set.sources) == 0 {
		return nil, errors.Errorf("reference crops: no annotations in %s", cfg.AnnotationFile)
	}
	return set, nil
}

// QueryCropsConfig configures an unlabeled crop set built from serialized
// detections.
type QueryCropsConfig struct {
	// DetectionFile is the serialized detection JSON.
	DetectionFile string `json:"detection_file" yaml:"detection_file"`
	// ImageRoot prefixes the per-image file names.
	ImageRoot string `json:"image_root" yaml:"image_root"`
	// CropSize is the (width, height) every crop is resized to.
	CropSize pipeline.Scale `json:"crop_size" yaml:"crop_size"`
}

// NewQueryCrops builds one crop per detection, keyed by its annotation id.
func NewQueryCrops(cfg QueryCropsConfig) (CropSet, error) {
	if cfg.CropSize.W <= 0 || cfg.CropSize.H <= 0 {
		return nil, errors.Errorf("query crops: non-positive crop size %dx%d", cfg.CropSize.W, cfg.CropSize.H)
	}
	dets, err := coco.ReadDetections(cfg.DetectionFile)
	if err != nil {
		return nil, err
	}
	fileByImage := make(map[int]string, len(dets.Images))
	for _, img := range dets.Images {
		fileByImage[img.ID] = img.FileName
	}

	set := &cropSet{root: cfg.ImageRoot, size: cfg.CropSize}
	for _, ann := range dets.Annotations {
		file, ok := fileByImage[ann.ImageID]
		if !ok {
			return nil, errors.Errorf("query crops: annotation %d references unknown image %d", ann.ID, ann.ImageID)
		}
		set.sources = append(set.sources, cropSource{
			file: file,
			box: images.Box{
				X1: float32(ann.BBox[0]),
				Y1: float32(ann.BBox[1]),
				X2: float32(ann.BBox[0] + ann.BBox[2]),
				Y2: float32(ann.BBox[1] + ann.BBox[3]),
			},
			label:  -1,
			bboxID: ann.ID,
		})
	}
	if len(set.sources) == 0 {
		return nil, errors.Errorf("query crops: no detections in %s", cfg.DetectionFile)
	}
	return set, nil
}

// Len implements CropSet.
func (s *cropSet) Len() int { return len(s.sources) }

// Crop implements CropSet.
func (s *cropSet) Crop(idx int) (*Crop, error) {
	if idx < 0 || idx >= len(s.sources) {
		return nil, errors.Errorf("crops: index %d outside [0, %d)", idx, len(s.sources))
	}
	src := s.sources[idx]

	if s.lastFile != src.file || s.lastImg == nil {
		img, err := ReadImage(filepath.Join(s.root, src.file))
		if err != nil {
			return nil, err
		}
		s.lastFile, s.lastImg = src.file, img
	}

	cut, err := images.Crop(s.lastImg, src.box)
	if err != nil {
		return nil, errors.Wrapf(err, "crops: cut %d from %s", idx, src.file)
	}
	resized := resize.Resize(uint(s.size.W), uint(s.size.H), cut.ToGoImage(), resize.Bilinear)
	return &Crop{
		Image:  images.FromGoImage(resized),
		Label:  src.label,
		BBoxID: src.bboxID,
		Box:    src.box,
	}, nil
}
