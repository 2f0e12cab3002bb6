package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// ReadImage decodes an image file into the pipeline's float32 BGR buffer.
func ReadImage(path string) (*images.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, errors.Errorf("read image %s: empty decode", path)
	}
	defer mat.Close()
	return matToImage(&mat)
}

// DecodeImage decodes encoded image bytes into the pipeline's buffer.
func DecodeImage(data []byte) (*images.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	if mat.Empty() {
		return nil, errors.New("decode image: empty decode")
	}
	defer mat.Close()
	return matToImage(&mat)
}

// matToImage converts an 8-bit BGR matrix into a float32 buffer with the
// same channel order.
func matToImage(mat *gocv.Mat) (*images.Image, error) {
	data := mat.ToBytes()
	img := images.New(mat.Rows(), mat.Cols(), mat.Channels())
	if len(data) != len(img.Pix) {
		return nil, errors.Errorf("decode image: %d bytes for %dx%dx%d", len(data), mat.Rows(), mat.Cols(), mat.Channels())
	}
	for i, b := range data {
		img.Pix[i] = float32(b)
	}
	return img, nil
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true,
}

// ImageFolder is a dataset over the image files of one directory, ordered by
// file name. Image ids are assigned by position. Dimensions are not known
// until a sample is loaded, so ItemInfo reports them as zero beforehand.
type ImageFolder struct {
	root  string
	files []string
	dims  []pipeline.Shape
}

// NewImageFolder lists the directory's image files.
func NewImageFolder(root string) (*ImageFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "list image folder %s", root)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, errors.Errorf("image folder %s: no images", root)
	}
	return &ImageFolder{root: root, files: files, dims: make([]pipeline.Shape, len(files))}, nil
}

// Len implements Dataset.
func (f *ImageFolder) Len() int { return len(f.files) }

// ItemInfo implements Dataset.
func (f *ImageFolder) ItemInfo(idx int) (ItemInfo, error) {
	if idx < 0 || idx >= len(f.files) {
		return ItemInfo{}, errors.Errorf("image folder: index %d outside [0, %d)", idx, len(f.files))
	}
	return ItemInfo{
		Filename: f.files[idx],
		ImageID:  idx,
		Width:    f.dims[idx].Width,
		Height:   f.dims[idx].Height,
	}, nil
}

// AnnInfo implements Dataset. Folders carry no annotations.
func (f *ImageFolder) AnnInfo(int) (AnnInfo, error) { return AnnInfo{}, nil }

// LoadRecord implements Dataset.
func (f *ImageFolder) LoadRecord(idx int) (*pipeline.Record, error) {
	info, err := f.ItemInfo(idx)
	if err != nil {
		return nil, err
	}
	img, err := ReadImage(filepath.Join(f.root, info.Filename))
	if err != nil {
		return nil, err
	}
	f.dims[idx] = pipeline.ShapeOf(img)
	return newRecord(idx, info, AnnInfo{}, img), nil
}

// newRecord seeds a pipeline record from loaded pixels and annotations.
func newRecord(idx int, info ItemInfo, ann AnnInfo, img *images.Image) *pipeline.Record {
	shape := pipeline.ShapeOf(img)
	rec := &pipeline.Record{
		Filename:     info.Filename,
		Index:        idx,
		ImageID:      info.ImageID,
		Image:        img,
		Boxes:        ann.Boxes,
		Labels:       ann.Labels,
		IgnoreBoxes:  ann.IgnoreBoxes,
		IgnoreLabels: ann.IgnoreLabels,
		OrigShape:    shape,
		Shape:        shape,
		PadShape:     shape,
		ScaleFactor:  pipeline.ScaleFactor{W: 1, H: 1},
	}
	if ann.Boxes != nil {
		rec.Groups.Boxes = true
	}
	return rec
}
