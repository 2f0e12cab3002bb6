package inference

import (
	"context"
	"log"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/coco"
	"github.com/visionkit-ai/go-visionkit/dataset"
	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/models"
	"github.com/visionkit-ai/go-visionkit/pipeline"
	"github.com/visionkit-ai/go-visionkit/profiler"
	"github.com/visionkit-ai/go-visionkit/roi"
)

// Config wires the full two-stage run.
type Config struct {
	Detector models.DetectorSpec `json:"detector" yaml:"detector"`
	Embedder models.EmbedderSpec `json:"embedder" yaml:"embedder"`

	// QueryImageRoot holds the images to detect on; query crops are cut
	// from the same images.
	QueryImageRoot string `json:"query_image_root" yaml:"query_image_root"`
	// ReferenceImageRoot holds the labeled reference images.
	ReferenceImageRoot string `json:"reference_image_root" yaml:"reference_image_root"`
	// ReferenceAnnotations is the COCO file with reference boxes and the
	// reference taxonomy.
	ReferenceAnnotations string `json:"reference_annotations" yaml:"reference_annotations"`
	// QueryAnnotations supplies the query taxonomy for the label mapping.
	QueryAnnotations string `json:"query_annotations" yaml:"query_annotations"`

	// DetectionJSON and SubmissionJSON are the two serialized outputs.
	DetectionJSON  string `json:"detection_json" yaml:"detection_json"`
	SubmissionJSON string `json:"submission_json" yaml:"submission_json"`

	// DetectPipeline preprocesses each image before detection.
	DetectPipeline []pipeline.StageSpec `json:"detect_pipeline" yaml:"detect_pipeline"`
	// DetectBatch and EmbedBatch bound the per-run batch sizes.
	// Default to 8 and 32.
	DetectBatch int `json:"detect_batch,omitempty" yaml:"detect_batch,omitempty"`
	EmbedBatch  int `json:"embed_batch,omitempty" yaml:"embed_batch,omitempty"`

	// CropSize is the embedding input size.
	CropSize pipeline.Scale `json:"crop_size" yaml:"crop_size"`
	// EmbedNorm normalizes crops before embedding.
	EmbedNorm pipeline.NormalizeConfig `json:"embed_norm" yaml:"embed_norm"`

	// Unmatched and FallbackCategoryID control reference categories whose
	// name is absent from the query taxonomy.
	Unmatched          coco.UnmatchedPolicy `json:"unmatched" yaml:"unmatched"`
	FallbackCategoryID int                  `json:"fallback_category_id,omitempty" yaml:"fallback_category_id,omitempty"`

	// RankList are the k values labels are computed for. Defaults to [1].
	RankList []int `json:"rank_list,omitempty" yaml:"rank_list,omitempty"`
	// Fuse filters and relabels the final submission.
	Fuse FuseConfig `json:"fuse" yaml:"fuse"`

	// Seed drives the (pinned) random state of the preprocess pipeline.
	Seed int64 `json:"seed" yaml:"seed"`

	// Profile logs a per-phase timing report at the end of the run.
	Profile bool `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Orchestrator runs the two-stage pipeline: detect and serialize, embed
// reference and query crops, assign labels by nearest neighbors and write
// the fused submission.
type Orchestrator struct {
	cfg        Config
	det        models.Detector
	emb        models.Embedder
	detectPipe *pipeline.Compose
	norm       pipeline.Stage
	prof       *profiler.Profiler
}

// New loads both models and builds the preprocessing pipelines.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.DetectBatch == 0 {
		cfg.DetectBatch = 8
	}
	if cfg.EmbedBatch == 0 {
		cfg.EmbedBatch = 32
	}
	if cfg.DetectBatch < 0 || cfg.EmbedBatch < 0 {
		return nil, errors.New("orchestrator: negative batch size")
	}
	if len(cfg.RankList) == 0 {
		cfg.RankList = []int{1}
	}

	detectPipe, err := pipeline.Build(cfg.DetectPipeline)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: detect pipeline")
	}
	norm, err := pipeline.NewNormalize(cfg.EmbedNorm)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: embed normalization")
	}

	det, err := models.NewDetector(cfg.Detector)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: detector")
	}
	emb, err := models.NewEmbedder(cfg.Embedder)
	if err != nil {
		det.Close()
		return nil, errors.Wrap(err, "orchestrator: embedder")
	}
	return &Orchestrator{
		cfg: cfg, det: det, emb: emb,
		detectPipe: detectPipe, norm: norm,
		prof: profiler.New(),
	}, nil
}

// Close releases both model sessions.
func (o *Orchestrator) Close() error {
	detErr := o.det.Close()
	embErr := o.emb.Close()
	if detErr != nil {
		return detErr
	}
	return embErr
}

// Run executes every stage in order and writes both output files.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Printf("running detection task ...")
	var detFile *coco.DetectionFile
	err := o.prof.Track("detect", func() error {
		var err error
		detFile, err = o.Detect(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if err := coco.WriteDetections(o.cfg.DetectionJSON, detFile); err != nil {
		return err
	}
	log.Printf("detections saved at %s", o.cfg.DetectionJSON)

	mapping, err := o.labelMapping()
	if err != nil {
		return err
	}

	log.Printf("(1/3) computing reference embeddings ...")
	var refEmb [][]float32
	var refLabels []int
	err = o.prof.Track("embed reference", func() error {
		var err error
		refEmb, refLabels, err = o.embedReference(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if kept, labels := FilterMappedReferences(refEmb, refLabels, mapping); len(kept) < len(refEmb) {
		log.Printf("dropping %d reference crops with categories outside the mapping", len(refEmb)-len(kept))
		refEmb, refLabels = kept, labels
	}

	log.Printf("(2/3) computing query embeddings ...")
	var qryEmb [][]float32
	var qryIDs []int
	err = o.prof.Track("embed query", func() error {
		var err error
		qryEmb, qryIDs, err = o.embedQuery(ctx)
		return err
	})
	if err != nil {
		return err
	}

	log.Printf("(3/3) inferring query labels ...")
	var labels *LabelResult
	err = o.prof.Track("infer labels", func() error {
		var err error
		labels, err = InferLabels(qryEmb, qryIDs, refEmb, refLabels, mapping, o.cfg.RankList)
		return err
	})
	if err != nil {
		return err
	}

	fused, err := FuseLabels(detFile, labels, o.cfg.Fuse)
	if err != nil {
		return err
	}
	if err := coco.WriteDetections(o.cfg.SubmissionJSON, fused); err != nil {
		return err
	}
	log.Printf("results saved at %s", o.cfg.SubmissionJSON)
	if o.cfg.Profile {
		log.Printf("%s", o.prof.Report())
	}
	return nil
}

// Detect runs the detector over every image in the query folder.
func (o *Orchestrator) Detect(ctx context.Context) (*coco.DetectionFile, error) {
	folder, err := dataset.NewImageFolder(o.cfg.QueryImageRoot)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(o.cfg.Seed))

	var results []coco.ImageDetections
	var pending []*pipeline.Record

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch, err := pipeline.Stack(pending)
		if err != nil {
			return err
		}
		metas := make([]pipeline.Meta, len(pending))
		for i, rec := range pending {
			metas[i] = rec.Meta()
		}
		var dets [][]roi.Detection
		err = o.prof.Track("detector batch", func() error {
			var err error
			dets, err = o.det.Detect(ctx, batch, metas)
			return err
		})
		if err != nil {
			return err
		}
		for i, rec := range pending {
			results = append(results, coco.ImageDetections{
				FileName:   rec.Filename,
				ImageID:    rec.ImageID,
				Detections: dets[i],
			})
		}
		pending = pending[:0]
		return nil
	}

	for idx := 0; idx < folder.Len(); idx++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "detect")
		}
		rec, err := folder.LoadRecord(idx)
		if err != nil {
			return nil, err
		}
		out, err := o.detectPipe.Apply(rng, rec)
		if err != nil {
			return nil, errors.Wrapf(err, "preprocess %s", rec.Filename)
		}
		// Batches require one pad shape; flush on change or when full.
		if len(pending) > 0 && (pending[0].PadShape != out.PadShape || len(pending) == o.cfg.DetectBatch) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		pending = append(pending, out)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return coco.BuildDetectionFile(results), nil
}

// labelMapping builds the reference-to-query category mapping by name.
func (o *Orchestrator) labelMapping() (map[int]int, error) {
	ref, err := coco.ReadTaxonomy(o.cfg.ReferenceAnnotations)
	if err != nil {
		return nil, err
	}
	qry, err := coco.ReadTaxonomy(o.cfg.QueryAnnotations)
	if err != nil {
		return nil, err
	}
	return coco.BuildLabelMapping(ref, qry, o.cfg.Unmatched, o.cfg.FallbackCategoryID)
}

func (o *Orchestrator) embedReference(ctx context.Context) ([][]float32, []int, error) {
	set, err := dataset.NewReferenceCrops(dataset.ReferenceCropsConfig{
		AnnotationFile: o.cfg.ReferenceAnnotations,
		ImageRoot:      o.cfg.ReferenceImageRoot,
		CropSize:       o.cfg.CropSize,
	})
	if err != nil {
		return nil, nil, err
	}
	emb, keys, err := o.embedCrops(ctx, set, func(c *dataset.Crop) int { return c.Label })
	return emb, keys, err
}

func (o *Orchestrator) embedQuery(ctx context.Context) ([][]float32, []int, error) {
	set, err := dataset.NewQueryCrops(dataset.QueryCropsConfig{
		DetectionFile: o.cfg.DetectionJSON,
		ImageRoot:     o.cfg.QueryImageRoot,
		CropSize:      o.cfg.CropSize,
	})
	if err != nil {
		return nil, nil, err
	}
	return o.embedCrops(ctx, set, func(c *dataset.Crop) int { return c.BBoxID })
}

// embedCrops streams the crop set through the embedder in batches, pairing
// each embedding with the key extracted from its crop.
func (o *Orchestrator) embedCrops(ctx context.Context, set dataset.CropSet, key func(*dataset.Crop) int) ([][]float32, []int, error) {
	var (
		embeddings [][]float32
		keys       []int
		pending    []*pipeline.Record
		boxes      []images.Box
	)
	rng := rand.New(rand.NewSource(o.cfg.Seed))

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch, err := pipeline.Stack(pending)
		if err != nil {
			return err
		}
		var out [][]float32
		err = o.prof.Track("embedder batch", func() error {
			var err error
			out, err = o.emb.Embed(ctx, batch, boxes)
			return err
		})
		if err != nil {
			return err
		}
		embeddings = append(embeddings, out...)
		pending = pending[:0]
		boxes = boxes[:0]
		return nil
	}

	for idx := 0; idx < set.Len(); idx++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.Wrap(err, "embed")
		}
		crop, err := set.Crop(idx)
		if err != nil {
			return nil, nil, err
		}
		shape := pipeline.ShapeOf(crop.Image)
		rec := &pipeline.Record{
			Image:       crop.Image,
			OrigShape:   shape,
			Shape:       shape,
			PadShape:    shape,
			ScaleFactor: pipeline.ScaleFactor{W: 1, H: 1},
		}
		normed, err := o.norm.Apply(rng, rec)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "embed crop %d", idx)
		}
		pending = append(pending, normed)
		boxes = append(boxes, crop.Box)
		keys = append(keys, key(crop))
		if len(pending) == o.cfg.EmbedBatch {
			if err := flush(); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	return embeddings, keys, nil
}
