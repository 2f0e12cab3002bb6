package pipeline

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// StageName identifies a pipeline stage type. The set is closed; unknown
// names fail at construction time rather than at first use.
type StageName string

const (
	StageJointResize           StageName = "JointResize"
	StageLetterResize          StageName = "LetterResize"
	StageJointRandomFlip       StageName = "JointRandomFlip"
	StagePad                   StageName = "Pad"
	StageNormalize             StageName = "Normalize"
	StageJointRandomCrop       StageName = "JointRandomCrop"
	StageMinIoURandomCrop      StageName = "MinIoURandomCrop"
	StageRandomCenterCropPad   StageName = "RandomCenterCropPad"
	StagePhotoMetricDistortion StageName = "PhotoMetricDistortion"
	StageHSVJitter             StageName = "HSVJitter"
	StageRandomGrayscale       StageName = "RandomGrayscale"
	StageExpand                StageName = "Expand"
	StageCutOut                StageName = "CutOut"
	StageBoxFilter             StageName = "BoxFilter"
)

// StageSpec is one entry of a serialized pipeline definition.
type StageSpec struct {
	Name   StageName       `json:"name" yaml:"name"`
	Config json.RawMessage `json:"config,omitempty" yaml:"config,omitempty"`
}

// NewStage constructs the named stage from its serialized configuration.
// Stages that need runtime collaborators (Mosaic, ExternalAugment,
// MultiScaleFlipAug) are wired directly through their constructors instead.
func NewStage(spec StageSpec) (Stage, error) {
	build := func(cfg interface{}, construct func() (Stage, error)) (Stage, error) {
		if len(spec.Config) > 0 {
			if err := json.Unmarshal(spec.Config, cfg); err != nil {
				return nil, errors.Wrapf(err, "stage %s: decode config", spec.Name)
			}
		}
		return construct()
	}

	switch spec.Name {
	case StageJointResize:
		var cfg JointResizeConfig
		return build(&cfg, func() (Stage, error) { return NewJointResize(cfg) })
	case StageLetterResize:
		var cfg LetterResizeConfig
		return build(&cfg, func() (Stage, error) { return NewLetterResize(cfg) })
	case StageJointRandomFlip:
		var cfg JointRandomFlipConfig
		return build(&cfg, func() (Stage, error) { return NewJointRandomFlip(cfg) })
	case StagePad:
		var cfg PadConfig
		return build(&cfg, func() (Stage, error) { return NewPad(cfg) })
	case StageNormalize:
		var cfg NormalizeConfig
		return build(&cfg, func() (Stage, error) { return NewNormalize(cfg) })
	case StageJointRandomCrop:
		var cfg JointRandomCropConfig
		return build(&cfg, func() (Stage, error) { return NewJointRandomCrop(cfg) })
	case StageMinIoURandomCrop:
		var cfg MinIoURandomCropConfig
		return build(&cfg, func() (Stage, error) { return NewMinIoURandomCrop(cfg) })
	case StageRandomCenterCropPad:
		var cfg RandomCenterCropPadConfig
		return build(&cfg, func() (Stage, error) { return NewRandomCenterCropPad(cfg) })
	case StagePhotoMetricDistortion:
		cfg := DefaultPhotoMetricDistortionConfig()
		return build(&cfg, func() (Stage, error) { return NewPhotoMetricDistortion(cfg) })
	case StageHSVJitter:
		var cfg HSVJitterConfig
		return build(&cfg, func() (Stage, error) { return NewHSVJitter(cfg) })
	case StageRandomGrayscale:
		var cfg RandomGrayscaleConfig
		return build(&cfg, func() (Stage, error) { return NewRandomGrayscale(cfg) })
	case StageExpand:
		var cfg ExpandConfig
		return build(&cfg, func() (Stage, error) { return NewExpand(cfg) })
	case StageCutOut:
		var cfg CutOutConfig
		return build(&cfg, func() (Stage, error) { return NewCutOut(cfg) })
	case StageBoxFilter:
		var cfg BoxFilterConfig
		return build(&cfg, func() (Stage, error) { return NewBoxFilter(cfg) })
	default:
		return nil, errors.Errorf("unknown stage %q", spec.Name)
	}
}

// Build constructs a Compose from serialized stage specs.
func Build(specs []StageSpec) (*Compose, error) {
	stages := make([]Stage, 0, len(specs))
	for _, spec := range specs {
		st, err := NewStage(spec)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return NewCompose(stages...), nil
}

// compile-time interface checks
var _ = []Stage{
	(*JointResize)(nil), (*LetterResize)(nil), (*JointRandomFlip)(nil),
	(*Pad)(nil), (*Normalize)(nil), (*JointRandomCrop)(nil),
	(*MinIoURandomCrop)(nil), (*RandomCenterCropPad)(nil),
	(*PhotoMetricDistortion)(nil), (*HSVJitter)(nil), (*RandomGrayscale)(nil),
	(*Expand)(nil), (*CutOut)(nil), (*BoxFilter)(nil),
	(*ExternalAugment)(nil), (*Mosaic)(nil),
}
