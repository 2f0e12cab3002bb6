package pipeline

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// PhotoMetricDistortionConfig configures a PhotoMetricDistortion stage.
type PhotoMetricDistortionConfig struct {
	// BrightnessDelta is the half-width of the additive brightness range.
	BrightnessDelta float32 `json:"brightness_delta" yaml:"brightness_delta"`
	// ContrastLower and ContrastUpper bound the multiplicative contrast.
	ContrastLower float32 `json:"contrast_lower" yaml:"contrast_lower"`
	ContrastUpper float32 `json:"contrast_upper" yaml:"contrast_upper"`
	// SaturationLower and SaturationUpper bound the HSV saturation gain.
	SaturationLower float32 `json:"saturation_lower" yaml:"saturation_lower"`
	SaturationUpper float32 `json:"saturation_upper" yaml:"saturation_upper"`
	// HueDelta is the half-width of the additive hue range in degrees.
	HueDelta float32 `json:"hue_delta" yaml:"hue_delta"`
}

// DefaultPhotoMetricDistortionConfig mirrors the usual SSD-style settings.
func DefaultPhotoMetricDistortionConfig() PhotoMetricDistortionConfig {
	return PhotoMetricDistortionConfig{
		BrightnessDelta: 32,
		ContrastLower:   0.5, ContrastUpper: 1.5,
		SaturationLower: 0.5, SaturationUpper: 1.5,
		HueDelta: 18,
	}
}

// PhotoMetricDistortion applies a randomized chain of brightness, contrast,
// saturation, hue and channel-swap perturbations. Each step fires with
// probability one half; contrast is randomly ordered before or after the HSV
// steps. Pixel values are left unclamped until Normalize.
type PhotoMetricDistortion struct {
	cfg PhotoMetricDistortionConfig
}

// NewPhotoMetricDistortion validates the perturbation ranges.
func NewPhotoMetricDistortion(cfg PhotoMetricDistortionConfig) (*PhotoMetricDistortion, error) {
	if cfg.BrightnessDelta < 0 || cfg.HueDelta < 0 {
		return nil, errors.New("photometric distortion: negative delta")
	}
	if cfg.ContrastLower <= 0 || cfg.ContrastLower > cfg.ContrastUpper {
		return nil, errors.Errorf("photometric distortion: bad contrast range [%v, %v]", cfg.ContrastLower, cfg.ContrastUpper)
	}
	if cfg.SaturationLower <= 0 || cfg.SaturationLower > cfg.SaturationUpper {
		return nil, errors.Errorf("photometric distortion: bad saturation range [%v, %v]", cfg.SaturationLower, cfg.SaturationUpper)
	}
	return &PhotoMetricDistortion{cfg: cfg}, nil
}

// Name implements Stage.
func (p *PhotoMetricDistortion) Name() string { return "PhotoMetricDistortion" }

// Apply implements Stage.
func (p *PhotoMetricDistortion) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()
	img := out.Image
	if img.Channels != 3 {
		return nil, errors.Errorf("photometric distortion: expected 3 channels, got %d", img.Channels)
	}

	if rng.Intn(2) == 1 {
		delta := uniform(rng, -p.cfg.BrightnessDelta, p.cfg.BrightnessDelta)
		for i := range img.Pix {
			img.Pix[i] += delta
		}
	}

	// Contrast either precedes or follows the HSV steps.
	contrastFirst := rng.Intn(2) == 1
	if contrastFirst {
		p.randomContrast(rng, img)
	}

	p.randomSaturationHue(rng, img)

	if !contrastFirst {
		p.randomContrast(rng, img)
	}

	if rng.Intn(2) == 1 {
		perm := rng.Perm(3)
		for i := 0; i < len(img.Pix); i += 3 {
			b, g, r := img.Pix[i], img.Pix[i+1], img.Pix[i+2]
			src := [3]float32{b, g, r}
			img.Pix[i] = src[perm[0]]
			img.Pix[i+1] = src[perm[1]]
			img.Pix[i+2] = src[perm[2]]
		}
	}
	return out, nil
}

func (p *PhotoMetricDistortion) randomContrast(rng *rand.Rand, img *images.Image) {
	if rng.Intn(2) == 0 {
		return
	}
	alpha := uniform(rng, p.cfg.ContrastLower, p.cfg.ContrastUpper)
	for i := range img.Pix {
		img.Pix[i] *= alpha
	}
}

func (p *PhotoMetricDistortion) randomSaturationHue(rng *rand.Rand, img *images.Image) {
	doSat := rng.Intn(2) == 1
	doHue := rng.Intn(2) == 1
	if !doSat && !doHue {
		return
	}
	satGain := float32(1)
	if doSat {
		satGain = uniform(rng, p.cfg.SaturationLower, p.cfg.SaturationUpper)
	}
	hueShift := float32(0)
	if doHue {
		hueShift = uniform(rng, -p.cfg.HueDelta, p.cfg.HueDelta)
	}
	hsv := images.BGRToHSV(img)
	for i := 0; i < len(hsv.Pix); i += 3 {
		h := hsv.Pix[i] + hueShift
		if h >= 360 {
			h -= 360
		}
		if h < 0 {
			h += 360
		}
		hsv.Pix[i] = h
		hsv.Pix[i+1] *= satGain
	}
	copy(img.Pix, images.HSVToBGR(hsv).Pix)
}

// HSVJitterConfig configures an HSVJitter stage.
type HSVJitterConfig struct {
	// HGain, SGain and VGain are the jitter half-widths per HSV channel;
	// each gain is drawn uniformly from 1 +/- the value.
	HGain float32 `json:"h_gain" yaml:"h_gain"`
	SGain float32 `json:"s_gain" yaml:"s_gain"`
	VGain float32 `json:"v_gain" yaml:"v_gain"`
}

// HSVJitter scales hue, saturation and value by independently drawn gains,
// wrapping hue and clamping saturation and value to their ranges.
type HSVJitter struct {
	cfg HSVJitterConfig
}

// NewHSVJitter validates the gain half-widths.
func NewHSVJitter(cfg HSVJitterConfig) (*HSVJitter, error) {
	if cfg.HGain < 0 || cfg.SGain < 0 || cfg.VGain < 0 {
		return nil, errors.New("hsv jitter: negative gain")
	}
	return &HSVJitter{cfg: cfg}, nil
}

// Name implements Stage.
func (j *HSVJitter) Name() string { return "HSVJitter" }

// Apply implements Stage.
func (j *HSVJitter) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()
	img := out.Image
	if img.Channels != 3 {
		return nil, errors.Errorf("hsv jitter: expected 3 channels, got %d", img.Channels)
	}

	rh := 1 + uniform(rng, -1, 1)*j.cfg.HGain
	rs := 1 + uniform(rng, -1, 1)*j.cfg.SGain
	rv := 1 + uniform(rng, -1, 1)*j.cfg.VGain

	hsv := images.BGRToHSV(img)
	for i := 0; i < len(hsv.Pix); i += 3 {
		h := math32.Mod(hsv.Pix[i]*rh, 360)
		if h < 0 {
			h += 360
		}
		hsv.Pix[i] = h
		hsv.Pix[i+1] = clamp01(hsv.Pix[i+1] * rs)
		hsv.Pix[i+2] = math32.Min(math32.Max(hsv.Pix[i+2]*rv, 0), 255)
	}
	copy(img.Pix, images.HSVToBGR(hsv).Pix)
	return out, nil
}

// RandomGrayscaleConfig configures a RandomGrayscale stage.
type RandomGrayscaleConfig struct {
	// Prob is the probability of replacing the image with its grayscale
	// replicated across all channels.
	Prob float32 `json:"prob" yaml:"prob"`
}

// RandomGrayscale converts the image to replicated grayscale with the
// configured probability.
type RandomGrayscale struct {
	cfg RandomGrayscaleConfig
}

// NewRandomGrayscale validates the probability.
func NewRandomGrayscale(cfg RandomGrayscaleConfig) (*RandomGrayscale, error) {
	if cfg.Prob < 0 || cfg.Prob > 1 {
		return nil, errors.Errorf("random grayscale: probability %v outside [0, 1]", cfg.Prob)
	}
	return &RandomGrayscale{cfg: cfg}, nil
}

// Name implements Stage.
func (g *RandomGrayscale) Name() string { return "RandomGrayscale" }

// Apply implements Stage.
func (g *RandomGrayscale) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()
	if rng.Float32() >= g.cfg.Prob {
		return out, nil
	}
	gray, err := images.Grayscale(out.Image)
	if err != nil {
		return nil, err
	}
	out.Image = gray
	return out, nil
}

func uniform(rng *rand.Rand, lo, hi float32) float32 {
	return lo + rng.Float32()*(hi-lo)
}

func clamp01(v float32) float32 {
	return math32.Min(math32.Max(v, 0), 1)
}
