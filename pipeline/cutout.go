package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"
)

// CutOutConfig configures a CutOut stage. Exactly one of Shapes (absolute
// pixel extents) or Ratios (fractions of the image size) must be set.
type CutOutConfig struct {
	// MinHoles and MaxHoles bound the number of erased rectangles; the count
	// is drawn uniformly from [MinHoles, MaxHoles].
	MinHoles int `json:"min_holes" yaml:"min_holes"`
	MaxHoles int `json:"max_holes" yaml:"max_holes"`
	// Shapes are candidate (width, height) hole extents in pixels.
	Shapes []Scale `json:"shapes,omitempty" yaml:"shapes,omitempty"`
	// Ratios are candidate (width, height) hole extents as image fractions.
	Ratios [][2]float32 `json:"ratios,omitempty" yaml:"ratios,omitempty"`
	// Fill is the BGR color written into each hole.
	Fill [3]float32 `json:"fill" yaml:"fill"`
}

// CutOut erases a random number of rectangles from the image, filling them
// with a constant color. Boxes and masks are left untouched.
type CutOut struct {
	cfg CutOutConfig
}

// NewCutOut validates the hole counts and the shape/ratio exclusivity.
func NewCutOut(cfg CutOutConfig) (*CutOut, error) {
	if cfg.MinHoles < 0 || cfg.MinHoles > cfg.MaxHoles {
		return nil, errors.Errorf("cutout: bad hole range [%d, %d]", cfg.MinHoles, cfg.MaxHoles)
	}
	if (len(cfg.Shapes) == 0) == (len(cfg.Ratios) == 0) {
		return nil, errors.New("cutout: exactly one of shapes or ratios must be set")
	}
	for _, s := range cfg.Shapes {
		if s.W <= 0 || s.H <= 0 {
			return nil, errors.Errorf("cutout: non-positive shape %dx%d", s.W, s.H)
		}
	}
	for _, r := range cfg.Ratios {
		if r[0] <= 0 || r[0] > 1 || r[1] <= 0 || r[1] > 1 {
			return nil, errors.Errorf("cutout: ratio (%v, %v) outside (0, 1]", r[0], r[1])
		}
	}
	return &CutOut{cfg: cfg}, nil
}

// Name implements Stage.
func (c *CutOut) Name() string { return "CutOut" }

// Apply implements Stage.
func (c *CutOut) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()
	img := out.Image
	h, w := img.Height, img.Width

	nHoles := c.cfg.MinHoles + rng.Intn(c.cfg.MaxHoles-c.cfg.MinHoles+1)
	for n := 0; n < nHoles; n++ {
		x1 := rng.Intn(w)
		y1 := rng.Intn(h)

		var holeW, holeH int
		if len(c.cfg.Shapes) > 0 {
			s := c.cfg.Shapes[rng.Intn(len(c.cfg.Shapes))]
			holeW, holeH = s.W, s.H
		} else {
			r := c.cfg.Ratios[rng.Intn(len(c.cfg.Ratios))]
			holeW = int(r[0] * float32(w))
			holeH = int(r[1] * float32(h))
		}

		x2 := minInt(x1+holeW, w)
		y2 := minInt(y1+holeH, h)
		for y := y1; y < y2; y++ {
			row := y * w * img.Channels
			for x := x1; x < x2; x++ {
				px := row + x*img.Channels
				for ch := 0; ch < img.Channels && ch < 3; ch++ {
					img.Pix[px+ch] = c.cfg.Fill[ch]
				}
			}
		}
	}
	return out, nil
}
