package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Stage is one configured, composable transform. Implementations are
// stateless beyond their fixed configuration; all randomness comes from the
// caller-supplied source, so one stage value is safe to share across
// concurrent dataset workers as long as each worker owns its rand.Rand.
type Stage interface {
	// Name identifies the stage in errors and rejections.
	Name() string
	// Apply derives a new record from rec. It returns a *Rejection error
	// (matched with IsRejection) when the sample should be resampled, or a
	// real error when an invariant is broken.
	Apply(rng *rand.Rand, rec *Record) (*Record, error)
}

// Compose applies stages strictly left to right. A rejection from any stage
// short-circuits the remainder.
type Compose struct {
	stages []Stage
}

// NewCompose builds a pipeline from already-constructed stages.
func NewCompose(stages ...Stage) *Compose {
	return &Compose{stages: stages}
}

// Stages returns the composed stages in application order.
func (c *Compose) Stages() []Stage { return c.stages }

// Apply runs every stage in order.
//
// Arguments:
//   - rng: Per-call randomness source owned by the calling worker.
//   - rec: The input record; never mutated.
//
// Returns:
//   - *Record: The transformed record.
//   - error: A rejection (resample) or a hard error wrapped with the failing
//     stage's name.
func (c *Compose) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	cur := rec
	for _, stage := range c.stages {
		next, err := stage.Apply(rng, cur)
		if err != nil {
			if IsRejection(err) {
				return nil, err
			}
			return nil, errors.Wrapf(err, "stage %s", stage.Name())
		}
		cur = next
	}
	return cur, nil
}
