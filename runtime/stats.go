package runtime

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ArrayStats summarises the host copy of a numeric array
type ArrayStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
	Mean  float64
}

// Stats decodes a and summarises its elements
func (a *Array) Stats() (ArrayStats, error) {
	if a.count == 0 {
		return ArrayStats{}, errors.Errorf("array '%s' of '%s' is empty", a.name, a.owner)
	}
	values, err := a.Values()
	if err != nil {
		return ArrayStats{}, err
	}
	sum := floats.Sum(values)
	return ArrayStats{
		Count: len(values),
		Sum:   sum,
		Min:   floats.Min(values),
		Max:   floats.Max(values),
		Mean:  sum / float64(len(values)),
	}, nil
}
