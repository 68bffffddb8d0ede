package cohort

import (
	"fmt"
	"math/rand"
)

// Bernoulli draws 1 with probability p and 0 otherwise.
func Bernoulli(rng *rand.Rand, p float64) uint8 {
	if rng.Float64() < p {
		return 1
	}
	return 0
}

// SampleStatuses draws n independent TB statuses with prevalence p.
func SampleStatuses(rng *rand.Rand, p float64, n int) ([]uint8, error) {
	if err := checkProbability("prevalence", p); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, &ValueConstraintError{Field: "record count", Value: float64(n), Reason: fmt.Sprintf("%d is negative", n)}
	}
	out := make([]uint8, n)
	for i := range out {
		out[i] = Bernoulli(rng, p)
	}
	return out, nil
}
