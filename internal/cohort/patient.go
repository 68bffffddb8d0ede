package cohort

import "strconv"

// Patient is one synthetic record laid out in output column order.
type Patient [NumColumns]uint8

// Get returns the value of column c.
func (p Patient) Get(c Column) uint8 { return p[c] }

// Status returns the TB label.
func (p Patient) Status() uint8 { return p[Status] }

// FeatureVector returns the 23 classifier inputs in schema order.
func (p Patient) FeatureVector() []float64 {
	out := make([]float64, NumFeatures)
	for i := 0; i < NumFeatures; i++ {
		out[i] = float64(p[i])
	}
	return out
}

// Record renders the row as CSV fields.
func (p Patient) Record() []string {
	out := make([]string, NumColumns)
	for i, v := range p {
		out[i] = strconv.Itoa(int(v))
	}
	return out
}

// Cohort is an ordered set of generated patients.
type Cohort []Patient

// Positives counts patients with status 1.
func (c Cohort) Positives() int {
	n := 0
	for _, p := range c {
		if p.Status() == 1 {
			n++
		}
	}
	return n
}
