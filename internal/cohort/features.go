// Package cohort generates synthetic tuberculosis patient records. Each record
// is sampled conditional on a latent TB status drawn from a Bernoulli prior,
// using a fixed table of per-feature probabilities.
package cohort

// Column is a position in the 24-value patient row.
type Column int

// Row layout. The first 23 columns are the classifier feature vector; Status
// is the label and always comes last.
const (
	Sex Column = iota
	AgeAbove16
	PreviousTB
	ContactTBPatient
	FamilyTB
	Smoking
	SubstanceAbuse
	HIVStatus
	DiabetesStatus
	AnaemiaStatus
	Malnutrition
	OtherInfection
	CoughTwoWeeks
	Fever
	Hemoptysis
	NightSweats
	WeightLoss
	Malaise
	DifficultBreathing
	SwellLymphNode
	ReducedAirEntry
	IncreasedRespiratoryRate
	ChestPain
	Status

	// NumColumns is the width of one output row.
	NumColumns = int(Status) + 1
	// NumFeatures is the width of the classifier input vector.
	NumFeatures = NumColumns - 1
)

var columnNames = [NumColumns]string{
	"sex",
	"age_above_16",
	"previous_tb",
	"contact_tb_patient",
	"family_tb",
	"smoking",
	"substance_abuse",
	"hiv_status",
	"diabetes_status",
	"anaemia_status",
	"malnutrition",
	"other_infection",
	"cough_two_weeks",
	"fever",
	"hemoptysis",
	"night_sweats",
	"weight_loss",
	"malaise",
	"difficult_breathing",
	"swell_lymph_node",
	"reduced_air_entry",
	"increased_respiratory_rate",
	"chest_pain",
	"status",
}

// String returns the CSV header name of the column.
func (c Column) String() string {
	if c < 0 || int(c) >= NumColumns {
		return "unknown"
	}
	return columnNames[c]
}

// Columns returns the 24 header names in output order.
func Columns() []string {
	out := make([]string, NumColumns)
	copy(out, columnNames[:])
	return out
}

// FeatureColumns returns the 23 non-label column names in the order the
// classifier expects its input vector.
func FeatureColumns() []string {
	out := make([]string, NumFeatures)
	copy(out, columnNames[:NumFeatures])
	return out
}

// Rule is one status-conditioned Bernoulli feature.
type Rule struct {
	Column   Column
	Negative float64 // p(feature=1 | status=0)
	Positive float64 // p(feature=1 | status=1)
}

// Prob returns the success probability for the given status.
func (r Rule) Prob(status uint8) float64 {
	if status == 1 {
		return r.Positive
	}
	return r.Negative
}

// FeatureTable lists rules in draw order.
type FeatureTable []Rule

// DefaultFeatureTable returns the calibrated prevalence table. The order is
// the draw order and is part of the reproducibility contract: changing it
// changes every cohort generated from a given seed.
func DefaultFeatureTable() FeatureTable {
	return FeatureTable{
		// hallmark symptoms
		{CoughTwoWeeks, 0.30, 0.995},
		{NightSweats, 0.30, 0.94},
		{Fever, 0.40, 0.93},
		{WeightLoss, 0.30, 0.96},
		// common symptoms
		{ChestPain, 0.20, 0.80},
		{Hemoptysis, 0.05, 0.30},
		{Malaise, 0.20, 0.80},
		{DifficultBreathing, 0.20, 0.45},
		{SwellLymphNode, 0.05, 0.25},
		// signs
		{ReducedAirEntry, 0.10, 0.50},
		{IncreasedRespiratoryRate, 0.20, 0.45},
		// demographics
		{Sex, 0.31, 0.61},
		{AgeAbove16, 0.35, 0.65},
		// risk factors
		{HIVStatus, 0.05, 0.62},
		{AnaemiaStatus, 0.30, 0.88},
		{DiabetesStatus, 0.80, 0.10},
		{Malnutrition, 0.20, 0.58},
		{OtherInfection, 0.30, 0.80},
		{SubstanceAbuse, 0.20, 0.50},
		{ContactTBPatient, 0.10, 0.25},
		{FamilyTB, 0.30, 0.80},
		{PreviousTB, 0.30, 0.95},
	}
}

// Lookup returns the rule for col, if the table has one.
func (t FeatureTable) Lookup(col Column) (Rule, bool) {
	for _, r := range t {
		if r.Column == col {
			return r, true
		}
	}
	return Rule{}, false
}

// Validate checks every probability is in [0,1] and that no column other
// than Smoking and Status is missing or duplicated.
func (t FeatureTable) Validate() error {
	seen := make(map[Column]bool, len(t))
	for _, r := range t {
		if r.Column == Smoking || r.Column == Status {
			return &ValueConstraintError{Field: r.Column.String(), Reason: "column is not status-conditioned"}
		}
		if seen[r.Column] {
			return &ValueConstraintError{Field: r.Column.String(), Reason: "duplicate rule"}
		}
		seen[r.Column] = true
		if err := checkProbability(r.Column.String()+"[status=0]", r.Negative); err != nil {
			return err
		}
		if err := checkProbability(r.Column.String()+"[status=1]", r.Positive); err != nil {
			return err
		}
	}
	for c := Column(0); c < Status; c++ {
		if c != Smoking && !seen[c] {
			return &ValueConstraintError{Field: c.String(), Reason: "missing rule"}
		}
	}
	return nil
}

// SmokingRule gives smoking probabilities. Sex takes precedence over status:
// for males status is ignored.
//
// NOTE: this precedence looks like an accidental fallthrough rather than a
// modelling choice (the documented rates are 15% female / 80% male). It is
// kept as-is so existing datasets stay reproducible.
type SmokingRule struct {
	Male           float64
	FemaleNegative float64
	FemalePositive float64
}

// DefaultSmokingRule returns the calibrated smoking probabilities.
func DefaultSmokingRule() SmokingRule {
	return SmokingRule{Male: 0.50, FemaleNegative: 0.15, FemalePositive: 0.80}
}

// Prob returns p(smoking=1) given the already sampled sex and the status.
func (r SmokingRule) Prob(sex, status uint8) float64 {
	if sex == 1 {
		return r.Male
	}
	if status == 0 {
		return r.FemaleNegative
	}
	return r.FemalePositive
}
