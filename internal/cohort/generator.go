package cohort

import (
	"context"
	"fmt"
	"math/rand"
)

const (
	DefaultRecordCount = 10000
	DefaultPrevalence  = 0.5
	DefaultSeed        = 10
)

// Config controls the size and shape of a generated cohort.
type Config struct {
	RecordCount int     `json:"recordCount"`
	Prevalence  float64 `json:"prevalence"`
	Seed        int64   `json:"seed"`
}

// DefaultConfig returns the reference configuration: 10,000 records, a 50/50
// prior to keep the classes balanced, and a fixed seed.
func DefaultConfig() Config {
	return Config{
		RecordCount: DefaultRecordCount,
		Prevalence:  DefaultPrevalence,
		Seed:        DefaultSeed,
	}
}

// Validate reports the first out-of-range parameter.
func (c Config) Validate() error {
	if err := checkProbability("prevalence", c.Prevalence); err != nil {
		return err
	}
	if c.RecordCount < 0 {
		return &ValueConstraintError{
			Field:  "record count",
			Value:  float64(c.RecordCount),
			Reason: fmt.Sprintf("%d is negative", c.RecordCount),
		}
	}
	return nil
}

// Generator produces reproducible cohorts. A Generator owns its random
// source and is not safe for concurrent use.
type Generator struct {
	cfg     Config
	rng     *rand.Rand
	table   FeatureTable
	smoking SmokingRule
}

// Option customises a Generator.
type Option func(*Generator)

// WithFeatureTable replaces the status-conditioned probability table.
func WithFeatureTable(t FeatureTable) Option {
	return func(g *Generator) { g.table = t }
}

// WithSmokingRule replaces the smoking probabilities.
func WithSmokingRule(r SmokingRule) Option {
	return func(g *Generator) { g.smoking = r }
}

// NewGenerator returns a generator seeded from cfg.Seed.
func NewGenerator(cfg Config, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		table:   DefaultFeatureTable(),
		smoking: DefaultSmokingRule(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.table.Validate(); err != nil {
		return nil, err
	}
	for field, p := range map[string]float64{
		"smoking[male]":            g.smoking.Male,
		"smoking[female,status=0]": g.smoking.FemaleNegative,
		"smoking[female,status=1]": g.smoking.FemalePositive,
	} {
		if err := checkProbability(field, p); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Config returns the configuration the generator was built with.
func (g *Generator) Config() Config { return g.cfg }

// Patient samples one record conditional on status. Smoking is drawn after
// every table feature so that sex is already known.
func (g *Generator) Patient(status uint8) Patient {
	var p Patient
	p[Status] = status
	for _, r := range g.table {
		p[r.Column] = Bernoulli(g.rng, r.Prob(status))
	}
	p[Smoking] = Bernoulli(g.rng, g.smoking.Prob(p[Sex], status))
	return p
}

// Stream draws all statuses up front, then generates one patient per status
// and hands it to fn in order. Generation stops at the first error from fn or
// when ctx is done.
func (g *Generator) Stream(ctx context.Context, fn func(Patient) error) error {
	statuses, err := SampleStatuses(g.rng, g.cfg.Prevalence, g.cfg.RecordCount)
	if err != nil {
		return err
	}
	for i, s := range statuses {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(g.Patient(s)); err != nil {
			return err
		}
	}
	return nil
}

// Generate returns the whole cohort. Calling it twice on the same Generator
// continues the random stream; build a new Generator to reproduce a cohort.
func (g *Generator) Generate(ctx context.Context) (Cohort, error) {
	out := make(Cohort, 0, g.cfg.RecordCount)
	err := g.Stream(ctx, func(p Patient) error {
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Generate is a convenience wrapper around NewGenerator and Generate.
func Generate(ctx context.Context, cfg Config) (Cohort, error) {
	g, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return g.Generate(ctx)
}
