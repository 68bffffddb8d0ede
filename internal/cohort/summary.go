package cohort

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// FeatureRate is the empirical frequency of one feature within each status
// group.
type FeatureRate struct {
	Column   string  `json:"column"`
	Negative float64 `json:"negative"`
	Positive float64 `json:"positive"`
}

// Summary describes a generated cohort.
type Summary struct {
	Records    int           `json:"records"`
	Positives  int           `json:"positives"`
	Negatives  int           `json:"negatives"`
	Prevalence float64       `json:"prevalence"`
	Features   []FeatureRate `json:"features"`
}

// Summarize computes per-status feature frequencies in column order.
func Summarize(c Cohort) Summary {
	var counts [2][NumFeatures]int
	var totals [2]int
	for _, p := range c {
		s := p.Status()
		if s > 1 {
			s = 0
		}
		totals[s]++
		for i := 0; i < NumFeatures; i++ {
			counts[s][i] += int(p[i])
		}
	}

	sum := Summary{
		Records:   len(c),
		Negatives: totals[0],
		Positives: totals[1],
		Features:  make([]FeatureRate, NumFeatures),
	}
	if len(c) > 0 {
		sum.Prevalence = float64(totals[1]) / float64(len(c))
	}
	for i := 0; i < NumFeatures; i++ {
		sum.Features[i] = FeatureRate{
			Column:   columnNames[i],
			Negative: ratio(counts[0][i], totals[0]),
			Positive: ratio(counts[1][i], totals[1]),
		}
	}
	return sum
}

// Rate returns the frequencies for the named column.
func (s Summary) Rate(col Column) (FeatureRate, bool) {
	if col < 0 || int(col) >= len(s.Features) {
		return FeatureRate{}, false
	}
	return s.Features[col], true
}

// WriteTable renders the summary as an aligned text table.
func (s Summary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "records\t%d\n", s.Records)
	fmt.Fprintf(tw, "positives\t%d\n", s.Positives)
	fmt.Fprintf(tw, "prevalence\t%.4f\n\n", s.Prevalence)
	fmt.Fprintln(tw, "FEATURE\tP(=1|status=0)\tP(=1|status=1)")
	for _, f := range s.Features {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\n", f.Column, f.Negative, f.Positive)
	}
	return tw.Flush()
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
