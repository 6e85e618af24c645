package domain

// Conformity labels how closely an observed digit distribution follows
// Benford's Law, per Nigrini's MAD cutoffs.
type Conformity string

const (
	ConformityClose         Conformity = "close"
	ConformityAcceptable    Conformity = "acceptable"
	ConformityMarginal      Conformity = "marginally_acceptable"
	ConformityNonconforming Conformity = "nonconforming"
)

// MAD conformity cutoffs. First-digit analysis uses the looser set, the
// second-digit test uses tighter constants.
const (
	FirstDigitMADClose      = 0.006
	FirstDigitMADAcceptable = 0.012
	FirstDigitMADMarginal   = 0.015

	SecondDigitMADClose      = 0.008
	SecondDigitMADAcceptable = 0.010
	SecondDigitMADMarginal   = 0.012

	FirstTwoMADClose      = 0.0006
	FirstTwoMADAcceptable = 0.0012
	FirstTwoMADMarginal   = 0.0022
)

// BenfordResult holds the digit-conformity statistics for one analysis.
type BenfordResult struct {
	// Digit position analysed: 1 for leading digit, 2 for second digit,
	// 12 for the leading digit pair.
	DigitPosition int `json:"digitPosition"`

	SampleSize int `json:"sampleSize"`

	// Per-digit counts and frequencies, indexed by digit value.
	Counts   map[int]int     `json:"counts"`
	Observed map[int]float64 `json:"observed"`
	Expected map[int]float64 `json:"expected"`

	// MAD is the mean absolute deviation between observed and expected
	// frequencies, the primary conformity score.
	MAD float64 `json:"mad"`

	// Pearson chi-square goodness-of-fit statistic and its p-value.
	ChiSquare float64 `json:"chiSquare"`
	PValue    float64 `json:"pValue"`

	Conformity Conformity `json:"conformity"`
}

// Conforming reports whether the distribution is at least acceptable.
func (r *BenfordResult) Conforming() bool {
	return r.Conformity == ConformityClose || r.Conformity == ConformityAcceptable
}

// MostOverRepresentedDigit returns the digit whose observed frequency
// exceeds its expectation by the largest margin, and that margin.
func (r *BenfordResult) MostOverRepresentedDigit() (digit int, excess float64) {
	digit = -1
	for d, obs := range r.Observed {
		if diff := obs - r.Expected[d]; diff > excess {
			excess = diff
			digit = d
		}
	}
	return digit, excess
}
