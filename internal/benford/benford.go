// Package benford implements leading-digit conformity analysis per
// Benford's Law.
package benford

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MinSampleSize is the smallest sample for which the analysis is considered
// meaningful. Smaller samples still produce a result but callers typically
// skip flagging on them.
const MinSampleSize = 50

// FirstDigitExpected returns P(d) = log10(1 + 1/d) for d in 1..9.
func FirstDigitExpected() map[int]float64 {
	exp := make(map[int]float64, 9)
	for d := 1; d <= 9; d++ {
		exp[d] = math.Log10(1 + 1/float64(d))
	}
	return exp
}

// SecondDigitExpected returns the Benford second-digit table for d in 0..9:
// P(d) = Σ_{k=1..9} log10(1 + 1/(10k+d)).
func SecondDigitExpected() map[int]float64 {
	exp := make(map[int]float64, 10)
	for d := 0; d <= 9; d++ {
		var p float64
		for k := 1; k <= 9; k++ {
			p += math.Log10(1 + 1/float64(10*k+d))
		}
		exp[d] = p
	}
	return exp
}

// FirstTwoExpected returns P(n) = log10(1 + 1/n) for n in 10..99.
func FirstTwoExpected() map[int]float64 {
	exp := make(map[int]float64, 90)
	for n := 10; n <= 99; n++ {
		exp[n] = math.Log10(1 + 1/float64(n))
	}
	return exp
}

// FirstDigit extracts the leading digit of the integer-truncated absolute
// amount. Returns 0 when the amount truncates below 1.
func FirstDigit(amount float64) int {
	n := int64(math.Abs(amount))
	if n == 0 {
		return 0
	}
	for n >= 10 {
		n /= 10
	}
	return int(n)
}

// SecondDigit extracts the second digit of the integer-truncated absolute
// amount. Returns -1 when the amount has fewer than two integer digits.
func SecondDigit(amount float64) int {
	n := int64(math.Abs(amount))
	if n < 10 {
		return -1
	}
	for n >= 100 {
		n /= 10
	}
	return int(n % 10)
}

// AnalyzeFirstDigit computes first-digit conformity statistics over the
// amounts.
func AnalyzeFirstDigit(amounts []float64) *domain.BenfordResult {
	counts := make(map[int]int, 9)
	total := 0
	for _, a := range amounts {
		if d := FirstDigit(a); d >= 1 {
			counts[d]++
			total++
		}
	}
	return analyze(1, counts, total, FirstDigitExpected(),
		domain.FirstDigitMADClose, domain.FirstDigitMADAcceptable, domain.FirstDigitMADMarginal)
}

// AnalyzeSecondDigit computes second-digit conformity statistics over the
// amounts. Amounts below 10 are excluded.
func AnalyzeSecondDigit(amounts []float64) *domain.BenfordResult {
	counts := make(map[int]int, 10)
	total := 0
	for _, a := range amounts {
		if d := SecondDigit(a); d >= 0 {
			counts[d]++
			total++
		}
	}
	return analyze(2, counts, total, SecondDigitExpected(),
		domain.SecondDigitMADClose, domain.SecondDigitMADAcceptable, domain.SecondDigitMADMarginal)
}

// FirstTwoDigits extracts the leading digit pair of the integer-truncated
// absolute amount. Returns -1 when the amount has fewer than two integer
// digits.
func FirstTwoDigits(amount float64) int {
	n := int64(math.Abs(amount))
	if n < 10 {
		return -1
	}
	for n >= 100 {
		n /= 10
	}
	return int(n)
}

// AnalyzeFirstTwoDigits computes digit-pair conformity statistics over the
// amounts. Amounts below 10 are excluded.
func AnalyzeFirstTwoDigits(amounts []float64) *domain.BenfordResult {
	counts := make(map[int]int, 90)
	total := 0
	for _, a := range amounts {
		if d := FirstTwoDigits(a); d >= 10 {
			counts[d]++
			total++
		}
	}
	return analyze(12, counts, total, FirstTwoExpected(),
		domain.FirstTwoMADClose, domain.FirstTwoMADAcceptable, domain.FirstTwoMADMarginal)
}

func analyze(position int, counts map[int]int, total int, expected map[int]float64, madClose, madAcceptable, madMarginal float64) *domain.BenfordResult {
	res := &domain.BenfordResult{
		DigitPosition: position,
		SampleSize:    total,
		Counts:        counts,
		Observed:      make(map[int]float64, len(expected)),
		Expected:      expected,
	}

	if total == 0 {
		res.Conformity = domain.ConformityNonconforming
		res.PValue = 1
		return res
	}

	var mad, chi float64
	for d, exp := range expected {
		obs := float64(counts[d]) / float64(total)
		res.Observed[d] = obs
		mad += math.Abs(obs - exp)

		expCount := exp * float64(total)
		diff := float64(counts[d]) - expCount
		chi += diff * diff / expCount
	}
	mad /= float64(len(expected))

	res.MAD = mad
	res.ChiSquare = chi
	res.PValue = ChiSquarePValue(chi, len(expected)-1)

	switch {
	case mad <= madClose:
		res.Conformity = domain.ConformityClose
	case mad <= madAcceptable:
		res.Conformity = domain.ConformityAcceptable
	case mad <= madMarginal:
		res.Conformity = domain.ConformityMarginal
	default:
		res.Conformity = domain.ConformityNonconforming
	}

	return res
}

// ChiSquarePValue returns the upper-tail probability of a chi-square
// statistic with df degrees of freedom, i.e. the regularized upper
// incomplete gamma Q(df/2, x/2).
func ChiSquarePValue(x float64, df int) float64 {
	if x <= 0 || df <= 0 {
		return 1
	}
	return upperIncompleteGamma(float64(df)/2, x/2)
}

// upperIncompleteGamma computes the regularized upper incomplete gamma
// function Q(a, x) using the series expansion for x < a+1 and the continued
// fraction otherwise (Numerical Recipes gammq).
func upperIncompleteGamma(a, x float64) float64 {
	if x < 0 || a <= 0 {
		return 1
	}
	if x == 0 {
		return 1
	}
	if x < a+1 {
		return 1 - gammaSeries(a, x)
	}
	return gammaContinuedFraction(a, x)
}

func gammaSeries(a, x float64) float64 {
	const itmax = 200
	const eps = 3e-14

	lnGamma, _ := math.Lgamma(a)
	ap := a
	sum := 1 / a
	del := sum
	for i := 0; i < itmax; i++ {
		ap++
		del *= x / ap
		sum += del
		if math.Abs(del) < math.Abs(sum)*eps {
			break
		}
	}
	return sum * math.Exp(-x+a*math.Log(x)-lnGamma)
}

func gammaContinuedFraction(a, x float64) float64 {
	const itmax = 200
	const eps = 3e-14
	const fpmin = 1e-300

	lnGamma, _ := math.Lgamma(a)
	b := x + 1 - a
	c := 1 / fpmin
	d := 1 / b
	h := d
	for i := 1; i <= itmax; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = b + an/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return math.Exp(-x+a*math.Log(x)-lnGamma) * h
}
