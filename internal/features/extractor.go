// Package features turns journal entry lines into fixed-order numeric
// vectors for the ML anomaly detectors.
package features

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Known entry sources, one-hot encoded in fixed order. Sources outside this
// list fall into the "other" slot.
var sourceOrder = []string{"manual", "system", "import", "recurring"}

// Names returns the feature names in vector order.
func Names() []string {
	names := []string{
		"log_amount",
		"day_of_month",
		"day_of_week",
		"is_weekend",
		"is_month_end",
		"hour_of_day",
		"entry_delay_days",
	}
	for _, s := range sourceOrder {
		names = append(names, "source_"+s)
	}
	names = append(names, "source_other", "is_debit")
	return names
}

// Dim is the width of every feature vector.
func Dim() int { return 7 + len(sourceOrder) + 2 }

// Extract builds the fixed-order feature vector for one entry line.
// Missing numeric inputs default to 0; a missing posting time defaults to
// noon.
func Extract(e *domain.JournalEntryLine) []float64 {
	v := make([]float64, 0, Dim())

	v = append(v, math.Log1p(math.Abs(e.Amount)))

	var dayOfMonth, dayOfWeek, isWeekend, isMonthEnd float64
	if !e.EffectiveDate.IsZero() {
		dayOfMonth = float64(e.EffectiveDate.Day())
		dayOfWeek = float64(e.EffectiveDate.Weekday())
		if wd := e.EffectiveDate.Weekday(); wd == 0 || wd == 6 {
			isWeekend = 1
		}
		if e.EffectiveDate.Day() >= lastDayOfMonth(e.EffectiveDate.Year(), int(e.EffectiveDate.Month()))-2 {
			isMonthEnd = 1
		}
	}
	v = append(v, dayOfMonth, dayOfWeek, isWeekend, isMonthEnd)

	v = append(v, float64(e.EntryHour()))

	var delay float64
	if !e.EntryDate.IsZero() && !e.EffectiveDate.IsZero() {
		delay = e.EntryDate.Sub(e.EffectiveDate).Hours() / 24
	}
	v = append(v, delay)

	matched := false
	for _, s := range sourceOrder {
		if e.Source == s {
			v = append(v, 1)
			matched = true
		} else {
			v = append(v, 0)
		}
	}
	if matched {
		v = append(v, 0)
	} else {
		v = append(v, 1)
	}

	if e.IsDebit {
		v = append(v, 1)
	} else {
		v = append(v, 0)
	}

	return v
}

func lastDayOfMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	default:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	}
}

// Matrix is a standardized feature matrix for one batch. Standardization is
// fit per batch; there are no persisted global statistics.
type Matrix struct {
	Rows [][]float64
	Mean []float64
	Std  []float64
}

// N returns the number of rows.
func (m *Matrix) N() int { return len(m.Rows) }

// Build extracts and standardizes features for every entry in the batch.
func Build(batch *domain.Batch) *Matrix {
	n := batch.Size()
	dim := Dim()

	rows := make([][]float64, n)
	for i, e := range batch.Entries {
		rows[i] = Extract(e)
	}

	mean := make([]float64, dim)
	std := make([]float64, dim)

	if n == 0 {
		return &Matrix{Rows: rows, Mean: mean, Std: std}
	}

	for _, r := range rows {
		for j, x := range r {
			mean[j] += x
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for _, r := range rows {
		for j, x := range r {
			d := x - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(n))
	}

	for _, r := range rows {
		for j := range r {
			if std[j] > 0 {
				r[j] = (r[j] - mean[j]) / std[j]
			} else {
				r[j] = 0
			}
		}
	}

	return &Matrix{Rows: rows, Mean: mean, Std: std}
}
