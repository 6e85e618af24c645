package features

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestExtractDimensions(t *testing.T) {
	e := &domain.JournalEntryLine{
		GLDetailID:    "gl-1",
		Amount:        1500.0,
		EffectiveDate: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		EntryDate:     time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		Source:        "manual",
		IsDebit:       true,
	}

	v := Extract(e)
	if len(v) != Dim() {
		t.Fatalf("expected %d features, got %d", Dim(), len(v))
	}
	if len(Names()) != Dim() {
		t.Fatalf("Names length %d != Dim %d", len(Names()), Dim())
	}
}

func TestExtractValues(t *testing.T) {
	// Saturday March 15 2025, posted two days later.
	e := &domain.JournalEntryLine{
		Amount:        999.0,
		EffectiveDate: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		EntryDate:     time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		EntryTime:     "22:30:00",
		Source:        "system",
		IsDebit:       false,
	}

	v := Extract(e)

	if got, want := v[0], math.Log1p(999.0); math.Abs(got-want) > 1e-9 {
		t.Errorf("log_amount = %v, want %v", got, want)
	}
	if v[1] != 15 {
		t.Errorf("day_of_month = %v, want 15", v[1])
	}
	if v[3] != 1 {
		t.Errorf("is_weekend = %v, want 1 for Saturday", v[3])
	}
	if v[4] != 0 {
		t.Errorf("is_month_end = %v, want 0 for the 15th", v[4])
	}
	if v[5] != 22 {
		t.Errorf("hour_of_day = %v, want 22", v[5])
	}
	if v[6] != 2 {
		t.Errorf("entry_delay_days = %v, want 2", v[6])
	}
	// is_debit is the last feature
	if v[len(v)-1] != 0 {
		t.Errorf("is_debit = %v, want 0 for credit", v[len(v)-1])
	}
}

func TestExtractDefaults(t *testing.T) {
	v := Extract(&domain.JournalEntryLine{})

	if v[5] != 12 {
		t.Errorf("hour_of_day = %v, want noon default", v[5])
	}
	for _, idx := range []int{1, 2, 3, 4, 6} {
		if v[idx] != 0 {
			t.Errorf("feature %d = %v, want 0 for missing input", idx, v[idx])
		}
	}
	// Unknown source lands in source_other.
	if v[len(v)-2] != 1 {
		t.Errorf("source_other = %v, want 1", v[len(v)-2])
	}
}

func TestBuildStandardizes(t *testing.T) {
	entries := make([]*domain.JournalEntryLine, 50)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range entries {
		entries[i] = &domain.JournalEntryLine{
			Amount:        float64(100 * (i + 1)),
			EffectiveDate: base.AddDate(0, 0, i%28),
			EntryDate:     base.AddDate(0, 0, i%28+1),
			Source:        "manual",
			IsDebit:       i%2 == 0,
		}
	}

	m := Build(domain.NewBatch(entries))
	if m.N() != 50 {
		t.Fatalf("expected 50 rows, got %d", m.N())
	}

	// Standardized columns with nonzero variance have ~zero mean and unit
	// variance.
	for j := 0; j < Dim(); j++ {
		if m.Std[j] == 0 {
			continue
		}
		var sum, sumSq float64
		for _, r := range m.Rows {
			sum += r[j]
			sumSq += r[j] * r[j]
		}
		mean := sum / 50
		variance := sumSq/50 - mean*mean
		if math.Abs(mean) > 1e-9 {
			t.Errorf("column %d mean = %v, want 0", j, mean)
		}
		if math.Abs(variance-1) > 1e-6 {
			t.Errorf("column %d variance = %v, want 1", j, variance)
		}
	}
}

func TestBuildEmptyBatch(t *testing.T) {
	m := Build(domain.NewBatch(nil))
	if m.N() != 0 {
		t.Fatalf("expected empty matrix, got %d rows", m.N())
	}
}
