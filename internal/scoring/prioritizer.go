package scoring

import (
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ReviewItem pairs one flagged entry with its computed review priority.
type ReviewItem struct {
	GLDetailID string              `json:"glDetailId"`
	Amount     float64             `json:"amount"`
	RiskScore  *domain.RiskScore   `json:"riskScore"`
	Band       domain.RiskCategory `json:"band"`
	Priority   float64             `json:"priority"`
}

// Prioritizer ranks flagged entries for manual review.
type Prioritizer struct {
	// CriticalBoost is added when the entry carries a critical violation.
	CriticalBoost float64
}

// NewPrioritizer builds a prioritizer with the default boost.
func NewPrioritizer() *Prioritizer {
	return &Prioritizer{CriticalBoost: 50}
}

// Priority computes the review priority of one scored entry:
// score*2 + log10(|amount|+1)*5 + boost for critical + distinct rule count.
func (p *Prioritizer) Priority(score *domain.RiskScore, amount float64) float64 {
	priority := score.Total*2 + math.Log10(math.Abs(amount)+1)*5
	if score.SeverityLevel == domain.SeverityCritical {
		priority += p.CriticalBoost
	}
	priority += float64(len(score.ViolatedRules))
	return priority
}

// Rank orders the scored entries by descending priority. Amounts are looked
// up from the batch; entries missing from it rank on score alone.
func (p *Prioritizer) Rank(scores []*domain.RiskScore, batch *domain.Batch) []ReviewItem {
	amounts := make(map[string]float64, batch.Size())
	for _, e := range batch.Entries {
		amounts[e.GLDetailID] = e.Amount
	}

	items := make([]ReviewItem, 0, len(scores))
	for _, sc := range scores {
		amount := amounts[sc.GLDetailID]
		items = append(items, ReviewItem{
			GLDetailID: sc.GLDetailID,
			Amount:     amount,
			RiskScore:  sc,
			Band:       sc.Category(),
			Priority:   p.Priority(sc, amount),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority > items[j].Priority })
	return items
}

// SampleSizes sets how many entries each risk band contributes to a
// stratified review sample.
type SampleSizes map[domain.RiskCategory]int

// DefaultSampleSizes reviews every critical entry and a decreasing share of
// the lower bands.
func DefaultSampleSizes() SampleSizes {
	return SampleSizes{
		domain.RiskCritical: 0, // 0 means take all
		domain.RiskHigh:     50,
		domain.RiskMedium:   25,
		domain.RiskLow:      10,
		domain.RiskMinimal:  0,
	}
}

// StratifiedSample draws the top-priority entries per band. A zero size
// takes the whole critical band and skips the others.
func (p *Prioritizer) StratifiedSample(items []ReviewItem, sizes SampleSizes) []ReviewItem {
	byBand := make(map[domain.RiskCategory][]ReviewItem)
	for _, it := range items {
		byBand[it.Band] = append(byBand[it.Band], it)
	}

	var out []ReviewItem
	for _, band := range []domain.RiskCategory{domain.RiskCritical, domain.RiskHigh, domain.RiskMedium, domain.RiskLow, domain.RiskMinimal} {
		pool := byBand[band]
		size := sizes[band]
		if size == 0 {
			if band == domain.RiskCritical {
				out = append(out, pool...)
			}
			continue
		}
		if size > len(pool) {
			size = len(pool)
		}
		out = append(out, pool[:size]...)
	}
	return out
}
