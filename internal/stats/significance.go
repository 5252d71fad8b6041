// Package stats computes conversion statistics for experiments: rates,
// confidence intervals, and a chi-square significance check against the
// control variant.
package stats

// SignificanceThreshold is the chi-square value above which a variant is
// flagged significant. 3.84 approximates p<0.05 at one degree of freedom
// with large samples. This is a lightweight heuristic, not a substitute
// for a vetted statistics library.
const SignificanceThreshold = 3.84

// VariantCount is the raw counter input for one variant.
type VariantCount struct {
	ID          string
	IsControl   bool
	Impressions int
	Conversions int
}

// VariantResult contains the derived statistics for a single variant.
type VariantResult struct {
	ID          string  `json:"id"`
	IsControl   bool    `json:"is_control"`
	Impressions int     `json:"impressions"`
	Conversions int     `json:"conversions"`
	Rate        float64 `json:"rate"`
	CILower     float64 `json:"ci_lower"`
	CIUpper     float64 `json:"ci_upper"`
	ChiSquare   float64 `json:"chi_square"`
	Significant bool    `json:"significant"`
}

// Results is the full statistical picture of an experiment.
type Results struct {
	Variants []VariantResult `json:"variants"`
	// WinningVariantID is the significant variant with the highest
	// conversion rate, or empty when nothing is significant yet.
	WinningVariantID string `json:"winning_variant_id,omitempty"`
}

// Rate returns conversions/impressions, or 0 when there are no impressions.
func Rate(conversions, impressions int) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(conversions) / float64(impressions)
}

// ChiSquare computes the chi-square statistic for a 2x2 contingency table
// comparing two variants' conversion counts. Returns 0 when either variant
// has no impressions or the pooled rate is degenerate (all or none
// converted), where the test carries no information.
func ChiSquare(convA, viewsA, convB, viewsB int) float64 {
	if viewsA == 0 || viewsB == 0 {
		return 0
	}

	nA, nB := float64(viewsA), float64(viewsB)
	pooled := float64(convA+convB) / (nA + nB)
	if pooled == 0 || pooled == 1 {
		return 0
	}

	chi := 0.0
	for _, cell := range [][2]float64{
		{float64(convA), nA * pooled},
		{nA - float64(convA), nA * (1 - pooled)},
		{float64(convB), nB * pooled},
		{nB - float64(convB), nB * (1 - pooled)},
	} {
		observed, expected := cell[0], cell[1]
		diff := observed - expected
		chi += diff * diff / expected
	}
	return chi
}

// Analyze derives per-variant statistics from raw counters. Significance is
// computed pairwise against the control variant; with no designated control
// every variant stays non-significant and no winner is declared. Results are
// fully recomputable from the counters alone.
func Analyze(counts []VariantCount) *Results {
	control := -1
	for i, c := range counts {
		if c.IsControl {
			control = i
			break
		}
	}

	variants := make([]VariantResult, len(counts))
	for i, c := range counts {
		lower, upper := NormalInterval(c.Conversions, c.Impressions)
		variants[i] = VariantResult{
			ID:          c.ID,
			IsControl:   c.IsControl,
			Impressions: c.Impressions,
			Conversions: c.Conversions,
			Rate:        Rate(c.Conversions, c.Impressions),
			CILower:     lower,
			CIUpper:     upper,
		}

		if control >= 0 && i != control {
			ctl := counts[control]
			chi := ChiSquare(c.Conversions, c.Impressions, ctl.Conversions, ctl.Impressions)
			variants[i].ChiSquare = chi
			variants[i].Significant = chi > SignificanceThreshold
		}
	}

	results := &Results{Variants: variants}
	bestRate := -1.0
	for _, v := range variants {
		if v.Significant && v.Rate > bestRate {
			bestRate = v.Rate
			results.WinningVariantID = v.ID
		}
	}
	return results
}
