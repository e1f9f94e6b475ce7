// Package pricing computes the coin cost of premium transfer options.
package pricing

import (
	"fmt"
	"strings"
)

const (
	dateCustomizationFee = 2
	perContributorFee    = 2
)

// Options are the premium settings of a transfer request that carry a cost.
type Options struct {
	KeepOriginalDates bool
	StartDate         string
	Contributors      []string
}

// Price returns the total coin cost of the selected options and an ordered
// list of human-readable feature labels. It is pure and deterministic:
// identical input always yields identical output.
//
// Duplicate contributor names are counted individually; the caller gets
// exactly what it asked for.
func Price(opts Options) (int64, []string) {
	var cost int64
	features := []string{}

	if !opts.KeepOriginalDates && opts.StartDate != "" {
		cost += dateCustomizationFee
		features = append(features, "custom dates")
	}

	contributorCount := 0
	for _, c := range opts.Contributors {
		if strings.TrimSpace(c) != "" {
			contributorCount++
		}
	}

	if contributorCount > 0 {
		contributorCost := int64(contributorCount) * perContributorFee
		cost += contributorCost

		plural := ""
		if contributorCount > 1 {
			plural = "s"
		}
		features = append(features, fmt.Sprintf("%d custom contributor%s (%d coins)", contributorCount, plural, contributorCost))
	}

	return cost, features
}
