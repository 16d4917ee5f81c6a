package shipper

import "sort"

// Rank returns the available quotes ordered by total cost, then transit days,
// then carrier identifier. Unavailable entries are dropped.
func Rank(quotes []CarrierQuote) []CarrierQuote {
	ranked := make([]CarrierQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Available {
			ranked = append(ranked, q)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})
	return ranked
}

// BestQuote returns the cheapest available quote, preferring faster transit on ties.
func BestQuote(quotes []CarrierQuote) (CarrierQuote, bool) {
	var best CarrierQuote
	found := false
	for _, q := range quotes {
		if !q.Available {
			continue
		}
		if !found || less(q, best) {
			best = q
			found = true
		}
	}
	return best, found
}

func less(a, b CarrierQuote) bool {
	if c := a.TotalCost.Amount.Cmp(b.TotalCost.Amount); c != 0 {
		return c < 0
	}
	if a.TransitDays != b.TransitDays {
		return a.TransitDays < b.TransitDays
	}
	return a.CarrierID < b.CarrierID
}
