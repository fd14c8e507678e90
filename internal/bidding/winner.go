package bidding

// Better reports whether a outranks b: lower price first, then higher
// reputation, then earlier placement.
func Better(a, b Bid) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.Reputation != b.Reputation {
		return a.Reputation > b.Reputation
	}
	if !a.PlacedAt.Equal(b.PlacedAt) {
		return a.PlacedAt.Before(b.PlacedAt)
	}
	return a.Seq < b.Seq
}

// Winner returns the index of the best bid, or -1 for an empty list.
func Winner(bids []Bid) int {
	best := -1
	for i := range bids {
		if best < 0 || Better(bids[i], bids[best]) {
			best = i
		}
	}
	return best
}
