package matching

import (
	"sort"
	"time"
)

func newMarket(admin string, now time.Time) *Market {
	m := &Market{Admin: admin, Status: Open, CreatedAt: now}
	m.ensure()
	return m
}

// ensure replaces nil maps left by decoding an empty book.
func (m *Market) ensure() {
	if m.Offers == nil {
		m.Offers = make(map[uint64]*Order)
	}
	if m.Bids == nil {
		m.Bids = make(map[uint64]*Order)
	}
	if m.OfferLevels == nil {
		m.OfferLevels = make(map[int64]*PriceLevel)
	}
	if m.BidLevels == nil {
		m.BidLevels = make(map[int64]*PriceLevel)
	}
}

func (m *Market) side(s Side) (map[uint64]*Order, map[int64]*PriceLevel) {
	if s == TaskOffer {
		return m.Offers, m.OfferLevels
	}
	return m.Bids, m.BidLevels
}

// order looks an id up on both sides.
func (m *Market) order(id uint64) (*Order, bool) {
	if o, ok := m.Offers[id]; ok {
		return o, true
	}
	o, ok := m.Bids[id]
	return o, ok
}

func (m *Market) insert(o *Order) {
	orders, levels := m.side(o.Side)
	orders[o.ID] = o
	lvl, ok := levels[o.Price]
	if !ok {
		lvl = &PriceLevel{Price: o.Price, Earliest: o.CreatedAt}
		levels[o.Price] = lvl
	}
	lvl.TotalAmount += o.Remaining
	lvl.OrderCount++
	if o.CreatedAt.Before(lvl.Earliest) {
		lvl.Earliest = o.CreatedAt
	}
	m.TotalOrders++
	m.refreshBest()
}

func (m *Market) remove(o *Order) {
	orders, levels := m.side(o.Side)
	delete(orders, o.ID)
	if lvl, ok := levels[o.Price]; ok {
		lvl.TotalAmount -= o.Remaining
		lvl.OrderCount--
		if lvl.OrderCount <= 0 {
			delete(levels, o.Price)
		} else {
			lvl.Earliest = time.Time{}
			for _, other := range orders {
				if other.Price == o.Price && (lvl.Earliest.IsZero() || other.CreatedAt.Before(lvl.Earliest)) {
					lvl.Earliest = other.CreatedAt
				}
			}
		}
	}
	m.refreshBest()
}

// refreshBest keeps the highest offer price and the lowest bid price.
func (m *Market) refreshBest() {
	m.BestOffer = 0
	for p := range m.OfferLevels {
		if p > m.BestOffer {
			m.BestOffer = p
		}
	}
	m.BestBid = 0
	for p := range m.BidLevels {
		if p > 0 && (m.BestBid == 0 || p < m.BestBid) {
			m.BestBid = p
		}
	}
}

func (m *Market) liveOffer(owner, taskID string) bool {
	for _, o := range m.Offers {
		if o.Creator == owner && o.TaskID == taskID {
			return true
		}
	}
	return false
}

// levels returns one side's price levels, best price first.
func (m *Market) levels(s Side) []PriceLevel {
	_, levels := m.side(s)
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if s == TaskOffer {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

func (m *Market) stats() Stats {
	return Stats{
		Admin:         m.Admin,
		Status:        m.Status,
		OpenOffers:    len(m.Offers),
		OpenBids:      len(m.Bids),
		BestOffer:     m.BestOffer,
		BestBid:       m.BestBid,
		TotalOrders:   m.TotalOrders,
		TotalMatches:  m.TotalMatches,
		Volume:        m.Volume,
		FeesCollected: m.FeesCollected,
		LastMatchAt:   m.LastMatchAt,
	}
}

// rateLimited reports whether a match at now is too close to the last one.
func (m *Market) rateLimited(now time.Time, p Params) bool {
	return m.LastMatchAt != nil && now.Sub(*m.LastMatchAt) < p.MatchInterval
}

// ranked returns orders of one side in crossing priority: offers by highest
// price, bids by lowest, then higher live priority, then lower id.
func ranked(orders map[uint64]*Order, s Side, now time.Time, p Params) []*Order {
	out := make([]*Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Price != b.Price {
			if s == TaskOffer {
				return a.Price > b.Price
			}
			return a.Price < b.Price
		}
		pa, pb := a.Priority(now, p), b.Priority(now, p)
		if pa != pb {
			return pa > pb
		}
		return a.ID < b.ID
	})
	return out
}

// crosses reports whether bid can fill offer.
func crosses(offer, bid *Order) bool {
	return offer.TaskID == bid.TaskID && bid.Price <= offer.Price
}

// nextCross finds the best executable pair. accept filters offers, typically
// on task id and escrow state.
func (m *Market) nextCross(now time.Time, p Params, accept func(*Order) bool) (*Order, *Order, bool) {
	bids := ranked(m.Bids, ServiceBid, now, p)
	for _, offer := range ranked(m.Offers, TaskOffer, now, p) {
		if offer.Expired(now) || !accept(offer) {
			continue
		}
		for _, bid := range bids {
			if bid.Expired(now) || bid.Creator == offer.Creator || !crosses(offer, bid) {
				continue
			}
			return offer, bid, true
		}
	}
	return nil, nil, false
}

// expired returns up to limit orders past their expiry, lowest id first.
func (m *Market) expired(now time.Time, limit int, stale func(*Order) bool) []*Order {
	var out []*Order
	for _, orders := range []map[uint64]*Order{m.Offers, m.Bids} {
		for _, o := range orders {
			if o.Expired(now) || stale(o) {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
