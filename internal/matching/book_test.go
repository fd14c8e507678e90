package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func order(id uint64, side Side, task, creator string, price int64, at time.Time) *Order {
	return &Order{
		ID: id, Side: side, TaskID: task, Creator: creator,
		Price: price, Amount: price, Remaining: price,
		CreatedAt: at, ExpiresAt: at.Add(time.Hour), PriorityScore: price,
	}
}

func TestPriorityAccruesWithAge(t *testing.T) {
	p := DefaultParams()
	o := order(1, TaskOffer, "t", "a", 5000, t0)

	assert.Equal(t, int64(5000), o.Priority(t0, p))
	assert.Equal(t, int64(5000), o.Priority(t0.Add(59*time.Second), p))
	assert.Equal(t, int64(5005), o.Priority(t0.Add(5*time.Minute), p))
	assert.Equal(t, int64(6000), o.Priority(t0.Add(10000*time.Minute), p))
	assert.Equal(t, int64(5000), o.Priority(t0.Add(-time.Minute), p))
}

func TestFeeRoundsDown(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, int64(20), p.Fee(8000))
	assert.Equal(t, int64(0), p.Fee(399))
	assert.Equal(t, int64(1), p.Fee(400))
	assert.Equal(t, int64(2), p.Fee(1199))
}

func TestLevelsAndBestPrices(t *testing.T) {
	m := newMarket("admin", t0)
	m.insert(order(1, TaskOffer, "t1", "a", 9000, t0.Add(time.Minute)))
	m.insert(order(2, TaskOffer, "t2", "b", 9000, t0))
	m.insert(order(3, TaskOffer, "t3", "c", 7000, t0))
	m.insert(order(4, ServiceBid, "t1", "x", 6000, t0))
	m.insert(order(5, ServiceBid, "t2", "y", 4000, t0))

	assert.Equal(t, int64(9000), m.BestOffer)
	assert.Equal(t, int64(4000), m.BestBid)
	assert.Equal(t, uint64(5), m.TotalOrders)

	levels := m.levels(TaskOffer)
	require.Len(t, levels, 2)
	assert.Equal(t, PriceLevel{Price: 9000, TotalAmount: 18000, OrderCount: 2, Earliest: t0}, levels[0])
	assert.Equal(t, int64(7000), levels[1].Price)

	m.remove(m.Offers[2])
	levels = m.levels(TaskOffer)
	assert.Equal(t, PriceLevel{Price: 9000, TotalAmount: 9000, OrderCount: 1, Earliest: t0.Add(time.Minute)}, levels[0])

	m.remove(m.Offers[1])
	assert.Equal(t, int64(7000), m.BestOffer)

	m.remove(m.Bids[5])
	assert.Equal(t, int64(6000), m.BestBid)
	bids := m.levels(ServiceBid)
	require.Len(t, bids, 1)

	m.remove(m.Bids[4])
	assert.Zero(t, m.BestBid)
	assert.Empty(t, m.BidLevels)
}

func TestNextCrossRanking(t *testing.T) {
	p := DefaultParams()
	m := newMarket("admin", t0)
	m.insert(order(1, TaskOffer, "t1", "owner", 9000, t0))
	m.insert(order(2, ServiceBid, "t1", "slow", 8000, t0))
	m.insert(order(3, ServiceBid, "t1", "cheap", 7000, t0.Add(time.Minute)))
	m.insert(order(4, ServiceBid, "t1", "late-cheap", 7000, t0.Add(2*time.Minute)))
	m.insert(order(5, ServiceBid, "t1", "owner", 100, t0))
	m.insert(order(6, ServiceBid, "t2", "other", 100, t0))

	all := func(*Order) bool { return true }
	offer, bid, ok := m.nextCross(t0.Add(10*time.Minute), p, all)
	require.True(t, ok)
	assert.Equal(t, uint64(1), offer.ID)
	assert.Equal(t, uint64(3), bid.ID)

	_, _, ok = m.nextCross(t0, p, func(*Order) bool { return false })
	assert.False(t, ok)

	_, _, ok = m.nextCross(t0.Add(2*time.Hour), p, all)
	assert.False(t, ok)
}

func TestNextCrossSkipsNonCrossing(t *testing.T) {
	p := DefaultParams()
	m := newMarket("admin", t0)
	m.insert(order(1, TaskOffer, "t1", "owner", 5000, t0))
	m.insert(order(2, ServiceBid, "t1", "pricey", 5001, t0))
	_, _, ok := m.nextCross(t0, p, func(*Order) bool { return true })
	assert.False(t, ok)
}

func TestRateLimited(t *testing.T) {
	p := DefaultParams()
	m := newMarket("admin", t0)
	assert.False(t, m.rateLimited(t0, p))
	last := t0
	m.LastMatchAt = &last
	assert.True(t, m.rateLimited(t0, p))
	assert.True(t, m.rateLimited(t0.Add(999*time.Millisecond), p))
	assert.False(t, m.rateLimited(t0.Add(time.Second), p))
}

func TestExpiredSelection(t *testing.T) {
	m := newMarket("admin", t0)
	for i := uint64(1); i <= 5; i++ {
		m.insert(order(i, ServiceBid, "t", "x", 1000, t0))
	}
	m.insert(order(6, TaskOffer, "t", "o", 1000, t0.Add(3*time.Hour)))

	none := func(*Order) bool { return false }
	got := m.expired(t0.Add(2*time.Hour), 3, none)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{got[0].ID, got[1].ID, got[2].ID})

	got = m.expired(t0.Add(2*time.Hour), 100, func(o *Order) bool { return o.ID == 6 })
	assert.Len(t, got, 6)
}
