package matching

import (
	"time"

	"github.com/sudo-init-do/taskmarket/internal/apperr"
)

var (
	ErrNotInitialized     = apperr.Define(apperr.NotInitialized, "market not initialized")
	ErrAlreadyInitialized = apperr.Define(apperr.AlreadyInitialized, "market already initialized")
	ErrUnauthorized       = apperr.Define(apperr.Unauthorized, "caller not allowed")
	ErrNotOperational     = apperr.Define(apperr.MarketNotOperational, "market is not open")
	ErrInvalidStatus      = apperr.Define(apperr.InvalidParameter, "unknown market status")
	ErrInvalidSide        = apperr.Define(apperr.InvalidParameter, "unknown order side")
	ErrInvalidTaskID      = apperr.Define(apperr.InvalidParameter, "task id required")
	ErrInvalidPrice       = apperr.Define(apperr.InvalidParameter, "price outside order limits")
	ErrInvalidDuration    = apperr.Define(apperr.InvalidParameter, "order duration out of range")
	ErrExceedsEscrow      = apperr.Define(apperr.InvalidParameter, "offer price exceeds escrowed amount")
	ErrDuplicateOffer     = apperr.Define(apperr.AlreadyExists, "task already has a live offer")
	ErrTaskNotActive      = apperr.Define(apperr.WrongState, "task is already settled")
	ErrTaskAssigned       = apperr.Define(apperr.WrongState, "task is assigned to a counterparty")
	ErrTaskExpired        = apperr.Define(apperr.Expired, "task deadline passed")
	ErrOrderNotFound      = apperr.Define(apperr.NotFound, "order not found")
	ErrOrderExpired       = apperr.Define(apperr.Expired, "order expired")
	ErrNoCross            = apperr.Define(apperr.InvalidParameter, "orders do not cross")
	ErrSelfMatch          = apperr.Define(apperr.InvalidParameter, "offer and bid belong to the same account")
	ErrRateLimited        = apperr.Define(apperr.RateLimited, "match interval not elapsed")
)

type Status string

const (
	Open   Status = "open"
	Paused Status = "paused"
	Closed Status = "closed"
)

func (s Status) Valid() bool {
	return s == Open || s == Paused || s == Closed
}

type Side string

const (
	TaskOffer  Side = "task_offer"
	ServiceBid Side = "service_bid"
)

func (s Side) Valid() bool {
	return s == TaskOffer || s == ServiceBid
}

// Params are the market's protocol constants.
type Params struct {
	MinOrder        int64
	MaxOrder        int64
	MinDuration     time.Duration
	MaxDuration     time.Duration
	FeeRateBps      int64
	MatchInterval   time.Duration
	TimeBonusStep   time.Duration
	MaxTimeBonus    int64
	MaxBatchMatches int
	MaxSweep        int
}

func DefaultParams() Params {
	return Params{
		MinOrder:        100,
		MaxOrder:        1_000_000_000_000,
		MinDuration:     time.Minute,
		MaxDuration:     30 * 24 * time.Hour,
		FeeRateBps:      25,
		MatchInterval:   time.Second,
		TimeBonusStep:   time.Minute,
		MaxTimeBonus:    1000,
		MaxBatchMatches: 20,
		MaxSweep:        100,
	}
}

// Fee is the market's cut of amount, rounded down.
func (p Params) Fee(amount int64) int64 {
	return amount * p.FeeRateBps / 10000
}

// Order is a live entry on one side of the book. For a TaskOffer the creator
// is the owner of the escrowed task.
type Order struct {
	ID            uint64    `json:"id"`
	Side          Side      `json:"side"`
	TaskID        string    `json:"task_id"`
	Creator       string    `json:"creator"`
	Price         int64     `json:"price"`
	Amount        int64     `json:"amount"`
	Remaining     int64     `json:"remaining"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Metadata      string    `json:"metadata"`
	PriorityScore int64     `json:"priority_score"`
}

func (o *Order) Expired(now time.Time) bool { return now.After(o.ExpiresAt) }

// Priority grows with the order's age by one point per TimeBonusStep, capped
// at MaxTimeBonus.
func (o *Order) Priority(now time.Time, p Params) int64 {
	bonus := int64(0)
	if p.TimeBonusStep > 0 && now.After(o.CreatedAt) {
		bonus = int64(now.Sub(o.CreatedAt) / p.TimeBonusStep)
	}
	return o.Price + min(bonus, p.MaxTimeBonus)
}

type PriceLevel struct {
	Price       int64     `json:"price"`
	TotalAmount int64     `json:"total_amount"`
	OrderCount  int       `json:"order_count"`
	Earliest    time.Time `json:"earliest"`
}

// Market is the per-admin aggregate holding both sides of the book.
type Market struct {
	Admin         string                `json:"admin"`
	Status        Status                `json:"status"`
	CreatedAt     time.Time             `json:"created_at"`
	Offers        map[uint64]*Order     `json:"offers"`
	Bids          map[uint64]*Order     `json:"bids"`
	OfferLevels   map[int64]*PriceLevel `json:"offer_levels"`
	BidLevels     map[int64]*PriceLevel `json:"bid_levels"`
	BestOffer     int64                 `json:"best_offer"`
	BestBid       int64                 `json:"best_bid"`
	NextOrderID   uint64                `json:"next_order_id"`
	TotalOrders   uint64                `json:"total_orders"`
	TotalMatches  uint64                `json:"total_matches"`
	Volume        int64                 `json:"volume"`
	FeesCollected int64                 `json:"fees_collected"`
	LastMatchAt   *time.Time            `json:"last_match_at,omitempty"`
}

// Match is one executed trade.
type Match struct {
	OfferID   uint64    `json:"offer_id"`
	BidID     uint64    `json:"bid_id"`
	TaskID    string    `json:"task_id"`
	TaskOwner string    `json:"task_owner"`
	Provider  string    `json:"provider"`
	Price     int64     `json:"price"`
	Amount    int64     `json:"amount"`
	Fee       int64     `json:"fee"`
	Net       int64     `json:"net"`
	Refund    int64     `json:"refund"`
	At        time.Time `json:"at"`
}

type Stats struct {
	Admin         string     `json:"admin"`
	Status        Status     `json:"status"`
	OpenOffers    int        `json:"open_offers"`
	OpenBids      int        `json:"open_bids"`
	BestOffer     int64      `json:"best_offer"`
	BestBid       int64      `json:"best_bid"`
	TotalOrders   uint64     `json:"total_orders"`
	TotalMatches  uint64     `json:"total_matches"`
	Volume        int64      `json:"volume"`
	FeesCollected int64      `json:"fees_collected"`
	LastMatchAt   *time.Time `json:"last_match_at,omitempty"`
}

type BestPrices struct {
	BestOffer int64 `json:"best_offer"`
	BestBid   int64 `json:"best_bid"`
}

// OrderRequest carries publish_task_offer and place_service_bid arguments.
type OrderRequest struct {
	TaskID   string
	Price    int64
	Duration time.Duration
	Metadata string
}

type statusEvent struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

type orderEvent struct {
	OrderID uint64 `json:"order_id"`
	Side    Side   `json:"side"`
	TaskID  string `json:"task_id"`
	Creator string `json:"creator"`
	Price   int64  `json:"price"`
	Reason  string `json:"reason,omitempty"`
}

type matchedEvent struct {
	Match
	OfferRemaining int64 `json:"offer_remaining"`
	BidRemaining   int64 `json:"bid_remaining"`
}

type feeEvent struct {
	TaskID    string `json:"task_id"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

type executedEvent struct {
	Executor     string `json:"executor"`
	OfferID      uint64 `json:"offer_id"`
	BidID        uint64 `json:"bid_id"`
	TotalMatches uint64 `json:"total_matches"`
	Volume       int64  `json:"volume"`
}

type sweepEvent struct {
	Caller  string `json:"caller"`
	Removed int    `json:"removed"`
}

type batchEvent struct {
	Executor string `json:"executor"`
	Matches  int    `json:"matches"`
	Volume   int64  `json:"volume"`
}
