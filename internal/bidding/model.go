package bidding

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sudo-init-do/taskmarket/internal/apperr"
	"github.com/sudo-init-do/taskmarket/internal/custody"
)

var (
	ErrNotInitialized     = apperr.Define(apperr.NotInitialized, "bidding platform not initialized")
	ErrAlreadyInitialized = apperr.Define(apperr.AlreadyInitialized, "bidding platform already initialized")
	ErrDuplicateID        = apperr.Define(apperr.AlreadyExists, "task id already published")
	ErrInvalidID          = apperr.Define(apperr.InvalidParameter, "task id required")
	ErrInvalidBudget      = apperr.Define(apperr.InvalidParameter, "budget below minimum payment")
	ErrInvalidDuration    = apperr.Define(apperr.InvalidParameter, "duration out of range")
	ErrNotFound           = apperr.Define(apperr.NotFound, "task not found")
	ErrWrongState         = apperr.Define(apperr.WrongState, "task is not in the required state")
	ErrExpired            = apperr.Define(apperr.Expired, "bidding window closed")
	ErrInvalidPrice       = apperr.Define(apperr.InvalidParameter, "bid price must be positive and within budget")
	ErrSelfBid            = apperr.Define(apperr.InvalidParameter, "creator cannot bid on own task")
	ErrDuplicateBid       = apperr.Define(apperr.AlreadyExists, "bidder already has a bid on this task")
	ErrUnauthorized       = apperr.Define(apperr.Unauthorized, "caller not allowed on this task")
	ErrNoBids             = apperr.Define(apperr.NoBids, "no bids to select from")
)

type Status uint8

const (
	Published Status = 1
	Assigned  Status = 2
	Completed Status = 3
	Cancelled Status = 4
)

func (s Status) String() string {
	switch s {
	case Published:
		return "published"
	case Assigned:
		return "assigned"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for _, c := range []Status{Published, Assigned, Completed, Cancelled} {
		if c.String() == name {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("bidding: unknown status %q", name)
}

// Limits bounds what publish accepts.
type Limits struct {
	MinBudget   int64
	MinDuration time.Duration
	MaxDuration time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MinBudget:   100,
		MinDuration: time.Minute,
		MaxDuration: 30 * 24 * time.Hour,
	}
}

// Bid is one bidder's claim on a task. Seq is the platform-wide placement
// counter and breaks ties between bids placed in the same second.
type Bid struct {
	Bidder     string    `json:"bidder"`
	Price      int64     `json:"price"`
	Reputation uint64    `json:"reputation"`
	PlacedAt   time.Time `json:"placed_at"`
	Seq        uint64    `json:"seq"`
}

type Task struct {
	ID           string          `json:"id"`
	Creator      string          `json:"creator"`
	Description  string          `json:"description"`
	MaxBudget    int64           `json:"max_budget"`
	Escrow       *custody.Escrow `json:"escrow,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Deadline     time.Time       `json:"deadline"`
	Status       Status          `json:"status"`
	Bids         []Bid           `json:"bids"`
	Winner       string          `json:"winner,omitempty"`
	WinningPrice int64           `json:"winning_price,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func (t *Task) Held() int64 {
	if t.Escrow == nil {
		return 0
	}
	return t.Escrow.Value
}

func (t *Task) bidBy(bidder string) bool {
	for _, b := range t.Bids {
		if b.Bidder == bidder {
			return true
		}
	}
	return false
}

// Platform is the per-owner aggregate.
type Platform struct {
	Owner          string           `json:"owner"`
	CreatedAt      time.Time        `json:"created_at"`
	Tasks          map[string]*Task `json:"tasks"`
	NextBidSeq     uint64           `json:"next_bid_seq"`
	TotalTasks     uint64           `json:"total_tasks"`
	CompletedTasks uint64           `json:"completed_tasks"`
	CancelledTasks uint64           `json:"cancelled_tasks"`
}

type PlatformStats struct {
	Owner          string `json:"owner"`
	TotalTasks     uint64 `json:"total_tasks"`
	CompletedTasks uint64 `json:"completed_tasks"`
	CancelledTasks uint64 `json:"cancelled_tasks"`
}

type PublishRequest struct {
	ID          string
	Description string
	MaxBudget   int64
	Duration    time.Duration
}

type publishedEvent struct {
	TaskID      string    `json:"task_id"`
	Creator     string    `json:"creator"`
	Description string    `json:"description"`
	MaxBudget   int64     `json:"max_budget"`
	Deadline    time.Time `json:"deadline"`
}

type bidEvent struct {
	TaskID     string `json:"task_id"`
	Bidder     string `json:"bidder"`
	Price      int64  `json:"price"`
	Reputation uint64 `json:"reputation"`
}

type winnerEvent struct {
	TaskID       string `json:"task_id"`
	Winner       string `json:"winner"`
	WinningPrice int64  `json:"winning_price"`
	BidCount     int    `json:"bid_count"`
}

type completedEvent struct {
	TaskID        string `json:"task_id"`
	Winner        string `json:"winner"`
	WinnerPaid    int64  `json:"winner_paid"`
	CreatorRefund int64  `json:"creator_refund"`
}

type cancelledEvent struct {
	TaskID   string `json:"task_id"`
	Creator  string `json:"creator"`
	Refunded int64  `json:"refunded"`
}
