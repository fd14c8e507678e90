package escrow

import (
	"time"

	"github.com/sudo-init-do/taskmarket/internal/apperr"
	"github.com/sudo-init-do/taskmarket/internal/custody"
)

var (
	ErrNotInitialized     = apperr.Define(apperr.NotInitialized, "escrow ledger not initialized")
	ErrAlreadyInitialized = apperr.Define(apperr.AlreadyInitialized, "escrow ledger already initialized")
	ErrDuplicateID        = apperr.Define(apperr.AlreadyExists, "task id already used")
	ErrInvalidID          = apperr.Define(apperr.InvalidParameter, "task id required")
	ErrInvalidAmount      = apperr.Define(apperr.InvalidParameter, "amount below minimum payment")
	ErrInvalidDuration    = apperr.Define(apperr.InvalidParameter, "duration out of range")
	ErrSelfAssignment     = apperr.Define(apperr.InvalidParameter, "counterparty must differ from owner")
	ErrNotFound           = apperr.Define(apperr.NotFound, "task not found")
	ErrUnauthorized       = apperr.Define(apperr.Unauthorized, "caller not allowed on this task")
	ErrAlreadyFinalized   = apperr.Define(apperr.AlreadyFinalized, "task already completed or cancelled")
	ErrExpired            = apperr.Define(apperr.Expired, "task deadline passed")
	ErrStillActive        = apperr.Define(apperr.WrongState, "task still active")
)

// Limits bounds what create accepts.
type Limits struct {
	MinAmount   int64
	MinDuration time.Duration
	MaxDuration time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MinAmount:   100,
		MinDuration: time.Minute,
		MaxDuration: 30 * 24 * time.Hour,
	}
}

// Task is one escrowed assignment. Escrow is nil once the task is final.
type Task struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner"`
	Counterparty string          `json:"counterparty"`
	Amount       int64           `json:"amount"`
	Escrow       *custody.Escrow `json:"escrow,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Deadline     time.Time       `json:"deadline"`
	Completed    bool            `json:"completed"`
	Cancelled    bool            `json:"cancelled"`
	Description  string          `json:"description"`
}

func (t *Task) Final() bool { return t.Completed || t.Cancelled }

// Held is the value still in custody for the task.
func (t *Task) Held() int64 {
	if t.Escrow == nil {
		return 0
	}
	return t.Escrow.Value
}

// MarketMode reports whether the task was created without a counterparty
// and waits for the matching engine to bind one.
func (t *Task) MarketMode() bool { return t.Counterparty == "" }

// Active reports whether the task can still be settled at now.
func (t *Task) Active(now time.Time) bool {
	return !t.Final() && !now.After(t.Deadline)
}

// Ledger is the per-owner aggregate.
type Ledger struct {
	Owner     string           `json:"owner"`
	CreatedAt time.Time        `json:"created_at"`
	Tasks     map[string]*Task `json:"tasks"`
}

// Stats summarises one ledger.
type Stats struct {
	Owner     string `json:"owner"`
	Total     int    `json:"total"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Cancelled int    `json:"cancelled"`
	Held      int64  `json:"held"`
}

func (l *Ledger) stats() Stats {
	s := Stats{Owner: l.Owner, Total: len(l.Tasks)}
	for _, t := range l.Tasks {
		switch {
		case t.Completed:
			s.Completed++
		case t.Cancelled:
			s.Cancelled++
		default:
			s.Active++
		}
		s.Held += t.Held()
	}
	return s
}

// CreateRequest carries the create arguments.
type CreateRequest struct {
	ID           string        `json:"task_id"`
	Counterparty string        `json:"counterparty"`
	Amount       int64         `json:"amount"`
	Duration     time.Duration `json:"-"`
	Description  string        `json:"description"`
}

// Settlement is a settle_from_match call. Fee goes to FeeRecipient out of the
// same escrow; with Fee zero only Amount and the refund move.
type Settlement struct {
	Owner        string `json:"owner"`
	Counterparty string `json:"counterparty"`
	TaskID       string `json:"task_id"`
	Amount       int64  `json:"amount"`
	Fee          int64  `json:"fee"`
	FeeRecipient string `json:"fee_recipient"`
}

// Payout reports what a settlement moved.
type Payout struct {
	Counterparty int64 `json:"paid"`
	Fee          int64 `json:"fee"`
	Refund       int64 `json:"refund"`
}

type createdEvent struct {
	TaskID       string    `json:"task_id"`
	Owner        string    `json:"owner"`
	Counterparty string    `json:"counterparty"`
	Amount       int64     `json:"amount"`
	Deadline     time.Time `json:"deadline"`
	Description  string    `json:"description"`
}

type closedEvent struct {
	TaskID    string `json:"task_id"`
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

type settledEvent struct {
	TaskID       string `json:"task_id"`
	Owner        string `json:"owner"`
	Counterparty string `json:"counterparty"`
	Payout
}

type reboundEvent struct {
	TaskID   string `json:"task_id"`
	Owner    string `json:"owner"`
	Previous string `json:"previous"`
	Current  string `json:"counterparty"`
}
