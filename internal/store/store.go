// Package store defines the keyed state port the marketplace runs on: one
// aggregate record per (kind, owner), a conserved balance per account and an
// ordered event stream per owner. Every mutation happens inside Update, which
// is atomic and serializable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/taskmarket/internal/events"
)

// Kind selects an aggregate family.
type Kind string

const (
	KindLedger   Kind = "ledger"
	KindPlatform Kind = "platform"
	KindMarket   Kind = "market"
)

var (
	ErrNotFound          = errors.New("store: record not found")
	ErrInsufficientFunds = errors.New("store: insufficient funds")
	ErrReadOnly          = errors.New("store: read-only transaction")
	ErrInvalidAmount     = errors.New("store: amount must be positive")
)

// Tx is the view of the store inside one unit of work.
type Tx interface {
	// Now is the host time sampled when the unit started.
	Now() time.Time

	Load(kind Kind, owner string, v any) error
	Save(kind Kind, owner string, v any) error
	Exists(kind Kind, owner string) (bool, error)

	Balance(account string) (int64, error)
	Withdraw(account string, amount int64) error
	Deposit(account string, amount int64) error

	// Emit stages an event on owner's stream. It is persisted and published
	// only if the unit commits.
	Emit(owner string, kind events.Kind, payload any) error
}

type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	// Events returns up to limit events of owner with Seq > after.
	Events(ctx context.Context, owner string, after uint64, limit int) ([]events.Event, error)
	Close() error
}

// Pending is an event staged by a transaction, not yet sequenced.
type Pending struct {
	Owner string
	Kind  events.Kind
	Data  json.RawMessage
}

// Stage marshals payload into a Pending event.
func Stage(owner string, kind events.Kind, payload any) (Pending, error) {
	if owner == "" {
		return Pending{}, errors.New("store: event owner required")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Pending{}, fmt.Errorf("store: encode %s payload: %w", kind, err)
	}
	return Pending{Owner: owner, Kind: kind, Data: b}, nil
}

// Sequence stamps pending events with ids and per-owner sequence numbers.
// last returns the highest committed sequence of an owner.
func Sequence(pending []Pending, at time.Time, last func(owner string) (uint64, error)) ([]events.Event, error) {
	next := make(map[string]uint64)
	out := make([]events.Event, 0, len(pending))
	for _, p := range pending {
		seq, ok := next[p.Owner]
		if !ok {
			s, err := last(p.Owner)
			if err != nil {
				return nil, err
			}
			seq = s
		}
		seq++
		next[p.Owner] = seq
		out = append(out, events.Event{
			ID:    uuid.New().String(),
			Owner: p.Owner,
			Seq:   seq,
			Kind:  p.Kind,
			At:    at,
			Data:  p.Data,
		})
	}
	return out, nil
}

// ClampLimit bounds an events page size.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
