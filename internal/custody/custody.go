// Package custody is the only code that moves value between accounts and task
// escrows. Ledgers hold an *Escrow on each live task; once it is split or
// released the value is zero and the caller drops the entry.
package custody

import (
	"errors"
	"fmt"

	"github.com/sudo-init-do/taskmarket/internal/apperr"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

var (
	ErrInsufficientFunds = apperr.Define(apperr.InsufficientFunds, "insufficient balance to fund escrow")
	ErrInvalidAmount     = apperr.Define(apperr.InvalidParameter, "escrow amount must be positive")
	ErrDrained           = apperr.Define(apperr.AlreadyFinalized, "escrow already settled")
	ErrOverdrawn         = apperr.Define(apperr.Internal, "shares exceed escrowed value")
)

// Escrow is value withdrawn from Funder and held against one task.
type Escrow struct {
	Funder string `json:"funder"`
	Value  int64  `json:"value"`
}

// Share is one payout leg of a settlement.
type Share struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// Hold withdraws amount from funder.
func Hold(tx store.Tx, funder string, amount int64) (*Escrow, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := tx.Withdraw(funder, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("custody: hold: %w", err)
	}
	return &Escrow{Funder: funder, Value: amount}, nil
}

// Split pays every share in order and sends whatever is left to rest. Zero
// shares are dropped. The returned legs sum to the escrowed value.
func Split(tx store.Tx, e *Escrow, rest string, shares ...Share) ([]Share, error) {
	if e == nil || e.Value <= 0 {
		return nil, ErrDrained
	}
	left := e.Value
	paid := make([]Share, 0, len(shares)+1)
	for _, s := range shares {
		if s.Amount <= 0 {
			continue
		}
		if s.Amount > left {
			return nil, ErrOverdrawn
		}
		if err := tx.Deposit(s.To, s.Amount); err != nil {
			return nil, fmt.Errorf("custody: pay %s: %w", s.To, err)
		}
		left -= s.Amount
		paid = append(paid, s)
	}
	if left > 0 {
		if err := tx.Deposit(rest, left); err != nil {
			return nil, fmt.Errorf("custody: remainder to %s: %w", rest, err)
		}
		paid = append(paid, Share{To: rest, Amount: left})
	}
	e.Value = 0
	return paid, nil
}

// Release pays the whole escrow to one account.
func Release(tx store.Tx, e *Escrow, to string) error {
	_, err := Split(tx, e, to)
	return err
}

// Refund returns the whole escrow to its funder.
func Refund(tx store.Tx, e *Escrow) error {
	if e == nil {
		return ErrDrained
	}
	return Release(tx, e, e.Funder)
}

// Amount returns what shares paid to account.
func Amount(legs []Share, account string) int64 {
	var n int64
	for _, l := range legs {
		if l.To == account {
			n += l.Amount
		}
	}
	return n
}
