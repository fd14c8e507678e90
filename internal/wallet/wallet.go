// Package wallet exposes the conserved balance primitive: a caller reads its
// own balance and operators fund accounts.
package wallet

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/sudo-init-do/taskmarket/internal/apperr"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

var ErrInvalidAmount = apperr.Define(apperr.InvalidParameter, "amount must be positive")

type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

func (s *Service) Balance(ctx context.Context, account string) (int64, error) {
	var bal int64
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		bal, err = tx.Balance(account)
		return err
	})
	return bal, err
}

// Receipt is the result of a funding call.
type Receipt struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
}

// Fund credits account with newly issued value on behalf of operator.
func (s *Service) Fund(ctx context.Context, operator, account string, amount int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	r := Receipt{ID: uuid.New().String(), Account: account, Amount: amount}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.Deposit(account, amount); err != nil {
			return err
		}
		var err error
		r.Balance, err = tx.Balance(account)
		return err
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("wallet: fund: %w", err)
	}
	log.Printf("[wallet] %s funded %s with %d (receipt %s)", operator, account, amount, r.ID)
	return r, nil
}
