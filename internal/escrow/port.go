package escrow

import (
	"github.com/sudo-init-do/taskmarket/internal/apperr"
	"github.com/sudo-init-do/taskmarket/internal/custody"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

var (
	ErrInvalidCounterparty = apperr.Define(apperr.InvalidParameter, "counterparty required")
	ErrWrongCounterparty   = apperr.Define(apperr.Unauthorized, "settlement counterparty does not match task")
	ErrInvalidSettlement   = apperr.Define(apperr.InvalidParameter, "settlement amount must be positive")
	ErrCounterpartyBound   = apperr.Define(apperr.WrongState, "task already has a counterparty")
)

// Port is the entry point the matching engine settles through. Its methods
// run inside the caller's unit of work, so a failure here unwinds the order
// book changes staged alongside.
type Port struct{}

func (Port) Lookup(tx store.Tx, owner, id string) (Task, error) {
	return Lookup(tx, owner, id)
}

// RebindCounterparty assigns the party that will fulfil a market-mode task.
// A task created for a named counterparty cannot be handed to anyone else.
func (Port) RebindCounterparty(tx store.Tx, owner, id, counterparty string) error {
	l, err := loadLedger(tx, owner)
	if err != nil {
		return err
	}
	t, err := l.task(id)
	if err != nil {
		return err
	}
	if t.Final() {
		return ErrAlreadyFinalized
	}
	if counterparty == "" {
		return ErrInvalidCounterparty
	}
	if counterparty == owner {
		return ErrSelfAssignment
	}
	if t.Counterparty == counterparty {
		return nil
	}
	if !t.MarketMode() {
		return ErrCounterpartyBound
	}
	prev := t.Counterparty
	t.Counterparty = counterparty
	if err := tx.Save(store.KindLedger, owner, l); err != nil {
		return err
	}
	return tx.Emit(owner, events.EscrowCounterpartyBound, reboundEvent{
		TaskID: id, Owner: owner, Previous: prev, Current: counterparty,
	})
}

// SettleFromMatch pays min(Amount, held) to the counterparty, then at most
// Fee of what is left to FeeRecipient, and refunds the rest to the owner.
func (Port) SettleFromMatch(tx store.Tx, s Settlement) (Payout, error) {
	l, err := loadLedger(tx, s.Owner)
	if err != nil {
		return Payout{}, err
	}
	t, err := l.task(s.TaskID)
	if err != nil {
		return Payout{}, err
	}
	if t.Counterparty != s.Counterparty {
		return Payout{}, ErrWrongCounterparty
	}
	if t.Final() {
		return Payout{}, ErrAlreadyFinalized
	}
	if tx.Now().After(t.Deadline) {
		return Payout{}, ErrExpired
	}
	if s.Amount <= 0 || s.Fee < 0 {
		return Payout{}, ErrInvalidSettlement
	}

	held := t.Held()
	pay := min(s.Amount, held)
	fee := min(s.Fee, held-pay)
	if s.FeeRecipient == "" {
		fee = 0
	}
	_, err = custody.Split(tx, t.Escrow, s.Owner,
		custody.Share{To: s.Counterparty, Amount: pay},
		custody.Share{To: s.FeeRecipient, Amount: fee},
	)
	if err != nil {
		return Payout{}, err
	}
	out := Payout{Counterparty: pay, Fee: fee, Refund: held - pay - fee}

	t.Escrow = nil
	t.Completed = true
	if err := tx.Save(store.KindLedger, s.Owner, l); err != nil {
		return Payout{}, err
	}
	err = tx.Emit(s.Owner, events.EscrowTaskSettled, settledEvent{
		TaskID:       s.TaskID,
		Owner:        s.Owner,
		Counterparty: s.Counterparty,
		Payout:       out,
	})
	return out, err
}
