// Package escrow is the per-owner ledger of tasks with held funds. Tasks are
// settled by the counterparty completing them, by the owner cancelling or
// reclaiming after the deadline, or by the matching engine through Port.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sudo-init-do/taskmarket/internal/custody"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

type Service struct {
	store  store.Store
	limits Limits
}

func NewService(st store.Store, limits Limits) *Service {
	return &Service{store: st, limits: limits}
}

func loadLedger(tx store.Tx, owner string) (*Ledger, error) {
	var l Ledger
	if err := tx.Load(store.KindLedger, owner, &l); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	if l.Tasks == nil {
		l.Tasks = make(map[string]*Task)
	}
	return &l, nil
}

func (l *Ledger) task(id string) (*Task, error) {
	t, ok := l.Tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Initialize creates owner's empty ledger.
func (s *Service) Initialize(ctx context.Context, owner string) error {
	err := s.store.Update(ctx, func(tx store.Tx) error {
		ok, err := tx.Exists(store.KindLedger, owner)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyInitialized
		}
		l := Ledger{Owner: owner, CreatedAt: tx.Now(), Tasks: map[string]*Task{}}
		if err := tx.Save(store.KindLedger, owner, l); err != nil {
			return err
		}
		return tx.Emit(owner, events.LedgerInitialized, map[string]string{"owner": owner})
	})
	if err != nil {
		return fmt.Errorf("escrow: initialize: %w", err)
	}
	log.Printf("[escrow] ledger initialized for %s", owner)
	return nil
}

// Create escrows req.Amount from owner against a new task. An empty
// counterparty leaves the task open for a market to bind one later.
func (s *Service) Create(ctx context.Context, owner string, req CreateRequest) (Task, error) {
	var out Task
	err := s.store.Update(ctx, func(tx store.Tx) error {
		l, err := loadLedger(tx, owner)
		if err != nil {
			return err
		}
		if req.ID == "" {
			return ErrInvalidID
		}
		if _, taken := l.Tasks[req.ID]; taken {
			return ErrDuplicateID
		}
		if req.Amount < s.limits.MinAmount {
			return ErrInvalidAmount
		}
		if req.Duration < s.limits.MinDuration || req.Duration > s.limits.MaxDuration {
			return ErrInvalidDuration
		}
		if req.Counterparty == owner {
			return ErrSelfAssignment
		}

		held, err := custody.Hold(tx, owner, req.Amount)
		if err != nil {
			return err
		}
		now := tx.Now()
		t := &Task{
			ID:           req.ID,
			Owner:        owner,
			Counterparty: req.Counterparty,
			Amount:       req.Amount,
			Escrow:       held,
			CreatedAt:    now,
			Deadline:     now.Add(req.Duration),
			Description:  req.Description,
		}
		l.Tasks[t.ID] = t
		if err := tx.Save(store.KindLedger, owner, l); err != nil {
			return err
		}
		out = *t
		return tx.Emit(owner, events.EscrowTaskCreated, createdEvent{
			TaskID:       t.ID,
			Owner:        owner,
			Counterparty: t.Counterparty,
			Amount:       t.Amount,
			Deadline:     t.Deadline,
			Description:  t.Description,
		})
	})
	if err != nil {
		return Task{}, fmt.Errorf("escrow: create: %w", err)
	}
	log.Printf("[escrow] task %s created by %s amount=%d", out.ID, owner, out.Amount)
	return out, nil
}

// Complete pays the whole escrow to the counterparty calling it.
func (s *Service) Complete(ctx context.Context, caller, owner, id string) (Task, error) {
	var out Task
	err := s.store.Update(ctx, func(tx store.Tx) error {
		l, err := loadLedger(tx, owner)
		if err != nil {
			return err
		}
		t, err := l.task(id)
		if err != nil {
			return err
		}
		if caller == "" || caller != t.Counterparty {
			return ErrUnauthorized
		}
		if t.Final() {
			return ErrAlreadyFinalized
		}
		if tx.Now().After(t.Deadline) {
			return ErrExpired
		}
		paid := t.Held()
		if err := custody.Release(tx, t.Escrow, t.Counterparty); err != nil {
			return err
		}
		t.Escrow = nil
		t.Completed = true
		if err := tx.Save(store.KindLedger, owner, l); err != nil {
			return err
		}
		out = *t
		return tx.Emit(owner, events.EscrowTaskCompleted, closedEvent{
			TaskID: id, Owner: owner, Recipient: t.Counterparty, Amount: paid,
		})
	})
	if err != nil {
		return Task{}, fmt.Errorf("escrow: complete: %w", err)
	}
	log.Printf("[escrow] task %s/%s completed by %s", owner, id, caller)
	return out, nil
}

// Cancel refunds the full escrow to the owner at any time before the task is
// final.
func (s *Service) Cancel(ctx context.Context, caller, id string) (Task, error) {
	t, err := s.refund(ctx, caller, id, false)
	if err != nil {
		return Task{}, fmt.Errorf("escrow: cancel: %w", err)
	}
	log.Printf("[escrow] task %s/%s cancelled", caller, id)
	return t, nil
}

// ClaimExpiredRefund is Cancel restricted to tasks past their deadline.
func (s *Service) ClaimExpiredRefund(ctx context.Context, caller, id string) (Task, error) {
	t, err := s.refund(ctx, caller, id, true)
	if err != nil {
		return Task{}, fmt.Errorf("escrow: claim expired refund: %w", err)
	}
	log.Printf("[escrow] expired task %s/%s refunded", caller, id)
	return t, nil
}

func (s *Service) refund(ctx context.Context, caller, id string, expiredOnly bool) (Task, error) {
	var out Task
	err := s.store.Update(ctx, func(tx store.Tx) error {
		l, err := loadLedger(tx, caller)
		if err != nil {
			return err
		}
		t, err := l.task(id)
		if err != nil {
			return err
		}
		if t.Owner != caller {
			return ErrUnauthorized
		}
		if t.Final() {
			return ErrAlreadyFinalized
		}
		if expiredOnly && !tx.Now().After(t.Deadline) {
			return ErrStillActive
		}
		refunded := t.Held()
		if err := custody.Refund(tx, t.Escrow); err != nil {
			return err
		}
		t.Escrow = nil
		t.Cancelled = true
		if err := tx.Save(store.KindLedger, caller, l); err != nil {
			return err
		}
		out = *t
		kind := events.EscrowTaskCancelled
		if expiredOnly {
			kind = events.EscrowTaskRefunded
		}
		return tx.Emit(caller, kind, closedEvent{
			TaskID: id, Owner: caller, Recipient: caller, Amount: refunded,
		})
	})
	return out, err
}

func (s *Service) GetTask(ctx context.Context, owner, id string) (Task, error) {
	var out Task
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = Lookup(tx, owner, id)
		return err
	})
	return out, err
}

func (s *Service) TaskExists(ctx context.Context, owner, id string) (bool, error) {
	var ok bool
	err := s.store.View(ctx, func(tx store.Tx) error {
		l, err := loadLedger(tx, owner)
		if errors.Is(err, ErrNotInitialized) {
			return nil
		}
		if err != nil {
			return err
		}
		_, ok = l.Tasks[id]
		return nil
	})
	return ok, err
}

func (s *Service) Stats(ctx context.Context, owner string) (Stats, error) {
	var out Stats
	err := s.store.View(ctx, func(tx store.Tx) error {
		l, err := loadLedger(tx, owner)
		if err != nil {
			return err
		}
		out = l.stats()
		return nil
	})
	return out, err
}

// Lookup returns a snapshot of one task inside tx.
func Lookup(tx store.Tx, owner, id string) (Task, error) {
	l, err := loadLedger(tx, owner)
	if err != nil {
		return Task{}, err
	}
	t, err := l.task(id)
	if err != nil {
		return Task{}, err
	}
	return *t, nil
}
