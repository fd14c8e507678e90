// Package bidding runs competitive task allocation: a creator escrows a
// budget, bidders place priced bids and the creator accepts the best one.
// The platform keeps its own custody of the budget.
package bidding

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

func loadPlatform(tx store.Tx, owner string) (*Platform, error) {
	var p Platform
	if err := tx.Load(store.KindPlatform, owner, &p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	if p.Tasks == nil {
		p.Tasks = make(map[string]*Task)
	}
	return &p, nil
}

func (p *Platform) task(id string) (*Task, error) {
	t, ok := p.Tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// mutate loads the platform, applies fn and saves it in one unit of work.
func (s *Service) mutate(ctx context.Context, platform string, fn func(tx store.Tx, p *Platform) error) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		p, err := loadPlatform(tx, platform)
		if err != nil {
			return err
		}
		if err := fn(tx, p); err != nil {
			return err
		}
		return tx.Save(store.KindPlatform, platform, p)
	})
}

func (s *Service) Initialize(ctx context.Context, owner string) error {
	err := s.store.Update(ctx, func(tx store.Tx) error {
		ok, err := tx.Exists(store.KindPlatform, owner)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyInitialized
		}
		p := Platform{Owner: owner, CreatedAt: tx.Now(), Tasks: map[string]*Task{}}
		if err := tx.Save(store.KindPlatform, owner, p); err != nil {
			return err
		}
		return tx.Emit(owner, events.PlatformInitialized, map[string]string{"owner": owner})
	})
	if err != nil {
		return fmt.Errorf("bidding: initialize: %w", err)
	}
	log.Printf("[bidding] platform initialized for %s", owner)
	return nil
}

// Publish escrows the task budget from creator and opens it for bids.
func (s *Service) Publish(ctx context.Context, creator, platform string, req PublishRequest) (Task, error) {
	var out Task
	err := s.mutate(ctx, platform, func(tx store.Tx, p *Platform) error {
		if req.ID == "" {
			return ErrInvalidID
		}
		if _, taken := p.Tasks[req.ID]; taken {
			return ErrDuplicateID
		}
		if req.MaxBudget < s.limits.MinBudget {
			return ErrInvalidBudget
		}
		if req.Duration < s.limits.MinDuration || req.Duration > s.limits.MaxDuration {
			return ErrInvalidDuration
		}
		held, err := custody.Hold(tx, creator, req.MaxBudget)
		if err != nil {
			return err
		}
		now := tx.Now()
		t := &Task{
			ID:          req.ID,
			Creator:     creator,
			Description: req.Description,
			MaxBudget:   req.MaxBudget,
			Escrow:      held,
			CreatedAt:   now,
			Deadline:    now.Add(req.Duration),
			Status:      Published,
			Bids:        []Bid{},
		}
		p.Tasks[t.ID] = t
		p.TotalTasks++
		out = *t
		return tx.Emit(platform, events.BiddingTaskPublished, publishedEvent{
			TaskID:      t.ID,
			Creator:     creator,
			Description: t.Description,
			MaxBudget:   t.MaxBudget,
			Deadline:    t.Deadline,
		})
	})
	if err != nil {
		return Task{}, fmt.Errorf("bidding: publish: %w", err)
	}
	log.Printf("[bidding] task %s published on %s budget=%d", out.ID, platform, out.MaxBudget)
	return out, nil
}

func (s *Service) PlaceBid(ctx context.Context, bidder, platform, id string, price int64, reputation uint64) (Bid, error) {
	var out Bid
	err := s.mutate(ctx, platform, func(tx store.Tx, p *Platform) error {
		t, err := p.task(id)
		if err != nil {
			return err
		}
		if t.Status != Published {
			return ErrWrongState
		}
		now := tx.Now()
		if !now.Before(t.Deadline) {
			return ErrExpired
		}
		if price <= 0 || price > t.MaxBudget {
			return ErrInvalidPrice
		}
		if bidder == t.Creator {
			return ErrSelfBid
		}
		if t.bidBy(bidder) {
			return ErrDuplicateBid
		}
		p.NextBidSeq++
		out = Bid{Bidder: bidder, Price: price, Reputation: reputation, PlacedAt: now, Seq: p.NextBidSeq}
		t.Bids = append(t.Bids, out)
		return tx.Emit(platform, events.BiddingBidPlaced, bidEvent{
			TaskID: id, Bidder: bidder, Price: price, Reputation: reputation,
		})
	})
	if err != nil {
		return Bid{}, fmt.Errorf("bidding: place bid: %w", err)
	}
	log.Printf("[bidding] bid on %s/%s by %s price=%d", platform, id, bidder, price)
	return out, nil
}

// SelectWinner assigns the task to the best bid and discards all bids.
func (s *Service) SelectWinner(ctx context.Context, caller, platform, id string) (Task, error) {
	var out Task
	err := s.mutate(ctx, platform, func(tx store.Tx, p *Platform) error {
		t, err := p.task(id)
		if err != nil {
			return err
		}
		if caller != t.Creator {
			return ErrUnauthorized
		}
		if t.Status != Published {
			return ErrWrongState
		}
		best := Winner(t.Bids)
		if best < 0 {
			return ErrNoBids
		}
		win := t.Bids[best]
		count := len(t.Bids)
		t.Status = Assigned
		t.Winner = win.Bidder
		t.WinningPrice = win.Price
		t.Bids = []Bid{}
		out = *t
		return tx.Emit(platform, events.BiddingWinnerChosen, winnerEvent{
			TaskID: id, Winner: win.Bidder, WinningPrice: win.Price, BidCount: count,
		})
	})
	if err != nil {
		return Task{}, fmt.Errorf("bidding: select winner: %w", err)
	}
	log.Printf("[bidding] %s/%s assigned to %s at %d", platform, id, out.Winner, out.WinningPrice)
	return out, nil
}

// Complete pays the winning price to the winner and the rest of the budget
// back to the creator.
func (s *Service) Complete(ctx context.Context, caller, platform, id string) (Task, error) {
	var out Task
	err := s.mutate(ctx, platform, func(tx store.Tx, p *Platform) error {
		t, err := p.task(id)
		if err != nil {
			return err
		}
		if caller != t.Winner || t.Winner == "" {
			return ErrUnauthorized
		}
		if t.Status != Assigned {
			return ErrWrongState
		}
		legs, err := custody.Split(tx, t.Escrow, t.Creator, custody.Share{To: t.Winner, Amount: t.WinningPrice})
		if err != nil {
			return err
		}
		now := tx.Now()
		t.Escrow = nil
		t.Status = Completed
		t.CompletedAt = &now
		p.CompletedTasks++
		out = *t
		return tx.Emit(platform, events.BiddingTaskCompleted, completedEvent{
			TaskID:        id,
			Winner:        t.Winner,
			WinnerPaid:    custody.Amount(legs, t.Winner),
			CreatorRefund: custody.Amount(legs, t.Creator),
		})
	})
	if err != nil {
		return Task{}, fmt.Errorf("bidding: complete: %w", err)
	}
	log.Printf("[bidding] %s/%s completed by %s", platform, id, caller)
	return out, nil
}

// Cancel refunds the full budget while the task is still open for bids.
func (s *Service) Cancel(ctx context.Context, caller, platform, id string) (Task, error) {
	var out Task
	err := s.mutate(ctx, platform, func(tx store.Tx, p *Platform) error {
		t, err := p.task(id)
		if err != nil {
			return err
		}
		if caller != t.Creator {
			return ErrUnauthorized
		}
		if t.Status != Published {
			return ErrWrongState
		}
		refunded := t.Held()
		if err := custody.Refund(tx, t.Escrow); err != nil {
			return err
		}
		t.Escrow = nil
		t.Status = Cancelled
		t.Bids = []Bid{}
		p.CancelledTasks++
		out = *t
		return tx.Emit(platform, events.BiddingTaskCancelled, cancelledEvent{
			TaskID: id, Creator: caller, Refunded: refunded,
		})
	})
	if err != nil {
		return Task{}, fmt.Errorf("bidding: cancel: %w", err)
	}
	log.Printf("[bidding] %s/%s cancelled", platform, id)
	return out, nil
}

func (s *Service) view(ctx context.Context, platform string, fn func(p *Platform) error) error {
	return s.store.View(ctx, func(tx store.Tx) error {
		p, err := loadPlatform(tx, platform)
		if err != nil {
			return err
		}
		return fn(p)
	})
}

func (s *Service) GetTask(ctx context.Context, platform, id string) (Task, error) {
	var out Task
	err := s.view(ctx, platform, func(p *Platform) error {
		t, err := p.task(id)
		if err != nil {
			return err
		}
		out = *t
		return nil
	})
	return out, err
}

func (s *Service) GetBids(ctx context.Context, platform, id string) ([]Bid, error) {
	var out []Bid
	err := s.view(ctx, platform, func(p *Platform) error {
		t, err := p.task(id)
		if err != nil {
			return err
		}
		out = append([]Bid{}, t.Bids...)
		return nil
	})
	return out, err
}

func (s *Service) TaskExists(ctx context.Context, platform, id string) (bool, error) {
	var ok bool
	err := s.view(ctx, platform, func(p *Platform) error {
		_, ok = p.Tasks[id]
		return nil
	})
	if errors.Is(err, ErrNotInitialized) {
		return false, nil
	}
	return ok, err
}

func (s *Service) PlatformStats(ctx context.Context, platform string) (PlatformStats, error) {
	var out PlatformStats
	err := s.view(ctx, platform, func(p *Platform) error {
		out = PlatformStats{
			Owner:          p.Owner,
			TotalTasks:     p.TotalTasks,
			CompletedTasks: p.CompletedTasks,
			CancelledTasks: p.CancelledTasks,
		}
		return nil
	})
	return out, err
}
