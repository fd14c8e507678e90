// Package matching runs the order-book market: task owners post offers
// against tasks escrowed in the ledger, providers post service bids, and
// crossing pairs are settled through the ledger's match port inside the same
// unit of work.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sudo-init-do/taskmarket/internal/escrow"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

// Escrow is the part of the ledger the market settles through.
type Escrow interface {
	Lookup(tx store.Tx, owner, id string) (escrow.Task, error)
	RebindCounterparty(tx store.Tx, owner, id, counterparty string) error
	SettleFromMatch(tx store.Tx, s escrow.Settlement) (escrow.Payout, error)
}

type Engine struct {
	store  store.Store
	escrow Escrow
	params Params
}

func NewEngine(st store.Store, ledger Escrow, params Params) *Engine {
	return &Engine{store: st, escrow: ledger, params: params}
}

func loadMarket(tx store.Tx, admin string) (*Market, error) {
	var m Market
	if err := tx.Load(store.KindMarket, admin, &m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	m.ensure()
	return &m, nil
}

func (e *Engine) mutate(ctx context.Context, market string, fn func(tx store.Tx, m *Market) error) error {
	return e.store.Update(ctx, func(tx store.Tx) error {
		m, err := loadMarket(tx, market)
		if err != nil {
			return err
		}
		if err := fn(tx, m); err != nil {
			return err
		}
		return tx.Save(store.KindMarket, market, m)
	})
}

func (e *Engine) InitializeMarket(ctx context.Context, admin string) error {
	err := e.store.Update(ctx, func(tx store.Tx) error {
		ok, err := tx.Exists(store.KindMarket, admin)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyInitialized
		}
		if err := tx.Save(store.KindMarket, admin, newMarket(admin, tx.Now())); err != nil {
			return err
		}
		return tx.Emit(admin, events.MarketInitialized, map[string]string{"admin": admin})
	})
	if err != nil {
		return fmt.Errorf("matching: initialize market: %w", err)
	}
	log.Printf("[market] market initialized by %s", admin)
	return nil
}

func (e *Engine) SetStatus(ctx context.Context, caller, market string, status Status) error {
	err := e.mutate(ctx, market, func(tx store.Tx, m *Market) error {
		if caller != m.Admin {
			return ErrUnauthorized
		}
		if !status.Valid() {
			return ErrInvalidStatus
		}
		prev := m.Status
		m.Status = status
		return tx.Emit(market, events.MarketStatusChanged, statusEvent{From: prev, To: status})
	})
	if err != nil {
		return fmt.Errorf("matching: set status: %w", err)
	}
	log.Printf("[market] %s status -> %s", market, status)
	return nil
}

func (e *Engine) validate(req OrderRequest) error {
	if req.TaskID == "" {
		return ErrInvalidTaskID
	}
	if req.Price < e.params.MinOrder || req.Price > e.params.MaxOrder {
		return ErrInvalidPrice
	}
	if req.Duration < e.params.MinDuration || req.Duration > e.params.MaxDuration {
		return ErrInvalidDuration
	}
	return nil
}

// PublishTaskOffer lists an escrowed task owned by agent. The offer's price
// and amount are both req.Price. Any match the new offer makes immediately is
// returned alongside it.
func (e *Engine) PublishTaskOffer(ctx context.Context, agent, market string, req OrderRequest) (Order, []Match, error) {
	o, matches, err := e.place(ctx, agent, market, TaskOffer, req)
	if err != nil {
		return Order{}, nil, fmt.Errorf("matching: publish task offer: %w", err)
	}
	return o, matches, nil
}

// PlaceServiceBid lists agent's price for doing the task req.TaskID.
func (e *Engine) PlaceServiceBid(ctx context.Context, agent, market string, req OrderRequest) (Order, []Match, error) {
	o, matches, err := e.place(ctx, agent, market, ServiceBid, req)
	if err != nil {
		return Order{}, nil, fmt.Errorf("matching: place service bid: %w", err)
	}
	return o, matches, nil
}

func (e *Engine) place(ctx context.Context, agent, market string, side Side, req OrderRequest) (Order, []Match, error) {
	var (
		out     Order
		matches []Match
	)
	err := e.mutate(ctx, market, func(tx store.Tx, m *Market) error {
		if m.Status != Open {
			return ErrNotOperational
		}
		if err := e.validate(req); err != nil {
			return err
		}
		now := tx.Now()
		if side == TaskOffer {
			if err := e.checkOffer(tx, m, agent, req, now); err != nil {
				return err
			}
		}

		m.NextOrderID++
		o := &Order{
			ID:            m.NextOrderID,
			Side:          side,
			TaskID:        req.TaskID,
			Creator:       agent,
			Price:         req.Price,
			Amount:        req.Price,
			Remaining:     req.Price,
			CreatedAt:     now,
			ExpiresAt:     now.Add(req.Duration),
			Metadata:      req.Metadata,
			PriorityScore: req.Price,
		}
		m.insert(o)
		out = *o
		if err := tx.Emit(market, events.MarketOrderPlaced, orderEvent{
			OrderID: o.ID, Side: side, TaskID: o.TaskID, Creator: agent, Price: o.Price,
		}); err != nil {
			return err
		}

		var err error
		matches, err = e.autoMatch(tx, m, agent, o)
		return err
	})
	if err != nil {
		return Order{}, nil, err
	}
	log.Printf("[market] %s #%d on %s by %s price=%d matches=%d", side, out.ID, market, agent, out.Price, len(matches))
	return out, matches, nil
}

func (e *Engine) checkOffer(tx store.Tx, m *Market, agent string, req OrderRequest, now time.Time) error {
	task, err := e.escrow.Lookup(tx, agent, req.TaskID)
	if err != nil {
		return err
	}
	if task.Final() {
		return ErrTaskNotActive
	}
	if !task.MarketMode() {
		return ErrTaskAssigned
	}
	if now.After(task.Deadline) {
		return ErrTaskExpired
	}
	if req.Price > task.Held() {
		return ErrExceedsEscrow
	}
	if m.liveOffer(agent, req.TaskID) {
		return ErrDuplicateOffer
	}
	return nil
}

// autoMatch tries one match for the task of a freshly placed order. It is
// skipped while the market is inside its match interval.
func (e *Engine) autoMatch(tx store.Tx, m *Market, executor string, o *Order) ([]Match, error) {
	now := tx.Now()
	if m.rateLimited(now, e.params) {
		return nil, nil
	}
	return e.cross(tx, m, executor, now, 1, func(offer *Order) bool {
		return offer.TaskID == o.TaskID
	})
}

// cross executes up to limit matches, best pair first.
func (e *Engine) cross(tx store.Tx, m *Market, executor string, now time.Time, limit int, accept func(*Order) bool) ([]Match, error) {
	var out []Match
	for len(out) < limit {
		offer, bid, ok := m.nextCross(now, e.params, func(o *Order) bool {
			return accept(o) && e.settleable(tx, o, now)
		})
		if !ok {
			break
		}
		mt, err := e.execute(tx, m, executor, offer, bid, now)
		if err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, nil
}

// settleable reports whether the offer's task can still be settled.
func (e *Engine) settleable(tx store.Tx, offer *Order, now time.Time) bool {
	task, err := e.escrow.Lookup(tx, offer.Creator, offer.TaskID)
	return err == nil && task.Active(now) && task.MarketMode()
}

// execute settles offer against bid and removes both from the book.
func (e *Engine) execute(tx store.Tx, m *Market, executor string, offer, bid *Order, now time.Time) (Match, error) {
	amount := min(offer.Remaining, bid.Remaining)
	fee := e.params.Fee(amount)
	net := amount - fee

	if err := e.escrow.RebindCounterparty(tx, offer.Creator, offer.TaskID, bid.Creator); err != nil {
		return Match{}, err
	}
	payout, err := e.escrow.SettleFromMatch(tx, escrow.Settlement{
		Owner:        offer.Creator,
		Counterparty: bid.Creator,
		TaskID:       offer.TaskID,
		Amount:       net,
		Fee:          fee,
		FeeRecipient: m.Admin,
	})
	if err != nil {
		return Match{}, err
	}

	m.remove(offer)
	m.remove(bid)
	m.TotalMatches++
	m.Volume += amount
	m.FeesCollected += payout.Fee
	m.LastMatchAt = &now

	mt := Match{
		OfferID:   offer.ID,
		BidID:     bid.ID,
		TaskID:    offer.TaskID,
		TaskOwner: offer.Creator,
		Provider:  bid.Creator,
		Price:     offer.Price,
		Amount:    amount,
		Fee:       payout.Fee,
		Net:       payout.Counterparty,
		Refund:    payout.Refund,
		At:        now,
	}
	if err := tx.Emit(m.Admin, events.MarketMatched, matchedEvent{
		Match:          mt,
		OfferRemaining: offer.Remaining,
		BidRemaining:   bid.Remaining,
	}); err != nil {
		return Match{}, err
	}
	if payout.Fee > 0 {
		if err := tx.Emit(m.Admin, events.MarketFeeCollected, feeEvent{
			TaskID: offer.TaskID, Recipient: m.Admin, Amount: payout.Fee,
		}); err != nil {
			return Match{}, err
		}
	}
	err = tx.Emit(m.Admin, events.MarketMatchExecuted, executedEvent{
		Executor:     executor,
		OfferID:      offer.ID,
		BidID:        bid.ID,
		TotalMatches: m.TotalMatches,
		Volume:       m.Volume,
	})
	return mt, err
}

// ExecuteMatch settles a chosen offer against a chosen service bid.
func (e *Engine) ExecuteMatch(ctx context.Context, executor, market string, offerID, bidID uint64) (Match, error) {
	var out Match
	err := e.mutate(ctx, market, func(tx store.Tx, m *Market) error {
		if m.Status != Open {
			return ErrNotOperational
		}
		now := tx.Now()
		if m.rateLimited(now, e.params) {
			return ErrRateLimited
		}
		offer, ok := m.Offers[offerID]
		if !ok {
			return ErrOrderNotFound
		}
		bid, ok := m.Bids[bidID]
		if !ok {
			return ErrOrderNotFound
		}
		if offer.Expired(now) || bid.Expired(now) {
			return ErrOrderExpired
		}
		if !crosses(offer, bid) {
			return ErrNoCross
		}
		if offer.Creator == bid.Creator {
			return ErrSelfMatch
		}
		var err error
		out, err = e.execute(tx, m, executor, offer, bid, now)
		return err
	})
	if err != nil {
		return Match{}, fmt.Errorf("matching: execute match: %w", err)
	}
	log.Printf("[market] match %d x %d on %s amount=%d fee=%d", offerID, bidID, market, out.Amount, out.Fee)
	return out, nil
}

// ExecuteBatchMatches crosses the whole book, up to limit matches. The match
// interval is checked once for the batch.
func (e *Engine) ExecuteBatchMatches(ctx context.Context, executor, market string, limit int) ([]Match, error) {
	if limit <= 0 || limit > e.params.MaxBatchMatches {
		limit = e.params.MaxBatchMatches
	}
	var out []Match
	err := e.mutate(ctx, market, func(tx store.Tx, m *Market) error {
		if m.Status != Open {
			return ErrNotOperational
		}
		now := tx.Now()
		if m.rateLimited(now, e.params) {
			return ErrRateLimited
		}
		var err error
		out, err = e.cross(tx, m, executor, now, limit, func(*Order) bool { return true })
		if err != nil {
			return err
		}
		var volume int64
		for _, mt := range out {
			volume += mt.Amount
		}
		return tx.Emit(market, events.MarketBatchCompleted, batchEvent{
			Executor: executor, Matches: len(out), Volume: volume,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("matching: execute batch matches: %w", err)
	}
	log.Printf("[market] batch on %s matched %d", market, len(out))
	return out, nil
}

// CancelOrder removes the caller's order. The task escrow is left untouched.
func (e *Engine) CancelOrder(ctx context.Context, caller, market string, id uint64, side Side) error {
	err := e.mutate(ctx, market, func(tx store.Tx, m *Market) error {
		if !side.Valid() {
			return ErrInvalidSide
		}
		orders, _ := m.side(side)
		o, ok := orders[id]
		if !ok {
			return ErrOrderNotFound
		}
		if o.Creator != caller {
			return ErrUnauthorized
		}
		m.remove(o)
		return tx.Emit(market, events.MarketOrderCancelled, orderEvent{
			OrderID: o.ID, Side: o.Side, TaskID: o.TaskID, Creator: o.Creator, Price: o.Price,
		})
	})
	if err != nil {
		return fmt.Errorf("matching: cancel order: %w", err)
	}
	log.Printf("[market] order #%d on %s cancelled by %s", id, market, caller)
	return nil
}

// CleanExpiredOrders removes up to MaxSweep orders that expired, plus offers
// whose task was settled elsewhere. It returns how many were removed.
func (e *Engine) CleanExpiredOrders(ctx context.Context, caller, market string) (int, error) {
	var removed int
	err := e.mutate(ctx, market, func(tx store.Tx, m *Market) error {
		now := tx.Now()
		stale := func(o *Order) bool {
			return o.Side == TaskOffer && !e.settleable(tx, o, now)
		}
		for _, o := range m.expired(now, e.params.MaxSweep, stale) {
			reason := "expired"
			if !o.Expired(now) {
				reason = "task settled"
			}
			m.remove(o)
			if err := tx.Emit(market, events.MarketOrderExpired, orderEvent{
				OrderID: o.ID, Side: o.Side, TaskID: o.TaskID, Creator: o.Creator, Price: o.Price, Reason: reason,
			}); err != nil {
				return err
			}
			removed++
		}
		return tx.Emit(market, events.MarketSweepCompleted, sweepEvent{Caller: caller, Removed: removed})
	})
	if err != nil {
		return 0, fmt.Errorf("matching: clean expired orders: %w", err)
	}
	log.Printf("[market] sweep on %s removed %d", market, removed)
	return removed, nil
}

func (e *Engine) view(ctx context.Context, market string, fn func(m *Market) error) error {
	return e.store.View(ctx, func(tx store.Tx) error {
		m, err := loadMarket(tx, market)
		if err != nil {
			return err
		}
		return fn(m)
	})
}

func (e *Engine) GetOrder(ctx context.Context, market string, id uint64) (Order, error) {
	var out Order
	err := e.view(ctx, market, func(m *Market) error {
		o, ok := m.order(id)
		if !ok {
			return ErrOrderNotFound
		}
		out = *o
		return nil
	})
	return out, err
}

func (e *Engine) Stats(ctx context.Context, market string) (Stats, error) {
	var out Stats
	err := e.view(ctx, market, func(m *Market) error {
		out = m.stats()
		return nil
	})
	return out, err
}

func (e *Engine) PriceLevels(ctx context.Context, market string, side Side) ([]PriceLevel, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	var out []PriceLevel
	err := e.view(ctx, market, func(m *Market) error {
		out = m.levels(side)
		return nil
	})
	return out, err
}

func (e *Engine) BestPrices(ctx context.Context, market string) (BestPrices, error) {
	var out BestPrices
	err := e.view(ctx, market, func(m *Market) error {
		out = BestPrices{BestOffer: m.BestOffer, BestBid: m.BestBid}
		return nil
	})
	return out, err
}
