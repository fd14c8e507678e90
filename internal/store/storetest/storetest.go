// Package storetest is the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/taskmarket/internal/clock"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

// Factory opens a fresh, empty store using c as its clock and sink for
// committed events.
type Factory func(t *testing.T, c clock.Clock, sink events.Sink) store.Store

// Recorder is a Sink that keeps everything it receives.
type Recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *Recorder) Publish(_ context.Context, batch []events.Event) error {
	r.mu.Lock()
	r.got = append(r.got, batch...)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.got))
	copy(out, r.got)
	return out
}

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var errAbort = errors.New("abort")

// Run executes the conformance suite.
func Run(t *testing.T, open Factory) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("commit persists aggregate", func(t *testing.T) {
		s := open(t, clock.NewManual(start), nil)
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
			return tx.Save(store.KindLedger, "alice", doc{Name: "a", Count: 1})
		}))
		var got doc
		require.NoError(t, s.View(ctx, func(tx store.Tx) error {
			return tx.Load(store.KindLedger, "alice", &got)
		}))
		assert.Equal(t, doc{Name: "a", Count: 1}, got)
	})

	t.Run("panicking unit leaves store usable", func(t *testing.T) {
		s := open(t, clock.NewManual(start), nil)
		assert.Panics(t, func() {
			_ = s.Update(ctx, func(tx store.Tx) error {
				if err := tx.Deposit("alice", 5); err != nil {
					return err
				}
				panic("boom")
			})
		})
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
			return tx.Deposit("alice", 7)
		}))
		var bal int64
		require.NoError(t, s.View(ctx, func(tx store.Tx) error {
			var err error
			bal, err = tx.Balance("alice")
			return err
		}))
		assert.Equal(t, int64(7), bal)
	})

	t.Run("missing aggregate", func(t *testing.T) {
		s := open(t, clock.NewManual(start), nil)
		err := s.View(ctx, func(tx store.Tx) error {
			ok, err := tx.Exists(store.KindMarket, "nobody")
			require.NoError(t, err)
			assert.False(t, ok)
			var d doc
			return tx.Load(store.KindMarket, "nobody", &d)
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("kinds are separate keyspaces", func(t *testing.T) {
		s := open(t, clock.NewManual(start), nil)
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
			return tx.Save(store.KindLedger, "alice", doc{Name: "ledger"})
		}))
		err := s.View(ctx, func(tx store.Tx) error {
			var d doc
			return tx.Load(store.KindPlatform, "alice", &d)
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("reads own writes", func(t *testing.T) {
		s := open(t, clock.NewManual(start), nil)
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.Save(store.KindLedger, "alice", doc{Count: 7}))
			var d doc
			require.NoError(t, tx.Load(store.KindLedger, "alice", &d))
			assert.Equal(t, 7, d.Count)
			require.NoError(t, tx.Deposit("alice", 50))
			bal, err := tx.Balance("alice")
			require.NoError(t, err)
			assert.Equal(t, int64(50), bal)
			return nil
		}))
	})

	t.Run("abort discards everything", func(t *testing.T) {
		rec := &Recorder{}
		s := open(t, clock.NewManual(start), rec)
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
			return tx.Deposit("alice", 100)
		}))

		err := s.Update(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.Save(store.KindLedger, "alice", doc{Name: "staged"}))
			require.NoError(t, tx.Withdraw("alice", 40))
			require.NoError(t, tx.Deposit("bob", 40))
			require.NoError(t, tx.Emit("alice", events.EscrowTaskCreated, map[string]string{"id": "t"}))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, s.View(ctx, func(tx store.Tx) error {
			ok, err := tx.Exists(store.KindLedger, "alice")
			require.NoError(t, err)
			assert.False(t, ok)
			a, _ := tx.Balance("alice")
			b, _ := tx.Balance("bob")
			assert.Equal(t, int64(100), a)
			assert.Equal(t, int64(0), b)
			return nil
		}))
		evs, err := s.Events(ctx, "alice", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, evs)
		assert.Empty(t, rec.Events())
	})

	t.Run("withdraw guards", func(t *testing.T) {
		s := open(t, clock.NewManual(start), nil)
		err := s.Update(ctx, func(tx store.Tx) error {
			return tx.Withdraw("alice", 1)
		})
		assert.ErrorIs(t, err, store.ErrInsufficientFunds)
		err = s.Update(ctx, func(tx store.Tx) error {
			return tx.Deposit("alice", 0)
		})
		assert.ErrorIs(t, err, store.ErrInvalidAmount)
	})

	t.Run("view is read-only", func(t *testing.T) {
		s := open(t, clock.NewManual(start), nil)
		err := s.View(ctx, func(tx store.Tx) error {
			return tx.Save(store.KindLedger, "alice", doc{})
		})
		assert.ErrorIs(t, err, store.ErrReadOnly)
		err = s.View(ctx, func(tx store.Tx) error {
			return tx.Deposit("alice", 5)
		})
		assert.ErrorIs(t, err, store.ErrReadOnly)
	})

	t.Run("now is sampled per unit", func(t *testing.T) {
		c := clock.NewManual(start)
		s := open(t, c, nil)
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
			before := tx.Now()
			c.Advance(time.Hour)
			assert.Equal(t, start, before)
			assert.Equal(t, start, tx.Now())
			return nil
		}))
		require.NoError(t, s.View(ctx, func(tx store.Tx) error {
			assert.Equal(t, start.Add(time.Hour), tx.Now())
			return nil
		}))
	})

	t.Run("events sequenced per owner and published in order", func(t *testing.T) {
		rec := &Recorder{}
		s := open(t, clock.NewManual(start), rec)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
				if err := tx.Emit("alice", events.EscrowTaskCreated, map[string]int{"i": i}); err != nil {
					return err
				}
				return tx.Emit("bob", events.MarketOrderPlaced, map[string]int{"i": i})
			}))
		}

		alice, err := s.Events(ctx, "alice", 0, 10)
		require.NoError(t, err)
		require.Len(t, alice, 3)
		for i, e := range alice {
			assert.Equal(t, uint64(i+1), e.Seq)
			assert.Equal(t, events.EscrowTaskCreated, e.Kind)
			assert.NotEmpty(t, e.ID)
			assert.Equal(t, start, e.At.UTC())
			var p map[string]int
			require.NoError(t, e.Decode(&p))
			assert.Equal(t, i, p["i"])
		}

		page, err := s.Events(ctx, "alice", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, uint64(2), page[0].Seq)

		none, err := s.Events(ctx, "alice", 3, 10)
		require.NoError(t, err)
		assert.Empty(t, none)

		published := rec.Events()
		require.Len(t, published, 6)
		assert.Equal(t, "alice", published[0].Owner)
		assert.Equal(t, "bob", published[1].Owner)
		assert.Equal(t, uint64(3), published[5].Seq)
	})
}
