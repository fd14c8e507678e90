package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/taskmarket/internal/store"
	"github.com/sudo-init-do/taskmarket/internal/store/memstore"
)

func funded(t *testing.T, account string, amount int64) *memstore.Store {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		return tx.Deposit(account, amount)
	}))
	return s
}

func balance(t *testing.T, s store.Store, account string) int64 {
	t.Helper()
	var b int64
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		var err error
		b, err = tx.Balance(account)
		return err
	}))
	return b
}

func TestHoldAndRefund(t *testing.T) {
	s := funded(t, "alice", 1000)
	ctx := context.Background()

	var e *Escrow
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		var err error
		e, err = Hold(tx, "alice", 600)
		return err
	}))
	assert.Equal(t, int64(400), balance(t, s, "alice"))
	assert.Equal(t, int64(600), e.Value)

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error { return Refund(tx, e) }))
	assert.Equal(t, int64(1000), balance(t, s, "alice"))
	assert.Zero(t, e.Value)

	err := s.Update(ctx, func(tx store.Tx) error { return Refund(tx, e) })
	assert.True(t, errors.Is(err, ErrDrained))
}

func TestHoldRejects(t *testing.T) {
	s := funded(t, "alice", 100)
	err := s.Update(context.Background(), func(tx store.Tx) error {
		_, err := Hold(tx, "alice", 101)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = s.Update(context.Background(), func(tx store.Tx) error {
		_, err := Hold(tx, "alice", 0)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, int64(100), balance(t, s, "alice"))
}

func TestSplitConserves(t *testing.T) {
	s := funded(t, "owner", 10000)
	ctx := context.Background()

	var legs []Share
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		e, err := Hold(tx, "owner", 10000)
		if err != nil {
			return err
		}
		legs, err = Split(tx, e, "owner", Share{To: "worker", Amount: 6985}, Share{To: "admin", Amount: 15})
		return err
	}))

	var total int64
	for _, l := range legs {
		total += l.Amount
	}
	assert.Equal(t, int64(10000), total)
	assert.Equal(t, int64(6985), balance(t, s, "worker"))
	assert.Equal(t, int64(15), balance(t, s, "admin"))
	assert.Equal(t, int64(3000), balance(t, s, "owner"))
	assert.Equal(t, int64(3000), Amount(legs, "owner"))
}

func TestSplitDropsZeroRemainder(t *testing.T) {
	s := funded(t, "owner", 500)
	var legs []Share
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		e, err := Hold(tx, "owner", 500)
		if err != nil {
			return err
		}
		legs, err = Split(tx, e, "owner", Share{To: "winner", Amount: 500}, Share{To: "nobody", Amount: 0})
		return err
	}))
	require.Len(t, legs, 1)
	assert.Equal(t, Share{To: "winner", Amount: 500}, legs[0])
	assert.Zero(t, balance(t, s, "owner"))
}

func TestSplitOverdrawnAborts(t *testing.T) {
	s := funded(t, "owner", 500)
	err := s.Update(context.Background(), func(tx store.Tx) error {
		e, err := Hold(tx, "owner", 500)
		if err != nil {
			return err
		}
		_, err = Split(tx, e, "owner", Share{To: "a", Amount: 300}, Share{To: "b", Amount: 300})
		return err
	})
	assert.ErrorIs(t, err, ErrOverdrawn)
	assert.Equal(t, int64(500), balance(t, s, "owner"))
	assert.Zero(t, balance(t, s, "a"))
}
