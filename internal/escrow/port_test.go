package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/taskmarket/internal/apperr"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

func (f *fixture) marketTask(t *testing.T, id string, amount int64) {
	t.Helper()
	_, err := f.svc.Create(context.Background(), "owner", CreateRequest{
		ID: id, Amount: amount, Duration: time.Hour,
	})
	require.NoError(t, err)
}

func TestRebindThenSettle(t *testing.T) {
	f := newFixture(t)
	f.marketTask(t, "m1", 10000)

	var payout Payout
	require.NoError(t, f.st.Update(context.Background(), func(tx store.Tx) error {
		if err := (Port{}).RebindCounterparty(tx, "owner", "m1", "worker"); err != nil {
			return err
		}
		var err error
		payout, err = Port{}.SettleFromMatch(tx, Settlement{
			Owner: "owner", Counterparty: "worker", TaskID: "m1",
			Amount: 6985, Fee: 15, FeeRecipient: "admin",
		})
		return err
	}))

	assert.Equal(t, Payout{Counterparty: 6985, Fee: 15, Refund: 3000}, payout)
	assert.Equal(t, int64(6985), f.balance(t, "worker"))
	assert.Equal(t, int64(15), f.balance(t, "admin"))
	assert.Equal(t, int64(93000), f.balance(t, "owner"))

	task, err := f.svc.GetTask(context.Background(), "owner", "m1")
	require.NoError(t, err)
	assert.True(t, task.Completed)
	assert.Equal(t, "worker", task.Counterparty)
	assert.Zero(t, task.Held())
}

func TestSettleFullAmountWhenNotBelowOriginal(t *testing.T) {
	f := newFixture(t)
	f.create(t, "t1", 2000)

	var payout Payout
	require.NoError(t, f.st.Update(context.Background(), func(tx store.Tx) error {
		var err error
		payout, err = Port{}.SettleFromMatch(tx, Settlement{Owner: "owner", Counterparty: "worker", TaskID: "t1", Amount: 5000})
		return err
	}))
	assert.Equal(t, Payout{Counterparty: 2000}, payout)
	assert.Equal(t, int64(2000), f.balance(t, "worker"))
}

func TestSettleRejects(t *testing.T) {
	f := newFixture(t)
	f.create(t, "t1", 2000)
	ctx := context.Background()

	settle := func(s Settlement) error {
		return f.st.Update(ctx, func(tx store.Tx) error {
			_, err := Port{}.SettleFromMatch(tx, s)
			return err
		})
	}

	assert.ErrorIs(t, settle(Settlement{Owner: "owner", Counterparty: "other", TaskID: "t1", Amount: 100}), ErrWrongCounterparty)
	assert.ErrorIs(t, settle(Settlement{Owner: "owner", Counterparty: "worker", TaskID: "nope", Amount: 100}), ErrNotFound)
	assert.ErrorIs(t, settle(Settlement{Owner: "owner", Counterparty: "worker", TaskID: "t1", Amount: 0}), ErrInvalidSettlement)

	f.clk.Advance(2 * time.Hour)
	assert.ErrorIs(t, settle(Settlement{Owner: "owner", Counterparty: "worker", TaskID: "t1", Amount: 100}), ErrExpired)
	assert.Equal(t, int64(98000), f.balance(t, "owner"))
}

func TestSettleFailureUnwindsRebind(t *testing.T) {
	f := newFixture(t)
	f.marketTask(t, "m1", 1000)
	errLater := errors.New("later step failed")

	err := f.st.Update(context.Background(), func(tx store.Tx) error {
		if err := (Port{}).RebindCounterparty(tx, "owner", "m1", "worker"); err != nil {
			return err
		}
		return errLater
	})
	assert.ErrorIs(t, err, errLater)

	task, err := f.svc.GetTask(context.Background(), "owner", "m1")
	require.NoError(t, err)
	assert.Empty(t, task.Counterparty)
	assert.Equal(t, int64(1000), task.Held())
}

func TestRebindFinalTask(t *testing.T) {
	f := newFixture(t)
	f.marketTask(t, "m1", 1000)
	_, err := f.svc.Cancel(context.Background(), "owner", "m1")
	require.NoError(t, err)

	err = f.st.Update(context.Background(), func(tx store.Tx) error {
		return Port{}.RebindCounterparty(tx, "owner", "m1", "worker")
	})
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestRebindValidation(t *testing.T) {
	f := newFixture(t)
	f.marketTask(t, "m1", 1000)
	rebind := func(cp string) error {
		return f.st.Update(context.Background(), func(tx store.Tx) error {
			return Port{}.RebindCounterparty(tx, "owner", "m1", cp)
		})
	}
	assert.ErrorIs(t, rebind("owner"), ErrSelfAssignment)
	assert.ErrorIs(t, rebind(""), ErrInvalidCounterparty)
	require.NoError(t, rebind("worker"))
	require.NoError(t, rebind("worker"))
}

func TestRebindRefusesAssignedTask(t *testing.T) {
	f := newFixture(t)
	f.create(t, "t1", 5000)
	rebind := func(cp string) error {
		return f.st.Update(context.Background(), func(tx store.Tx) error {
			return Port{}.RebindCounterparty(tx, "owner", "t1", cp)
		})
	}

	err := rebind("bob")
	assert.ErrorIs(t, err, ErrCounterpartyBound)
	assert.Equal(t, apperr.WrongState, apperr.CodeOf(err))
	require.NoError(t, rebind("worker"))

	task, err := f.svc.GetTask(context.Background(), "owner", "t1")
	require.NoError(t, err)
	assert.Equal(t, "worker", task.Counterparty)
	assert.Equal(t, int64(5000), task.Held())
}
