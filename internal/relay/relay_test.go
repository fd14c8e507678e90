package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/taskmarket/internal/events"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishKeysByOwner(t *testing.T) {
	w := &fakeWriter{}
	r := New(w)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []events.Event{
		{ID: "1", Owner: "alice", Seq: 7, Kind: events.EscrowTaskCreated, At: at, Data: json.RawMessage(`{"task_id":"t1"}`)},
		{ID: "2", Owner: "bob", Seq: 1, Kind: events.LedgerInitialized, At: at},
	}
	require.NoError(t, r.Publish(context.Background(), batch))
	require.Len(t, w.msgs, 2)

	m := w.msgs[0]
	assert.Equal(t, "alice", string(m.Key))
	assert.Equal(t, at, m.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "kind", Value: []byte("escrow.task_created")},
		{Key: "seq", Value: []byte("7")},
	}, m.Headers)

	var got events.Event
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, batch[0].ID, got.ID)
	assert.JSONEq(t, `{"task_id":"t1"}`, string(got.Data))

	require.NoError(t, r.Close())
	assert.True(t, w.closed)
}

func TestPublishEmptyAndFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	r := New(w)
	require.NoError(t, r.Publish(context.Background(), nil))

	err := r.Publish(context.Background(), []events.Event{{Owner: "alice", Seq: 1}})
	assert.ErrorContains(t, err, "broker down")
}

func TestPublishSurvivesCancelledContext(t *testing.T) {
	w := &fakeWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, New(w).Publish(ctx, []events.Event{{Owner: "alice", Seq: 1}}))
	assert.Len(t, w.msgs, 1)
}
