// Package memstore is an in-process Store. Units of work run one at a time
// under a single lock, which makes them trivially serializable.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sudo-init-do/taskmarket/internal/clock"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

type Store struct {
	mu    sync.Mutex
	pubMu sync.Mutex
	clock clock.Clock
	sink  events.Sink

	docs     map[string][]byte
	balances map[string]int64
	logs     map[string][]events.Event
}

type Option func(*Store)

func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

func WithSink(sink events.Sink) Option { return func(s *Store) { s.sink = sink } }

func New(opts ...Option) *Store {
	s := &Store{
		clock:    clock.System(),
		docs:     make(map[string][]byte),
		balances: make(map[string]int64),
		logs:     make(map[string][]events.Event),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func docKey(kind store.Kind, owner string) string {
	return string(kind) + "\x00" + owner
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	locked := true
	defer func() {
		if locked {
			s.mu.Unlock()
		}
	}()
	tx := &memTx{
		s:        s,
		now:      s.clock.Now(),
		docs:     make(map[string][]byte),
		balances: make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	committed, err := store.Sequence(tx.events, tx.now, func(owner string) (uint64, error) {
		return uint64(len(s.logs[owner])), nil
	})
	if err != nil {
		return err
	}
	for k, v := range tx.docs {
		s.docs[k] = v
	}
	for k, v := range tx.balances {
		s.balances[k] = v
	}
	for _, e := range committed {
		s.logs[e.Owner] = append(s.logs[e.Owner], e)
	}
	s.pubMu.Lock()
	s.mu.Unlock()
	locked = false
	defer s.pubMu.Unlock()
	if s.sink != nil && len(committed) > 0 {
		_ = s.sink.Publish(ctx, committed)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s, now: s.clock.Now(), readOnly: true})
}

func (s *Store) Events(ctx context.Context, owner string, after uint64, limit int) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = store.ClampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[owner]
	if after >= uint64(len(log)) {
		return nil, nil
	}
	page := log[after:]
	if len(page) > limit {
		page = page[:limit]
	}
	out := make([]events.Event, len(page))
	copy(out, page)
	return out, nil
}

func (s *Store) Close() error { return nil }

type memTx struct {
	s        *Store
	now      time.Time
	readOnly bool
	docs     map[string][]byte
	balances map[string]int64
	events   []store.Pending
}

func (t *memTx) Now() time.Time { return t.now }

func (t *memTx) raw(key string) ([]byte, bool) {
	if b, ok := t.docs[key]; ok {
		return b, true
	}
	b, ok := t.s.docs[key]
	return b, ok
}

func (t *memTx) Load(kind store.Kind, owner string, v any) error {
	b, ok := t.raw(docKey(kind, owner))
	if !ok {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("memstore: decode %s/%s: %w", kind, owner, err)
	}
	return nil
}

func (t *memTx) Save(kind store.Kind, owner string, v any) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("memstore: encode %s/%s: %w", kind, owner, err)
	}
	t.docs[docKey(kind, owner)] = b
	return nil
}

func (t *memTx) Exists(kind store.Kind, owner string) (bool, error) {
	_, ok := t.raw(docKey(kind, owner))
	return ok, nil
}

func (t *memTx) Balance(account string) (int64, error) {
	if b, ok := t.balances[account]; ok {
		return b, nil
	}
	return t.s.balances[account], nil
}

func (t *memTx) Withdraw(account string, amount int64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	bal, _ := t.Balance(account)
	if bal < amount {
		return store.ErrInsufficientFunds
	}
	t.balances[account] = bal - amount
	return nil
}

func (t *memTx) Deposit(account string, amount int64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	bal, _ := t.Balance(account)
	t.balances[account] = bal + amount
	return nil
}

func (t *memTx) Emit(owner string, kind events.Kind, payload any) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	p, err := store.Stage(owner, kind, payload)
	if err != nil {
		return err
	}
	t.events = append(t.events, p)
	return nil
}
