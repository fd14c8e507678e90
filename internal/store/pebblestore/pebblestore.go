// Package pebblestore keeps marketplace state in an embedded pebble database.
//
// Key layout:
//
//	doc/<kind>/<hex owner>          JSON aggregate
//	bal/<hex account>               decimal balance
//	seq/<hex owner>                 last event sequence
//	evt/<hex owner>/<%020d seq>     JSON event
package pebblestore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/sudo-init-do/taskmarket/internal/clock"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

type Store struct {
	db    *pebble.DB
	mu    sync.Mutex
	pubMu sync.Mutex
	clock clock.Clock
	sink  events.Sink
}

type Option func(*Store)

func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

func WithSink(sink events.Sink) Option { return func(s *Store) { s.sink = sink } }

// Open opens (or creates) the database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	return open(dir, &pebble.Options{}, opts...)
}

// OpenInMemory opens a database backed by an in-memory filesystem.
func OpenInMemory(opts ...Option) (*Store, error) {
	return open("mem", &pebble.Options{FS: vfs.NewMem()}, opts...)
}

func open(dir string, po *pebble.Options, opts ...Option) (*Store, error) {
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %q: %w", dir, err)
	}
	s := &Store{db: db, clock: clock.System()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func docKey(kind store.Kind, owner string) []byte {
	return []byte("doc/" + string(kind) + "/" + hex.EncodeToString([]byte(owner)))
}

func balKey(account string) []byte {
	return []byte("bal/" + hex.EncodeToString([]byte(account)))
}

func seqKey(owner string) []byte {
	return []byte("seq/" + hex.EncodeToString([]byte(owner)))
}

func evtPrefix(owner string) string {
	return "evt/" + hex.EncodeToString([]byte(owner)) + "/"
}

func evtKey(owner string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", evtPrefix(owner), seq))
}

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// get copies the value out; ok is false when the key is absent.
func get(r getter, key []byte) ([]byte, bool, error) {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func getUint(r getter, key []byte) (uint64, error) {
	v, ok, err := get(r, key)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(string(v), 10, 64)
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
	b := s.db.NewIndexedBatch()
	defer b.Close()

	tx := &pebbleTx{r: b, b: b, now: s.clock.Now()}
	if err := fn(tx); err != nil {
		return err
	}
	committed, err := store.Sequence(tx.events, tx.now, func(owner string) (uint64, error) {
		return getUint(b, seqKey(owner))
	})
	if err != nil {
		return err
	}
	for _, e := range committed {
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Set(evtKey(e.Owner, e.Seq), raw, nil); err != nil {
			return err
		}
		if err := b.Set(seqKey(e.Owner), []byte(strconv.FormatUint(e.Seq, 10)), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: commit: %w", err)
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
	return fn(&pebbleTx{r: s.db, now: s.clock.Now()})
}

func (s *Store) Events(ctx context.Context, owner string, after uint64, limit int) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = store.ClampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: evtKey(owner, after+1),
		UpperBound: []byte(evtPrefix(owner) + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []events.Event
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var e events.Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("pebblestore: decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

type pebbleTx struct {
	r      getter
	b      *pebble.Batch
	now    time.Time
	events []store.Pending
}

func (t *pebbleTx) Now() time.Time { return t.now }

func (t *pebbleTx) writable() error {
	if t.b == nil {
		return store.ErrReadOnly
	}
	return nil
}

func (t *pebbleTx) Load(kind store.Kind, owner string, v any) error {
	raw, ok, err := get(t.r, docKey(kind, owner))
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("pebblestore: decode %s/%s: %w", kind, owner, err)
	}
	return nil
}

func (t *pebbleTx) Save(kind store.Kind, owner string, v any) error {
	if err := t.writable(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pebblestore: encode %s/%s: %w", kind, owner, err)
	}
	return t.b.Set(docKey(kind, owner), raw, nil)
}

func (t *pebbleTx) Exists(kind store.Kind, owner string) (bool, error) {
	_, ok, err := get(t.r, docKey(kind, owner))
	return ok, err
}

func (t *pebbleTx) Balance(account string) (int64, error) {
	raw, ok, err := get(t.r, balKey(account))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func (t *pebbleTx) setBalance(account string, v int64) error {
	return t.b.Set(balKey(account), []byte(strconv.FormatInt(v, 10)), nil)
}

func (t *pebbleTx) Withdraw(account string, amount int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	bal, err := t.Balance(account)
	if err != nil {
		return err
	}
	if bal < amount {
		return store.ErrInsufficientFunds
	}
	return t.setBalance(account, bal-amount)
}

func (t *pebbleTx) Deposit(account string, amount int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	bal, err := t.Balance(account)
	if err != nil {
		return err
	}
	return t.setBalance(account, bal+amount)
}

func (t *pebbleTx) Emit(owner string, kind events.Kind, payload any) error {
	if err := t.writable(); err != nil {
		return err
	}
	p, err := store.Stage(owner, kind, payload)
	if err != nil {
		return err
	}
	t.events = append(t.events, p)
	return nil
}
