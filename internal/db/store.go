package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudo-init-do/taskmarket/internal/clock"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

// Store runs every unit of work in a SERIALIZABLE Postgres transaction and
// locks the aggregates it touches with FOR UPDATE.
type Store struct {
	pool  *pgxpool.Pool
	clock clock.Clock
	sink  events.Sink
	pubMu sync.Mutex
}

func NewStore(pool *pgxpool.Pool, c clock.Clock, sink events.Sink) *Store {
	if c == nil {
		c = clock.System()
	}
	return &Store{pool: pool, clock: c, sink: sink}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("transaction start failed: %w", err)
	}
	defer tx.Rollback(ctx)

	ptx := &pgTx{ctx: ctx, tx: tx, now: s.clock.Now()}
	if err := fn(ptx); err != nil {
		return err
	}

	committed, err := store.Sequence(ptx.events, ptx.now, func(owner string) (uint64, error) {
		var last int64
		err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE owner = $1`, owner).Scan(&last)
		return uint64(last), err
	})
	if err != nil {
		return fmt.Errorf("failed to sequence events: %w", err)
	}
	for _, e := range committed {
		_, err = tx.Exec(ctx,
			`INSERT INTO events (owner, seq, id, kind, data, emitted_at)
             VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Owner, int64(e.Seq), e.ID, string(e.Kind), string(e.Data), e.At,
		)
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	if s.sink != nil && len(committed) > 0 {
		_ = s.sink.Publish(ctx, committed)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("transaction start failed: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(&pgTx{ctx: ctx, tx: tx, now: s.clock.Now(), readOnly: true})
}

func (s *Store) Events(ctx context.Context, owner string, after uint64, limit int) ([]events.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner, seq, id::text, kind, data, emitted_at
         FROM events WHERE owner = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`,
		owner, int64(after), store.ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e    events.Event
			seq  int64
			kind string
			data []byte
		)
		if err := rows.Scan(&e.Owner, &seq, &e.ID, &kind, &data, &e.At); err != nil {
			return nil, fmt.Errorf("failed to parse event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Kind = events.Kind(kind)
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	now      time.Time
	readOnly bool
	events   []store.Pending
}

func (t *pgTx) Now() time.Time { return t.now }

func (t *pgTx) Load(kind store.Kind, owner string, v any) error {
	q := `SELECT doc FROM aggregates WHERE kind = $1 AND owner = $2`
	if !t.readOnly {
		q += ` FOR UPDATE`
	}
	var raw []byte
	err := t.tx.QueryRow(t.ctx, q, string(kind), owner).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s/%s: %w", kind, owner, err)
	}
	return json.Unmarshal(raw, v)
}

func (t *pgTx) Save(kind store.Kind, owner string, v any) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO aggregates (kind, owner, doc, updated_at) VALUES ($1, $2, $3, NOW())
         ON CONFLICT (kind, owner) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		string(kind), owner, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", kind, owner, err)
	}
	return nil
}

func (t *pgTx) Exists(kind store.Kind, owner string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		`SELECT EXISTS(SELECT 1 FROM aggregates WHERE kind = $1 AND owner = $2)`,
		string(kind), owner,
	).Scan(&exists)
	return exists, err
}

func (t *pgTx) Balance(account string) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(t.ctx, `SELECT balance FROM wallets WHERE account = $1`, account).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (t *pgTx) Withdraw(account string, amount int64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	res, err := t.tx.Exec(t.ctx,
		`UPDATE wallets SET balance = balance - $1 WHERE account = $2 AND balance >= $1`,
		amount, account,
	)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrInsufficientFunds
	}
	return nil
}

func (t *pgTx) Deposit(account string, amount int64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO wallets (account, balance) VALUES ($1, $2)
         ON CONFLICT (account) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
		account, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return nil
}

func (t *pgTx) Emit(owner string, kind events.Kind, payload any) error {
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
