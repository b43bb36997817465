package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/convene/pkg/store"
)

// Compile-time assertion that Store satisfies store.Store.
var _ store.Store = (*Store)(nil)

// listenRetryDelay is the pause before the notification listener reconnects
// after losing its connection.
const listenRetryDelay = time.Second

// Store is the PostgreSQL-backed document store. It holds a single
// [pgxpool.Pool]; one pooled connection is reserved for LISTEN.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	hub  store.Hub

	stopListen context.CancelFunc
	listenDone chan struct{}
	closeOnce  sync.Once
}

// New connects to the database at dsn, runs [Migrate] and starts the
// notification listener.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	s := &Store{
		pool:       pool,
		stopListen: stop,
		listenDone: make(chan struct{}),
	}
	go s.listen(listenCtx)
	return s, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close stops the listener and all subscriptions, then releases the pool.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.stopListen()
		<-s.listenDone
		s.hub.Close()
		s.pool.Close()
	})
	return nil
}

// listen holds a dedicated connection subscribed to all change channels and
// forwards notifications to the hub until ctx is cancelled.
func (s *Store) listen(ctx context.Context) {
	defer close(s.listenDone)
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("postgres store: notification listener lost connection", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	for _, ch := range []string{channelSessions, channelNotes, channelResponses} {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait: %w", err)
		}
		if topic, ok := topicFor(n.Channel, n.Payload); ok {
			s.hub.Notify(topic)
		}
	}
}

func topicFor(channel, payload string) (string, bool) {
	if payload == "" {
		return "", false
	}
	switch channel {
	case channelSessions:
		return store.SessionTopic(payload), true
	case channelNotes:
		return store.NotesTopic(payload), true
	case channelResponses:
		return store.ResponsesTopic(payload), true
	}
	return "", false
}
