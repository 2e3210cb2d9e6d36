// README: Conversation bootstrapper; ensures one driver/customer chat channel per order without duplicates.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/types"
)

var ErrAlreadyAttempted = errors.New("conversation already attempted for this order")

// Handle identifies a chat channel.
type Handle string

type Store interface {
	Lookup(ctx context.Context, orderID types.ID) (Handle, bool, error)
	Create(ctx context.Context, orderID types.ID) (Handle, error)
}

// PGStore reads conversations directly and creates them through a procedure
// that resolves the customer from the order row.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Lookup(ctx context.Context, orderID types.ID) (Handle, bool, error) {
	var id string
	err := s.db.QueryRow(ctx, `
        SELECT id::text
        FROM conversations
        WHERE order_id = $1
        ORDER BY created_at
        LIMIT 1`, string(orderID)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Handle(id), true, nil
}

func (s *PGStore) Create(ctx context.Context, orderID types.ID) (Handle, error) {
	var id string
	if err := s.db.QueryRow(ctx, `SELECT create_order_conversation($1::uuid)::text`, string(orderID)).Scan(&id); err != nil {
		return "", err
	}
	return Handle(id), nil
}

// Bootstrapper belongs to one driver session. The attempted set is never persisted.
type Bootstrapper struct {
	store Store

	mu        sync.Mutex
	attempted map[types.ID]bool
	handles   map[types.ID]Handle
}

func NewBootstrapper(store Store) *Bootstrapper {
	return &Bootstrapper{
		store:     store,
		attempted: make(map[types.ID]bool),
		handles:   make(map[types.ID]Handle),
	}
}

// Ensure returns the order's channel, creating it when absent. Only the first call per order
// reaches the store; later calls return the cached handle or ErrAlreadyAttempted.
func (b *Bootstrapper) Ensure(ctx context.Context, orderID types.ID) (Handle, error) {
	b.mu.Lock()
	if h, ok := b.handles[orderID]; ok {
		b.mu.Unlock()
		return h, nil
	}
	if b.attempted[orderID] {
		b.mu.Unlock()
		return "", ErrAlreadyAttempted
	}
	b.attempted[orderID] = true
	b.mu.Unlock()

	h, found, err := b.store.Lookup(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("lookup conversation for order %s: %w", orderID, err)
	}
	if !found {
		h, err = b.store.Create(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("create conversation for order %s: %w", orderID, err)
		}
		slog.Info("conversation created", "order_id", orderID, "conversation_id", h)
	}

	b.mu.Lock()
	b.handles[orderID] = h
	b.mu.Unlock()
	return h, nil
}

// Reset forgets every attempt; called when the session ends.
func (b *Bootstrapper) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempted = make(map[types.ID]bool)
	b.handles = make(map[types.ID]Handle)
}
