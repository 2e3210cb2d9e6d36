package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/types"
)

type mockStore struct {
	mu        sync.Mutex
	existing  map[types.ID]Handle
	createErr error
	lookups   int
	creates   int
}

func newMockStore() *mockStore {
	return &mockStore{existing: make(map[types.ID]Handle)}
}

func (m *mockStore) Lookup(_ context.Context, orderID types.ID) (Handle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	h, ok := m.existing[orderID]
	return h, ok, nil
}

func (m *mockStore) Create(_ context.Context, orderID types.ID) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return "", m.createErr
	}
	h := Handle("conv-" + string(orderID))
	m.existing[orderID] = h
	return h, nil
}

func TestEnsure_ReusesExisting(t *testing.T) {
	store := newMockStore()
	store.existing["o1"] = "conv-existing"
	b := NewBootstrapper(store)

	h, err := b.Ensure(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, Handle("conv-existing"), h)
	assert.Equal(t, 0, store.creates)
}

func TestEnsure_CreatesOnceAndCaches(t *testing.T) {
	store := newMockStore()
	b := NewBootstrapper(store)

	for i := 0; i < 3; i++ {
		h, err := b.Ensure(context.Background(), "o1")
		require.NoError(t, err)
		assert.Equal(t, Handle("conv-o1"), h)
	}
	assert.Equal(t, 1, store.lookups)
	assert.Equal(t, 1, store.creates)
}

func TestEnsure_FailureNotRetriedInSameSession(t *testing.T) {
	store := newMockStore()
	store.createErr = errors.New("rpc timeout")
	b := NewBootstrapper(store)

	_, err := b.Ensure(context.Background(), "o1")
	require.Error(t, err)
	_, err = b.Ensure(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrAlreadyAttempted)
	assert.Equal(t, 1, store.creates)

	// A different order is tracked separately.
	_, err = b.Ensure(context.Background(), "o2")
	assert.NotErrorIs(t, err, ErrAlreadyAttempted)
}

func TestEnsure_NewSessionMayRetry(t *testing.T) {
	store := newMockStore()
	store.createErr = errors.New("rpc timeout")
	b := NewBootstrapper(store)
	_, _ = b.Ensure(context.Background(), "o1")

	b.Reset()
	store.createErr = nil
	h, err := b.Ensure(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, Handle("conv-o1"), h)
	assert.Equal(t, 2, store.creates)
}
