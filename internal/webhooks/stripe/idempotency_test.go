package stripewebhook

import (
	"context"
	"testing"
	"time"
)

type mockStore struct {
	keys map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{keys: map[string]string{}}
}

func (m *mockStore) Get(_ context.Context, key string) (string, error) {
	return m.keys[key], nil
}

func (m *mockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := m.keys[key]; exists {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *mockStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func (m *mockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func TestIdempotencyGuardLifecycle(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	guard, err := NewIdempotencyGuard(store, time.Minute, "stripe_webhook")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if seen {
		t.Fatalf("first delivery must not be marked seen")
	}

	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !seen {
		t.Fatalf("retry must be marked seen")
	}

	// Releasing the key lets a failed delivery retry.
	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("check after delete: %v", err)
	}
	if seen {
		t.Fatalf("delivery after delete must not be marked seen")
	}
}

func TestIdempotencyGuardValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewIdempotencyGuard(nil, time.Minute, "scope"); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewIdempotencyGuard(newMockStore(), time.Minute, ""); err == nil {
		t.Fatalf("expected error for empty scope")
	}

	guard, err := NewIdempotencyGuard(newMockStore(), time.Minute, "scope")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
}
