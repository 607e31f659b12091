// Package testsuite holds behavior every storage.UserStore must share. Adapter
// packages run it from their own tests.
package testsuite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/porthorian/authlite/pkg/storage"
)

type StoreFactory func(t *testing.T) storage.UserStore

// RunUserStore exercises store contracts against a fresh store per subtest.
func RunUserStore(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("missing user is not found", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if _, err := store.GetUser(ctx, 404); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("get: expected ErrNotFound, got %v", err)
		}
		if _, err := store.GetPermissionMask(ctx, 404); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("mask: expected ErrNotFound, got %v", err)
		}
		if err := store.DeleteUser(ctx, 404); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("delete: expected ErrNotFound, got %v", err)
		}
		if err := store.PutPermissionMask(ctx, 404, 1); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("put: expected ErrNotFound, got %v", err)
		}
		if _, err := store.GrantPermissionMask(ctx, 404, 1); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("grant: expected ErrNotFound, got %v", err)
		}
		if _, err := store.RevokePermissionMask(ctx, 404, 1); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("revoke: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("zero mask is a value", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := mustCreate(t, store, "zero", 0)
		mask, err := store.GetPermissionMask(ctx, id)
		if err != nil || mask != 0 {
			t.Fatalf("expected zero mask, got %d err=%v", mask, err)
		}
	})

	t.Run("duplicate login", func(t *testing.T) {
		store := newStore(t)

		mustCreate(t, store, "alice", 0)
		_, err := store.CreateUser(context.Background(), storage.UserRecord{Login: "alice", CredentialHash: "x"})
		if !errors.Is(err, storage.ErrDuplicateLogin) {
			t.Fatalf("expected ErrDuplicateLogin, got %v", err)
		}
	})

	t.Run("mask updates", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := mustCreate(t, store, "alice", 0b011)
		other := mustCreate(t, store, "bob", 0b100)

		if got, err := store.RevokePermissionMask(ctx, id, 0b001); err != nil || got != 0b010 {
			t.Fatalf("revoke: got %b err=%v", got, err)
		}
		if got, err := store.GrantPermissionMask(ctx, id, 1<<63); err != nil || got != 1<<63|0b010 {
			t.Fatalf("grant high bit: got %b err=%v", got, err)
		}
		if err := store.PutPermissionMask(ctx, id, 0b1000); err != nil {
			t.Fatalf("put: %v", err)
		}
		if got, _ := store.GetPermissionMask(ctx, id); got != 0b1000 {
			t.Fatalf("expected put to replace, got %b", got)
		}
		if got, _ := store.GetPermissionMask(ctx, other); got != 0b100 {
			t.Fatalf("other user changed: %b", got)
		}
	})

	t.Run("concurrent grants are not lost", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		id := mustCreate(t, store, "alice", 0)

		var wg sync.WaitGroup
		for bit := 0; bit < 16; bit++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.GrantPermissionMask(ctx, id, 1<<bit); err != nil {
					t.Errorf("grant bit %d: %v", bit, err)
				}
			}()
		}
		wg.Wait()

		if got, _ := store.GetPermissionMask(ctx, id); got != 0xffff {
			t.Fatalf("expected all 16 bits, got %b", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := mustCreate(t, store, "alice", 1)
		if err := store.DeleteUser(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := store.GetUser(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected deleted user to be gone, got %v", err)
		}
		if err := store.DeleteUser(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected second delete to be not found, got %v", err)
		}
	})
}

func mustCreate(t *testing.T, store storage.UserStore, login string, mask uint64) int64 {
	t.Helper()

	id, err := store.CreateUser(context.Background(), storage.UserRecord{
		Login:          login,
		CredentialHash: "hash:" + login,
		PermissionMask: mask,
	})
	if err != nil {
		t.Fatalf("create %q: %v", login, err)
	}
	return id
}
