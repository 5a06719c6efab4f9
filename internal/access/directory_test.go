package access_test

import (
	"context"
	"errors"
	"testing"

	"sitewright.io/internal/access"
	"sitewright.io/internal/store/mem"
)

func newDirectoryFixture(t *testing.T) (*mem.Store, *access.Directory) {
	t.Helper()
	store := mem.NewStore()
	seedGroups(t, store)
	directory, err := access.NewDirectory(store, storeRecorder{store})
	if err != nil {
		t.Fatal(err)
	}
	return store, directory
}

func TestSuspendAndRestore(t *testing.T) {
	ctx := context.Background()
	store, directory := newDirectoryFixture(t)
	user := newActiveUser(t, store, "oscar@example.com", "password-ok")

	if err := directory.Suspend(ctx, user.ID); err != nil {
		t.Fatal(err)
	}
	got, err := directory.Get(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != access.StatusSuspended {
		t.Fatalf("expected suspended, got %s", got.Status)
	}
	if got.IsActive() {
		t.Fatal("suspended account must not be active")
	}

	// suspending twice is a no-op
	if err := directory.Suspend(ctx, user.ID); err != nil {
		t.Fatal(err)
	}

	if err := directory.Restore(ctx, user.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = directory.Get(ctx, user.ID)
	if got.Status != access.StatusActive {
		t.Fatalf("expected active after restore, got %s", got.Status)
	}

	// restore only applies to suspended accounts
	if err := directory.Restore(ctx, user.ID); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("restoring an active account: expected ErrInvalidInput, got %v", err)
	}
}

func TestRestoreNeverYieldsPending(t *testing.T) {
	ctx := context.Background()
	store, directory := newDirectoryFixture(t)

	pending := &access.User{ID: "u-pending", GroupID: "g-members", Email: "p@example.com", Status: access.StatusPending}
	if err := store.CreateUser(ctx, pending); err != nil {
		t.Fatal(err)
	}
	if err := directory.Restore(ctx, pending.ID); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for pending account, got %v", err)
	}
	got, _ := directory.Get(ctx, pending.ID)
	if got.Status != access.StatusPending {
		t.Fatalf("pending account mutated to %s", got.Status)
	}
}

func TestIsBannedEitherWay(t *testing.T) {
	ctx := context.Background()
	store, directory := newDirectoryFixture(t)

	user := newActiveUser(t, store, "pat@example.com", "password-ok")
	banned, err := directory.IsBanned(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if banned {
		t.Fatal("active member should not be banned")
	}

	// suspension alone bans
	if err := directory.Suspend(ctx, user.ID); err != nil {
		t.Fatal(err)
	}
	suspended, _ := directory.Get(ctx, user.ID)
	if banned, _ := directory.IsBanned(ctx, suspended); !banned {
		t.Fatal("suspended account should be banned")
	}

	// membership in the banned group alone bans, even while active
	other := newActiveUser(t, store, "quinn@example.com", "password-ok")
	if err := directory.AssignGroup(ctx, other.ID, "g-banned"); err != nil {
		t.Fatal(err)
	}
	moved, _ := directory.Get(ctx, other.ID)
	if moved.Status != access.StatusActive {
		t.Fatalf("group move must not change status, got %s", moved.Status)
	}
	if banned, _ := directory.IsBanned(ctx, moved); !banned {
		t.Fatal("member of the banned group should be banned")
	}
}

func TestSetOverrides(t *testing.T) {
	ctx := context.Background()
	store, directory := newDirectoryFixture(t)
	user := newActiveUser(t, store, "ruth@example.com", "password-ok")

	if err := directory.SetOverrides(ctx, user.ID, access.PermissionMap{"forum.post": false}); err != nil {
		t.Fatal(err)
	}
	got, _ := directory.Get(ctx, user.ID)
	if v, ok := got.Overrides["forum.post"]; !ok || v {
		t.Fatalf("override not stored: %+v", got.Overrides)
	}

	if err := directory.SetOverrides(ctx, "missing", nil); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignGroupValidatesTarget(t *testing.T) {
	ctx := context.Background()
	store, directory := newDirectoryFixture(t)
	user := newActiveUser(t, store, "sam@example.com", "password-ok")

	if err := directory.AssignGroup(ctx, user.ID, "no-such-group"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := directory.AssignGroup(ctx, user.ID, "g-moderators"); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetUser(ctx, user.ID)
	if got.GroupID != "g-moderators" {
		t.Fatalf("group not assigned: %s", got.GroupID)
	}
}
