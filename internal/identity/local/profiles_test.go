package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gestionsostenible/console-core/internal/identity"
)

func TestProfilePutAndGet(t *testing.T) {
	profiles := NewProfileStore(testDB(t))
	ctx := context.Background()

	err := profiles.Put(ctx, &identity.Profile{
		UID:            "usr-1",
		Email:          "ana@acme.com",
		Role:           "admin",
		OrganizationID: "org-acme",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := profiles.Get(ctx, "usr-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Email != "ana@acme.com" || got.Role != "admin" || got.OrganizationID != "org-acme" {
		t.Errorf("Get() = %+v", got)
	}
	if got.UpdatedAt == 0 {
		t.Error("UpdatedAt not stamped on Put")
	}
}

func TestProfileGetMissing(t *testing.T) {
	profiles := NewProfileStore(testDB(t))

	if _, err := profiles.Get(context.Background(), "usr-none"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("error = %v, want ErrProfileNotFound", err)
	}
}

func TestProfilePutRequiresUID(t *testing.T) {
	profiles := NewProfileStore(testDB(t))

	if err := profiles.Put(context.Background(), &identity.Profile{Email: "x@acme.com"}); err == nil {
		t.Error("Put() without uid should fail")
	}
}

func TestProfileWatchDeliversCurrentThenUpdates(t *testing.T) {
	profiles := NewProfileStore(testDB(t))
	ctx := context.Background()

	if err := profiles.Put(ctx, &identity.Profile{UID: "usr-1", Role: "viewer"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ch, cancel, err := profiles.Watch(ctx, "usr-1")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer cancel()

	recv := func() *identity.Profile {
		t.Helper()
		select {
		case p := <-ch:
			return p
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for profile")
			return nil
		}
	}

	if first := recv(); first.Role != "viewer" {
		t.Errorf("initial snapshot role = %q", first.Role)
	}

	if err := profiles.Put(ctx, &identity.Profile{UID: "usr-1", Role: "manager"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if second := recv(); second.Role != "manager" {
		t.Errorf("updated snapshot role = %q", second.Role)
	}
}

func TestProfileWatchIgnoresOtherUIDs(t *testing.T) {
	profiles := NewProfileStore(testDB(t))
	ctx := context.Background()

	ch, cancel, err := profiles.Watch(ctx, "usr-1")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer cancel()

	if err := profiles.Put(ctx, &identity.Profile{UID: "usr-2", Role: "admin"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	select {
	case p := <-ch:
		t.Errorf("received foreign profile: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProfileWatchCancelClosesChannel(t *testing.T) {
	profiles := NewProfileStore(testDB(t))

	ch, cancel, err := profiles.Watch(context.Background(), "usr-1")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	cancel()

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Writes after cancel must not panic.
	if err := profiles.Put(context.Background(), &identity.Profile{UID: "usr-1"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	cancel() // idempotent
}
