package credstore

import (
	"path/filepath"
	"testing"

	"github.com/medsurplus/vendorchat/internal/model/auth"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadSessionEmpty(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.LoadSession()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no session in a fresh store")
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	store := openTestStore(t)

	sess := auth.Session{
		Token: "jwt-abc",
		User: auth.User{
			ID:         42,
			Email:      "vendor@example.com",
			Username:   "vendor",
			Roles:      []string{"vendor"},
			VendorSlug: "acme-medical",
		},
	}
	if err := store.SaveSession(sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := store.LoadSession()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a stored session")
	}
	if got.Token != sess.Token {
		t.Errorf("expected token %q, got %q", sess.Token, got.Token)
	}
	if got.User.VendorSlug != "acme-medical" {
		t.Errorf("expected vendor slug preserved, got %q", got.User.VendorSlug)
	}
	if len(got.User.Roles) != 1 || got.User.Roles[0] != "vendor" {
		t.Errorf("expected roles preserved, got %v", got.User.Roles)
	}
}

func TestSaveSessionReplaces(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveSession(auth.Session{Token: "first", User: auth.User{Email: "a@x.com"}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.SaveSession(auth.Session{Token: "second", User: auth.User{Email: "b@x.com"}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := store.LoadSession()
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if got.Token != "second" || got.User.Email != "b@x.com" {
		t.Errorf("expected replaced session, got token=%q email=%q", got.Token, got.User.Email)
	}
}

func TestClearIdempotent(t *testing.T) {
	store := openTestStore(t)

	if err := store.Clear(); err != nil {
		t.Fatalf("clearing an empty store should not fail: %v", err)
	}

	if err := store.SaveSession(auth.Session{Token: "t", User: auth.User{Email: "x@x.com"}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear should not fail: %v", err)
	}

	if _, ok, _ := store.LoadSession(); ok {
		t.Fatal("expected no session after clear")
	}
}
