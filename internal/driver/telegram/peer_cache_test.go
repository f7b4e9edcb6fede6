package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestUserPeerCacheResolve(t *testing.T) {
	t.Parallel()

	cache := NewUserPeerCache()
	cache.RememberUsers([]tg.UserClass{
		&tg.User{ID: 42, AccessHash: 4242, FirstName: "Alice"},
		&tg.UserEmpty{ID: 43},
	})

	peer, err := cache.Resolve(42)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if peer.UserID != 42 || peer.AccessHash != 4242 {
		t.Fatalf("peer = %+v", peer)
	}

	if _, err := cache.Resolve(43); err == nil {
		t.Fatal("empty user entity must not be cached")
	}
	if _, err := cache.Resolve(99); err == nil {
		t.Fatal("unknown user must not resolve")
	}
	if _, err := cache.Resolve(0); err == nil {
		t.Fatal("zero user id must not resolve")
	}
}

func TestUserPeerCacheDisplayName(t *testing.T) {
	t.Parallel()

	named := &tg.User{ID: 1, FirstName: "Alice", LastName: "Smith"}
	usernameOnly := &tg.User{ID: 2}
	usernameOnly.SetUsername("bob_handle")
	nameless := &tg.User{ID: 3}

	cache := NewUserPeerCache()
	cache.RememberUsers([]tg.UserClass{named, usernameOnly, nameless})

	if got := cache.DisplayName(1); got != "Alice Smith" {
		t.Fatalf("display name = %q", got)
	}
	if got := cache.DisplayName(2); got != "bob_handle" {
		t.Fatalf("display name = %q, want username fallback", got)
	}
	if got := cache.DisplayName(3); got != "" {
		t.Fatalf("display name = %q, want empty for nameless user", got)
	}
	if got := cache.DisplayName(99); got != "" {
		t.Fatalf("display name = %q, want empty for unknown user", got)
	}
}
