package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"shadowgram/pkg/shadowgram"
)

type connectionAPIStub struct {
	calls    int
	err      error
	response tg.UpdatesClass
}

func (s *connectionAPIStub) AccountGetBotBusinessConnection(
	_ context.Context,
	_ string,
) (tg.UpdatesClass, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	return s.response, nil
}

func connectionResponse(ownerID int64, disabled bool) tg.UpdatesClass {
	connection := tg.BotBusinessConnection{
		ConnectionID: "conn-1",
		UserID:       ownerID,
		Disabled:     disabled,
	}

	return &tg.Updates{
		Updates: []tg.UpdateClass{
			&tg.UpdateBotBusinessConnect{Connection: connection},
		},
		Users: []tg.UserClass{
			&tg.User{ID: ownerID, AccessHash: 12345, FirstName: "Owner"},
		},
	}
}

func TestResolveOwnerFetchesOnceThenCaches(t *testing.T) {
	t.Parallel()

	api := &connectionAPIStub{response: connectionResponse(900, false)}
	peers := NewUserPeerCache()
	resolver, err := NewConnectionResolver(api, peers)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	for idx := 0; idx < 3; idx++ {
		ownerID, err := resolver.ResolveOwner(context.Background(), "conn-1")
		if err != nil {
			t.Fatalf("resolve %d: %v", idx, err)
		}
		if ownerID != 900 {
			t.Fatalf("owner = %d, want 900", ownerID)
		}
	}

	if api.calls != 1 {
		t.Fatalf("api calls = %d, want 1 (cached afterwards)", api.calls)
	}

	// The owner entity from the response is now addressable.
	peer, err := peers.Resolve(900)
	if err != nil || peer.AccessHash != 12345 {
		t.Fatalf("owner peer = %+v err=%v, want remembered access hash", peer, err)
	}
}

func TestResolveOwnerExpiresCachedEntry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	api := &connectionAPIStub{response: connectionResponse(900, false)}
	resolver, err := NewConnectionResolver(api, NewUserPeerCache(),
		WithConnectionTTL(time.Minute),
		withResolverClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	if _, err := resolver.ResolveOwner(context.Background(), "conn-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := resolver.ResolveOwner(context.Background(), "conn-1"); err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if api.calls != 2 {
		t.Fatalf("api calls = %d, want re-fetch after ttl", api.calls)
	}
}

func TestResolveOwnerFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		api  *connectionAPIStub
	}{
		{name: "rpc failure", api: &connectionAPIStub{err: errors.New("network")}},
		{name: "disabled connection", api: &connectionAPIStub{response: connectionResponse(900, true)}},
		{name: "missing connection update", api: &connectionAPIStub{response: &tg.Updates{}}},
		{name: "no owner id", api: &connectionAPIStub{response: connectionResponse(0, false)}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			resolver, err := NewConnectionResolver(testCase.api, NewUserPeerCache())
			if err != nil {
				t.Fatalf("new resolver: %v", err)
			}

			_, err = resolver.ResolveOwner(context.Background(), "conn-1")
			if !errors.Is(err, shadowgram.ErrOwnerUnresolved) {
				t.Fatalf("error = %v, want owner unresolved", err)
			}
		})
	}
}

func TestResolveOwnerRejectsEmptyConnectionID(t *testing.T) {
	t.Parallel()

	resolver, err := NewConnectionResolver(&connectionAPIStub{}, NewUserPeerCache())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	if _, err := resolver.ResolveOwner(context.Background(), ""); !errors.Is(err, shadowgram.ErrOwnerUnresolved) {
		t.Fatalf("error = %v, want owner unresolved", err)
	}
}
