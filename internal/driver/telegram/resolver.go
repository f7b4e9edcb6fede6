package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"shadowgram/pkg/shadowgram"
)

const defaultConnectionTTL = 15 * time.Minute

// businessConnectionAPI is the narrow raw-API surface the resolver needs.
type businessConnectionAPI interface {
	AccountGetBotBusinessConnection(ctx context.Context, connectionID string) (tg.UpdatesClass, error)
}

// ResolverOption mutates connection resolver configuration.
type ResolverOption func(*ConnectionResolver)

// WithConnectionTTL sets how long a resolved owner is reused before the
// connection is re-checked against the platform.
func WithConnectionTTL(ttl time.Duration) ResolverOption {
	return func(resolver *ConnectionResolver) {
		if ttl > 0 {
			resolver.ttl = ttl
		}
	}
}

// withResolverClock injects a deterministic clock for tests.
func withResolverClock(clock func() time.Time) ResolverOption {
	return func(resolver *ConnectionResolver) {
		if clock != nil {
			resolver.clock = clock
		}
	}
}

// ConnectionResolver maps business-connection tokens to the owning user.
//
// Lookups hit the platform once per token and are then served from a
// TTL-bounded cache, so per-event resolution stays off the network.
type ConnectionResolver struct {
	api   businessConnectionAPI
	peers *UserPeerCache
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]ownerEntry
}

type ownerEntry struct {
	ownerID   int64
	expiresAt time.Time
}

// NewConnectionResolver creates a resolver over the raw Telegram API.
func NewConnectionResolver(
	api businessConnectionAPI,
	peers *UserPeerCache,
	options ...ResolverOption,
) (*ConnectionResolver, error) {
	if api == nil {
		return nil, fmt.Errorf("new connection resolver: nil api")
	}
	if peers == nil {
		return nil, fmt.Errorf("new connection resolver: nil peer cache")
	}

	resolver := &ConnectionResolver{
		api:     api,
		peers:   peers,
		ttl:     defaultConnectionTTL,
		clock:   time.Now,
		entries: make(map[string]ownerEntry),
	}
	for _, option := range options {
		option(resolver)
	}

	return resolver, nil
}

// ResolveOwner returns the user id owning the business connection.
func (r *ConnectionResolver) ResolveOwner(ctx context.Context, connectionID string) (int64, error) {
	if connectionID == "" {
		return 0, fmt.Errorf("%w: missing connection id", shadowgram.ErrOwnerUnresolved)
	}

	now := r.clock().UTC()
	if ownerID, ok := r.cachedOwner(connectionID, now); ok {
		return ownerID, nil
	}

	updates, err := r.api.AccountGetBotBusinessConnection(ctx, connectionID)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch connection %s: %w", shadowgram.ErrOwnerUnresolved, connectionID, err)
	}

	connection, found := extractBusinessConnection(updates, r.peers)
	if !found {
		return 0, fmt.Errorf("%w: connection %s not in response", shadowgram.ErrOwnerUnresolved, connectionID)
	}
	if connection.Disabled {
		return 0, fmt.Errorf("%w: connection %s disabled", shadowgram.ErrOwnerUnresolved, connectionID)
	}
	if connection.UserID == 0 {
		return 0, fmt.Errorf("%w: connection %s has no owner", shadowgram.ErrOwnerUnresolved, connectionID)
	}

	r.mu.Lock()
	r.entries[connectionID] = ownerEntry{
		ownerID:   connection.UserID,
		expiresAt: now.Add(r.ttl),
	}
	r.mu.Unlock()

	return connection.UserID, nil
}

func (r *ConnectionResolver) cachedOwner(connectionID string, now time.Time) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[connectionID]
	if !ok {
		return 0, false
	}
	if !now.Before(entry.expiresAt) {
		delete(r.entries, connectionID)
		return 0, false
	}

	return entry.ownerID, true
}

// extractBusinessConnection digs the connection out of the updates container
// and feeds attached user entities to the peer cache, so the owner is
// addressable before any inbound update mentions them.
func extractBusinessConnection(
	updates tg.UpdatesClass,
	peers *UserPeerCache,
) (tg.BotBusinessConnection, bool) {
	var batch []tg.UpdateClass
	switch typed := updates.(type) {
	case *tg.Updates:
		peers.RememberUsers(typed.Users)
		batch = typed.Updates
	case *tg.UpdatesCombined:
		peers.RememberUsers(typed.Users)
		batch = typed.Updates
	default:
		return tg.BotBusinessConnection{}, false
	}

	for _, update := range batch {
		if connect, ok := update.(*tg.UpdateBotBusinessConnect); ok {
			return connect.Connection, true
		}
	}

	return tg.BotBusinessConnection{}, false
}

var _ shadowgram.OwnerResolver = (*ConnectionResolver)(nil)
