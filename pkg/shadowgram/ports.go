package shadowgram

import (
	"context"
	"fmt"
)

// ShadowCache is the keyed store of shadow records.
//
// Implementations must be concurrency-safe so that the per-identity
// exactly-once-consumption guarantee holds under parallel event dispatch.
type ShadowCache interface {
	// Put unconditionally inserts or overwrites the record for its identity.
	Put(record ShadowRecord)
	// Get returns the record without removing it. Absence is not an error.
	Get(identity Identity) (ShadowRecord, bool)
	// TakeOnDelete atomically looks up and removes the record for identity.
	// Absence signals "nothing to notify": the identity was never cached or
	// was already consumed.
	TakeOnDelete(identity Identity) (ShadowRecord, bool)
	// UpdateOnEdit swaps the stored payload for identity and returns the
	// prior payload. When no record exists the fresh record is inserted as a
	// first observation and existed is false, meaning no old text is known.
	UpdateOnEdit(identity Identity, fresh ShadowRecord) (oldPayload string, existed bool)
}

// OwnerResolver resolves which account owner a business connection belongs to.
type OwnerResolver interface {
	// ResolveOwner returns the owner user id for a connection token.
	ResolveOwner(ctx context.Context, connectionID string) (int64, error)
}

// OutboundNotice is one owner-facing notification to deliver.
//
// Exactly one content source applies: text notices carry only Body; cached
// media notices carry AssetRef; captured media notices carry LocalPath.
type OutboundNotice struct {
	// OwnerID is the destination account owner.
	OwnerID int64
	// Kind selects how the notice is delivered. MessageKindText sends Body
	// as an HTML message; media kinds re-send the referenced asset.
	Kind MessageKind
	// Body is the HTML message text, or the HTML caption for media notices.
	Body string
	// AssetRef re-sends a durable platform file reference.
	AssetRef string
	// LocalPath uploads a locally captured file.
	LocalPath string
}

// Validate checks the notice envelope before dispatch.
func (n OutboundNotice) Validate() error {
	if n.OwnerID == 0 {
		return fmt.Errorf("%w: missing owner id", ErrInvalidNotice)
	}
	if n.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidNotice)
	}
	if n.Kind == MessageKindText {
		if n.Body == "" {
			return fmt.Errorf("%w: text notice requires body", ErrInvalidNotice)
		}
		if n.AssetRef != "" || n.LocalPath != "" {
			return fmt.Errorf("%w: text notice cannot carry media", ErrInvalidNotice)
		}
		return nil
	}
	if n.AssetRef == "" && n.LocalPath == "" {
		return fmt.Errorf("%w: media notice requires asset ref or local path", ErrInvalidNotice)
	}
	if n.AssetRef != "" && n.LocalPath != "" {
		return fmt.Errorf("%w: media notice cannot carry both asset ref and local path", ErrInvalidNotice)
	}

	return nil
}

// Notifier delivers owner-facing notices. Delivery is best-effort: the core
// logs failures and never retries.
type Notifier interface {
	Deliver(ctx context.Context, notice OutboundNotice) error
}

// AssetVault materializes durable media references as scoped local files.
type AssetVault interface {
	// Download fetches the referenced asset into a scoped local path.
	Download(ctx context.Context, assetRef string, kind MessageKind) (string, error)
	// Remove releases a downloaded file. It is the guaranteed-cleanup
	// primitive and must tolerate already-removed paths.
	Remove(path string) error
}
