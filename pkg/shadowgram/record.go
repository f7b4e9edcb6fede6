package shadowgram

import (
	"fmt"
	"time"
)

const (
	// NoteNone is the sentinel stored when a media message has no caption,
	// so downstream formatting never emits a blank clause.
	NoteNone = "none"
	// SenderUnknown is the display-name fallback when the platform omits the sender.
	SenderUnknown = "Unknown"
)

// ShadowRecord is the retained local copy of one observed inbound message,
// kept until consumed by a delete or superseded by an edit.
type ShadowRecord struct {
	// Identity is the composite key this record is stored under.
	Identity Identity
	// ChatID is the platform chat the message arrived in.
	ChatID int64
	// SenderID is the platform identifier of the message author.
	SenderID int64
	// SenderDisplayName is the human-readable author label.
	SenderDisplayName string
	// OwnerID is the account owner who receives notifications for this record.
	OwnerID int64
	// Kind classifies the retained payload. Immutable after creation.
	Kind MessageKind
	// Payload is the literal text body, or a durable file reference for media kinds.
	Payload string
	// Note is an optional caption annotation, NoteNone when absent.
	Note string
	// ObservedAt records when the message was first seen.
	ObservedAt time.Time
}

// NewRecordFromEvent builds a shadow record for a first observation.
// Captions are normalized to NoteNone and sender labels to SenderUnknown.
func NewRecordFromEvent(event *Event) (ShadowRecord, error) {
	if event == nil {
		return ShadowRecord{}, fmt.Errorf("%w: nil event", ErrInvalidRecord)
	}
	if err := event.Identity.Validate(); err != nil {
		return ShadowRecord{}, fmt.Errorf("new record: %w", err)
	}
	if event.MessageKind == "" {
		return ShadowRecord{}, fmt.Errorf("%w: missing message kind", ErrInvalidRecord)
	}

	record := ShadowRecord{
		Identity:          event.Identity,
		ChatID:            event.Identity.ChatID,
		SenderID:          event.Sender.ID,
		SenderDisplayName: event.Sender.DisplayName,
		OwnerID:           event.Sender.ID, // caller overrides with the resolved owner
		Kind:              event.MessageKind,
		Payload:           event.Payload(),
		Note:              normalizeNote(event.Caption),
		ObservedAt:        event.OccurredAt,
	}
	if record.SenderDisplayName == "" {
		record.SenderDisplayName = SenderUnknown
	}

	return record, nil
}

// Validate checks record invariants before cache insertion.
func (r ShadowRecord) Validate() error {
	if err := r.Identity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidRecord)
	}
	if r.OwnerID == 0 {
		return fmt.Errorf("%w: missing owner id", ErrInvalidRecord)
	}
	if r.Note == "" {
		return fmt.Errorf("%w: note must default to %q", ErrInvalidRecord, NoteNone)
	}

	return nil
}

// HasNote reports whether the record carries a real caption annotation.
func (r ShadowRecord) HasNote() bool {
	return r.Note != "" && r.Note != NoteNone
}

// RecentEdit is a transient value produced only to drive one edit notification.
// It is never stored beyond the call that creates it.
type RecentEdit struct {
	Timestamp time.Time
	ChatID    int64
	MessageID int
	OldText   string
	NewText   string
}

// NewRecentEdit captures the before/after text pair for an edit event.
func NewRecentEdit(event *Event, oldText string, now time.Time) RecentEdit {
	edit := RecentEdit{
		Timestamp: now,
		OldText:   oldText,
	}
	if event != nil {
		edit.ChatID = event.Identity.ChatID
		edit.MessageID = event.Identity.MessageID
		edit.NewText = event.Text
	}

	return edit
}

// normalizeNote maps an absent caption to the NoteNone sentinel.
func normalizeNote(caption string) string {
	if caption == "" {
		return NoteNone
	}

	return caption
}
