package shadowgram

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral business-event type.
type EventKind string

const (
	// EventKindMessageReceived is emitted when a new business message is observed.
	EventKindMessageReceived EventKind = "message.received"
	// EventKindMessageEdited is emitted when a business message text is edited.
	EventKindMessageEdited EventKind = "message.edited"
	// EventKindMessageDeleted is emitted when a batch of business messages is deleted.
	EventKindMessageDeleted EventKind = "message.deleted"
	// EventKindCommandReceived is emitted when the bot receives a direct command.
	EventKindCommandReceived EventKind = "command.received"
)

// MessageKind classifies the payload retained for an observed message.
type MessageKind string

const (
	// MessageKindText retains the literal message body.
	MessageKindText MessageKind = "text"
	// MessageKindPhoto retains a durable photo file reference.
	MessageKindPhoto MessageKind = "photo"
	// MessageKindVideo retains a durable video file reference.
	MessageKindVideo MessageKind = "video"
	// MessageKindVoice retains a durable voice-note file reference.
	MessageKindVoice MessageKind = "voice"
	// MessageKindVideoNote retains a durable video-note file reference.
	MessageKindVideoNote MessageKind = "video_note"
)

// Identity is the composite cache key for one observed message.
//
// It is used directly as a map key; deriving a single scalar from the pair
// (for example by digit concatenation) can collide and is never done.
type Identity struct {
	// ChatID is the platform chat the message arrived in.
	ChatID int64
	// MessageID is the platform per-chat message sequence number.
	MessageID int
}

// Validate checks that both key components are present.
func (i Identity) Validate() error {
	if i.ChatID == 0 {
		return fmt.Errorf("%w: missing chat id", ErrInvalidEvent)
	}
	if i.MessageID == 0 {
		return fmt.Errorf("%w: missing message id", ErrInvalidEvent)
	}

	return nil
}

// String renders the identity for log output.
func (i Identity) String() string {
	return fmt.Sprintf("%d/%d", i.ChatID, i.MessageID)
}

// Sender identifies the user that produced an inbound message.
type Sender struct {
	// ID is the stable platform user identifier.
	ID int64
	// DisplayName is the human-readable sender label, "Unknown" when unavailable.
	DisplayName string
}

// ReplyTarget describes the message an inbound event replies to, when present.
type ReplyTarget struct {
	// Kind is the replied-to message's payload classification.
	Kind MessageKind
	// AssetRef is the durable file reference of the replied-to attachment, if any.
	AssetRef string
}

// Event is the neutral envelope the transport driver publishes and the relay consumes.
//
// Payload fields are selected by Kind: message events carry Identity plus the
// kind-specific payload, delete events carry the ordered DeletedIDs batch, and
// command events carry only Text.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload fields are expected.
	Kind EventKind
	// OccurredAt is the platform timestamp for the event.
	OccurredAt time.Time
	// ConnectionID is the business-connection token the event arrived on.
	ConnectionID string
	// Identity is the composite (chat, message) key for message events.
	Identity Identity
	// Sender identifies who produced the message when available.
	Sender Sender
	// MessageKind classifies the retained payload for message events.
	MessageKind MessageKind
	// Text carries the message body (or the new text for edits, or the command line).
	Text string
	// AssetRef carries the durable media file reference for media kinds.
	AssetRef string
	// Caption carries the optional media caption.
	Caption string
	// ReplyTo describes the replied-to message, when the event is a reply.
	ReplyTo *ReplyTarget
	// DeletedIDs is the ordered message-id batch for delete events.
	DeletedIDs []int
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}

	return e.validatePayloadByKind()
}

// validatePayloadByKind enforces payload requirements for each event kind.
func (e *Event) validatePayloadByKind() error {
	switch e.Kind {
	case EventKindMessageReceived, EventKindMessageEdited:
		if e.ConnectionID == "" {
			return fmt.Errorf("%w: %s requires connection id", ErrInvalidEvent, e.Kind)
		}
		if err := e.Identity.Validate(); err != nil {
			return fmt.Errorf("%s: %w", e.Kind, err)
		}
		if e.MessageKind == "" {
			return fmt.Errorf("%w: %s requires message kind", ErrInvalidEvent, e.Kind)
		}
	case EventKindMessageDeleted:
		if e.Identity.ChatID == 0 {
			return fmt.Errorf("%w: %s requires chat id", ErrInvalidEvent, e.Kind)
		}
		if len(e.DeletedIDs) == 0 {
			return fmt.Errorf("%w: %s requires deleted message ids", ErrInvalidEvent, e.Kind)
		}
	case EventKindCommandReceived:
		if e.Sender.ID == 0 {
			return fmt.Errorf("%w: %s requires sender id", ErrInvalidEvent, e.Kind)
		}
		if e.Text == "" {
			return fmt.Errorf("%w: %s requires command text", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// Payload returns the kind-appropriate retained payload for this event.
// Text kinds retain the literal body; media kinds retain the durable file reference.
func (e *Event) Payload() string {
	if e.MessageKind == MessageKindText {
		return e.Text
	}

	return e.AssetRef
}
