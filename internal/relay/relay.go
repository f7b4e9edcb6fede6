// Package relay classifies inbound business events and reconciles them
// against the shadow cache: new messages are remembered, edits are diffed
// against the retained payload, deletions consume the record exactly once and
// notify the account owner with its last known content.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shadowgram/internal/capture"
	"shadowgram/pkg/shadowgram"
)

// MediaCapturer saves a self-expiring replied-to attachment for the owner.
type MediaCapturer interface {
	Capture(ctx context.Context, ownerID int64, target shadowgram.ReplyTarget) error
}

// Option mutates relay service configuration.
type Option func(*Service)

// WithLogger injects structured logging.
func WithLogger(logger *slog.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// withClock injects a deterministic clock for tests.
func withClock(clock func() time.Time) Option {
	return func(service *Service) {
		if clock != nil {
			service.clock = clock
		}
	}
}

// Service is the per-event entry point of the relay.
type Service struct {
	cache    shadowgram.ShadowCache
	resolver shadowgram.OwnerResolver
	notifier shadowgram.Notifier
	capturer MediaCapturer
	logger   *slog.Logger
	clock    func() time.Time
}

// New creates the relay service around its collaborators.
func New(
	cache shadowgram.ShadowCache,
	resolver shadowgram.OwnerResolver,
	notifier shadowgram.Notifier,
	capturer MediaCapturer,
	options ...Option,
) (*Service, error) {
	if cache == nil {
		return nil, fmt.Errorf("new relay: nil shadow cache")
	}
	if resolver == nil {
		return nil, fmt.Errorf("new relay: nil owner resolver")
	}
	if notifier == nil {
		return nil, fmt.Errorf("new relay: nil notifier")
	}
	if capturer == nil {
		return nil, fmt.Errorf("new relay: nil media capturer")
	}

	service := &Service{
		cache:    cache,
		resolver: resolver,
		notifier: notifier,
		capturer: capturer,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, option := range options {
		option(service)
	}

	return service, nil
}

// HandleEvent dispatches one inbound event through the classifier.
//
// Failures are scoped to the event: an error return is logged by the bus and
// never affects cache state for other identities.
func (s *Service) HandleEvent(ctx context.Context, event *shadowgram.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("relay handle event: %w", err)
	}

	switch event.Kind {
	case shadowgram.EventKindMessageReceived:
		return s.OnMessage(ctx, event)
	case shadowgram.EventKindMessageEdited:
		return s.OnEdited(ctx, event)
	case shadowgram.EventKindMessageDeleted:
		return s.OnDeletedBatch(ctx, event.Identity.ChatID, event.DeletedIDs)
	case shadowgram.EventKindCommandReceived:
		return s.OnCommand(ctx, event)
	default:
		return fmt.Errorf("relay handle event: unsupported kind %q", event.Kind)
	}
}

// OnMessage classifies a send-type event: an owner reply pointing at a
// self-expiring attachment routes to media capture and is never cached;
// everything else becomes a shadow record.
func (s *Service) OnMessage(ctx context.Context, event *shadowgram.Event) error {
	ownerID, err := s.resolveOwner(ctx, event)
	if err != nil {
		return err
	}

	if target, ok := captureTarget(event, ownerID); ok {
		if err := s.capturer.Capture(ctx, ownerID, target); err != nil {
			// Already contained and logged by the capturer; surfaced for
			// bus-level accounting only.
			return fmt.Errorf("relay message %s: %w", event.Identity, err)
		}
		return nil
	}

	record, err := shadowgram.NewRecordFromEvent(event)
	if err != nil {
		return fmt.Errorf("relay message %s: %w", event.Identity, err)
	}
	record.OwnerID = ownerID
	s.cache.Put(record)

	s.logger.DebugContext(ctx,
		"message shadowed",
		"identity", event.Identity.String(),
		"kind", event.MessageKind,
	)

	return nil
}

// OnEdited reconciles a text edit: the retained payload is swapped in place
// and the owner is notified with the old and new text. Self-edits swap the
// payload but are never reported. An edit with no prior record becomes a
// first observation with a "no prior text" notice. Only text payloads move
// through the edit transition; media records keep their original reference
// until deleted.
func (s *Service) OnEdited(ctx context.Context, event *shadowgram.Event) error {
	if event.MessageKind != shadowgram.MessageKindText {
		s.logger.DebugContext(ctx,
			"non-text edit ignored",
			"identity", event.Identity.String(),
			"kind", event.MessageKind,
		)
		return nil
	}

	ownerID, err := s.resolveOwner(ctx, event)
	if err != nil {
		return err
	}

	fresh, err := shadowgram.NewRecordFromEvent(event)
	if err != nil {
		return fmt.Errorf("relay edit %s: %w", event.Identity, err)
	}
	fresh.OwnerID = ownerID

	oldPayload, existed := s.cache.UpdateOnEdit(event.Identity, fresh)

	if event.Sender.ID == ownerID {
		// The owner's own edits are not reported, but the payload swap above
		// already happened so later diffs stay correct.
		return nil
	}

	var body string
	if existed {
		edit := shadowgram.NewRecentEdit(event, oldPayload, s.clock())
		body = renderEdited(event.Sender, edit)
	} else {
		body = renderEditedNoPrior(event.Sender, event.Text)
	}

	if err := s.deliverText(ctx, ownerID, body); err != nil {
		return fmt.Errorf("relay edit %s: %w", event.Identity, err)
	}

	return nil
}

// OnDeletedBatch consumes each deleted message id independently, in the
// order the platform delivered them. A cache miss is a silent no-op.
func (s *Service) OnDeletedBatch(ctx context.Context, chatID int64, messageIDs []int) error {
	var deliverErrs []error
	for _, messageID := range messageIDs {
		identity := shadowgram.Identity{ChatID: chatID, MessageID: messageID}

		record, found := s.cache.TakeOnDelete(identity)
		if !found {
			continue
		}

		if err := s.notifyDeleted(ctx, record); err != nil {
			s.logger.ErrorContext(ctx,
				"deletion notice failed",
				"identity", identity.String(),
				"error", err,
			)
			deliverErrs = append(deliverErrs, err)
			continue
		}

		s.logger.InfoContext(ctx,
			"deletion notice sent",
			"identity", identity.String(),
			"kind", record.Kind,
		)
	}

	if len(deliverErrs) > 0 {
		return fmt.Errorf("relay delete batch chat %d: %w", chatID, errors.Join(deliverErrs...))
	}

	return nil
}

// OnCommand answers direct /start and /help commands.
func (s *Service) OnCommand(ctx context.Context, event *shadowgram.Event) error {
	command := strings.ToLower(strings.TrimSpace(event.Text))
	if mention := strings.Index(command, "@"); mention >= 0 {
		command = command[:mention]
	}

	var body string
	switch command {
	case "/start":
		body = startReply
	case "/help":
		body = helpReply
	default:
		return nil
	}

	if err := s.deliverText(ctx, event.Sender.ID, body); err != nil {
		return fmt.Errorf("relay command %s: %w", command, err)
	}

	return nil
}

// resolveOwner resolves the account owner for the event's connection; a
// failure drops this event only.
func (s *Service) resolveOwner(ctx context.Context, event *shadowgram.Event) (int64, error) {
	ownerID, err := s.resolver.ResolveOwner(ctx, event.ConnectionID)
	if err != nil {
		s.logger.ErrorContext(ctx,
			"owner resolution failed",
			"connection_id", event.ConnectionID,
			"identity", event.Identity.String(),
			"error", err,
		)
		return 0, fmt.Errorf("relay resolve owner: %w", err)
	}

	return ownerID, nil
}

// notifyDeleted renders the kind-specific deletion notice for a consumed
// record: text records become an HTML message, media records are re-sent by
// their durable reference with a caption.
func (s *Service) notifyDeleted(ctx context.Context, record shadowgram.ShadowRecord) error {
	if record.Kind == shadowgram.MessageKindText {
		return s.deliverText(ctx, record.OwnerID, renderDeletedText(record))
	}

	notice := shadowgram.OutboundNotice{
		OwnerID:  record.OwnerID,
		Kind:     record.Kind,
		Body:     renderDeletedMedia(record),
		AssetRef: record.Payload,
	}

	return s.notifier.Deliver(ctx, notice)
}

func (s *Service) deliverText(ctx context.Context, ownerID int64, body string) error {
	return s.notifier.Deliver(ctx, shadowgram.OutboundNotice{
		OwnerID: ownerID,
		Kind:    shadowgram.MessageKindText,
		Body:    body,
	})
}

// captureTarget reports whether a send-type event is the owner's own reply
// to a self-expiring media attachment.
func captureTarget(event *shadowgram.Event, ownerID int64) (shadowgram.ReplyTarget, bool) {
	if event.ReplyTo == nil {
		return shadowgram.ReplyTarget{}, false
	}
	if event.Sender.ID != ownerID {
		return shadowgram.ReplyTarget{}, false
	}
	if event.ReplyTo.Kind == shadowgram.MessageKindText || event.ReplyTo.AssetRef == "" {
		return shadowgram.ReplyTarget{}, false
	}
	if !capture.IsSelfExpiring(event.ReplyTo.AssetRef) {
		return shadowgram.ReplyTarget{}, false
	}

	return *event.ReplyTo, true
}
