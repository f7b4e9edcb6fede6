package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"

	"shadowgram/pkg/shadowgram"
)

// Mapper converts raw business updates into neutral events.
//
// Updates the relay has no use for are skipped with accepted=false rather
// than reported as errors, so unsupported update classes never spam logs.
type Mapper struct {
	peers *UserPeerCache
}

// NewMapper creates the update mapper.
func NewMapper(peers *UserPeerCache) (*Mapper, error) {
	if peers == nil {
		return nil, fmt.Errorf("new mapper: nil peer cache")
	}

	return &Mapper{peers: peers}, nil
}

// Map converts one flattened update into a neutral event.
func (m *Mapper) Map(ctx context.Context, envelope updateEnvelope) (*shadowgram.Event, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("map update: %w", ctx.Err())
	default:
	}

	switch update := envelope.update.(type) {
	case *tg.UpdateBotNewBusinessMessage:
		replyTo, _ := update.GetReplyToMessage()
		return m.mapBusinessMessage(
			shadowgram.EventKindMessageReceived,
			update.ConnectionID,
			update.Message,
			replyTo,
			envelope.occurredAt,
		)
	case *tg.UpdateBotEditBusinessMessage:
		replyTo, _ := update.GetReplyToMessage()
		return m.mapBusinessMessage(
			shadowgram.EventKindMessageEdited,
			update.ConnectionID,
			update.Message,
			replyTo,
			envelope.occurredAt,
		)
	case *tg.UpdateBotDeleteBusinessMessage:
		return m.mapBusinessDelete(update, envelope.occurredAt)
	case *tg.UpdateNewMessage:
		return m.mapDirectCommand(update, envelope.occurredAt)
	default:
		return nil, false, nil
	}
}

// mapBusinessMessage maps a new or edited business-chat message.
func (m *Mapper) mapBusinessMessage(
	kind shadowgram.EventKind,
	connectionID string,
	messageClass tg.MessageClass,
	replyToClass tg.MessageClass,
	fallbackTime time.Time,
) (*shadowgram.Event, bool, error) {
	message, ok := messageClass.(*tg.Message)
	if !ok {
		return nil, false, nil
	}

	messageKind, assetRef, accepted, err := classifyPayload(message)
	if err != nil {
		return nil, false, fmt.Errorf("map business message %d: %w", message.ID, err)
	}
	if !accepted {
		return nil, false, nil
	}
	// Only text edits feed the edit flow; a recorded media payload is
	// immutable until the message is deleted.
	if kind == shadowgram.EventKindMessageEdited && messageKind != shadowgram.MessageKindText {
		return nil, false, nil
	}

	event := &shadowgram.Event{
		ID:           uuid.NewString(),
		Kind:         kind,
		OccurredAt:   messageTime(message.Date, fallbackTime),
		ConnectionID: connectionID,
		Identity: shadowgram.Identity{
			ChatID:    peerChatID(message.PeerID),
			MessageID: message.ID,
		},
		Sender:      m.senderOf(message),
		MessageKind: messageKind,
	}
	if messageKind == shadowgram.MessageKindText {
		event.Text = message.Message
	} else {
		event.AssetRef = assetRef
		event.Caption = message.Message
	}
	if target, ok := m.replyTargetOf(replyToClass); ok {
		event.ReplyTo = &target
	}

	return event, true, nil
}

// mapBusinessDelete maps a deletion batch, preserving platform order.
func (m *Mapper) mapBusinessDelete(
	update *tg.UpdateBotDeleteBusinessMessage,
	fallbackTime time.Time,
) (*shadowgram.Event, bool, error) {
	if len(update.Messages) == 0 {
		return nil, false, nil
	}

	occurredAt := fallbackTime
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &shadowgram.Event{
		ID:           uuid.NewString(),
		Kind:         shadowgram.EventKindMessageDeleted,
		OccurredAt:   occurredAt,
		ConnectionID: update.ConnectionID,
		Identity: shadowgram.Identity{
			ChatID: peerChatID(update.Peer),
		},
		DeletedIDs: append([]int(nil), update.Messages...),
	}, true, nil
}

// mapDirectCommand maps a private message to the bot carrying a slash command.
func (m *Mapper) mapDirectCommand(
	update *tg.UpdateNewMessage,
	fallbackTime time.Time,
) (*shadowgram.Event, bool, error) {
	message, ok := update.Message.(*tg.Message)
	if !ok {
		return nil, false, nil
	}
	if message.Out {
		return nil, false, nil
	}
	if _, isPrivate := message.PeerID.(*tg.PeerUser); !isPrivate {
		return nil, false, nil
	}
	if !strings.HasPrefix(strings.TrimSpace(message.Message), "/") {
		return nil, false, nil
	}

	return &shadowgram.Event{
		ID:         uuid.NewString(),
		Kind:       shadowgram.EventKindCommandReceived,
		OccurredAt: messageTime(message.Date, fallbackTime),
		Sender:     m.senderOf(message),
		Text:       strings.TrimSpace(message.Message),
	}, true, nil
}

// senderOf resolves the author of a message, labeled from the peer cache.
func (m *Mapper) senderOf(message *tg.Message) shadowgram.Sender {
	var senderID int64
	if fromID, ok := message.GetFromID(); ok {
		if peerUser, ok := fromID.(*tg.PeerUser); ok {
			senderID = peerUser.UserID
		}
	}
	if senderID == 0 {
		if peerUser, ok := message.PeerID.(*tg.PeerUser); ok {
			senderID = peerUser.UserID
		}
	}

	return shadowgram.Sender{
		ID:          senderID,
		DisplayName: m.peers.DisplayName(senderID),
	}
}

// replyTargetOf classifies the replied-to message when it carries media.
func (m *Mapper) replyTargetOf(replyToClass tg.MessageClass) (shadowgram.ReplyTarget, bool) {
	replyTo, ok := replyToClass.(*tg.Message)
	if !ok {
		return shadowgram.ReplyTarget{}, false
	}

	kind, assetRef, accepted, err := classifyPayload(replyTo)
	if err != nil || !accepted || kind == shadowgram.MessageKindText {
		return shadowgram.ReplyTarget{}, false
	}

	return shadowgram.ReplyTarget{
		Kind:     kind,
		AssetRef: assetRef,
	}, true
}

// classifyPayload derives the retained payload kind and media reference for
// one message. Messages whose media class is unsupported are not accepted.
func classifyPayload(message *tg.Message) (shadowgram.MessageKind, string, bool, error) {
	if message.Media == nil {
		if message.Message == "" {
			return "", "", false, nil
		}
		return shadowgram.MessageKindText, "", true, nil
	}

	switch media := message.Media.(type) {
	case *tg.MessageMediaPhoto:
		return classifyPhoto(media)
	case *tg.MessageMediaDocument:
		return classifyDocument(media)
	default:
		// Polls, locations, contacts and the rest have no payload worth
		// retaining; keep the text if any.
		if message.Message == "" {
			return "", "", false, nil
		}
		return shadowgram.MessageKindText, "", true, nil
	}
}

func classifyPhoto(media *tg.MessageMediaPhoto) (shadowgram.MessageKind, string, bool, error) {
	photo, ok := media.Photo.(*tg.Photo)
	if !ok {
		return "", "", false, nil
	}

	_, selfExpiring := media.GetTTLSeconds()
	assetRef, err := encodeAssetRef(shadowgram.MessageKindPhoto, selfExpiring, assetDescriptor{
		Media:         assetMediaPhoto,
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     largestPhotoSizeType(photo.Sizes),
	})
	if err != nil {
		return "", "", false, fmt.Errorf("classify photo: %w", err)
	}

	return shadowgram.MessageKindPhoto, assetRef, true, nil
}

func classifyDocument(media *tg.MessageMediaDocument) (shadowgram.MessageKind, string, bool, error) {
	document, ok := media.Document.(*tg.Document)
	if !ok {
		return "", "", false, nil
	}

	kind, ok := documentKind(document.Attributes)
	if !ok {
		return "", "", false, nil
	}

	_, selfExpiring := media.GetTTLSeconds()
	assetRef, err := encodeAssetRef(kind, selfExpiring, assetDescriptor{
		Media:         assetMediaDocument,
		ID:            document.ID,
		AccessHash:    document.AccessHash,
		FileReference: document.FileReference,
	})
	if err != nil {
		return "", "", false, fmt.Errorf("classify document: %w", err)
	}

	return kind, assetRef, true, nil
}

// documentKind inspects document attributes for the payload families the
// relay retains: videos, round video notes, and voice notes.
func documentKind(attributes []tg.DocumentAttributeClass) (shadowgram.MessageKind, bool) {
	for _, attribute := range attributes {
		switch typed := attribute.(type) {
		case *tg.DocumentAttributeVideo:
			if typed.RoundMessage {
				return shadowgram.MessageKindVideoNote, true
			}
			return shadowgram.MessageKindVideo, true
		case *tg.DocumentAttributeAudio:
			if typed.Voice {
				return shadowgram.MessageKindVoice, true
			}
		}
	}

	return "", false
}

// largestPhotoSizeType picks the size slot used for later downloads.
// Telegram orders sizes ascending, so the last concrete entry is the largest.
func largestPhotoSizeType(sizes []tg.PhotoSizeClass) string {
	selected := "x"
	for _, sizeClass := range sizes {
		switch typed := sizeClass.(type) {
		case *tg.PhotoSize:
			selected = typed.Type
		case *tg.PhotoSizeProgressive:
			selected = typed.Type
		}
	}

	return selected
}

func peerChatID(peer tg.PeerClass) int64 {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return typed.UserID
	case *tg.PeerChat:
		return typed.ChatID
	case *tg.PeerChannel:
		return typed.ChannelID
	default:
		return 0
	}
}

func messageTime(date int, fallback time.Time) time.Time {
	if occurredAt := intToTimeUTC(date); !occurredAt.IsZero() {
		return occurredAt
	}
	if !fallback.IsZero() {
		return fallback
	}

	return time.Now().UTC()
}
