package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"shadowgram/internal/capture"
	"shadowgram/pkg/shadowgram"
)

func newTestMapper(t *testing.T) (*Mapper, *UserPeerCache) {
	t.Helper()

	peers := NewUserPeerCache()
	peers.RememberUsers([]tg.UserClass{
		&tg.User{ID: 42, AccessHash: 4242, FirstName: "Alice", LastName: "Smith"},
		&tg.User{ID: 900, AccessHash: 9009, FirstName: "Owner"},
	})

	mapper, err := NewMapper(peers)
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}

	return mapper, peers
}

func businessTextMessage(messageID int, text string) *tg.Message {
	message := &tg.Message{
		ID:      messageID,
		PeerID:  &tg.PeerUser{UserID: 100},
		Date:    1700000000,
		Message: text,
	}
	message.SetFromID(&tg.PeerUser{UserID: 42})

	return message
}

func envelopeFor(update tg.UpdateClass) updateEnvelope {
	return updateEnvelope{
		update:      update,
		occurredAt:  time.Unix(1700000000, 0).UTC(),
		updateClass: update.TypeName(),
	}
}

func TestMapNewBusinessTextMessage(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)
	update := &tg.UpdateBotNewBusinessMessage{
		ConnectionID: "conn-1",
		Message:      businessTextMessage(7, "hello"),
	}

	event, accepted, err := mapper.Map(context.Background(), envelopeFor(update))
	if err != nil || !accepted {
		t.Fatalf("map: accepted=%v err=%v", accepted, err)
	}

	if event.Kind != shadowgram.EventKindMessageReceived {
		t.Fatalf("kind = %s", event.Kind)
	}
	if event.Identity != (shadowgram.Identity{ChatID: 100, MessageID: 7}) {
		t.Fatalf("identity = %+v", event.Identity)
	}
	if event.ConnectionID != "conn-1" || event.Text != "hello" {
		t.Fatalf("event = %+v", event)
	}
	if event.Sender.ID != 42 || event.Sender.DisplayName != "Alice Smith" {
		t.Fatalf("sender = %+v, want cached display name", event.Sender)
	}
	if event.MessageKind != shadowgram.MessageKindText {
		t.Fatalf("message kind = %s", event.MessageKind)
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("mapped event invalid: %v", err)
	}
}

func TestMapBusinessPhotoWithTTLYieldsExpiringRef(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)

	media := &tg.MessageMediaPhoto{}
	media.SetPhoto(&tg.Photo{
		ID:            1234,
		AccessHash:    5678,
		FileReference: []byte{9},
		Sizes: []tg.PhotoSizeClass{
			&tg.PhotoSize{Type: "m"},
			&tg.PhotoSize{Type: "y"},
		},
	})
	media.SetTTLSeconds(60)

	message := businessTextMessage(8, "look at this")
	message.SetMedia(media)

	update := &tg.UpdateBotNewBusinessMessage{ConnectionID: "conn-1", Message: message}
	event, accepted, err := mapper.Map(context.Background(), envelopeFor(update))
	if err != nil || !accepted {
		t.Fatalf("map: accepted=%v err=%v", accepted, err)
	}

	if event.MessageKind != shadowgram.MessageKindPhoto {
		t.Fatalf("message kind = %s", event.MessageKind)
	}
	if event.Caption != "look at this" || event.Text != "" {
		t.Fatalf("caption = %q text = %q", event.Caption, event.Text)
	}
	if !capture.IsSelfExpiring(event.AssetRef) {
		t.Fatalf("asset ref %q should be self-expiring", event.AssetRef)
	}

	kind, descriptor, err := decodeAssetRef(event.AssetRef)
	if err != nil || kind != shadowgram.MessageKindPhoto {
		t.Fatalf("decode ref: kind=%s err=%v", kind, err)
	}
	if descriptor.ID != 1234 || descriptor.ThumbSize != "y" {
		t.Fatalf("descriptor = %+v, want largest size slot", descriptor)
	}
}

func TestMapBusinessVoiceDocument(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)

	audio := &tg.DocumentAttributeAudio{}
	audio.SetVoice(true)
	media := &tg.MessageMediaDocument{}
	media.SetDocument(&tg.Document{
		ID:         777,
		AccessHash: 888,
		Attributes: []tg.DocumentAttributeClass{audio},
	})

	message := businessTextMessage(9, "")
	message.SetMedia(media)

	update := &tg.UpdateBotNewBusinessMessage{ConnectionID: "conn-1", Message: message}
	event, accepted, err := mapper.Map(context.Background(), envelopeFor(update))
	if err != nil || !accepted {
		t.Fatalf("map: accepted=%v err=%v", accepted, err)
	}

	if event.MessageKind != shadowgram.MessageKindVoice {
		t.Fatalf("message kind = %s", event.MessageKind)
	}
	if capture.IsSelfExpiring(event.AssetRef) {
		t.Fatalf("durable voice ref %q flagged as expiring", event.AssetRef)
	}
}

func TestMapEditBusinessMessage(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)
	update := &tg.UpdateBotEditBusinessMessage{
		ConnectionID: "conn-1",
		Message:      businessTextMessage(7, "revised"),
	}

	event, accepted, err := mapper.Map(context.Background(), envelopeFor(update))
	if err != nil || !accepted {
		t.Fatalf("map: accepted=%v err=%v", accepted, err)
	}
	if event.Kind != shadowgram.EventKindMessageEdited || event.Text != "revised" {
		t.Fatalf("event = %+v", event)
	}
}

func TestMapSkipsMediaEdits(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)

	media := &tg.MessageMediaPhoto{}
	media.SetPhoto(&tg.Photo{
		ID:         1234,
		AccessHash: 5678,
		Sizes:      []tg.PhotoSizeClass{&tg.PhotoSize{Type: "x"}},
	})
	message := businessTextMessage(8, "new caption")
	message.SetMedia(media)

	update := &tg.UpdateBotEditBusinessMessage{ConnectionID: "conn-1", Message: message}
	_, accepted, err := mapper.Map(context.Background(), envelopeFor(update))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if accepted {
		t.Fatal("media edit must be skipped; only text edits are relayed")
	}
}

func TestMapBusinessReplyTargetCarriesMediaRef(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)

	media := &tg.MessageMediaPhoto{}
	media.SetPhoto(&tg.Photo{ID: 1, AccessHash: 2, Sizes: []tg.PhotoSizeClass{&tg.PhotoSize{Type: "x"}}})
	media.SetTTLSeconds(30)
	replyTo := businessTextMessage(5, "")
	replyTo.SetMedia(media)

	update := &tg.UpdateBotNewBusinessMessage{
		ConnectionID: "conn-1",
		Message:      businessTextMessage(6, "saving"),
	}
	update.SetReplyToMessage(replyTo)

	event, accepted, err := mapper.Map(context.Background(), envelopeFor(update))
	if err != nil || !accepted {
		t.Fatalf("map: accepted=%v err=%v", accepted, err)
	}
	if event.ReplyTo == nil {
		t.Fatal("reply target missing")
	}
	if event.ReplyTo.Kind != shadowgram.MessageKindPhoto || !capture.IsSelfExpiring(event.ReplyTo.AssetRef) {
		t.Fatalf("reply target = %+v", event.ReplyTo)
	}
}

func TestMapBusinessDeleteBatchPreservesOrder(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)
	update := &tg.UpdateBotDeleteBusinessMessage{
		ConnectionID: "conn-1",
		Peer:         &tg.PeerUser{UserID: 100},
		Messages:     []int{3, 1, 2},
	}

	event, accepted, err := mapper.Map(context.Background(), envelopeFor(update))
	if err != nil || !accepted {
		t.Fatalf("map: accepted=%v err=%v", accepted, err)
	}
	if event.Kind != shadowgram.EventKindMessageDeleted {
		t.Fatalf("kind = %s", event.Kind)
	}
	if event.Identity.ChatID != 100 {
		t.Fatalf("chat id = %d", event.Identity.ChatID)
	}
	want := []int{3, 1, 2}
	for idx, messageID := range want {
		if event.DeletedIDs[idx] != messageID {
			t.Fatalf("deleted ids = %v, want %v", event.DeletedIDs, want)
		}
	}
}

func TestMapDirectCommand(t *testing.T) {
	t.Parallel()

	mapper, _ := newTestMapper(t)
	message := &tg.Message{
		ID:      11,
		PeerID:  &tg.PeerUser{UserID: 42},
		Date:    1700000000,
		Message: "/start",
	}
	message.SetFromID(&tg.PeerUser{UserID: 42})

	event, accepted, err := mapper.Map(context.Background(), envelopeFor(&tg.UpdateNewMessage{Message: message}))
	if err != nil || !accepted {
		t.Fatalf("map: accepted=%v err=%v", accepted, err)
	}
	if event.Kind != shadowgram.EventKindCommandReceived || event.Text != "/start" {
		t.Fatalf("event = %+v", event)
	}
	if event.Sender.ID != 42 {
		t.Fatalf("sender = %+v", event.Sender)
	}
}

func TestMapSkipsIrrelevantUpdates(t *testing.T) {
	t.Parallel()

	outgoing := &tg.Message{
		ID:      12,
		PeerID:  &tg.PeerUser{UserID: 42},
		Message: "/start",
		Out:     true,
	}
	ordinaryText := &tg.Message{
		ID:      13,
		PeerID:  &tg.PeerUser{UserID: 42},
		Message: "just chatting",
	}

	tests := []struct {
		name   string
		update tg.UpdateClass
	}{
		{name: "outgoing command echo", update: &tg.UpdateNewMessage{Message: outgoing}},
		{name: "non-command direct message", update: &tg.UpdateNewMessage{Message: ordinaryText}},
		{name: "unrelated update class", update: &tg.UpdateUserTyping{UserID: 42}},
		{name: "empty delete batch", update: &tg.UpdateBotDeleteBusinessMessage{ConnectionID: "conn-1", Peer: &tg.PeerUser{UserID: 1}}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			mapper, _ := newTestMapper(t)
			_, accepted, err := mapper.Map(context.Background(), envelopeFor(testCase.update))
			if err != nil {
				t.Fatalf("map: %v", err)
			}
			if accepted {
				t.Fatal("update should be skipped")
			}
		})
	}
}
