package relay

import (
	"fmt"
	"html"

	"shadowgram/pkg/shadowgram"
)

// mediaNouns maps payload kinds to the noun used in deletion notices.
var mediaNouns = map[shadowgram.MessageKind]string{
	shadowgram.MessageKindPhoto:     "photo",
	shadowgram.MessageKindVideo:     "video",
	shadowgram.MessageKindVideoNote: "video",
	shadowgram.MessageKindVoice:     "voice message",
}

// senderLink renders a clickable HTML mention for a user id. An empty label
// falls back to the same "Unknown" normalization records use.
func senderLink(userID int64, displayName string) string {
	if displayName == "" {
		displayName = shadowgram.SenderUnknown
	}

	return fmt.Sprintf(
		"<a href='tg://user?id=%d'><b>%s</b></a>",
		userID,
		html.EscapeString(displayName),
	)
}

// renderDeletedText builds the owner notice for a consumed text record.
func renderDeletedText(record shadowgram.ShadowRecord) string {
	return fmt.Sprintf(
		"🗑 This message was deleted:\n\nSender: %s\nText: <blockquote><b>%s</b></blockquote>",
		senderLink(record.ChatID, record.SenderDisplayName),
		html.EscapeString(record.Payload),
	)
}

// renderDeletedMedia builds the caption for re-sending a consumed media
// record. The caption clause is omitted when the record carries no real note.
func renderDeletedMedia(record shadowgram.ShadowRecord) string {
	noun, ok := mediaNouns[record.Kind]
	if !ok {
		noun = "message"
	}

	caption := fmt.Sprintf(
		"🗑 This %s was deleted:\n\nSender: %s",
		noun,
		senderLink(record.ChatID, record.SenderDisplayName),
	)
	if record.HasNote() {
		caption += fmt.Sprintf(
			"\nWith caption: <code><b>%s</b></code>",
			html.EscapeString(record.Note),
		)
	}

	return caption
}

// renderEdited builds the owner notice carrying both old and new text.
func renderEdited(sender shadowgram.Sender, edit shadowgram.RecentEdit) string {
	return fmt.Sprintf(
		"🔏 %s edited a message:\n\n"+
			"Old text: <blockquote><b>%s</b></blockquote>\n"+
			"New text: <blockquote><b>%s</b></blockquote>",
		senderLink(sender.ID, sender.DisplayName),
		html.EscapeString(edit.OldText),
		html.EscapeString(edit.NewText),
	)
}

// renderEditedNoPrior builds the degenerate-edit notice when no prior text
// was cached.
func renderEditedNoPrior(sender shadowgram.Sender, newText string) string {
	return fmt.Sprintf(
		"🔏 %s edited a message, but the old text is not in the cache.\n\n"+
			"New text: <blockquote><b>%s</b></blockquote>",
		senderLink(sender.ID, sender.DisplayName),
		html.EscapeString(newText),
	)
}

// startReply greets a newly connected user.
const startReply = "Hi! I am a business bot that tracks deleted and edited messages. " +
	"Connect me under Telegram Business → Chatbots to start shadowing your chats. " +
	"Telegram Premium is required."

// helpReply lists supported commands and features.
const helpReply = "🔍 <b>Commands:</b>\n\n" +
	"/start - Start working with the bot\n" +
	"/help - Show this help message\n\n" +
	"🔔 <b>Features:</b>\n\n" +
	"- Tracks <b>deleted messages</b> and notifies you about them\n" +
	"- Remembers <b>edited messages</b> and shows the old and new versions\n" +
	"- Saves <b>self-destructing photos and videos</b>, including video notes and voice messages\n\n" +
	"Add the bot to your business account via Telegram Business Tools to use it."
