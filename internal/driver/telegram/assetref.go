package telegram

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"shadowgram/pkg/shadowgram"
)

// Asset references are self-describing string tokens: a two-character class
// prefix followed by a base64 payload carrying everything needed to re-send
// or re-download the file later. The prefix encodes both the payload kind and
// whether the file auto-destructs after viewing, so downstream code can
// classify a reference without decoding it.
var (
	durableAssetPrefixes = map[shadowgram.MessageKind]string{
		shadowgram.MessageKindPhoto:     "Ag",
		shadowgram.MessageKindVideo:     "BA",
		shadowgram.MessageKindVoice:     "Aw",
		shadowgram.MessageKindVideoNote: "DQ",
	}
	expiringAssetPrefixes = map[shadowgram.MessageKind]string{
		shadowgram.MessageKindPhoto:     "GA",
		shadowgram.MessageKindVideo:     "Fg",
		shadowgram.MessageKindVoice:     "Fw",
		shadowgram.MessageKindVideoNote: "GQ",
	}
)

const (
	assetMediaPhoto    = "photo"
	assetMediaDocument = "document"
)

// assetDescriptor carries the MTProto file coordinates behind one reference.
type assetDescriptor struct {
	Media         string `json:"m"`
	ID            int64  `json:"id"`
	AccessHash    int64  `json:"ah"`
	FileReference []byte `json:"fr,omitempty"`
	ThumbSize     string `json:"ts,omitempty"`
}

// encodeAssetRef renders the durable string token for a media payload.
func encodeAssetRef(
	kind shadowgram.MessageKind,
	selfExpiring bool,
	descriptor assetDescriptor,
) (string, error) {
	prefixes := durableAssetPrefixes
	if selfExpiring {
		prefixes = expiringAssetPrefixes
	}
	prefix, ok := prefixes[kind]
	if !ok {
		return "", fmt.Errorf("encode asset ref: unsupported kind %q", kind)
	}

	payload, err := json.Marshal(descriptor)
	if err != nil {
		return "", fmt.Errorf("encode asset ref: %w", err)
	}

	return prefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// decodeAssetRef parses a reference back into its kind and file coordinates.
func decodeAssetRef(assetRef string) (shadowgram.MessageKind, assetDescriptor, error) {
	if len(assetRef) < 3 {
		return "", assetDescriptor{}, fmt.Errorf("decode asset ref: too short")
	}

	prefix := assetRef[:2]
	kind, ok := kindForAssetPrefix(prefix)
	if !ok {
		return "", assetDescriptor{}, fmt.Errorf("decode asset ref: unknown prefix %q", prefix)
	}

	payload, err := base64.RawURLEncoding.DecodeString(assetRef[2:])
	if err != nil {
		return "", assetDescriptor{}, fmt.Errorf("decode asset ref payload: %w", err)
	}

	var descriptor assetDescriptor
	if err := json.Unmarshal(payload, &descriptor); err != nil {
		return "", assetDescriptor{}, fmt.Errorf("unmarshal asset ref payload: %w", err)
	}
	if descriptor.Media != assetMediaPhoto && descriptor.Media != assetMediaDocument {
		return "", assetDescriptor{}, fmt.Errorf("decode asset ref: unsupported media %q", descriptor.Media)
	}

	return kind, descriptor, nil
}

func kindForAssetPrefix(prefix string) (shadowgram.MessageKind, bool) {
	for kind, known := range durableAssetPrefixes {
		if known == prefix {
			return kind, true
		}
	}
	for kind, known := range expiringAssetPrefixes {
		if known == prefix {
			return kind, true
		}
	}

	return "", false
}

// fileExtensionForKind picks the local filename extension used when a
// reference is downloaded to disk.
func fileExtensionForKind(kind shadowgram.MessageKind) string {
	switch kind {
	case shadowgram.MessageKindPhoto:
		return ".jpg"
	case shadowgram.MessageKindVideo, shadowgram.MessageKindVideoNote:
		return ".mp4"
	case shadowgram.MessageKindVoice:
		return ".ogg"
	default:
		return ".bin"
	}
}

// subdirForKind groups downloads by payload family on disk.
func subdirForKind(kind shadowgram.MessageKind) string {
	switch kind {
	case shadowgram.MessageKindPhoto:
		return "photos"
	case shadowgram.MessageKindVideo, shadowgram.MessageKindVideoNote:
		return "videos"
	case shadowgram.MessageKindVoice:
		return "voices"
	default:
		return "files"
	}
}

// abbreviateAssetRef renders a reference for log output without dumping the
// whole payload.
func abbreviateAssetRef(assetRef string) string {
	if len(assetRef) <= 10 {
		return assetRef
	}

	return assetRef[:10] + "..."
}
