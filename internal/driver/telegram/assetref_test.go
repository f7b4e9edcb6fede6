package telegram

import (
	"strings"
	"testing"

	"shadowgram/internal/capture"
	"shadowgram/pkg/shadowgram"
)

func TestAssetRefRoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		kind         shadowgram.MessageKind
		selfExpiring bool
		descriptor   assetDescriptor
	}{
		{
			name: "durable photo",
			kind: shadowgram.MessageKindPhoto,
			descriptor: assetDescriptor{
				Media:         assetMediaPhoto,
				ID:            111,
				AccessHash:    222,
				FileReference: []byte{1, 2, 3},
				ThumbSize:     "y",
			},
		},
		{
			name:         "expiring voice",
			kind:         shadowgram.MessageKindVoice,
			selfExpiring: true,
			descriptor: assetDescriptor{
				Media:      assetMediaDocument,
				ID:         333,
				AccessHash: 444,
			},
		},
		{
			name:         "expiring video note",
			kind:         shadowgram.MessageKindVideoNote,
			selfExpiring: true,
			descriptor: assetDescriptor{
				Media:      assetMediaDocument,
				ID:         555,
				AccessHash: 666,
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assetRef, err := encodeAssetRef(testCase.kind, testCase.selfExpiring, testCase.descriptor)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			gotKind, gotDescriptor, err := decodeAssetRef(assetRef)
			if err != nil {
				t.Fatalf("decode %q: %v", assetRef, err)
			}
			if gotKind != testCase.kind {
				t.Fatalf("kind = %s, want %s", gotKind, testCase.kind)
			}
			if gotDescriptor.ID != testCase.descriptor.ID ||
				gotDescriptor.AccessHash != testCase.descriptor.AccessHash ||
				gotDescriptor.Media != testCase.descriptor.Media {
				t.Fatalf("descriptor = %+v, want %+v", gotDescriptor, testCase.descriptor)
			}
		})
	}
}

func TestAssetRefExpiryClassification(t *testing.T) {
	t.Parallel()

	descriptor := assetDescriptor{Media: assetMediaPhoto, ID: 1, AccessHash: 2}
	for kind := range durableAssetPrefixes {
		if kind != shadowgram.MessageKindPhoto {
			descriptor.Media = assetMediaDocument
		}

		expiring, err := encodeAssetRef(kind, true, descriptor)
		if err != nil {
			t.Fatalf("encode expiring %s: %v", kind, err)
		}
		if !capture.IsSelfExpiring(expiring) {
			t.Fatalf("expiring %s ref %q not classified as self-expiring", kind, expiring)
		}

		durable, err := encodeAssetRef(kind, false, descriptor)
		if err != nil {
			t.Fatalf("encode durable %s: %v", kind, err)
		}
		if capture.IsSelfExpiring(durable) {
			t.Fatalf("durable %s ref %q classified as self-expiring", kind, durable)
		}
	}
}

func TestDecodeAssetRefRejectsGarbage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		assetRef string
	}{
		{name: "empty", assetRef: ""},
		{name: "too short", assetRef: "Ag"},
		{name: "unknown prefix", assetRef: "ZZeyJtIjoicGhvdG8ifQ"},
		{name: "bad payload", assetRef: "Ag%%%not-base64%%%"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, _, err := decodeAssetRef(testCase.assetRef); err == nil {
				t.Fatalf("decode %q: expected error", testCase.assetRef)
			}
		})
	}
}

func TestFileLayoutByKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind    shadowgram.MessageKind
		subdir  string
		wantExt string
	}{
		{kind: shadowgram.MessageKindPhoto, subdir: "photos", wantExt: ".jpg"},
		{kind: shadowgram.MessageKindVideo, subdir: "videos", wantExt: ".mp4"},
		{kind: shadowgram.MessageKindVideoNote, subdir: "videos", wantExt: ".mp4"},
		{kind: shadowgram.MessageKindVoice, subdir: "voices", wantExt: ".ogg"},
	}

	for _, testCase := range tests {
		if got := subdirForKind(testCase.kind); got != testCase.subdir {
			t.Fatalf("subdir for %s = %q, want %q", testCase.kind, got, testCase.subdir)
		}
		if got := fileExtensionForKind(testCase.kind); got != testCase.wantExt {
			t.Fatalf("extension for %s = %q, want %q", testCase.kind, got, testCase.wantExt)
		}
	}
}

func TestAbbreviateAssetRef(t *testing.T) {
	t.Parallel()

	if got := abbreviateAssetRef("short"); got != "short" {
		t.Fatalf("short ref = %q", got)
	}
	long := strings.Repeat("A", 64)
	if got := abbreviateAssetRef(long); len(got) >= len(long) {
		t.Fatalf("long ref not abbreviated: %q", got)
	}
}
