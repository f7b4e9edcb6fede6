package capture

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shadowgram/pkg/shadowgram"
)

type vaultStub struct {
	downloadPath string
	downloadErr  error
	removed      []string
	removeErr    error
}

func (v *vaultStub) Download(_ context.Context, _ string, _ shadowgram.MessageKind) (string, error) {
	if v.downloadErr != nil {
		return "", v.downloadErr
	}

	return v.downloadPath, nil
}

func (v *vaultStub) Remove(path string) error {
	v.removed = append(v.removed, path)

	return v.removeErr
}

type notifierStub struct {
	notices    []shadowgram.OutboundNotice
	deliverErr error
}

func (n *notifierStub) Deliver(_ context.Context, notice shadowgram.OutboundNotice) error {
	n.notices = append(n.notices, notice)
	if n.deliverErr != nil && notice.LocalPath != "" {
		return n.deliverErr
	}

	return nil
}

func TestIsSelfExpiring(t *testing.T) {
	tests := []struct {
		name     string
		assetRef string
		want     bool
	}{
		{name: "GA marker", assetRef: "GAxxyyzz", want: true},
		{name: "Fg marker", assetRef: "FgQQ", want: true},
		{name: "Fw marker", assetRef: "Fw123", want: true},
		{name: "GQ marker", assetRef: "GQabc", want: true},
		{name: "ordinary photo ref", assetRef: "AgACAgIAAx", want: false},
		{name: "marker not at prefix", assetRef: "xxGA", want: false},
		{name: "empty ref", assetRef: "", want: false},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := IsSelfExpiring(testCase.assetRef); got != testCase.want {
				t.Fatalf("IsSelfExpiring(%q) = %v, want %v", testCase.assetRef, got, testCase.want)
			}
		})
	}
}

func TestCaptureRelaysAndCleansUp(t *testing.T) {
	t.Parallel()

	vault := &vaultStub{downloadPath: "/tmp/voices/file_1.ogg"}
	notifier := &notifierStub{}
	capturer, err := New(vault, notifier, WithBotUsername("@shadowgram_bot"))
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}

	target := shadowgram.ReplyTarget{Kind: shadowgram.MessageKindVoice, AssetRef: "GAvoice"}
	if err := capturer.Capture(context.Background(), 900, target); err != nil {
		t.Fatalf("capture: %v", err)
	}

	if len(notifier.notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(notifier.notices))
	}
	notice := notifier.notices[0]
	if notice.LocalPath != vault.downloadPath {
		t.Fatalf("local path = %q, want %q", notice.LocalPath, vault.downloadPath)
	}
	if notice.Kind != shadowgram.MessageKindVoice || notice.OwnerID != 900 {
		t.Fatalf("notice = %+v", notice)
	}
	if !strings.Contains(notice.Body, "@shadowgram_bot") {
		t.Fatalf("annotation = %q, want bot handle", notice.Body)
	}
	if len(vault.removed) != 1 || vault.removed[0] != vault.downloadPath {
		t.Fatalf("removed = %v, want downloaded file released", vault.removed)
	}
}

func TestCaptureCleansUpWhenRelayFails(t *testing.T) {
	t.Parallel()

	vault := &vaultStub{downloadPath: "/tmp/photos/file_2.jpg"}
	notifier := &notifierStub{deliverErr: errors.New("send failed")}
	capturer, err := New(vault, notifier)
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}

	target := shadowgram.ReplyTarget{Kind: shadowgram.MessageKindPhoto, AssetRef: "Fgphoto"}
	captureErr := capturer.Capture(context.Background(), 900, target)
	if captureErr == nil {
		t.Fatal("expected wrapped relay error")
	}

	if len(vault.removed) != 1 {
		t.Fatalf("removed = %v, want cleanup even on failed send", vault.removed)
	}

	// Last notice is the best-effort failure text to the owner.
	last := notifier.notices[len(notifier.notices)-1]
	if last.Kind != shadowgram.MessageKindText || !strings.Contains(last.Body, "could not save") {
		t.Fatalf("failure notice = %+v", last)
	}
}

func TestCaptureDownloadFailureSkipsRemove(t *testing.T) {
	t.Parallel()

	vault := &vaultStub{downloadErr: errors.New("network")}
	notifier := &notifierStub{}
	capturer, err := New(vault, notifier)
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}

	target := shadowgram.ReplyTarget{Kind: shadowgram.MessageKindVideo, AssetRef: "GQvideo"}
	if err := capturer.Capture(context.Background(), 900, target); err == nil {
		t.Fatal("expected download error")
	}

	if len(vault.removed) != 0 {
		t.Fatalf("removed = %v, nothing was downloaded", vault.removed)
	}
	if len(notifier.notices) != 1 || notifier.notices[0].Kind != shadowgram.MessageKindText {
		t.Fatalf("notices = %+v, want only the failure text", notifier.notices)
	}
}

func TestCaptureRejectsEmptyAssetRef(t *testing.T) {
	t.Parallel()

	vault := &vaultStub{downloadPath: "/tmp/x"}
	notifier := &notifierStub{}
	capturer, err := New(vault, notifier)
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}

	target := shadowgram.ReplyTarget{Kind: shadowgram.MessageKindPhoto}
	if err := capturer.Capture(context.Background(), 900, target); err == nil {
		t.Fatal("expected error for missing asset ref")
	}
}

func TestNewCapturerValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &notifierStub{}); err == nil {
		t.Fatal("expected error for nil vault")
	}
	if _, err := New(&vaultStub{}, nil); err == nil {
		t.Fatal("expected error for nil notifier")
	}
}
