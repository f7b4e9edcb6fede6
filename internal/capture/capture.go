// Package capture saves self-expiring media attachments for the account
// owner before the platform destroys them.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"shadowgram/pkg/shadowgram"
)

// selfExpiringMarkers is the closed set of durable-identifier prefixes the
// platform assigns to media that auto-destructs after viewing.
var selfExpiringMarkers = []string{"GA", "Fg", "Fw", "GQ"}

// IsSelfExpiring reports whether an asset reference carries one of the
// reserved self-expiring marker prefixes.
func IsSelfExpiring(assetRef string) bool {
	for _, marker := range selfExpiringMarkers {
		if strings.HasPrefix(assetRef, marker) {
			return true
		}
	}

	return false
}

// Option mutates capturer configuration.
type Option func(*Capturer)

// WithLogger injects structured logging.
func WithLogger(logger *slog.Logger) Option {
	return func(capturer *Capturer) {
		if logger != nil {
			capturer.logger = logger
		}
	}
}

// WithBotUsername sets the handle named in the saved-copy annotation.
func WithBotUsername(username string) Option {
	return func(capturer *Capturer) {
		capturer.botUsername = strings.TrimPrefix(strings.TrimSpace(username), "@")
	}
}

// Capturer downloads a self-expiring attachment once, relays the copy to the
// owner, and releases the local file on every exit path.
type Capturer struct {
	vault       shadowgram.AssetVault
	notifier    shadowgram.Notifier
	logger      *slog.Logger
	botUsername string
}

// New creates a media capturer.
func New(vault shadowgram.AssetVault, notifier shadowgram.Notifier, options ...Option) (*Capturer, error) {
	if vault == nil {
		return nil, fmt.Errorf("new capturer: nil asset vault")
	}
	if notifier == nil {
		return nil, fmt.Errorf("new capturer: nil notifier")
	}

	capturer := &Capturer{
		vault:    vault,
		notifier: notifier,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(capturer)
	}

	return capturer, nil
}

// Capture saves the replied-to attachment for the owner.
//
// Failures are contained: the owner receives a best-effort error notice and
// the wrapped error is returned for logging, never re-raised into the event
// loop by callers. The downloaded file is removed unconditionally, including
// when the relay send fails.
func (c *Capturer) Capture(
	ctx context.Context,
	ownerID int64,
	target shadowgram.ReplyTarget,
) error {
	if err := c.capture(ctx, ownerID, target); err != nil {
		c.logger.ErrorContext(ctx,
			"media capture failed",
			"kind", target.Kind,
			"owner_id", ownerID,
			"error", err,
		)
		c.notifyCaptureFailure(ctx, ownerID, target.Kind)
		return fmt.Errorf("capture %s: %w", target.Kind, err)
	}

	return nil
}

func (c *Capturer) capture(
	ctx context.Context,
	ownerID int64,
	target shadowgram.ReplyTarget,
) error {
	if target.AssetRef == "" {
		return fmt.Errorf("missing asset ref")
	}

	localPath, err := c.vault.Download(ctx, target.AssetRef, target.Kind)
	if err != nil {
		return fmt.Errorf("download asset: %w", err)
	}
	defer func() {
		if removeErr := c.vault.Remove(localPath); removeErr != nil {
			c.logger.WarnContext(ctx,
				"remove captured file failed",
				"path", localPath,
				"error", removeErr,
			)
		}
	}()

	notice := shadowgram.OutboundNotice{
		OwnerID:   ownerID,
		Kind:      target.Kind,
		Body:      c.annotation(),
		LocalPath: localPath,
	}
	if err := c.notifier.Deliver(ctx, notice); err != nil {
		return fmt.Errorf("relay captured copy: %w", err)
	}

	c.logger.InfoContext(ctx,
		"self-expiring media saved",
		"kind", target.Kind,
		"owner_id", ownerID,
	)

	return nil
}

// annotation renders the HTML caption identifying which bot saved the copy.
func (c *Capturer) annotation() string {
	if c.botUsername == "" {
		return "<b>☝️ Saved before it expired</b>"
	}

	return fmt.Sprintf("<b>☝️ Saved via @%s</b>", c.botUsername)
}

// notifyCaptureFailure sends the best-effort error notice; its own failure is
// only logged.
func (c *Capturer) notifyCaptureFailure(ctx context.Context, ownerID int64, kind shadowgram.MessageKind) {
	notice := shadowgram.OutboundNotice{
		OwnerID: ownerID,
		Kind:    shadowgram.MessageKindText,
		Body:    fmt.Sprintf("Error: could not save the %s attachment.", kind),
	}
	if err := c.notifier.Deliver(ctx, notice); err != nil {
		c.logger.WarnContext(ctx,
			"capture failure notice undeliverable",
			"owner_id", ownerID,
			"error", err,
		)
	}
}
