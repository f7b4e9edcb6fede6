package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultUpdateBuffer = 1024

// updateEnvelope is one flattened update unit with its container timestamp.
type updateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	updateClass string
}

// UpdateChannel bridges the gotd update callback into a consumable stream.
// It also feeds the user peer cache from container entity data, which is the
// only place access hashes for business-chat participants appear.
type UpdateChannel struct {
	peers   *UserPeerCache
	updates chan updateEnvelope
}

// NewUpdateChannel creates a stream bridge with a bounded buffer.
func NewUpdateChannel(peers *UserPeerCache, buffer int) (*UpdateChannel, error) {
	if peers == nil {
		return nil, fmt.Errorf("new update channel: nil peer cache")
	}
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}

	return &UpdateChannel{
		peers:   peers,
		updates: make(chan updateEnvelope, buffer),
	}, nil
}

// Updates returns the active stream channel.
func (c *UpdateChannel) Updates(ctx context.Context) (<-chan updateEnvelope, error) {
	if ctx == nil {
		return nil, fmt.Errorf("update channel: nil context")
	}
	if c.updates == nil {
		return nil, fmt.Errorf("update channel: not initialized")
	}

	return c.updates, nil
}

// Handle flattens gotd update containers and forwards each unit downstream.
// It implements telegram.UpdateHandler for the gotd client.
func (c *UpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := c.flatten(updates)
	if err != nil {
		return fmt.Errorf("handle updates: %w", err)
	}

	for _, item := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle updates publish: %w", ctx.Err())
		case c.updates <- item:
		}
	}

	return nil
}

func (c *UpdateChannel) flatten(updates tg.UpdatesClass) ([]updateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten updates: nil container")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		c.peers.RememberUsers(typed.Users)
		return envelopesFrom(typed.Updates, typed.Date), nil
	case *tg.UpdatesCombined:
		c.peers.RememberUsers(typed.Users)
		return envelopesFrom(typed.Updates, typed.Date), nil
	case *tg.UpdateShort:
		return envelopesFrom([]tg.UpdateClass{typed.Update}, typed.Date), nil
	case *tg.UpdatesTooLong:
		// Gap recovery is the gotd update manager's job, not ours.
		return nil, nil
	default:
		return nil, nil
	}
}

func envelopesFrom(updates []tg.UpdateClass, date int) []updateEnvelope {
	occurredAt := intToTimeUTC(date)

	batch := make([]updateEnvelope, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			continue
		}
		batch = append(batch, updateEnvelope{
			update:      update,
			occurredAt:  occurredAt,
			updateClass: update.TypeName(),
		})
	}

	return batch
}

// intToTimeUTC converts a Telegram unix timestamp, zero staying zero.
func intToTimeUTC(date int) time.Time {
	if date <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(date), 0).UTC()
}
