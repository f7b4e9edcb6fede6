package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"shadowgram/pkg/shadowgram"
)

const defaultOutboundTimeout = 30 * time.Second

// OutboundOption mutates notifier configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout bounds each outbound RPC call. Media uploads count
// against the same bound.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
}

// Notifier delivers owner notices over Telegram RPC.
type Notifier struct {
	cfg   outboundConfig
	peers *UserPeerCache
	rpc   outboundRPC
}

// NewNotifier creates a Telegram notifier using gotd client APIs.
func NewNotifier(
	client *gotdtelegram.Client,
	peers *UserPeerCache,
	options ...OutboundOption,
) (*Notifier, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram notifier: nil client")
	}

	return newNotifierWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newNotifierWithRPC(
	rpc outboundRPC,
	peers *UserPeerCache,
	options ...OutboundOption,
) (*Notifier, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram notifier: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram notifier: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Notifier{
		cfg:   cfg,
		peers: peers,
		rpc:   rpc,
	}, nil
}

// Deliver sends one notice to its owner: plain HTML text, a re-send of an
// existing file by reference, or an upload of a locally captured file.
func (n *Notifier) Deliver(ctx context.Context, notice shadowgram.OutboundNotice) error {
	if err := notice.Validate(); err != nil {
		return fmt.Errorf("deliver notice: %w", err)
	}

	peer, err := n.peers.Resolve(notice.OwnerID)
	if err != nil {
		return fmt.Errorf("deliver notice: %w", err)
	}

	rpcCtx, cancel := n.withTimeout(ctx)
	defer cancel()

	switch {
	case notice.Kind == shadowgram.MessageKindText:
		err = n.rpc.SendHTML(rpcCtx, &peer, notice.Body)
	case notice.LocalPath != "":
		err = n.rpc.SendLocalFile(rpcCtx, &peer, notice.Kind, notice.LocalPath, notice.Body)
	default:
		err = n.sendByReference(rpcCtx, &peer, notice)
	}
	if err != nil {
		return fmt.Errorf("deliver %s notice to %d: %w", notice.Kind, notice.OwnerID, err)
	}

	n.logOutbound(ctx, notice)

	return nil
}

func (n *Notifier) sendByReference(
	ctx context.Context,
	peer tg.InputPeerClass,
	notice shadowgram.OutboundNotice,
) error {
	kind, descriptor, err := decodeAssetRef(notice.AssetRef)
	if err != nil {
		return fmt.Errorf("send by reference: %w", err)
	}
	if kind != notice.Kind {
		return fmt.Errorf("send by reference: ref kind %s does not match notice kind %s", kind, notice.Kind)
	}

	return n.rpc.SendMediaByRef(ctx, peer, descriptor, notice.Body)
}

func (n *Notifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, n.cfg.rpcTimeout)
}

func (n *Notifier) logOutbound(ctx context.Context, notice shadowgram.OutboundNotice) {
	if n.cfg.logger == nil {
		return
	}

	n.cfg.logger.InfoContext(ctx,
		"owner notice delivered",
		"owner_id", notice.OwnerID,
		"kind", notice.Kind,
		"asset_ref", abbreviateAssetRef(notice.AssetRef),
		"local_path", notice.LocalPath,
	)
}

// outboundRPC is the transport seam behind the notifier.
type outboundRPC interface {
	SendHTML(ctx context.Context, peer tg.InputPeerClass, body string) error
	SendMediaByRef(ctx context.Context, peer tg.InputPeerClass, descriptor assetDescriptor, captionHTML string) error
	SendLocalFile(ctx context.Context, peer tg.InputPeerClass, kind shadowgram.MessageKind, path, captionHTML string) error
}

type gotdOutboundRPC struct {
	raw    *tg.Client
	sender *message.Sender
	upload *uploader.Uploader
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	raw := client.API()

	return gotdOutboundRPC{
		raw:    raw,
		sender: message.NewSender(raw),
		upload: uploader.NewUploader(raw),
	}
}

func (r gotdOutboundRPC) SendHTML(ctx context.Context, peer tg.InputPeerClass, body string) error {
	if _, err := r.sender.To(peer).StyledText(ctx, html.String(nil, body)); err != nil {
		return fmt.Errorf("send html text: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) SendMediaByRef(
	ctx context.Context,
	peer tg.InputPeerClass,
	descriptor assetDescriptor,
	captionHTML string,
) error {
	var media tg.InputMediaClass
	switch descriptor.Media {
	case assetMediaPhoto:
		media = &tg.InputMediaPhoto{
			ID: &tg.InputPhoto{
				ID:            descriptor.ID,
				AccessHash:    descriptor.AccessHash,
				FileReference: descriptor.FileReference,
			},
		}
	case assetMediaDocument:
		media = &tg.InputMediaDocument{
			ID: &tg.InputDocument{
				ID:            descriptor.ID,
				AccessHash:    descriptor.AccessHash,
				FileReference: descriptor.FileReference,
			},
		}
	default:
		return fmt.Errorf("send media by ref: unsupported media %q", descriptor.Media)
	}

	if _, err := r.sender.To(peer).Media(ctx, message.Media(media, html.String(nil, captionHTML))); err != nil {
		return fmt.Errorf("send media by ref: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) SendLocalFile(
	ctx context.Context,
	peer tg.InputPeerClass,
	kind shadowgram.MessageKind,
	path string,
	captionHTML string,
) error {
	file, err := r.upload.FromPath(ctx, path)
	if err != nil {
		return fmt.Errorf("upload local file %s: %w", path, err)
	}

	option, err := uploadedMediaOption(kind, file, path, captionHTML)
	if err != nil {
		return fmt.Errorf("send local file %s: %w", path, err)
	}

	if _, err := r.sender.To(peer).Media(ctx, option); err != nil {
		return fmt.Errorf("send local file %s: %w", path, err)
	}

	return nil
}

// uploadedMediaOption picks the upload wrapper matching the payload kind, so
// photos stay photos and voice notes keep their round/voice flags.
func uploadedMediaOption(
	kind shadowgram.MessageKind,
	file tg.InputFileClass,
	path string,
	captionHTML string,
) (message.MediaOption, error) {
	caption := html.String(nil, captionHTML)

	switch kind {
	case shadowgram.MessageKindPhoto:
		return message.UploadedPhoto(file, caption), nil
	case shadowgram.MessageKindVideo:
		return message.UploadedDocument(file, caption).
			MIME("video/mp4").
			Filename(filepath.Base(path)).
			Attributes(&tg.DocumentAttributeVideo{SupportsStreaming: true}), nil
	case shadowgram.MessageKindVideoNote:
		return message.UploadedDocument(file, caption).
			MIME("video/mp4").
			Attributes(&tg.DocumentAttributeVideo{RoundMessage: true}), nil
	case shadowgram.MessageKindVoice:
		return message.UploadedDocument(file, caption).
			MIME("audio/ogg").
			Attributes(&tg.DocumentAttributeAudio{Voice: true}), nil
	default:
		return nil, fmt.Errorf("unsupported upload kind %q", kind)
	}
}

var _ shadowgram.Notifier = (*Notifier)(nil)
