package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const (
	defaultSessionFile = ".cache/shadowgram/session.json"
	defaultMediaDir    = ".cache/shadowgram/media"
)

// RuntimeConfig is the JSON payload configuring the Telegram runtime.
// The bot token deliberately stays out of it and arrives separately from the
// environment.
type RuntimeConfig struct {
	AppID         int    `json:"app_id"`
	AppHash       string `json:"app_hash"`
	SessionFile   string `json:"session_file"`
	MediaDir      string `json:"media_dir"`
	UpdateBuffer  int    `json:"update_buffer"`
	RPCTimeout    string `json:"rpc_timeout"`
	ConnectionTTL string `json:"connection_ttl"`
}

type parsedRuntimeConfig struct {
	appID         int
	appHash       string
	sessionFile   string
	mediaDir      string
	updateBuffer  int
	rpcTimeout    time.Duration
	connectionTTL time.Duration
}

// Runtime bundles the live Telegram pieces the application wires together.
type Runtime struct {
	Driver   *Driver
	Notifier *Notifier
	Vault    *FileVault
	Resolver *ConnectionResolver
	Peers    *UserPeerCache
	Channel  *UpdateChannel
}

// BuildRuntime constructs the full Telegram runtime from a config payload
// and the bot token.
func BuildRuntime(
	logger *slog.Logger,
	rawConfig []byte,
	botToken string,
) (*Runtime, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if strings.TrimSpace(botToken) == "" {
		return nil, fmt.Errorf("build telegram runtime: empty bot token")
	}
	if logger == nil {
		logger = slog.Default()
	}

	peers := NewUserPeerCache()
	channel, err := NewUpdateChannel(peers, cfg.updateBuffer)
	if err != nil {
		return nil, fmt.Errorf("new update channel: %w", err)
	}

	sessionStorage, err := newSessionStorage(cfg.sessionFile)
	if err != nil {
		return nil, fmt.Errorf("new session storage: %w", err)
	}

	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  channel,
		SessionStorage: sessionStorage,
	})

	mapper, err := NewMapper(peers)
	if err != nil {
		return nil, fmt.Errorf("new mapper: %w", err)
	}

	driver, err := NewDriver(
		botSessionClient{
			client:   client,
			botToken: strings.TrimSpace(botToken),
			logger:   logger,
		},
		channel,
		mapper,
		WithDriverLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram driver: %w", err)
	}

	notifier, err := NewNotifier(client, peers,
		WithOutboundTimeout(cfg.rpcTimeout),
		WithOutboundLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram notifier: %w", err)
	}

	vault, err := NewFileVault(client, cfg.mediaDir)
	if err != nil {
		return nil, fmt.Errorf("new file vault: %w", err)
	}

	resolver, err := NewConnectionResolver(client.API(), peers,
		WithConnectionTTL(cfg.connectionTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("new connection resolver: %w", err)
	}

	return &Runtime{
		Driver:   driver,
		Notifier: notifier,
		Vault:    vault,
		Resolver: resolver,
		Peers:    peers,
		Channel:  channel,
	}, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed RuntimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:        parsed.AppID,
		appHash:      strings.TrimSpace(parsed.AppHash),
		sessionFile:  strings.TrimSpace(parsed.SessionFile),
		mediaDir:     strings.TrimSpace(parsed.MediaDir),
		updateBuffer: parsed.UpdateBuffer,
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultSessionFile
	}
	if cfg.mediaDir == "" {
		cfg.mediaDir = defaultMediaDir
	}

	if timeout := strings.TrimSpace(parsed.RPCTimeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse rpc_timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse rpc_timeout: must be > 0")
		}
		cfg.rpcTimeout = parsedTimeout
	}
	if ttl := strings.TrimSpace(parsed.ConnectionTTL); ttl != "" {
		parsedTTL, err := time.ParseDuration(ttl)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse connection_ttl: %w", err)
		}
		if parsedTTL <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse connection_ttl: must be > 0")
		}
		cfg.connectionTTL = parsedTTL
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash is required")
	}

	return cfg, nil
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// botSessionClient authorizes with the bot token before handing control to
// the consume loop.
type botSessionClient struct {
	client   *gotdtelegram.Client
	botToken string
	logger   *slog.Logger
}

// Run executes the client lifecycle with bot authorization up front.
func (c botSessionClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return fmt.Errorf("run bot session: nil client")
	}
	if fn == nil {
		return fmt.Errorf("run bot session: nil callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		status, err := c.client.Auth().Status(runCtx)
		if err != nil {
			return fmt.Errorf("check auth status: %w", err)
		}
		if !status.Authorized {
			if _, err := c.client.Auth().Bot(runCtx, c.botToken); err != nil {
				return fmt.Errorf("authorize bot: %w", err)
			}
			c.logger.Info("telegram bot authorized")
		} else {
			c.logger.Info("telegram session restored from local storage")
		}

		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run session callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run bot session: %w", err)
	}

	return nil
}
