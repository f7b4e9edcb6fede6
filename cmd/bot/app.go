package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shadowgram/internal/bus"
	"shadowgram/internal/capture"
	"shadowgram/internal/driver/telegram"
	"shadowgram/internal/notify"
	"shadowgram/internal/relay"
	"shadowgram/internal/shadowcache"
)

const (
	envConfigFile           = "SHADOWGRAM_CONFIG_FILE"
	envBotToken             = "SHADOWGRAM_BOT_TOKEN"
	defaultConfigFilePath   = "config/bot.json"
	alternateConfigFilePath = "bin/config/bot.json"
	defaultShutdownTimeout  = 10 * time.Second
)

type appConfig struct {
	logLevel    slog.Level
	botUsername string

	cacheMaxEntries int
	cacheTTL        time.Duration

	noticeInterval  time.Duration
	busBuffer       int
	handlerTimeout  time.Duration
	shutdownTimeout time.Duration

	telegram json.RawMessage
}

type fileConfig struct {
	LogLevel    string          `json:"log_level"`
	BotUsername string          `json:"bot_username"`
	Cache       fileCacheConfig `json:"cache"`
	Relay       fileRelayConfig `json:"relay"`
	Telegram    json.RawMessage `json:"telegram"`
}

type fileCacheConfig struct {
	MaxEntries *int   `json:"max_entries"`
	TTL        string `json:"ttl"`
}

type fileRelayConfig struct {
	NoticeInterval  string `json:"notice_interval"`
	BusBuffer       *int   `json:"bus_buffer"`
	HandlerTimeout  string `json:"handler_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

func run() error {
	// A local .env is a development convenience; its absence is not an error.
	_ = godotenv.Load()

	botToken := strings.TrimSpace(os.Getenv(envBotToken))
	if botToken == "" {
		return fmt.Errorf("%s is required", envBotToken)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	runtime, err := telegram.BuildRuntime(logger, cfg.telegram, botToken)
	if err != nil {
		return fmt.Errorf("build telegram runtime: %w", err)
	}

	relayService, err := buildRelayService(logger, cfg, runtime)
	if err != nil {
		return err
	}

	eventBus, err := bus.New(relayService.HandleEvent,
		bus.WithBuffer(cfg.busBuffer),
		bus.WithHandlerTimeout(cfg.handlerTimeout),
		bus.WithAsyncErrorFunc(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "event handling failed", "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("new event bus: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("shadowgram starting")
	runErr := runtime.Driver.Run(ctx, eventBus)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	if err := eventBus.Close(closeCtx); err != nil {
		logger.Warn("event bus shutdown incomplete", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run telegram driver: %w", runErr)
	}
	logger.Info("shadowgram stopped")

	return nil
}

// buildRelayService assembles the handler chain behind the bus: paced
// notifier, media capturer, shadow cache, and the relay service itself.
func buildRelayService(
	logger *slog.Logger,
	cfg appConfig,
	runtime *telegram.Runtime,
) (*relay.Service, error) {
	pacer, err := notify.New(runtime.Notifier, notify.WithInterval(cfg.noticeInterval))
	if err != nil {
		return nil, fmt.Errorf("new paced notifier: %w", err)
	}

	capturer, err := capture.New(runtime.Vault, pacer,
		capture.WithLogger(logger),
		capture.WithBotUsername(cfg.botUsername),
	)
	if err != nil {
		return nil, fmt.Errorf("new media capturer: %w", err)
	}

	cache := shadowcache.New(
		shadowcache.WithMaxEntries(cfg.cacheMaxEntries),
		shadowcache.WithTTL(cfg.cacheTTL),
	)

	relayService, err := relay.New(cache, runtime.Resolver, pacer, capturer,
		relay.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("new relay service: %w", err)
	}

	return relayService, nil
}

func loadConfig() (appConfig, error) {
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	cfg := defaultAppConfig()
	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if len(cfg.telegram) == 0 {
		return appConfig{}, fmt.Errorf("validate config file %s: telegram section is required", configFile)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:        slog.LevelInfo,
		noticeInterval:  notify.DefaultInterval,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	cfg.botUsername = strings.TrimSpace(parsed.BotUsername)

	if parsed.Cache.MaxEntries != nil {
		if *parsed.Cache.MaxEntries <= 0 {
			return fmt.Errorf("parse cache.max_entries: must be > 0")
		}
		cfg.cacheMaxEntries = *parsed.Cache.MaxEntries
	}
	if rawTTL := strings.TrimSpace(parsed.Cache.TTL); rawTTL != "" {
		ttl, err := parsePositiveDuration(rawTTL)
		if err != nil {
			return fmt.Errorf("parse cache.ttl: %w", err)
		}
		cfg.cacheTTL = ttl
	}

	if rawInterval := strings.TrimSpace(parsed.Relay.NoticeInterval); rawInterval != "" {
		interval, err := parsePositiveDuration(rawInterval)
		if err != nil {
			return fmt.Errorf("parse relay.notice_interval: %w", err)
		}
		cfg.noticeInterval = interval
	}
	if parsed.Relay.BusBuffer != nil {
		if *parsed.Relay.BusBuffer <= 0 {
			return fmt.Errorf("parse relay.bus_buffer: must be > 0")
		}
		cfg.busBuffer = *parsed.Relay.BusBuffer
	}
	if rawTimeout := strings.TrimSpace(parsed.Relay.HandlerTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse relay.handler_timeout: %w", err)
		}
		cfg.handlerTimeout = timeout
	}
	if rawTimeout := strings.TrimSpace(parsed.Relay.ShutdownTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse relay.shutdown_timeout: %w", err)
		}
		cfg.shutdownTimeout = timeout
	}

	cfg.telegram = append(json.RawMessage(nil), parsed.Telegram...)

	return nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}

	return parsed, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
