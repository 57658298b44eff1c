package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"sonet/internal/config"
	"sonet/internal/domain"
	"sonet/internal/hub"
	"sonet/internal/index"
	"sonet/internal/logging"
	"sonet/internal/metrics"
	"sonet/internal/push"
	"sonet/internal/services/keys"
	"sonet/internal/services/messaging"
	"sonet/internal/store"
)

// App gathers every long-lived component of the server.
type App struct {
	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Registry

	Hub       *hub.Hub
	Index     *index.Index
	Keys      *keys.Service
	Messaging *messaging.Service
	Notifier  domain.Notifier

	Chats    domain.ChatStore
	Messages domain.MessageStore
}

// New constructs the dependency graph from cfg. auth is the external
// identity predicate; a nil auth accepts any non-empty token (development
// only).
func New(cfg config.Config, auth domain.AuthFunc) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	met := metrics.New(cfg.Metrics.ServiceName)

	if err := os.MkdirAll(cfg.Store.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("store dir: %w", err)
	}

	// Stores.
	chatStore, err := store.NewChatFileStore(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}
	messageLog := store.NewMessageLog()
	ratchetStore := store.NewRatchetFileStore(cfg.Store.Dir, cfg.Store.Passphrase)
	groupStore := store.NewGroupFileStore(cfg.Store.Dir, cfg.Store.Passphrase)
	identityStore := store.NewIdentityFileStore(cfg.Store.Dir, cfg.Store.Passphrase)
	sessionKeys := store.NewSessionKeys()

	// Services.
	keySvc := keys.New(identityStore, sessionKeys)

	idxCfg := index.DefaultConfig()
	idxCfg.BatchInterval = cfg.Index.BatchInterval
	idxCfg.MaxBatchSize = cfg.Index.MaxBatchSize
	idxCfg.MaxPendingUpdates = cfg.Index.MaxPendingUpdates
	idxCfg.CacheTTL = cfg.Index.CacheTTL
	idxCfg.CacheMaxEntries = cfg.Index.CacheMaxEntries
	idxCfg.MinRelevanceScore = cfg.Index.MinRelevance
	idxCfg.RecencyHalfLife = cfg.Index.RecencyHalfLife
	idxCfg.EnableSemantic = cfg.Index.Semantic
	idxCfg.EnableStemming = cfg.Index.Stemming
	idx := index.New(idxCfg, logger, nil)

	var notifier domain.Notifier = push.Noop{}
	if cfg.Push.Enabled {
		rn, err := push.NewRedisNotifier(cfg.Push.RedisURL, cfg.Push.QueueTTL, logger)
		if err != nil {
			return nil, err
		}
		notifier = rn
	}

	if auth == nil {
		logger.Warn("no auth predicate configured; accepting any non-empty token")
		auth = func(ctx context.Context, uid domain.UserID, token string) bool {
			return uid != "" && token != ""
		}
	}

	hubCfg := hub.Config{
		AuthTimeout:         cfg.Hub.AuthTimeout,
		PingInterval:        cfg.Hub.PingInterval,
		PongTimeout:         cfg.Hub.PongTimeout,
		WriteTimeout:        cfg.Hub.WriteTimeout,
		SendQueueSize:       cfg.Hub.SendQueueSize,
		MaxFrameBytes:       cfg.Hub.MaxFrameBytes,
		MessageRateLimit:    cfg.Hub.MessageRateLimit,
		BanAfterViolations:  cfg.Hub.BanAfterViolations,
		TypingTimeout:       cfg.Hub.TypingTimeout,
		TypingFlushInterval: cfg.Hub.TypingFlushInterval,
		FanoutWorkers:       cfg.Hub.FanoutWorkers,
	}
	h := hub.New(hubCfg, auth, chatStore, notifier, logger, met)

	msgCfg := messaging.DefaultConfig()
	msgCfg.MaxContentBytes = cfg.Server.MaxContentBytes
	msgCfg.SemanticSearch = cfg.Index.Semantic
	svc := messaging.New(msgCfg, chatStore, messageLog, ratchetStore, groupStore,
		keySvc, idx, h, h, logger, met)

	// The hub dispatches inbound stream frames back into the service.
	h.SetHandlers(hub.Handlers{
		SendMessage: svc.SendMessage,
		ReadReceipt: svc.MarkRead,
	})

	return &App{
		Cfg:       cfg,
		Log:       logger,
		Metrics:   met,
		Hub:       h,
		Index:     idx,
		Keys:      keySvc,
		Messaging: svc,
		Notifier:  notifier,
		Chats:     chatStore,
		Messages:  messageLog,
	}, nil
}

// Start launches background work.
func (a *App) Start() {
	a.Index.Start()
	a.Hub.Start()
}

// Shutdown drains background queues and closes connections.
func (a *App) Shutdown(ctx context.Context) {
	a.Hub.Shutdown(ctx)
	a.Index.Stop(ctx)
	if closer, ok := a.Notifier.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	_ = a.Log.Sync()
}
