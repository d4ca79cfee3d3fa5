package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/guildgraph/guildgraph-backend/internal/db"
	"github.com/guildgraph/guildgraph-backend/internal/feed"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	cancel   context.CancelFunc
}

func New(source feed.Feed) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	if source == nil {
		source = feed.Offline()
	}

	clientset := wireClients(log)
	reposet := wireRepos(theDB, log)
	serviceset := wireServices(log, cfg, reposet, clientset, source)
	handlerset := wireHandlers(log, serviceset)
	router := wireRouter(cfg, handlerset)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Clients:  clientset,
		Services: serviceset,
	}, nil
}

// Start launches the background engines: the rollup drain loop, the
// maintenance sweep, and the periodic guild sync driven by GUILD_IDS.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Services.Rollup.Start(ctx)
	a.Services.Maintenance.Start(ctx)

	if len(a.Cfg.GuildIDs) > 0 {
		go a.syncLoop(ctx)
	}
}

func (a *App) syncLoop(ctx context.Context) {
	if a.Cfg.SyncOnStart {
		a.syncAll(ctx)
	}
	ticker := time.NewTicker(a.Cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.syncAll(ctx)
		}
	}
}

func (a *App) syncAll(ctx context.Context) {
	for _, guildID := range a.Cfg.GuildIDs {
		stats, err := a.Services.Backfill.SyncGuild(ctx, guildID)
		if err != nil {
			a.Log.Error("Guild sync failed", "guild_id", guildID, "error", err)
			continue
		}
		a.Log.Info("Guild sync complete",
			"guild_id", guildID,
			"channels", stats.ChannelsSynced,
			"skipped", stats.ChannelsSkipped,
			"messages_stored", stats.MessagesStored,
		)
	}
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(a.Cfg.HTTPAddr)
}

// Close flushes in-flight state before releasing resources: open
// segment buffers finalize first so their participants enter the
// pending set, then one last rollup drain persists the rebuilt
// networks.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Services.Segmenter != nil {
		a.Services.Segmenter.FlushAll(ctx)
	}
	if a.Services.Rollup != nil {
		if err := a.Services.Rollup.Drain(ctx); err != nil {
			a.Log.Warn("Final rollup drain failed", "error", err)
		}
	}
	a.Clients.Close(ctx)

	if a.Log != nil {
		a.Log.Sync()
	}
}
