package app

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/services"
	"github.com/guildgraph/guildgraph-backend/internal/utils"
)

// Tuning bundles every engine knob. Defaults match the services' own
// defaults; an optional YAML file overrides them wholesale.
type Tuning struct {
	Backfill    services.BackfillConfig    `yaml:"backfill"`
	Capture     services.CaptureConfig     `yaml:"capture"`
	Segmenter   services.SegmenterConfig   `yaml:"segmenter"`
	Scoring     services.ScoringConfig     `yaml:"scoring"`
	Rollup      services.RollupConfig      `yaml:"rollup"`
	Maintenance services.MaintenanceConfig `yaml:"maintenance"`
}

type Config struct {
	HTTPAddr     string
	GuildIDs     []string
	SyncOnStart  bool
	SyncInterval time.Duration
	AllowOrigins []string
	Tuning       Tuning
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		HTTPAddr:     utils.GetEnv("HTTP_ADDR", ":8080", log),
		SyncOnStart:  utils.GetEnvAsBool("SYNC_ON_START", true, log),
		SyncInterval: time.Duration(utils.GetEnvAsInt("SYNC_INTERVAL_MINUTES", 60, log)) * time.Minute,
		Tuning: Tuning{
			Backfill:    services.DefaultBackfillConfig(),
			Capture:     services.DefaultCaptureConfig(),
			Segmenter:   services.DefaultSegmenterConfig(),
			Scoring:     services.DefaultScoringConfig(),
			Rollup:      services.DefaultRollupConfig(),
			Maintenance: services.DefaultMaintenanceConfig(),
		},
	}

	for _, id := range strings.Split(utils.GetEnv("GUILD_IDS", "", log), ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.GuildIDs = append(cfg.GuildIDs, id)
		}
	}
	for _, origin := range strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "", log), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	if path := utils.GetEnv("GUILDGRAPH_TUNING_FILE", "", log); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Failed to read tuning file, using defaults", "path", path, "error", err)
		} else if err := yaml.Unmarshal(raw, &cfg.Tuning); err != nil {
			log.Warn("Failed to parse tuning file, using defaults", "path", path, "error", err)
		} else {
			log.Info("Loaded tuning overrides", "path", path)
		}
	}

	return cfg
}
