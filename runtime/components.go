package runtime

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/InsulaLabs/fleet/config"
	"github.com/InsulaLabs/fleet/internal/blob"
	"github.com/InsulaLabs/fleet/internal/registry"
	"github.com/InsulaLabs/fleet/internal/replication"
	"github.com/InsulaLabs/fleet/internal/service"
	"github.com/InsulaLabs/fleet/internal/tkv"
	"github.com/pkg/errors"
)

const (
	storeDirName = "store"

	nodesPrefix = "nodes/"
	metaPrefix  = "meta/"
)

// components is everything one running instance owns.
type components struct {
	db      tkv.TKV
	nodes   *registry.Registry
	files   *replication.Coordinator
	service *service.Service
}

func buildComponents(ctx context.Context, logger *slog.Logger, cfg *config.Fleet, logLevel slog.Level) (*components, error) {
	db, err := openStore(logger, cfg, logLevel)
	if err != nil {
		return nil, err
	}

	if err := replication.EnsureLayout(tkv.NewPartition(db, metaPrefix), cfg.Replication.Shards); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "file shard layout check failed")
	}

	oracle, err := newOracle(logger, cfg.Oracle)
	if err != nil {
		db.Close()
		return nil, err
	}

	shards := make([]replication.Store, cfg.Replication.Shards)
	for i := range shards {
		shards[i] = tkv.NewPartition(db, replication.ShardPrefix(i))
	}

	files, err := replication.New(replication.Config{
		Logger:          logger.With("service", "replication"),
		Shards:          shards,
		Oracle:          oracle,
		DefaultReplicas: cfg.Replication.DefaultReplicas,
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not create file coordinator")
	}

	nodes := registry.New(logger.With("service", "registry"), tkv.NewPartition(db, nodesPrefix))

	svc := service.New(service.Settings{
		Ctx:    ctx,
		Logger: logger.With("service", "api"),
		Config: cfg,
		Nodes:  nodes,
		Files:  files,
	})

	return &components{
		db:      db,
		nodes:   nodes,
		files:   files,
		service: svc,
	}, nil
}

// Close releases storage. The service stops its own limiter caches when Run
// returns.
func (c *components) Close() {
	if err := c.db.Close(); err != nil {
		slog.Default().Error("Failed to close store", "error", err)
	}
}

func openStore(logger *slog.Logger, cfg *config.Fleet, logLevel slog.Level) (tkv.TKV, error) {
	badgerLevel := slog.LevelError
	if cfg.Storage.BadgerLogLevel != "" {
		level, ok := ParseLevel(cfg.Storage.BadgerLogLevel)
		if !ok {
			logger.Warn("Unknown badger log level, using the process level", "level", cfg.Storage.BadgerLogLevel)
			level = logLevel
		}
		badgerLevel = level
	}

	dir := ""
	if !cfg.Storage.InMemory {
		dir = filepath.Join(cfg.DataDir, storeDirName)
	}

	db, err := tkv.New(tkv.Config{
		Logger:         logger,
		Engine:         cfg.Storage.Engine,
		BadgerLogLevel: badgerLevel,
		Directory:      dir,
		InMemory:       cfg.Storage.InMemory,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s store", cfg.Storage.Engine)
	}
	return db, nil
}

func newOracle(logger *slog.Logger, cfg config.Oracle) (replication.Oracle, error) {
	switch cfg.Kind {
	case config.OracleKindHTTP:
		return blob.NewHTTPOracle(blob.HTTPConfig{
			Logger:     logger.With("service", "oracle"),
			BaseURL:    cfg.URL,
			HintHeader: cfg.HintHeader,
			Timeout:    cfg.Timeout,
		})
	case config.OracleKindFS, "":
		return blob.NewFSOracle(logger.With("service", "oracle"), cfg.BlobDir)
	default:
		return nil, errors.Errorf("unknown oracle kind '%s'", cfg.Kind)
	}
}
