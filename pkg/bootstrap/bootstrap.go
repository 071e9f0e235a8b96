// Package bootstrap assembles the catalog's collaborators from configuration so
// the HTTP service and the bulk importer share one wiring.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/dicom-catalog/pkg/blobstore"
	"github.com/synaptica-ai/dicom-catalog/pkg/catalog"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/config"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/database"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/kafka"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/retry"
	"github.com/synaptica-ai/dicom-catalog/pkg/ingestion"
	"github.com/synaptica-ai/dicom-catalog/pkg/metadata"
	"github.com/synaptica-ai/dicom-catalog/pkg/observability/metrics"
	"gorm.io/gorm"
)

type Components struct {
	Store    catalog.Store
	Blobs    blobstore.Store
	Metrics  *metrics.Metrics
	Importer *ingestion.Service
	Catalog  *catalog.Service

	db      *gorm.DB
	closers []io.Closer
}

// Build opens every backend named by cfg and migrates the relational schema.
// On error anything already opened is closed again.
func Build(ctx context.Context, cfg *config.Config) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if cfg.DBDriver == database.DriverMemory {
		logger.Log.Warn("Using in-memory catalog; nothing is persisted")
		c.Store = catalog.NewMemoryStore()
	} else {
		err = retry.Do(ctx, cfg.ConnectAttempts, 500*time.Millisecond, func() error {
			var openErr error
			c.db, openErr = database.Open(cfg)
			return openErr
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		repo := catalog.NewRepository(c.db)
		if err = repo.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrating catalog tables: %w", err)
		}
		c.Store = repo
	}

	c.Blobs, err = blobstore.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	if closer, ok := c.Blobs.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	var redisClient *redis.Client
	if cfg.ImportLockBackend == ingestion.LockBackendRedis {
		err = retry.Do(ctx, cfg.ConnectAttempts, 500*time.Millisecond, func() error {
			var dialErr error
			redisClient, dialErr = database.NewRedis(cfg)
			return dialErr
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		c.closers = append(c.closers, redisClient)
	}
	locker, err := ingestion.NewLocker(cfg.ImportLockBackend, redisClient, cfg.ImportLockTTL)
	if err != nil {
		return nil, err
	}

	c.Metrics, err = metrics.New()
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	opts := ingestion.Options{
		Transactional: cfg.ImportTransactional,
		Isolation:     catalog.IsolationLevel(cfg.ImportIsolation),
		Locker:        locker,
		Metrics:       c.Metrics,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.ImportEventsTopic)
		c.closers = append(c.closers, producer)
		opts.Events = producer
		if cfg.ImportDLQTopic != "" {
			dlq := kafka.NewProducer(cfg.KafkaBrokers, cfg.ImportDLQTopic)
			c.closers = append(c.closers, dlq)
			opts.DLQ = dlq
		}
	}

	c.Importer = ingestion.NewService(c.Store, c.Blobs, metadata.NewDecoder(), opts)
	c.Catalog = catalog.NewService(c.Store)

	logger.Log.WithFields(map[string]interface{}{
		"db_driver":     cfg.DBDriver,
		"storage":       cfg.StorageBackend,
		"transactional": cfg.ImportTransactional,
		"lock_backend":  cfg.ImportLockBackend,
		"events":        len(cfg.KafkaBrokers) > 0,
	}).Info("Catalog components ready")
	return c, nil
}

// Ping reports whether the relational store answers. The memory store is
// always ready.
func (c *Components) Ping(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close component")
		}
	}
	c.closers = nil
	if c.db != nil {
		if err := database.Close(c.db); err != nil {
			logger.Log.WithError(err).Warn("failed to close database")
		}
		c.db = nil
	}
}
