package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/todoapi/internal/config"
	"github.com/jmcleod/todoapi/storage"
	bboltstorage "github.com/jmcleod/todoapi/storage/bbolt"
	"github.com/jmcleod/todoapi/storage/memory"
	mongostorage "github.com/jmcleod/todoapi/storage/mongo"
	pgstorage "github.com/jmcleod/todoapi/storage/postgres"
	redisstorage "github.com/jmcleod/todoapi/storage/redis"
)

const bboltFileName = "todoapi.db"

// openStore opens the repository selected by cfg.StoreBackend. The returned
// function releases it.
func openStore(ctx context.Context, cfg *config.Config) (storage.Repository, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memory.NewRepository(), func() error { return nil }, nil

	case config.BackendBbolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, bboltFileName), &bbolt.Options{
			Timeout: time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return store, store.Close, nil

	case config.BackendMongo:
		store, err := mongostorage.NewRepositoryFromURI(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return store, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(ctx)
		}, nil

	case config.BackendRedis:
		store, err := redisstorage.NewRepositoryFromAddr(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, redisstorage.DefaultPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, store.Close, nil

	case config.BackendPostgres:
		store, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
