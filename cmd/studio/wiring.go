package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/printstudio/internal/config"
	"github.com/digkill/printstudio/internal/database"
	"github.com/digkill/printstudio/internal/gemini"
	"github.com/digkill/printstudio/internal/kie"
	"github.com/digkill/printstudio/internal/provider"
	"github.com/digkill/printstudio/internal/repository"
	"github.com/digkill/printstudio/internal/storage"
)

// backends bundles the persistence stores chosen by PERSIST_BACKEND.
type backends struct {
	projects    repository.ProjectStore
	generations repository.GenerationLogStore
	closers     []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{}
	switch cfg.PersistBackend {
	case config.PersistSQLite, config.PersistMySQL:
		var (
			db  *database.DB
			err error
		)
		if cfg.PersistBackend == config.PersistMySQL {
			db, err = database.ConnectMySQL(cfg.MySQLDSN)
		} else {
			db, err = database.OpenSQLite(cfg.SQLitePath)
		}
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		if err := database.Migrate(ctx, db); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("database migrate: %w", err)
		}
		b.projects = repository.NewProjectRepository(db)
		b.generations = repository.NewGenerationRepository(db)
	case config.PersistRedis:
		client, err := repository.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.projects = repository.NewRedisProjectRepository(client, cfg.RedisPrefix)
		b.generations = repository.NewRedisGenerationLog(client, cfg.RedisPrefix)
	case config.PersistMemory:
		log.Warn("projects are kept in memory and lost on exit")
		b.projects = repository.NewMemoryProjectRepository()
		b.generations = repository.NewMemoryGenerationLog()
	default:
		return nil, fmt.Errorf("unknown persist backend %q", cfg.PersistBackend)
	}

	if cfg.SnapshotCacheSize > 0 {
		cached, err := repository.NewCachedProjectRepository(b.projects, cfg.SnapshotCacheSize)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.projects = cached
	}
	log.Info("persistence ready", "backend", cfg.PersistBackend)
	return b, nil
}

// buildProvider routes text tasks to Gemini and images to the configured
// image backend.
func buildProvider(cfg config.Config, log *slog.Logger) (provider.Client, error) {
	text := gemini.NewClient(gemini.Config{
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		Timeout:    cfg.RequestTimeout,
	}, log)

	switch cfg.ImageBackend {
	case config.ImageBackendGemini:
		return provider.NewRouter(text, text), nil
	case config.ImageBackendKIE:
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("storage uploader: %w", err)
		}
		images := kie.NewClient(kie.Config{
			BaseURL: cfg.KIEBaseURL,
			Model:   cfg.KIEModel,
			Timeout: cfg.RequestTimeout,
		}, uploader, log)
		return provider.NewRouter(text, images), nil
	default:
		return nil, fmt.Errorf("unknown image backend %q", cfg.ImageBackend)
	}
}
