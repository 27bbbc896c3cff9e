// Package backend opens the chat store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/client"
	"github.com/raphaelgruber/sortify/internal/config"
	"github.com/raphaelgruber/sortify/internal/db"
	"github.com/raphaelgruber/sortify/internal/store/memory"
	"github.com/raphaelgruber/sortify/internal/store/tomlfile"
	"github.com/spf13/viper"
)

// Backend is an opened chat store.
type Backend struct {
	Gateway chat.Gateway
	// Remote is set for the remote backend so callers can reach the
	// server's event stream and stats.
	Remote *client.Client
	// Location describes where data lives, for status output.
	Location string

	close func(context.Context) error
	wipe  func(context.Context) error
}

// Wipe deletes all chats. Only the SurrealDB backend supports it.
func (b *Backend) Wipe(ctx context.Context) error {
	if b.wipe == nil {
		return fmt.Errorf("backend %s does not support wiping", b.Location)
	}
	return b.wipe(ctx)
}

// Close releases the store's connection, if it holds one.
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// Open connects to the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case config.BackendSurreal:
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}
		dbClient, err := db.NewClient(ctx, dbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return &Backend{
			Gateway:  db.NewGateway(dbClient, logger),
			Location: cfg.SurrealDBURL,
			close:    dbClient.Close,
			wipe:     dbClient.WipeData,
		}, nil

	case config.BackendTOML:
		v := viper.New()
		if cfg.StorePath != "" {
			v.Set(tomlfile.PathKey, cfg.StorePath)
		}
		store, err := tomlfile.New(v)
		if err != nil {
			return nil, fmt.Errorf("open chat file: %w", err)
		}
		return &Backend{Gateway: store, Location: store.Path()}, nil

	case config.BackendMemory:
		return &Backend{Gateway: memory.New(), Location: "memory"}, nil

	case config.BackendRemote:
		c := client.New(cfg.ServerURL, cfg.Owner)
		return &Backend{Gateway: c, Remote: c, Location: cfg.ServerURL}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
