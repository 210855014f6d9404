package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB manages the Badger database connection holding sessions, the DNS
// cache, and per-domain IPv6 learning stats.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.StorageConfig
}

// NewBadgerDB opens (or resets, per config) the Badger-backed KV store.
func NewBadgerDB(logger arbor.ILogger, config *common.StorageConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.BadgerPath); err == nil {
			logger.Debug().Str("path", config.BadgerPath).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.BadgerPath); err != nil {
				logger.Warn().Err(err).Str("path", config.BadgerPath).Msg("Failed to delete database directory")
			}
		}
	}

	dir := filepath.Dir(config.BadgerPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.BadgerPath).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.BadgerPath
	options.ValueDir = config.BadgerPath
	options.Logger = nil // disable default badger logger, use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.BadgerPath).Msg("Badger database initialized")

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// Store returns the underlying badgerhold store.
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database connection.
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
