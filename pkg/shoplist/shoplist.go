// Package shoplist is the public, embeddable wrapper around the local-first
// client engine: a consumer that wants shared-shopping-list state without
// running its own HTTP surface constructs one DB and calls its methods
// directly, the way an embedded database library would.
package shoplist

import (
	"fmt"

	"github.com/knirvcorp/shoplist/internal/client"
	"github.com/knirvcorp/shoplist/internal/logging"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/storage"
)

// Options configures a DB.
type Options struct {
	// DataDir holds this instance's durable SQLite store.
	DataDir string
	// Servers is the cluster's storage node base URLs.
	Servers []string
	// CoordinatorAddr is the SSE coordinator's base URL.
	CoordinatorAddr string
	// LogLevel is a zap level string ("debug", "info", "warn", "error").
	// Defaults to "info".
	LogLevel string
}

// DB is the public wrapper around the internal client Engine.
type DB struct {
	engine *client.Engine
	log    *logging.Logger
}

// New opens the durable store at opts.DataDir, constructs the sync engine
// and starts its background sync loop and SSE subscription.
func New(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("DataDir cannot be empty")
	}
	level := opts.LogLevel
	if level == "" {
		level = "info"
	}
	zapLog, err := logging.NewLogger(level, "json")
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := storage.Open(opts.DataDir + "/shoplist.db")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	engine, err := client.New(client.Options{
		Servers:         opts.Servers,
		CoordinatorAddr: opts.CoordinatorAddr,
		Store:           store,
		Log:             zapLog.Logger,
		Metrics:         monitoring.NewMetrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("construct client engine: %w", err)
	}
	engine.Start()

	return &DB{engine: engine, log: zapLog}, nil
}

// CreateList creates a new shopping list.
func (d *DB) CreateList(name string) (client.ListView, error) { return d.engine.CreateList(name) }

// DeleteList deletes a shopping list and its items.
func (d *DB) DeleteList(id string) error { return d.engine.DeleteList(id) }

// AddItem adds an item to a list this DB already knows about.
func (d *DB) AddItem(listID, name string, quantity int64) (client.ItemView, error) {
	return d.engine.AddItem(listID, name, quantity)
}

// ToggleItem checks an item off (increments its acquired counter).
func (d *DB) ToggleItem(id string) (client.ItemView, error) { return d.engine.ToggleItem(id) }

// UpdateQuantity sets an item's desired quantity.
func (d *DB) UpdateQuantity(id string, target int64) (client.ItemView, error) {
	return d.engine.UpdateQuantity(id, target)
}

// UpdateName renames an item.
func (d *DB) UpdateName(id, name string) (client.ItemView, error) {
	return d.engine.UpdateName(id, name)
}

// RemoveItem removes an item from its list.
func (d *DB) RemoveItem(id string) error { return d.engine.RemoveItem(id) }

// Lists returns every locally-known list.
func (d *DB) Lists() []client.ListView { return d.engine.Lists() }

// Items returns every locally-known item.
func (d *DB) Items() []client.ItemView { return d.engine.Items() }

// Shutdown stops the sync loop, the SSE subscription and closes the
// durable store.
func (d *DB) Shutdown() error {
	defer d.log.Sync()
	return d.engine.Stop()
}
