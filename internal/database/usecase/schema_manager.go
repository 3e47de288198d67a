package usecase

import (
	"context"
	"sync"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/eventbus"
	"arc-database/internal/shared/logger"

	"go.uber.org/zap"
)

// CollectionWatcher reports whether live subscriptions target a collection.
type CollectionWatcher interface {
	Watching(ref model.CollectionReference) bool
}

// SchemaManager creates backing stores on first use and drops them once they
// are empty. Collections it has ensured are remembered so the existence probe
// is skipped on later calls.
//
// Operations on a collection hold its guard shared (Hold); Reclaim holds it
// exclusively, so a write never lands between the emptiness check and the drop.
type SchemaManager struct {
	schema    repository.SchemaStore
	publisher eventbus.Publisher
	watcher   CollectionWatcher
	logger    logger.Logger

	mu      sync.RWMutex
	ensured map[model.CollectionReference]struct{}

	guardsMu sync.Mutex
	guards   map[model.CollectionReference]*sync.RWMutex
}

// NewSchemaManager creates a schema manager. publisher and watcher may be nil.
func NewSchemaManager(schema repository.SchemaStore, publisher eventbus.Publisher, watcher CollectionWatcher, log logger.Logger) *SchemaManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SchemaManager{
		schema:    schema,
		publisher: publisher,
		watcher:   watcher,
		logger:    log.WithComponent("schema_manager"),
		ensured:   make(map[model.CollectionReference]struct{}),
		guards:    make(map[model.CollectionReference]*sync.RWMutex),
	}
}

func (sm *SchemaManager) guard(ref model.CollectionReference) *sync.RWMutex {
	key := ref.WithoutQuery()
	sm.guardsMu.Lock()
	defer sm.guardsMu.Unlock()
	g, ok := sm.guards[key]
	if !ok {
		g = &sync.RWMutex{}
		sm.guards[key] = g
	}
	return g
}

// Hold keeps ref from being reclaimed until the returned release is called.
// Reclaim must not be called while holding.
func (sm *SchemaManager) Hold(ref model.CollectionReference) (release func()) {
	g := sm.guard(ref)
	g.RLock()
	return g.RUnlock
}

// Ensure makes sure the backing store of ref exists. Concurrent callers may
// both create it; the driver treats the second create as success.
func (sm *SchemaManager) Ensure(ctx context.Context, ref model.CollectionReference) error {
	key := ref.WithoutQuery()
	if sm.isEnsured(key) {
		return nil
	}

	exists, err := sm.schema.HasCollection(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		if err := sm.schema.CreateCollection(ctx, key); err != nil {
			sm.logger.Error("Failed to create backing store", zap.String("collection", key.Path()), zap.Error(err))
			return err
		}
		sm.logger.Info("Backing store created", zap.String("collection", key.Path()))
		sm.publish(ctx, eventbus.EventTypeCollectionCreated, key)
	}

	sm.mu.Lock()
	sm.ensured[key] = struct{}{}
	sm.mu.Unlock()
	return nil
}

// Invalidate forgets that ref was ensured so the next Ensure probes again.
func (sm *SchemaManager) Invalidate(ref model.CollectionReference) {
	sm.mu.Lock()
	delete(sm.ensured, ref.WithoutQuery())
	sm.mu.Unlock()
}

// Reclaim drops the backing store of ref when it holds no documents and no
// subscription is watching it. Failures are logged and swallowed; the result
// reports whether the store was dropped.
func (sm *SchemaManager) Reclaim(ctx context.Context, ref model.CollectionReference) bool {
	key := ref.WithoutQuery()
	g := sm.guard(key)
	g.Lock()
	defer g.Unlock()

	if sm.watcher != nil && sm.watcher.Watching(key) {
		sm.logger.Debug("Skipping reclaim of watched collection", zap.String("collection", key.Path()))
		return false
	}

	dropped, err := sm.schema.DropCollectionIfEmpty(ctx, key)
	if err != nil {
		if errors.IsBackingStoreMissing(err) {
			sm.Invalidate(key)
			return false
		}
		sm.logger.Warn("Reclaim failed", zap.String("collection", key.Path()), zap.Error(err))
		return false
	}
	if !dropped {
		return false
	}
	sm.Invalidate(key)
	sm.logger.Info("Empty backing store dropped", zap.String("collection", key.Path()))
	sm.publish(ctx, eventbus.EventTypeCollectionDropped, key)
	return true
}

func (sm *SchemaManager) isEnsured(ref model.CollectionReference) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.ensured[ref]
	return ok
}

func (sm *SchemaManager) publish(ctx context.Context, eventType string, ref model.CollectionReference) {
	if sm.publisher == nil {
		return
	}
	if err := sm.publisher.Publish(ctx, eventbus.NewEvent(eventType, ref.Path(), nil)); err != nil {
		sm.logger.Warn("Failed to publish lifecycle event", zap.String("eventType", eventType), zap.Error(err))
	}
}
