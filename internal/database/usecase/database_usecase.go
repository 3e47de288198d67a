package usecase

import (
	"context"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/eventbus"
	"arc-database/internal/shared/logger"

	"go.uber.org/zap"
)

// DatabaseUsecase runs document operations against the storage driver with
// lazy backing store management, and owns live subscriptions.
type DatabaseUsecase struct {
	driver    repository.StorageDriver
	schema    *SchemaManager
	registry  *SubscriptionRegistry
	publisher eventbus.Publisher
	logger    logger.Logger
}

// NewDatabaseUsecase wires a usecase around an open driver. publisher may be nil.
func NewDatabaseUsecase(driver repository.StorageDriver, publisher eventbus.Publisher, log logger.Logger) *DatabaseUsecase {
	if log == nil {
		log = logger.NewNopLogger()
	}
	registry := NewSubscriptionRegistry(log)
	return &DatabaseUsecase{
		driver:    driver,
		schema:    NewSchemaManager(driver, publisher, registry, log),
		registry:  registry,
		publisher: publisher,
		logger:    log.WithComponent("database_usecase"),
	}
}

// Registry exposes the subscription registry.
func (uc *DatabaseUsecase) Registry() *SubscriptionRegistry { return uc.registry }

// Schema exposes the schema manager.
func (uc *DatabaseUsecase) Schema() *SchemaManager { return uc.schema }

// Driver exposes the storage driver.
func (uc *DatabaseUsecase) Driver() repository.StorageDriver { return uc.driver }

func (uc *DatabaseUsecase) ReadDocument(ctx context.Context, ref model.DocumentReference) (model.Document, bool, error) {
	var (
		doc   model.Document
		found bool
	)
	err := uc.read(ctx, ref.Collection, func() (err error) {
		doc, found, err = uc.driver.ReadDocument(ctx, ref)
		return err
	})
	if err != nil || !found {
		return nil, false, err
	}
	return doc, true, nil
}

func (uc *DatabaseUsecase) ReadCollection(ctx context.Context, ref model.CollectionReference) ([]model.Document, error) {
	if err := ref.EffectiveQuery().Validate(); err != nil {
		return nil, err
	}
	var docs []model.Document
	err := uc.read(ctx, ref, func() (err error) {
		docs, err = uc.driver.ReadCollection(ctx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

func (uc *DatabaseUsecase) CreateDocument(ctx context.Context, ref model.CollectionReference, fields map[string]interface{}) (model.Document, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	var doc model.Document
	err := uc.write(ctx, ref, func() (err error) {
		doc, err = uc.driver.CreateDocument(ctx, ref, fields)
		return err
	})
	if err != nil {
		return nil, err
	}
	uc.publish(ctx, eventbus.EventTypeDocumentCreated, ref.Doc(doc.ID()).Path(), map[string]interface{}{"newValue": doc})
	return doc, nil
}

// UpdateDocument upserts ref. changed is false when the stored document is
// identical after the update.
func (uc *DatabaseUsecase) UpdateDocument(ctx context.Context, ref model.DocumentReference, fields map[string]interface{}, opts repository.UpdateOptions) (model.Document, bool, error) {
	if err := validateFields(fields); err != nil {
		return nil, false, err
	}
	var (
		doc     model.Document
		changed bool
	)
	err := uc.write(ctx, ref.Collection, func() (err error) {
		doc, changed, err = uc.driver.UpdateDocument(ctx, ref, fields, opts)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		uc.publish(ctx, eventbus.EventTypeDocumentUpdated, ref.Path(),
			map[string]interface{}{"newValue": doc, "replace": opts.Replace})
	}
	return doc, changed, nil
}

// DeleteDocument removes ref and drops the backing store if it is left empty.
func (uc *DatabaseUsecase) DeleteDocument(ctx context.Context, ref model.DocumentReference) (bool, error) {
	var deleted bool
	err := uc.read(ctx, ref.Collection, func() (err error) {
		deleted, err = uc.driver.DeleteDocument(ctx, ref)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		uc.publish(ctx, eventbus.EventTypeDocumentDeleted, ref.Path(), nil)
	}
	uc.schema.Reclaim(ctx, ref.Collection)
	return deleted, nil
}

// ListCollections returns the sorted collection names of a database.
func (uc *DatabaseUsecase) ListCollections(ctx context.Context, ref model.DatabaseReference) ([]string, error) {
	names, err := uc.driver.ListCollections(ctx, ref)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Subscribe opens a change feed on a document or collection reference and
// registers it under id, replacing any subscription with the same id.
func (uc *DatabaseUsecase) Subscribe(ctx context.Context, id string, ref model.Reference, owner string, deliver model.ChangeFunc) (*Subscription, error) {
	sub := NewSubscription(id, ref, owner, deliver)
	switch ref.(type) {
	case model.DocumentReference, model.CollectionReference:
	default:
		return nil, errors.NewMalformedReferenceError(ref.Path(), "subscriptions target a document or a collection")
	}

	uc.registry.Register(sub)
	var feed repository.Feed
	err := uc.write(ctx, sub.Target(), func() (err error) {
		switch r := ref.(type) {
		case model.DocumentReference:
			feed, err = uc.driver.SubscribeDocument(ctx, r, sub.Handle)
		case model.CollectionReference:
			feed, err = uc.driver.SubscribeCollection(ctx, r, sub.Handle)
		}
		return err
	})
	if err != nil {
		uc.registry.RemoveIf(id, sub)
		return nil, err
	}
	sub.Attach(feed)

	uc.logger.Info("Subscription opened",
		zap.String("subscriptionId", id),
		zap.String("ref", ref.Path()),
		zap.String("owner", owner))
	return sub, nil
}

// Unsubscribe closes the subscription under id. Unknown ids are a no-op.
func (uc *DatabaseUsecase) Unsubscribe(id string) bool {
	return uc.registry.Remove(id)
}

// UnsubscribeOwner closes every subscription opened by owner.
func (uc *DatabaseUsecase) UnsubscribeOwner(owner string) int {
	n := uc.registry.RemoveWhere(func(s *Subscription) bool { return s.Owner == owner })
	if n > 0 {
		uc.logger.Info("Released subscriptions of closed connection", zap.String("owner", owner), zap.Int("count", n))
	}
	return n
}

// Shutdown closes every live subscription.
func (uc *DatabaseUsecase) Shutdown() int {
	return uc.registry.CloseAll()
}

// read runs op after ensuring ref exists. A backing store dropped between the
// ensure and op is reported as an empty result.
func (uc *DatabaseUsecase) read(ctx context.Context, ref model.CollectionReference, op func() error) error {
	release := uc.schema.Hold(ref)
	defer release()

	if err := uc.schema.Ensure(ctx, ref); err != nil {
		return err
	}
	err := op()
	if errors.IsBackingStoreMissing(err) {
		uc.schema.Invalidate(ref)
		uc.logger.Debug("Backing store vanished during read", zap.String("collection", ref.Path()))
		return nil
	}
	return err
}

// write runs op after ensuring ref exists, and retries once when the backing
// store was dropped concurrently.
func (uc *DatabaseUsecase) write(ctx context.Context, ref model.CollectionReference, op func() error) error {
	release := uc.schema.Hold(ref)
	defer release()

	if err := uc.schema.Ensure(ctx, ref); err != nil {
		return err
	}
	err := op()
	if !errors.IsBackingStoreMissing(err) {
		return err
	}

	uc.logger.Error("Backing store missing, recreating", zap.String("collection", ref.Path()), zap.Error(err))
	uc.schema.Invalidate(ref)
	if err := uc.schema.Ensure(ctx, ref); err != nil {
		return err
	}
	return op()
}

func (uc *DatabaseUsecase) publish(ctx context.Context, eventType, ref string, payload map[string]interface{}) {
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.Publish(ctx, eventbus.NewEvent(eventType, ref, payload)); err != nil {
		uc.logger.Warn("Failed to publish event", zap.String("eventType", eventType), zap.String("ref", ref), zap.Error(err))
	}
}

// validateFields rejects a non-string id and field names the stores cannot hold.
func validateFields(fields map[string]interface{}) error {
	if v, ok := fields[model.IDField]; ok {
		id, isString := v.(string)
		if !isString {
			return errors.NewInvalidArgumentError("document id must be a string").WithDetail("field", model.IDField)
		}
		if id != "" {
			if err := model.ValidateSegment(id); err != nil {
				return err
			}
		}
	}
	for k := range fields {
		if k == "" {
			return errors.NewInvalidArgumentError("field names must not be empty")
		}
		if k[0] == '$' {
			return errors.NewInvalidArgumentError("field names must not start with '$'").WithDetail("field", k)
		}
	}
	return nil
}
