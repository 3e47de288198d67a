package memory

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DriverName is the DRIVER_KIND value selecting this driver.
const DriverName = "memory"

// Driver keeps every database in process memory. Data is lost on Close.
// Safe for concurrent use.
type Driver struct {
	mu          sync.RWMutex
	open        bool
	collections map[model.CollectionReference]map[string]model.Document
	feeds       map[*feed]struct{}
	logger      logger.Logger
}

var _ repository.StorageDriver = (*Driver)(nil)

// New creates a closed driver; call Open before use.
func New(log logger.Logger) *Driver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Driver{
		collections: make(map[model.CollectionReference]map[string]model.Document),
		feeds:       make(map[*feed]struct{}),
		logger:      log.WithComponent("memory_driver"),
	}
}

func (d *Driver) Name() string { return DriverName }

func (d *Driver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

// Close drops all data and closes every open feed.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	d.open = false
	d.collections = make(map[model.CollectionReference]map[string]model.Document)
	feeds := make([]*feed, 0, len(d.feeds))
	for f := range d.feeds {
		feeds = append(feeds, f)
	}
	d.mu.Unlock()

	for _, f := range feeds {
		_ = f.Close()
	}
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.checkOpen()
}

func (d *Driver) checkOpen() error {
	if !d.open {
		return errors.NewBackendUnavailableError("memory driver is not open").WithComponent(DriverName)
	}
	return nil
}

// docs returns the live document map of ref; callers hold d.mu.
func (d *Driver) docs(ref model.CollectionReference) (map[string]model.Document, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	docs, ok := d.collections[ref.WithoutQuery()]
	if !ok {
		return nil, errors.NewBackingStoreMissingError(ref.Path()).WithComponent(DriverName)
	}
	return docs, nil
}

func (d *Driver) ReadDocument(ctx context.Context, ref model.DocumentReference) (model.Document, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	docs, err := d.docs(ref.Collection)
	if err != nil {
		return nil, false, err
	}
	doc, ok := docs[ref.ID]
	if !ok {
		return nil, false, nil
	}
	return doc.Clone(), true, nil
}

func (d *Driver) ReadCollection(ctx context.Context, ref model.CollectionReference) ([]model.Document, error) {
	query := ref.EffectiveQuery()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	docs, err := d.docs(ref)
	if err != nil {
		d.mu.RUnlock()
		return nil, err
	}
	result := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		if matchesAll(doc, query.Where) {
			result = append(result, doc.Clone())
		}
	}
	d.mu.RUnlock()

	sortDocuments(result, query.OrderBy)
	if query.Limit != nil && *query.Limit < len(result) {
		result = result[:*query.Limit]
	}
	return result, nil
}

func (d *Driver) CreateDocument(ctx context.Context, ref model.CollectionReference, fields map[string]interface{}) (model.Document, error) {
	id, _ := fields[model.IDField].(string)
	if id == "" {
		id = uuid.NewString()
	}
	doc := model.WithID(model.Document(fields).Clone(), id)

	d.mu.Lock()
	defer d.mu.Unlock()

	docs, err := d.docs(ref)
	if err != nil {
		return nil, err
	}
	if _, exists := docs[id]; exists {
		return nil, errors.NewDuplicateIDError(id).WithComponent(DriverName)
	}
	docs[id] = doc
	d.notify(ref, id, nil, doc)
	return doc.Clone(), nil
}

func (d *Driver) UpdateDocument(ctx context.Context, ref model.DocumentReference, fields map[string]interface{}, opts repository.UpdateOptions) (model.Document, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	docs, err := d.docs(ref.Collection)
	if err != nil {
		return nil, false, err
	}

	old, exists := docs[ref.ID]
	var next model.Document
	if opts.Replace || !exists {
		next = model.WithID(model.Document(fields).Clone(), ref.ID)
	} else {
		next = model.WithID(model.MergeFields(old, model.Document(fields).Clone()), ref.ID)
	}

	if exists && reflect.DeepEqual(old, next) {
		return old.Clone(), false, nil
	}
	docs[ref.ID] = next
	d.notify(ref.Collection, ref.ID, old, next)
	return next.Clone(), true, nil
}

func (d *Driver) DeleteDocument(ctx context.Context, ref model.DocumentReference) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	docs, err := d.docs(ref.Collection)
	if err != nil {
		return false, err
	}
	old, exists := docs[ref.ID]
	if !exists {
		return false, nil
	}
	delete(docs, ref.ID)
	d.notify(ref.Collection, ref.ID, old, nil)
	return true, nil
}

func (d *Driver) ListCollections(ctx context.Context, ref model.DatabaseReference) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	names := []string{}
	for col := range d.collections {
		if col.Database == ref {
			names = append(names, col.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) HasCollection(ctx context.Context, ref model.CollectionReference) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.checkOpen(); err != nil {
		return false, err
	}
	_, ok := d.collections[ref.WithoutQuery()]
	return ok, nil
}

func (d *Driver) CreateCollection(ctx context.Context, ref model.CollectionReference) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	key := ref.WithoutQuery()
	if _, ok := d.collections[key]; ok {
		return nil
	}
	d.collections[key] = make(map[string]model.Document)
	d.logger.Debug("Created backing store", zap.String("collection", ref.Path()))
	return nil
}

// DropCollection removes the backing store. Feeds on it receive a terminal error event.
func (d *Driver) DropCollection(ctx context.Context, ref model.CollectionReference) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	if _, ok := d.collections[ref.WithoutQuery()]; !ok {
		return nil
	}
	d.dropLocked(ref)
	return nil
}

// DropCollectionIfEmpty checks and drops under one lock, so no write can land
// in between.
func (d *Driver) DropCollectionIfEmpty(ctx context.Context, ref model.CollectionReference) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	docs, err := d.docs(ref)
	if err != nil {
		return false, err
	}
	if len(docs) > 0 {
		return false, nil
	}
	d.dropLocked(ref)
	return true, nil
}

func (d *Driver) dropLocked(ref model.CollectionReference) {
	key := ref.WithoutQuery()
	delete(d.collections, key)
	for f := range d.feeds {
		if f.target == key {
			f.push(model.ChangeEvent{Err: errors.NewBackingStoreMissingError(ref.Path()).WithDetail("reason", "dropped")})
		}
	}
	d.logger.Debug("Dropped backing store", zap.String("collection", ref.Path()))
}

func (d *Driver) CountDocuments(ctx context.Context, ref model.CollectionReference) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	docs, err := d.docs(ref)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (d *Driver) SubscribeDocument(ctx context.Context, ref model.DocumentReference, onChange model.ChangeFunc) (repository.Feed, error) {
	return d.subscribe(ref.Collection, ref.ID, onChange)
}

// SubscribeCollection watches every document of the collection; the attached query is not applied.
func (d *Driver) SubscribeCollection(ctx context.Context, ref model.CollectionReference, onChange model.ChangeFunc) (repository.Feed, error) {
	return d.subscribe(ref, "", onChange)
}

func (d *Driver) subscribe(ref model.CollectionReference, docID string, onChange model.ChangeFunc) (repository.Feed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.docs(ref); err != nil {
		return nil, err
	}
	f := newFeed(d, ref.WithoutQuery(), docID, onChange)
	d.feeds[f] = struct{}{}
	go f.run()
	return f, nil
}

func (d *Driver) removeFeed(f *feed) {
	d.mu.Lock()
	delete(d.feeds, f)
	d.mu.Unlock()
}

// notify enqueues a change for every matching feed. Callers hold d.mu, so
// queue order equals write order.
func (d *Driver) notify(ref model.CollectionReference, id string, old, next model.Document) {
	key := ref.WithoutQuery()
	for f := range d.feeds {
		if f.target != key || (f.docID != "" && f.docID != id) {
			continue
		}
		f.push(model.ChangeEvent{OldValue: old.Clone(), NewValue: next.Clone()})
	}
}
