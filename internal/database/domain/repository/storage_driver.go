package repository

import (
	"context"

	"arc-database/internal/database/domain/model"
)

// UpdateOptions controls UpdateDocument.
type UpdateOptions struct {
	// Replace discards stored fields that are not in the update. The id is kept.
	Replace bool
}

// Feed is a live change subscription held by the backend.
type Feed interface {
	// Close stops deliveries and releases backend resources. It is idempotent
	// and returns only after the feed's callback has returned for the last time.
	Close() error
}

// DocumentStore is the data half of a storage driver. Every operation assumes
// the target collection's backing store exists and fails with a
// BACKING_STORE_MISSING error otherwise; none of them creates storage.
type DocumentStore interface {
	// ReadDocument returns found=false when the document does not exist.
	ReadDocument(ctx context.Context, ref model.DocumentReference) (doc model.Document, found bool, err error)
	// ReadCollection applies ref.Query. Without orderBy the order is unstable.
	ReadCollection(ctx context.Context, ref model.CollectionReference) ([]model.Document, error)
	// CreateDocument stores fields under fields["id"] when it is a string, else under a new id.
	CreateDocument(ctx context.Context, ref model.CollectionReference, fields map[string]interface{}) (model.Document, error)
	// UpdateDocument upserts; changed is false when the stored document is unaffected.
	UpdateDocument(ctx context.Context, ref model.DocumentReference, fields map[string]interface{}, opts UpdateOptions) (doc model.Document, changed bool, err error)
	// DeleteDocument is idempotent; deleted reports whether a document was removed.
	DeleteDocument(ctx context.Context, ref model.DocumentReference) (deleted bool, err error)
	// ListCollections returns the sorted names of collections with a backing store.
	ListCollections(ctx context.Context, ref model.DatabaseReference) ([]string, error)
}

// ChangeFeeds opens live feeds. No history before the call is replayed.
type ChangeFeeds interface {
	SubscribeDocument(ctx context.Context, ref model.DocumentReference, onChange model.ChangeFunc) (Feed, error)
	SubscribeCollection(ctx context.Context, ref model.CollectionReference, onChange model.ChangeFunc) (Feed, error)
}

// SchemaStore manages backing stores.
type SchemaStore interface {
	HasCollection(ctx context.Context, ref model.CollectionReference) (bool, error)
	// CreateCollection treats an existing backing store as success.
	CreateCollection(ctx context.Context, ref model.CollectionReference) error
	DropCollection(ctx context.Context, ref model.CollectionReference) error
	// DropCollectionIfEmpty drops the backing store only when it holds no
	// documents. A missing store is BACKING_STORE_MISSING.
	DropCollectionIfEmpty(ctx context.Context, ref model.CollectionReference) (dropped bool, err error)
	CountDocuments(ctx context.Context, ref model.CollectionReference) (int64, error)
}

// StorageDriver is the capability set every backend implements. The driver
// owns its connection: Open before use, Close when done.
type StorageDriver interface {
	DocumentStore
	ChangeFeeds
	SchemaStore

	Name() string
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error
}
