package mongodb

import (
	"context"
	stderrors "errors"
	"sort"

	"arc-database/internal/database/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// codeNamespaceExists is returned by create when the collection already exists.
const codeNamespaceExists = 48

func (d *Driver) ListCollections(ctx context.Context, ref model.DatabaseReference) ([]string, error) {
	db, err := d.database(ref)
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.M{"type": "collection"})
	if err != nil {
		d.logFailure("listCollections", ref, err)
		return nil, classify(err, "listCollections")
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if model.ValidateSegment(name) == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *Driver) HasCollection(ctx context.Context, ref model.CollectionReference) (bool, error) {
	db, err := d.database(ref.Database)
	if err != nil {
		return false, err
	}
	names, err := db.ListCollectionNames(ctx, bson.M{"name": ref.Name}, options.ListCollections().SetNameOnly(true))
	if err != nil {
		return false, classify(err, "hasCollection")
	}
	return len(names) > 0, nil
}

// CreateCollection enables pre-images so update and delete events carry the old value.
func (d *Driver) CreateCollection(ctx context.Context, ref model.CollectionReference) error {
	db, err := d.database(ref.Database)
	if err != nil {
		return err
	}
	err = db.CreateCollection(ctx, ref.Name,
		options.CreateCollection().SetChangeStreamPreAndPostImages(bson.M{"enabled": true}))
	if isNamespaceExists(err) {
		return nil
	}
	if err != nil {
		d.logFailure("createCollection", ref, err)
		return classify(err, "createCollection")
	}
	d.logger.Debug("Created backing store", zap.String("collection", ref.Path()))
	return nil
}

func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return stderrors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists
}

func (d *Driver) DropCollection(ctx context.Context, ref model.CollectionReference) error {
	coll, err := d.collection(ref)
	if err != nil {
		return err
	}
	if err := coll.Drop(ctx); err != nil {
		d.logFailure("dropCollection", ref, err)
		return classify(err, "dropCollection")
	}
	d.logger.Debug("Dropped backing store", zap.String("collection", ref.Path()))
	return nil
}

// DropCollectionIfEmpty counts and then drops. The two steps are not atomic on
// the server; writers in this process are held off by the schema manager.
func (d *Driver) DropCollectionIfEmpty(ctx context.Context, ref model.CollectionReference) (bool, error) {
	if _, err := d.existingCollection(ctx, ref); err != nil {
		return false, err
	}
	n, err := d.CountDocuments(ctx, ref)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if err := d.DropCollection(ctx, ref); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) CountDocuments(ctx context.Context, ref model.CollectionReference) (int64, error) {
	coll, err := d.collection(ref)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, classify(err, "countDocuments")
	}
	return n, nil
}
