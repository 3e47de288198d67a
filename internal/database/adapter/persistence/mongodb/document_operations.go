package mongodb

import (
	"context"
	stderrors "errors"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func byID(id string) bson.M {
	return bson.M{mongoIDField: id}
}

// ReadDocument returns found=false for a missing document.
func (d *Driver) ReadDocument(ctx context.Context, ref model.DocumentReference) (model.Document, bool, error) {
	coll, err := d.existingCollection(ctx, ref.Collection)
	if err != nil {
		return nil, false, err
	}

	var raw bson.M
	err = coll.FindOne(ctx, byID(ref.ID)).Decode(&raw)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		d.logFailure("readDocument", ref, err)
		return nil, false, classify(err, "readDocument")
	}
	return fromStored(raw), true, nil
}

func (d *Driver) ReadCollection(ctx context.Context, ref model.CollectionReference) ([]model.Document, error) {
	query := ref.EffectiveQuery()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	coll, err := d.existingCollection(ctx, ref)
	if err != nil {
		return nil, err
	}
	if query.Limit != nil && *query.Limit == 0 {
		return []model.Document{}, nil
	}

	cur, err := coll.Find(ctx, buildMongoFilter(query.Where), buildMongoFindOptions(query))
	if err != nil {
		d.logFailure("readCollection", ref, err)
		return nil, classify(err, "readCollection")
	}
	defer cur.Close(ctx)

	docs := []model.Document{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, classify(err, "readCollection")
		}
		docs = append(docs, fromStored(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, classify(err, "readCollection")
	}
	return docs, nil
}

func (d *Driver) CreateDocument(ctx context.Context, ref model.CollectionReference, fields map[string]interface{}) (model.Document, error) {
	coll, err := d.existingCollection(ctx, ref)
	if err != nil {
		return nil, err
	}

	id, _ := fields[model.IDField].(string)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := coll.InsertOne(ctx, toStored(fields, id)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.NewDuplicateIDError(id).WithCause(err).WithComponent(DriverName)
		}
		d.logFailure("createDocument", ref, err)
		return nil, classify(err, "createDocument")
	}
	return model.WithID(model.Document(fields).Clone(), id), nil
}

// UpdateDocument upserts through findAndModify, reading the previous version
// atomically so changed reflects the stored state.
func (d *Driver) UpdateDocument(ctx context.Context, ref model.DocumentReference, fields map[string]interface{}, opts repository.UpdateOptions) (model.Document, bool, error) {
	coll, err := d.existingCollection(ctx, ref.Collection)
	if err != nil {
		return nil, false, err
	}

	var before model.Document
	if opts.Replace {
		before, err = d.replace(ctx, coll, ref, fields)
	} else {
		before, err = d.merge(ctx, coll, ref, fields)
	}
	if err != nil {
		d.logFailure("updateDocument", ref, err)
		return nil, false, classify(err, "updateDocument")
	}

	var after model.Document
	if opts.Replace || before == nil {
		after = model.WithID(model.Document(fields).Clone(), ref.ID)
	} else {
		after = model.WithID(model.MergeFields(before, fields), ref.ID)
	}
	if before != nil && sameDocument(before, after) {
		return before, false, nil
	}
	return after, true, nil
}

func (d *Driver) replace(ctx context.Context, coll *mongo.Collection, ref model.DocumentReference, fields map[string]interface{}) (model.Document, error) {
	var raw bson.M
	err := coll.FindOneAndReplace(ctx, byID(ref.ID), toStored(fields, ref.ID),
		options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.Before)).Decode(&raw)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromStored(raw), nil
}

func (d *Driver) merge(ctx context.Context, coll *mongo.Collection, ref model.DocumentReference, fields map[string]interface{}) (model.Document, error) {
	set := setFields(fields)
	if len(set) == 0 {
		return d.touch(ctx, coll, ref)
	}

	var raw bson.M
	err := coll.FindOneAndUpdate(ctx, byID(ref.ID), bson.M{"$set": set},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)).Decode(&raw)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromStored(raw), nil
}

// touch handles a merge with no fields: MongoDB rejects an empty $set, so the
// document is read, and created as {_id} when absent.
func (d *Driver) touch(ctx context.Context, coll *mongo.Collection, ref model.DocumentReference) (model.Document, error) {
	var raw bson.M
	err := coll.FindOne(ctx, byID(ref.ID)).Decode(&raw)
	if err == nil {
		return fromStored(raw), nil
	}
	if !stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if _, err := coll.InsertOne(ctx, byID(ref.ID)); err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, err
	}
	return nil, nil
}

func (d *Driver) DeleteDocument(ctx context.Context, ref model.DocumentReference) (bool, error) {
	coll, err := d.existingCollection(ctx, ref.Collection)
	if err != nil {
		return false, err
	}
	res, err := coll.DeleteOne(ctx, byID(ref.ID))
	if err != nil {
		d.logFailure("deleteDocument", ref, err)
		return false, classify(err, "deleteDocument")
	}
	return res.DeletedCount > 0, nil
}
