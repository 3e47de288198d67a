package mongodb

import (
	"context"
	"sync"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// streamEvent is the subset of a change stream document the feeds use.
type streamEvent struct {
	OperationType            string `bson:"operationType"`
	FullDocument             bson.M `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M `bson:"fullDocumentBeforeChange"`
	DocumentKey              struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
}

// toChangeEvent converts a stream entry. skip is set for operation types that
// carry no document change; an event with Err set ends the feed. A missing
// pre-image is reported as the bare {id} document.
func (e streamEvent) toChangeEvent(ref model.CollectionReference) (ev model.ChangeEvent, skip bool) {
	id := idString(e.DocumentKey.ID)
	idOnly := model.Document{model.IDField: id}

	before := fromStored(e.FullDocumentBeforeChange)
	if before == nil {
		before = idOnly
	}

	switch e.OperationType {
	case "insert":
		return model.ChangeEvent{NewValue: fromStored(e.FullDocument)}, false
	case "update", "replace":
		after := fromStored(e.FullDocument)
		if after == nil {
			after = idOnly
		}
		return model.ChangeEvent{OldValue: before, NewValue: after}, false
	case "delete":
		return model.ChangeEvent{OldValue: before}, false
	case "drop", "rename", "dropDatabase", "invalidate":
		return model.ChangeEvent{Err: errors.NewBackingStoreMissingError(ref.Path()).
			WithDetail("reason", e.OperationType).WithComponent(DriverName)}, false
	}
	return model.ChangeEvent{}, true
}

// changeFeed owns one change stream and the goroutine reading it.
type changeFeed struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Close cancels the stream and waits for the reader to exit. It must not be
// called from inside the feed's own callback.
func (f *changeFeed) Close() error {
	f.closeOnce.Do(f.cancel)
	<-f.done
	return nil
}

func (d *Driver) SubscribeDocument(ctx context.Context, ref model.DocumentReference, onChange model.ChangeFunc) (repository.Feed, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: ref.ID}}}}}
	return d.watch(ctx, ref.Collection, pipeline, onChange)
}

// SubscribeCollection watches every document of the collection; the attached query is not applied.
func (d *Driver) SubscribeCollection(ctx context.Context, ref model.CollectionReference, onChange model.ChangeFunc) (repository.Feed, error) {
	return d.watch(ctx, ref, mongo.Pipeline{}, onChange)
}

func (d *Driver) watch(ctx context.Context, ref model.CollectionReference, pipeline mongo.Pipeline, onChange model.ChangeFunc) (repository.Feed, error) {
	coll, err := d.existingCollection(ctx, ref)
	if err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	stream, err := coll.Watch(feedCtx, pipeline, options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable))
	if err != nil {
		cancel()
		d.logFailure("watch", ref, err)
		return nil, classify(err, "watch")
	}

	f := &changeFeed{cancel: cancel, done: make(chan struct{})}
	go d.consume(feedCtx, f, stream, ref, onChange)
	return f, nil
}

func (d *Driver) consume(ctx context.Context, f *changeFeed, stream *mongo.ChangeStream, ref model.CollectionReference, onChange model.ChangeFunc) {
	defer close(f.done)
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var raw streamEvent
		if err := stream.Decode(&raw); err != nil {
			onChange(model.ChangeEvent{Err: classify(err, "decode change")})
			return
		}
		ev, skip := raw.toChangeEvent(ref)
		if skip {
			continue
		}
		onChange(ev)
		if ev.Err != nil {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	err := classify(stream.Err(), "change stream")
	if err == nil {
		err = errors.NewBackendUnavailableError("change stream ended").WithComponent(DriverName)
	}
	d.logger.Warn("Change stream terminated", zap.String("collection", ref.Path()), zap.Error(err))
	onChange(model.ChangeEvent{Err: err})
}
