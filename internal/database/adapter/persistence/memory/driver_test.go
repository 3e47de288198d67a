package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var people = model.DatabaseReference{Name: "app"}.Collection("people")

func newOpenDriver(t *testing.T, collections ...model.CollectionReference) *Driver {
	t.Helper()
	ctx := context.Background()
	d := New(nil)
	require.NoError(t, d.Open(ctx))
	for _, c := range collections {
		require.NoError(t, d.CreateCollection(ctx, c))
	}
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func seed(t *testing.T, d *Driver, ref model.CollectionReference, docs ...map[string]interface{}) {
	t.Helper()
	for _, doc := range docs {
		_, err := d.CreateDocument(context.Background(), ref, doc)
		require.NoError(t, err)
	}
}

func ids(docs []model.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

// recorder collects feed events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	signal chan struct{}
}

func newRecorder() *recorder { return &recorder{signal: make(chan struct{}, 100)} }

func (r *recorder) onChange(ev model.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) waitFor(t *testing.T, n int) []model.ChangeEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]model.ChangeEvent(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDriver_CreateThenRead(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)

	created, err := d.CreateDocument(ctx, people, map[string]interface{}{"name": "ada", "tags": []interface{}{"x"}})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID())

	read, found, err := d.ReadDocument(ctx, people.Doc(created.ID()))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, created, read)
	assert.Equal(t, model.Document{"id": created.ID(), "name": "ada", "tags": []interface{}{"x"}}, read)
}

func TestDriver_CreateHonoursCallerID(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)

	doc, err := d.CreateDocument(ctx, people, map[string]interface{}{"id": "ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, "ada", doc.ID())

	_, err = d.CreateDocument(ctx, people, map[string]interface{}{"id": "ada"})
	assert.True(t, errors.IsDuplicateID(err))
}

func TestDriver_ReadMissingDocument(t *testing.T) {
	d := newOpenDriver(t, people)
	doc, found, err := d.ReadDocument(context.Background(), people.Doc("nobody"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestDriver_ReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	created, err := d.CreateDocument(ctx, people, map[string]interface{}{"id": "a", "n": 1})
	require.NoError(t, err)

	created["n"] = 99
	read, _, _ := d.ReadDocument(ctx, people.Doc("a"))
	assert.Equal(t, 1, read["n"])
}

func TestDriver_UpdateMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	seed(t, d, people, map[string]interface{}{"id": "p", "a": 1, "b": 2})

	merged, changed, err := d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"b": 3}, repository.UpdateOptions{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.Document{"id": "p", "a": 1, "b": 3}, merged)

	replaced, changed, err := d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"b": 3}, repository.UpdateOptions{Replace: true})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.Document{"id": "p", "b": 3}, replaced)

	read, _, _ := d.ReadDocument(ctx, people.Doc("p"))
	assert.Equal(t, replaced, read)
}

func TestDriver_UpdateUpsertsMissingDocument(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)

	doc, changed, err := d.UpdateDocument(ctx, people.Doc("new"), map[string]interface{}{"x": 1}, repository.UpdateOptions{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.Document{"id": "new", "x": 1}, doc)
}

func TestDriver_UpdateWithoutChange(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	seed(t, d, people, map[string]interface{}{"id": "p", "a": 1})

	doc, changed, err := d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"a": 1}, repository.UpdateOptions{})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.Document{"id": "p", "a": 1}, doc)
}

func TestDriver_UpdateCannotOverrideID(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)

	doc, _, err := d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"id": "other"}, repository.UpdateOptions{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, "p", doc.ID())
}

func TestDriver_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	seed(t, d, people, map[string]interface{}{"id": "p"})

	deleted, err := d.DeleteDocument(ctx, people.Doc("p"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = d.DeleteDocument(ctx, people.Doc("p"))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDriver_ReadCollectionFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	seed(t, d, people,
		map[string]interface{}{"id": "one", "x": 1},
		map[string]interface{}{"id": "two", "x": 2},
		map[string]interface{}{"id": "three", "x": 3},
	)

	gt := people.WithQuery(model.Query{Where: []model.Filter{{Field: "x", Operator: ">", Value: 1}}})
	docs, err := d.ReadCollection(ctx, gt)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"two", "three"}, ids(docs))

	desc := gt.WithQuery(model.Query{
		Where:   []model.Filter{{Field: "x", Operator: ">", Value: float64(1)}},
		OrderBy: []model.Order{{Field: "x", Direction: model.Descending}},
	})
	docs, err = d.ReadCollection(ctx, desc)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two"}, ids(docs))

	limited := people.WithQuery(model.Query{OrderBy: []model.Order{{Field: "x", Direction: model.Ascending}}}.WithLimit(2))
	docs, err = d.ReadCollection(ctx, limited)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, ids(docs))

	zero := people.WithQuery(model.Query{}.WithLimit(0))
	docs, err = d.ReadCollection(ctx, zero)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDriver_ReadCollectionOperators(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	seed(t, d, people,
		map[string]interface{}{"id": "a", "age": 20, "name": "ann", "address": map[string]interface{}{"city": "oslo"}},
		map[string]interface{}{"id": "b", "age": 30, "name": "bob"},
		map[string]interface{}{"id": "c", "name": "cy"},
		map[string]interface{}{"id": "d", "age": "thirty"},
	)

	tests := []struct {
		name   string
		filter model.Filter
		want   []string
	}{
		{"equal", model.Filter{Field: "age", Operator: "==", Value: 30}, []string{"b"}},
		{"not equal includes missing", model.Filter{Field: "age", Operator: "!=", Value: 30}, []string{"a", "c", "d"}},
		{"less than", model.Filter{Field: "age", Operator: "<", Value: 30}, []string{"a"}},
		{"less or equal", model.Filter{Field: "age", Operator: "<=", Value: 30}, []string{"a", "b"}},
		{"greater or equal", model.Filter{Field: "age", Operator: ">=", Value: 20.0}, []string{"a", "b"}},
		{"string range", model.Filter{Field: "name", Operator: ">", Value: "b"}, []string{"b", "c"}},
		{"nested field", model.Filter{Field: "address.city", Operator: "==", Value: "oslo"}, []string{"a"}},
		{"missing field is not comparable", model.Filter{Field: "height", Operator: ">", Value: 0}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := d.ReadCollection(ctx, people.WithQuery(model.Query{Where: []model.Filter{tt.filter}}))
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(docs))
		})
	}
}

func TestDriver_ReadCollectionRejectsInvalidQuery(t *testing.T) {
	d := newOpenDriver(t, people)
	_, err := d.ReadCollection(context.Background(), people.WithQuery(model.Query{Where: []model.Filter{{Field: "x", Operator: "~", Value: 1}}}))
	assert.Equal(t, errors.ErrorTypeInvalidQuery, errors.KindOf(err))
}

func TestDriver_BackingStoreMissing(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t)
	doc := people.Doc("x")

	_, _, err := d.ReadDocument(ctx, doc)
	assert.True(t, errors.IsBackingStoreMissing(err))
	_, err = d.ReadCollection(ctx, people)
	assert.True(t, errors.IsBackingStoreMissing(err))
	_, err = d.CreateDocument(ctx, people, map[string]interface{}{})
	assert.True(t, errors.IsBackingStoreMissing(err))
	_, _, err = d.UpdateDocument(ctx, doc, map[string]interface{}{}, repository.UpdateOptions{})
	assert.True(t, errors.IsBackingStoreMissing(err))
	_, err = d.DeleteDocument(ctx, doc)
	assert.True(t, errors.IsBackingStoreMissing(err))
	_, err = d.CountDocuments(ctx, people)
	assert.True(t, errors.IsBackingStoreMissing(err))
	_, err = d.SubscribeDocument(ctx, doc, func(model.ChangeEvent) {})
	assert.True(t, errors.IsBackingStoreMissing(err))
}

func TestDriver_SchemaOperations(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t)
	db := model.DatabaseReference{Name: "app"}

	ok, err := d.HasCollection(ctx, people)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.CreateCollection(ctx, db.Collection("zebras")))
	require.NoError(t, d.CreateCollection(ctx, people))
	require.NoError(t, d.CreateCollection(ctx, people), "creating twice succeeds")
	require.NoError(t, d.CreateCollection(ctx, model.DatabaseReference{Name: "other"}.Collection("x")))

	names, err := d.ListCollections(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"people", "zebras"}, names)

	seed(t, d, people, map[string]interface{}{"a": 1}, map[string]interface{}{"a": 2})
	n, err := d.CountDocuments(ctx, people)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, d.DropCollection(ctx, people))
	require.NoError(t, d.DropCollection(ctx, people), "dropping twice succeeds")
	names, _ = d.ListCollections(ctx, db)
	assert.Equal(t, []string{"zebras"}, names)

	empty, err := d.ListCollections(ctx, model.DatabaseReference{Name: "nothing"})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestDriver_DropCollectionIfEmpty(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)

	seed(t, d, people, map[string]interface{}{"id": "p"})
	dropped, err := d.DropCollectionIfEmpty(ctx, people)
	require.NoError(t, err)
	assert.False(t, dropped)
	ok, _ := d.HasCollection(ctx, people)
	assert.True(t, ok)

	_, err = d.DeleteDocument(ctx, people.Doc("p"))
	require.NoError(t, err)
	dropped, err = d.DropCollectionIfEmpty(ctx, people)
	require.NoError(t, err)
	assert.True(t, dropped)
	ok, _ = d.HasCollection(ctx, people)
	assert.False(t, ok)

	_, err = d.DropCollectionIfEmpty(ctx, people)
	assert.True(t, errors.IsBackingStoreMissing(err))
}

func TestDriver_ClosedDriverIsUnavailable(t *testing.T) {
	ctx := context.Background()
	d := New(nil)
	assert.True(t, errors.IsBackendUnavailable(d.Ping(ctx)))
	_, err := d.HasCollection(ctx, people)
	assert.True(t, errors.IsBackendUnavailable(err))

	require.NoError(t, d.Open(ctx))
	assert.NoError(t, d.Ping(ctx))
	require.NoError(t, d.Close(ctx))
	assert.True(t, errors.IsBackendUnavailable(d.Ping(ctx)))
}

func TestDriver_DocumentFeed(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	rec := newRecorder()

	feed, err := d.SubscribeDocument(ctx, people.Doc("p"), rec.onChange)
	require.NoError(t, err)
	defer feed.Close()

	seed(t, d, people, map[string]interface{}{"id": "p", "v": 1}, map[string]interface{}{"id": "other"})
	_, _, err = d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"v": 2}, repository.UpdateOptions{})
	require.NoError(t, err)
	_, _, err = d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"v": 3}, repository.UpdateOptions{})
	require.NoError(t, err)
	_, err = d.DeleteDocument(ctx, people.Doc("p"))
	require.NoError(t, err)

	events := rec.waitFor(t, 4)
	require.Len(t, events, 4)
	assert.Equal(t, model.ChangeCreated, events[0].Kind())
	assert.Equal(t, model.Document{"id": "p", "v": 1}, events[0].NewValue)
	assert.Equal(t, model.Document{"id": "p", "v": 1}, events[1].OldValue)
	assert.Equal(t, model.Document{"id": "p", "v": 2}, events[1].NewValue)
	assert.Equal(t, model.Document{"id": "p", "v": 3}, events[2].NewValue)
	assert.Equal(t, model.ChangeDeleted, events[3].Kind())
	assert.Equal(t, model.Document{"id": "p", "v": 3}, events[3].OldValue)
}

func TestDriver_UnchangedUpdateIsNotDelivered(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	seed(t, d, people, map[string]interface{}{"id": "p", "v": 1})
	rec := newRecorder()

	feed, err := d.SubscribeCollection(ctx, people, rec.onChange)
	require.NoError(t, err)
	defer feed.Close()

	_, _, _ = d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"v": 1}, repository.UpdateOptions{})
	_, _, _ = d.UpdateDocument(ctx, people.Doc("p"), map[string]interface{}{"v": 2}, repository.UpdateOptions{})

	events := rec.waitFor(t, 1)
	assert.Equal(t, 2, events[0].NewValue["v"])
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestDriver_CollectionFeedOrdering(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	rec := newRecorder()

	feed, err := d.SubscribeCollection(ctx, people, rec.onChange)
	require.NoError(t, err)
	defer feed.Close()

	const n = 50
	for i := 0; i < n; i++ {
		_, _, err := d.UpdateDocument(ctx, people.Doc("counter"), map[string]interface{}{"n": i}, repository.UpdateOptions{})
		require.NoError(t, err)
	}

	events := rec.waitFor(t, n)
	for i, ev := range events {
		assert.Equal(t, i, ev.NewValue["n"])
	}
}

func TestDriver_FeedCloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	rec := newRecorder()

	feed, err := d.SubscribeCollection(ctx, people, rec.onChange)
	require.NoError(t, err)

	seed(t, d, people, map[string]interface{}{"id": "a"})
	rec.waitFor(t, 1)

	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close(), "close is idempotent")
	seed(t, d, people, map[string]interface{}{"id": "b"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestDriver_DropTerminatesFeeds(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)
	rec := newRecorder()

	feed, err := d.SubscribeCollection(ctx, people, rec.onChange)
	require.NoError(t, err)

	require.NoError(t, d.DropCollection(ctx, people))
	events := rec.waitFor(t, 1)
	assert.Equal(t, model.ChangeError, events[0].Kind())
	assert.True(t, errors.IsBackingStoreMissing(events[0].Err))

	require.NoError(t, d.CreateCollection(ctx, people))
	seed(t, d, people, map[string]interface{}{"id": "late"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.NoError(t, feed.Close())
}

func TestDriver_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	d := newOpenDriver(t, people)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.CreateDocument(ctx, people, map[string]interface{}{"v": 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := d.CountDocuments(ctx, people)
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
}
