package usecase

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arc-database/internal/database/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	closes atomic.Int32
	err    error
}

func (f *fakeFeed) Close() error {
	f.closes.Add(1)
	return f.err
}

type deliveryLog struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (l *deliveryLog) deliver(ev model.ChangeEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *deliveryLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func newAttached(id, owner string, ref model.Reference, log *deliveryLog) (*Subscription, *fakeFeed) {
	sub := NewSubscription(id, ref, owner, log.deliver)
	feed := &fakeFeed{}
	sub.Attach(feed)
	return sub, feed
}

func TestSubscriptionRegistry_RegisterLookupRemove(t *testing.T) {
	r := NewSubscriptionRegistry(nil)
	log := &deliveryLog{}
	sub, feed := newAttached("s1", "c1", people.Doc("p"), log)

	r.Register(sub)
	got, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Same(t, sub, got)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, people, sub.Target())

	assert.True(t, r.Remove("s1"))
	assert.EqualValues(t, 1, feed.closes.Load())
	_, ok = r.Lookup("s1")
	assert.False(t, ok)

	assert.False(t, r.Remove("s1"), "unknown id is a no-op")
	assert.EqualValues(t, 1, feed.closes.Load())
}

func TestSubscriptionRegistry_ReuseClosesPrior(t *testing.T) {
	r := NewSubscriptionRegistry(nil)
	log := &deliveryLog{}
	first, firstFeed := newAttached("s1", "c1", people, log)
	second, secondFeed := newAttached("s1", "c1", people.Doc("p"), log)

	r.Register(first)
	r.Register(second)

	assert.EqualValues(t, 1, firstFeed.closes.Load())
	assert.Zero(t, secondFeed.closes.Load())
	got, _ := r.Lookup("s1")
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())

	first.Handle(model.ChangeEvent{NewValue: model.Document{"id": "x"}})
	assert.Zero(t, log.len(), "replaced subscription no longer delivers")
}

func TestSubscription_NoDeliveryAfterClose(t *testing.T) {
	log := &deliveryLog{}
	sub, feed := newAttached("s1", "c1", people, log)

	sub.Handle(model.ChangeEvent{NewValue: model.Document{"id": "a"}})
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	sub.Handle(model.ChangeEvent{NewValue: model.Document{"id": "b"}})

	assert.Equal(t, 1, log.len())
	assert.EqualValues(t, 1, feed.closes.Load())
}

func TestSubscription_AttachAfterClose(t *testing.T) {
	sub := NewSubscription("s1", people, "c1", func(model.ChangeEvent) {})
	require.NoError(t, sub.Close())

	feed := &fakeFeed{}
	sub.Attach(feed)
	assert.EqualValues(t, 1, feed.closes.Load())
}

func TestSubscription_CloseError(t *testing.T) {
	sub := NewSubscription("s1", people, "c1", func(model.ChangeEvent) {})
	sub.Attach(&fakeFeed{err: errors.New("cursor gone")})
	assert.EqualError(t, sub.Close(), "cursor gone")
}

func TestSubscriptionRegistry_TerminalEventRemoves(t *testing.T) {
	r := NewSubscriptionRegistry(nil)
	log := &deliveryLog{}
	sub, feed := newAttached("s1", "c1", people, log)
	r.Register(sub)

	sub.Handle(model.ChangeEvent{Err: errors.New("connection lost")})

	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, log.len(), "the error event itself is delivered")
	assert.EqualValues(t, 1, feed.closes.Load())
}

func TestSubscriptionRegistry_RemoveWhereAndCloseAll(t *testing.T) {
	r := NewSubscriptionRegistry(nil)
	log := &deliveryLog{}
	var feeds []*fakeFeed
	for _, tc := range []struct{ id, owner string }{{"a", "c1"}, {"b", "c2"}, {"c", "c1"}} {
		sub, feed := newAttached(tc.id, tc.owner, people, log)
		r.Register(sub)
		feeds = append(feeds, feed)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.IDs())

	n := r.RemoveWhere(func(s *Subscription) bool { return s.Owner == "c1" })
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"b"}, r.IDs())

	assert.Equal(t, 1, r.CloseAll())
	assert.Zero(t, r.Count())
	for _, f := range feeds {
		assert.EqualValues(t, 1, f.closes.Load())
	}
}

func TestSubscriptionRegistry_Watching(t *testing.T) {
	r := NewSubscriptionRegistry(nil)
	log := &deliveryLog{}
	sub, _ := newAttached("s1", "c1", people.Doc("p"), log)
	r.Register(sub)

	assert.True(t, r.Watching(people))
	assert.False(t, r.Watching(people.Database.Collection("other")))
	r.Remove("s1")
	assert.False(t, r.Watching(people))
}

func TestSubscriptionRegistry_ConcurrentRemoveDuringDelivery(t *testing.T) {
	r := NewSubscriptionRegistry(nil)
	log := &deliveryLog{}
	sub, _ := newAttached("s1", "c1", people, log)
	r.Register(sub)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				sub.Handle(model.ChangeEvent{NewValue: model.Document{"id": "x"}})
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	r.Remove("s1")
	after := log.len()
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, after, log.len())
}
