package usecase

import (
	"sort"
	"sync"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/logger"
	"arc-database/internal/shared/metrics"

	"go.uber.org/zap"
)

// Subscription is a registered change feed. Deliveries pass through a gate so
// that once Close returns the callback is never invoked again.
type Subscription struct {
	ID    string
	Ref   model.Reference
	Owner string

	target  model.CollectionReference
	deliver model.ChangeFunc

	gate   sync.Mutex
	closed bool
	feed   repository.Feed

	closeOnce   sync.Once
	closeErr    error
	onTerminate func(*Subscription)
}

// NewSubscription creates an unattached subscription for ref. Deliveries are
// forwarded to deliver until the subscription is closed.
func NewSubscription(id string, ref model.Reference, owner string, deliver model.ChangeFunc) *Subscription {
	s := &Subscription{ID: id, Ref: ref, Owner: owner, deliver: deliver}
	switch r := ref.(type) {
	case model.DocumentReference:
		s.target = r.Collection.WithoutQuery()
	case model.CollectionReference:
		s.target = r.WithoutQuery()
	}
	return s
}

// Target is the collection the subscription watches.
func (s *Subscription) Target() model.CollectionReference {
	return s.target
}

// Attach binds the backend feed that Close releases. A feed attached after
// Close is closed immediately.
func (s *Subscription) Attach(feed repository.Feed) {
	s.gate.Lock()
	closed := s.closed
	if !closed {
		s.feed = feed
	}
	s.gate.Unlock()

	if closed {
		_ = feed.Close()
	}
}

// Handle is the ChangeFunc given to the driver. A terminal event is delivered
// and then the terminate hook runs on its own goroutine, since closing a feed
// from inside its callback would wait on itself.
func (s *Subscription) Handle(ev model.ChangeEvent) {
	s.gate.Lock()
	if s.closed {
		s.gate.Unlock()
		return
	}
	s.deliver(ev)
	s.gate.Unlock()

	metrics.RecordChangeEvent(string(ev.Kind()))
	if ev.Err != nil && s.onTerminate != nil {
		go s.onTerminate(s)
	}
}

// Close stops deliveries and releases the feed. It is idempotent.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.gate.Lock()
		s.closed = true
		feed := s.feed
		s.gate.Unlock()

		if feed != nil {
			s.closeErr = feed.Close()
		}
	})
	return s.closeErr
}

// SubscriptionRegistry maps subscription ids to their live subscriptions and
// is the only component that closes them.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger logger.Logger
}

func NewSubscriptionRegistry(log logger.Logger) *SubscriptionRegistry {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SubscriptionRegistry{
		subs:   make(map[string]*Subscription),
		logger: log.WithComponent("subscription_registry"),
	}
}

// Register maps sub.ID to sub. A subscription already registered under the id
// is closed after being replaced.
func (r *SubscriptionRegistry) Register(sub *Subscription) {
	sub.onTerminate = func(s *Subscription) { r.RemoveIf(s.ID, s) }

	r.mu.Lock()
	prior := r.subs[sub.ID]
	r.subs[sub.ID] = sub
	count := len(r.subs)
	r.mu.Unlock()
	metrics.SetActiveSubscriptions(count)

	if prior != nil && prior != sub {
		r.logger.Warn("Subscription id reused, closing prior feed", zap.String("subscriptionId", sub.ID))
		r.closeSub(prior)
	}
	r.logger.Debug("Subscription registered",
		zap.String("subscriptionId", sub.ID),
		zap.String("ref", sub.Ref.Path()))
}

// Lookup returns the subscription registered under id.
func (r *SubscriptionRegistry) Lookup(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// Remove unregisters and closes the subscription under id. After it returns
// that subscription delivers nothing more. Unknown ids are a no-op.
func (r *SubscriptionRegistry) Remove(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	count := len(r.subs)
	r.mu.Unlock()

	if !ok {
		return false
	}
	metrics.SetActiveSubscriptions(count)
	r.closeSub(sub)
	r.logger.Debug("Subscription removed", zap.String("subscriptionId", id))
	return true
}

// RemoveIf removes id only while it still maps to sub.
func (r *SubscriptionRegistry) RemoveIf(id string, sub *Subscription) bool {
	r.mu.Lock()
	current, ok := r.subs[id]
	if !ok || current != sub {
		r.mu.Unlock()
		sub.Close()
		return false
	}
	delete(r.subs, id)
	count := len(r.subs)
	r.mu.Unlock()

	metrics.SetActiveSubscriptions(count)
	r.closeSub(sub)
	return true
}

// RemoveWhere removes and closes every subscription for which match returns
// true, and returns how many were removed.
func (r *SubscriptionRegistry) RemoveWhere(match func(*Subscription) bool) int {
	r.mu.Lock()
	var removed []*Subscription
	for id, sub := range r.subs {
		if match(sub) {
			removed = append(removed, sub)
			delete(r.subs, id)
		}
	}
	count := len(r.subs)
	r.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	metrics.SetActiveSubscriptions(count)
	for _, sub := range removed {
		r.closeSub(sub)
	}
	return len(removed)
}

// CloseAll closes every registered subscription.
func (r *SubscriptionRegistry) CloseAll() int {
	n := r.RemoveWhere(func(*Subscription) bool { return true })
	if n > 0 {
		r.logger.Info("Closed remaining subscriptions", zap.Int("count", n))
	}
	return n
}

// Count returns the number of active subscriptions.
func (r *SubscriptionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// IDs returns the active subscription ids in sorted order.
func (r *SubscriptionRegistry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Watching implements CollectionWatcher.
func (r *SubscriptionRegistry) Watching(ref model.CollectionReference) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		if sub.target.Equal(ref) {
			return true
		}
	}
	return false
}

func (r *SubscriptionRegistry) closeSub(sub *Subscription) {
	if err := sub.Close(); err != nil {
		r.logger.Warn("Failed to close feed", zap.String("subscriptionId", sub.ID), zap.Error(err))
	}
}
