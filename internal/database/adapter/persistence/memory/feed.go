package memory

import (
	"sync"

	"arc-database/internal/database/domain/model"
)

// feed delivers queued events on its own goroutine. The queue is unbounded so
// writers never block on a slow subscriber.
type feed struct {
	driver   *Driver
	target   model.CollectionReference
	docID    string
	onChange model.ChangeFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []model.ChangeEvent
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

func newFeed(d *Driver, target model.CollectionReference, docID string, onChange model.ChangeFunc) *feed {
	f := &feed{
		driver:   d,
		target:   target,
		docID:    docID,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *feed) push(ev model.ChangeEvent) {
	f.mu.Lock()
	if !f.closed {
		f.queue = append(f.queue, ev)
		f.cond.Signal()
	}
	f.mu.Unlock()
}

func (f *feed) next() (model.ChangeEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queue) == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		return model.ChangeEvent{}, false
	}
	ev := f.queue[0]
	f.queue[0] = model.ChangeEvent{}
	f.queue = f.queue[1:]
	if ev.Err != nil {
		f.closed = true
		f.queue = nil
	}
	return ev, true
}

func (f *feed) run() {
	defer close(f.done)
	for {
		ev, ok := f.next()
		if !ok {
			return
		}
		f.onChange(ev)
		if ev.Err != nil {
			f.driver.removeFeed(f)
			return
		}
	}
}

// Close stops delivery and waits for an in-flight callback to return. It must
// not be called from inside the feed's own callback.
func (f *feed) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.queue = nil
		f.cond.Broadcast()
		f.mu.Unlock()
		f.driver.removeFeed(f)
	})
	<-f.done
	return nil
}
