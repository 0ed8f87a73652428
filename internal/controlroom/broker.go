package controlroom

import (
	"sync"

	"controlroom/internal/snapshot"
)

// broker fans published views out to subscribers.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan *snapshot.ConsolidatedView
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan *snapshot.ConsolidatedView)}
}

func (b *broker) subscribe() (<-chan *snapshot.ConsolidatedView, func()) {
	ch := make(chan *snapshot.ConsolidatedView, 1)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// notify never blocks: a pending view the subscriber has not taken yet is
// replaced by v.
func (b *broker) notify(v *snapshot.ConsolidatedView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (b *broker) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
