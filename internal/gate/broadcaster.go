package gate

import "sync"

// Broadcaster fans gate states out to listeners (SSE, UDP, GPIO). New
// subscribers get the most recent state immediately. Slow listeners miss
// intermediate states rather than blocking the reducer.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan State
	nextID   int
	last     State
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan State)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan State) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan State, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(st State) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.last = st
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
			// Drop the oldest queued state so the newest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
	b.mu.Unlock()
}

// Last returns the most recently published state.
func (b *Broadcaster) Last() (State, bool) {
	if b == nil {
		return State{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

// Subscribers returns the current listener count.
func (b *Broadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
