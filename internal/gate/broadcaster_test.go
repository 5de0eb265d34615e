package gate

import "testing"

func TestBroadcaster_ReplaysLast(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(State{Seq: 7})
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)
	if got := (<-ch).Seq; got != 7 {
		t.Fatalf("got=%d want=7", got)
	}
}

func TestBroadcaster_NewestWins(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)
	for i := uint64(1); i <= 5; i++ {
		b.Publish(State{Seq: i})
	}
	if got := (<-ch).Seq; got != 5 {
		t.Fatalf("got=%d want=5", got)
	}
}

func TestBroadcaster_UnsubscribeCloses(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe(0)
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", b.Subscribers())
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(State{Seq: 1})
}
