package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return p.err
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func TestAsync_DeliversAndCloses(t *testing.T) {
	pub := &recordingPublisher{}
	a := NewAsync(pub, 4)
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	a.Send("captures", map[string]string{"result": "ok"})
	a.Send("captures", map[string]string{"result": "not_ready"})
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	a.Wait()
	require.True(t, pub.closed)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	a := NewAsync(&recordingPublisher{}, 1)
	a.Send("t", 1)
	a.Send("t", 2)
	a.Send("t", 3)
	require.Equal(t, uint64(2), a.Dropped())
}

func TestAsync_CountsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nsqd down")}
	a := NewAsync(pub, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	a.Send("t", 1)
	a.Send("t", 2)
	require.Eventually(t, func() bool { return a.Failed() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNewNSQ(t *testing.T) {
	_, err := NewNSQ("")
	require.Error(t, err)

	// Port 1 is never an nsqd; the producer connects lazily and fails on publish.
	p, err := NewNSQ("127.0.0.1:1")
	require.NoError(t, err)
	defer p.Close()
	require.Error(t, p.Publish("captures", map[string]int{"n": 1}))
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	require.NoError(t, p.Publish("t", nil))
	p.Close()
}
