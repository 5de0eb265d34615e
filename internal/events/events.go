// Package events publishes capture and gate events to an NSQ topic for
// downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/nsqio/go-nsq"
)

type Publisher interface {
	Publish(topic string, v any) error
	Close()
}

// NSQ publishes JSON messages to a single nsqd.
type NSQ struct {
	producer *nsq.Producer
}

func NewNSQ(addr string) (*NSQ, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("events: nsqd addr is required")
	}
	cfg := nsq.NewConfig()
	cfg.UserAgent = "northcam"
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: producer: %w", err)
	}
	p.SetLogger(log.Default(), nsq.LogLevelWarning)
	return &NSQ{producer: p}, nil
}

func (n *NSQ) Publish(topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := n.producer.Publish(topic, body); err != nil {
		return fmt.Errorf("events: publish %s: %w", topic, err)
	}
	return nil
}

func (n *NSQ) Close() { n.producer.Stop() }

// Noop discards everything.
type Noop struct{}

func (Noop) Publish(string, any) error { return nil }
func (Noop) Close()                    {}

type message struct {
	topic string
	v     any
}

// Async decouples callers from the broker: Send never blocks, and messages
// are dropped when the queue is full.
type Async struct {
	pub     Publisher
	ch      chan message
	dropped atomic.Uint64
	failed  atomic.Uint64
	done    chan struct{}
}

func NewAsync(pub Publisher, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	return &Async{pub: pub, ch: make(chan message, buffer), done: make(chan struct{})}
}

func (a *Async) Send(topic string, v any) {
	select {
	case a.ch <- message{topic: topic, v: v}:
	default:
		a.dropped.Add(1)
	}
}

// Start drains the queue until ctx ends, then closes the publisher.
func (a *Async) Start(ctx context.Context) {
	go func() {
		defer close(a.done)
		defer a.pub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-a.ch:
				if err := a.pub.Publish(m.topic, m.v); err != nil {
					if a.failed.Add(1) == 1 {
						log.Printf("events: publish failed err=%v", err)
					}
				}
			}
		}
	}()
}

// Wait blocks until the drain goroutine has exited.
func (a *Async) Wait() { <-a.done }

func (a *Async) Dropped() uint64 { return a.dropped.Load() }
func (a *Async) Failed() uint64  { return a.failed.Load() }
