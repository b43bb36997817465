package store

import (
	"context"
	"sync"
)

// Hub fans change signals out to subscriptions keyed by topic. It is the
// delivery engine behind the change feeds of stores that have no native
// snapshot mechanism.
//
// Each subscription owns one goroutine that calls its deliver function once
// on start and again after every [Hub.Notify] for its topic. Signals arriving
// while deliver runs coalesce into a single follow-up call, so a slow
// consumer sees the latest state rather than a backlog.
//
// The zero value is ready to use.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

type hubSub struct {
	topic  string
	notify chan struct{}
	cancel context.CancelFunc
}

// Watch registers deliver under topic and returns a function that stops it.
// The subscription also ends when ctx is cancelled or the hub is closed.
func (h *Hub) Watch(ctx context.Context, topic string, deliver func(context.Context)) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	sub := &hubSub{
		topic:  topic,
		notify: make(chan struct{}, 1),
		cancel: cancel,
	}
	sub.notify <- struct{}{}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return func() {}
	}
	if h.subs == nil {
		h.subs = make(map[*hubSub]struct{})
	}
	h.subs[sub] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		defer h.remove(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
				if ctx.Err() != nil {
					return
				}
				deliver(ctx)
			}
		}
	}()

	return CancelFunc(cancel)
}

// Notify signals every subscription registered under topic.
func (h *Hub) Notify(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Close stops all subscriptions and waits for their goroutines to exit.
// Watch calls after Close return a no-op cancel function.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for sub := range h.subs {
		sub.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) remove(sub *hubSub) {
	sub.cancel()
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Topic helpers shared by store implementations.

// SessionTopic is the hub topic for changes to one session document.
func SessionTopic(id string) string { return "sessions/" + id }

// NotesTopic is the hub topic for changes to a session's notes.
func NotesTopic(sessionID string) string { return "notes/" + sessionID }

// ResponsesTopic is the hub topic for changes to a session's responses.
func ResponsesTopic(sessionID string) string { return "responses/" + sessionID }
