package widget

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/podc/assistant-widget/internal/model/widget"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster fans session events out to live subscribers, such as the
// websocket feed of an embedded panel.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan widget.Event // sessionID -> subID -> ch
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan widget.Event),
	}
}

// Subscribe registers for events of one session. The subscription is removed
// and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan widget.Event, string) {
	subID := uuid.NewString()
	ch := make(chan widget.Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan widget.Event)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish delivers event to every subscriber of sessionID. It never blocks:
// subscribers with a full buffer miss the event.
func (b *Broadcaster) Publish(sessionID string, event widget.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[sessionID] {
		select {
		case ch <- event:
		default:
			log.Printf("[widget] dropped %s event for slow subscriber session=%s sub=%s", event.Type, sessionID, subID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}
}
