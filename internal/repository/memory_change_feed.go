package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/noah-isme/reentry-case-api/internal/models"
)

const subscriberBuffer = 256

// MemoryChangeFeed fans events out to in-process subscribers.
type MemoryChangeFeed struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]chan models.ParticipantEvent
}

// NewMemoryChangeFeed constructs an empty feed.
func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{subscribers: make(map[int]chan models.ParticipantEvent)}
}

// Publish delivers the event to every subscriber without blocking. A
// subscriber whose buffer is full misses the event and an error is returned.
func (f *MemoryChangeFeed) Publish(_ context.Context, event models.ParticipantEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	dropped := 0
	for _, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("participant event %s dropped for %d lagging subscribers", event.ParticipantID, dropped)
	}
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled.
func (f *MemoryChangeFeed) Subscribe(ctx context.Context) (<-chan models.ParticipantEvent, error) {
	ch := make(chan models.ParticipantEvent, subscriberBuffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subscribers[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subscribers, id)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}
