package pubsub

import (
	"context"
	"fmt"
	"sync"

	"meridian-core-pos-layer/internal/domain"

	"github.com/rs/zerolog"
)

// SyncEventChannel represents one subscription to sync run events
type SyncEventChannel struct {
	ID     string
	Filter *SyncEventFilter
	Events chan *domain.SyncEvent
	Done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// SyncEventFilter filters the events a subscriber receives
type SyncEventFilter struct {
	TenantID string            // Filter by tenant
	States   []domain.RunState // Filter by run states
}

// SyncPubSub fans sync run events out to observers (dashboards, progress
// streams). Delivery is best-effort: a subscriber with a full buffer misses
// events rather than stalling the run.
type SyncPubSub struct {
	mu       sync.RWMutex
	channels map[string]*SyncEventChannel
	logger   zerolog.Logger
	nextID   int64
	idMu     sync.Mutex
}

// NewSyncPubSub creates a new sync event pub/sub
func NewSyncPubSub(logger zerolog.Logger) *SyncPubSub {
	return &SyncPubSub{
		channels: make(map[string]*SyncEventChannel),
		logger:   logger,
	}
}

// Subscribe creates a new subscription channel
func (ps *SyncPubSub) Subscribe(ctx context.Context, filter *SyncEventFilter) *SyncEventChannel {
	ps.idMu.Lock()
	ps.nextID++
	id := fmt.Sprintf("channel-%d", ps.nextID)
	ps.idMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)

	channel := &SyncEventChannel{
		ID:     id,
		Filter: filter,
		Events: make(chan *domain.SyncEvent, 16),
		Done:   make(chan struct{}),
		ctx:    subCtx,
		cancel: cancel,
	}

	ps.mu.Lock()
	ps.channels[id] = channel
	ps.mu.Unlock()

	ps.logger.Debug().
		Str("channelId", id).
		Msg("Sync event subscription created")

	go func() {
		<-subCtx.Done()
		ps.Unsubscribe(id)
	}()

	return channel
}

// Unsubscribe removes a subscription channel
func (ps *SyncPubSub) Unsubscribe(channelID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	channel, exists := ps.channels[channelID]
	if !exists {
		return
	}

	close(channel.Events)
	close(channel.Done)
	channel.cancel()
	delete(ps.channels, channelID)

	ps.logger.Debug().
		Str("channelId", channelID).
		Msg("Sync event subscription removed")
}

// Publish broadcasts an event to all matching subscribers without blocking
func (ps *SyncPubSub) Publish(event *domain.SyncEvent) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, channel := range ps.channels {
		if !matchesFilter(event, channel.Filter) {
			continue
		}
		select {
		case channel.Events <- event:
		case <-channel.ctx.Done():
		default:
			ps.logger.Warn().
				Str("channelId", channel.ID).
				Msg("Subscriber buffer full, dropping sync event")
		}
	}
}

func matchesFilter(event *domain.SyncEvent, filter *SyncEventFilter) bool {
	if filter == nil {
		return true
	}
	if filter.TenantID != "" && event.TenantID != filter.TenantID {
		return false
	}
	if len(filter.States) > 0 {
		match := false
		for _, s := range filter.States {
			if event.State == s {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// ActiveSubscriptions returns the number of live subscriber channels
func (ps *SyncPubSub) ActiveSubscriptions() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.channels)
}
