package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu               sync.RWMutex
	publishedSwaps   []*SwapEvent
	publishedSyncs   []*SyncEvent
	publishError     error
	publishSyncError error
	closed           bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedSwaps: make([]*SwapEvent, 0),
	}
}

// PublishSwap records the event and returns any configured error.
func (m *MockPublisher) PublishSwap(ctx context.Context, event *SwapEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedSwaps = append(m.publishedSwaps, event)
	return nil
}

// PublishSwapBatch records the events and returns any configured error.
func (m *MockPublisher) PublishSwapBatch(ctx context.Context, events []*SwapEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedSwaps = append(m.publishedSwaps, events...)
	return nil
}

// PublishSyncResult records the sync summary and returns any configured error.
func (m *MockPublisher) PublishSyncResult(ctx context.Context, event *SyncEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishSyncError != nil {
		return m.publishSyncError
	}

	m.publishedSyncs = append(m.publishedSyncs, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedSwaps returns all published swap events (for testing).
func (m *MockPublisher) GetPublishedSwaps() []*SwapEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*SwapEvent, len(m.publishedSwaps))
	copy(events, m.publishedSwaps)
	return events
}

// GetPublishedSyncs returns all published sync summaries (for testing).
func (m *MockPublisher) GetPublishedSyncs() []*SyncEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*SyncEvent, len(m.publishedSyncs))
	copy(events, m.publishedSyncs)
	return events
}

// GetPublishedSwapsForWallet returns swap events published for a specific wallet.
func (m *MockPublisher) GetPublishedSwapsForWallet(address string) []*SwapEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*SwapEvent, 0)
	for _, event := range m.publishedSwaps {
		if event.WalletAddress == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on swap publishes.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishSyncError configures the mock to return an error on PublishSyncResult.
func (m *MockPublisher) SetPublishSyncError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishSyncError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedSwaps = make([]*SwapEvent, 0)
	m.publishedSyncs = nil
	m.publishError = nil
	m.publishSyncError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
