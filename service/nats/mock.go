package nats

import (
	"context"
	"sync"

	"github.com/brojonat/tmhistory/service/history"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*TransferEvent
	reports         []*history.Report
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*TransferEvent, 0),
	}
}

// PublishTransfer records the event and returns any configured error.
func (m *MockPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishReport records the report and its events.
func (m *MockPublisher) PublishReport(ctx context.Context, report *history.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.reports = append(m.reports, report)
	m.publishedEvents = append(m.publishedEvents, EventsFromReport(report)...)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransferEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedReports returns a copy of all published reports.
func (m *MockPublisher) GetPublishedReports() []*history.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reports := make([]*history.Report, len(m.reports))
	copy(reports, m.reports)
	return reports
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
