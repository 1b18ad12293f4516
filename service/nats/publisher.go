package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing history events to NATS.
type Publisher interface {
	// PublishTransfer publishes a single transfer event to JetStream.
	// The event is published to the subject "history.{account}".
	PublishTransfer(ctx context.Context, event *TransferEvent) error

	// PublishReport publishes one event per transfer in the report.
	PublishReport(ctx context.Context, report *history.Report) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes history events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for history events.
	StreamName = "HISTORY"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "history.*"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// Subject returns the subject events for account are published on.
func Subject(account string) string {
	return "history." + account
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("tmhistory-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		p.logger.Debug("JetStream stream already exists", "stream", StreamName)
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Transfers found in fetched account histories",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishTransfer publishes a single transfer event.
func (p *JetStreamPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	subject := Subject(event.Account)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish transfer: %w", err)
	}

	p.logger.Debug("published transfer event",
		"subject", subject,
		"tx_hash", event.TxHash,
		"direction", event.Direction,
	)
	return nil
}

// PublishReport publishes every transfer of report. A failed event is
// logged and does not stop the rest; the error reports how many failed.
func (p *JetStreamPublisher) PublishReport(ctx context.Context, report *history.Report) error {
	events := EventsFromReport(report)
	failed := 0
	for _, event := range events {
		if err := p.PublishTransfer(ctx, event); err != nil {
			failed++
			p.logger.Error("failed to publish transfer in report",
				"run_id", report.RunID,
				"tx_hash", event.TxHash,
				"error", err,
			)
		}
	}

	p.logger.Debug("published report",
		"run_id", report.RunID,
		"account", report.Account,
		"events", len(events),
		"failed", failed,
	)

	if failed > 0 {
		return fmt.Errorf("failed to publish %d of %d transfer events", failed, len(events))
	}
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
