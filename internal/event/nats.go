// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams report lifecycle and certificate events for downstream consumers
// and audit trails.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publisher interface defines the event publishing operations required by the
// report service.
type Publisher interface {
	// Report lifecycle events
	PublishReportCompleted(ctx context.Context, report model.VehicleReport) error
	PublishReportFailed(ctx context.Context, report model.VehicleReport) error

	// Certificate events
	PublishCertificateAttached(ctx context.Context, cert model.Certificate) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
// It implements all Publisher methods but does nothing, allowing the service
// to function without event streaming when NATS is not available.
type noop struct{}

// Close implements Publisher
func (n *noop) Close() error { return nil }

// PublishReportCompleted implements Publisher
func (n *noop) PublishReportCompleted(ctx context.Context, report model.VehicleReport) error {
	return nil
}

// PublishReportFailed implements Publisher
func (n *noop) PublishReportFailed(ctx context.Context, report model.VehicleReport) error {
	return nil
}

// PublishCertificateAttached implements Publisher
func (n *noop) PublishCertificateAttached(ctx context.Context, cert model.Certificate) error {
	return nil
}

// natsPub is the NATS JetStream implementation of Publisher.
// It connects to a NATS server and publishes events to JetStream streams.
type natsPub struct {
	nc *nats.Conn            // NATS connection
	js nats.JetStreamContext // JetStream context for stream operations

	// Deduplication fields
	reportDedup map[string]time.Time // Map of report IDs to last publish time
	certDedup   map[string]time.Time // Map of certificate IDs to last publish time
	mutex       sync.RWMutex         // Mutex for thread-safe access to dedup maps
}

// NewPublisherFromEnv creates a new publisher based on environment configuration.
// It reads the VHR_NATS_URL environment variable to determine if NATS should be
// used. If NATS is not configured or connection fails, it returns a no-op
// publisher.
func NewPublisherFromEnv() Publisher {
	url := os.Getenv("VHR_NATS_URL")
	if url == "" {
		return &noop{}
	}
	return NewPublisher(url)
}

// NewPublisher connects to the given NATS URL and initializes the streams.
// It falls back to a no-op publisher when the connection or stream setup fails.
func NewPublisher(url string) Publisher {
	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:          nc,
		js:          js,
		reportDedup: make(map[string]time.Time),
		certDedup:   make(map[string]time.Time),
	}
}

// initStreams initializes the required NATS streams.
// It creates the VHR_REPORTS and VHR_CERTIFICATES streams with appropriate
// configurations.
func initStreams(js nats.JetStreamContext) error {
	// VHR_REPORTS carries report lifecycle events
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "VHR_REPORTS",
		Subjects:  []string{"vhr.reports.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create VHR_REPORTS stream: %w", err)
	}

	// VHR_CERTIFICATES carries certificate attachment events
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      "VHR_CERTIFICATES",
		Subjects:  []string{"vhr.certificates.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create VHR_CERTIFICATES stream: %w", err)
	}

	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// shouldDedup checks if an event should be deduplicated based on the 2-minute window.
func (p *natsPub) shouldDedup(key string, dedupMap map[string]time.Time) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if lastTime, exists := dedupMap[key]; exists {
		return time.Since(lastTime) < 2*time.Minute
	}

	return false
}

// updateDedup updates the deduplication map with the current time for a given key.
// This should be called after successfully publishing an event.
func (p *natsPub) updateDedup(key string, dedupMap map[string]time.Time) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Clean up old entries to prevent memory leaks
	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range dedupMap {
		if t.Before(cutoff) {
			delete(dedupMap, k)
		}
	}

	dedupMap[key] = time.Now()
}

// publish wraps a payload in the standard envelope and sends it to the stream.
func (p *natsPub) publish(subject, eventType string, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(subject, b)
	return err
}

// PublishReportCompleted publishes a report completed event.
// It wraps the report in an event envelope and publishes it to the
// VHR_REPORTS stream.
func (p *natsPub) PublishReportCompleted(ctx context.Context, report model.VehicleReport) error {
	if p.shouldDedup(report.ID, p.reportDedup) {
		return nil
	}

	if err := p.publish("vhr.reports.completed", "vhr.reports.completed", report); err != nil {
		return err
	}

	p.updateDedup(report.ID, p.reportDedup)
	return nil
}

// PublishReportFailed publishes a report failed event for reports sealed in
// the error status.
func (p *natsPub) PublishReportFailed(ctx context.Context, report model.VehicleReport) error {
	if p.shouldDedup(report.ID, p.reportDedup) {
		return nil
	}

	if err := p.publish("vhr.reports.failed", "vhr.reports.failed", report); err != nil {
		return err
	}

	p.updateDedup(report.ID, p.reportDedup)
	return nil
}

// PublishCertificateAttached publishes a certificate attached event after a
// finalized upload is verified and linked to its report.
func (p *natsPub) PublishCertificateAttached(ctx context.Context, cert model.Certificate) error {
	if p.shouldDedup(cert.CertID, p.certDedup) {
		return nil
	}

	if err := p.publish("vhr.certificates.attached", "vhr.certificates.attached", cert); err != nil {
		return err
	}

	p.updateDedup(cert.CertID, p.certDedup)
	return nil
}
