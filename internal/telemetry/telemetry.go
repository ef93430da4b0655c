// Package telemetry optionally publishes one event per completed
// apply operation onto a NATS subject, for a fleet of installs to
// report home. Disabled by default; publish failures are logged,
// never fatal — apply's correctness never depends on this package.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ApplyEvent summarizes one completed apply operation.
type ApplyEvent struct {
	VersionHash  string        `json:"version_hash"`
	FilesPatched int           `json:"files_patched"`
	BytesFetched int64         `json:"bytes_fetched"`
	Duration     time.Duration `json:"duration_ns"`
	Success      bool          `json:"success"`
}

// Publisher publishes ApplyEvents onto a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger
}

// NewPublisher connects to url and returns a Publisher bound to
// subject. Returns an error if the connection cannot be established;
// callers should treat that as non-fatal for apply's own correctness
// and simply skip telemetry for the run.
func NewPublisher(url, subject string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", url, err)
	}
	return &Publisher{conn: conn, subject: subject, log: log}, nil
}

// Publish sends ev on the publisher's subject. Errors are logged and
// swallowed: telemetry is best-effort.
func (p *Publisher) Publish(ev ApplyEvent) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("telemetry: marshal apply event failed", zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.log.Warn("telemetry: publish apply event failed", zap.Error(err))
	}
}

// Close drains and closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
