package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/entrhq/formforge/pkg/form"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "formforge.outcomes"

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes ResultRecords to <subject>.result and RunRecords to
// <subject>.run.
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// NewNATSSink publishes through pub.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject}
}

// DialNATS connects to url and returns a sink owning the connection.
func DialNATS(url, subject string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("formforge-outcome"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	s := NewNATSSink(nc, subject)
	s.conn = nc
	return s, nil
}

// ResultSubject is where ExecutionResults are published.
func (s *NATSSink) ResultSubject() string { return s.subject + ".result" }

// RunSubject is where finalized runs are published.
func (s *NATSSink) RunSubject() string { return s.subject + ".run" }

func (s *NATSSink) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome record: %w", err)
	}
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// WriteResult implements Sink.
func (s *NATSSink) WriteResult(ctx context.Context, runID string, res form.ExecutionResult) error {
	return s.publish(s.ResultSubject(), NewResultRecord(runID, res))
}

// WriteRun implements Sink.
func (s *NATSSink) WriteRun(ctx context.Context, out *form.RunOutcome) error {
	return s.publish(s.RunSubject(), NewRunRecord(out))
}

// Close flushes and closes a connection opened by DialNATS.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Flush(); err != nil {
		debugLog.Warnf("Failed to flush NATS connection: %v", err)
	}
	s.conn.Close()
	return nil
}
