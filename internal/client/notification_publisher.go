package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

// AuditPublisher publishes committed audit entries to NATS JetStream for
// consumption by the notification service.
//
// Subject convention: cheques.audit.<entity_type>.<action>, lower case.
// The JetStream message id is the audit entry id, so a relay that re-sends
// after a crash is deduplicated by the server.
type AuditPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
	log  *logger.Logger
}

// AuditEvent is the JSON schema published to NATS.
type AuditEvent struct {
	AuditID    int64           `json:"audit_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Username   string          `json:"username"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
}

// ConnectAuditPublisher dials NATS and makes sure the stream exists.
func ConnectAuditPublisher(ctx context.Context, url, stream string, log *logger.Logger) (*AuditPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("be-tr-cheques"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{"cheques.audit.>"},
		Storage:    jetstream.FileStorage,
		Duplicates: 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}

	log.Info().Str("url", url).Str("stream", stream).Msg("Connected to NATS JetStream")
	return &AuditPublisher{conn: conn, js: js, log: log}, nil
}

// AuditSubject returns the subject an entry is published on.
func AuditSubject(e *repository.AuditLogEntry) string {
	return fmt.Sprintf("cheques.audit.%s.%s",
		strings.ToLower(string(e.EntityType)), strings.ToLower(e.Action))
}

// Publish sends one entry and waits for the stream acknowledgement. Unlike
// in-request notifications, a failure is returned so the relay can retry.
func (p *AuditPublisher) Publish(ctx context.Context, e *repository.AuditLogEntry) error {
	data, err := json.Marshal(AuditEvent{
		AuditID:    e.ID,
		Timestamp:  e.Timestamp,
		Username:   e.Username,
		Action:     e.Action,
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID,
		OldValue:   e.OldValue,
		NewValue:   e.NewValue,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event %d: %w", e.ID, err)
	}

	subject := AuditSubject(e)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(strconv.FormatInt(e.ID, 10))); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Int64("audit_id", e.ID).
		Msg("notification: audit event published")
	return nil
}

// Close drains the connection.
func (p *AuditPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
