package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"wallet_ledger/internal/domain"

	"github.com/nats-io/nats.go"
)

const DefaultEventSubject = "ledger.committed"

// LogSink writes every committed operation to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, event domain.OperationEvent) error {
	attrs := []any{
		slog.String("operation_id", event.OperationID),
		slog.String("kind", string(event.Kind)),
		slog.String("commit_id", event.CommitID),
	}
	for _, rec := range event.Records {
		attrs = append(attrs, slog.Group(fmt.Sprintf("account_%d", rec.AccountID),
			slog.Int64("value", rec.Value),
			slog.Int64("seq", rec.Seq)))
	}
	if event.Roles != nil {
		attrs = append(attrs, slog.Group("roles",
			slog.Int64("user", event.Roles.User),
			slog.Int64("seller", event.Roles.Seller),
			slog.Int64("bank", event.Roles.Bank)))
	}

	s.logger.InfoContext(ctx, "Ledger operation committed", attrs...)
	return nil
}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes events as JSON. The operation id goes into the
// Nats-Msg-Id header so JetStream streams can drop redeliveries.
type NATSSink struct {
	conn    msgPublisher
	subject string
}

func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	return newNATSSink(conn, subject)
}

func newNATSSink(conn msgPublisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultEventSubject
	}
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Deliver(ctx context.Context, event domain.OperationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.OperationID, err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Header.Set(nats.MsgIdHdr, event.OperationID)
	msg.Data = data

	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.OperationID, err)
	}
	return nil
}
