package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet_ledger/internal/domain"
	"wallet_ledger/pkg/metrics"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	err    error
	events []domain.OperationEvent
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Deliver(ctx context.Context, event domain.OperationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func transferEvent(id string) domain.OperationEvent {
	return domain.OperationEvent{
		OperationID: id,
		Kind:        domain.KindTransfer,
		CommitID:    "c-" + id,
		Records: []*domain.Record{
			{Seq: 3, AccountID: 1, Label: "alice", Value: 70},
			{Seq: 4, AccountID: 2, Label: "bob", Value: 30},
		},
		Timestamp: time.Now(),
	}
}

func TestEventService_DeliversToEverySink(t *testing.T) {
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("unreachable")}
	svc := NewEventService([]Sink{bad, good}, 2, 10, metrics.NewMetricsCollector(nil), nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Publish(context.Background(), transferEvent(id)))
	}
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Equal(t, 3, good.count())
	assert.Equal(t, 3, bad.count())
}

func TestEventService_PublishAfterShutdown(t *testing.T) {
	svc := NewEventService(nil, 1, 1, nil, nil)
	require.NoError(t, svc.Shutdown(context.Background()))

	err := svc.Publish(context.Background(), transferEvent("late"))

	assert.ErrorIs(t, err, ErrServiceClosed)
	assert.NoError(t, svc.Shutdown(context.Background()))
}

func TestEventService_PublishHonoursContext(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{started: make(chan struct{}), release: block}
	svc := NewEventService([]Sink{sink}, 1, 1, nil, nil)
	defer func() {
		close(block)
		_ = svc.Shutdown(context.Background())
	}()

	// one event in the worker, one in the queue
	require.NoError(t, svc.Publish(context.Background(), transferEvent("1")))
	<-sink.started
	require.NoError(t, svc.Publish(context.Background(), transferEvent("2")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Publish(ctx, transferEvent("3"))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingSink struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Deliver(ctx context.Context, event domain.OperationEvent) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestNATSSink_Deliver(t *testing.T) {
	conn := &fakeConn{}
	sink := newNATSSink(conn, "")

	err := sink.Deliver(context.Background(), transferEvent("op-1"))

	require.NoError(t, err)
	require.Len(t, conn.msgs, 1)
	msg := conn.msgs[0]
	assert.Equal(t, DefaultEventSubject, msg.Subject)
	assert.Equal(t, "op-1", msg.Header.Get(nats.MsgIdHdr))

	var decoded domain.OperationEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "c-op-1", decoded.CommitID)
	require.Len(t, decoded.Records, 2)
	assert.Equal(t, int64(70), decoded.Records[0].Value)
}

func TestNATSSink_PublishError(t *testing.T) {
	sink := newNATSSink(&fakeConn{err: nats.ErrConnectionClosed}, "custom.subject")

	err := sink.Deliver(context.Background(), transferEvent("op-2"))

	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestLogSink_Deliver(t *testing.T) {
	sink := NewLogSink(nil)
	ev := transferEvent("op-3")
	ev.Roles = &domain.RoleBalances{User: 1, Seller: 2, Bank: 3}

	assert.NoError(t, sink.Deliver(context.Background(), ev))
}
