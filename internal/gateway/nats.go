package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"wallet_ledger/pkg/crypto"
)

// NATSConfig holds connection settings for the NATS-backed ledger.
type NATSConfig struct {
	URL            string
	Name           string
	Subject        string
	Queue          string
	RequestTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// Connect dials NATS with the reconnect settings from cfg.
func Connect(cfg NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NATSGateway submits proposals to a remote notary over NATS request-reply.
type NATSGateway struct {
	conn     *nats.Conn
	subject  string
	timeout  time.Duration
	verifier *crypto.Signer
	logger   *slog.Logger
}

func NewNATSGateway(conn *nats.Conn, subject string, timeout time.Duration, logger *slog.Logger) *NATSGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &NATSGateway{
		conn:    conn,
		subject: subject,
		timeout: timeout,
		logger:  logger,
	}
}

// WithVerifier makes Submit check every reply against the notary secret held
// by signer, so a forged reply on the subject is refused.
func (g *NATSGateway) WithVerifier(signer *crypto.Signer) *NATSGateway {
	g.verifier = signer
	return g
}

func (g *NATSGateway) Submit(ctx context.Context, p Proposal) (Commit, error) {
	if g.conn == nil || !g.conn.IsConnected() {
		return Commit{}, fmt.Errorf("ledger gateway not connected")
	}

	payload, err := encodeRequest(p)
	if err != nil {
		return Commit{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msgID := p.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	msg := &nats.Msg{
		Subject: g.subject,
		Data:    payload,
		Header:  nats.Header{msgIDHeader: []string{msgID}},
	}

	resp, err := g.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return Commit{}, fmt.Errorf("ledger request %s failed: %w", msgID, err)
	}

	commit, err := decodeReply(resp.Data)
	if err != nil {
		return Commit{}, err
	}

	if g.verifier != nil {
		// the notary hashes the proposal as it decoded it
		sent, err := decodeRequest(payload)
		if err != nil {
			return Commit{}, err
		}
		if err := VerifyCommit(g.verifier, sent, commit); err != nil {
			g.logger.ErrorContext(ctx, "Ledger reply failed verification",
				slog.String("proposal_id", msgID),
				slog.String("commit_id", commit.ID))
			return Commit{}, err
		}
	}

	g.logger.DebugContext(ctx, "Proposal committed remotely",
		slog.String("proposal_id", msgID),
		slog.String("commit_id", commit.ID))

	return commit, nil
}

// Responder serves ledger requests arriving on NATS by delegating to a Gateway.
type Responder struct {
	conn    *nats.Conn
	subject string
	queue   string
	ledger  Gateway
	timeout time.Duration
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewResponder(conn *nats.Conn, subject, queue string, ledger Gateway, timeout time.Duration, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Responder{
		conn:    conn,
		subject: subject,
		queue:   queue,
		ledger:  ledger,
		timeout: timeout,
		logger:  logger,
	}
}

func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return fmt.Errorf("already subscribed to %s", r.subject)
	}

	sub, err := r.conn.QueueSubscribe(r.subject, r.queue, r.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	r.sub = sub

	r.logger.Info("Ledger responder started",
		slog.String("subject", r.subject),
		slog.String("queue", r.queue))
	return nil
}

func (r *Responder) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reply := r.serve(ctx, msg.Data)
	if err := msg.Respond(reply); err != nil {
		r.logger.Error("Failed to respond to ledger request",
			slog.String("msg_id", msg.Header.Get(msgIDHeader)),
			slog.String("error", err.Error()))
	}
}

func (r *Responder) serve(ctx context.Context, data []byte) []byte {
	p, err := decodeRequest(data)
	if err != nil {
		return encodeReply(Commit{}, err)
	}

	commit, err := r.ledger.Submit(ctx, p)
	if err != nil {
		r.logger.Warn("Ledger refused proposal",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()))
	}
	return encodeReply(commit, err)
}

func (r *Responder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return nil
	}
	err := r.sub.Drain()
	r.sub = nil
	return err
}
