package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wallet_ledger/pkg/crypto"
)

// Policy may refuse a proposal before it is committed.
type Policy func(ctx context.Context, p Proposal) error

// Notary is an in-process ledger. Commit identifiers are HMAC hashes over the
// proposal and the notary's height, so every commit gets a distinct txHash.
type Notary struct {
	signer *crypto.Signer
	policy Policy
	logger *slog.Logger

	mu     sync.Mutex
	height uint64
}

func NewNotary(signer *crypto.Signer, policy Policy, logger *slog.Logger) *Notary {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notary{
		signer: signer,
		policy: policy,
		logger: logger,
	}
}

func (n *Notary) Submit(ctx context.Context, p Proposal) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}
	if err := p.Validate(); err != nil {
		return Commit{}, err
	}
	if n.policy != nil {
		if err := n.policy(ctx, p); err != nil {
			n.logger.WarnContext(ctx, "Proposal refused by policy",
				slog.String("proposal_id", p.ID),
				slog.String("reason", err.Error()))
			return Commit{}, err
		}
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return Commit{}, fmt.Errorf("failed to encode proposal: %w", err)
	}

	n.mu.Lock()
	n.height++
	height := n.height
	n.mu.Unlock()

	commit := Commit{
		ID:          n.signer.CommitHash(payload, height),
		Height:      height,
		CommittedAt: time.Now().UTC(),
	}

	n.logger.DebugContext(ctx, "Proposal committed",
		slog.String("proposal_id", p.ID),
		slog.String("kind", string(p.Kind)),
		slog.String("commit_id", commit.ID),
		slog.Uint64("height", height))

	return commit, nil
}

func (n *Notary) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// VerifyCommit checks that c is the commit a notary holding signer's secret
// issued for p.
func VerifyCommit(signer *crypto.Signer, p Proposal, c Commit) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	if _, err := signer.VerifyCommit(payload, c.Height, c.ID); err != nil {
		return Reject("commit %s at height %d does not match proposal %s", c.ID, c.Height, p.ID)
	}
	return nil
}
