package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet_ledger/internal/domain"
	"wallet_ledger/pkg/crypto"
)

func onboardProposal(id string) Proposal {
	return Proposal{
		ID:      id,
		Kind:    domain.KindOnboard,
		Records: []*domain.Record{domain.NewRecord(1, "alice", 100)},
	}
}

type stubGateway struct {
	calls atomic.Int32
	err   error
}

func (s *stubGateway) Submit(ctx context.Context, p Proposal) (Commit, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Commit{}, s.err
	}
	return Commit{ID: "commit-" + p.ID, CommittedAt: time.Now()}, nil
}

func TestProposal_Validate(t *testing.T) {
	t.Run("onboard with one record", func(t *testing.T) {
		assert.NoError(t, onboardProposal("p1").Validate())
	})

	t.Run("transfer needs two records", func(t *testing.T) {
		p := Proposal{ID: "p2", Kind: domain.KindTransfer, Records: []*domain.Record{domain.NewRecord(1, "", 1)}}
		err := p.Validate()
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("role transfer needs balances", func(t *testing.T) {
		p := Proposal{ID: "p3", Kind: domain.KindRoleTransfer}
		assert.ErrorIs(t, p.Validate(), ErrRejected)
	})

	t.Run("unknown kind", func(t *testing.T) {
		p := Proposal{ID: "p4", Kind: "mint"}
		assert.ErrorIs(t, p.Validate(), ErrRejected)
	})
}

func TestNotary_Submit(t *testing.T) {
	notary := NewNotary(crypto.NewSigner("test", nil), nil, nil)

	first, err := notary.Submit(context.Background(), onboardProposal("p1"))
	require.NoError(t, err)
	second, err := notary.Submit(context.Background(), onboardProposal("p1"))
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, uint64(2), notary.Height())
}

func TestVerifyCommit(t *testing.T) {
	signer := crypto.NewSigner("test", nil)
	notary := NewNotary(signer, nil, nil)
	p := onboardProposal("p1")

	commit, err := notary.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), commit.Height)

	assert.NoError(t, VerifyCommit(signer, p, commit))
	assert.ErrorIs(t, VerifyCommit(crypto.NewSigner("other", nil), p, commit), ErrRejected)

	tampered := onboardProposal("p1")
	tampered.Records[0].Value = 1000
	assert.ErrorIs(t, VerifyCommit(signer, tampered, commit), ErrRejected)

	moved := commit
	moved.Height = 2
	assert.ErrorIs(t, VerifyCommit(signer, p, moved), ErrRejected)
}

func TestNotary_PolicyRejects(t *testing.T) {
	policy := func(ctx context.Context, p Proposal) error {
		return Reject("frozen")
	}
	notary := NewNotary(crypto.NewSigner("test", nil), policy, nil)

	_, err := notary.Submit(context.Background(), onboardProposal("p1"))

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "frozen", rej.Reason)
	assert.Equal(t, uint64(0), notary.Height())
}

func TestNotary_CancelledContext(t *testing.T) {
	notary := NewNotary(crypto.NewSigner("test", nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := notary.Submit(ctx, onboardProposal("p1"))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWire_RoundTrip(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		data, err := encodeRequest(onboardProposal("p1"))
		require.NoError(t, err)

		p, err := decodeRequest(data)
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)
		require.Len(t, p.Records, 1)
		assert.Equal(t, int64(100), p.Records[0].Value)
	})

	t.Run("error reply becomes rejection", func(t *testing.T) {
		_, err := decodeReply(encodeReply(Commit{}, errors.New("double spend")))

		var rej *Rejection
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, "double spend", rej.Reason)
	})

	t.Run("reply without commit id", func(t *testing.T) {
		_, err := decodeReply([]byte(`{}`))
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("garbage reply", func(t *testing.T) {
		_, err := decodeReply([]byte(`not json`))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrRejected)
	})
}

func TestResponder_Serve(t *testing.T) {
	notary := NewNotary(crypto.NewSigner("test", nil), nil, nil)
	r := NewResponder(nil, "", "", notary, time.Second, nil)

	data, err := encodeRequest(onboardProposal("p1"))
	require.NoError(t, err)

	commit, err := decodeReply(r.serve(context.Background(), data))
	require.NoError(t, err)
	assert.NotEmpty(t, commit.ID)

	_, err = decodeReply(r.serve(context.Background(), []byte(`{"proposal":{"kind":"mint"}}`)))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestBreaker_OpensOnTransportFailures(t *testing.T) {
	stub := &stubGateway{err: errors.New("connection refused")}
	var states []string
	b := NewBreaker(stub, BreakerConfig{
		Name:        "ledger",
		MaxFailures: 2,
		OpenTimeout: time.Minute,
		OnStateChange: func(name, state string) {
			states = append(states, state)
		},
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := b.Submit(context.Background(), onboardProposal("p"))
		assert.Error(t, err)
	}

	_, err := b.Submit(context.Background(), onboardProposal("p"))

	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(2), stub.calls.Load())
	assert.Equal(t, "open", b.State())
	assert.Equal(t, []string{"open"}, states)
}

func TestBreaker_RejectionsDoNotTrip(t *testing.T) {
	stub := &stubGateway{err: Reject("insufficient notary signatures")}
	b := NewBreaker(stub, BreakerConfig{Name: "ledger", MaxFailures: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := b.Submit(context.Background(), onboardProposal("p"))
		assert.ErrorIs(t, err, ErrRejected)
	}

	assert.Equal(t, int32(3), stub.calls.Load())
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_PassesCommitThrough(t *testing.T) {
	b := NewBreaker(&stubGateway{}, BreakerConfig{Name: "ledger"}, nil)

	commit, err := b.Submit(context.Background(), onboardProposal("p9"))

	require.NoError(t, err)
	assert.Equal(t, "commit-p9", commit.ID)
}
