// Package gateway is the boundary to the ledger that makes state changes
// durable. The engine submits a proposal and gets back either a commit
// identifier or a failure; nothing is durable until a commit comes back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet_ledger/internal/domain"
)

// ErrRejected marks a proposal the ledger refused, as opposed to one that
// never reached it.
var ErrRejected = errors.New("ledger rejected proposal")

// Proposal is a new state to commit. A transfer carries both of its records
// so the ledger commits them together or not at all.
type Proposal struct {
	ID      string               `json:"id"`
	Kind    domain.OperationKind `json:"kind"`
	Records []*domain.Record     `json:"records,omitempty"`
	Roles   *domain.RoleBalances `json:"roles,omitempty"`
}

type Commit struct {
	ID string `json:"commitId"`
	// Height is the ledger position the commit was made at. Together with the
	// proposal it lets a holder of the notary secret check ID.
	Height      uint64    `json:"height,omitempty"`
	CommittedAt time.Time `json:"committedAt"`
}

type Gateway interface {
	Submit(ctx context.Context, p Proposal) (Commit, error)
}

type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

func (r *Rejection) Unwrap() error {
	return ErrRejected
}

func Reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks that a proposal carries the payload its kind requires.
func (p Proposal) Validate() error {
	switch p.Kind {
	case domain.KindOnboard:
		if len(p.Records) != 1 {
			return Reject("onboard proposal must carry exactly one record, got %d", len(p.Records))
		}
	case domain.KindTransfer:
		if len(p.Records) != 2 {
			return Reject("transfer proposal must carry exactly two records, got %d", len(p.Records))
		}
	case domain.KindRoleOnboard, domain.KindRoleTransfer:
		if p.Roles == nil {
			return Reject("%s proposal without role balances", p.Kind)
		}
	default:
		return Reject("unknown proposal kind %q", p.Kind)
	}

	for _, rec := range p.Records {
		if rec == nil {
			return Reject("proposal %s carries a nil record", p.ID)
		}
	}
	return nil
}
