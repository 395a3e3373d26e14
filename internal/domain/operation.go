package domain

import (
	"time"

	"github.com/google/uuid"
)

type OperationKind string
type OperationStatus string

const (
	KindOnboard      OperationKind = "onboard"
	KindTransfer     OperationKind = "transfer"
	KindRoleOnboard  OperationKind = "role_onboard"
	KindRoleTransfer OperationKind = "role_transfer"

	StatusPending   OperationStatus = "pending"
	StatusCommitted OperationStatus = "committed"
	StatusRejected  OperationStatus = "rejected"
)

// Operation journals one request against the engine and its final outcome.
type Operation struct {
	ID        string          `json:"id"`
	Kind      OperationKind   `json:"kind"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Amount    int64           `json:"amount"`
	Status    OperationStatus `json:"status"`
	CommitID  string          `json:"txHash,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// OperationEvent describes a committed operation to downstream consumers.
type OperationEvent struct {
	OperationID string        `json:"operationId"`
	Kind        OperationKind `json:"kind"`
	CommitID    string        `json:"txHash"`
	Records     []*Record     `json:"records,omitempty"`
	Roles       *RoleBalances `json:"roles,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

func NewOperation(kind OperationKind, from, to string, amount int64) *Operation {
	now := time.Now()
	return &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (op *Operation) MarkCommitted(commitID string) {
	op.Status = StatusCommitted
	op.CommitID = commitID
	op.UpdatedAt = time.Now()
}

func (op *Operation) MarkRejected(reason string) {
	op.Status = StatusRejected
	op.Reason = reason
	op.UpdatedAt = time.Now()
}

func (op *Operation) Final() bool {
	return op.Status == StatusCommitted || op.Status == StatusRejected
}
