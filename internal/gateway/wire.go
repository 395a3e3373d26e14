package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultSubject = "ledger.submit"
	DefaultQueue   = "ledger-notaries"

	msgIDHeader = "Nats-Msg-Id"
)

type submitRequest struct {
	Proposal Proposal `json:"proposal"`
}

// submitReply carries either a commit or the ledger's refusal reason.
type submitReply struct {
	CommitID    string    `json:"commitId,omitempty"`
	Height      uint64    `json:"height,omitempty"`
	CommittedAt time.Time `json:"committedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func encodeRequest(p Proposal) ([]byte, error) {
	data, err := json.Marshal(submitRequest{Proposal: p})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proposal: %w", err)
	}
	return data, nil
}

func decodeRequest(data []byte) (Proposal, error) {
	var req submitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return Proposal{}, fmt.Errorf("failed to unmarshal proposal: %w", err)
	}
	return req.Proposal, nil
}

func encodeReply(c Commit, err error) []byte {
	reply := submitReply{CommitID: c.ID, Height: c.Height, CommittedAt: c.CommittedAt}
	if err != nil {
		reply = submitReply{Error: err.Error()}
	}
	data, _ := json.Marshal(reply)
	return data
}

func decodeReply(data []byte) (Commit, error) {
	var reply submitReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Commit{}, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	if reply.Error != "" {
		return Commit{}, &Rejection{Reason: reply.Error}
	}
	if reply.CommitID == "" {
		return Commit{}, Reject("ledger reply without commit id")
	}
	return Commit{ID: reply.CommitID, Height: reply.Height, CommittedAt: reply.CommittedAt}, nil
}
