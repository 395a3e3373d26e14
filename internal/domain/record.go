package domain

import (
	"time"
)

// Record is one immutable snapshot of an account balance. A balance change
// never edits a Record; it appends a new one that supersedes it.
type Record struct {
	Seq         int64     `json:"seq"`
	AccountID   int64     `json:"entityId"`
	Label       string    `json:"entityMetadata"`
	Value       int64     `json:"value"`
	CommitID    string    `json:"txHash,omitempty"`
	CommittedAt time.Time `json:"committedAt"`
}

func NewRecord(accountID int64, label string, value int64) *Record {
	return &Record{
		AccountID: accountID,
		Label:     label,
		Value:     value,
	}
}

// Clone returns a copy safe to hand out of a store.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Commit stamps the record with the gateway's outcome.
func (r *Record) Commit(commitID string, at time.Time) {
	r.CommitID = commitID
	r.CommittedAt = at
}

// Total sums the values of the given records.
func Total(records ...*Record) int64 {
	var total int64
	for _, r := range records {
		if r != nil {
			total += r.Value
		}
	}
	return total
}
