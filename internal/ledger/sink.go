package ledger

import (
	"context"

	"custody-wallet-go/internal/models"
)

// Recorded is one committed ledger write: either an internal pair or a single row.
type Recorded struct {
	Pair         bool
	Transactions []models.Transaction
}

// Reference is the group id for pairs, otherwise the provider reference.
func (r Recorded) Reference() string {
	if len(r.Transactions) == 0 {
		return ""
	}
	t := r.Transactions[0]
	if r.Pair && t.GroupId != nil {
		return *t.GroupId
	}
	if t.ProviderRefId != nil {
		return *t.ProviderRefId
	}
	return t.Id
}

// Sink is notified after a ledger write commits. Errors are logged by the
// recorder and never fail the write.
type Sink interface {
	Name() string
	Notify(ctx context.Context, rec Recorded) error
}

// StatusSink is optionally implemented by sinks that track status progression.
type StatusSink interface {
	StatusChanged(ctx context.Context, providerRefId string, status models.TxStatus) error
}
