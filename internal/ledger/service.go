package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// RepositoryPort defines data access for transactions.
type RepositoryPort interface {
	Record(ctx context.Context, t Transaction) error
	UpdateStatusByReference(ctx context.Context, reference, providerTxID string, status TxStatus) error
	FindByReference(ctx context.Context, reference string) (*Transaction, error)
	ListByUser(ctx context.Context, req HistoryRequest) ([]Transaction, int, error)
}

// Service exposes the read side of the ledger.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetTransactionHistory returns a filtered, paginated slice of a user's
// movements. Read-only, never a mutation path.
func (s *Service) GetTransactionHistory(ctx context.Context, req HistoryRequest) (History, error) {
	if req.UserID == uuid.Nil {
		return History{}, fmt.Errorf("%w: user id required", shared.ErrValidation)
	}
	switch req.Kind {
	case "", KindEscrowBlock, KindJetonIssue, KindJetonRedeem, KindLaborRelease, KindRefund:
	default:
		return History{}, fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, req.Kind)
	}

	transactions, total, err := s.repo.ListByUser(ctx, req)
	if err != nil {
		return History{}, err
	}
	return History{
		Transactions: transactions,
		Pagination:   shared.NewPagination(req.Page, req.Limit, total),
	}, nil
}
