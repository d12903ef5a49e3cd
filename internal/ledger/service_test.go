package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosartisan/prosartisan/internal/shared"
)

type stubRepo struct {
	txs []Transaction
}

func (s *stubRepo) Record(ctx context.Context, t Transaction) error {
	s.txs = append(s.txs, t)
	return nil
}

func (s *stubRepo) UpdateStatusByReference(ctx context.Context, reference, providerTxID string, status TxStatus) error {
	return nil
}

func (s *stubRepo) FindByReference(ctx context.Context, reference string) (*Transaction, error) {
	for _, t := range s.txs {
		if t.Reference == reference {
			return &t, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) ListByUser(ctx context.Context, req HistoryRequest) ([]Transaction, int, error) {
	var matched []Transaction
	for _, t := range s.txs {
		if t.UserID != req.UserID {
			continue
		}
		if req.Kind != "" && t.Kind != req.Kind {
			continue
		}
		matched = append(matched, t)
	}
	total := len(matched)
	p := shared.NewPagination(req.Page, req.Limit, total)
	lo := p.Offset()
	if lo > total {
		lo = total
	}
	hi := lo + p.PerPage
	if hi > total {
		hi = total
	}
	return matched[lo:hi], total, nil
}

func seedHistory(t *testing.T, repo *stubRepo, userID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	kinds := []Kind{KindEscrowBlock, KindJetonIssue, KindJetonRedeem, KindLaborRelease, KindRefund}
	for i, kind := range kinds {
		tx := NewTransaction(userID, kind, shared.MustMoney(int64(1000*(i+1)), shared.DefaultCurrency),
			"ref-"+uuid.NewString(), "", TxSuccess)
		require.NoError(t, repo.Record(ctx, tx))
	}
	// Another user's movement must never leak into the listing.
	other := NewTransaction(uuid.New(), KindEscrowBlock, shared.MustMoney(999, shared.DefaultCurrency),
		"ref-"+uuid.NewString(), "", TxSuccess)
	require.NoError(t, repo.Record(ctx, other))
}

func TestGetTransactionHistory(t *testing.T) {
	repo := &stubRepo{}
	userID := uuid.New()
	seedHistory(t, repo, userID)
	svc := NewService(repo)

	hist, err := svc.GetTransactionHistory(context.Background(), HistoryRequest{UserID: userID})
	require.NoError(t, err)
	assert.Len(t, hist.Transactions, 5)
	assert.Equal(t, 5, hist.Pagination.Total)
	assert.Equal(t, 1, hist.Pagination.Page)
}

func TestGetTransactionHistoryKindFilter(t *testing.T) {
	repo := &stubRepo{}
	userID := uuid.New()
	seedHistory(t, repo, userID)
	svc := NewService(repo)

	hist, err := svc.GetTransactionHistory(context.Background(), HistoryRequest{UserID: userID, Kind: KindJetonRedeem})
	require.NoError(t, err)
	require.Len(t, hist.Transactions, 1)
	assert.Equal(t, KindJetonRedeem, hist.Transactions[0].Kind)
}

func TestGetTransactionHistoryPagination(t *testing.T) {
	repo := &stubRepo{}
	userID := uuid.New()
	seedHistory(t, repo, userID)
	svc := NewService(repo)

	hist, err := svc.GetTransactionHistory(context.Background(), HistoryRequest{UserID: userID, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, hist.Transactions, 2)
	assert.Equal(t, 3, hist.Pagination.TotalPages)
	assert.Equal(t, 2, hist.Pagination.Page)
}

func TestGetTransactionHistoryValidation(t *testing.T) {
	svc := NewService(&stubRepo{})

	_, err := svc.GetTransactionHistory(context.Background(), HistoryRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.GetTransactionHistory(context.Background(), HistoryRequest{UserID: uuid.New(), Kind: "NOT_A_KIND"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
