package escrow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosartisan/prosartisan/internal/gateway"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/internal/shared"
)

type memRepo struct {
	mu       sync.Mutex
	escrows  map[uuid.UUID]*Escrow
	byRef    map[string]uuid.UUID
	failNext error
}

func newMemRepo() *memRepo {
	return &memRepo{escrows: map[uuid.UUID]*Escrow{}, byRef: map[string]uuid.UUID{}}
}

func (m *memRepo) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memRepo) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	cp := *e
	m.escrows[e.ID] = &cp
	m.byRef[e.Reference] = e.ID
	return nil
}

func (m *memRepo) FindByID(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: escrow %s", shared.ErrNotFound, id)
	}
	cp := *e
	return &cp, nil
}

func (m *memRepo) FindByReference(ctx context.Context, reference string) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, fmt.Errorf("%w: reference %s", shared.ErrNotFound, reference)
	}
	cp := *m.escrows[id]
	return &cp, nil
}

// Update mirrors the version-guarded SQL write.
func (m *memRepo) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	current, ok := m.escrows[e.ID]
	if !ok {
		return fmt.Errorf("%w: escrow %s", shared.ErrNotFound, e.ID)
	}
	if current.Version != e.Version {
		return fmt.Errorf("%w: escrow %s version %d", shared.ErrConcurrentModification, e.ID, e.Version)
	}
	cp := *e
	cp.Version++
	m.escrows[e.ID] = &cp
	e.Version++
	return nil
}

type memLedger struct {
	mu    sync.Mutex
	byRef map[string]ledger.Transaction
}

func newMemLedger() *memLedger {
	return &memLedger{byRef: map[string]ledger.Transaction{}}
}

func (m *memLedger) Record(ctx context.Context, t ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRef[t.Reference] = t
	return nil
}

func (m *memLedger) FindByReference(ctx context.Context, reference string) (*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byRef[reference]
	if !ok {
		return nil, fmt.Errorf("%w: reference %s", shared.ErrNotFound, reference)
	}
	return &t, nil
}

func newTestService() (*Service, *memRepo, *memLedger, *gateway.Memory) {
	repo := newMemRepo()
	led := newMemLedger()
	gw := gateway.NewMemory("test-secret")
	svc := NewService(repo, led, gw, slog.New(slog.NewTextHandler(io.Discard, nil)), DefaultMaterialsPct)
	return svc, repo, led, gw
}

func blockCmd(total int64) BlockFundsCommand {
	return BlockFundsCommand{
		MissionID:   uuid.New(),
		DevisID:     uuid.New(),
		ClientID:    uuid.New(),
		ArtisanID:   uuid.New(),
		ClientPhone: "+2250707000001",
		Total:       shared.MustMoney(total, shared.DefaultCurrency),
	}
}

func TestBlockEscrowFunds(t *testing.T) {
	svc, _, led, gw := newTestService()
	ctx := context.Background()

	cmd := blockCmd(1_000_000)
	esc, events, err := svc.BlockEscrowFunds(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, StatusFragmented, esc.Status)
	assert.Equal(t, int64(650_000), esc.RemainingMaterials.Amount)
	assert.Equal(t, int64(350_000), esc.RemainingLabor.Amount)
	assert.Equal(t, 1, gw.Calls())

	require.Len(t, events, 2)
	assert.Equal(t, shared.EventFundsBlocked, events[0].Name)
	assert.Equal(t, shared.EventEscrowFragmented, events[1].Name)

	tx, err := led.FindByReference(ctx, esc.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindEscrowBlock, tx.Kind)
	assert.Equal(t, ledger.TxPending, tx.Status)
	assert.NotEmpty(t, tx.ProviderTxID)
}

func TestBlockEscrowFundsIdempotentReplay(t *testing.T) {
	svc, _, _, gw := newTestService()
	ctx := context.Background()

	cmd := blockCmd(500_000)
	first, _, err := svc.BlockEscrowFunds(ctx, cmd)
	require.NoError(t, err)

	second, events, err := svc.BlockEscrowFunds(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Empty(t, events)
	// The provider saw exactly one hold.
	assert.Equal(t, 1, gw.Calls())
}

func TestBlockEscrowFundsGatewayFailure(t *testing.T) {
	svc, repo, _, gw := newTestService()
	ctx := context.Background()

	gw.FailNext(1)
	_, _, err := svc.BlockEscrowFunds(ctx, blockCmd(500_000))
	require.ErrorIs(t, err, shared.ErrGateway)
	assert.Empty(t, repo.escrows)
}

func TestBlockEscrowFundsPersistFailureAfterHold(t *testing.T) {
	svc, repo, _, gw := newTestService()
	ctx := context.Background()

	repo.failNext = fmt.Errorf("connection reset")
	_, _, err := svc.BlockEscrowFunds(ctx, blockCmd(500_000))
	require.ErrorIs(t, err, shared.ErrPersistence)
	// The hold went through; reconciliation has the reference to find it.
	assert.Equal(t, 1, gw.Calls())
}

func TestReleaseLabor(t *testing.T) {
	svc, _, led, _ := newTestService()
	ctx := context.Background()

	esc, _, err := svc.BlockEscrowFunds(ctx, blockCmd(1_000_000))
	require.NoError(t, err)

	cmd := ReleaseLaborCommand{
		EscrowID:     esc.ID,
		JalonID:      uuid.New(),
		ArtisanPhone: "+2250505000002",
		ClientPhone:  "+2250707000001",
		Amount:       shared.MustMoney(150_000, shared.DefaultCurrency),
	}
	updated, events, err := svc.ReleaseLabor(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), updated.RemainingLabor.Amount)
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventLaborReleased, events[0].Name)

	tx, err := led.FindByReference(ctx, fmt.Sprintf("labor-release:%s", cmd.JalonID))
	require.NoError(t, err)
	assert.Equal(t, ledger.KindLaborRelease, tx.Kind)

	// Same jalon cannot pay twice.
	_, _, err = svc.ReleaseLabor(ctx, cmd)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestReleaseLaborInsufficientBucket(t *testing.T) {
	svc, _, _, gw := newTestService()
	ctx := context.Background()

	esc, _, err := svc.BlockEscrowFunds(ctx, blockCmd(1_000_000))
	require.NoError(t, err)
	holds := gw.Calls()

	_, _, err = svc.ReleaseLabor(ctx, ReleaseLaborCommand{
		EscrowID: esc.ID,
		JalonID:  uuid.New(),
		Amount:   shared.MustMoney(350_001, shared.DefaultCurrency),
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	// Rejected before any provider transfer.
	assert.Equal(t, holds, gw.Calls())
}

func TestRefundRemainingService(t *testing.T) {
	svc, _, led, _ := newTestService()
	ctx := context.Background()

	esc, _, err := svc.BlockEscrowFunds(ctx, blockCmd(1_000_000))
	require.NoError(t, err)

	cmd := RefundCommand{EscrowID: esc.ID, DisputeID: uuid.New(), ClientPhone: "+2250707000001"}
	updated, events, err := svc.RefundRemaining(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, updated.Status)
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventEscrowRefunded, events[0].Name)
	assert.Equal(t, int64(1_000_000), events[0].Amount.Amount)

	tx, err := led.FindByReference(ctx, fmt.Sprintf("escrow-refund:%s", cmd.DisputeID))
	require.NoError(t, err)
	assert.Equal(t, ledger.KindRefund, tx.Kind)

	_, _, err = svc.RefundRemaining(ctx, cmd)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestRefundRemainingRetriesOnVersionConflict(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	esc, _, err := svc.BlockEscrowFunds(ctx, blockCmd(1_000_000))
	require.NoError(t, err)

	// A jeton issuance lands between the refund's read and write: the
	// materials bucket shrinks and the version moves on.
	stored := repo.escrows[esc.ID]
	require.NoError(t, stored.ReserveForJeton(shared.MustMoney(200_000, shared.DefaultCurrency)))
	stored.Version++
	repo.failNext = fmt.Errorf("%w: injected", shared.ErrConcurrentModification)

	updated, events, err := svc.RefundRemaining(ctx, RefundCommand{
		EscrowID: esc.ID, DisputeID: uuid.New(), ClientPhone: "+2250707000001",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, updated.Status)
	// Only the post-issuance remainder goes back: 450k materials + 350k labor.
	require.Len(t, events, 1)
	assert.Equal(t, int64(800_000), events[0].Amount.Amount)
}

func TestReleaseLaborRetriesOnVersionConflict(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	esc, _, err := svc.BlockEscrowFunds(ctx, blockCmd(1_000_000))
	require.NoError(t, err)

	// One stale write injected; the retry loop reloads and succeeds.
	repo.failNext = fmt.Errorf("%w: injected", shared.ErrConcurrentModification)
	updated, _, err := svc.ReleaseLabor(ctx, ReleaseLaborCommand{
		EscrowID: esc.ID,
		JalonID:  uuid.New(),
		Amount:   shared.MustMoney(100_000, shared.DefaultCurrency),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), updated.RemainingLabor.Amount)
}
