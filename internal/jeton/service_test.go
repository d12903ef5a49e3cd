package jeton

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosartisan/prosartisan/internal/escrow"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/internal/shared"
)

// memStore backs both the jeton repository and the escrow port, mirroring
// the version-guarded writes the SQL repository performs.
type memStore struct {
	mu      sync.Mutex
	escrows map[uuid.UUID]*escrow.Escrow
	jetons  map[uuid.UUID]*Jeton
	byCode  map[string]uuid.UUID
	audits  map[uuid.UUID][]Validation
}

func newMemStore() *memStore {
	return &memStore{
		escrows: map[uuid.UUID]*escrow.Escrow{},
		jetons:  map[uuid.UUID]*Jeton{},
		byCode:  map[string]uuid.UUID{},
		audits:  map[uuid.UUID][]Validation{},
	}
}

func (m *memStore) putEscrow(e *escrow.Escrow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.escrows[e.ID] = &cp
}

func (m *memStore) FindByID(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: escrow %s", shared.ErrNotFound, id)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) IssueAtomic(ctx context.Context, esc *escrow.Escrow, j *Jeton) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.escrows[esc.ID]
	if !ok {
		return fmt.Errorf("%w: escrow %s", shared.ErrNotFound, esc.ID)
	}
	if current.Version != esc.Version {
		return fmt.Errorf("%w: escrow %s version %d", shared.ErrConcurrentModification, esc.ID, esc.Version)
	}
	ecp := *esc
	ecp.Version++
	m.escrows[esc.ID] = &ecp
	jcp := *j
	m.jetons[j.ID] = &jcp
	m.byCode[j.Code] = j.ID
	return nil
}

func (m *memStore) RedeemAtomic(ctx context.Context, j *Jeton, v *Validation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jetons[j.ID]
	if !ok {
		return fmt.Errorf("%w: jeton %s", shared.ErrNotFound, j.ID)
	}
	if current.Version != j.Version {
		return fmt.Errorf("%w: jeton %s version %d", shared.ErrConcurrentModification, j.ID, j.Version)
	}
	cp := *j
	cp.Version++
	m.jetons[j.ID] = &cp
	m.audits[j.ID] = append(m.audits[j.ID], *v)
	j.Version++
	return nil
}

func (m *memStore) MarkExpired(ctx context.Context, j *Jeton) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jetons[j.ID]
	if !ok {
		return fmt.Errorf("%w: jeton %s", shared.ErrNotFound, j.ID)
	}
	current.Status = StatusExpired
	return nil
}

func (m *memStore) FindByCode(ctx context.Context, code string) (*Jeton, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: code", shared.ErrNotFound)
	}
	cp := *m.jetons[id]
	cp.AuthorizedSuppliers = append([]uuid.UUID(nil), cp.AuthorizedSuppliers...)
	return &cp, nil
}

func (m *memStore) findByID(id uuid.UUID) (*Jeton, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jetons[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

func (m *memStore) FindByIDJeton(ctx context.Context, id uuid.UUID) (*Jeton, error) {
	j, ok := m.findByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: jeton %s", shared.ErrNotFound, id)
	}
	return j, nil
}

func (m *memStore) ListValidations(ctx context.Context, jetonID uuid.UUID) ([]Validation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Validation(nil), m.audits[jetonID]...), nil
}

// jetonRepo adapts memStore to RepositoryPort (FindByID collides with the
// escrow port method, hence the wrapper).
type jetonRepo struct{ *memStore }

func (r jetonRepo) FindByID(ctx context.Context, id uuid.UUID) (*Jeton, error) {
	return r.FindByIDJeton(ctx, id)
}

type recordingLedger struct {
	mu  sync.Mutex
	txs []ledger.Transaction
}

func (l *recordingLedger) Record(ctx context.Context, t ledger.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, t)
	return nil
}

type fakeFraud struct {
	flagged     map[uuid.UUID]bool
	maxAccuracy float64
}

func (f *fakeFraud) VerifyLocationProof(locs ...shared.Coordinates) error {
	if f.maxAccuracy <= 0 {
		return nil
	}
	for _, l := range locs {
		if l.Accuracy >= 0 && l.Accuracy > f.maxAccuracy {
			return fmt.Errorf("%w: accuracy %.0fm", shared.ErrValidation, l.Accuracy)
		}
	}
	return nil
}

func (f *fakeFraud) EnsureNotFlagged(ctx context.Context, userID uuid.UUID) error {
	if f.flagged[userID] {
		return fmt.Errorf("%w: user %s", shared.ErrAccountFlagged, userID)
	}
	return nil
}

type jetonFixture struct {
	svc    *Service
	store  *memStore
	ledger *recordingLedger
	fraud  *fakeFraud
	escrow *escrow.Escrow
}

func newJetonFixture(t *testing.T) *jetonFixture {
	t.Helper()
	store := newMemStore()
	led := &recordingLedger{}
	fr := &fakeFraud{flagged: map[uuid.UUID]bool{}}
	svc := NewService(jetonRepo{store}, store, led, fr,
		slog.New(slog.NewTextHandler(io.Discard, nil)), 72*time.Hour, DefaultProximityLimitMeters)

	esc, err := escrow.New(uuid.New(), uuid.New(), uuid.New(), uuid.New(),
		shared.MustMoney(1_000_000, shared.DefaultCurrency), "escrow-block:"+uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, esc.Fragment(escrow.DefaultMaterialsPct))
	store.putEscrow(esc)

	return &jetonFixture{svc: svc, store: store, ledger: led, fraud: fr, escrow: esc}
}

func TestGenerateJeton(t *testing.T) {
	fx := newJetonFixture(t)
	ctx := context.Background()
	supplier := uuid.New()

	j, events, err := fx.svc.GenerateJeton(ctx, GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{supplier},
		Amount:      xof(200_000),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), j.Remaining.Amount)

	stored, err := fx.store.FindByID(ctx, fx.escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(450_000), stored.RemainingMaterials.Amount)

	require.Len(t, events, 1)
	assert.Equal(t, shared.EventJetonGenerated, events[0].Name)

	require.Len(t, fx.ledger.txs, 1)
	assert.Equal(t, ledger.KindJetonIssue, fx.ledger.txs[0].Kind)
	assert.Equal(t, ledger.TxSuccess, fx.ledger.txs[0].Status)
}

func TestGenerateJetonDefaultsToFullBucket(t *testing.T) {
	fx := newJetonFixture(t)
	ctx := context.Background()

	j, _, err := fx.svc.GenerateJeton(ctx, GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(650_000), j.Total.Amount)

	// Bucket drained, a second issue has nothing to draw.
	_, _, err = fx.svc.GenerateJeton(ctx, GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{uuid.New()},
	})
	require.ErrorIs(t, err, shared.ErrNoMaterialsAvailable)
}

func TestGenerateJetonFlaggedArtisan(t *testing.T) {
	fx := newJetonFixture(t)
	fx.fraud.flagged[fx.escrow.ArtisanID] = true

	_, _, err := fx.svc.GenerateJeton(context.Background(), GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{uuid.New()},
		Amount:      xof(1000),
	})
	require.ErrorIs(t, err, shared.ErrAccountFlagged)
	assert.Empty(t, fx.store.jetons)
}

func TestValidateJetonFullFlow(t *testing.T) {
	fx := newJetonFixture(t)
	ctx := context.Background()
	supplier := uuid.New()

	j, _, err := fx.svc.GenerateJeton(ctx, GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{supplier},
		Amount:      xof(300_000),
	})
	require.NoError(t, err)

	res, events, err := fx.svc.ValidateJeton(ctx, ValidateCommand{
		Code:          j.Code,
		FournisseurID: supplier,
		Amount:        xof(120_000),
		ArtisanLoc:    sameSpot(t),
		SupplierLoc:   nearbySpot(t),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(180_000), res.RemainingAmount.Amount)
	assert.Equal(t, StatusActive, res.Status)

	require.Len(t, events, 1)
	assert.Equal(t, shared.EventJetonValidated, events[0].Name)
	assert.Contains(t, events[0].Meta, "distance_meters")

	audit, err := fx.store.ListValidations(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, ValidationApproved, audit[0].Status)

	// Second redemption drains it.
	res, _, err = fx.svc.ValidateJeton(ctx, ValidateCommand{
		Code:          j.Code,
		FournisseurID: supplier,
		Amount:        xof(180_000),
		ArtisanLoc:    sameSpot(t),
		SupplierLoc:   sameSpot(t),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, res.Status)
	assert.True(t, res.RemainingAmount.IsZero())
}

func TestValidateJetonRejectsBadGPSAccuracy(t *testing.T) {
	fx := newJetonFixture(t)
	fx.fraud.maxAccuracy = 10
	ctx := context.Background()
	supplier := uuid.New()

	j, _, err := fx.svc.GenerateJeton(ctx, GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{supplier},
		Amount:      xof(100_000),
	})
	require.NoError(t, err)

	badLoc, err := sameSpot(t).WithAccuracy(50)
	require.NoError(t, err)

	_, _, err = fx.svc.ValidateJeton(ctx, ValidateCommand{
		Code:          j.Code,
		FournisseurID: supplier,
		Amount:        xof(10_000),
		ArtisanLoc:    badLoc,
		SupplierLoc:   sameSpot(t),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Balance untouched by the rejected attempt.
	fresh, err := fx.store.FindByCode(ctx, j.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), fresh.Remaining.Amount)
}

func TestValidateJetonLazyExpiryPersisted(t *testing.T) {
	fx := newJetonFixture(t)
	ctx := context.Background()
	supplier := uuid.New()

	j, _, err := fx.svc.GenerateJeton(ctx, GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{supplier},
		Amount:      xof(100_000),
	})
	require.NoError(t, err)

	// Backdate the stored expiry.
	fx.store.mu.Lock()
	fx.store.jetons[j.ID].ExpiresAt = time.Now().Add(-time.Minute)
	fx.store.mu.Unlock()

	_, _, err = fx.svc.ValidateJeton(ctx, ValidateCommand{
		Code:          j.Code,
		FournisseurID: supplier,
		Amount:        xof(10_000),
		ArtisanLoc:    sameSpot(t),
		SupplierLoc:   sameSpot(t),
	})
	require.ErrorIs(t, err, shared.ErrJetonExpired)

	stored, ok := fx.store.findByID(j.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestConcurrentRedemptionsNeverOverspend(t *testing.T) {
	fx := newJetonFixture(t)
	ctx := context.Background()
	supplier := uuid.New()

	j, _, err := fx.svc.GenerateJeton(ctx, GenerateCommand{
		EscrowID:    fx.escrow.ID,
		ArtisanID:   fx.escrow.ArtisanID,
		SupplierIDs: []uuid.UUID{supplier},
		Amount:      xof(100_000),
	})
	require.NoError(t, err)

	// Two redemptions race for 60% each; the retry replays the loser on
	// fresh state, where the balance gate rejects it.
	spot := sameSpot(t)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = fx.svc.ValidateJeton(ctx, ValidateCommand{
				Code:          j.Code,
				FournisseurID: supplier,
				Amount:        xof(60_000),
				ArtisanLoc:    spot,
				SupplierLoc:   spot,
			})
		}(i)
	}
	wg.Wait()

	var okCount, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		default:
			require.ErrorIs(t, err, shared.ErrInsufficientBalance)
			insufficient++
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, insufficient)

	fresh, err := fx.store.FindByCode(ctx, j.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), fresh.Remaining.Amount)
}
