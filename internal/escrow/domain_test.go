package escrow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosartisan/prosartisan/internal/shared"
)

func newTestEscrow(t *testing.T, total int64) *Escrow {
	t.Helper()
	e, err := New(uuid.New(), uuid.New(), uuid.New(), uuid.New(),
		shared.MustMoney(total, shared.DefaultCurrency), "escrow-block:"+uuid.NewString())
	require.NoError(t, err)
	return e
}

func TestNewEscrowValidation(t *testing.T) {
	total := shared.MustMoney(1000, shared.DefaultCurrency)

	_, err := New(uuid.Nil, uuid.New(), uuid.New(), uuid.New(), total, "ref")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = New(uuid.New(), uuid.New(), uuid.New(), uuid.New(), shared.Money{Currency: "XOF"}, "ref")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = New(uuid.New(), uuid.New(), uuid.New(), uuid.New(), total, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFragmentSplitsBuckets(t *testing.T) {
	e := newTestEscrow(t, 1_000_000)
	require.NoError(t, e.Fragment(DefaultMaterialsPct))

	assert.Equal(t, StatusFragmented, e.Status)
	assert.Equal(t, int64(650_000), e.Materials.Amount)
	assert.Equal(t, int64(350_000), e.Labor.Amount)
	assert.Equal(t, e.Materials, e.RemainingMaterials)
	assert.Equal(t, e.Labor, e.RemainingLabor)
	assert.Equal(t, e.Total.Amount, e.Materials.Amount+e.Labor.Amount)
}

func TestFragmentConservesIndivisibleTotals(t *testing.T) {
	for _, total := range []int64{1, 3, 7, 99, 101, 999_999} {
		e := newTestEscrow(t, total)
		require.NoError(t, e.Fragment(DefaultMaterialsPct))
		assert.Equal(t, total, e.Materials.Amount+e.Labor.Amount, "total %d", total)
	}
}

func TestFragmentTwiceFails(t *testing.T) {
	e := newTestEscrow(t, 1000)
	require.NoError(t, e.Fragment(DefaultMaterialsPct))

	err := e.Fragment(DefaultMaterialsPct)
	require.ErrorIs(t, err, shared.ErrAlreadyFragmented)
}

func TestReserveForJeton(t *testing.T) {
	e := newTestEscrow(t, 1_000_000)
	require.NoError(t, e.Fragment(DefaultMaterialsPct))

	require.NoError(t, e.ReserveForJeton(shared.MustMoney(200_000, shared.DefaultCurrency)))
	assert.Equal(t, int64(450_000), e.RemainingMaterials.Amount)
	assert.Equal(t, StatusPartiallyReleased, e.Status)

	// Labor bucket is untouched by jeton reservations.
	assert.Equal(t, int64(350_000), e.RemainingLabor.Amount)

	err := e.ReserveForJeton(shared.MustMoney(500_000, shared.DefaultCurrency))
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
}

func TestReserveRequiresFragmentation(t *testing.T) {
	e := newTestEscrow(t, 1000)
	err := e.ReserveForJeton(shared.MustMoney(100, shared.DefaultCurrency))
	require.ErrorIs(t, err, shared.ErrNotFragmented)
}

func TestReleaseLaborToFullRelease(t *testing.T) {
	e := newTestEscrow(t, 1_000_000)
	require.NoError(t, e.Fragment(DefaultMaterialsPct))

	require.NoError(t, e.ReserveForJeton(e.RemainingMaterials))
	require.NoError(t, e.ReleaseLabor(shared.MustMoney(150_000, shared.DefaultCurrency)))
	assert.Equal(t, StatusPartiallyReleased, e.Status)

	require.NoError(t, e.ReleaseLabor(shared.MustMoney(200_000, shared.DefaultCurrency)))
	assert.Equal(t, StatusFullyReleased, e.Status)
	assert.True(t, e.RemainingLabor.IsZero())
}

func TestReleaseLaborOverdraw(t *testing.T) {
	e := newTestEscrow(t, 1_000_000)
	require.NoError(t, e.Fragment(DefaultMaterialsPct))

	err := e.ReleaseLabor(shared.MustMoney(350_001, shared.DefaultCurrency))
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	assert.Equal(t, int64(350_000), e.RemainingLabor.Amount)
}

func TestRefundRemaining(t *testing.T) {
	e := newTestEscrow(t, 1_000_000)
	require.NoError(t, e.Fragment(DefaultMaterialsPct))
	require.NoError(t, e.ReserveForJeton(shared.MustMoney(100_000, shared.DefaultCurrency)))

	refund, err := e.RefundRemaining()
	require.NoError(t, err)
	assert.Equal(t, int64(900_000), refund.Amount)
	assert.Equal(t, StatusRefunded, e.Status)
	assert.True(t, e.RemainingMaterials.IsZero())
	assert.True(t, e.RemainingLabor.IsZero())

	_, err = e.RefundRemaining()
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRefundFullyReleasedFails(t *testing.T) {
	e := newTestEscrow(t, 1_000_000)
	require.NoError(t, e.Fragment(DefaultMaterialsPct))
	require.NoError(t, e.ReserveForJeton(e.RemainingMaterials))
	require.NoError(t, e.ReleaseLabor(e.RemainingLabor))
	require.Equal(t, StatusFullyReleased, e.Status)

	_, err := e.RefundRemaining()
	require.ErrorIs(t, err, shared.ErrValidation)
}
