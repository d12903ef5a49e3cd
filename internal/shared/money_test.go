package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyRejectsNegative(t *testing.T) {
	_, err := NewMoney(-1, DefaultCurrency)
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewMoney(100, "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestMoneyAddSub(t *testing.T) {
	a := MustMoney(1000, DefaultCurrency)
	b := MustMoney(400, DefaultCurrency)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1400), sum.Amount)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(600), diff.Amount)
}

func TestMoneySubBelowZero(t *testing.T) {
	a := MustMoney(100, DefaultCurrency)
	b := MustMoney(101, DefaultCurrency)

	_, err := a.Sub(b)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	a := MustMoney(100, "XOF")
	b := MustMoney(100, "EUR")

	_, err := a.Add(b)
	require.ErrorIs(t, err, ErrValidation)

	_, err = a.Sub(b)
	require.ErrorIs(t, err, ErrValidation)

	assert.False(t, a.GTE(b))
}

func TestSplitPct(t *testing.T) {
	cases := []struct {
		name  string
		total int64
		pct   int64
		share int64
	}{
		{"standard devis", 1_000_000, 65, 650_000},
		{"rounds half up", 1, 65, 1},
		{"odd total", 3, 65, 2},
		{"zero pct", 500, 0, 0},
		{"full pct", 500, 100, 500},
		{"indivisible", 999, 65, 649},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := MustMoney(tc.total, DefaultCurrency)
			share, rest, err := m.SplitPct(tc.pct)
			require.NoError(t, err)
			assert.Equal(t, tc.share, share.Amount)
			// No centime is ever created or destroyed by a split.
			assert.Equal(t, tc.total, share.Amount+rest.Amount)
		})
	}
}

func TestSplitPctOutOfRange(t *testing.T) {
	m := MustMoney(100, DefaultCurrency)
	_, _, err := m.SplitPct(101)
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = m.SplitPct(-1)
	require.ErrorIs(t, err, ErrValidation)
}
