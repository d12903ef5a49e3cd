package shared

import "fmt"

// DefaultCurrency is the platform settlement currency (XOF has no sub-unit,
// amounts are still carried in centimes for provider compatibility).
const DefaultCurrency = "XOF"

// Money is an amount in minor currency units. The zero value is zero in an
// empty currency and only compares against itself; construct with NewMoney.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney builds a Money value, rejecting negative amounts.
func NewMoney(amount int64, currency string) (Money, error) {
	if amount < 0 {
		return Money{}, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if currency == "" {
		return Money{}, fmt.Errorf("%w: currency required", ErrValidation)
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// MustMoney is a test/seed helper that panics on invalid input.
func MustMoney(amount int64, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive reports whether the amount is strictly positive.
func (m Money) IsPositive() bool { return m.Amount > 0 }

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: currency mismatch %s vs %s", ErrValidation, m.Currency, other.Currency)
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m - other, rejecting results below zero. Balance fields never
// go negative, so there is no signed variant.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.Amount > m.Amount {
		return Money{}, fmt.Errorf("%w: %d exceeds balance %d", ErrInsufficientFunds, other.Amount, m.Amount)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// GTE reports m >= other; currency mismatch returns false.
func (m Money) GTE(other Money) bool {
	return m.Currency == other.Currency && m.Amount >= other.Amount
}

// SplitPct divides the amount into a pct share and its remainder. The share
// is rounded half-up in integer arithmetic so both parts always sum back to
// the original amount.
func (m Money) SplitPct(pct int64) (share Money, rest Money, err error) {
	if pct < 0 || pct > 100 {
		return Money{}, Money{}, fmt.Errorf("%w: split percentage %d out of range", ErrValidation, pct)
	}
	shareAmt := (m.Amount*pct + 50) / 100
	return Money{Amount: shareAmt, Currency: m.Currency},
		Money{Amount: m.Amount - shareAmt, Currency: m.Currency},
		nil
}

// String renders the amount for logs, e.g. "650000 XOF".
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}
