package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors for the financial core. Handlers branch with errors.Is and
// map each one to a stable machine code via ErrorCode.
var (
	// ErrValidation indicates malformed input, rejected before any I/O.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a missing escrow, jeton or transaction.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds indicates a debit larger than the remaining balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientBalance indicates a jeton redemption beyond its remaining amount.
	ErrInsufficientBalance = errors.New("insufficient jeton balance")
	// ErrJetonExpired indicates redemption attempted after expiry.
	ErrJetonExpired = errors.New("jeton expired")
	// ErrJetonExhausted indicates redemption against a fully spent jeton.
	ErrJetonExhausted = errors.New("jeton exhausted")
	// ErrUnauthorizedSupplier indicates the redeeming supplier is not on the jeton.
	ErrUnauthorizedSupplier = errors.New("supplier not authorized for jeton")
	// ErrProximityViolation indicates artisan and supplier are too far apart.
	ErrProximityViolation = errors.New("proximity limit exceeded")
	// ErrAlreadyFragmented guards double fragmentation of an escrow.
	ErrAlreadyFragmented = errors.New("escrow already fragmented")
	// ErrNotFragmented indicates an operation that requires a fragmented escrow.
	ErrNotFragmented = errors.New("escrow not fragmented")
	// ErrNoMaterialsAvailable indicates jeton issuance against an empty materials bucket.
	ErrNoMaterialsAvailable = errors.New("no materials funds available")
	// ErrAccountFlagged indicates the account is blocked by anti-fraud.
	ErrAccountFlagged = errors.New("account flagged by anti-fraud")
	// ErrGateway indicates a failed or timed-out mobile-money provider call.
	ErrGateway = errors.New("mobile money gateway error")
	// ErrConcurrentModification indicates a lost optimistic-lock race.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrPersistence indicates a storage failure after a successful external
	// side effect; it always requires reconciliation and is never swallowed.
	ErrPersistence = errors.New("persistence failure after external side effect")
	// ErrIdempotencyConflict indicates a reference that was already processed.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

// ErrorCode returns the stable machine code for err so API clients can branch
// on cause without parsing messages.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrJetonExpired):
		return "JETON_EXPIRED"
	case errors.Is(err, ErrJetonExhausted):
		return "JETON_EXHAUSTED"
	case errors.Is(err, ErrUnauthorizedSupplier):
		return "UNAUTHORIZED_SUPPLIER"
	case errors.Is(err, ErrProximityViolation):
		return "PROXIMITY_VIOLATION"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrAlreadyFragmented):
		return "ALREADY_FRAGMENTED"
	case errors.Is(err, ErrNotFragmented):
		return "NOT_FRAGMENTED"
	case errors.Is(err, ErrNoMaterialsAvailable):
		return "NO_MATERIALS_AVAILABLE"
	case errors.Is(err, ErrAccountFlagged):
		return "ACCOUNT_FLAGGED"
	case errors.Is(err, ErrGateway):
		return "GATEWAY_ERROR"
	case errors.Is(err, ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, ErrIdempotencyConflict):
		return "IDEMPOTENCY_CONFLICT"
	case errors.Is(err, ErrPersistence):
		return "PERSISTENCE_FAILURE"
	default:
		return "INTERNAL"
	}
}

// IsBusinessRuleViolation reports whether err is a domain rule rejection the
// caller can act on without retrying.
func IsBusinessRuleViolation(err error) bool {
	return errors.Is(err, ErrJetonExpired) ||
		errors.Is(err, ErrJetonExhausted) ||
		errors.Is(err, ErrUnauthorizedSupplier) ||
		errors.Is(err, ErrProximityViolation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAlreadyFragmented) ||
		errors.Is(err, ErrNotFragmented) ||
		errors.Is(err, ErrNoMaterialsAvailable) ||
		errors.Is(err, ErrAccountFlagged)
}

// UserSafeMessage returns a message safe to show API consumers. Internal
// failures are collapsed to a generic message.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsBusinessRuleViolation(err) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return err.Error()
	}
	if errors.Is(err, ErrGateway) {
		return "payment provider unavailable, retry with the same reference"
	}
	if errors.Is(err, ErrConcurrentModification) {
		return "operation conflicted with a concurrent update, please retry"
	}
	return "internal error"
}

// WrapPersistence marks err as a post-side-effect persistence failure carrying
// the reconciliation handles (reference, provider tx id).
func WrapPersistence(err error, reference, providerTxID string) error {
	return fmt.Errorf("%w: ref=%s provider_tx=%s: %v", ErrPersistence, reference, providerTxID, err)
}
