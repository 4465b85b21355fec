package errors

import stderrors "errors"

// Terminal failures surfaced by the escrow core. None of them are retried
// internally; callers branch on them with errors.Is.
var (
	ErrDuplicateRequest = stderrors.New("escrow: duplicate request id")
	ErrNotFound         = stderrors.New("escrow: deposit not found")
	ErrAlreadySettled   = stderrors.New("escrow: deposit already settled")
	ErrUnderfunded      = stderrors.New("settlement: charge exceeds deposit")
	ErrUnauthorized     = stderrors.New("unauthorized caller")
	ErrInvalidPricing   = stderrors.New("pricing: invalid update")
	ErrTransferFailed   = stderrors.New("settlement: transfer failed")
)

// Supporting validation failures.
var (
	ErrInvalidArgument       = stderrors.New("invalid argument")
	ErrInvalidAmount         = stderrors.New("invalid amount")
	ErrUnsupportedToken      = stderrors.New("unsupported token")
	ErrCustodyShortfall      = stderrors.New("escrow: custody does not hold the deposit funds")
	ErrConversionUnavailable = stderrors.New("settlement: no conversion route for token")
	ErrModulePaused          = stderrors.New("module paused")
	ErrInsufficientFunds     = stderrors.New("insufficient funds")
	ErrQuotaExceeded         = stderrors.New("quota exceeded")
)

// Reason returns the stable machine-readable code used by the RPC layer so
// relays can tell failures apart. Unknown errors map to "internal".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	case stderrors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case stderrors.Is(err, ErrUnderfunded):
		return "underfunded"
	case stderrors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case stderrors.Is(err, ErrInvalidPricing):
		return "invalid_pricing"
	case stderrors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case stderrors.Is(err, ErrModulePaused):
		return "paused"
	case stderrors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case stderrors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case stderrors.Is(err, ErrCustodyShortfall):
		return "custody_shortfall"
	case stderrors.Is(err, ErrConversionUnavailable):
		return "conversion_unavailable"
	case stderrors.Is(err, ErrInvalidArgument),
		stderrors.Is(err, ErrInvalidAmount),
		stderrors.Is(err, ErrUnsupportedToken):
		return "invalid_argument"
	default:
		return "internal"
	}
}
