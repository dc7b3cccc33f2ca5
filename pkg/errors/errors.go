package errors

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrCardNotFound     = errors.New("card not found")
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrMerchantInactive = errors.New("merchant is inactive")
	ErrTerminalInactive = errors.New("terminal is inactive")

	ErrNotAuthorized       = errors.New("payment not authorized")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotCancellable      = errors.New("transaction can no longer be cancelled")
	ErrAlreadyRefunded     = errors.New("transaction already refunded")
	ErrNotRefundable       = errors.New("only completed transactions can be refunded")
	ErrInvalidStatusChange = errors.New("invalid transaction status transition")
	ErrNilTransaction      = errors.New("transaction is nil")

	// Ledger failures are split so the settlement worker can decide
	// between retrying and failing the transaction permanently.
	ErrLedgerUnavailable       = errors.New("ledger temporarily unavailable")
	ErrInsufficientLedgerFunds = errors.New("insufficient funds on ledger")

	ErrSubscriptionNotFound = errors.New("webhook subscription not found")

	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrInternal      = errors.New("internal error")
)
