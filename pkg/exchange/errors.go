package exchange

import "errors"

// Failure kinds surfaced by exchange operations. Every operation is
// all-or-nothing: on any of these, no state was changed and the caller may
// retry with corrected inputs. Wrapped context is attached with fmt.Errorf,
// so match with errors.Is.
var (
	// ErrInsufficientBalance: a custody balance (creator's give side, taker's
	// get side, or a withdrawal) does not cover the requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransferFailed: the external token capability rejected the movement.
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrOrderNotFound: the order id was never issued.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnauthorized: only the creator may cancel an order.
	ErrUnauthorized = errors.New("not order creator")

	// ErrAlreadyFinalized: the order is already cancelled or completed.
	ErrAlreadyFinalized = errors.New("order already finalized")

	// ErrUnknownToken: the token address has no registered capability.
	ErrUnknownToken = errors.New("unknown token")

	// ErrInvalidAmount: a nil, negative or non-positive amount was supplied.
	ErrInvalidAmount = errors.New("invalid amount")
)
