package orderbook

import "tradebook/domain/fault"

var (
	ErrOrderNotFound    = fault.New(fault.NotFound, "order not found")
	ErrIndexOutOfRange  = fault.New(fault.NotFound, "order index out of range")
	ErrPermissionDenied = fault.New(fault.Unauthorized, "permission denied")
	ErrNotOwner         = fault.New(fault.Unauthorized, "caller is not the owner")

	ErrOrderNotActive   = fault.New(fault.Validation, "order is not active")
	ErrInvalidOrderType = fault.New(fault.Validation, "invalid order type")
	ErrInvalidSwapType  = fault.New(fault.Validation, "invalid swap type")
	ErrInvalidAmount    = fault.New(fault.Validation, "amount must be positive")
	ErrSameToken        = fault.New(fault.Validation, "token in and token out must differ")
	ErrWrongTokenSide   = fault.New(fault.Validation, "native currency on the wrong side of the swap")
	ErrValueMismatch    = fault.New(fault.Validation, "transaction value mismatch")
	ErrInvalidConfig    = fault.New(fault.Validation, "invalid configuration")
	ErrUnavailablePair  = fault.New(fault.Validation, "unavailable pair address")

	ErrAboveTarget = fault.New(fault.Condition, "amount out is above target amount")
	ErrBelowMargin = fault.New(fault.Condition, "amount out is below target amount margin")

	ErrEscrowMismatch = fault.New(fault.External, "escrow out of balance")
)
