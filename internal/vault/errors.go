package vault

import (
	"errors"

	"liquidityVault/internal/scaling"
	"liquidityVault/internal/tokens"
)

var (
	ErrUnknownPool            = errors.New("unknown pool")
	ErrAlreadyRegistered      = errors.New("pool already registered")
	ErrLengthMismatch         = errors.New("length mismatch")
	ErrInsufficientBalance    = errors.New("insufficient pool balance")
	ErrStalePrice             = errors.New("last change block does not match pool")
	ErrSameToken              = errors.New("token in equals token out")
	ErrPaused                 = errors.New("pool is paused")
	ErrNegativeAmount         = errors.New("negative amount")
	ErrNegativeProtocolFee    = errors.New("negative protocol fee amount")
	ErrSwapFeeOutOfBounds     = errors.New("swap fee percentage out of bounds")
	ErrProtocolFeeOutOfBounds = errors.New("protocol swap fee percentage out of bounds")
	ErrInvalidKind            = errors.New("invalid settlement kind")
)

// Token and scaling failures surface with the sentinel values of their packages.
var (
	ErrUnknownToken   = tokens.ErrUnknownToken
	ErrDuplicateToken = tokens.ErrDuplicateToken
	ErrOverflow       = scaling.ErrOverflow
)
