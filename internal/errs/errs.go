package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers: validation, resource, state conflict,
// authorization, integrity, or infrastructure.
type Code string

const (
	CodeInvalidInput         Code = "invalid_input"
	CodeInsufficientBalance  Code = "insufficient_balance"
	CodeMarketDisabled       Code = "market_disabled"
	CodeLiquidityUnavailable Code = "liquidity_unavailable"
	CodeOrderState           Code = "order_state"
	CodeUnauthorized         Code = "unauthorized"
	CodeNotFound             Code = "not_found"
	CodeUnbalancedEntry      Code = "unbalanced_entry"
	CodeUpstreamUnavailable  Code = "upstream_unavailable"
)

// Error carries a stable code alongside a human-readable message so callers
// can branch on the class of failure without string matching.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code attached to err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
