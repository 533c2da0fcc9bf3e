package core

// ErrorCode represents a stable error identifier.
type ErrorCode string

// Error code constants.
const (
	// ErrCodeSchemaConflict indicates colliding normalized column names.
	ErrCodeSchemaConflict ErrorCode = "SCHEMA_CONFLICT"
	// ErrCodeMalformedResponse indicates a response shape mismatch.
	ErrCodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	// ErrCodeUnknownSymbol indicates the trading pair is not in market metadata.
	ErrCodeUnknownSymbol ErrorCode = "UNKNOWN_SYMBOL"
	// ErrCodeMissingVolume indicates neither amount nor notional is present.
	ErrCodeMissingVolume ErrorCode = "MISSING_VOLUME"
	// ErrCodeMissingReferencePrice indicates a notional order without a price to divide by.
	ErrCodeMissingReferencePrice ErrorCode = "MISSING_REFERENCE_PRICE"
	// ErrCodeMissingSymbol indicates an order row without a symbol.
	ErrCodeMissingSymbol ErrorCode = "MISSING_SYMBOL"
	// ErrCodeInvalidSide indicates an unparseable order side.
	ErrCodeInvalidSide ErrorCode = "INVALID_SIDE"
	// ErrCodeInvalidType indicates an unparseable order type.
	ErrCodeInvalidType ErrorCode = "INVALID_TYPE"
	// ErrCodeMissingPrice indicates a limit order without a price.
	ErrCodeMissingPrice ErrorCode = "MISSING_PRICE"
	// ErrCodeBelowMin indicates a value under its minimum bound.
	ErrCodeBelowMin ErrorCode = "BELOW_MIN"
	// ErrCodeAboveMax indicates a value over its maximum bound.
	ErrCodeAboveMax ErrorCode = "ABOVE_MAX"
	// ErrCodePrecision indicates the precision capability rejected a value.
	ErrCodePrecision ErrorCode = "PRECISION"
	// ErrCodeInvalidConfig indicates invalid configuration.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeCallFailed indicates a failed dispatched call.
	ErrCodeCallFailed ErrorCode = "CALL_FAILED"
	// ErrCodeCallPanicked indicates a dispatched call that panicked.
	ErrCodeCallPanicked ErrorCode = "CALL_PANICKED"
	// ErrCodeCancelled indicates a call skipped because the dispatch was cancelled.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeUnsupported indicates an operation the client does not implement.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
	// ErrCodeRateLimit indicates the exchange rejected the request for rate reasons.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT"
	// ErrCodeBadRequest indicates invalid request parameters.
	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"
	// ErrCodeServerError indicates a server-side error occurred.
	ErrCodeServerError ErrorCode = "SERVER_ERROR"
)

// IsErrorCode checks whether err is an *Error carrying the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return matchError(err, func(e *Error) bool { return e.Code == string(code) })
}
