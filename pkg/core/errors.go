package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of a normalization error.
type ErrorType int

// Error type constants separate structural failures from per-row conditions.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeSchemaConflict indicates two raw fields normalize to the same column.
	ErrorTypeSchemaConflict
	// ErrorTypeMalformedResponse indicates a response whose shape does not match its kind.
	ErrorTypeMalformedResponse
	// ErrorTypeUnresolvableVolume indicates an order with neither amount nor notional.
	ErrorTypeUnresolvableVolume
	// ErrorTypeUnknownSymbol indicates a symbol missing from market metadata.
	ErrorTypeUnknownSymbol
	// ErrorTypeOutOfRange indicates a value outside a market bound.
	ErrorTypeOutOfRange
	// ErrorTypeInvalidOrder indicates a malformed order row.
	ErrorTypeInvalidOrder
	// ErrorTypeDispatch indicates a failed call inside a fan-out.
	ErrorTypeDispatch
	// ErrorTypeInvalidConfig indicates rejected configuration or options.
	ErrorTypeInvalidConfig
	// ErrorTypeUnsupported indicates an operation the exchange client does not provide.
	ErrorTypeUnsupported
	// ErrorTypeExchange indicates an error reported by the exchange itself.
	ErrorTypeExchange
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	if t < 0 || int(t) >= len(errorTypeNames) {
		return "UNKNOWN"
	}
	return errorTypeNames[t]
}

var errorTypeNames = [...]string{
	"UNKNOWN",
	"SCHEMA_CONFLICT",
	"MALFORMED_RESPONSE",
	"UNRESOLVABLE_VOLUME",
	"UNKNOWN_SYMBOL",
	"OUT_OF_RANGE",
	"INVALID_ORDER",
	"DISPATCH",
	"INVALID_CONFIG",
	"UNSUPPORTED",
	"EXCHANGE",
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrCircuitBreakerOpen is returned when the circuit breaker rejects a call.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrNoMarkets is returned when constraints are requested before markets are loaded.
	ErrNoMarkets = errors.New("markets not loaded")
)

// Error is the structured error used across normalization, order preprocessing
// and dispatch. It carries enough context (kind, symbol, field, row) to diagnose
// a failure without re-running the batch.
type Error struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// Code is a stable machine-readable identifier.
	Code string `json:"code,omitempty"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Kind is the response kind being processed, if any.
	Kind Kind `json:"kind"`
	// Symbol is the market symbol involved, if any.
	Symbol string `json:"symbol,omitempty"`
	// Field is the offending column or field name.
	Field string `json:"field,omitempty"`
	// Sources lists raw field names involved in a schema conflict.
	Sources []string `json:"sources,omitempty"`
	// Row is the zero-based row or slot index, or -1 when not applicable.
	Row int `json:"row"`
	// Err is the wrapped cause.
	Err error `json:"-"`
}

// NewError creates an Error of the given type with no row attached.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Row:     -1,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Type.String())
	if e.Code != "" {
		b.WriteString("/")
		b.WriteString(e.Code)
	}
	var ctx []string
	if e.Kind != KindGeneric {
		ctx = append(ctx, "kind="+e.Kind.String())
	}
	if e.Symbol != "" {
		ctx = append(ctx, "symbol="+e.Symbol)
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if len(e.Sources) > 0 {
		ctx = append(ctx, "sources="+strings.Join(e.Sources, ","))
	}
	if e.Row >= 0 {
		ctx = append(ctx, fmt.Sprintf("row=%d", e.Row))
	}
	if len(ctx) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCode sets the error code and returns the error for chaining.
func (e *Error) WithCode(code ErrorCode) *Error {
	e.Code = string(code)
	return e
}

// WithKind sets the response kind and returns the error for chaining.
func (e *Error) WithKind(kind Kind) *Error {
	e.Kind = kind
	return e
}

// WithSymbol sets the symbol and returns the error for chaining.
func (e *Error) WithSymbol(symbol string) *Error {
	e.Symbol = symbol
	return e
}

// WithField sets the offending field and returns the error for chaining.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithSources sets the conflicting raw names and returns the error for chaining.
func (e *Error) WithSources(sources ...string) *Error {
	e.Sources = sources
	return e
}

// WithRow sets the row index and returns the error for chaining.
func (e *Error) WithRow(row int) *Error {
	e.Row = row
	return e
}

// Wrap sets the cause and returns the error for chaining.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func isType(err error, t ErrorType) bool {
	return matchError(err, func(e *Error) bool { return e.Type == t })
}

// matchError applies match to the first *Error of err's chain. Each branch
// of a joined error is checked separately.
func matchError(err error, match func(*Error) bool) bool {
	for err != nil {
		switch x := err.(type) {
		case *Error:
			return match(x)
		case interface{ Unwrap() []error }:
			for _, branch := range x.Unwrap() {
				if matchError(branch, match) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		default:
			return false
		}
	}
	return false
}

// IsSchemaConflict reports whether err is a schema conflict.
func IsSchemaConflict(err error) bool {
	return isType(err, ErrorTypeSchemaConflict)
}

// IsMalformedResponse reports whether err is a malformed response.
func IsMalformedResponse(err error) bool {
	return isType(err, ErrorTypeMalformedResponse)
}

// IsUnknownSymbol reports whether err is an unknown symbol lookup.
func IsUnknownSymbol(err error) bool {
	return isType(err, ErrorTypeUnknownSymbol)
}

// IsInvalidOrder reports whether err is a malformed order row.
func IsInvalidOrder(err error) bool {
	return isType(err, ErrorTypeInvalidOrder)
}

// IsUnresolvableVolume reports whether err is an unresolvable volume.
func IsUnresolvableVolume(err error) bool {
	return isType(err, ErrorTypeUnresolvableVolume)
}

// IsDispatchError reports whether err came out of a fan-out.
func IsDispatchError(err error) bool {
	return isType(err, ErrorTypeDispatch)
}

// IsUnsupported reports whether err is an unsupported operation.
func IsUnsupported(err error) bool {
	return isType(err, ErrorTypeUnsupported)
}

// IsFatal returns true for structural errors that indicate a taxonomy or
// version mismatch rather than bad data.
func IsFatal(err error) bool {
	return matchError(err, func(e *Error) bool {
		return e.Type == ErrorTypeSchemaConflict ||
			e.Type == ErrorTypeMalformedResponse ||
			e.Type == ErrorTypeInvalidConfig
	})
}

// Warning is a recoverable per-row condition attached to a result instead of
// being returned as an error.
type Warning struct {
	// Row is the zero-based input row index.
	Row int `json:"row"`
	// Symbol is the market symbol of the row.
	Symbol string `json:"symbol,omitempty"`
	// Field is the checked column (price, amount, cost, ...).
	Field string `json:"field"`
	// Code identifies the condition.
	Code ErrorCode `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Value is the offending value.
	Value float64 `json:"value"`
	// Bound is the violated bound, if any.
	Bound float64 `json:"bound"`
}

func (w Warning) String() string {
	return fmt.Sprintf("row %d %s %s: %s", w.Row, w.Symbol, w.Field, w.Message)
}
