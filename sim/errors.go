package sim

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidSide       = errors.New("side must be BUY or SELL")
	ErrInvalidOrderKind  = errors.New("order kind must be MARKET or LIMIT")
	ErrInvalidLimitPrice = errors.New("limit order requires a positive limit price")
	ErrUnknownInstrument = market.ErrUnknownInstrument
	ErrPriceUnavailable  = market.ErrPriceUnavailable
	ErrLimitNotMet       = errors.New("limit price not met")
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrNoOpenPosition    = ledger.ErrNoOpenPosition
	ErrOverClose         = ledger.ErrOverClose
	ErrEngineHalted      = errors.New("engine halted")
)

// OrderError is the terminal failure of an order. Order carries the REJECTED
// status and the reason code.
type OrderError struct {
	Order Order
	Err   error
}

func (e *OrderError) Error() string {
	o := e.Order
	return fmt.Sprintf("order %s %s %d %s rejected: %v", o.ID, o.Side, o.Quantity, o.Instrument, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindRisk
	KindPrice
	KindLimit
	KindLedger
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindRisk:
		return "risk"
	case KindPrice:
		return "price"
	case KindLimit:
		return "limit"
	case KindLedger:
		return "ledger"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// KindOf classifies an order error.
func KindOf(err error) Kind {
	var (
		inv *ledger.InvariantError
		vio *risk.Violation
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrEngineHalted), errors.As(err, &inv):
		return KindInternal
	case errors.As(err, &vio):
		return KindRisk
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrInvalidOrderKind),
		errors.Is(err, ErrInvalidLimitPrice),
		errors.Is(err, ErrUnknownInstrument):
		return KindValidation
	case errors.Is(err, ErrPriceUnavailable):
		return KindPrice
	case errors.Is(err, ErrLimitNotMet):
		return KindLimit
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrNoOpenPosition),
		errors.Is(err, ErrOverClose):
		return KindLedger
	}
	return KindInternal
}

// ReasonCode is the machine readable rejection reason stored on the order.
func ReasonCode(err error) string {
	var (
		inv *ledger.InvariantError
		vio *risk.Violation
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &inv):
		return "INVARIANT_BREACH"
	case errors.Is(err, ErrEngineHalted):
		return "ENGINE_HALTED"
	case errors.As(err, &vio):
		return string(vio.Code)
	case errors.Is(err, ErrInvalidQuantity):
		return "INVALID_QUANTITY"
	case errors.Is(err, ErrInvalidSide):
		return "INVALID_SIDE"
	case errors.Is(err, ErrInvalidOrderKind):
		return "INVALID_ORDER_KIND"
	case errors.Is(err, ErrInvalidLimitPrice):
		return "INVALID_LIMIT_PRICE"
	case errors.Is(err, ErrUnknownInstrument):
		return "UNKNOWN_INSTRUMENT"
	case errors.Is(err, ErrPriceUnavailable):
		return "PRICE_UNAVAILABLE"
	case errors.Is(err, ErrLimitNotMet):
		return "LIMIT_NOT_MET"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrNoOpenPosition):
		return "NO_OPEN_POSITION"
	case errors.Is(err, ErrOverClose):
		return "OVER_CLOSE"
	}
	return "INTERNAL"
}
