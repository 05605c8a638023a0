package market

import (
	"fmt"
	"strings"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ClosingSide returns the side that flattens a signed quantity.
func ClosingSide(qty int64) Side {
	if qty < 0 {
		return Buy
	}
	return Sell
}

type OrderKind string

const (
	Market OrderKind = "MARKET"
	Limit  OrderKind = "LIMIT"
)

func ParseOrderKind(s string) (OrderKind, error) {
	switch OrderKind(strings.ToUpper(strings.TrimSpace(s))) {
	case "", Market:
		return Market, nil
	case Limit:
		return Limit, nil
	}
	return "", fmt.Errorf("invalid order kind %q", s)
}

// Product is the broker product type. The ledger treats it as a tag.
type Product string

const (
	MIS  Product = "MIS"
	CNC  Product = "CNC"
	NRML Product = "NRML"
)
