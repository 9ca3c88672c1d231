package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned by the ledger when a cash
	// reservation exceeds the broker's available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientSecurities is returned by the ledger when a security
	// reservation exceeds the broker's available quantity.
	ErrInsufficientSecurities = errors.New("insufficient securities")

	ErrOrderNotFound      = errors.New("order not found")
	ErrTradeNotFound      = errors.New("trade not found")
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrBrokerNotFound     = errors.New("broker not found")

	// ErrOrderNotCancellable is returned when a cancel request targets an
	// order already in a terminal state. No state changes.
	ErrOrderNotCancellable = errors.New("order not cancellable")
)

// ValidationError marks a malformed order shape. The order is never
// created and the error is resolved synchronously within submission.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// RiskRejectionError marks a limit or margin breach. The order is
// created, transitioned to REJECTED with the reason, and audited.
type RiskRejectionError struct {
	Reason string
}

func (e *RiskRejectionError) Error() string {
	return "risk rejected: " + e.Reason
}

// SettlementFailedError marks a terminal settlement failure. The trade is
// FAILED, the provisional ledger transfer reversed, and the failure
// surfaced for manual remediation; it is never retried automatically.
type SettlementFailedError struct {
	TradeID string
	Reason  string
}

func (e *SettlementFailedError) Error() string {
	return fmt.Sprintf("settlement failed for trade %s: %s", e.TradeID, e.Reason)
}
