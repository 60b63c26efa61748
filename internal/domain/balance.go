package domain

import (
	"github.com/shopspring/decimal"
)

// Balance represents a user's spendable and reserved funds.
// Reserved funds back the user's leading bids and pending purchases.
type Balance struct {
	UserID    string          `json:"userId"`
	Available decimal.Decimal `json:"availableAmount"`
	Reserved  decimal.Decimal `json:"reservedAmount"`
}

// Total returns available + reserved.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Reserved)
}

// Credit adds funds to the available balance.
func (b *Balance) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "credit amount must be positive")
	}
	b.Available = b.Available.Add(amount)
	return b.VerifyInvariant()
}

// Reserve moves funds from available to reserved.
func (b *Balance) Reserve(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "reserve amount must be positive")
	}
	if b.Available.LessThan(amount) {
		return &InsufficientFundsError{UserID: b.UserID, Requested: amount, Available: b.Available}
	}
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	return b.VerifyInvariant()
}

// Release moves previously reserved funds back to available.
func (b *Balance) Release(amount decimal.Decimal) error {
	if amount.GreaterThan(b.Reserved) {
		return &InvariantViolationError{
			Entity: "balance", ID: b.UserID,
			Detail: "release " + amount.String() + " exceeds reserved " + b.Reserved.String(),
		}
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)
	return b.VerifyInvariant()
}

// Commit permanently debits previously reserved funds.
func (b *Balance) Commit(amount decimal.Decimal) error {
	if amount.GreaterThan(b.Reserved) {
		return &InvariantViolationError{
			Entity: "balance", ID: b.UserID,
			Detail: "commit " + amount.String() + " exceeds reserved " + b.Reserved.String(),
		}
	}
	b.Reserved = b.Reserved.Sub(amount)
	return b.VerifyInvariant()
}

// VerifyInvariant checks that balance satisfies invariants.
// Call this after any state change; a violation must never be "fixed" in place.
func (b *Balance) VerifyInvariant() error {
	if b.Available.IsNegative() {
		return &InvariantViolationError{Entity: "balance", ID: b.UserID,
			Detail: "negative available " + b.Available.String()}
	}
	if b.Reserved.IsNegative() {
		return &InvariantViolationError{Entity: "balance", ID: b.UserID,
			Detail: "negative reserved " + b.Reserved.String()}
	}
	return nil
}
