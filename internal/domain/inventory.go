package domain

import "github.com/shopspring/decimal"

// CreditInventory is one lot of fungible credits owned by a single user.
type CreditInventory struct {
	CreditID string          `json:"creditId"`
	OwnerID  string          `json:"ownerId"`
	Total    decimal.Decimal `json:"totalAmount"`
	Locked   decimal.Decimal `json:"lockedAmount"`
}

// Available returns total - locked.
func (c *CreditInventory) Available() decimal.Decimal {
	return c.Total.Sub(c.Locked)
}

// Lock reserves part of the lot for a listing.
func (c *CreditInventory) Lock(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "lock amount must be positive")
	}
	if c.Available().LessThan(amount) {
		return &InsufficientInventoryError{CreditID: c.CreditID, Requested: amount, Available: c.Available()}
	}
	c.Locked = c.Locked.Add(amount)
	return c.VerifyInvariant()
}

// Unlock returns a locked amount to the available pool.
func (c *CreditInventory) Unlock(amount decimal.Decimal) error {
	if amount.GreaterThan(c.Locked) {
		return &InvariantViolationError{Entity: "inventory", ID: c.CreditID,
			Detail: "unlock " + amount.String() + " exceeds locked " + c.Locked.String()}
	}
	c.Locked = c.Locked.Sub(amount)
	return c.VerifyInvariant()
}

// Deduct permanently removes a locked amount from the lot.
func (c *CreditInventory) Deduct(amount decimal.Decimal) error {
	if amount.GreaterThan(c.Locked) {
		return &InvariantViolationError{Entity: "inventory", ID: c.CreditID,
			Detail: "deduct " + amount.String() + " exceeds locked " + c.Locked.String()}
	}
	c.Locked = c.Locked.Sub(amount)
	c.Total = c.Total.Sub(amount)
	return c.VerifyInvariant()
}

// VerifyInvariant checks total >= locked >= 0.
func (c *CreditInventory) VerifyInvariant() error {
	if c.Locked.IsNegative() {
		return &InvariantViolationError{Entity: "inventory", ID: c.CreditID,
			Detail: "negative locked " + c.Locked.String()}
	}
	if c.Available().IsNegative() {
		return &InvariantViolationError{Entity: "inventory", ID: c.CreditID,
			Detail: "locked " + c.Locked.String() + " exceeds total " + c.Total.String()}
	}
	return nil
}
