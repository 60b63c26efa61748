package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// IntegrationEvent is published to other bounded contexts.
// Field names and JSON casing are part of the cross-service wire contract.
type IntegrationEvent interface {
	EventName() string
	PartitionKey() string
}

// CreditInventoryUpdate announces the new total of a credit lot.
type CreditInventoryUpdate struct {
	CreditID    string          `json:"creditId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

func (CreditInventoryUpdate) EventName() string      { return "CreditInventoryUpdate" }
func (e CreditInventoryUpdate) PartitionKey() string { return e.CreditID }

// MarshalJSON keeps the amount a JSON number.
func (e CreditInventoryUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CreditID    string          `json:"creditId"`
		TotalAmount json.RawMessage `json:"totalAmount"`
	}{e.CreditID, json.RawMessage(e.TotalAmount.String())})
}

// CreditIssued announces credits delivered to a user.
type CreditIssued struct {
	OwnerUserID  string          `json:"ownerUserId"`
	CreditAmount decimal.Decimal `json:"creditAmount"`
	ReferenceID  string          `json:"referenceId"`
	IssuedAt     time.Time       `json:"issuedAt"`
}

func (CreditIssued) EventName() string      { return "CreditIssued" }
func (e CreditIssued) PartitionKey() string { return e.OwnerUserID }

// MarshalJSON keeps the amount a JSON number.
func (e CreditIssued) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OwnerUserID  string          `json:"ownerUserId"`
		CreditAmount json.RawMessage `json:"creditAmount"`
		ReferenceID  string          `json:"referenceId"`
		IssuedAt     time.Time       `json:"issuedAt"`
	}{e.OwnerUserID, json.RawMessage(e.CreditAmount.String()), e.ReferenceID, e.IssuedAt})
}
