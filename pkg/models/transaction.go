package models

import "time"

// TransactionStatus is the terminal outcome reported by the payment rail.
type TransactionStatus string

const (
	StatusSuccess  TransactionStatus = "SUCCESS"
	StatusDeclined TransactionStatus = "DECLINED"
	StatusTimeout  TransactionStatus = "TIMEOUT"
	StatusError    TransactionStatus = "ERROR"
)

func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusDeclined, StatusTimeout, StatusError:
		return true
	}
	return false
}

// ParsedTransaction is a validated payment event. Invariants enforced by
// the parser: Amount > 0, Currency is a 3-letter code, Status is one of
// the enumerated values, PaymentMethod is present.
type ParsedTransaction struct {
	TransactionID   string                 `json:"transaction_id"`
	CorrelationID   string                 `json:"correlation_id"`
	Timestamp       time.Time              `json:"timestamp"`
	TransactionType string                 `json:"transaction_type"`
	Channel         string                 `json:"channel"`
	PaymentMethod   string                 `json:"payment_method"`
	Amount          float64                `json:"amount"`
	Currency        string                 `json:"currency"`
	MerchantID      string                 `json:"merchant_id"`
	CustomerID      string                 `json:"customer_id"`
	Status          TransactionStatus      `json:"status"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationError describes one violated rule on one field.
type ValidationError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ParseResult is the outcome of parsing one message body: either a
// validated transaction or the accumulated field errors plus the
// untouched raw bytes for the dead-letter record.
type ParseResult struct {
	Transaction *ParsedTransaction
	Errors      []ValidationError
	RawBody     []byte
}

func (r ParseResult) OK() bool {
	return r.Transaction != nil && len(r.Errors) == 0
}
