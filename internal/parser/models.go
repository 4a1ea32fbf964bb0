package parser

import "time"

// Rule is one hot-reloadable business validation rule. Expression is a
// CEL expression over the parsed transaction that must evaluate to true
// for the transaction to be accepted.
type Rule struct {
	ID         string
	Name       string
	Field      string // field reported in the ValidationError on violation
	Expression string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
