package models

import "time"

// RawEvent is the archival record written to the columnar store. It
// mirrors ParsedTransaction plus the pipeline's ingestion timestamp.
// Files are immutable once uploaded. Optional fields are nullable in
// the parquet schema.
type RawEvent struct {
	TransactionID      string    `parquet:"transaction_id"`
	CorrelationID      string    `parquet:"correlation_id,optional"`
	Timestamp          time.Time `parquet:"timestamp,timestamp(microsecond)"`
	TransactionType    string    `parquet:"transaction_type,optional"`
	Channel            string    `parquet:"channel,optional"`
	PaymentMethod      string    `parquet:"payment_method"`
	Amount             float64   `parquet:"amount"`
	Currency           string    `parquet:"currency"`
	MerchantID         string    `parquet:"merchant_id,optional"`
	CustomerID         string    `parquet:"customer_id,optional"`
	Status             string    `parquet:"status"`
	Metadata           string    `parquet:"metadata,optional"` // JSON-encoded
	IngestionTimestamp time.Time `parquet:"ingestion_timestamp,timestamp(microsecond)"`
}

// DynamicMetric is one derived metric row, append-only, one or more per
// transaction. Duplicate transaction_id inserts are tolerated; the metric
// log is not deduplicated at this layer.
type DynamicMetric struct {
	MetricID      int64     `json:"metric_id"`
	TransactionID string    `json:"transaction_id"`
	CorrelationID string    `json:"correlation_id"`
	MetricType    string    `json:"metric_type"`
	MetricValue   float64   `json:"metric_value"`
	MetricData    string    `json:"metric_data"` // JSON-encoded
	CreatedAt     time.Time `json:"created_at"`
}

// AggregateWindow is one mutable counter row keyed by
// (window_start, payment_method, currency, status). The store, not the
// process, serializes concurrent upserts for the same key.
type AggregateWindow struct {
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	PaymentMethod string    `json:"payment_method"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	TotalCount    int64     `json:"total_count"`
	TotalAmount   float64   `json:"total_amount"`
	MinAmount     float64   `json:"min_amount"`
	MaxAmount     float64   `json:"max_amount"`
	AvgAmount     float64   `json:"avg_amount"`
	SuccessCount  int64     `json:"success_count"`
	DeclinedCount int64     `json:"declined_count"`
	TimeoutCount  int64     `json:"timeout_count"`
	ErrorCount    int64     `json:"error_count"`
}

// FailedItem is a dead-letter row. Inserted on any irrecoverable failure,
// optionally updated by a separate reconciliation process, never deleted
// automatically.
type FailedItem struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	ErrorType     string    `json:"error_type"`
	ErrorMessage  string    `json:"error_message"`
	RawPayload    []byte    `json:"raw_payload"`
	FailedAt      time.Time `json:"failed_at"`
	RetryCount    int       `json:"retry_count"`
	Resolved      bool      `json:"resolved"`
}
