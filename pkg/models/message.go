package models

import "time"

// Message is the immutable wire-level envelope delivered by a broker.
// Body carries the raw UTF-8 JSON payload; Headers carry transport
// metadata such as correlation_id when the producer set one.
type Message struct {
	MessageID      string            `json:"message_id"`
	CorrelationID  string            `json:"correlation_id"`
	Timestamp      time.Time         `json:"timestamp"`
	PartitionKey   string            `json:"partition_key"`
	SequenceNumber int64             `json:"sequence_number"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body"`
}

// MessageBatch is one poll cycle's worth of messages, in broker-delivery
// order. It is the unit of acknowledgment: the orchestrator acknowledges
// the whole batch or none of it.
type MessageBatch struct {
	ID       string
	Messages []Message
}

func (b MessageBatch) Len() int {
	return len(b.Messages)
}

func (b MessageBatch) IsEmpty() bool {
	return len(b.Messages) == 0
}
