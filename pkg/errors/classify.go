package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

// ClassifyStoreError maps a raw store error onto the transient/permanent
// taxonomy. Timeouts, connection resets and throttling retry; auth
// failures and malformed statements do not.
func ClassifyStoreError(err error) *PipelineError {
	if err == nil {
		return nil
	}

	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("store operation timed out", err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgres(pqErr)
	}

	if isNetworkError(err) {
		return Transient("store connection failed", err)
	}

	// Unknown store errors are permanent: blind retries against an
	// unclassified failure hide schema and data bugs.
	return Permanent("store operation failed", err)
}

// Postgres error class prefixes, per the SQLSTATE spec:
// 08 connection exception, 53 insufficient resources, 57 operator
// intervention, 40 transaction rollback (serialization, deadlock) - all
// transient. 28 invalid authorization, 42 syntax/access, 22 data
// exception, 23 integrity violation - all permanent.
func classifyPostgres(pqErr *pq.Error) *PipelineError {
	class := string(pqErr.Code)
	if len(class) >= 2 {
		class = class[:2]
	}

	switch class {
	case "08", "53", "57", "40":
		return Transient("postgres transient failure", pqErr).
			WithDetail("sqlstate", string(pqErr.Code))
	case "28", "42", "22", "23":
		return Permanent("postgres permanent failure", pqErr).
			WithDetail("sqlstate", string(pqErr.Code))
	}

	return Permanent("postgres failure", pqErr).
		WithDetail("sqlstate", string(pqErr.Code))
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Some drivers flatten the cause into the message.
	msg := err.Error()
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "i/o timeout", "too many requests", "throttl"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
