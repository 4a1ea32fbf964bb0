// Package parser turns raw broker message bodies into validated payment
// transactions. Field rules run in a fixed, deterministic order and
// fail fast per field while accumulating one error per distinct field;
// business rules are CEL expressions hot-reloaded from the rules table.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"

	"paystream/internal/config"
	"paystream/internal/logger"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
)

// currencyPattern is compiled once at package initialization; validation
// sits on the hot path and runs for every message.
var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// requiredFields lists the wire fields checked for presence, in the
// order they are checked. The order is part of the validation contract.
var requiredFields = []string{
	"transaction_id",
	"timestamp",
	"transaction_type",
	"channel",
	"payment_method",
	"amount",
	"currency",
	"status",
}

type Parser struct {
	repo   Repository
	cfg    config.ValidationConfig
	env    *cel.Env
	schema atomic.Pointer[Schema]
	logger logger.Logger
}

func NewParser(repo Repository, cfg config.ValidationConfig, log logger.Logger) (*Parser, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Parser{
		repo:   repo,
		cfg:    cfg,
		env:    env,
		logger: log,
	}

	// Start from an empty rule set so validation works before the first
	// successful reload.
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	p.schema.Store(&Schema{MaxBodyBytes: maxBody})

	return p, nil
}

// ReloadRules builds a fresh schema snapshot and swaps it in atomically.
// A failed reload keeps the previous snapshot serving.
func (p *Parser) ReloadRules(ctx context.Context) error {
	rules, err := p.repo.GetActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load validation rules: %w", err)
	}

	schema, err := buildSchema(p.env, p.schema.Load().MaxBodyBytes, rules)
	if err != nil {
		return fmt.Errorf("failed to build validation schema: %w", err)
	}

	p.schema.Store(schema)
	p.logger.Infow("Validation rules reloaded",
		"rule_count", len(schema.Rules),
	)
	return nil
}

func (p *Parser) StartReloader(ctx context.Context) error {
	interval := time.Duration(p.cfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := p.ReloadRules(ctx); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to reload validation rules",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := p.ReloadRules(ctx); err != nil {
				p.logger.ErrorwCtx(ctx, "Failed to reload validation rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseAndValidate deserializes one message body and applies the fixed
// field rules, then the business rules. Malformed JSON yields a single
// _root/json_decode error; the raw bytes are preserved unchanged either way.
func (p *Parser) ParseAndValidate(ctx context.Context, rawBody []byte) models.ParseResult {
	schema := p.schema.Load()
	result := models.ParseResult{RawBody: rawBody}

	if len(rawBody) > schema.MaxBodyBytes {
		result.Errors = append(result.Errors, models.ValidationError{
			Field:   "_root",
			Rule:    "max_size",
			Message: fmt.Sprintf("body of %d bytes exceeds limit of %d", len(rawBody), schema.MaxBodyBytes),
		})
		return result
	}

	decoder := json.NewDecoder(bytes.NewReader(rawBody))
	decoder.UseNumber()

	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues("json_decode").Inc()
		result.Errors = append(result.Errors, models.ValidationError{
			Field:   "_root",
			Rule:    "json_decode",
			Message: err.Error(),
		})
		return result
	}

	tx := &models.ParsedTransaction{}
	errs := p.validateFields(payload, tx)
	if len(errs) > 0 {
		for _, e := range errs {
			metrics.ValidationFailuresTotal.WithLabelValues(e.Rule).Inc()
		}
		result.Errors = errs
		return result
	}

	errs = p.applyBusinessRules(ctx, schema, tx)
	if len(errs) > 0 {
		for _, e := range errs {
			metrics.ValidationFailuresTotal.WithLabelValues(e.Rule).Inc()
		}
		result.Errors = errs
		return result
	}

	result.Transaction = tx
	return result
}

// validateFields applies presence, coercion, range, pattern and enum
// checks per field. The first violated rule stops further checks for
// that field; later fields are still checked so one message can report
// multiple field errors.
func (p *Parser) validateFields(payload map[string]interface{}, tx *models.ParsedTransaction) []models.ValidationError {
	var errs []models.ValidationError

	for _, field := range requiredFields {
		if _, ok := payload[field]; !ok {
			errs = append(errs, models.ValidationError{
				Field:   field,
				Rule:    "required",
				Message: "field is missing",
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	if v, err := coerceString(payload, "transaction_id", true); err != nil {
		errs = append(errs, *err)
	} else {
		tx.TransactionID = v
	}

	if v, err := coerceString(payload, "correlation_id", false); err != nil {
		errs = append(errs, *err)
	} else {
		tx.CorrelationID = v
	}

	if ts, err := coerceTimestamp(payload["timestamp"]); err != nil {
		errs = append(errs, models.ValidationError{
			Field:   "timestamp",
			Rule:    "timestamp_format",
			Message: err.Error(),
		})
	} else {
		tx.Timestamp = ts
	}

	if v, err := coerceString(payload, "transaction_type", true); err != nil {
		errs = append(errs, *err)
	} else {
		tx.TransactionType = v
	}

	if v, err := coerceString(payload, "channel", true); err != nil {
		errs = append(errs, *err)
	} else {
		tx.Channel = v
	}

	if v, err := coerceString(payload, "payment_method", true); err != nil {
		errs = append(errs, *err)
	} else {
		tx.PaymentMethod = v
	}

	if amount, err := coerceAmount(payload["amount"]); err != nil {
		errs = append(errs, *err)
	} else {
		tx.Amount = amount
	}

	if v, err := coerceString(payload, "currency", true); err != nil {
		errs = append(errs, *err)
	} else if !currencyPattern.MatchString(v) {
		errs = append(errs, models.ValidationError{
			Field:   "currency",
			Rule:    "currency_format",
			Message: fmt.Sprintf("currency must be a 3-letter uppercase code, got %q", v),
		})
	} else {
		tx.Currency = v
	}

	if v, err := coerceString(payload, "merchant_id", false); err != nil {
		errs = append(errs, *err)
	} else {
		tx.MerchantID = v
	}

	if v, err := coerceString(payload, "customer_id", false); err != nil {
		errs = append(errs, *err)
	} else {
		tx.CustomerID = v
	}

	if v, err := coerceString(payload, "status", true); err != nil {
		errs = append(errs, *err)
	} else {
		status := models.TransactionStatus(v)
		if !status.IsValid() {
			errs = append(errs, models.ValidationError{
				Field:   "status",
				Rule:    "enum_membership",
				Message: fmt.Sprintf("status %q is not one of SUCCESS, DECLINED, TIMEOUT, ERROR", v),
			})
		} else {
			tx.Status = status
		}
	}

	if meta, ok := payload["metadata"]; ok {
		if m, isMap := meta.(map[string]interface{}); isMap {
			tx.Metadata = m
		} else {
			errs = append(errs, models.ValidationError{
				Field:   "metadata",
				Rule:    "type_mismatch",
				Message: fmt.Sprintf("metadata must be an object, got %T", meta),
			})
		}
	}

	return errs
}

func (p *Parser) applyBusinessRules(ctx context.Context, schema *Schema, tx *models.ParsedTransaction) []models.ValidationError {
	var errs []models.ValidationError

	for _, rule := range schema.Rules {
		passed, err := rule.evaluate(ctx, tx)
		if err != nil {
			// A broken rule must not reject traffic; it is logged and
			// skipped until the next reload replaces it.
			p.logger.ErrorwCtx(ctx, "Business rule evaluation error",
				"rule_id", rule.Rule.ID,
				"rule_name", rule.Rule.Name,
				"error", err,
			)
			continue
		}
		if !passed {
			errs = append(errs, models.ValidationError{
				Field:   rule.Rule.Field,
				Rule:    "business_rule",
				Message: fmt.Sprintf("rule %q violated", rule.Rule.Name),
			})
		}
	}

	return errs
}

func coerceString(payload map[string]interface{}, field string, required bool) (string, *models.ValidationError) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		if required {
			return "", &models.ValidationError{
				Field:   field,
				Rule:    "required",
				Message: "field is missing",
			}
		}
		return "", nil
	}

	s, isString := raw.(string)
	if !isString {
		return "", &models.ValidationError{
			Field:   field,
			Rule:    "type_mismatch",
			Message: fmt.Sprintf("expected string, got %T", raw),
		}
	}
	if required && s == "" {
		return "", &models.ValidationError{
			Field:   field,
			Rule:    "required",
			Message: "field is empty",
		}
	}
	return s, nil
}

func coerceAmount(raw interface{}) (float64, *models.ValidationError) {
	var (
		amount float64
		err    error
	)

	switch v := raw.(type) {
	case json.Number:
		amount, err = v.Float64()
	case string:
		amount, err = strconv.ParseFloat(v, 64)
	default:
		return 0, &models.ValidationError{
			Field:   "amount",
			Rule:    "type_mismatch",
			Message: fmt.Sprintf("expected number, got %T", raw),
		}
	}
	if err != nil {
		return 0, &models.ValidationError{
			Field:   "amount",
			Rule:    "type_mismatch",
			Message: err.Error(),
		}
	}

	if amount <= 0 {
		return 0, &models.ValidationError{
			Field:   "amount",
			Rule:    "positive_amount",
			Message: fmt.Sprintf("amount must be greater than zero, got %v", amount),
		}
	}
	return amount, nil
}

func coerceTimestamp(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, nil
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q is not RFC3339", v)
		}
		return ts, nil
	case json.Number:
		epoch, err := v.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q is not an epoch value", v)
		}
		// Heuristic: values past the year 33658 in seconds are millis.
		if epoch > 1e12 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("expected string or number, got %T", raw)
	}
}
