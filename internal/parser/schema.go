package parser

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"paystream/pkg/models"
)

// Schema is one immutable validation snapshot: the fixed wire limits plus
// the compiled business rules current at build time. Snapshots are swapped
// atomically so a reload never blocks in-flight validations.
type Schema struct {
	MaxBodyBytes int
	Rules        []CompiledRule
}

type CompiledRule struct {
	Rule    Rule
	program cel.Program
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("transaction_id", cel.StringType),
		cel.Variable("correlation_id", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// buildSchema compiles every enabled rule once; per-message evaluation
// then runs pre-compiled programs, keeping validation sub-millisecond.
func buildSchema(env *cel.Env, maxBodyBytes int, rules []Rule) (*Schema, error) {
	schema := &Schema{
		MaxBodyBytes: maxBodyBytes,
		Rules:        make([]CompiledRule, 0, len(rules)),
	}

	for _, rule := range rules {
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s (%s) failed to compile: %w", rule.ID, rule.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s (%s) must return bool, got %v", rule.ID, rule.Name, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s (%s) program build failed: %w", rule.ID, rule.Name, err)
		}

		schema.Rules = append(schema.Rules, CompiledRule{Rule: rule, program: program})
	}

	return schema, nil
}

func (r CompiledRule) evaluate(ctx context.Context, tx *models.ParsedTransaction) (bool, error) {
	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"transaction_id":   tx.TransactionID,
		"correlation_id":   tx.CorrelationID,
		"timestamp":        tx.Timestamp,
		"transaction_type": tx.TransactionType,
		"channel":          tx.Channel,
		"payment_method":   tx.PaymentMethod,
		"amount":           tx.Amount,
		"currency":         tx.Currency,
		"merchant_id":      tx.MerchantID,
		"customer_id":      tx.CustomerID,
		"status":           string(tx.Status),
		"metadata":         metadata,
	}

	result, _, err := r.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("rule %s evaluation failed: %w", r.Rule.ID, err)
	}

	passed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %s did not return bool, got %T", r.Rule.ID, result.Value())
	}

	return passed, nil
}
