package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paystream/internal/config"
	"paystream/internal/parser"
)

func TestParserRepository_GetActiveRules(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	insertValidationRule(t, infra.PostgresDB, "amount_ceiling", "amount", "amount < 100000.0", true)
	insertValidationRule(t, infra.PostgresDB, "web_only", "channel", `channel == "web"`, true)
	insertValidationRule(t, infra.PostgresDB, "disabled_rule", "status", `status == "SUCCESS"`, false)

	repo := parser.NewRepository(testManager(infra.PostgresDB))
	rules, err := repo.GetActiveRules(ctx)
	require.NoError(t, err)

	require.Len(t, rules, 2)
	names := []string{rules[0].Name, rules[1].Name}
	assert.ElementsMatch(t, []string{"amount_ceiling", "web_only"}, names)
	for _, rule := range rules {
		assert.True(t, rule.Enabled)
		assert.NotEmpty(t, rule.ID)
	}
}

func TestParser_ReloadAndEnforceStoredRules(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	insertValidationRule(t, infra.PostgresDB, "amount_ceiling", "amount", "amount < 1000.0", true)

	p, err := parser.NewParser(parser.NewRepository(testManager(infra.PostgresDB)), config.ValidationConfig{MaxBodyBytes: 1 << 20}, testLogger())
	require.NoError(t, err)
	require.NoError(t, p.ReloadRules(ctx))

	payload := map[string]interface{}{
		"transaction_id":   "tx-1",
		"timestamp":        "2026-01-15T12:00:00Z",
		"transaction_type": "purchase",
		"channel":          "web",
		"payment_method":   "card",
		"amount":           500.0,
		"currency":         "USD",
		"status":           "SUCCESS",
	}

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	result := p.ParseAndValidate(ctx, body)
	assert.True(t, result.OK(), "unexpected errors: %v", result.Errors)

	payload["amount"] = 5000.0
	body, err = json.Marshal(payload)
	require.NoError(t, err)
	result = p.ParseAndValidate(ctx, body)
	require.False(t, result.OK())
	assert.Equal(t, "business_rule", result.Errors[0].Rule)
}
