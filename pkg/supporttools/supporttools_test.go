package supporttools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deskd/pkg/tools"
)

func registryWithAll(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, RegisterAll(registry))
	return registry
}

func TestRegisterAllExposesEveryTool(t *testing.T) {
	registry := registryWithAll(t)
	for _, name := range []string{
		"lookup_bills", "lookup_bill", "lookup_transactions", "send_invoice", "issue_refund",
		"lookup_order", "check_return_window", "create_rma",
		"check_device_status", "run_diagnostic", "check_warranty", "reset_firmware", "schedule_repair",
	} {
		assert.NotNil(t, registry.Get(name), name)
	}
}

func TestApprovalPolicies(t *testing.T) {
	registry := registryWithAll(t)
	thresholds := tools.Thresholds{Limits: map[string]float64{"USD": 100}, DefaultCurrency: "USD"}

	refund := registry.Get("issue_refund")
	require.NotNil(t, refund)
	gated, _ := refund.Approval.RequiresApproval(map[string]interface{}{"amount": 49.99}, thresholds)
	assert.False(t, gated)
	gated, reason := refund.Approval.RequiresApproval(map[string]interface{}{"amount": float64(75000)}, thresholds)
	assert.True(t, gated)
	assert.Contains(t, reason, "exceeds approval threshold")

	rma := registry.Get("create_rma")
	require.NotNil(t, rma)
	gated, _ = rma.Approval.RequiresApproval(map[string]interface{}{"order_id": "1029"}, thresholds)
	assert.True(t, gated, "rma creation always needs review")

	reset := registry.Get("reset_firmware")
	require.NotNil(t, reset)
	gated, _ = reset.Approval.RequiresApproval(map[string]interface{}{"serial_number": "SN1"}, thresholds)
	assert.True(t, gated, "firmware reset always needs review")

	lookup := registry.Get("lookup_bills")
	require.NotNil(t, lookup)
	assert.Equal(t, tools.SideEffectReadOnly, lookup.SideEffect)
}

func TestLookupBillFindsById(t *testing.T) {
	registry := registryWithAll(t)

	result := registry.Invoke(context.Background(), "lookup_bill", map[string]interface{}{
		"account_id": "A1", "bill_id": "b002",
	}, 0)
	require.True(t, result.Success, result.Error)
	bill, ok := result.Output.(Bill)
	require.True(t, ok)
	assert.Equal(t, "B002", bill.BillID)
	assert.InDelta(t, 488.23, bill.TotalAmount, 0.001)

	result = registry.Invoke(context.Background(), "lookup_bill", map[string]interface{}{
		"account_id": "A1", "bill_id": "B999",
	}, 0)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no bill found")
}

func TestLookupTransactionsShowsDuplicateCharges(t *testing.T) {
	registry := registryWithAll(t)

	result := registry.Invoke(context.Background(), "lookup_transactions", map[string]interface{}{"order_id": "1029"}, 0)
	require.True(t, result.Success, result.Error)
	payload := result.Output.(map[string]interface{})
	txns := payload["transactions"].([]map[string]interface{})
	assert.Len(t, txns, 2)
}

func TestSendInvoiceValidatesChannel(t *testing.T) {
	registry := registryWithAll(t)

	result := registry.Invoke(context.Background(), "send_invoice", map[string]interface{}{
		"account_id": "A1", "bill_id": "B001", "channel": "Email",
	}, 0)
	require.True(t, result.Success, result.Error)

	result = registry.Invoke(context.Background(), "send_invoice", map[string]interface{}{
		"account_id": "A1", "bill_id": "B001", "channel": "carrier-pigeon",
	}, 0)
	assert.False(t, result.Success)
}

func TestIssueRefundRejectsNonPositiveAmount(t *testing.T) {
	registry := registryWithAll(t)

	result := registry.Invoke(context.Background(), "issue_refund", map[string]interface{}{
		"amount": float64(-5), "reference": "B001", "reason": "duplicate charge",
	}, 0)
	assert.False(t, result.Success)

	result = registry.Invoke(context.Background(), "issue_refund", map[string]interface{}{
		"amount": 49.99, "reference": "B001", "reason": "duplicate charge",
	}, 0)
	require.True(t, result.Success, result.Error)
	payload := result.Output.(map[string]interface{})
	assert.Equal(t, "issued", payload["status"])
	assert.NotEmpty(t, payload["refund_id"])
}

func TestCheckReturnWindow(t *testing.T) {
	registry := registryWithAll(t)

	result := registry.Invoke(context.Background(), "check_return_window", map[string]interface{}{
		"order_id": "1029", "purchase_date": "2020-01-01",
	}, 0)
	require.True(t, result.Success, result.Error)
	payload := result.Output.(map[string]interface{})
	assert.Equal(t, false, payload["open"])

	result = registry.Invoke(context.Background(), "check_return_window", map[string]interface{}{
		"order_id": "1029", "purchase_date": "not-a-date",
	}, 0)
	assert.False(t, result.Success)
}

func TestScheduleRepairRequiresPartAndAddress(t *testing.T) {
	registry := registryWithAll(t)

	result := registry.Invoke(context.Background(), "schedule_repair", map[string]interface{}{
		"serial_number": "SN1", "part_needed": "Wheel Motor", "address": "12 Elm St",
	}, 0)
	require.True(t, result.Success, result.Error)
	payload := result.Output.(map[string]interface{})
	assert.Contains(t, payload["message"], "Wheel Motor")
}
