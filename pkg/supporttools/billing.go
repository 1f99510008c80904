package supporttools

import (
	"context"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/deskd/pkg/tools"
)

// Bill is one invoice on a customer account.
type Bill struct {
	BillID      string     `json:"bill_id"`
	DueDate     string     `json:"due_date"`
	PaymentMode string     `json:"payment_mode"`
	TotalAmount float64    `json:"total_amount"`
	Items       []BillItem `json:"items"`
}

// BillItem is one line on a bill.
type BillItem struct {
	Product string  `json:"product"`
	Price   float64 `json:"price"`
}

// sampleBills is returned for every account.
var sampleBills = []Bill{
	{
		BillID:      "B001",
		DueDate:     "2024-07-15",
		PaymentMode: "UPI",
		TotalAmount: 299.97,
		Items: []BillItem{
			{Product: "Robotic Floor Cleaner M612", Price: 249.99},
			{Product: "Cleaner Solution (1L)", Price: 19.99},
			{Product: "Replacement Mop Pads (Pack of 3)", Price: 29.99},
		},
	},
	{
		BillID:      "B002",
		DueDate:     "2024-09-05",
		PaymentMode: "Credit Card",
		TotalAmount: 488.23,
		Items: []BillItem{
			{Product: "Robotic Floor Cleaner M612", Price: 249.99},
			{Product: "Dust Filter Cartridge", Price: 15.49},
			{Product: "Mop Head Replacement Kit", Price: 22.75},
		},
	},
}

// RegisterBilling adds the billing tools. The refund tool is gated by
// the per-currency amount threshold.
func RegisterBilling(registry *tools.Registry) error {
	defs := []tools.Definition{
		{
			Name:        "lookup_bills",
			Description: "Retrieve all bills associated with a customer account.",
			Parameters: []tools.Parameter{
				{Name: "account_id", Type: "string", Description: "The customer's account identifier.", Required: true},
			},
			SideEffect: tools.SideEffectReadOnly,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    lookupBills,
		},
		{
			Name:        "lookup_bill",
			Description: "Retrieve a particular bill by its ID.",
			Parameters: []tools.Parameter{
				{Name: "account_id", Type: "string", Description: "The customer's account identifier.", Required: true},
				{Name: "bill_id", Type: "string", Description: "The unique identifier of the bill.", Required: true},
			},
			SideEffect: tools.SideEffectReadOnly,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    lookupBill,
		},
		{
			Name:        "lookup_transactions",
			Description: "List captured charges for an order, including duplicates.",
			Parameters: []tools.Parameter{
				{Name: "order_id", Type: "string", Description: "The order identifier.", Required: true},
			},
			SideEffect: tools.SideEffectReadOnly,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    lookupTransactions,
		},
		{
			Name:        "send_invoice",
			Description: "Send a bill to the customer via the chosen channel.",
			Parameters: []tools.Parameter{
				{Name: "account_id", Type: "string", Description: "The customer's account identifier.", Required: true},
				{Name: "bill_id", Type: "string", Description: "The unique identifier of the bill.", Required: true},
				{Name: "channel", Type: "string", Description: "Delivery channel: email or sms.", Required: true},
			},
			SideEffect: tools.SideEffectMutating,
			Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
			Handler:    sendInvoice,
		},
		{
			Name:        "issue_refund",
			Description: "Issue a refund against a bill or order.",
			Parameters: []tools.Parameter{
				{Name: "amount", Type: "number", Description: "The amount to refund.", Required: true},
				{Name: "currency", Type: "string", Description: "ISO currency code, defaults to the configured currency."},
				{Name: "reference", Type: "string", Description: "The bill or order the refund applies to.", Required: true},
				{Name: "reason", Type: "string", Description: "Why the refund is being issued.", Required: true},
			},
			SideEffect: tools.SideEffectMutating,
			Approval: tools.ApprovalPolicy{
				Mode:          tools.ApprovalAboveThreshold,
				AmountField:   "amount",
				CurrencyField: "currency",
			},
			Handler: issueRefund,
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func lookupBills(_ context.Context, args map[string]interface{}) (interface{}, error) {
	accountID, _ := args["account_id"].(string)
	return map[string]interface{}{
		"account_id": accountID,
		"name":       "John Doe",
		"bills":      sampleBills,
	}, nil
}

func lookupBill(_ context.Context, args map[string]interface{}) (interface{}, error) {
	billID, _ := args["bill_id"].(string)
	for _, bill := range sampleBills {
		if strings.EqualFold(bill.BillID, billID) {
			return bill, nil
		}
	}
	return nil, fmt.Errorf("no bill found with id %s", billID)
}

func lookupTransactions(_ context.Context, args map[string]interface{}) (interface{}, error) {
	orderID, _ := args["order_id"].(string)
	return map[string]interface{}{
		"order_id": orderID,
		"transactions": []map[string]interface{}{
			{"txn_id": "TX-" + orderID + "-1", "amount": 49.99, "status": "captured"},
			{"txn_id": "TX-" + orderID + "-2", "amount": 49.99, "status": "captured"},
		},
	}, nil
}

func sendInvoice(_ context.Context, args map[string]interface{}) (interface{}, error) {
	channel, _ := args["channel"].(string)
	switch strings.ToLower(channel) {
	case "email", "sms":
	default:
		return nil, fmt.Errorf("unsupported delivery channel %q", channel)
	}
	billID, _ := args["bill_id"].(string)
	return fmt.Sprintf("Bill %s has been sent via %s.", billID, strings.ToLower(channel)), nil
}

func issueRefund(_ context.Context, args map[string]interface{}) (interface{}, error) {
	amount, ok := args["amount"].(float64)
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("refund amount must be a positive number")
	}
	reference, _ := args["reference"].(string)
	reason, _ := args["reason"].(string)

	return map[string]interface{}{
		"refund_id": "RF-" + gonanoid.Must(8),
		"reference": reference,
		"amount":    amount,
		"reason":    reason,
		"status":    "issued",
	}, nil
}
