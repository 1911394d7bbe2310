package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReceiptProducesPDF(t *testing.T) {
	out, err := New().RenderReceipt(context.Background(), ReceiptData{
		ReceiptNumber: "PAY-1",
		IssuerName:    "Leadforge",
		CustomerID:    "user-1",
		DatePaid:      "2026-03-10",
		PaymentMethod: "card",
		Status:        "completed",
		Items:         []ReceiptItem{{Description: "Growth plan", Credits: "6000", Amount: "USD 49.00"}},
		Total:         "USD 49.00",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderReceiptRejectsEmptyReceipt(t *testing.T) {
	_, err := New().RenderReceipt(context.Background(), ReceiptData{ReceiptNumber: "PAY-1"})
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}
