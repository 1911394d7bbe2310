package pdf

import (
	"context"

	"go.uber.org/fx"
)

// Provider renders payment documents.
type Provider interface {
	RenderReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
