package providers

import (
	"github.com/smallbiznis/leadforge/internal/providers/openai"
	"github.com/smallbiznis/leadforge/internal/providers/pdf"
	"github.com/smallbiznis/leadforge/internal/providers/places"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	places.Module,
	openai.Module,
	pdf.Module,
)
