package repository

import (
	"context"

	"github.com/smallbiznis/leadforge/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a generic store for small catalog tables whose reads are
// plain equality filters over a model value.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns (nil, nil) when nothing matches.
	FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, row *T) error
	Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error)
}
