// Package store persists scraped products and their variations.
package store

import (
	"context"
	"fmt"

	"pricewatch/internal/model"
)

// Store is the persistence contract the batch layer writes through.
// Callers do not deduplicate before inserting; implementations must
// tolerate repeats.
type Store interface {
	InsertProduct(ctx context.Context, rec *model.ProductRecord) (int64, error)
	InsertVariations(ctx context.Context, productID int64, variations []model.VariationRecord, domain string) ([]int64, error)
	Close() error
}

// PersistError marks a failure inside the persistence layer so the
// batch retry queues can tell a database problem from a parse problem.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
