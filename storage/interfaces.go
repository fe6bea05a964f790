package storage

import (
	"context"

	"autoprice/models"
	"autoprice/utils"
)

// SnapshotWriter is the interface any dated snapshot backend must satisfy.
type SnapshotWriter[T Record] interface {
	Save(key utils.DateKey, records []T) error
	MergeUpdate(key utils.DateKey, existing, fresh []T, enabled models.PairSet) error
}

// SnapshotReader loads a day's snapshot. A missing day is an empty result.
type SnapshotReader[T Record] interface {
	Load(key utils.DateKey) ([]T, error)
	Exists(key utils.DateKey) bool
}

// ChangelogSink receives a day's price changelog after it is written to disk.
type ChangelogSink interface {
	WritePriceChangelog(ctx context.Context, key utils.DateKey, items []models.PriceDifferenceItem) error
	Close() error
}

var (
	_ SnapshotWriter[models.LineItem]        = (*Store[models.LineItem])(nil)
	_ SnapshotReader[models.FinanceLineItem] = (*Store[models.FinanceLineItem])(nil)
	_ ChangelogSink                          = (*PostgresWriter)(nil)
)
