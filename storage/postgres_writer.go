package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"autoprice/models"
	"autoprice/utils"
)

// priceChangelogColumns is the insert column order of the warehouse table.
var priceChangelogColumns = []string{
	"recorded_date", "vendor", "market", "series", "model_range_code", "model_range_description",
	"model_code", "model_description", "line_code", "line_description", "currency",
	"reason", "old_price", "new_price", "option_code", "perc_change",
}

// priceChangelogKey is the table's unique key.
var priceChangelogKey = []string{
	"recorded_date", "vendor", "market", "series", "model_range_code", "model_code", "line_code", "reason", "option_code",
}

// PostgresWriter mirrors the price changelog into a warehouse table.
type PostgresWriter struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, Logger: logger}
	if err := retry.Do(ctx, "postgres ping", db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pw := &PostgresWriter{db: db, logger: logger}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS price_changelog (
			id                      SERIAL PRIMARY KEY,
			recorded_date           DATE          NOT NULL,
			vendor                  VARCHAR(32)   NOT NULL,
			market                  VARCHAR(8)    NOT NULL,
			series                  TEXT          NOT NULL DEFAULT '',
			model_range_code        TEXT          NOT NULL DEFAULT '',
			model_range_description TEXT          NOT NULL DEFAULT '',
			model_code              TEXT          NOT NULL DEFAULT '',
			model_description       TEXT          NOT NULL DEFAULT '',
			line_code               TEXT          NOT NULL DEFAULT '',
			line_description        TEXT          NOT NULL DEFAULT '',
			currency                VARCHAR(3)    NOT NULL DEFAULT '',
			reason                  VARCHAR(48)   NOT NULL,
			old_price               NUMERIC(12,2) NOT NULL DEFAULT 0,
			new_price               NUMERIC(12,2) NOT NULL DEFAULT 0,
			option_code             TEXT          NOT NULL DEFAULT '',
			perc_change             VARCHAR(16)   NOT NULL DEFAULT '',
			created_at              TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			UNIQUE (recorded_date, vendor, market, series, model_range_code, model_code, line_code, reason, option_code)
		);

		CREATE INDEX IF NOT EXISTS idx_price_changelog_date   ON price_changelog(recorded_date);
		CREATE INDEX IF NOT EXISTS idx_price_changelog_pair   ON price_changelog(vendor, market);
		CREATE INDEX IF NOT EXISTS idx_price_changelog_reason ON price_changelog(reason);
	`)
	return err
}

// WritePriceChangelog replaces a day's price changelog in one transaction,
// so re-running compare after a fix leaves no stale rows behind.
func (pw *PostgresWriter) WritePriceChangelog(ctx context.Context, key utils.DateKey, items []models.PriceDifferenceItem) error {
	day, err := key.Date()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_changelog WHERE recorded_date = $1`, day); err != nil {
		return fmt.Errorf("postgres: clear %s: %w", key, err)
	}

	const batchSize = 50
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		query, args := buildPriceChangelogInsert(day, items[i:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: insert batch %d: %w", i/batchSize, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	pw.logger.Info("Wrote %d price changelog rows for %s to warehouse", len(items), key)
	return nil
}

func buildPriceChangelogInsert(day time.Time, batch []models.PriceDifferenceItem) (string, []any) {
	n := len(priceChangelogColumns)
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*n)

	for idx, p := range batch {
		placeholders := make([]string, n)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", idx*n+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			day, string(p.Vendor), string(p.Market), p.Series, p.ModelRangeCode, p.ModelRangeDescription,
			p.ModelCode, p.ModelDescription, p.LineCode, p.LineDescription, p.Currency,
			string(p.Reason), p.OldPrice, p.NewPrice, p.OptionCode, p.PercChange)
	}

	query := fmt.Sprintf(`
		INSERT INTO price_changelog (%s)
		VALUES %s
		ON CONFLICT (%s) DO UPDATE SET %s
	`, strings.Join(priceChangelogColumns, ", "), strings.Join(valueStrings, ","),
		strings.Join(priceChangelogKey, ", "), strings.Join(upsertAssignments(), ", "))
	return query, valueArgs
}

// upsertAssignments overwrites every non-key column with the incoming row.
func upsertAssignments() []string {
	key := make(map[string]bool, len(priceChangelogKey))
	for _, c := range priceChangelogKey {
		key[c] = true
	}
	var out []string
	for _, c := range priceChangelogColumns {
		if !key[c] {
			out = append(out, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	return append(out, "created_at = NOW()")
}

// CountForDay returns how many changelog rows the warehouse holds for a day.
func (pw *PostgresWriter) CountForDay(ctx context.Context, key utils.DateKey) (int, error) {
	day, err := key.Date()
	if err != nil {
		return 0, fmt.Errorf("postgres: %w", err)
	}
	var n int
	err = pw.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_changelog WHERE recorded_date = $1`, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
