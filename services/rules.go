package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"autoprice/models"
	"autoprice/storage"
	"autoprice/utils"
)

// Rule tables.
const (
	TablePrices  = "prices"
	TableFinance = "finance"
)

// Rule is a business expectation evaluated as a SQL boolean over one row of
// the prices or finance table. Rows for which Expect is false are violations.
type Rule struct {
	Name   string `yaml:"name" json:"name"`
	Table  string `yaml:"table" json:"table"`
	Expect string `yaml:"expect" json:"expect"`
	// Where restricts the rows the rule applies to.
	Where string `yaml:"where,omitempty" json:"where,omitempty"`
}

func (r Rule) validate() error {
	if r.Name == "" || strings.TrimSpace(r.Expect) == "" {
		return fmt.Errorf("rule %q: name and expect are required", r.Name)
	}
	if r.Table != TablePrices && r.Table != TableFinance {
		return fmt.Errorf("rule %q: unknown table %q", r.Name, r.Table)
	}
	return nil
}

// RuleCatalogue is the on-disk shape of a rules file.
type RuleCatalogue struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule catalogue.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %q: %w", path, err)
	}
	var cat RuleCatalogue
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("rules: parse %q: %w", path, err)
	}
	for _, r := range cat.Rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rules: %q: %w", path, err)
		}
	}
	return cat.Rules, nil
}

// RuleResult is the outcome of one rule for one (vendor, market).
type RuleResult struct {
	Rule       string
	Pair       models.Pair
	Rows       int
	Violations int
	SuccessPct decimal.Decimal
}

// RuleProcessor loads a day's snapshots into an in-memory SQLite database and
// evaluates rules against them.
type RuleProcessor struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewRuleProcessor opens an empty in-memory database.
func NewRuleProcessor(ctx context.Context, logger *utils.Logger) (*RuleProcessor, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("rules: open sqlite: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("rules: ping sqlite: %w", err)
	}
	return &RuleProcessor{db: db, logger: logger}, nil
}

func (p *RuleProcessor) Close() error {
	return p.db.Close()
}

func sqliteType(t storage.FieldType) string {
	switch t {
	case storage.FieldFloat:
		return "REAL"
	case storage.FieldInt, storage.FieldBool, storage.FieldOptions:
		return "INTEGER"
	}
	return "TEXT"
}

func sqliteValue(f storage.Field, v any) any {
	switch f.Type {
	case storage.FieldBool:
		if b, _ := v.(bool); b {
			return 1
		}
		return 0
	case storage.FieldTime:
		return storage.FormatTimestamp(storage.Row{f.Name: v}.Time(f.Name))
	case storage.FieldOptions:
		// option lists are exposed as their length
		return len(storage.Row{f.Name: v}.Options(f.Name))
	}
	return v
}

// loadTable creates table from kind's columns and inserts records.
func loadTable[T any](ctx context.Context, db *sql.DB, table string, kind storage.Kind[T], records []T) error {
	cols := make([]string, len(kind.Fields))
	defs := make([]string, len(kind.Fields))
	marks := make([]string, len(kind.Fields))
	for i, f := range kind.Fields {
		cols[i] = f.Name
		defs[i] = fmt.Sprintf("%s %s", f.Name, sqliteType(f.Type))
		marks[i] = "?"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(kind.Fields))
	for _, rec := range records {
		row := kind.Encode(rec)
		for i, f := range kind.Fields {
			args[i] = sqliteValue(f, row[f.Name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Load replaces the prices and finance tables with the given snapshots.
func (p *RuleProcessor) Load(ctx context.Context, lines []models.LineItem, finance []models.FinanceLineItem) error {
	if err := loadTable(ctx, p.db, TablePrices, storage.LineItems, lines); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if err := loadTable(ctx, p.db, TableFinance, storage.FinanceItems, finance); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	p.logger.Debug("[rules] Loaded %d lines and %d finance offers", len(lines), len(finance))
	return nil
}

// Run evaluates every rule per (vendor, market). A rule whose SQL fails is
// logged and skipped.
func (p *RuleProcessor) Run(ctx context.Context, rules []Rule) ([]RuleResult, error) {
	var out []RuleResult
	for _, r := range rules {
		if err := r.validate(); err != nil {
			p.logger.Warn("[rules] %v", err)
			continue
		}
		results, err := p.evaluate(ctx, r)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			p.logger.Warn("[rules] %s failed: %v", r.Name, err)
			continue
		}
		for _, res := range results {
			if res.Violations > 0 {
				p.logger.Warn("[rules] %s %s: %d of %d rows violate (%s%% pass)",
					res.Pair, res.Rule, res.Violations, res.Rows, res.SuccessPct.StringFixed(2))
			}
		}
		out = append(out, results...)
	}
	return out, nil
}

func (p *RuleProcessor) evaluate(ctx context.Context, r Rule) ([]RuleResult, error) {
	where := "1 = 1"
	if strings.TrimSpace(r.Where) != "" {
		where = r.Where
	}
	query := fmt.Sprintf(`SELECT vendor, market, COUNT(*),
		SUM(CASE WHEN COALESCE((%s), 0) THEN 0 ELSE 1 END)
		FROM %s WHERE %s GROUP BY vendor, market ORDER BY vendor, market`, r.Expect, r.Table, where)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RuleResult
	for rows.Next() {
		var (
			vendor, market string
			total, bad     int
		)
		if err := rows.Scan(&vendor, &market, &total, &bad); err != nil {
			return nil, err
		}
		pct := decimal.NewFromInt(100)
		if total > 0 {
			pct = decimal.NewFromInt(int64(total - bad)).Mul(decimal.NewFromInt(100)).
				Div(decimal.NewFromInt(int64(total))).RoundBank(2)
		}
		out = append(out, RuleResult{
			Rule:       r.Name,
			Pair:       models.Pair{Vendor: models.Vendor(vendor), Market: models.Market(market)},
			Rows:       total,
			Violations: bad,
			SuccessPct: pct,
		})
	}
	return out, rows.Err()
}
