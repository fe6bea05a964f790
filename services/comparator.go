package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"autoprice/models"
	"autoprice/utils"
)

var tracer = otel.Tracer("autoprice/services")

// Comparator turns two days of snapshots into changelogs.
type Comparator struct {
	logger *utils.Logger
}

func NewComparator(logger *utils.Logger) *Comparator {
	return &Comparator{logger: logger}
}

// groupByPair splits records by (vendor, market), keeping their order.
func groupByPair[T interface{ PairKey() models.Pair }](records []T) map[models.Pair][]T {
	out := make(map[models.Pair][]T)
	for _, r := range records {
		p := r.PairKey()
		out[p] = append(out[p], r)
	}
	return out
}

// pairsOf returns every pair present on either day, sorted.
func pairsOf[T interface{ PairKey() models.Pair }](today, yesterday map[models.Pair][]T) []models.Pair {
	set := make(models.PairSet)
	for p := range today {
		set[p] = struct{}{}
	}
	for p := range yesterday {
		set[p] = struct{}{}
	}
	return set.Sorted()
}

// CompareLines lists the differences of today's lines against yesterday's,
// pair by pair: new lines, then removed lines, then field changes of lines
// present on both days.
func (c *Comparator) CompareLines(ctx context.Context, today, yesterday []models.LineItem, at time.Time) []models.DifferenceItem {
	_, span := tracer.Start(ctx, "compare.lines")
	defer span.End()

	t, y := groupByPair(today), groupByPair(yesterday)
	var out []models.DifferenceItem
	for _, p := range pairsOf(t, y) {
		diffs := compareLinePair(t[p], y[p], at)
		if len(diffs) > 0 {
			c.logger.Info("[compare] %s: %d differences", p, len(diffs))
		}
		out = append(out, diffs...)
	}

	span.SetAttributes(
		attribute.Int("lines.today", len(today)),
		attribute.Int("lines.yesterday", len(yesterday)),
		attribute.Int("differences", len(out)),
	)
	return out
}

func indexLines(lines []models.LineItem) map[models.LineKey]models.LineItem {
	idx := make(map[models.LineKey]models.LineItem, len(lines))
	for _, l := range lines {
		if _, dup := idx[l.Key()]; !dup {
			idx[l.Key()] = l
		}
	}
	return idx
}

func compareLinePair(today, yesterday []models.LineItem, at time.Time) []models.DifferenceItem {
	tIdx, yIdx := indexLines(today), indexLines(yesterday)
	var out []models.DifferenceItem

	emitted := make(map[models.LineKey]struct{})
	for _, t := range today {
		if _, ok := yIdx[t.Key()]; ok {
			continue
		}
		if _, dup := emitted[t.Key()]; dup {
			continue
		}
		emitted[t.Key()] = struct{}{}
		out = append(out, models.NewDifference(t, models.NewLine{NetListPrice: t.NetListPrice}, at))
	}

	for _, y := range yesterday {
		if _, ok := tIdx[y.Key()]; ok {
			continue
		}
		if _, dup := emitted[y.Key()]; dup {
			continue
		}
		emitted[y.Key()] = struct{}{}
		out = append(out, models.NewDifference(y, models.LineRemoved{NetListPrice: y.NetListPrice}, at))
	}

	for _, y := range yesterday {
		t, ok := tIdx[y.Key()]
		if !ok {
			continue
		}
		if _, dup := emitted[y.Key()]; dup {
			continue
		}
		emitted[y.Key()] = struct{}{}
		out = append(out, t.Diff(y, at)...)
	}
	return out
}

// CompareFinance diffs the PCP offers of both days. Other contract types are
// not compared.
func (c *Comparator) CompareFinance(ctx context.Context, today, yesterday []models.FinanceLineItem, at time.Time) []models.DifferenceFinanceItem {
	_, span := tracer.Start(ctx, "compare.finance")
	defer span.End()

	t, y := groupByPair(onlyPCP(today)), groupByPair(onlyPCP(yesterday))
	var out []models.DifferenceFinanceItem
	for _, p := range pairsOf(t, y) {
		diffs := compareFinancePair(t[p], y[p], at)
		if len(diffs) > 0 {
			c.logger.Info("[compare-finance] %s: %d differences", p, len(diffs))
		}
		out = append(out, diffs...)
	}
	span.SetAttributes(attribute.Int("differences", len(out)))
	return out
}

func onlyPCP(items []models.FinanceLineItem) []models.FinanceLineItem {
	var out []models.FinanceLineItem
	for _, f := range items {
		if f.ContractType == models.ContractPCP {
			out = append(out, f.WithVehicleID())
		}
	}
	return out
}

func compareFinancePair(today, yesterday []models.FinanceLineItem, at time.Time) []models.DifferenceFinanceItem {
	index := func(items []models.FinanceLineItem) map[string]models.FinanceLineItem {
		idx := make(map[string]models.FinanceLineItem, len(items))
		for _, f := range items {
			if _, dup := idx[f.Key()]; !dup {
				idx[f.Key()] = f
			}
		}
		return idx
	}
	tIdx, yIdx := index(today), index(yesterday)
	var out []models.DifferenceFinanceItem

	emitted := make(map[string]struct{})
	once := func(key string) bool {
		if _, dup := emitted[key]; dup {
			return false
		}
		emitted[key] = struct{}{}
		return true
	}

	for _, t := range today {
		if _, ok := yIdx[t.Key()]; !ok && once(t.Key()) {
			out = append(out, models.NewFinanceDifference(t, models.FinanceNewLine, "", models.FormatFloat(t.MonthlyRentalGLP), at))
		}
	}
	for _, y := range yesterday {
		if _, ok := tIdx[y.Key()]; !ok && once(y.Key()) {
			out = append(out, models.NewFinanceDifference(y, models.FinanceLineRemoved, models.FormatFloat(y.MonthlyRentalGLP), "", at))
		}
	}
	for _, y := range yesterday {
		if t, ok := tIdx[y.Key()]; ok && once(y.Key()) {
			out = append(out, t.PCPDiff(y, at)...)
		}
	}
	return out
}
