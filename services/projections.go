package services

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"autoprice/models"
	"autoprice/utils"
)

// percChange is round((new-old)*100/old) on the exact decimal value, half to
// even. It is zero when old is not positive.
func percChange(oldPrice, newPrice float64) decimal.Decimal {
	if oldPrice <= 0 {
		return decimal.Zero
	}
	o, n := decimal.NewFromFloat(oldPrice), decimal.NewFromFloat(newPrice)
	return n.Sub(o).Mul(decimal.NewFromInt(100)).Div(o).RoundBank(0)
}

func moveReason(oldPrice, newPrice float64) models.PriceReason {
	switch {
	case newPrice > oldPrice:
		return models.PriceIncrease
	case newPrice < oldPrice:
		return models.PriceDecrease
	}
	return models.PriceNoReason
}

// projectPrice maps one raw difference onto the price changelog. ok is false
// for reasons the price changelog does not carry.
func projectPrice(d models.DifferenceItem) (models.PriceDifferenceItem, bool) {
	var (
		reason             models.PriceReason
		oldPrice, newPrice float64
		code               string
	)
	switch c := d.Change.(type) {
	case models.PriceChange:
		reason, oldPrice, newPrice = moveReason(c.OldPrice, c.NewPrice), c.OldPrice, c.NewPrice
	case models.OptionIncluded:
		reason, oldPrice, newPrice, code = models.PriceOptionIncluded, c.OldLinePrice, c.NewLinePrice, c.OptionCode
	case models.OptionExcluded:
		reason, oldPrice, newPrice, code = models.PriceOptionExcluded, c.OldLinePrice, c.NewLinePrice, c.OptionCode
	default:
		return models.PriceDifferenceItem{}, false
	}
	perc := percChange(oldPrice, newPrice).Abs().String() + "%"
	return models.NewPriceDifference(d, reason, oldPrice, newPrice, code, perc), true
}

type priceGroupKey struct {
	pair                  models.Pair
	series                string
	modelRangeCode        string
	modelRangeDescription string
	modelCode             string
	modelDescription      string
	lineCode              string
	lineDescription       string
}

func priceKey(d models.DifferenceItem) priceGroupKey {
	return priceGroupKey{
		pair:                  d.PairKey(),
		series:                d.Series,
		modelRangeCode:        d.ModelRangeCode,
		modelRangeDescription: d.ModelRangeDescription,
		modelCode:             d.ModelCode,
		modelDescription:      d.ModelDescription,
		lineCode:              d.LineCode,
		lineDescription:       d.LineDescription,
	}
}

// mergeRules rewrite option toggles that happened together with a line price
// move. They apply in order and only to items still carrying the raw toggle.
var mergeRules = []struct {
	toggle, move, merged models.PriceReason
}{
	{models.PriceOptionIncluded, models.PriceIncrease, models.PriceIncreaseOptionIncluded},
	{models.PriceOptionExcluded, models.PriceDecrease, models.PriceDecreaseOptionExcluded},
	{models.PriceOptionExcluded, models.PriceIncrease, models.PriceIncreaseOptionExcluded},
	{models.PriceOptionIncluded, models.PriceDecrease, models.PriceDecreaseOptionIncluded},
}

func mergeGroup(items []models.PriceDifferenceItem) []models.PriceDifferenceItem {
	if len(items) == 1 {
		return items
	}

	present := make(map[models.PriceReason]bool, len(items))
	togglesOnly := true
	for _, it := range items {
		present[it.Reason] = true
		if it.Reason != models.PriceOptionIncluded && it.Reason != models.PriceOptionExcluded {
			togglesOnly = false
		}
	}
	if togglesOnly {
		return items
	}

	for _, rule := range mergeRules {
		if !present[rule.toggle] || !present[rule.move] {
			continue
		}
		for i := range items {
			if items[i].Reason == rule.toggle {
				items[i].Reason = rule.merged
			}
		}
	}

	var out []models.PriceDifferenceItem
	for _, it := range items {
		if it.Reason.Merged() {
			out = append(out, it)
		}
	}
	return out
}

// PriceDifferences projects line price moves and option toggles onto the
// price changelog, merging toggles that explain a same-day price move.
// The result is sorted and does not depend on the order of diffs.
func PriceDifferences(diffs []models.DifferenceItem) []models.PriceDifferenceItem {
	groups := make(map[priceGroupKey][]models.PriceDifferenceItem)
	var keys []priceGroupKey
	for _, d := range diffs {
		item, ok := projectPrice(d)
		if !ok {
			continue
		}
		k := priceKey(d)
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], item)
	}

	var out []models.PriceDifferenceItem
	for _, k := range keys {
		out = append(out, mergeGroup(groups[k])...)
	}
	sortPriceDifferences(out)
	return out
}

func sortPriceDifferences(items []models.PriceDifferenceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		ka := []string{string(a.Vendor), string(a.Market), a.Series, a.ModelRangeCode, a.ModelCode, a.LineCode, string(a.Reason), a.OptionCode}
		kb := []string{string(b.Vendor), string(b.Market), b.Series, b.ModelRangeCode, b.ModelCode, b.LineCode, string(b.Reason), b.OptionCode}
		for n := range ka {
			if ka[n] != kb[n] {
				return ka[n] < kb[n]
			}
		}
		if a.OldPrice != b.OldPrice {
			return a.OldPrice < b.OldPrice
		}
		return a.NewPrice < b.NewPrice
	})
}

// OptionPriceDifferences aggregates option price changes that share market,
// vendor and old/new values across model ranges. Groups whose values do not
// parse, or whose price did not move, are skipped.
func OptionPriceDifferences(diffs []models.DifferenceItem, logger *utils.Logger) []models.OptionPriceDifferenceItem {
	type group struct {
		first       models.DifferenceItem
		modelRanges map[string]struct{}
	}
	groups := make(map[string]*group)
	var keys []string

	for _, d := range diffs {
		if d.Reason() != models.ReasonOptionPriceChange {
			continue
		}
		oldValue, newValue := d.Values()
		k := string(d.Market) + string(d.Vendor) + oldValue + newValue
		g, ok := groups[k]
		if !ok {
			g = &group{first: d, modelRanges: make(map[string]struct{})}
			groups[k] = g
			keys = append(keys, k)
		}
		g.modelRanges[d.ModelRangeDescription] = struct{}{}
	}

	var out []models.OptionPriceDifferenceItem
	for _, k := range keys {
		g := groups[k]
		c, ok := g.first.Change.(models.OptionPriceChange)
		if !ok {
			logger.Warn("[option-price] %s: skipping unparsable option price change %v", g.first.PairKey(), g.first.Change)
			continue
		}
		if c.NewPrice == c.OldPrice {
			logger.Warn("[option-price] %s: %q price unchanged at %v, skipping", g.first.PairKey(), c.OptionDescription, c.NewPrice)
			continue
		}

		ranges := make([]string, 0, len(g.modelRanges))
		for mr := range g.modelRanges {
			ranges = append(ranges, mr)
		}
		sort.Strings(ranges)

		out = append(out, models.OptionPriceDifferenceItem{
			Vendor:                g.first.Vendor,
			Market:                g.first.Market,
			ModelRangeDescription: strings.Join(ranges, ", "),
			OptionDescription:     c.OptionDescription,
			Currency:              g.first.Currency,
			OldPrice:              c.OldPrice,
			NewPrice:              c.NewPrice,
			PercChange:            int(percChange(c.OldPrice, c.NewPrice).IntPart()),
			Reason:                moveReason(c.OldPrice, c.NewPrice),
			RecordedAt:            g.first.RecordedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if a.OptionDescription != b.OptionDescription {
			return a.OptionDescription < b.OptionDescription
		}
		if a.OldPrice != b.OldPrice {
			return a.OldPrice < b.OldPrice
		}
		return a.NewPrice < b.NewPrice
	})
	return out
}
