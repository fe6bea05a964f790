package models

import "time"

// PriceReason classifies a price-difference projection.
type PriceReason string

const (
	PriceIncrease               PriceReason = "PRICE_INCREASE"
	PriceDecrease               PriceReason = "PRICE_DECREASE"
	PriceOptionIncluded         PriceReason = "OPTION_INCLUDED"
	PriceOptionExcluded         PriceReason = "OPTION_EXCLUDED"
	PriceIncreaseOptionIncluded PriceReason = "PRICE_INCREASE_OPTION_INCLUDED"
	PriceIncreaseOptionExcluded PriceReason = "PRICE_INCREASE_OPTION_EXCLUDED"
	PriceDecreaseOptionIncluded PriceReason = "PRICE_DECREASE_OPTION_INCLUDED"
	PriceDecreaseOptionExcluded PriceReason = "PRICE_DECREASE_OPTION_EXCLUDED"
	PriceNoReason               PriceReason = "NO_REASON"
)

// Merged reports whether r combines a line price move with an option toggle.
func (r PriceReason) Merged() bool {
	switch r {
	case PriceIncreaseOptionIncluded, PriceIncreaseOptionExcluded,
		PriceDecreaseOptionIncluded, PriceDecreaseOptionExcluded:
		return true
	}
	return false
}

// PriceDifferenceItem is a line-level price move, optionally explained by an
// option being included or excluded on the same day.
type PriceDifferenceItem struct {
	Vendor                Vendor
	Market                Market
	Series                string
	ModelRangeCode        string
	ModelRangeDescription string
	ModelCode             string
	ModelDescription      string
	LineCode              string
	LineDescription       string
	Currency              string
	Reason                PriceReason
	OldPrice              float64
	NewPrice              float64
	OptionCode            string
	PercChange            string
	RecordedAt            time.Time
}

// NewPriceDifference copies the line identity of d onto a price difference.
func NewPriceDifference(d DifferenceItem, reason PriceReason, oldPrice, newPrice float64, optionCode, perc string) PriceDifferenceItem {
	return PriceDifferenceItem{
		Vendor:                d.Vendor,
		Market:                d.Market,
		Series:                d.Series,
		ModelRangeCode:        d.ModelRangeCode,
		ModelRangeDescription: d.ModelRangeDescription,
		ModelCode:             d.ModelCode,
		ModelDescription:      d.ModelDescription,
		LineCode:              d.LineCode,
		LineDescription:       d.LineDescription,
		Currency:              d.Currency,
		Reason:                reason,
		OldPrice:              oldPrice,
		NewPrice:              newPrice,
		OptionCode:            optionCode,
		PercChange:            perc,
		RecordedAt:            d.RecordedAt,
	}
}

func (p PriceDifferenceItem) PairKey() Pair {
	return Pair{Vendor: p.Vendor, Market: p.Market}
}

// OptionPriceDifferenceItem aggregates one option price move across every
// model range it was seen on.
type OptionPriceDifferenceItem struct {
	Vendor                Vendor
	Market                Market
	ModelRangeDescription string
	OptionDescription     string
	Currency              string
	OldPrice              float64
	NewPrice              float64
	PercChange            int
	Reason                PriceReason
	RecordedAt            time.Time
}

func (o OptionPriceDifferenceItem) PairKey() Pair {
	return Pair{Vendor: o.Vendor, Market: o.Market}
}
