package storage

import (
	"autoprice/models"
	"autoprice/utils"
)

// Filenames are the per-family file names inside a day directory.
type Filenames struct {
	Prices                 string
	FinanceOptions         string
	Differences            string
	PriceDifferences       string
	OptionPriceDifferences string
	FinanceDifferences     string
}

// DefaultFilenames returns the standard family names.
func DefaultFilenames() Filenames {
	return Filenames{
		Prices:                 "prices",
		FinanceOptions:         "finance_options",
		Differences:            "changelog",
		PriceDifferences:       "price_changelog",
		OptionPriceDifferences: "option_price_changelog",
		FinanceDifferences:     "finance_options_changelog",
	}
}

// withDefaults fills empty names from DefaultFilenames.
func (f Filenames) withDefaults() Filenames {
	d := DefaultFilenames()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Filenames{
		Prices:                 pick(f.Prices, d.Prices),
		FinanceOptions:         pick(f.FinanceOptions, d.FinanceOptions),
		Differences:            pick(f.Differences, d.Differences),
		PriceDifferences:       pick(f.PriceDifferences, d.PriceDifferences),
		OptionPriceDifferences: pick(f.OptionPriceDifferences, d.OptionPriceDifferences),
		FinanceDifferences:     pick(f.FinanceDifferences, d.FinanceDifferences),
	}
}

// Layout builds the stores of one output directory.
type Layout struct {
	Dir    string
	Format Format
	Names  Filenames
	Logger *utils.Logger
}

func NewLayout(dir string, format Format, names Filenames, logger *utils.Logger) Layout {
	return Layout{Dir: dir, Format: format, Names: names.withDefaults(), Logger: logger}
}

func (l Layout) Prices() *Store[models.LineItem] {
	return NewStore(l.Dir, l.Names.Prices, l.Format, LineItems, l.Logger)
}

func (l Layout) FinanceOptions() *Store[models.FinanceLineItem] {
	return NewStore(l.Dir, l.Names.FinanceOptions, l.Format, FinanceItems, l.Logger)
}

func (l Layout) Differences() *Store[models.DifferenceItem] {
	return NewStore(l.Dir, l.Names.Differences, l.Format, Differences, l.Logger)
}

func (l Layout) PriceDifferences() *Store[models.PriceDifferenceItem] {
	return NewStore(l.Dir, l.Names.PriceDifferences, l.Format, PriceDifferences, l.Logger)
}

func (l Layout) OptionPriceDifferences() *Store[models.OptionPriceDifferenceItem] {
	return NewStore(l.Dir, l.Names.OptionPriceDifferences, l.Format, OptionPriceDifferences, l.Logger)
}

func (l Layout) FinanceDifferences() *Store[models.DifferenceFinanceItem] {
	return NewStore(l.Dir, l.Names.FinanceDifferences, l.Format, FinanceDifferences, l.Logger)
}
