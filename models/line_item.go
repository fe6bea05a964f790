package models

import (
	"time"
)

// LineOption is an option offered on a line, either included in the base
// price or available at extra cost.
type LineOption struct {
	Code           string  `json:"code"`
	Description    string  `json:"description"`
	Type           string  `json:"type"`
	Included       bool    `json:"included"`
	NetListPrice   float64 `json:"net_list_price"`
	GrossListPrice float64 `json:"gross_list_price"`
}

// LineItem is one configurable trim as seen on a given day.
type LineItem struct {
	Vendor                Vendor       `json:"vendor"`
	Market                Market       `json:"market"`
	Series                string       `json:"series"`
	ModelRangeCode        string       `json:"model_range_code"`
	ModelRangeDescription string       `json:"model_range_description"`
	ModelCode             string       `json:"model_code"`
	ModelDescription      string       `json:"model_description"`
	LineCode              string       `json:"line_code"`
	LineDescription       string       `json:"line_description"`
	Currency              string       `json:"currency"`
	NetListPrice          float64      `json:"net_list_price"`
	GrossListPrice        float64      `json:"gross_list_price"`
	OnTheRoadPrice        float64      `json:"on_the_road_price"`
	EnginePerformanceKW   float64      `json:"engine_performance_kw"`
	EnginePerformanceHP   float64      `json:"engine_performance_hp"`
	LineOptions           []LineOption `json:"line_options"`
	RecordedAt            time.Time    `json:"recorded_at"`
	LastScrapedOn         time.Time    `json:"last_scraped_on"`
	IsCurrent             bool         `json:"is_current"`
}

// LineKey is the identity of a line item. Two items with the same key are
// the same trim regardless of their prices or descriptions.
type LineKey struct {
	Vendor         Vendor
	Market         Market
	Series         string
	ModelRangeCode string
	ModelCode      string
	LineCode       string
}

// Key returns the identity of the line.
func (l LineItem) Key() LineKey {
	return LineKey{
		Vendor:         l.Vendor,
		Market:         l.Market,
		Series:         l.Series,
		ModelRangeCode: l.ModelRangeCode,
		ModelCode:      l.ModelCode,
		LineCode:       l.LineCode,
	}
}

// Equals compares identity fields only.
func (l LineItem) Equals(o LineItem) bool {
	return l.Key() == o.Key()
}

// PairKey returns the (vendor, market) the line belongs to.
func (l LineItem) PairKey() Pair {
	return Pair{Vendor: l.Vendor, Market: l.Market}
}

// Validate checks the identity fields are present and option codes are unique.
func (l LineItem) Validate() error {
	if !l.Market.Valid() {
		return NewValidationError("market", string(l.Market), ErrUnknownMarket)
	}
	if _, err := ParseVendor(string(l.Vendor)); err != nil {
		return err
	}
	required := []struct{ name, value string }{
		{"series", l.Series},
		{"model_range_code", l.ModelRangeCode},
		{"model_code", l.ModelCode},
		{"line_code", l.LineCode},
	}
	for _, f := range required {
		if f.value == "" {
			return NewValidationError(f.name, f.value, ErrMissingIdentity)
		}
	}
	seen := make(map[string]struct{}, len(l.LineOptions))
	for _, o := range l.LineOptions {
		if _, dup := seen[o.Code]; dup {
			return NewValidationError("line_options.code", o.Code, ErrDuplicateOption)
		}
		seen[o.Code] = struct{}{}
	}
	return nil
}

// OptionIndex maps option code to option.
func (l LineItem) OptionIndex() map[string]LineOption {
	idx := make(map[string]LineOption, len(l.LineOptions))
	for _, o := range l.LineOptions {
		idx[o.Code] = o
	}
	return idx
}

// Clone returns a copy that shares no option storage with l.
func (l LineItem) Clone() LineItem {
	if l.LineOptions != nil {
		opts := make([]LineOption, len(l.LineOptions))
		copy(opts, l.LineOptions)
		l.LineOptions = opts
	}
	return l
}

// Stamped prepares a scraped line for today's snapshot. Lines an adapter
// already carried over from yesterday keep their LastScrapedOn.
func (l LineItem) Stamped(at time.Time) LineItem {
	l = l.Clone()
	if l.RecordedAt.IsZero() {
		l.RecordedAt = at
	}
	if l.LastScrapedOn.IsZero() {
		l.LastScrapedOn = truncateDay(at)
	}
	l.IsCurrent = sameDay(l.LastScrapedOn, at)
	if l.Currency == "" {
		l.Currency = l.Market.Currency()
	}
	return l
}

// AsFallback re-records yesterday's line for today. LastScrapedOn keeps the
// day it was really seen, so IsCurrent turns false.
func (l LineItem) AsFallback(at time.Time) LineItem {
	l = l.Clone()
	l.RecordedAt = at
	l.IsCurrent = sameDay(l.LastScrapedOn, at)
	return l
}

// Diff lists the differences of today's line l against yesterday's line y.
// Both must share the same identity.
func (l LineItem) Diff(y LineItem, at time.Time) []DifferenceItem {
	var out []DifferenceItem
	emit := func(c Change) {
		out = append(out, NewDifference(l, c, at))
	}

	if l.NetListPrice != y.NetListPrice {
		emit(PriceChange{OldPrice: y.NetListPrice, NewPrice: l.NetListPrice})
	}

	yIdx := y.OptionIndex()

	for _, opt := range l.LineOptions {
		prev, ok := yIdx[opt.Code]
		if !ok || prev.Included == opt.Included {
			continue
		}
		if opt.Included {
			emit(OptionIncluded{
				OldLinePrice:     y.NetListPrice,
				OptionGrossPrice: prev.GrossListPrice,
				OptionNetPrice:   prev.NetListPrice,
				NewLinePrice:     l.NetListPrice,
				OptionCode:       opt.Code,
			})
		} else {
			emit(OptionExcluded{
				OldLinePrice: y.NetListPrice,
				NewLinePrice: l.NetListPrice,
				OptionCode:   opt.Code,
			})
		}
	}

	for _, opt := range l.LineOptions {
		prev, ok := yIdx[opt.Code]
		if !ok || prev.NetListPrice == opt.NetListPrice {
			continue
		}
		emit(OptionPriceChange{
			OptionDescription: opt.Description,
			OldPrice:          prev.NetListPrice,
			NewPrice:          opt.NetListPrice,
		})
	}

	tIdx := l.OptionIndex()
	yDescs := descriptionCodes(y.LineOptions)
	tDescs := descriptionCodes(l.LineOptions)

	for _, opt := range l.LineOptions {
		if _, ok := yIdx[opt.Code]; ok {
			continue
		}
		if movedCode(yDescs, opt) {
			continue
		}
		emit(OptionAdded{OptionCode: opt.Code})
	}
	for _, opt := range y.LineOptions {
		if _, ok := tIdx[opt.Code]; ok {
			continue
		}
		if movedCode(tDescs, opt) {
			continue
		}
		emit(OptionRemoved{OptionCode: opt.Code})
	}

	return out
}

// descriptionCodes maps option description to the codes carrying it.
func descriptionCodes(opts []LineOption) map[string][]string {
	out := make(map[string][]string, len(opts))
	for _, o := range opts {
		out[o.Description] = append(out[o.Description], o.Code)
	}
	return out
}

// movedCode reports whether opt's description exists on the other side under
// a different code, i.e. the option was re-coded rather than added or removed.
func movedCode(other map[string][]string, opt LineOption) bool {
	if opt.Description == "" {
		return false
	}
	for _, code := range other[opt.Description] {
		if code != opt.Code {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return !a.IsZero() && truncateDay(a).Equal(truncateDay(b))
}
