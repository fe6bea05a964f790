package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reason classifies a line-item difference.
type Reason string

const (
	ReasonNewLine           Reason = "NEW_LINE"
	ReasonLineRemoved       Reason = "LINE_REMOVED"
	ReasonPriceChange       Reason = "PRICE_CHANGE"
	ReasonOptionAdded       Reason = "OPTION_ADDED"
	ReasonOptionRemoved     Reason = "OPTION_REMOVED"
	ReasonOptionIncluded    Reason = "OPTION_INCLUDED"
	ReasonOptionExcluded    Reason = "OPTION_EXCLUDED"
	ReasonOptionPriceChange Reason = "OPTION_PRICE_CHANGE"
)

// Change is the typed payload of a difference. Each reason has exactly one
// variant; Values renders the legacy old_value/new_value strings used on disk.
type Change interface {
	Reason() Reason
	Values() (oldValue, newValue string)
}

// NewLine is a line present today but not yesterday.
type NewLine struct {
	NetListPrice float64
}

func (NewLine) Reason() Reason { return ReasonNewLine }
func (c NewLine) Values() (string, string) {
	return "", FormatFloat(c.NetListPrice)
}

// LineRemoved is a line present yesterday but not today.
type LineRemoved struct {
	NetListPrice float64
}

func (LineRemoved) Reason() Reason { return ReasonLineRemoved }
func (c LineRemoved) Values() (string, string) {
	return FormatFloat(c.NetListPrice), ""
}

// PriceChange is a change in the line's net list price.
type PriceChange struct {
	OldPrice float64
	NewPrice float64
}

func (PriceChange) Reason() Reason { return ReasonPriceChange }
func (c PriceChange) Values() (string, string) {
	return FormatFloat(c.OldPrice), FormatFloat(c.NewPrice)
}

// OptionIncluded is an option that became part of the standard equipment.
type OptionIncluded struct {
	OldLinePrice     float64
	OptionGrossPrice float64
	OptionNetPrice   float64
	NewLinePrice     float64
	OptionCode       string
}

func (OptionIncluded) Reason() Reason { return ReasonOptionIncluded }
func (c OptionIncluded) Values() (string, string) {
	return FormatFloat(c.OldLinePrice) + "/" + FormatFloat(c.OptionGrossPrice) + "/" + FormatFloat(c.OptionNetPrice),
		FormatFloat(c.NewLinePrice) + "/" + c.OptionCode
}

// OptionExcluded is an option that stopped being part of the standard equipment.
type OptionExcluded struct {
	OldLinePrice float64
	NewLinePrice float64
	OptionCode   string
}

func (OptionExcluded) Reason() Reason { return ReasonOptionExcluded }
func (c OptionExcluded) Values() (string, string) {
	return FormatFloat(c.OldLinePrice), FormatFloat(c.NewLinePrice) + "/" + c.OptionCode
}

// OptionPriceChange is a change in an option's net list price.
type OptionPriceChange struct {
	OptionDescription string
	OldPrice          float64
	NewPrice          float64
}

func (OptionPriceChange) Reason() Reason { return ReasonOptionPriceChange }
func (c OptionPriceChange) Values() (string, string) {
	var desc bytes.Buffer
	enc := json.NewEncoder(&desc)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(c.OptionDescription)
	old := fmt.Sprintf(`{"option_description": %s, "old_price": %s}`,
		strings.TrimSuffix(desc.String(), "\n"), FormatFloat(c.OldPrice))
	return old, FormatFloat(c.NewPrice)
}

// OptionAdded is an option code offered today but not yesterday.
type OptionAdded struct {
	OptionCode string
}

func (OptionAdded) Reason() Reason { return ReasonOptionAdded }
func (c OptionAdded) Values() (string, string) { return "", c.OptionCode }

// OptionRemoved is an option code offered yesterday but not today.
type OptionRemoved struct {
	OptionCode string
}

func (OptionRemoved) Reason() Reason { return ReasonOptionRemoved }
func (c OptionRemoved) Values() (string, string) { return c.OptionCode, "" }

// Unparsed keeps a persisted difference whose values could not be decoded.
// Projections skip it; it is still written back unchanged.
type Unparsed struct {
	Kind     Reason
	OldValue string
	NewValue string
	Err      error
}

func (c Unparsed) Reason() Reason           { return c.Kind }
func (c Unparsed) Values() (string, string) { return c.OldValue, c.NewValue }

// ParseChange decodes the legacy old/new strings of a persisted difference.
func ParseChange(reason Reason, oldValue, newValue string) (Change, error) {
	malformed := func(err error) error {
		return fmt.Errorf("%w: %s old=%q new=%q: %v", ErrMalformedChange, reason, oldValue, newValue, err)
	}

	switch reason {
	case ReasonNewLine:
		v, err := parseFloat(newValue)
		if err != nil {
			return nil, malformed(err)
		}
		return NewLine{NetListPrice: v}, nil

	case ReasonLineRemoved:
		v, err := parseFloat(oldValue)
		if err != nil {
			return nil, malformed(err)
		}
		return LineRemoved{NetListPrice: v}, nil

	case ReasonPriceChange:
		o, err := parseFloat(oldValue)
		if err != nil {
			return nil, malformed(err)
		}
		n, err := parseFloat(newValue)
		if err != nil {
			return nil, malformed(err)
		}
		return PriceChange{OldPrice: o, NewPrice: n}, nil

	case ReasonOptionIncluded:
		parts := strings.Split(oldValue, "/")
		if len(parts) != 3 {
			return nil, malformed(fmt.Errorf("want 3 old parts, got %d", len(parts)))
		}
		var nums [3]float64
		for i, p := range parts {
			v, err := parseFloat(p)
			if err != nil {
				return nil, malformed(err)
			}
			nums[i] = v
		}
		newLine, code, err := splitPriceCode(newValue)
		if err != nil {
			return nil, malformed(err)
		}
		return OptionIncluded{
			OldLinePrice:     nums[0],
			OptionGrossPrice: nums[1],
			OptionNetPrice:   nums[2],
			NewLinePrice:     newLine,
			OptionCode:       code,
		}, nil

	case ReasonOptionExcluded:
		o, err := parseFloat(oldValue)
		if err != nil {
			return nil, malformed(err)
		}
		newLine, code, err := splitPriceCode(newValue)
		if err != nil {
			return nil, malformed(err)
		}
		return OptionExcluded{OldLinePrice: o, NewLinePrice: newLine, OptionCode: code}, nil

	case ReasonOptionPriceChange:
		var rec struct {
			OptionDescription string   `json:"option_description"`
			OldPrice          *float64 `json:"old_price"`
		}
		if err := json.Unmarshal([]byte(oldValue), &rec); err != nil {
			return nil, malformed(err)
		}
		if rec.OldPrice == nil {
			return nil, malformed(fmt.Errorf("old_price missing"))
		}
		n, err := parseFloat(newValue)
		if err != nil {
			return nil, malformed(err)
		}
		return OptionPriceChange{OptionDescription: rec.OptionDescription, OldPrice: *rec.OldPrice, NewPrice: n}, nil

	case ReasonOptionAdded:
		return OptionAdded{OptionCode: newValue}, nil

	case ReasonOptionRemoved:
		return OptionRemoved{OptionCode: oldValue}, nil
	}

	return nil, NewValidationError("reason", string(reason), ErrUnknownReason)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func splitPriceCode(s string) (float64, string, error) {
	price, code, ok := strings.Cut(s, "/")
	if !ok {
		return 0, "", fmt.Errorf("missing option code in %q", s)
	}
	v, err := parseFloat(price)
	if err != nil {
		return 0, "", err
	}
	return v, code, nil
}

// DifferenceItem is one day-over-day change of a line item.
type DifferenceItem struct {
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
	Change                Change
	RecordedAt            time.Time
}

// NewDifference copies the identity and descriptions of line onto a difference.
func NewDifference(line LineItem, change Change, at time.Time) DifferenceItem {
	return DifferenceItem{
		Vendor:                line.Vendor,
		Market:                line.Market,
		Series:                line.Series,
		ModelRangeCode:        line.ModelRangeCode,
		ModelRangeDescription: line.ModelRangeDescription,
		ModelCode:             line.ModelCode,
		ModelDescription:      line.ModelDescription,
		LineCode:              line.LineCode,
		LineDescription:       line.LineDescription,
		Currency:              line.Currency,
		Change:                change,
		RecordedAt:            at,
	}
}

// Reason returns the reason of the difference's change.
func (d DifferenceItem) Reason() Reason {
	if d.Change == nil {
		return ""
	}
	return d.Change.Reason()
}

// Values returns the legacy old/new strings of the change.
func (d DifferenceItem) Values() (string, string) {
	if d.Change == nil {
		return "", ""
	}
	return d.Change.Values()
}

// LineKey returns the identity of the line this difference is about.
func (d DifferenceItem) LineKey() LineKey {
	return LineKey{
		Vendor:         d.Vendor,
		Market:         d.Market,
		Series:         d.Series,
		ModelRangeCode: d.ModelRangeCode,
		ModelCode:      d.ModelCode,
		LineCode:       d.LineCode,
	}
}

// PairKey returns the (vendor, market) of the difference.
func (d DifferenceItem) PairKey() Pair {
	return Pair{Vendor: d.Vendor, Market: d.Market}
}
