package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autoprice/models"
)

// ErrMalformedSnapshot is returned when a snapshot file exists but cannot be decoded.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// FieldType is the logical type of a persisted column.
type FieldType int

const (
	FieldString FieldType = iota
	FieldFloat
	FieldInt
	FieldBool
	FieldTime
	FieldOptions
)

// Field describes one persisted column. Identity fields must be present in
// every file; the rest default to their zero value when absent.
type Field struct {
	Name     string
	Type     FieldType
	Identity bool
	Nullable bool
}

// Row is one record as column name to typed value: string, float64, int,
// bool, time.Time or []models.LineOption.
type Row map[string]any

func (r Row) String(name string) string {
	s, _ := r[name].(string)
	return s
}

func (r Row) Float(name string) float64 {
	f, _ := r[name].(float64)
	return f
}

func (r Row) Int(name string) int {
	i, _ := r[name].(int)
	return i
}

func (r Row) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

func (r Row) Time(name string) time.Time {
	t, _ := r[name].(time.Time)
	return t
}

func (r Row) Options(name string) []models.LineOption {
	o, _ := r[name].([]models.LineOption)
	return o
}

// Kind binds a record type to its column layout.
type Kind[T any] struct {
	Name   string
	Fields []Field
	Encode func(T) Row
	Decode func(Row) T
}

// RecordedAtField is the column re-derived from the directory key when absent.
const RecordedAtField = "recorded_at"

// checkIdentity fails when the source lacks an identity column.
func checkIdentity(fields []Field, present func(string) bool) error {
	var missing []string
	for _, f := range fields {
		if f.Identity && !present(f.Name) {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %w: %s", ErrMalformedSnapshot, models.ErrMissingIdentity, strings.Join(missing, ", "))
	}
	return nil
}

// zeroValue is the documented default for a missing column.
func zeroValue(t FieldType) any {
	switch t {
	case FieldFloat:
		return float64(0)
	case FieldInt:
		return 0
	case FieldBool:
		return false
	case FieldTime:
		return time.Time{}
	case FieldOptions:
		return []models.LineOption(nil)
	}
	return ""
}

const timestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t as "YYYY-MM-DD HH:MM:SS UTC"; the zero time is "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout) + " UTC"
}

// ParseTimestamp accepts the persisted timestamp form, RFC 3339 or a bare date.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(timestampLayout, strings.TrimSuffix(s, " UTC")); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t, nil
}

func str(name string) Field       { return Field{Name: name, Type: FieldString} }
func id(name string) Field        { return Field{Name: name, Type: FieldString, Identity: true} }
func float(name string) Field     { return Field{Name: name, Type: FieldFloat} }
func integer(name string) Field   { return Field{Name: name, Type: FieldInt} }
func boolean(name string) Field   { return Field{Name: name, Type: FieldBool} }
func timestamp(name string) Field { return Field{Name: name, Type: FieldTime} }
func recordedAt() Field {
	return Field{Name: RecordedAtField, Type: FieldTime, Nullable: true}
}

// LineItems is the layout of the daily prices snapshot.
var LineItems = Kind[models.LineItem]{
	Name: "LineItem",
	Fields: []Field{
		id("vendor"), id("market"), id("series"), id("model_range_code"),
		str("model_range_description"), id("model_code"), str("model_description"),
		id("line_code"), str("line_description"), str("currency"),
		float("net_list_price"), float("gross_list_price"), float("on_the_road_price"),
		float("engine_performance_kw"), float("engine_performance_hp"),
		{Name: "line_options", Type: FieldOptions},
		recordedAt(), timestamp("last_scraped_on"), boolean("is_current"),
	},
	Encode: func(l models.LineItem) Row {
		return Row{
			"vendor":                  string(l.Vendor),
			"market":                  string(l.Market),
			"series":                  l.Series,
			"model_range_code":        l.ModelRangeCode,
			"model_range_description": l.ModelRangeDescription,
			"model_code":              l.ModelCode,
			"model_description":       l.ModelDescription,
			"line_code":               l.LineCode,
			"line_description":        l.LineDescription,
			"currency":                l.Currency,
			"net_list_price":          l.NetListPrice,
			"gross_list_price":        l.GrossListPrice,
			"on_the_road_price":       l.OnTheRoadPrice,
			"engine_performance_kw":   l.EnginePerformanceKW,
			"engine_performance_hp":   l.EnginePerformanceHP,
			"line_options":            l.LineOptions,
			"recorded_at":             l.RecordedAt,
			"last_scraped_on":         l.LastScrapedOn,
			"is_current":              l.IsCurrent,
		}
	},
	Decode: func(r Row) models.LineItem {
		return models.LineItem{
			Vendor:                models.Vendor(r.String("vendor")),
			Market:                models.Market(r.String("market")),
			Series:                r.String("series"),
			ModelRangeCode:        r.String("model_range_code"),
			ModelRangeDescription: r.String("model_range_description"),
			ModelCode:             r.String("model_code"),
			ModelDescription:      r.String("model_description"),
			LineCode:              r.String("line_code"),
			LineDescription:       r.String("line_description"),
			Currency:              r.String("currency"),
			NetListPrice:          r.Float("net_list_price"),
			GrossListPrice:        r.Float("gross_list_price"),
			OnTheRoadPrice:        r.Float("on_the_road_price"),
			EnginePerformanceKW:   r.Float("engine_performance_kw"),
			EnginePerformanceHP:   r.Float("engine_performance_hp"),
			LineOptions:           r.Options("line_options"),
			RecordedAt:            r.Time("recorded_at"),
			LastScrapedOn:         r.Time("last_scraped_on"),
			IsCurrent:             r.Bool("is_current"),
		}
	},
}

// FinanceItems is the layout of the daily finance offers snapshot.
var FinanceItems = Kind[models.FinanceLineItem]{
	Name: "FinanceLineItem",
	Fields: []Field{
		id("vehicle_id"), str("vendor"), str("market"), str("series"), str("model_range_code"),
		str("model_range_description"), str("model_description"), str("line_description"),
		str("currency"), str("contract_type"), integer("term_of_agreement"),
		integer("number_of_installments"), float("annual_mileage"), str("mileage_unit"),
		float("deposit"), float("sales_offer"), float("total_deposit"),
		float("monthly_rental_nlp"), float("monthly_rental_glp"), float("otr"),
		float("total_payable_amount"), float("total_credit_amount"),
		float("optional_final_payment"), float("option_purchase_fee"), float("apr"),
		float("fixed_roi"), float("excess_mileage"), str("option_type"),
		str("option_description"), float("option_gross_list_price"),
		recordedAt(), timestamp("last_scraped_on"), boolean("is_current"),
	},
	Encode: func(f models.FinanceLineItem) Row {
		return Row{
			"vehicle_id":              f.VehicleID,
			"vendor":                  string(f.Vendor),
			"market":                  string(f.Market),
			"series":                  f.Series,
			"model_range_code":        f.ModelRangeCode,
			"model_range_description": f.ModelRangeDescription,
			"model_description":       f.ModelDescription,
			"line_description":        f.LineDescription,
			"currency":                f.Currency,
			"contract_type":           f.ContractType,
			"term_of_agreement":       f.TermOfAgreement,
			"number_of_installments":  f.NumberOfInstallments,
			"annual_mileage":          f.AnnualMileage,
			"mileage_unit":            f.MileageUnit,
			"deposit":                 f.Deposit,
			"sales_offer":             f.SalesOffer,
			"total_deposit":           f.TotalDeposit,
			"monthly_rental_nlp":      f.MonthlyRentalNLP,
			"monthly_rental_glp":      f.MonthlyRentalGLP,
			"otr":                     f.OTR,
			"total_payable_amount":    f.TotalPayableAmount,
			"total_credit_amount":     f.TotalCreditAmount,
			"optional_final_payment":  f.OptionalFinalPayment,
			"option_purchase_fee":     f.OptionPurchaseFee,
			"apr":                     f.APR,
			"fixed_roi":               f.FixedROI,
			"excess_mileage":          f.ExcessMileage,
			"option_type":             f.OptionType,
			"option_description":      f.OptionDescription,
			"option_gross_list_price": f.OptionGrossListPrice,
			"recorded_at":             f.RecordedAt,
			"last_scraped_on":         f.LastScrapedOn,
			"is_current":              f.IsCurrent,
		}
	},
	Decode: func(r Row) models.FinanceLineItem {
		unit := r.String("mileage_unit")
		if unit == "" {
			unit = models.DefaultMileageUnit
		}
		return models.FinanceLineItem{
			VehicleID:             r.String("vehicle_id"),
			Vendor:                models.Vendor(r.String("vendor")),
			Market:                models.Market(r.String("market")),
			Series:                r.String("series"),
			ModelRangeCode:        r.String("model_range_code"),
			ModelRangeDescription: r.String("model_range_description"),
			ModelDescription:      r.String("model_description"),
			LineDescription:       r.String("line_description"),
			Currency:              r.String("currency"),
			ContractType:          r.String("contract_type"),
			TermOfAgreement:       r.Int("term_of_agreement"),
			NumberOfInstallments:  r.Int("number_of_installments"),
			AnnualMileage:         r.Float("annual_mileage"),
			MileageUnit:           unit,
			Deposit:               r.Float("deposit"),
			SalesOffer:            r.Float("sales_offer"),
			TotalDeposit:          r.Float("total_deposit"),
			MonthlyRentalNLP:      r.Float("monthly_rental_nlp"),
			MonthlyRentalGLP:      r.Float("monthly_rental_glp"),
			OTR:                   r.Float("otr"),
			TotalPayableAmount:    r.Float("total_payable_amount"),
			TotalCreditAmount:     r.Float("total_credit_amount"),
			OptionalFinalPayment:  r.Float("optional_final_payment"),
			OptionPurchaseFee:     r.Float("option_purchase_fee"),
			APR:                   r.Float("apr"),
			FixedROI:              r.Float("fixed_roi"),
			ExcessMileage:         r.Float("excess_mileage"),
			OptionType:            r.String("option_type"),
			OptionDescription:     r.String("option_description"),
			OptionGrossListPrice:  r.Float("option_gross_list_price"),
			RecordedAt:            r.Time("recorded_at"),
			LastScrapedOn:         r.Time("last_scraped_on"),
			IsCurrent:             r.Bool("is_current"),
		}
	},
}

// Differences is the layout of the line-item changelog.
var Differences = Kind[models.DifferenceItem]{
	Name: "DifferenceItem",
	Fields: []Field{
		id("vendor"), id("market"), str("series"), str("model_range_code"),
		str("model_range_description"), str("model_code"), str("model_description"),
		str("line_code"), str("line_description"), str("currency"),
		id("reason"), str("old_value"), str("new_value"), recordedAt(),
	},
	Encode: func(d models.DifferenceItem) Row {
		oldValue, newValue := d.Values()
		return Row{
			"vendor":                  string(d.Vendor),
			"market":                  string(d.Market),
			"series":                  d.Series,
			"model_range_code":        d.ModelRangeCode,
			"model_range_description": d.ModelRangeDescription,
			"model_code":              d.ModelCode,
			"model_description":       d.ModelDescription,
			"line_code":               d.LineCode,
			"line_description":        d.LineDescription,
			"currency":                d.Currency,
			"reason":                  string(d.Reason()),
			"old_value":               oldValue,
			"new_value":               newValue,
			"recorded_at":             d.RecordedAt,
		}
	},
	Decode: func(r Row) models.DifferenceItem {
		reason := models.Reason(r.String("reason"))
		oldValue, newValue := r.String("old_value"), r.String("new_value")
		change, err := models.ParseChange(reason, oldValue, newValue)
		if err != nil {
			change = models.Unparsed{Kind: reason, OldValue: oldValue, NewValue: newValue, Err: err}
		}
		return models.DifferenceItem{
			Vendor:                models.Vendor(r.String("vendor")),
			Market:                models.Market(r.String("market")),
			Series:                r.String("series"),
			ModelRangeCode:        r.String("model_range_code"),
			ModelRangeDescription: r.String("model_range_description"),
			ModelCode:             r.String("model_code"),
			ModelDescription:      r.String("model_description"),
			LineCode:              r.String("line_code"),
			LineDescription:       r.String("line_description"),
			Currency:              r.String("currency"),
			Change:                change,
			RecordedAt:            r.Time("recorded_at"),
		}
	},
}

// PriceDifferences is the layout of the price changelog.
var PriceDifferences = Kind[models.PriceDifferenceItem]{
	Name: "PriceDifferenceItem",
	Fields: []Field{
		id("vendor"), id("market"), str("series"), str("model_range_code"),
		str("model_range_description"), str("model_code"), str("model_description"),
		str("line_code"), str("line_description"), str("currency"),
		id("reason"), float("old_price"), float("new_price"), str("option_code"),
		str("perc_change"), recordedAt(),
	},
	Encode: func(p models.PriceDifferenceItem) Row {
		return Row{
			"vendor":                  string(p.Vendor),
			"market":                  string(p.Market),
			"series":                  p.Series,
			"model_range_code":        p.ModelRangeCode,
			"model_range_description": p.ModelRangeDescription,
			"model_code":              p.ModelCode,
			"model_description":       p.ModelDescription,
			"line_code":               p.LineCode,
			"line_description":        p.LineDescription,
			"currency":                p.Currency,
			"reason":                  string(p.Reason),
			"old_price":               p.OldPrice,
			"new_price":               p.NewPrice,
			"option_code":             p.OptionCode,
			"perc_change":             p.PercChange,
			"recorded_at":             p.RecordedAt,
		}
	},
	Decode: func(r Row) models.PriceDifferenceItem {
		return models.PriceDifferenceItem{
			Vendor:                models.Vendor(r.String("vendor")),
			Market:                models.Market(r.String("market")),
			Series:                r.String("series"),
			ModelRangeCode:        r.String("model_range_code"),
			ModelRangeDescription: r.String("model_range_description"),
			ModelCode:             r.String("model_code"),
			ModelDescription:      r.String("model_description"),
			LineCode:              r.String("line_code"),
			LineDescription:       r.String("line_description"),
			Currency:              r.String("currency"),
			Reason:                models.PriceReason(r.String("reason")),
			OldPrice:              r.Float("old_price"),
			NewPrice:              r.Float("new_price"),
			OptionCode:            r.String("option_code"),
			PercChange:            r.String("perc_change"),
			RecordedAt:            r.Time("recorded_at"),
		}
	},
}

// OptionPriceDifferences is the layout of the option price changelog.
var OptionPriceDifferences = Kind[models.OptionPriceDifferenceItem]{
	Name: "OptionPriceDifferenceItem",
	Fields: []Field{
		id("vendor"), id("market"), str("model_range_description"), str("option_description"),
		str("currency"), float("old_price"), float("new_price"), integer("perc_change"),
		id("reason"), recordedAt(),
	},
	Encode: func(o models.OptionPriceDifferenceItem) Row {
		return Row{
			"vendor":                  string(o.Vendor),
			"market":                  string(o.Market),
			"model_range_description": o.ModelRangeDescription,
			"option_description":      o.OptionDescription,
			"currency":                o.Currency,
			"old_price":               o.OldPrice,
			"new_price":               o.NewPrice,
			"perc_change":             o.PercChange,
			"reason":                  string(o.Reason),
			"recorded_at":             o.RecordedAt,
		}
	},
	Decode: func(r Row) models.OptionPriceDifferenceItem {
		return models.OptionPriceDifferenceItem{
			Vendor:                models.Vendor(r.String("vendor")),
			Market:                models.Market(r.String("market")),
			ModelRangeDescription: r.String("model_range_description"),
			OptionDescription:     r.String("option_description"),
			Currency:              r.String("currency"),
			OldPrice:              r.Float("old_price"),
			NewPrice:              r.Float("new_price"),
			PercChange:            r.Int("perc_change"),
			Reason:                models.PriceReason(r.String("reason")),
			RecordedAt:            r.Time("recorded_at"),
		}
	},
}

// FinanceDifferences is the layout of the finance changelog.
var FinanceDifferences = Kind[models.DifferenceFinanceItem]{
	Name: "DifferenceFinanceItem",
	Fields: []Field{
		id("vehicle_id"), id("vendor"), id("market"), str("series"),
		str("model_range_description"), str("model_description"), str("line_description"),
		str("currency"), str("contract_type"), id("reason"), str("old_value"), str("new_value"),
		recordedAt(),
	},
	Encode: func(d models.DifferenceFinanceItem) Row {
		return Row{
			"vehicle_id":              d.VehicleID,
			"vendor":                  string(d.Vendor),
			"market":                  string(d.Market),
			"series":                  d.Series,
			"model_range_description": d.ModelRangeDescription,
			"model_description":       d.ModelDescription,
			"line_description":        d.LineDescription,
			"currency":                d.Currency,
			"contract_type":           d.ContractType,
			"reason":                  string(d.Reason),
			"old_value":               d.OldValue,
			"new_value":               d.NewValue,
			"recorded_at":             d.RecordedAt,
		}
	},
	Decode: func(r Row) models.DifferenceFinanceItem {
		return models.DifferenceFinanceItem{
			VehicleID:             r.String("vehicle_id"),
			Vendor:                models.Vendor(r.String("vendor")),
			Market:                models.Market(r.String("market")),
			Series:                r.String("series"),
			ModelRangeDescription: r.String("model_range_description"),
			ModelDescription:      r.String("model_description"),
			LineDescription:       r.String("line_description"),
			Currency:              r.String("currency"),
			ContractType:          r.String("contract_type"),
			Reason:                models.FinanceReason(r.String("reason")),
			OldValue:              r.String("old_value"),
			NewValue:              r.String("new_value"),
			RecordedAt:            r.Time("recorded_at"),
		}
	},
}
