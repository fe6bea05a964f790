package models

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ContractPCP is the contract type for which field-level differencing runs.
const ContractPCP = "PCP"

// DefaultMileageUnit is used when a finance offer carries no unit.
const DefaultMileageUnit = "Miles"

// FinanceLineItem is the finance offer for a line under one contract type.
type FinanceLineItem struct {
	VehicleID             string    `json:"vehicle_id"`
	Vendor                Vendor    `json:"vendor"`
	Market                Market    `json:"market"`
	Series                string    `json:"series"`
	ModelRangeCode        string    `json:"model_range_code"`
	ModelRangeDescription string    `json:"model_range_description"`
	ModelDescription      string    `json:"model_description"`
	LineDescription       string    `json:"line_description"`
	Currency              string    `json:"currency"`
	ContractType          string    `json:"contract_type"`
	TermOfAgreement       int       `json:"term_of_agreement"`
	NumberOfInstallments  int       `json:"number_of_installments"`
	AnnualMileage         float64   `json:"annual_mileage"`
	MileageUnit           string    `json:"mileage_unit"`
	Deposit               float64   `json:"deposit"`
	SalesOffer            float64   `json:"sales_offer"`
	TotalDeposit          float64   `json:"total_deposit"`
	MonthlyRentalNLP      float64   `json:"monthly_rental_nlp"`
	MonthlyRentalGLP      float64   `json:"monthly_rental_glp"`
	OTR                   float64   `json:"otr"`
	TotalPayableAmount    float64   `json:"total_payable_amount"`
	TotalCreditAmount     float64   `json:"total_credit_amount"`
	OptionalFinalPayment  float64   `json:"optional_final_payment"`
	OptionPurchaseFee     float64   `json:"option_purchase_fee"`
	APR                   float64   `json:"apr"`
	FixedROI              float64   `json:"fixed_roi"`
	ExcessMileage         float64   `json:"excess_mileage"`
	OptionType            string    `json:"option_type"`
	OptionDescription     string    `json:"option_description"`
	OptionGrossListPrice  float64   `json:"option_gross_list_price"`
	RecordedAt            time.Time `json:"recorded_at"`
	LastScrapedOn         time.Time `json:"last_scraped_on"`
	IsCurrent             bool      `json:"is_current"`
}

// NewVehicleID derives the content-addressed id of a financed vehicle:
// lower(market) + "_" + vendor prefix + "_" + hex(blake2b-32(fields)).
func NewVehicleID(vendor Vendor, market Market, series, modelRangeDescription, modelDescription, lineDescription string) string {
	h, err := blake2b.New(4, nil)
	if err != nil {
		// only fails for sizes outside 1..64 or oversized keys
		panic(err)
	}
	h.Write([]byte(strings.Join([]string{
		string(vendor), string(market), series, modelRangeDescription, modelDescription, lineDescription,
	}, "|")))
	return strings.ToLower(string(market)) + "_" + vendor.Prefix() + "_" + hex.EncodeToString(h.Sum(nil))
}

// WithVehicleID fills VehicleID from the identity fields when it is empty.
func (f FinanceLineItem) WithVehicleID() FinanceLineItem {
	if f.VehicleID == "" {
		f.VehicleID = NewVehicleID(f.Vendor, f.Market, f.Series, f.ModelRangeDescription, f.ModelDescription, f.LineDescription)
	}
	return f
}

// Key is the identity of a finance row.
func (f FinanceLineItem) Key() string { return f.VehicleID }

// Equals compares vehicle ids only.
func (f FinanceLineItem) Equals(o FinanceLineItem) bool { return f.VehicleID == o.VehicleID }

func (f FinanceLineItem) PairKey() Pair {
	return Pair{Vendor: f.Vendor, Market: f.Market}
}

// IsPCP reports whether the offer is a personal contract purchase.
func (f FinanceLineItem) IsPCP() bool {
	return strings.Contains(strings.ToUpper(f.ContractType), ContractPCP)
}

// PCPInstallmentsValid reports whether a PCP row has a usable installment count.
// Non-PCP rows always pass.
func (f FinanceLineItem) PCPInstallmentsValid() bool {
	if !f.IsPCP() {
		return true
	}
	return f.NumberOfInstallments > 0 && f.NumberOfInstallments <= f.TermOfAgreement
}

// Validate checks the fields a finance row cannot be stored without.
func (f FinanceLineItem) Validate() error {
	if !f.Market.Valid() {
		return NewValidationError("market", string(f.Market), ErrUnknownMarket)
	}
	if _, err := ParseVendor(string(f.Vendor)); err != nil {
		return err
	}
	if f.VehicleID == "" {
		return NewValidationError("vehicle_id", "", ErrMissingVehicleID)
	}
	if strings.TrimSpace(f.ContractType) == "" {
		return NewValidationError("contract_type", f.ContractType, ErrMissingContract)
	}
	return nil
}

func (f FinanceLineItem) Stamped(at time.Time) FinanceLineItem {
	f = f.WithVehicleID()
	if f.RecordedAt.IsZero() {
		f.RecordedAt = at
	}
	if f.MileageUnit == "" {
		f.MileageUnit = DefaultMileageUnit
	}
	if f.Currency == "" {
		f.Currency = f.Market.Currency()
	}
	if f.LastScrapedOn.IsZero() {
		f.LastScrapedOn = truncateDay(at)
	}
	f.IsCurrent = sameDay(f.LastScrapedOn, at)
	return f
}

func (f FinanceLineItem) AsFallback(at time.Time) FinanceLineItem {
	f.RecordedAt = at
	f.IsCurrent = sameDay(f.LastScrapedOn, at)
	return f
}

// FinanceReason classifies a finance difference.
type FinanceReason string

const (
	FinanceNewLine                     FinanceReason = "PCP_NEW_LINE"
	FinanceLineRemoved                 FinanceReason = "PCP_LINE_REMOVED"
	FinanceMonthlyRentalChanged        FinanceReason = "PCP_MONTHLY_RENTAL_CHANGED"
	FinanceSalesOfferChanged           FinanceReason = "PCP_SALES_OFFER_CHANGED"
	FinanceOTRChanged                  FinanceReason = "PCP_OTR_CHANGED"
	FinanceAPRChanged                  FinanceReason = "PCP_APR_CHANGED"
	FinanceFixedROIChanged             FinanceReason = "PCP_FIXED_ROI_CHANGED"
	FinanceOptionalFinalPaymentChanged FinanceReason = "PCP_OPTIONAL_FINAL_PAYMENT_CHANGED"
)

// pcpFields is the ordered set of fields compared between two PCP offers.
var pcpFields = []struct {
	reason FinanceReason
	value  func(FinanceLineItem) float64
}{
	{FinanceMonthlyRentalChanged, func(f FinanceLineItem) float64 { return f.MonthlyRentalGLP }},
	{FinanceOTRChanged, func(f FinanceLineItem) float64 { return f.OTR }},
	{FinanceAPRChanged, func(f FinanceLineItem) float64 { return f.APR }},
	{FinanceSalesOfferChanged, func(f FinanceLineItem) float64 { return f.SalesOffer }},
	{FinanceFixedROIChanged, func(f FinanceLineItem) float64 { return f.FixedROI }},
	{FinanceOptionalFinalPaymentChanged, func(f FinanceLineItem) float64 { return f.OptionalFinalPayment }},
}

// DifferenceFinanceItem is one changed field of a PCP offer.
type DifferenceFinanceItem struct {
	VehicleID             string
	Vendor                Vendor
	Market                Market
	Series                string
	ModelRangeDescription string
	ModelDescription      string
	LineDescription       string
	Currency              string
	ContractType          string
	Reason                FinanceReason
	OldValue              string
	NewValue              string
	RecordedAt            time.Time
}

// NewFinanceDifference copies the descriptive fields of f onto a difference.
func NewFinanceDifference(f FinanceLineItem, reason FinanceReason, oldValue, newValue string, at time.Time) DifferenceFinanceItem {
	return DifferenceFinanceItem{
		VehicleID:             f.VehicleID,
		Vendor:                f.Vendor,
		Market:                f.Market,
		Series:                f.Series,
		ModelRangeDescription: f.ModelRangeDescription,
		ModelDescription:      f.ModelDescription,
		LineDescription:       f.LineDescription,
		Currency:              f.Currency,
		ContractType:          f.ContractType,
		Reason:                reason,
		OldValue:              oldValue,
		NewValue:              newValue,
		RecordedAt:            at,
	}
}

func (d DifferenceFinanceItem) PairKey() Pair {
	return Pair{Vendor: d.Vendor, Market: d.Market}
}

// PCPDiff lists the PCP fields of today's offer f that differ from yesterday's y.
func (f FinanceLineItem) PCPDiff(y FinanceLineItem, at time.Time) []DifferenceFinanceItem {
	var out []DifferenceFinanceItem
	for _, field := range pcpFields {
		o, n := field.value(y), field.value(f)
		if o == n {
			continue
		}
		out = append(out, NewFinanceDifference(f, field.reason, FormatFloat(o), FormatFloat(n), at))
	}
	return out
}
