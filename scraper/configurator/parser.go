package configurator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"autoprice/models"
)

// ModelRange is one entry of a market's catalogue index.
type ModelRange struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Series      string `json:"series"`
}

// Trim names a line inside a model range.
type Trim struct {
	ModelCode string
	LineCode  string
}

// Parser turns configurator payloads into records.
type Parser interface {
	ParseIndex(body []byte) ([]ModelRange, error)
	// ParseLines returns the lines it could read plus the trims it could not.
	ParseLines(market models.Market, mr ModelRange, body []byte) ([]models.LineItem, []Trim, error)
	ParseFinance(market models.Market, mr ModelRange, body []byte) ([]models.FinanceLineItem, error)
}

var (
	parsersMu sync.RWMutex
	parsers   = map[models.Vendor]Parser{}
)

// RegisterParser installs a vendor-specific parser.
func RegisterParser(vendor models.Vendor, p Parser) {
	parsersMu.Lock()
	defer parsersMu.Unlock()
	parsers[vendor] = p
}

// ParserFor returns the vendor's registered parser, or the canonical JSON
// parser when none was registered.
func ParserFor(vendor models.Vendor) Parser {
	parsersMu.RLock()
	defer parsersMu.RUnlock()
	if p, ok := parsers[vendor]; ok {
		return p
	}
	return CanonicalParser{Vendor: vendor}
}

// CanonicalParser reads the normalised JSON shape every configurator proxy
// in front of the vendors emits:
//
//	{"model_ranges": [{"code": "A4", "description": "A4 Saloon", "series": "A"}]}
//
// for the index, and for a model range
//
//	{"models": [{"code": "8WC", "description": "A4 35 TFSI",
//	  "lines": [{"code": "SE", "description": "Sport", "price": "£39,995.00",
//	    "options": [{"code": "PDC", "price": 500, "included": false}],
//	    "finance": [{"contract_type": "PCP", "monthly_rental": 493}]}]}]}
//
// Prices are gross and may be numbers or formatted strings.
type CanonicalParser struct {
	Vendor models.Vendor
}

type price struct {
	value float64
	set   bool
}

func (p *price) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		v, err := ParsePrice(raw)
		if errors.Is(err, ErrNoPrice) {
			// "on request" and similar leave the price unset
			return nil
		}
		if err != nil {
			return err
		}
		p.value, p.set = v, true
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("unparsable price %s", s)
	}
	p.value, p.set = v, true
	return nil
}

type indexPayload struct {
	ModelRanges []ModelRange `json:"model_ranges"`
}

type optionPayload struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Included    bool   `json:"included"`
	Price       price  `json:"price"`
}

type financePayload struct {
	ContractType         string  `json:"contract_type"`
	Term                 int     `json:"term"`
	Installments         int     `json:"installments"`
	AnnualMileage        float64 `json:"annual_mileage"`
	MileageUnit          string  `json:"mileage_unit"`
	Deposit              price   `json:"deposit"`
	SalesOffer           price   `json:"sales_offer"`
	TotalDeposit         price   `json:"total_deposit"`
	MonthlyRental        price   `json:"monthly_rental"`
	OTR                  price   `json:"otr"`
	TotalPayable         price   `json:"total_payable"`
	TotalCredit          price   `json:"total_credit"`
	OptionalFinalPayment price   `json:"optional_final_payment"`
	OptionPurchaseFee    price   `json:"option_purchase_fee"`
	APR                  float64 `json:"apr"`
	FixedROI             float64 `json:"fixed_roi"`
	ExcessMileage        price   `json:"excess_mileage"`
}

type linePayload struct {
	Code        string           `json:"code"`
	Description string           `json:"description"`
	Price       json.RawMessage  `json:"price"`
	OTR         price            `json:"otr"`
	KW          float64          `json:"kw"`
	HP          float64          `json:"hp"`
	Error       string           `json:"error"`
	Options     []optionPayload  `json:"options"`
	Finance     []financePayload `json:"finance"`
}

type modelPayload struct {
	Code        string        `json:"code"`
	Description string        `json:"description"`
	Lines       []linePayload `json:"lines"`
}

type modelRangePayload struct {
	Series      string         `json:"series"`
	Description string         `json:"description"`
	Models      []modelPayload `json:"models"`
}

func (CanonicalParser) ParseIndex(body []byte) ([]ModelRange, error) {
	var idx indexPayload
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("configurator: parse index: %w", err)
	}
	out := make([]ModelRange, 0, len(idx.ModelRanges))
	for _, mr := range idx.ModelRanges {
		mr.Code = strings.TrimSpace(mr.Code)
		if mr.Code == "" {
			continue
		}
		mr.Description = NormaliseText(mr.Description)
		mr.Series = NormaliseText(mr.Series)
		out = append(out, mr)
	}
	return out, nil
}

func (p CanonicalParser) decode(mr ModelRange, body []byte) (modelRangePayload, ModelRange, error) {
	var payload modelRangePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, mr, fmt.Errorf("configurator: parse model range %s: %w", mr.Code, err)
	}
	if mr.Series == "" {
		mr.Series = NormaliseText(payload.Series)
	}
	if mr.Description == "" {
		mr.Description = NormaliseText(payload.Description)
	}
	if mr.Series == "" {
		mr.Series = mr.Code
	}
	return payload, mr, nil
}

func (p CanonicalParser) ParseLines(market models.Market, mr ModelRange, body []byte) ([]models.LineItem, []Trim, error) {
	payload, mr, err := p.decode(mr, body)
	if err != nil {
		return nil, nil, err
	}

	var (
		lines  []models.LineItem
		failed []Trim
	)
	for _, m := range payload.Models {
		for _, l := range m.Lines {
			trim := Trim{ModelCode: m.Code, LineCode: l.Code}
			var gross price
			if l.Error != "" || len(l.Price) == 0 || gross.UnmarshalJSON(l.Price) != nil || !gross.set {
				failed = append(failed, trim)
				continue
			}

			item := models.LineItem{
				Vendor:                p.Vendor,
				Market:                market,
				Series:                mr.Series,
				ModelRangeCode:        mr.Code,
				ModelRangeDescription: mr.Description,
				ModelCode:             m.Code,
				ModelDescription:      NormaliseText(m.Description),
				LineCode:              l.Code,
				LineDescription:       NormaliseText(l.Description),
				Currency:              market.Currency(),
				NetListPrice:          models.NetPrice(market, gross.value),
				GrossListPrice:        gross.value,
				OnTheRoadPrice:        l.OTR.value,
				EnginePerformanceKW:   l.KW,
				EnginePerformanceHP:   l.HP,
			}
			for _, o := range l.Options {
				item.LineOptions = append(item.LineOptions, models.LineOption{
					Code:           o.Code,
					Description:    NormaliseText(o.Description),
					Type:           o.Type,
					Included:       o.Included,
					NetListPrice:   models.NetPrice(market, o.Price.value),
					GrossListPrice: o.Price.value,
				})
			}
			lines = append(lines, item)
		}
	}
	return lines, failed, nil
}

func (p CanonicalParser) ParseFinance(market models.Market, mr ModelRange, body []byte) ([]models.FinanceLineItem, error) {
	payload, mr, err := p.decode(mr, body)
	if err != nil {
		return nil, err
	}

	var out []models.FinanceLineItem
	for _, m := range payload.Models {
		for _, l := range m.Lines {
			if l.Error != "" {
				continue
			}
			for _, f := range l.Finance {
				if strings.TrimSpace(f.ContractType) == "" {
					continue
				}
				item := models.FinanceLineItem{
					Vendor:                p.Vendor,
					Market:                market,
					Series:                mr.Series,
					ModelRangeCode:        mr.Code,
					ModelRangeDescription: mr.Description,
					ModelDescription:      NormaliseText(m.Description),
					LineDescription:       NormaliseText(l.Description),
					Currency:              market.Currency(),
					ContractType:          strings.ToUpper(strings.TrimSpace(f.ContractType)),
					TermOfAgreement:       f.Term,
					NumberOfInstallments:  f.Installments,
					AnnualMileage:         f.AnnualMileage,
					MileageUnit:           f.MileageUnit,
					Deposit:               f.Deposit.value,
					SalesOffer:            f.SalesOffer.value,
					TotalDeposit:          f.TotalDeposit.value,
					MonthlyRentalGLP:      f.MonthlyRental.value,
					MonthlyRentalNLP:      models.NetPrice(market, f.MonthlyRental.value),
					OTR:                   f.OTR.value,
					TotalPayableAmount:    f.TotalPayable.value,
					TotalCreditAmount:     f.TotalCredit.value,
					OptionalFinalPayment:  f.OptionalFinalPayment.value,
					OptionPurchaseFee:     f.OptionPurchaseFee.value,
					APR:                   f.APR,
					FixedROI:              f.FixedROI,
					ExcessMileage:         f.ExcessMileage.value,
				}
				out = append(out, item.WithVehicleID())
			}
		}
	}
	return out, nil
}
