package models

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Vendor is one of the manufacturers whose configurators are scraped.
type Vendor string

const (
	VendorBMW          Vendor = "bmw"
	VendorTesla        Vendor = "tesla"
	VendorAudi         Vendor = "audi"
	VendorMercedesBenz Vendor = "mercedes_benz"
)

// Vendors lists every supported vendor.
var Vendors = []Vendor{VendorBMW, VendorTesla, VendorAudi, VendorMercedesBenz}

// ParseVendor accepts a vendor tag in any case; "mercedes-benz" is also accepted.
func ParseVendor(s string) (Vendor, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, v := range Vendors {
		if string(v) == norm {
			return v, nil
		}
	}
	return "", NewValidationError("vendor", s, ErrUnknownVendor)
}

// Prefix is the first three letters of the vendor tag, used in vehicle ids.
func (v Vendor) Prefix() string {
	s := string(v)
	if len(s) > 3 {
		return s[:3]
	}
	return s
}

// Market is a country storefront with a fixed VAT rate and currency.
type Market string

const (
	MarketUK Market = "UK"
	MarketDE Market = "DE"
	MarketUS Market = "US"
	MarketFR Market = "FR"
	MarketIT Market = "IT"
	MarketES Market = "ES"
	MarketNL Market = "NL"
	MarketBE Market = "BE"
	MarketAT Market = "AT"
	MarketPT Market = "PT"
	MarketIE Market = "IE"
	MarketCH Market = "CH"
)

type marketInfo struct {
	vat      float64
	currency string
}

var markets = map[Market]marketInfo{
	MarketUK: {vat: 20, currency: "GBP"},
	MarketDE: {vat: 19, currency: "EUR"},
	MarketUS: {vat: 0, currency: "USD"},
	MarketFR: {vat: 20, currency: "EUR"},
	MarketIT: {vat: 22, currency: "EUR"},
	MarketES: {vat: 21, currency: "EUR"},
	MarketNL: {vat: 21, currency: "EUR"},
	MarketBE: {vat: 21, currency: "EUR"},
	MarketAT: {vat: 20, currency: "EUR"},
	MarketPT: {vat: 23, currency: "EUR"},
	MarketIE: {vat: 23, currency: "EUR"},
	MarketCH: {vat: 8.1, currency: "CHF"},
}

// Markets returns every supported market tag, sorted.
func Markets() []Market {
	out := make([]Market, 0, len(markets))
	for m := range markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseMarket accepts a market tag in any case. "GB" is treated as UK.
func ParseMarket(s string) (Market, error) {
	norm := Market(strings.ToUpper(strings.TrimSpace(s)))
	if norm == "GB" {
		norm = MarketUK
	}
	if _, ok := markets[norm]; !ok {
		return "", NewValidationError("market", s, ErrUnknownMarket)
	}
	return norm, nil
}

// VAT returns the market's VAT rate in percent.
func (m Market) VAT() float64 { return markets[m].vat }

// Currency returns the ISO currency code of the market.
func (m Market) Currency() string { return markets[m].currency }

// Valid reports whether m is one of the supported markets.
func (m Market) Valid() bool {
	_, ok := markets[m]
	return ok
}

// NetPrice strips the market's VAT from a gross price, rounded to cents.
func NetPrice(m Market, gross float64) float64 {
	divisor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(m.VAT()).Div(decimal.NewFromInt(100)))
	return decimal.NewFromFloat(gross).Div(divisor).RoundBank(2).InexactFloat64()
}

// Pair is one (vendor, market) unit of scraping.
type Pair struct {
	Vendor Vendor
	Market Market
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Vendor, p.Market)
}

// PairSet is a set of (vendor, market) pairs.
type PairSet map[Pair]struct{}

// NewPairSet builds a set from a vendor → markets mapping.
func NewPairSet(enabled map[Vendor][]Market) PairSet {
	set := make(PairSet)
	for v, ms := range enabled {
		for _, m := range ms {
			set[Pair{Vendor: v, Market: m}] = struct{}{}
		}
	}
	return set
}

// Contains reports whether p is in the set.
func (s PairSet) Contains(p Pair) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the pairs ordered by vendor then market.
func (s PairSet) Sorted() []Pair {
	out := make([]Pair, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		return out[i].Market < out[j].Market
	})
	return out
}

// FormatFloat renders f the way the persisted changelogs always have:
// shortest round-trip digits, with ".0" appended to integral values.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
