package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testDay = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func a4Line(net float64, opts ...LineOption) LineItem {
	return LineItem{
		Vendor:                VendorAudi,
		Market:                MarketDE,
		Series:                "A4",
		ModelRangeCode:        "8W",
		ModelRangeDescription: "A4 Limousine",
		ModelCode:             "8WC0",
		ModelDescription:      "A4 35 TFSI",
		LineCode:              "SE",
		LineDescription:       "S line",
		Currency:              "EUR",
		NetListPrice:          net,
		LineOptions:           opts,
	}
}

func reasonsOf(diffs []DifferenceItem) []Reason {
	out := make([]Reason, len(diffs))
	for i, d := range diffs {
		out[i] = d.Reason()
	}
	return out
}

func TestLineItemEqualsIgnoresDescriptiveFields(t *testing.T) {
	a := a4Line(50000)
	b := a4Line(52000, LineOption{Code: "PDC"})
	b.LineDescription = "renamed"

	if !a.Equals(b) {
		t.Error("lines with the same identity should be equal")
	}
	b.LineCode = "SP"
	if a.Equals(b) {
		t.Error("lines with a different line code should not be equal")
	}
}

func TestLineItemValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*LineItem)
		want error
	}{
		{"valid", func(*LineItem) {}, nil},
		{"missing series", func(l *LineItem) { l.Series = "" }, ErrMissingIdentity},
		{"missing line code", func(l *LineItem) { l.LineCode = "" }, ErrMissingIdentity},
		{"unknown market", func(l *LineItem) { l.Market = "XX" }, ErrUnknownMarket},
		{"unknown vendor", func(l *LineItem) { l.Vendor = "vw" }, ErrUnknownVendor},
		{"duplicate option", func(l *LineItem) {
			l.LineOptions = []LineOption{{Code: "PDC"}, {Code: "PDC"}}
		}, ErrDuplicateOption},
	}
	for _, tt := range tests {
		l := a4Line(1)
		tt.mut(&l)
		err := l.Validate()
		if tt.want == nil {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestDiffPriceChange(t *testing.T) {
	diffs := a4Line(52000).Diff(a4Line(50000), testDay)
	if len(diffs) != 1 {
		t.Fatalf("diffs: got %d, want 1", len(diffs))
	}
	oldV, newV := diffs[0].Values()
	if diffs[0].Reason() != ReasonPriceChange || oldV != "50000.0" || newV != "52000.0" {
		t.Errorf("got %s %q→%q", diffs[0].Reason(), oldV, newV)
	}
}

func TestDiffOptionToggles(t *testing.T) {
	yesterday := a4Line(50000,
		LineOption{Code: "PDC", Included: false, NetListPrice: 500, GrossListPrice: 595},
		LineOption{Code: "NAV", Included: true},
	)
	today := a4Line(50000,
		LineOption{Code: "PDC", Included: true},
		LineOption{Code: "NAV", Included: false, NetListPrice: 800},
	)

	diffs := today.Diff(yesterday, testDay)
	got := reasonsOf(diffs)
	want := []Reason{ReasonOptionIncluded, ReasonOptionExcluded, ReasonOptionPriceChange, ReasonOptionPriceChange}
	if len(got) != len(want) {
		t.Fatalf("reasons: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reason[%d]: got %s, want %s", i, got[i], want[i])
		}
	}

	oldV, newV := diffs[0].Values()
	if oldV != "50000.0/595.0/500.0" || newV != "50000.0/PDC" {
		t.Errorf("OPTION_INCLUDED values: got %q, %q", oldV, newV)
	}
	oldV, newV = diffs[1].Values()
	if oldV != "50000.0" || newV != "50000.0/NAV" {
		t.Errorf("OPTION_EXCLUDED values: got %q, %q", oldV, newV)
	}
}

func TestDiffOptionAddedRemovedSuppressesRecodes(t *testing.T) {
	yesterday := a4Line(50000,
		LineOption{Code: "OLD1", Description: "Heated seats"},
		LineOption{Code: "GONE", Description: "Towbar"},
	)
	today := a4Line(50000,
		LineOption{Code: "NEW1", Description: "Heated seats"},
		LineOption{Code: "ADD", Description: "Sunroof"},
	)

	diffs := today.Diff(yesterday, testDay)
	if len(diffs) != 2 {
		t.Fatalf("diffs: got %v, want 2 entries", reasonsOf(diffs))
	}
	if c, ok := diffs[0].Change.(OptionAdded); !ok || c.OptionCode != "ADD" {
		t.Errorf("first diff: got %#v, want OptionAdded ADD", diffs[0].Change)
	}
	if c, ok := diffs[1].Change.(OptionRemoved); !ok || c.OptionCode != "GONE" {
		t.Errorf("second diff: got %#v, want OptionRemoved GONE", diffs[1].Change)
	}
}

func TestDiffIdenticalLinesIsEmpty(t *testing.T) {
	l := a4Line(50000, LineOption{Code: "PDC", NetListPrice: 500})
	if diffs := l.Diff(l, testDay); len(diffs) != 0 {
		t.Errorf("got %v, want no differences", reasonsOf(diffs))
	}
}

func TestParseChangeRoundTrip(t *testing.T) {
	changes := []Change{
		NewLine{NetListPrice: 41000},
		LineRemoved{NetListPrice: 39999.5},
		PriceChange{OldPrice: 50000, NewPrice: 52000},
		OptionIncluded{OldLinePrice: 50000, OptionGrossPrice: 595, OptionNetPrice: 500, NewLinePrice: 50500, OptionCode: "PDC"},
		OptionExcluded{OldLinePrice: 50000, NewLinePrice: 49500, OptionCode: "NAV"},
		OptionPriceChange{OptionDescription: `19" inch wheels & tyres`, OldPrice: 1000, NewPrice: 1200},
		OptionAdded{OptionCode: "ADD"},
		OptionRemoved{OptionCode: "GONE"},
	}
	for _, c := range changes {
		oldV, newV := c.Values()
		got, err := ParseChange(c.Reason(), oldV, newV)
		if err != nil {
			t.Errorf("%s: unexpected error %v", c.Reason(), err)
			continue
		}
		if got != c {
			t.Errorf("%s: got %#v, want %#v", c.Reason(), got, c)
		}
	}
}

func TestOptionPriceChangeValueShape(t *testing.T) {
	oldV, newV := OptionPriceChange{OptionDescription: `19" inch`, OldPrice: 1000, NewPrice: 1200}.Values()
	if oldV != `{"option_description": "19\" inch", "old_price": 1000.0}` {
		t.Errorf("old: got %s", oldV)
	}
	if newV != "1200.0" {
		t.Errorf("new: got %s", newV)
	}
}

func TestParseChangeErrors(t *testing.T) {
	if _, err := ParseChange(ReasonPriceChange, "abc", "1"); !errors.Is(err, ErrMalformedChange) {
		t.Errorf("malformed price: got %v", err)
	}
	if _, err := ParseChange(ReasonOptionIncluded, "1/2", "3/X"); !errors.Is(err, ErrMalformedChange) {
		t.Errorf("short included: got %v", err)
	}
	if _, err := ParseChange(ReasonOptionPriceChange, `{"option_description": "x"}`, "1"); !errors.Is(err, ErrMalformedChange) {
		t.Errorf("missing old_price: got %v", err)
	}
	if _, err := ParseChange("SOMETHING", "", ""); !errors.Is(err, ErrUnknownReason) {
		t.Errorf("unknown reason: got %v", err)
	}
}

func TestVehicleIDStable(t *testing.T) {
	a := NewVehicleID(VendorBMW, MarketUK, "3", "3 Series Saloon", "320i", "M Sport")
	b := NewVehicleID(VendorBMW, MarketUK, "3", "3 Series Saloon", "320i", "M Sport")
	if a != b {
		t.Errorf("vehicle id not stable: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "uk_bmw_") || len(a) != len("uk_bmw_")+8 {
		t.Errorf("vehicle id shape: got %s", a)
	}
	c := NewVehicleID(VendorBMW, MarketUK, "3", "3 Series Saloon", "320i", "Sport")
	if a == c {
		t.Error("different line descriptions should yield different ids")
	}
	if got := NewVehicleID(VendorMercedesBenz, MarketDE, "C", "", "", ""); !strings.HasPrefix(got, "de_mer_") {
		t.Errorf("mercedes prefix: got %s", got)
	}
}

func TestPCPDiffMonthlyRental(t *testing.T) {
	base := FinanceLineItem{
		Vendor: VendorBMW, Market: MarketUK, Series: "3", ContractType: ContractPCP,
		MonthlyRentalGLP: 493, OTR: 65000, TermOfAgreement: 48, NumberOfInstallments: 47,
	}.WithVehicleID()
	today := base
	today.MonthlyRentalGLP = 567

	diffs := today.PCPDiff(base, testDay)
	if len(diffs) != 1 {
		t.Fatalf("diffs: got %d, want 1", len(diffs))
	}
	d := diffs[0]
	if d.Reason != FinanceMonthlyRentalChanged || d.OldValue != "493.0" || d.NewValue != "567.0" {
		t.Errorf("got %s %s→%s", d.Reason, d.OldValue, d.NewValue)
	}
}

func TestPCPInstallmentsValid(t *testing.T) {
	tests := []struct {
		contract     string
		installments int
		term         int
		want         bool
	}{
		{"PCP", 47, 48, true},
		{"PCP", 48, 48, true},
		{"PCP", 0, 48, false},
		{"PCP", 49, 48, false},
		{"Business PCP", 0, 36, false},
		{"HP", 0, 0, true},
	}
	for _, tt := range tests {
		f := FinanceLineItem{ContractType: tt.contract, NumberOfInstallments: tt.installments, TermOfAgreement: tt.term}
		if got := f.PCPInstallmentsValid(); got != tt.want {
			t.Errorf("%s %d/%d: got %v, want %v", tt.contract, tt.installments, tt.term, got, tt.want)
		}
	}
}

func TestNetPrice(t *testing.T) {
	tests := []struct {
		market Market
		gross  float64
		want   float64
	}{
		{MarketDE, 59500, 50000},
		{MarketUK, 120, 100},
		{MarketUS, 45990, 45990},
		{MarketCH, 108.1, 100},
		{MarketIE, 100, 81.3},
	}
	for _, tt := range tests {
		if got := NetPrice(tt.market, tt.gross); got != tt.want {
			t.Errorf("NetPrice(%s, %.2f) = %.2f; want %.2f", tt.market, tt.gross, got, tt.want)
		}
	}
}

func TestParseMarketAndVendor(t *testing.T) {
	if m, err := ParseMarket("gb"); err != nil || m != MarketUK {
		t.Errorf("ParseMarket(gb) = %s, %v", m, err)
	}
	if _, err := ParseMarket("JP"); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("ParseMarket(JP): got %v", err)
	}
	if v, err := ParseVendor("Mercedes-Benz"); err != nil || v != VendorMercedesBenz {
		t.Errorf("ParseVendor(Mercedes-Benz) = %s, %v", v, err)
	}
}

func TestFallbackKeepsLastScrapedOn(t *testing.T) {
	seen := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	l := a4Line(1)
	l.LastScrapedOn = seen
	l.IsCurrent = true

	fb := l.AsFallback(now)
	if !fb.RecordedAt.Equal(now) || !fb.LastScrapedOn.Equal(seen) || fb.IsCurrent {
		t.Errorf("fallback: got recorded=%v last=%v current=%v", fb.RecordedAt, fb.LastScrapedOn, fb.IsCurrent)
	}

	st := a4Line(1).Stamped(now)
	if !st.LastScrapedOn.Equal(testDay) || !st.IsCurrent || !st.RecordedAt.Equal(now) {
		t.Errorf("stamped: got last=%v current=%v", st.LastScrapedOn, st.IsCurrent)
	}

	carried := fb.Stamped(now)
	if !carried.LastScrapedOn.Equal(seen) || carried.IsCurrent {
		t.Errorf("carried over: got last=%v current=%v", carried.LastScrapedOn, carried.IsCurrent)
	}
}
