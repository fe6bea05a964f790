package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoprice/models"
	"autoprice/storage"
	"autoprice/utils"
)

func checksOf(findings []Finding) map[string]int {
	out := make(map[string]int)
	for _, f := range findings {
		out[f.Pair.String()+" "+f.Check]++
	}
	return out
}

func balanced(l models.LineItem) models.LineItem {
	l.LineOptions = []models.LineOption{
		{Code: "STD", Included: true},
		{Code: "EXT", NetListPrice: 100, GrossListPrice: 120},
	}
	return l
}

func TestLineQualityChecks(t *testing.T) {
	dup := balanced(a4(100, 119))

	negDE := balanced(a4(-1, -1))
	negDE.LineCode = "NEG"

	negFR := negDE
	negFR.Market = models.MarketFR

	newline := balanced(a4(100, 119))
	newline.LineCode, newline.LineDescription = "NL", "S line\nedition"

	unbalanced := a4(100, 119)
	unbalanced.LineCode = "NOOPTS"

	tesla := func(m models.Market) models.LineItem {
		l := balanced(a4(100, 100))
		l.Vendor, l.Market = models.VendorTesla, m
		l.LineOptions[0].GrossListPrice = 1000
		return l
	}

	bmwUS := balanced(a4(100, 100))
	bmwUS.Vendor, bmwUS.Market = models.VendorBMW, models.MarketUS
	bmwUS.LineOptions[1].NetListPrice = -50

	lines := []models.LineItem{dup, dup, negDE, negFR, newline, unbalanced, tesla(models.MarketUK), tesla(models.MarketUS), bmwUS}
	enabled := models.NewPairSet(map[models.Vendor][]models.Market{
		models.VendorAudi:         {models.MarketDE, models.MarketFR},
		models.VendorTesla:        {models.MarketUK, models.MarketUS},
		models.VendorBMW:          {models.MarketUS},
		models.VendorMercedesBenz: {models.MarketDE},
	})

	got := checksOf(NewQualityChecker(utils.NewDiscardLogger()).CheckLines(lines, enabled))
	want := map[string]int{
		"audi/DE duplicate":               1,
		"audi/FR negative_price":          1,
		"audi/DE newline":                 1,
		"audi/DE option_balance":          1,
		"tesla/UK included_option_priced": 1,
		"mercedes_benz/DE empty":          1,
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("%s: got %d, want %d", k, got[k], n)
		}
	}
	for _, k := range []string{"audi/DE negative_price", "tesla/US included_option_priced", "bmw/US negative_option_price"} {
		if got[k] != 0 {
			t.Errorf("%s: exempt pair flagged %d times", k, got[k])
		}
	}
}

func TestFinanceQualityChecks(t *testing.T) {
	ok := models.FinanceLineItem{
		Vendor: models.VendorBMW, Market: models.MarketUK, LineDescription: "M Sport",
		ContractType: models.ContractPCP, TermOfAgreement: 48, NumberOfInstallments: 47, MonthlyRentalGLP: 400,
	}.WithVehicleID()
	badInstallments := ok
	badInstallments.VehicleID, badInstallments.LineDescription = "", "Sport"
	badInstallments.NumberOfInstallments = 49
	badInstallments = badInstallments.WithVehicleID()
	negative := ok
	negative.TermOfAgreement = 36
	negative.NumberOfInstallments = 35
	negative.MonthlyRentalNLP = -1

	enabled := models.NewPairSet(map[models.Vendor][]models.Market{models.VendorBMW: {models.MarketUK, models.MarketDE}})
	got := checksOf(NewQualityChecker(utils.NewDiscardLogger()).CheckFinance(
		[]models.FinanceLineItem{ok, ok, badInstallments, negative}, enabled))

	want := map[string]int{
		"bmw/UK duplicate":        1,
		"bmw/UK pcp_installments": 1,
		"bmw/UK negative_rental":  1,
		"bmw/DE empty":            1,
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("%s: got %d, want %d", k, got[k], n)
		}
	}
}

func TestQualityChecksAreReadOnly(t *testing.T) {
	dir := t.TempDir()
	key := utils.KeyFor(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	store := storage.NewStore(dir, "prices", storage.FormatDual, storage.LineItems, utils.NewDiscardLogger())
	require.NoError(t, store.Save(key, []models.LineItem{a4(-5, -5), a4(-5, -5)}))

	snapshot := func() map[string][]byte {
		files := map[string][]byte{}
		entries, err := os.ReadDir(store.Dir(key))
		require.NoError(t, err)
		for _, e := range entries {
			b, err := os.ReadFile(filepath.Join(store.Dir(key), e.Name()))
			require.NoError(t, err)
			files[e.Name()] = b
		}
		return files
	}
	before := snapshot()

	lines, err := store.Load(key)
	require.NoError(t, err)
	enabled := models.NewPairSet(map[models.Vendor][]models.Market{models.VendorAudi: {models.MarketFR, models.MarketDE}})
	if findings := NewQualityChecker(utils.NewDiscardLogger()).CheckLines(lines, enabled); len(findings) == 0 {
		t.Fatal("expected findings")
	}

	after := snapshot()
	require.Len(t, after, len(before))
	for name, b := range before {
		if !bytes.Equal(b, after[name]) {
			t.Errorf("%s changed", name)
		}
	}
}

func TestRuleProcessor(t *testing.T) {
	ctx := context.Background()
	p, err := NewRuleProcessor(ctx, utils.NewDiscardLogger())
	require.NoError(t, err)
	defer p.Close()

	neg := a4(-1, -1)
	neg.LineCode = "NEG"
	offer := func(apr float64, contract string) models.FinanceLineItem {
		return models.FinanceLineItem{
			Vendor: models.VendorBMW, Market: models.MarketUK, LineDescription: contract,
			ContractType: contract, APR: apr,
		}.WithVehicleID()
	}
	require.NoError(t, p.Load(ctx,
		[]models.LineItem{a4(100, 119), neg},
		[]models.FinanceLineItem{offer(6.9, "PCP"), offer(29.9, "HP")}))

	results, err := p.Run(ctx, []Rule{
		{Name: "positive_net", Table: TablePrices, Expect: "net_list_price > 0"},
		{Name: "apr_bounds", Table: TableFinance, Expect: "apr BETWEEN 0 AND 15", Where: "contract_type = 'PCP'"},
		{Name: "broken", Table: TablePrices, Expect: "no_such_column > 0"},
		{Name: "bad_table", Table: "cars", Expect: "1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	if r := results[0]; r.Rule != "positive_net" || r.Rows != 2 || r.Violations != 1 || r.SuccessPct.StringFixed(2) != "50.00" {
		t.Errorf("positive_net: got %+v", r)
	}
	if r := results[1]; r.Rule != "apr_bounds" || r.Rows != 1 || r.Violations != 0 || r.SuccessPct.StringFixed(2) != "100.00" {
		t.Errorf("apr_bounds: got %+v", r)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: apr_bounds
    table: finance
    expect: apr BETWEEN 0 AND 15
    where: contract_type = 'PCP'
  - name: otr_over_net
    table: prices
    expect: on_the_road_price = 0 OR on_the_road_price >= gross_list_price
`), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	if rules[0].Where != "contract_type = 'PCP'" || rules[1].Table != TablePrices {
		t.Errorf("got %+v", rules)
	}

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: x\n    table: cars\n    expect: \"1\"\n"), 0o644))
	if _, err := LoadRules(path); err == nil {
		t.Error("want error for unknown table")
	}
}

func TestReport(t *testing.T) {
	l := a4(52000, 61880)
	diffs := []models.DifferenceItem{
		models.NewDifference(l, models.PriceChange{OldPrice: 50000, NewPrice: 52000}, at),
		models.NewDifference(l, models.OptionPriceChange{OptionDescription: "Tech pack", OldPrice: 1000, NewPrice: 1200}, at),
		models.NewDifference(l, models.NewLine{NetListPrice: 1}, at),
	}
	r := Report{
		Day:         utils.KeyFor(at),
		Differences: diffs,
		Prices:      PriceDifferences(diffs),
		Options:     OptionPriceDifferences(diffs, utils.NewDiscardLogger()),
	}

	want := "2024-01-10: 3 differences (NEW_LINE 1, OPTION_PRICE_CHANGE 1, PRICE_CHANGE 1), 1 price changes, 1 option price changes"
	if got := r.Summary(); got != want {
		t.Errorf("summary:\n got %q\nwant %q", got, want)
	}

	var buf bytes.Buffer
	r.Render(&buf)
	for _, s := range []string{"PRICE_INCREASE", "Tech pack", "+20%", "4%"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("rendered report lacks %q", s)
		}
	}

	if got := (Report{Day: utils.KeyFor(at)}).Summary(); got != "2024-01-10: no changes detected" {
		t.Errorf("empty summary: got %q", got)
	}
}
