package services

import (
	"fmt"
	"strings"

	"autoprice/models"
	"autoprice/utils"
)

// Finding is one data quality warning about a (vendor, market).
type Finding struct {
	Pair   models.Pair
	Check  string
	Detail string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s: %s", f.Pair, f.Check, f.Detail)
}

// Quality check names.
const (
	CheckEmpty           = "empty"
	CheckDuplicate       = "duplicate"
	CheckNegativePrice   = "negative_price"
	CheckNegativeOption  = "negative_option_price"
	CheckNewline         = "newline"
	CheckOptionBalance   = "option_balance"
	CheckIncludedPriced  = "included_option_priced"
	CheckNegativeRental  = "negative_rental"
	CheckPCPInstallments = "pcp_installments"
)

const duplicateSep = "#"

var (
	negativePriceExempt  = models.Pair{Vendor: models.VendorAudi, Market: models.MarketDE}
	negativeOptionExempt = models.Pair{Vendor: models.VendorBMW, Market: models.MarketUS}
	includedZeroVendors  = map[models.Vendor]bool{
		models.VendorTesla: true,
		models.VendorBMW:   true,
		models.VendorAudi:  true,
	}
)

// QualityChecker inspects saved snapshots. It never modifies them and its
// findings are warnings only.
type QualityChecker struct {
	logger *utils.Logger
}

func NewQualityChecker(logger *utils.Logger) *QualityChecker {
	return &QualityChecker{logger: logger}
}

func (q *QualityChecker) report(findings []Finding) []Finding {
	for _, f := range findings {
		q.logger.Warn("[dq] %s", f)
	}
	return findings
}

func hasNewline(values ...string) bool {
	for _, v := range values {
		if strings.ContainsAny(v, "\r\n") {
			return true
		}
	}
	return false
}

// CheckLines runs the line item checks for every enabled pair.
func (q *QualityChecker) CheckLines(lines []models.LineItem, enabled models.PairSet) []Finding {
	byPair := groupByPair(lines)
	var out []Finding
	for _, p := range enabled.Sorted() {
		out = append(out, checkLinePair(p, byPair[p])...)
	}
	return q.report(out)
}

func checkLinePair(p models.Pair, lines []models.LineItem) []Finding {
	if len(lines) == 0 {
		return []Finding{{Pair: p, Check: CheckEmpty, Detail: "no line items"}}
	}

	var out []Finding
	add := func(check, format string, args ...any) {
		out = append(out, Finding{Pair: p, Check: check, Detail: fmt.Sprintf(format, args...)})
	}

	counts := make(map[string]int)
	var order []string
	for _, l := range lines {
		key := strings.Join([]string{
			l.Series, l.ModelRangeCode, l.ModelRangeDescription, l.ModelCode,
			l.ModelDescription, l.LineCode, l.LineDescription,
		}, duplicateSep)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++

		if p != negativePriceExempt && (l.NetListPrice < 0 || l.GrossListPrice < 0) {
			add(CheckNegativePrice, "line %s/%s net %v gross %v", l.ModelCode, l.LineCode, l.NetListPrice, l.GrossListPrice)
		}
		if hasNewline(l.ModelRangeDescription, l.ModelDescription, l.LineDescription) {
			add(CheckNewline, "line %s/%s description", l.ModelCode, l.LineCode)
		}

		var included, excluded int
		for _, o := range l.LineOptions {
			if o.Included {
				included++
			} else {
				excluded++
			}
			if p != negativeOptionExempt && (o.NetListPrice < 0 || o.GrossListPrice < 0) {
				add(CheckNegativeOption, "line %s/%s option %s net %v gross %v", l.ModelCode, l.LineCode, o.Code, o.NetListPrice, o.GrossListPrice)
			}
			if hasNewline(o.Description) {
				add(CheckNewline, "line %s/%s option %s description", l.ModelCode, l.LineCode, o.Code)
			}
			if o.Included && o.GrossListPrice != 0 && includedZeroVendors[p.Vendor] && p.Market != models.MarketUS {
				add(CheckIncludedPriced, "line %s/%s included option %s costs %v", l.ModelCode, l.LineCode, o.Code, o.GrossListPrice)
			}
		}
		if included == 0 || excluded == 0 {
			add(CheckOptionBalance, "line %s/%s has %d included and %d extra-cost options", l.ModelCode, l.LineCode, included, excluded)
		}
	}

	for _, key := range order {
		if n := counts[key]; n > 1 {
			add(CheckDuplicate, "%s appears %d times", key, n)
		}
	}
	return out
}

// CheckFinance runs the finance offer checks for every enabled pair.
func (q *QualityChecker) CheckFinance(items []models.FinanceLineItem, enabled models.PairSet) []Finding {
	byPair := groupByPair(items)
	var out []Finding
	for _, p := range enabled.Sorted() {
		out = append(out, checkFinancePair(p, byPair[p])...)
	}
	return q.report(out)
}

func checkFinancePair(p models.Pair, items []models.FinanceLineItem) []Finding {
	if len(items) == 0 {
		return []Finding{{Pair: p, Check: CheckEmpty, Detail: "no finance offers"}}
	}

	var out []Finding
	add := func(check, format string, args ...any) {
		out = append(out, Finding{Pair: p, Check: check, Detail: fmt.Sprintf(format, args...)})
	}

	counts := make(map[string]int)
	var order []string
	for _, f := range items {
		key := strings.Join([]string{
			f.VehicleID, f.ContractType, fmt.Sprint(f.TermOfAgreement), models.FormatFloat(f.AnnualMileage),
		}, duplicateSep)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++

		if f.MonthlyRentalGLP < 0 || f.MonthlyRentalNLP < 0 {
			add(CheckNegativeRental, "%s %s glp %v nlp %v", f.VehicleID, f.ContractType, f.MonthlyRentalGLP, f.MonthlyRentalNLP)
		}
		if hasNewline(f.ModelRangeDescription, f.ModelDescription, f.LineDescription, f.OptionDescription) {
			add(CheckNewline, "%s description", f.VehicleID)
		}
		if !f.PCPInstallmentsValid() {
			add(CheckPCPInstallments, "%s has %d installments over a %d month term", f.VehicleID, f.NumberOfInstallments, f.TermOfAgreement)
		}
	}

	for _, key := range order {
		if n := counts[key]; n > 1 {
			add(CheckDuplicate, "%s appears %d times", key, n)
		}
	}
	return out
}
