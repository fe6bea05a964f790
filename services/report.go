package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"autoprice/models"
	"autoprice/utils"
)

// Report is a human readable view of one day's changelogs.
type Report struct {
	Day         utils.DateKey
	Differences []models.DifferenceItem
	Prices      []models.PriceDifferenceItem
	Options     []models.OptionPriceDifferenceItem
	Finance     []models.DifferenceFinanceItem
}

// ReasonCount is the number of differences carrying one reason.
type ReasonCount struct {
	Reason string
	Count  int
}

// ReasonCounts tallies every changelog by reason, most frequent first.
func (r Report) ReasonCounts() []ReasonCount {
	counts := make(map[string]int)
	for _, d := range r.Differences {
		counts[string(d.Reason())]++
	}
	for _, f := range r.Finance {
		counts[string(f.Reason)]++
	}

	out := make([]ReasonCount, 0, len(counts))
	for reason, n := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// Summary is the one-paragraph digest embedded in notifications.
func (r Report) Summary() string {
	if len(r.Differences) == 0 && len(r.Finance) == 0 {
		return fmt.Sprintf("%s: no changes detected", r.Day.Day())
	}
	var parts []string
	for _, rc := range r.ReasonCounts() {
		parts = append(parts, fmt.Sprintf("%s %d", rc.Reason, rc.Count))
	}
	return fmt.Sprintf("%s: %d differences (%s), %d price changes, %d option price changes",
		r.Day.Day(), len(r.Differences)+len(r.Finance), strings.Join(parts, ", "), len(r.Prices), len(r.Options))
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

// Render writes the report's tables to w.
func (r Report) Render(w io.Writer) {
	counts := newTable("Differences by reason " + r.Day.Day())
	counts.AppendHeader(table.Row{"Reason", "Count"})
	for _, rc := range r.ReasonCounts() {
		counts.AppendRow(table.Row{rc.Reason, rc.Count})
	}
	fmt.Fprintln(w, counts.Render())

	if len(r.Prices) > 0 {
		prices := newTable("Price changes")
		prices.AppendHeader(table.Row{"Vendor", "Market", "Model range", "Line", "Reason", "Old", "New", "Change", "Option"})
		for _, p := range r.Prices {
			prices.AppendRow(table.Row{
				p.Vendor, p.Market, truncate(p.ModelRangeDescription, 28), truncate(p.LineDescription, 28),
				p.Reason, money(p.OldPrice, p.Currency), money(p.NewPrice, p.Currency), p.PercChange, p.OptionCode,
			})
		}
		fmt.Fprintln(w, prices.Render())
	}

	if len(r.Options) > 0 {
		opts := newTable("Option price changes")
		opts.AppendHeader(table.Row{"Vendor", "Market", "Option", "Model ranges", "Old", "New", "Change"})
		for _, o := range r.Options {
			opts.AppendRow(table.Row{
				o.Vendor, o.Market, truncate(o.OptionDescription, 32), truncate(o.ModelRangeDescription, 40),
				money(o.OldPrice, o.Currency), money(o.NewPrice, o.Currency), fmt.Sprintf("%+d%%", o.PercChange),
			})
		}
		fmt.Fprintln(w, opts.Render())
	}

	if len(r.Finance) > 0 {
		fin := newTable("PCP changes")
		fin.AppendHeader(table.Row{"Vehicle", "Model range", "Line", "Reason", "Old", "New"})
		for _, f := range r.Finance {
			fin.AppendRow(table.Row{f.VehicleID, truncate(f.ModelRangeDescription, 28), truncate(f.LineDescription, 28), f.Reason, f.OldValue, f.NewValue})
		}
		fmt.Fprintln(w, fin.Render())
	}
}

// RenderQuality writes quality findings and rule results to w.
func RenderQuality(w io.Writer, findings []Finding, results []RuleResult) {
	t := newTable(fmt.Sprintf("Data quality: %d findings", len(findings)))
	t.AppendHeader(table.Row{"Pair", "Check", "Detail"})
	for _, f := range findings {
		t.AppendRow(table.Row{f.Pair.String(), f.Check, truncate(f.Detail, 80)})
	}
	fmt.Fprintln(w, t.Render())

	if len(results) == 0 {
		return
	}
	rt := newTable("Rules")
	rt.AppendHeader(table.Row{"Rule", "Pair", "Rows", "Violations", "Pass %"})
	for _, r := range results {
		rt.AppendRow(table.Row{r.Rule, r.Pair.String(), r.Rows, r.Violations, r.SuccessPct.StringFixed(2)})
	}
	fmt.Fprintln(w, rt.Render())
}

func money(v float64, currency string) string {
	return fmt.Sprintf("%.2f %s", v, currency)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
