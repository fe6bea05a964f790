package configurator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoprice/models"
	"autoprice/utils"
)

var testNow = time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)

func TestExtractPayload(t *testing.T) {
	page := []byte(`<html><body><script id="data" type="application/json">{"model_ranges":[]}</script></body></html>`)

	got, err := ExtractPayload(page, "script#data")
	require.NoError(t, err)
	if string(got) != `{"model_ranges":[]}` {
		t.Errorf("got %s", got)
	}

	if _, err := ExtractPayload(page, "script#missing"); err == nil {
		t.Error("want error for a selector that matches nothing")
	}

	raw, err := ExtractPayload([]byte("{}"), "")
	require.NoError(t, err)
	if string(raw) != "{}" {
		t.Errorf("empty selector: got %s", raw)
	}
}

func TestBrowserExecPath(t *testing.T) {
	t.Setenv("CHROME_BIN", "/usr/local/bin/chrome")
	if got := NewBrowserFetcher("/opt/chrome/chrome", utils.NewDiscardLogger()).execPath; got != "/opt/chrome/chrome" {
		t.Errorf("configured path: got %q", got)
	}
	if got := NewBrowserFetcher("", utils.NewDiscardLogger()).execPath; got != "/usr/local/bin/chrome" {
		t.Errorf("CHROME_BIN: got %q", got)
	}
	t.Setenv("CHROME_BIN", "")
	if got := NewBrowserFetcher("", utils.NewDiscardLogger()).execPath; got != "" {
		t.Errorf("no path: got %q, want chromedp's lookup", got)
	}
}

func TestSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		src     Source
		wantErr bool
	}{
		{"ok", Source{IndexURL: "http://x/{market}", ModelRangeURL: "http://x/{market}/{model_range}"}, false},
		{"missing index", Source{ModelRangeURL: "http://x/{model_range}"}, true},
		{"no placeholder", Source{IndexURL: "http://x", ModelRangeURL: "http://x/range"}, true},
		{"bad fetcher", Source{IndexURL: "http://x", ModelRangeURL: "http://x/{model_range}", Fetcher: "ftp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.src.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandURL(t *testing.T) {
	src := Source{IndexURL: "https://cfg/{market_lower}/index", ModelRangeURL: "https://cfg/{market}/{model_range}"}
	if got := src.indexURL(models.MarketUK); got != "https://cfg/uk/index" {
		t.Errorf("index: got %q", got)
	}
	if got := src.modelRangeURL(models.MarketDE, "A4 Avant"); got != "https://cfg/DE/A4%20Avant" {
		t.Errorf("model range: got %q", got)
	}
}

type fakeLines struct {
	ranges map[string][]models.LineItem
	trims  map[Trim][]models.LineItem

	mu   sync.Mutex
	keys []utils.DateKey
}

func (f *fakeLines) record(key utils.DateKey) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
}

func (f *fakeLines) ByModelRangeCode(key utils.DateKey, _ models.Vendor, _ models.Market, code string) ([]models.LineItem, error) {
	f.record(key)
	return f.ranges[code], nil
}

func (f *fakeLines) ByTrimLine(key utils.DateKey, _ models.Vendor, _ models.Market, modelCode, lineCode string) ([]models.LineItem, error) {
	f.record(key)
	return f.trims[Trim{ModelCode: modelCode, LineCode: lineCode}], nil
}

const a4Payload = `{
  "series": "A",
  "models": [{
    "code": "8WC", "description": "A4  35 TFSI",
    "lines": [
      {"code": "SE", "description": "Sport", "price": "£39,995.00", "kw": 110, "hp": 150,
       "options": [{"code": "PDC", "description": "Parking aid", "price": 600, "included": false}],
       "finance": [{"contract_type": "pcp", "term": 48, "installments": 47, "monthly_rental": 493, "otr": 65000}]},
      {"code": "S", "description": "S line", "price": null}
    ]
  }]
}`

func newServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		switch r.URL.Path {
		case "/UK/index":
			fmt.Fprint(w, `{"model_ranges": [
				{"code": "A4", "description": "A4 Saloon", "series": "A"},
				{"code": "A5", "description": "A5 Coupe", "series": "A"}]}`)
		case "/UK/range/A4":
			fmt.Fprint(w, a4Payload)
		default:
			http.Error(w, "down", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSource(url string) Source {
	return Source{
		Vendor:        models.VendorAudi,
		IndexURL:      url + "/{market}/index",
		ModelRangeURL: url + "/{market}/range/{model_range}",
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
		Timeout:       5 * time.Second,
	}
}

func TestScrapeLinesFallsBackPerModelRangeAndTrim(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, &calls)

	seen := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	prev := func(mr, model, line string) models.LineItem {
		return models.LineItem{
			Vendor: models.VendorAudi, Market: models.MarketUK, Series: "A",
			ModelRangeCode: mr, ModelCode: model, LineCode: line,
			NetListPrice: 1, LastScrapedOn: seen, IsCurrent: true,
		}
	}
	fb := &fakeLines{
		ranges: map[string][]models.LineItem{"A5": {prev("A5", "F5", "BASE"), prev("A5", "F5", "SPORT")}},
		trims:  map[Trim][]models.LineItem{{ModelCode: "8WC", LineCode: "S"}: {prev("A4", "8WC", "S")}},
	}

	a := New(testSource(srv.URL), utils.NewDiscardLogger(),
		WithLineFallback(fb), WithClock(utils.FixedClock(testNow)))
	defer a.Close()

	got, err := a.Lines().Scrape(context.Background(), models.MarketUK)
	require.NoError(t, err)

	codes := make([]string, 0, len(got))
	byCode := map[string]models.LineItem{}
	for _, l := range got {
		codes = append(codes, l.ModelRangeCode+"/"+l.LineCode)
		byCode[l.LineCode] = l
	}
	sort.Strings(codes)
	want := []string{"A4/S", "A4/SE", "A5/BASE", "A5/SPORT"}
	if strings.Join(codes, ",") != strings.Join(want, ",") {
		t.Fatalf("lines: got %v, want %v", codes, want)
	}

	se := byCode["SE"]
	if se.GrossListPrice != 39995 || se.NetListPrice != models.NetPrice(models.MarketUK, 39995) {
		t.Errorf("SE prices: got gross %v net %v", se.GrossListPrice, se.NetListPrice)
	}
	if se.ModelDescription != "A4 35 TFSI" || se.ModelRangeDescription != "A4 Saloon" {
		t.Errorf("SE descriptions: got %q / %q", se.ModelDescription, se.ModelRangeDescription)
	}
	require.Len(t, se.LineOptions, 1)
	if se.LineOptions[0].NetListPrice != 500 {
		t.Errorf("option net: got %v, want 500", se.LineOptions[0].NetListPrice)
	}

	for _, code := range []string{"S", "BASE", "SPORT"} {
		l := byCode[code]
		if l.IsCurrent || !l.RecordedAt.Equal(testNow) {
			t.Errorf("fallback %s: got current=%v recorded=%v", code, l.IsCurrent, l.RecordedAt)
		}
	}
	for _, k := range fb.keys {
		if k != utils.KeyFor(testNow).Previous() {
			t.Errorf("fallback read %s, want yesterday", k)
		}
	}
	// index + A4 + A5 retried twice
	if n := calls.Load(); n != 4 {
		t.Errorf("requests: got %d, want 4", n)
	}
}

func TestScrapeLinesIndexFailureIsAnError(t *testing.T) {
	srv := newServer(t, nil)
	a := New(testSource(srv.URL), utils.NewDiscardLogger(), WithClock(utils.FixedClock(testNow)))
	defer a.Close()

	if _, err := a.ScrapeLines(context.Background(), models.MarketDE); err == nil {
		t.Fatal("want error when the index cannot be fetched")
	}
}

func TestE2ECapsModelRanges(t *testing.T) {
	var ranges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/US/index" {
			var entries []string
			for i := 0; i < 30; i++ {
				entries = append(entries, fmt.Sprintf(`{"code": "M%02d"}`, i))
			}
			fmt.Fprintf(w, `{"model_ranges": [%s]}`, strings.Join(entries, ","))
			return
		}
		ranges.Add(1)
		code := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		fmt.Fprintf(w, `{"models": [{"code": "X", "lines": [{"code": %q, "price": 40000}]}]}`, code)
	}))
	defer srv.Close()

	src := testSource(srv.URL)
	src.Vendor = models.VendorTesla
	src.E2E = true
	src.RateLimitMs = 1
	a := New(src, utils.NewDiscardLogger())
	defer a.Close()

	got, err := a.ScrapeLines(context.Background(), models.MarketUS)
	require.NoError(t, err)
	if len(got) != E2EModelRangeCap || int(ranges.Load()) != E2EModelRangeCap {
		t.Errorf("got %d lines from %d requests, want %d", len(got), ranges.Load(), E2EModelRangeCap)
	}
	for _, l := range got {
		if l.Series != l.ModelRangeCode {
			t.Errorf("series defaults to model range code: got %q for %q", l.Series, l.ModelRangeCode)
		}
		if l.NetListPrice != 40000 {
			t.Errorf("US net price: got %v, want 40000", l.NetListPrice)
		}
	}
}

func TestScrapeFinance(t *testing.T) {
	srv := newServer(t, nil)
	a := New(testSource(srv.URL), utils.NewDiscardLogger(), WithClock(utils.FixedClock(testNow)))
	defer a.Close()

	got, err := a.Finance().Scrape(context.Background(), models.MarketUK)
	require.NoError(t, err)
	require.Len(t, got, 1)

	f := got[0]
	if f.ContractType != models.ContractPCP || f.MonthlyRentalGLP != 493 || f.OTR != 65000 {
		t.Errorf("offer: got %+v", f)
	}
	wantID := models.NewVehicleID(models.VendorAudi, models.MarketUK, "A", "A4 Saloon", "A4 35 TFSI", "Sport")
	if f.VehicleID != wantID {
		t.Errorf("vehicle id: got %q, want %q", f.VehicleID, wantID)
	}
	if !f.PCPInstallmentsValid() {
		t.Error("47 of 48 installments should be valid")
	}
}

func TestCancelledScrapeReturnsContextError(t *testing.T) {
	srv := newServer(t, nil)
	a := New(testSource(srv.URL), utils.NewDiscardLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.ScrapeLines(ctx, models.MarketUK); err == nil {
		t.Fatal("want error for a cancelled context")
	}
}

func TestParserRegistry(t *testing.T) {
	if _, ok := ParserFor(models.VendorBMW).(CanonicalParser); !ok {
		t.Fatal("unregistered vendor should get the canonical parser")
	}
	custom := CanonicalParser{Vendor: models.VendorMercedesBenz}
	RegisterParser(models.VendorMercedesBenz, custom)
	if got := ParserFor(models.VendorMercedesBenz); got != Parser(custom) {
		t.Errorf("got %#v, want registered parser", got)
	}
}

func TestUniqueRanges(t *testing.T) {
	got := uniqueRanges([]ModelRange{
		{Code: "A4", Description: "A4 Saloon"},
		{Code: "A5", Description: "A5 Coupe"},
		{Code: "A4", Description: "A4 Avant"},
	})
	require.Len(t, got, 2)
	if got[0].Description != "A4 Saloon" || got[1].Code != "A5" {
		t.Errorf("got %+v", got)
	}
}
