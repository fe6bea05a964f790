package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"autoprice/models"
	"autoprice/storage"
	"autoprice/utils"
)

var (
	now       = time.Date(2024, 1, 10, 5, 30, 0, 0, time.UTC)
	todayKey  = utils.KeyFor(now)
	yesterday = todayKey.Previous()
)

func line(v models.Vendor, m models.Market, code string, net float64) models.LineItem {
	return models.LineItem{
		Vendor: v, Market: m, Series: "S", ModelRangeCode: "MR", ModelCode: "MC",
		LineCode: code, NetListPrice: net,
	}
}

func newRepo(t *testing.T) *storage.LineItemRepository {
	t.Helper()
	store := storage.NewStore(t.TempDir(), "prices", storage.FormatCSV, storage.LineItems, utils.NewDiscardLogger())
	repo, err := storage.NewLineItemRepository(store, yesterday)
	require.NoError(t, err)
	return repo
}

func seedYesterday(t *testing.T, repo *storage.LineItemRepository, rows []models.LineItem) {
	t.Helper()
	seen := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	for i := range rows {
		rows[i].LastScrapedOn = seen
		rows[i].IsCurrent = true
	}
	require.NoError(t, repo.Save(yesterday, rows))
	require.NoError(t, repo.Refresh(yesterday))
}

var ignoreVolatile = cmp.Options{
	cmpopts.IgnoreFields(models.LineItem{}, "RecordedAt", "IsCurrent"),
	cmpopts.SortSlices(func(a, b models.LineItem) bool {
		return a.PairKey().String()+a.LineCode < b.PairKey().String()+b.LineCode
	}),
	cmpopts.EquateEmpty(),
}

func TestFallbackWhenScraperFails(t *testing.T) {
	repo := newRepo(t)
	var previous []models.LineItem
	for i := 0; i < 200; i++ {
		previous = append(previous, line(models.VendorBMW, models.MarketUK, fmt.Sprintf("L%03d", i), float64(30000+i)))
	}
	seedYesterday(t, repo, append(previous, line(models.VendorBMW, models.MarketDE, "OTHER", 1)))

	reg := Registry[models.LineItem]{}
	reg.Register(models.VendorBMW, Func[models.LineItem](func(context.Context, models.Market) ([]models.LineItem, error) {
		return nil, errors.New("configurator down")
	}))

	enabled := map[models.Vendor][]models.Market{models.VendorBMW: {models.MarketUK}}
	o := NewOrchestrator(enabled, reg, repo, utils.FixedClock(now), utils.NewDiscardLogger())

	res, err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Fallbacks(), 1)

	got, err := repo.Load(todayKey)
	require.NoError(t, err)

	want, err := repo.ByMarket(yesterday, models.VendorBMW, models.MarketUK)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
		t.Errorf("fallback mismatch (-want +got):\n%s", diff)
	}
	for _, l := range got {
		if !l.RecordedAt.Equal(todayKey.Time()) {
			t.Fatalf("recorded_at: got %v, want today's key", l.RecordedAt)
		}
		if l.IsCurrent {
			t.Fatalf("fallback row %s marked current", l.LineCode)
		}
	}
}

func TestFallbackOnEmptyAndUnregistered(t *testing.T) {
	repo := newRepo(t)
	seedYesterday(t, repo, []models.LineItem{
		line(models.VendorTesla, models.MarketUS, "RWD", 38990),
		line(models.VendorAudi, models.MarketFR, "BASE", 41000),
	})

	reg := Registry[models.LineItem]{}
	reg.Register(models.VendorTesla, Func[models.LineItem](func(context.Context, models.Market) ([]models.LineItem, error) {
		return nil, nil
	}))

	enabled := map[models.Vendor][]models.Market{
		models.VendorTesla: {models.MarketUS},
		models.VendorAudi:  {models.MarketFR},
	}
	res, err := NewOrchestrator(enabled, reg, repo, utils.FixedClock(now), utils.NewDiscardLogger()).RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Fallbacks(), 2)
	require.Equal(t, 2, res.Total)

	var unregistered error
	for _, p := range res.Pairs {
		if p.Pair.Vendor == models.VendorAudi {
			unregistered = p.Err
		}
	}
	if !errors.Is(unregistered, ErrNoScraper) {
		t.Errorf("audi error: got %v, want ErrNoScraper", unregistered)
	}
}

func TestInvalidRowsAreDropped(t *testing.T) {
	repo := newRepo(t)
	reg := Registry[models.LineItem]{}
	reg.Register(models.VendorAudi, Func[models.LineItem](func(_ context.Context, m models.Market) ([]models.LineItem, error) {
		bad := line(models.VendorAudi, m, "", 1)
		return []models.LineItem{line(models.VendorAudi, m, "SE", 50000), bad}, nil
	}))

	enabled := map[models.Vendor][]models.Market{models.VendorAudi: {models.MarketDE}}
	res, err := NewOrchestrator(enabled, reg, repo, utils.FixedClock(now), utils.NewDiscardLogger()).RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, 1, res.Pairs[0].Dropped)

	got, err := repo.Load(todayKey)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if !got[0].IsCurrent || got[0].Currency != "EUR" {
		t.Errorf("fresh row not stamped: %+v", got[0])
	}
}

func TestRowsForOtherPairsAreDropped(t *testing.T) {
	repo := newRepo(t)
	reg := Registry[models.LineItem]{}
	reg.Register(models.VendorAudi, Func[models.LineItem](func(_ context.Context, m models.Market) ([]models.LineItem, error) {
		return []models.LineItem{
			line(models.VendorAudi, m, "SE", 50000),
			line(models.VendorAudi, models.MarketFR, "FR", 51000),
			line(models.VendorBMW, m, "BMW", 52000),
		}, nil
	}))

	enabled := map[models.Vendor][]models.Market{models.VendorAudi: {models.MarketDE}}
	res, err := NewOrchestrator(enabled, reg, repo, utils.FixedClock(now), utils.NewDiscardLogger()).RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Pairs[0].Dropped)

	got, err := repo.Load(todayKey)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if got[0].PairKey() != (models.Pair{Vendor: models.VendorAudi, Market: models.MarketDE}) || got[0].LineCode != "SE" {
		t.Errorf("got %s %s, want audi/DE SE", got[0].PairKey(), got[0].LineCode)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	seedYesterday(t, repo, []models.LineItem{line(models.VendorBMW, models.MarketUK, "FB", 1)})

	reg := Registry[models.LineItem]{}
	reg.Register(models.VendorAudi, Func[models.LineItem](func(_ context.Context, m models.Market) ([]models.LineItem, error) {
		return []models.LineItem{line(models.VendorAudi, m, "SE", 50000), line(models.VendorAudi, m, "SP", 55000)}, nil
	}))
	reg.Register(models.VendorBMW, Func[models.LineItem](func(context.Context, models.Market) ([]models.LineItem, error) {
		return nil, errors.New("timeout")
	}))
	enabled := map[models.Vendor][]models.Market{
		models.VendorAudi: {models.MarketDE, models.MarketFR},
		models.VendorBMW:  {models.MarketUK},
	}
	o := NewOrchestrator(enabled, reg, repo, utils.FixedClock(now), utils.NewDiscardLogger())

	first, err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.False(t, first.Merged)
	snap1, err := repo.Load(todayKey)
	require.NoError(t, err)

	second, err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.True(t, second.Merged)
	snap2, err := repo.Load(todayKey)
	require.NoError(t, err)

	require.Len(t, snap1, 5)
	if diff := cmp.Diff(snap1, snap2, ignoreVolatile); diff != "" {
		t.Errorf("second run changed the snapshot (-first +second):\n%s", diff)
	}
}

func TestRerunKeepsPairsNotEnabled(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Save(todayKey, []models.LineItem{
		line(models.VendorTesla, models.MarketUS, "RWD", 38990),
		line(models.VendorAudi, models.MarketDE, "OLD", 1),
	}))

	reg := Registry[models.LineItem]{}
	reg.Register(models.VendorAudi, Func[models.LineItem](func(_ context.Context, m models.Market) ([]models.LineItem, error) {
		return []models.LineItem{line(models.VendorAudi, m, "SE", 50000)}, nil
	}))
	enabled := map[models.Vendor][]models.Market{models.VendorAudi: {models.MarketDE}}
	_, err := NewOrchestrator(enabled, reg, repo, utils.FixedClock(now), utils.NewDiscardLogger()).RunAll(context.Background())
	require.NoError(t, err)

	got, err := repo.Load(todayKey)
	require.NoError(t, err)
	codes := map[string]bool{}
	for _, l := range got {
		codes[l.LineCode] = true
	}
	if len(got) != 2 || !codes["RWD"] || !codes["SE"] || codes["OLD"] {
		t.Errorf("merged snapshot: got %v", codes)
	}
}

func TestCancelledRunWritesNothing(t *testing.T) {
	repo := newRepo(t)
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	reg := Registry[models.LineItem]{}
	reg.Register(models.VendorAudi, Func[models.LineItem](func(ctx context.Context, m models.Market) ([]models.LineItem, error) {
		if started.Add(1) == 1 {
			cancel()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	enabled := map[models.Vendor][]models.Market{models.VendorAudi: {models.MarketDE, models.MarketFR}}

	_, err := NewOrchestrator(enabled, reg, repo, utils.FixedClock(now), utils.NewDiscardLogger()).RunAll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if repo.Exists(todayKey) {
		t.Error("a cancelled run must not write today's snapshot")
	}
}
