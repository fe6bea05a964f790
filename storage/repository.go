package storage

import (
	"strings"
	"sync"

	"autoprice/models"
	"autoprice/utils"
)

// Repository is a dated store that keeps one day, normally yesterday, in
// memory so filtered loads do not re-read the file.
type Repository[T Record] struct {
	*Store[T]

	mu       sync.RWMutex
	cacheKey utils.DateKey
	cache    []T
}

// NewRepository creates a repository and loads the cached day.
func NewRepository[T Record](store *Store[T], cached utils.DateKey) (*Repository[T], error) {
	r := &Repository[T]{Store: store}
	if err := r.Refresh(cached); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh replaces the cached snapshot with the given day.
func (r *Repository[T]) Refresh(key utils.DateKey) error {
	records, err := r.Store.Load(key)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cacheKey, r.cache = key, records
	r.mu.Unlock()
	r.logger.Debug("Cached %d %s rows for %s", len(records), r.family, key)
	return nil
}

// CachedKey returns the day currently held in memory.
func (r *Repository[T]) CachedKey() utils.DateKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cacheKey
}

// Where returns the day's records matching keep, served from the cache when
// key is the cached day.
func (r *Repository[T]) Where(key utils.DateKey, keep func(T) bool) ([]T, error) {
	r.mu.RLock()
	if key == r.cacheKey {
		out := filter(r.cache, keep)
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()
	return r.Store.Filter(key, keep)
}

// Snapshot returns all of the day's records.
func (r *Repository[T]) Snapshot(key utils.DateKey) ([]T, error) {
	return r.Where(key, func(T) bool { return true })
}

// ByMarket returns the day's records for one (vendor, market).
func (r *Repository[T]) ByMarket(key utils.DateKey, vendor models.Vendor, market models.Market) ([]T, error) {
	want := models.Pair{Vendor: vendor, Market: market}
	return r.Where(key, func(rec T) bool { return rec.PairKey() == want })
}

// LineItemRepository adds line-specific filtered loads.
type LineItemRepository struct {
	*Repository[models.LineItem]
}

// NewLineItemRepository creates the prices repository with the given day cached.
func NewLineItemRepository(store *Store[models.LineItem], cached utils.DateKey) (*LineItemRepository, error) {
	repo, err := NewRepository(store, cached)
	if err != nil {
		return nil, err
	}
	return &LineItemRepository{Repository: repo}, nil
}

func (r *LineItemRepository) pair(key utils.DateKey, v models.Vendor, m models.Market, keep func(models.LineItem) bool) ([]models.LineItem, error) {
	return r.Where(key, func(l models.LineItem) bool {
		return l.Vendor == v && l.Market == m && keep(l)
	})
}

func (r *LineItemRepository) BySeries(key utils.DateKey, v models.Vendor, m models.Market, series string) ([]models.LineItem, error) {
	return r.pair(key, v, m, func(l models.LineItem) bool { return l.Series == series })
}

func (r *LineItemRepository) ByModelRangeCode(key utils.DateKey, v models.Vendor, m models.Market, code string) ([]models.LineItem, error) {
	return r.pair(key, v, m, func(l models.LineItem) bool { return l.ModelRangeCode == code })
}

// ByModelRangeDescription matches the description case-insensitively.
func (r *LineItemRepository) ByModelRangeDescription(key utils.DateKey, v models.Vendor, m models.Market, desc string) ([]models.LineItem, error) {
	return r.pair(key, v, m, func(l models.LineItem) bool { return strings.EqualFold(l.ModelRangeDescription, desc) })
}

func (r *LineItemRepository) ByLineCode(key utils.DateKey, v models.Vendor, m models.Market, lineCode string) ([]models.LineItem, error) {
	return r.pair(key, v, m, func(l models.LineItem) bool { return l.LineCode == lineCode })
}

func (r *LineItemRepository) ByModelCode(key utils.DateKey, v models.Vendor, m models.Market, modelCode string) ([]models.LineItem, error) {
	return r.pair(key, v, m, func(l models.LineItem) bool { return l.ModelCode == modelCode })
}

// ByTrimLine returns the rows of one trim: a model code and line code pair.
func (r *LineItemRepository) ByTrimLine(key utils.DateKey, v models.Vendor, m models.Market, modelCode, lineCode string) ([]models.LineItem, error) {
	return r.pair(key, v, m, func(l models.LineItem) bool {
		return l.ModelCode == modelCode && l.LineCode == lineCode
	})
}

// LineOptionsForTrimLine returns the options of a trim as last recorded.
func (r *LineItemRepository) LineOptionsForTrimLine(key utils.DateKey, v models.Vendor, m models.Market, modelCode, lineCode string) ([]models.LineOption, error) {
	lines, err := r.ByTrimLine(key, v, m, modelCode, lineCode)
	if err != nil || len(lines) == 0 {
		return nil, err
	}
	return lines[0].Clone().LineOptions, nil
}

// FinanceRepository holds finance offers.
type FinanceRepository struct {
	*Repository[models.FinanceLineItem]
}

func NewFinanceRepository(store *Store[models.FinanceLineItem], cached utils.DateKey) (*FinanceRepository, error) {
	repo, err := NewRepository(store, cached)
	if err != nil {
		return nil, err
	}
	return &FinanceRepository{Repository: repo}, nil
}

func (r *FinanceRepository) ByModelRangeCode(key utils.DateKey, v models.Vendor, m models.Market, code string) ([]models.FinanceLineItem, error) {
	return r.Where(key, func(f models.FinanceLineItem) bool {
		return f.Vendor == v && f.Market == m && f.ModelRangeCode == code
	})
}

// ByContractType returns the day's offers of one contract type.
func (r *FinanceRepository) ByContractType(key utils.DateKey, contract string) ([]models.FinanceLineItem, error) {
	return r.Where(key, func(f models.FinanceLineItem) bool { return f.ContractType == contract })
}
