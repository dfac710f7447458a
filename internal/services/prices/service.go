// Package prices resolves securities to vendor symbols and fills the
// price cache with normalized EUR closes, fetching only missing dates.
package prices

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/deltacache"
	"github.com/mbruckner/depotsync/internal/interfaces"
	"github.com/mbruckner/depotsync/internal/models"
)

// Service implements interfaces.PriceService
type Service struct {
	storage interfaces.StorageManager
	client  interfaces.MarketDataClient
	pacer   *common.Pacer
	logger  *common.Logger
	workers int

	// fxMu serializes FX cache access; securities sharing a currency can
	// land on different workers.
	fxMu sync.Mutex
}

// NewService creates a new price service
func NewService(storage interfaces.StorageManager, client interfaces.MarketDataClient, pacer *common.Pacer, logger *common.Logger, workers int) *Service {
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		storage: storage,
		client:  client,
		pacer:   pacer,
		logger:  logger,
		workers: workers,
	}
}

type securityResult struct {
	securityID string
	prices     map[string]float64
	err        error
}

// PricesFor ensures EUR prices exist for the given securities and dates.
// Securities are fanned out across a bounded worker pool; each security is
// owned by exactly one worker so its cache file is written by one goroutine.
// Returns prices per security per date; a PartialDataError accompanies a
// usable but incomplete result.
func (s *Service) PricesFor(ctx context.Context, securityIDs []string, dates []time.Time) (map[string]map[string]float64, error) {
	start := time.Now()
	implied := s.impliedPrices(ctx)

	jobs := make(chan string)
	results := make(chan securityResult)

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				prices, err := s.fetchSecurity(ctx, id, dates, implied[id])
				results <- securityResult{securityID: id, prices: prices, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range securityIDs {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]map[string]float64, len(securityIDs))
	var missing []string
	for res := range results {
		if res.err != nil {
			if common.IsPermanentLookup(res.err) {
				s.logger.Debug().Str("security", res.securityID).Err(res.err).Msg("No prices: unresolvable security")
			} else {
				s.logger.Warn().Str("security", res.securityID).Err(res.err).Msg("Price fetch failed")
			}
			missing = append(missing, res.securityID)
			continue
		}
		out[res.securityID] = res.prices
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("securities", len(securityIDs)).
		Int("covered", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Price fill complete")

	if len(missing) > 0 {
		sort.Strings(missing)
		return out, &common.PartialDataError{
			Covered:   len(out),
			Requested: len(securityIDs),
			Missing:   missing,
		}
	}
	return out, nil
}

// fetchSecurity fills the price cache for one security and returns the
// prices serving the requested dates.
func (s *Service) fetchSecurity(ctx context.Context, securityID string, dates []time.Time, impliedPrice float64) (map[string]float64, error) {
	res, err := s.ResolveSymbol(ctx, securityID)
	if err != nil {
		return nil, err
	}

	cache, cacheErr := s.storage.PriceStorage().GetSecurityPrices(ctx, securityID)
	if cacheErr != nil {
		cache = &models.SecurityPrices{
			SecurityID: securityID,
			Symbol:     res.Symbol,
			Currency:   res.Currency,
			Prices:     make(map[string]float64),
		}
	}
	if cache.Prices == nil {
		cache.Prices = make(map[string]float64)
	}

	missing := deltacache.MissingDates(cache.Prices, dates)
	// Today's close is usually absent until the session ends. Once this
	// security was refreshed recently, a missing today is not worth a call;
	// NearestPrior serves the last available close instead.
	if len(missing) > 0 && common.IsFresh(cache.UpdatedAt, common.FreshnessTodayPrice) {
		today := time.Now().UTC().Truncate(24 * time.Hour)
		kept := make([]time.Time, 0, len(missing))
		for _, d := range missing {
			if d.Before(today) {
				kept = append(kept, d)
			}
		}
		missing = kept
	}
	if len(missing) > 0 {
		runs := deltacache.CoalesceRuns(missing)
		fetched := 0
		for _, run := range runs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			padded := run.Padded()
			points, err := common.CallWithRetry(ctx, s.pacer, "eod "+res.Symbol, func(ctx context.Context) ([]models.PricePoint, error) {
				return s.client.GetEOD(ctx, res.Symbol, interfaces.WithDateRange(padded.From, padded.To))
			})
			if err != nil {
				return nil, err
			}
			n, err := s.normalizeInto(ctx, cache, points, res.Currency, impliedPrice)
			if err != nil {
				return nil, err
			}
			fetched += n
		}
		if fetched > 0 {
			cache.Symbol = res.Symbol
			if err := s.storage.PriceStorage().SaveSecurityPrices(ctx, cache); err != nil {
				return nil, err
			}
		}
	}

	out := make(map[string]float64, len(dates))
	for _, d := range dates {
		if v, ok := deltacache.NearestPrior(cache.Prices, d, deltacache.PriorTolerance); ok {
			out[deltacache.DateKey(d)] = v
		}
	}
	return out, nil
}

// normalizeInto converts fetched points to EUR and merges them into the
// cache. Minor-unit correction runs before FX conversion.
func (s *Service) normalizeInto(ctx context.Context, cache *models.SecurityPrices, points []models.PricePoint, fallbackCurrency string, impliedPrice float64) (int, error) {
	added := 0
	for _, p := range points {
		currency := p.Currency
		if currency == "" {
			currency = fallbackCurrency
		}

		price, currency := CorrectMinorUnit(p.Close, currency, impliedPrice)

		pair, invert := PairFor(currency)
		if pair != "" {
			rates, err := s.fxRatesFor(ctx, pair, p.Date)
			if err != nil {
				return added, err
			}
			rate, ok := deltacache.NearestPrior(rates, p.Date, deltacache.PriorTolerance)
			if !ok {
				continue
			}
			price = ConvertToEUR(price, rate, invert)
		}

		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		cache.Prices[deltacache.DateKey(p.Date)] = price
		added++
	}
	return added, nil
}

// fxRatesFor returns cached rates for a pair, fetching around the given
// date when the cache cannot serve it.
func (s *Service) fxRatesFor(ctx context.Context, pair string, date time.Time) (map[string]float64, error) {
	s.fxMu.Lock()
	defer s.fxMu.Unlock()

	cache, err := s.storage.PriceStorage().GetFXRates(ctx, pair)
	if err != nil {
		cache = &models.FXRates{Pair: pair, Rates: make(map[string]float64)}
	}
	if cache.Rates == nil {
		cache.Rates = make(map[string]float64)
	}

	if _, ok := deltacache.NearestPrior(cache.Rates, date, deltacache.PriorTolerance); ok {
		// Historical dates never change; a current date served from a prior
		// rate is refetched once the cache goes stale.
		today := time.Now().UTC().Truncate(24 * time.Hour)
		if date.Before(today) || common.IsFresh(cache.UpdatedAt, common.FreshnessFXRates) {
			return cache.Rates, nil
		}
	}

	run := deltacache.Run{From: date, To: date}.Padded()
	fetched, err := common.CallWithRetry(ctx, s.pacer, "fx "+pair, func(ctx context.Context) (map[string]float64, error) {
		return s.client.GetFXRates(ctx, pair, run.From, run.To)
	})
	if err != nil {
		return nil, err
	}
	for k, v := range fetched {
		cache.Rates[k] = v
	}
	if err := s.storage.PriceStorage().SaveFXRates(ctx, cache); err != nil {
		return nil, err
	}

	return cache.Rates, nil
}

// impliedPrices derives per-security execution prices from the cached
// transactions. Used by the minor-unit plausibility check.
func (s *Service) impliedPrices(ctx context.Context) map[string]float64 {
	out := make(map[string]float64)
	cache, err := s.storage.TransactionStorage().GetTransactionCache(ctx)
	if err != nil {
		return out
	}
	// Transactions are newest first; keep the most recent usable price.
	for _, tx := range cache.Transactions {
		if tx.SecurityID == "" {
			continue
		}
		if _, ok := out[tx.SecurityID]; ok {
			continue
		}
		if tx.AvgPrice > 0 {
			out[tx.SecurityID] = tx.AvgPrice
		} else if tx.Shares > 0 && tx.Amount != 0 {
			out[tx.SecurityID] = math.Abs(tx.Amount) / tx.Shares
		}
	}
	return out
}

// Ensure Service implements PriceService
var _ interfaces.PriceService = (*Service)(nil)
