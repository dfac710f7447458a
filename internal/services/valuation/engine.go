// Package valuation reconstructs the dated portfolio value series with
// invested capital, TWR and drawdown overlays.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/deltacache"
	"github.com/mbruckner/depotsync/internal/interfaces"
	"github.com/mbruckner/depotsync/internal/models"
	"github.com/mbruckner/depotsync/internal/services/holdings"
)

// Service implements interfaces.ValuationService
type Service struct {
	storage      interfaces.StorageManager
	broker       interfaces.BrokerageClient
	txsync       interfaces.TransactionSyncService
	prices       interfaces.PriceService
	pacer        *common.Pacer
	logger       *common.Logger
	renderCharts bool
}

// NewService creates a new valuation service
func NewService(storage interfaces.StorageManager, broker interfaces.BrokerageClient, txsync interfaces.TransactionSyncService, prices interfaces.PriceService, pacer *common.Pacer, logger *common.Logger, renderCharts bool) *Service {
	return &Service{
		storage:      storage,
		broker:       broker,
		txsync:       txsync,
		prices:       prices,
		pacer:        pacer,
		logger:       logger,
		renderCharts: renderCharts,
	}
}

// BuildHistory reconstructs the full valuation series and persists it.
// The broker's aggregate history is the primary source; when it is
// unavailable the series is rebuilt from holdings and historical prices.
// A PartialDataError accompanies a usable result with gaps.
func (s *Service) BuildHistory(ctx context.Context, full bool) (*models.HistoryResult, error) {
	start := time.Now()

	transactions, err := s.txsync.SyncTransactions(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("transaction sync: %w", err)
	}
	if len(transactions) == 0 {
		return nil, &common.StructuralError{Source: "timeline", Detail: "no transactions to reconstruct from"}
	}

	grid := buildDateGrid(transactions)
	invested := s.txsync.InvestedSeries(transactions, grid)

	values, source, partialErr := s.valueSeries(ctx, transactions, grid, invested)
	if partialErr != nil {
		var partial *common.PartialDataError
		if !errors.As(partialErr, &partial) {
			return nil, partialErr
		}
	}

	result := &models.HistoryResult{
		Dates:    make([]string, len(grid)),
		Values:   values,
		Invested: invested,
		TWR:      TWRSeries(values, invested),
		Drawdown: DrawdownSeries(values),
		Source:   source,
		Partial:  partialErr != nil,
	}
	for i, d := range grid {
		result.Dates[i] = deltacache.DateKey(d)
	}

	if err := s.storage.ValuationStorage().SaveHistory(ctx, result); err != nil {
		return nil, err
	}

	if s.renderCharts {
		if err := s.renderChart(result); err != nil {
			s.logger.Warn().Err(err).Msg("Chart render failed")
		}
	}

	s.logger.Info().
		Int("points", len(grid)).
		Str("source", source).
		Bool("partial", result.Partial).
		Dur("elapsed", time.Since(start)).
		Msg("Portfolio history rebuilt")

	return result, partialErr
}

// valueSeries produces the portfolio value at each grid date.
func (s *Service) valueSeries(ctx context.Context, transactions []models.ClassifiedTransaction, grid []time.Time, invested []float64) ([]float64, string, error) {
	aggregate, err := common.CallWithRetry(ctx, s.pacer, "aggregate history", func(ctx context.Context) (*models.AggregateHistory, error) {
		return s.broker.GetAggregateHistory(ctx, "max")
	})
	if err == nil && len(aggregate.Points) > 0 {
		return mergeAggregate(aggregate.Points, grid, invested), "aggregate", nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Aggregate history unavailable, reconstructing from prices")
	}

	values, recErr := s.reconstruct(ctx, transactions, grid)
	return values, "reconstructed", recErr
}

// mergeAggregate samples the broker series onto the grid. A grid date is
// served by the nearest aggregate point on or before it; dates before the
// series begins fall back to invested capital.
func mergeAggregate(points []models.SeriesPoint, grid []time.Time, invested []float64) []float64 {
	sorted := make([]models.SeriesPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	values := make([]float64, len(grid))
	cursor := -1
	for i, d := range grid {
		for cursor+1 < len(sorted) && !sorted[cursor+1].Date.After(d) {
			cursor++
		}
		if cursor >= 0 {
			values[i] = sorted[cursor].Value
		} else {
			values[i] = invested[i]
		}
	}
	return values
}

// secBaseline anchors the growth factor of one security. The price is the
// first resolvable close on or after the last holdings change; shares and
// basis record the holding it was anchored against.
type secBaseline struct {
	price  float64
	shares float64
	basis  float64
}

// reconstruct rebuilds the value series from holdings and cached prices.
// Each security contributes its cost basis scaled by the price growth since
// its last holdings change, so a fresh buy restarts the factor at 1.0.
// Securities without any price data contribute cost basis unchanged.
func (s *Service) reconstruct(ctx context.Context, transactions []models.ClassifiedTransaction, grid []time.Time) ([]float64, error) {
	timeline := holdings.BuildTimeline(transactions)
	securities := timeline.Securities()

	priceMap, priceErr := s.prices.PricesFor(ctx, securities, grid)
	if priceErr != nil {
		var partial *common.PartialDataError
		if !errors.As(priceErr, &partial) {
			return nil, priceErr
		}
	}

	baselines := make(map[string]*secBaseline, len(securities))
	values := make([]float64, len(grid))

	for i, date := range grid {
		held := timeline.HoldingsAt(date)
		total := 0.0
		for _, h := range held {
			if h.CostBasis <= 0 {
				continue
			}
			base, ok := baselines[h.SecurityID]
			if !ok || base.shares != h.Shares || base.basis != h.CostBasis {
				base = &secBaseline{shares: h.Shares, basis: h.CostBasis}
				baselines[h.SecurityID] = base
			}
			price := 0.0
			if prices, ok := priceMap[h.SecurityID]; ok {
				price = prices[deltacache.DateKey(date)]
			}
			if price > 0 && base.price == 0 {
				base.price = price
			}
			if price > 0 && base.price > 0 {
				total += h.CostBasis * (price / base.price)
			} else {
				// No price data: invested capital stands in for value.
				total += h.CostBasis
			}
		}
		values[i] = total
	}

	return values, priceErr
}

// buildDateGrid produces the valuation dates: month starts across the
// transaction span, every transaction date, and today. Ascending, deduped.
func buildDateGrid(transactions []models.ClassifiedTransaction) []time.Time {
	seen := make(map[string]bool)
	var grid []time.Time

	add := func(t time.Time) {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		key := deltacache.DateKey(day)
		if !seen[key] {
			seen[key] = true
			grid = append(grid, day)
		}
	}

	var earliest time.Time
	for _, tx := range transactions {
		add(tx.Timestamp)
		if earliest.IsZero() || tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
	}

	now := time.Now().UTC()
	if !earliest.IsZero() {
		for m := time.Date(earliest.Year(), earliest.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(now); m = m.AddDate(0, 1, 0) {
			add(m)
		}
	}
	add(now)

	sort.Slice(grid, func(i, j int) bool { return grid[i].Before(grid[j]) })
	return grid
}

// Ensure Service implements ValuationService
var _ interfaces.ValuationService = (*Service)(nil)
