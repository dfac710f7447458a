package valuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/interfaces"
	"github.com/mbruckner/depotsync/internal/models"
	"github.com/mbruckner/depotsync/internal/storage"
)

type fakeBroker struct {
	aggregate *models.AggregateHistory
	err       error
}

func (f *fakeBroker) GetTimelinePage(ctx context.Context, after string) (*interfaces.TimelinePage, error) {
	return &interfaces.TimelinePage{}, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}

func (f *fakeBroker) GetAggregateHistory(ctx context.Context, timeframe string) (*models.AggregateHistory, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.aggregate != nil {
		return f.aggregate, nil
	}
	return &models.AggregateHistory{}, nil
}

type fakeTxSync struct {
	transactions []models.ClassifiedTransaction
}

func (f *fakeTxSync) SyncTransactions(ctx context.Context, full bool) ([]models.ClassifiedTransaction, error) {
	return f.transactions, nil
}

func (f *fakeTxSync) InvestedSeries(transactions []models.ClassifiedTransaction, dates []time.Time) []float64 {
	// Constant invested capital keeps the TWR math transparent in tests.
	series := make([]float64, len(dates))
	for i := range series {
		series[i] = 1000
	}
	return series
}

type fakePrices struct {
	prices map[string]map[string]float64
	err    error
}

func (f *fakePrices) PricesFor(ctx context.Context, securityIDs []string, dates []time.Time) (map[string]map[string]float64, error) {
	return f.prices, f.err
}

func (f *fakePrices) ResolveSymbol(ctx context.Context, securityID string) (*models.SymbolResolution, error) {
	return nil, &common.LookupError{SecurityID: securityID}
}

func newTestService(t *testing.T, broker *fakeBroker, txs *fakeTxSync, prices *fakePrices) (*Service, *storage.Manager) {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Storage.Path = t.TempDir()

	store, err := storage.NewManager(common.NewSilentLogger(), config)
	if err != nil {
		t.Fatal(err)
	}
	pacer := common.NewPacer(config.Retry, common.NewSilentLogger())
	return NewService(store, broker, txs, prices, pacer, common.NewSilentLogger(), false), store
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func buy(id, securityID string, d int, amount float64) models.ClassifiedTransaction {
	return models.ClassifiedTransaction{
		Transaction: models.Transaction{
			ID:         id,
			Timestamp:  time.Date(2024, 3, d, 10, 0, 0, 0, time.UTC),
			SecurityID: securityID,
			Amount:     amount,
		},
		Kind: models.KindBuy,
	}
}

func TestBuildHistory_AggregateSource(t *testing.T) {
	broker := &fakeBroker{
		aggregate: &models.AggregateHistory{
			Points: []models.SeriesPoint{
				{Date: day(1), Value: 1000},
				{Date: day(10), Value: 1100},
			},
		},
	}
	txs := &fakeTxSync{transactions: []models.ClassifiedTransaction{buy("t1", "A", 1, -1000)}}
	svc, store := newTestService(t, broker, txs, &fakePrices{})

	result, err := svc.BuildHistory(context.Background(), false)
	if err != nil {
		t.Fatalf("BuildHistory failed: %v", err)
	}
	if result.Source != "aggregate" {
		t.Errorf("source = %q, want aggregate", result.Source)
	}
	if len(result.Dates) != len(result.Values) || len(result.Values) != len(result.TWR) {
		t.Errorf("series lengths differ: %d dates, %d values, %d twr", len(result.Dates), len(result.Values), len(result.TWR))
	}
	if result.Partial {
		t.Error("aggregate result flagged partial")
	}

	persisted, err := store.ValuationStorage().GetHistory(context.Background())
	if err != nil {
		t.Fatalf("history not persisted: %v", err)
	}
	if persisted.Source != "aggregate" {
		t.Errorf("persisted source = %q", persisted.Source)
	}
}

func TestBuildHistory_ReconstructedFallback(t *testing.T) {
	// Aggregate endpoint down; the growth-factor fallback takes over.
	broker := &fakeBroker{err: &common.APIError{StatusCode: 404, Endpoint: "/history"}}
	txs := &fakeTxSync{transactions: []models.ClassifiedTransaction{buy("t1", "A", 1, -1000)}}
	prices := &fakePrices{
		prices: map[string]map[string]float64{
			"A": {"2024-03-01": 50},
		},
	}
	svc, _ := newTestService(t, broker, txs, prices)

	result, err := svc.BuildHistory(context.Background(), false)
	if err != nil {
		t.Fatalf("BuildHistory failed: %v", err)
	}
	if result.Source != "reconstructed" {
		t.Errorf("source = %q, want reconstructed", result.Source)
	}
	if result.Values[0] != 1000 {
		t.Errorf("first value = %v, want the cost basis", result.Values[0])
	}
}

func TestBuildHistory_PartialPropagated(t *testing.T) {
	broker := &fakeBroker{err: &common.APIError{StatusCode: 404}}
	txs := &fakeTxSync{transactions: []models.ClassifiedTransaction{buy("t1", "A", 1, -1000)}}
	prices := &fakePrices{
		prices: map[string]map[string]float64{},
		err:    &common.PartialDataError{Covered: 0, Requested: 1, Missing: []string{"A"}},
	}
	svc, _ := newTestService(t, broker, txs, prices)

	result, err := svc.BuildHistory(context.Background(), false)
	var partial *common.PartialDataError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want PartialDataError", err)
	}
	if result == nil || !result.Partial {
		t.Errorf("result = %+v, want usable and flagged partial", result)
	}
	// Without prices the series falls back to cost basis.
	if result.Values[0] != 1000 {
		t.Errorf("value = %v, want 1000", result.Values[0])
	}
}

func TestBuildHistory_NoTransactions(t *testing.T) {
	svc, _ := newTestService(t, &fakeBroker{}, &fakeTxSync{}, &fakePrices{})

	_, err := svc.BuildHistory(context.Background(), false)
	var structural *common.StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("err = %v, want StructuralError", err)
	}
}

func TestMergeAggregate(t *testing.T) {
	points := []models.SeriesPoint{
		// Deliberately unsorted.
		{Date: day(10), Value: 1100},
		{Date: day(5), Value: 1050},
	}
	grid := []time.Time{day(1), day(5), day(7), day(12)}
	invested := []float64{900, 900, 900, 900}

	values := mergeAggregate(points, grid, invested)
	// Before the series begins, invested stands in.
	if values[0] != 900 {
		t.Errorf("values[0] = %v, want invested fallback", values[0])
	}
	if values[1] != 1050 {
		t.Errorf("values[1] = %v, want exact match", values[1])
	}
	// Nearest point on or before.
	if values[2] != 1050 || values[3] != 1100 {
		t.Errorf("values = %v", values)
	}
}

func TestReconstruct_GrowthFactor(t *testing.T) {
	txs := []models.ClassifiedTransaction{buy("t1", "A", 1, -1000)}
	prices := &fakePrices{
		prices: map[string]map[string]float64{
			"A": {
				"2024-03-01": 50,
				"2024-03-15": 55,
			},
		},
	}
	svc, _ := newTestService(t, &fakeBroker{}, &fakeTxSync{}, prices)

	grid := []time.Time{day(1), day(15)}
	values, err := svc.reconstruct(context.Background(), txs, grid)
	if err != nil {
		t.Fatalf("reconstruct failed: %v", err)
	}
	// Baseline price 50: day one is the cost basis, day 15 scales by 55/50.
	if values[0] != 1000 {
		t.Errorf("values[0] = %v, want 1000", values[0])
	}
	if !approxEqual(values[1], 1100, 1e-9) {
		t.Errorf("values[1] = %v, want 1100", values[1])
	}
}

func TestReconstruct_BaselineRebasesOnNewBuy(t *testing.T) {
	// A second buy changes the holding; the growth factor restarts at the
	// first price on or after the change instead of inflating the new money
	// by the old run-up.
	txs := []models.ClassifiedTransaction{
		buy("t1", "A", 1, -1000),
		buy("t2", "A", 10, -1000),
	}
	prices := &fakePrices{
		prices: map[string]map[string]float64{
			"A": {
				"2024-03-01": 50,
				"2024-03-10": 60,
				"2024-03-20": 66,
			},
		},
	}
	svc, _ := newTestService(t, &fakeBroker{}, &fakeTxSync{}, prices)

	grid := []time.Time{day(1), day(10), day(20)}
	values, err := svc.reconstruct(context.Background(), txs, grid)
	if err != nil {
		t.Fatalf("reconstruct failed: %v", err)
	}
	if values[0] != 1000 {
		t.Errorf("values[0] = %v, want 1000", values[0])
	}
	// Day of the second buy: 2000 invested, factor back at 1.0.
	if values[1] != 2000 {
		t.Errorf("values[1] = %v, want 2000", values[1])
	}
	// Growth since the rebase: 66/60 on the full basis.
	if !approxEqual(values[2], 2200, 1e-9) {
		t.Errorf("values[2] = %v, want 2200", values[2])
	}
}

func TestReconstruct_NoPriceFallsBackToCostBasis(t *testing.T) {
	txs := []models.ClassifiedTransaction{buy("t1", "A", 1, -1000)}
	svc, _ := newTestService(t, &fakeBroker{}, &fakeTxSync{}, &fakePrices{prices: map[string]map[string]float64{}})

	values, err := svc.reconstruct(context.Background(), txs, []time.Time{day(1), day(15)})
	if err != nil {
		t.Fatalf("reconstruct failed: %v", err)
	}
	if values[0] != 1000 || values[1] != 1000 {
		t.Errorf("values = %v, want flat cost basis", values)
	}
}

func TestBuildDateGrid(t *testing.T) {
	txs := []models.ClassifiedTransaction{
		buy("t1", "A", 5, -100),
		buy("t2", "A", 5, -100), // same date, deduped
		buy("t3", "A", 20, -100),
	}

	grid := buildDateGrid(txs)
	if len(grid) < 3 {
		t.Fatalf("grid = %v", grid)
	}
	for i := 1; i < len(grid); i++ {
		if !grid[i].After(grid[i-1]) {
			t.Fatalf("grid not strictly ascending at %d: %v", i, grid)
		}
	}

	byKey := make(map[string]bool, len(grid))
	for _, d := range grid {
		byKey[d.Format("2006-01-02")] = true
	}
	if !byKey["2024-03-05"] || !byKey["2024-03-20"] {
		t.Errorf("transaction dates missing from grid: %v", grid)
	}
	if !byKey["2024-03-01"] {
		t.Errorf("month start missing from grid: %v", grid)
	}
	today := time.Now().UTC().Format("2006-01-02")
	if !byKey[today] {
		t.Errorf("today missing from grid")
	}
}
