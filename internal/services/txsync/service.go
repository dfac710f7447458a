// Package txsync loads the broker transaction timeline incrementally,
// classifies events and derives the invested-capital series.
package txsync

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mbruckner/depotsync/internal/classify"
	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/interfaces"
	"github.com/mbruckner/depotsync/internal/models"
	"github.com/mbruckner/depotsync/internal/services/holdings"
)

// Reconciliation warning thresholds.
const (
	missingShareWarn    = 0.20
	missingSecurityWarn = 0.30
	estimatedShareWarn  = 0.20
)

// lastSyncKey is the key-value entry recording the most recent sync run.
const lastSyncKey = "last_sync"

// syncMarker is the persisted record of one completed sync run.
type syncMarker struct {
	CompletedAt time.Time `json:"completed_at"`
	Fetched     int       `json:"fetched"`
	Total       int       `json:"total"`
	Full        bool      `json:"full"`
}

// Service implements interfaces.TransactionSyncService
type Service struct {
	storage   interfaces.StorageManager
	client    interfaces.BrokerageClient
	pacer     *common.Pacer
	logger    *common.Logger
	maxPages  int
	freshness time.Duration
}

// NewService creates a new transaction sync service. freshness is the TTL
// under which a delta sync serves the cache without calling the broker;
// zero disables the shortcut.
func NewService(storage interfaces.StorageManager, client interfaces.BrokerageClient, pacer *common.Pacer, logger *common.Logger, maxPages int, freshness time.Duration) *Service {
	if maxPages <= 0 {
		maxPages = 100
	}
	return &Service{
		storage:   storage,
		client:    client,
		pacer:     pacer,
		logger:    logger,
		maxPages:  maxPages,
		freshness: freshness,
	}
}

// SyncTransactions pages the broker timeline newest first. A delta sync
// stops at the first transaction already present in the cache; a full sync
// walks the timeline to exhaustion. The merged result is persisted and
// returned classified, newest first.
func (s *Service) SyncTransactions(ctx context.Context, full bool) ([]models.ClassifiedTransaction, error) {
	start := time.Now()

	var cached []models.Transaction
	if cache, err := s.storage.TransactionStorage().GetTransactionCache(ctx); err == nil {
		cached = cache.Transactions
		if !full && common.IsFresh(cache.UpdatedAt, s.freshness) {
			s.logger.Debug().Int("cached", len(cached)).Msg("Transaction cache fresh, skipping sync")
			return classify.ClassifyAll(cached), nil
		}
	}

	known := make(map[string]bool, len(cached))
	for _, tx := range cached {
		known[tx.ID] = true
	}

	var fetched []models.Transaction
	after := ""
	reachedKnown := false

	for page := 0; page < s.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := common.CallWithRetry(ctx, s.pacer, "timeline", func(ctx context.Context) (*interfaces.TimelinePage, error) {
			return s.client.GetTimelinePage(ctx, after)
		})
		if err != nil {
			return nil, err
		}

		for _, tx := range result.Transactions {
			// Any cached ID marks the overlap with the previous sync, even
			// when the cursor's newest entry has since been reordered away.
			if !full && known[tx.ID] {
				reachedKnown = true
				break
			}
			if !known[tx.ID] {
				fetched = append(fetched, tx)
			}
		}

		if reachedKnown || result.After == "" {
			break
		}
		after = result.After
	}

	merged := mergeTransactions(fetched, cached)

	cursor := models.SyncCursor{LastSynced: time.Now()}
	if len(merged) > 0 {
		cursor.NewestID = merged[0].ID
	}
	cursor.After = after

	if err := s.storage.TransactionStorage().SaveTransactionCache(ctx, &models.TransactionCache{
		Transactions: merged,
		Cursor:       cursor,
	}); err != nil {
		return nil, err
	}

	classified := classify.ClassifyAll(merged)

	marker := syncMarker{CompletedAt: time.Now().UTC(), Fetched: len(fetched), Total: len(merged), Full: full}
	if raw, err := json.Marshal(marker); err == nil {
		if err := s.storage.KeyValueStorage().Set(ctx, lastSyncKey, string(raw)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record sync marker")
		}
	}

	s.logger.Info().
		Int("fetched", len(fetched)).
		Int("total", len(merged)).
		Bool("full", full).
		Dur("elapsed", time.Since(start)).
		Msg("Transaction sync complete")

	s.reconcile(ctx, classified)

	return classified, nil
}

// mergeTransactions combines new and cached transactions, dedups by ID and
// sorts newest first.
func mergeTransactions(fetched, cached []models.Transaction) []models.Transaction {
	seen := make(map[string]bool, len(fetched)+len(cached))
	merged := make([]models.Transaction, 0, len(fetched)+len(cached))
	for _, tx := range fetched {
		if !seen[tx.ID] {
			seen[tx.ID] = true
			merged = append(merged, tx)
		}
	}
	for _, tx := range cached {
		if !seen[tx.ID] {
			seen[tx.ID] = true
			merged = append(merged, tx)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].ID > merged[j].ID
		}
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

// reconcile compares the replayed holdings against the broker's current
// position snapshot and logs when the replay lost track of the portfolio.
// A fresh persisted snapshot is reused instead of refetching positions.
func (s *Service) reconcile(ctx context.Context, classified []models.ClassifiedTransaction) {
	var positions []models.Position
	if snap, err := s.storage.SnapshotStorage().GetSnapshot(ctx); err == nil && common.IsFresh(snap.FetchedAt, common.FreshnessSnapshot) {
		positions = snap.Positions
	} else {
		fetched, err := common.CallWithRetry(ctx, s.pacer, "positions", func(ctx context.Context) ([]models.Position, error) {
			return s.client.GetPositions(ctx)
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Reconciliation skipped: position snapshot unavailable")
			return
		}
		positions = fetched

		snapshot := &models.PositionSnapshot{
			SyncID:    uuid.NewString(),
			Positions: positions,
			FetchedAt: time.Now(),
		}
		if err := s.storage.SnapshotStorage().SaveSnapshot(ctx, snapshot); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist position snapshot")
		}
	}

	stats := reconciliationStats(classified, positions)

	if err := s.storage.SnapshotStorage().SaveReconciliation(ctx, &stats); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist reconciliation stats")
	}

	if stats.EstimatedShareRatio > estimatedShareWarn {
		s.logger.Warn().
			Int("without_shares", stats.TradesWithoutShares).
			Int("trades", stats.TradeCount).
			Msg("Reconciliation: many trades carry no share count, replayed quantities are estimates")
	}
	if stats.MissingShareRatio > missingShareWarn {
		s.logger.Warn().
			Float64("missing_ratio", stats.MissingShareRatio).
			Msg("Reconciliation: replay is missing a large share of snapshot positions")
	}
	if stats.MissingSecRatio > missingSecurityWarn {
		s.logger.Warn().
			Int("missing", stats.MissingSecurities).
			Int("snapshot", stats.SnapshotSecurities).
			Msg("Reconciliation: many snapshot securities absent from the replay")
	}
}

// reconciliationStats measures how far the replayed holdings drift from the
// broker snapshot, and how much of the replay rests on estimated quantities.
func reconciliationStats(classified []models.ClassifiedTransaction, positions []models.Position) models.ReconciliationStats {
	timeline := holdings.BuildTimeline(classified)
	replayed := timeline.HoldingsAt(time.Now())
	replayedShares := make(map[string]float64, len(replayed))
	for _, h := range replayed {
		replayedShares[h.SecurityID] = h.Shares
	}

	stats := models.ReconciliationStats{SnapshotSecurities: len(positions)}
	for _, p := range positions {
		stats.SnapshotShares += p.Shares
		got, ok := replayedShares[p.SecurityID]
		if !ok || got <= 0 {
			stats.MissingSecurities++
			stats.MissingShares += p.Shares
			continue
		}
		stats.MatchedSecurities++
		if got < p.Shares {
			stats.MissingShares += p.Shares - got
		}
	}
	if stats.SnapshotShares > 0 {
		stats.MissingShareRatio = stats.MissingShares / stats.SnapshotShares
	}
	if stats.SnapshotSecurities > 0 {
		stats.MissingSecRatio = float64(stats.MissingSecurities) / float64(stats.SnapshotSecurities)
	}

	for _, tx := range classified {
		if !tx.IsTrade() {
			continue
		}
		stats.TradeCount++
		if tx.Shares <= 0 {
			stats.TradesWithoutShares++
		}
	}
	if stats.TradeCount > 0 {
		stats.EstimatedShareRatio = float64(stats.TradesWithoutShares) / float64(stats.TradeCount)
	}

	return stats
}

// InvestedSeries returns cumulative invested capital at each date: the
// running sum of deposits and withdrawals, clamped at zero.
func (s *Service) InvestedSeries(transactions []models.ClassifiedTransaction, dates []time.Time) []float64 {
	flows := make([]models.ClassifiedTransaction, 0, len(transactions))
	for _, tx := range transactions {
		if tx.IsCapitalFlow() {
			flows = append(flows, tx)
		}
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Timestamp.Before(flows[j].Timestamp)
	})

	series := make([]float64, len(dates))
	cursor := 0
	running := 0.0
	for i, date := range dates {
		endOfDay := date.AddDate(0, 0, 1)
		for cursor < len(flows) && flows[cursor].Timestamp.Before(endOfDay) {
			running += flows[cursor].CashFlow
			cursor++
		}
		if running < 0 {
			running = 0
		}
		series[i] = running
	}
	return series
}

// Ensure Service implements TransactionSyncService
var _ interfaces.TransactionSyncService = (*Service)(nil)
