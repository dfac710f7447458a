// Package holdings replays classified transactions into per-security share
// counts over time.
package holdings

import (
	"math"
	"sort"
	"time"

	"github.com/mbruckner/depotsync/internal/models"
)

// securityState tracks incremental trade replay state for one security.
// Trades are sorted by timestamp ascending; the cursor advances as dates
// progress, so a walk over ascending dates touches each trade once.
type securityState struct {
	SecurityID string
	Name       string
	Trades     []models.ClassifiedTransaction // sorted ascending
	Cursor     int
	Shares     float64
	CostBasis  float64
	Anomalous  bool
	Estimated  bool
}

// advanceTo processes all trades with timestamp <= cutoff.
func (s *securityState) advanceTo(cutoff time.Time) {
	endOfDay := cutoff.Truncate(24 * time.Hour).AddDate(0, 0, 1)

	for s.Cursor < len(s.Trades) {
		t := s.Trades[s.Cursor]
		if !t.Timestamp.Before(endOfDay) {
			break
		}

		shares, estimated := tradeShares(t)
		if estimated {
			s.Estimated = true
		}
		amount := math.Abs(t.Amount)

		switch t.Kind {
		case models.KindBuy:
			s.Shares += shares
			s.CostBasis += amount
		case models.KindSell:
			s.Shares -= shares
			s.CostBasis -= amount
			if s.Shares < 0 {
				// Sold more than the replay ever saw bought. Clamp and flag
				// rather than letting a negative count poison the series.
				s.Shares = 0
				s.Anomalous = true
			}
			if s.CostBasis < 0 {
				s.CostBasis = 0
			}
		}
		if s.Name == "" && t.Title != "" {
			s.Name = t.Title
		}
		s.Cursor++
	}
}

// tradeShares returns the share quantity of a trade, estimating it from the
// amount and execution price when the event carries none. The second return
// reports that the quantity is an estimate rather than broker-reported.
func tradeShares(t models.ClassifiedTransaction) (float64, bool) {
	if t.Shares > 0 {
		return t.Shares, false
	}
	if t.AvgPrice > 0 {
		return math.Abs(t.Amount) / t.AvgPrice, true
	}
	return 0, true
}

// Timeline is the replayable holdings state for all securities.
// HoldingsAt must be called with ascending dates.
type Timeline struct {
	states map[string]*securityState
	order  []string
}

// BuildTimeline indexes trades per security and prepares the replay states.
func BuildTimeline(transactions []models.ClassifiedTransaction) *Timeline {
	bySecurity := make(map[string][]models.ClassifiedTransaction)
	var order []string
	for _, tx := range transactions {
		if !tx.IsTrade() || tx.SecurityID == "" {
			continue
		}
		if _, ok := bySecurity[tx.SecurityID]; !ok {
			order = append(order, tx.SecurityID)
		}
		bySecurity[tx.SecurityID] = append(bySecurity[tx.SecurityID], tx)
	}
	sort.Strings(order)

	states := make(map[string]*securityState, len(bySecurity))
	for id, trades := range bySecurity {
		sorted := make([]models.ClassifiedTransaction, len(trades))
		copy(sorted, trades)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
				return sorted[i].ID < sorted[j].ID
			}
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
		states[id] = &securityState{SecurityID: id, Trades: sorted}
	}

	return &Timeline{states: states, order: order}
}

// Securities returns all security IDs present in the timeline.
func (t *Timeline) Securities() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// HoldingsAt advances the replay to the given date and returns the holdings
// with open or anomalous positions. A position with no share count but a
// remaining cost basis stays visible: events without quantities still
// represent invested money.
func (t *Timeline) HoldingsAt(date time.Time) []models.Holding {
	var out []models.Holding
	for _, id := range t.order {
		st := t.states[id]
		st.advanceTo(date)
		if st.Shares <= 0 && st.CostBasis <= 0 && !st.Anomalous {
			continue
		}
		out = append(out, models.Holding{
			SecurityID:      st.SecurityID,
			Name:            st.Name,
			Shares:          st.Shares,
			CostBasis:       st.CostBasis,
			Anomalous:       st.Anomalous,
			EstimatedShares: st.Estimated,
		})
	}
	return out
}

// State returns the current replay state of one security after the last
// HoldingsAt call.
func (t *Timeline) State(securityID string) (models.Holding, bool) {
	st, ok := t.states[securityID]
	if !ok {
		return models.Holding{}, false
	}
	return models.Holding{
		SecurityID:      st.SecurityID,
		Name:            st.Name,
		Shares:          st.Shares,
		CostBasis:       st.CostBasis,
		Anomalous:       st.Anomalous,
		EstimatedShares: st.Estimated,
	}, true
}

// EarliestTradeDate returns the oldest trade timestamp in the timeline.
func (t *Timeline) EarliestTradeDate() time.Time {
	var earliest time.Time
	for _, st := range t.states {
		if len(st.Trades) == 0 {
			continue
		}
		first := st.Trades[0].Timestamp
		if earliest.IsZero() || first.Before(earliest) {
			earliest = first
		}
	}
	return earliest
}

// SecuritiesHeldBetween returns the securities that had any open position
// within [from, to]. It replays on fresh state and leaves the timeline's
// incremental cursors untouched.
func (t *Timeline) SecuritiesHeldBetween(from, to time.Time) []string {
	var out []string
	for _, id := range t.order {
		st := t.states[id]
		shares := 0.0
		basis := 0.0
		open := func() bool { return shares > 0 || basis > 0 }
		held := false
		for _, tr := range st.Trades {
			if tr.Timestamp.After(to) {
				break
			}
			// Open when the window is entered counts as held even if the
			// position closes within the window.
			if open() && !tr.Timestamp.Before(from) {
				held = true
			}
			q, _ := tradeShares(tr)
			switch tr.Kind {
			case models.KindBuy:
				shares += q
				basis += math.Abs(tr.Amount)
			case models.KindSell:
				shares -= q
				basis -= math.Abs(tr.Amount)
				if shares < 0 {
					shares = 0
				}
				if basis < 0 {
					basis = 0
				}
			}
			if open() && !tr.Timestamp.Before(from) {
				held = true
			}
		}
		// A position opened before the window and still open counts too.
		if held || open() {
			out = append(out, id)
		}
	}
	return out
}
