// Package classify maps raw broker timeline events to a closed set of
// transaction kinds. Classification is table-driven and total: every
// event resolves to a kind, unknown labels fall through to ignored.
package classify

import (
	"strings"

	"github.com/mbruckner/depotsync/internal/models"
)

// Label sets for the broker's German event titles and subtitles.
// Matching is exact unless noted; patterns are substring matches.
var (
	// Titles that never represent capital flows or trades.
	NonCapitalTitles = map[string]bool{
		"Zinsen":          true,
		"Steuerkorrektur": true,
	}

	// Subtitles that mark dividends, rejected or cancelled events.
	NonCapitalSubtitles = map[string]bool{
		"Bardividende": true,
		"Dividende":    true,
		"Abgelehnt":    true,
		"Storniert":    true,
	}

	// Title substring patterns for promotional credits and interest notes.
	IgnoredTitlePatterns = []string{
		"% p.a.",
		"1 % Bonus",
		"Saveback",
	}

	// Subtitles marking executed buy orders.
	BuySubtitles = map[string]bool{
		"Kauforder":            true,
		"Limit-Kauforder":      true,
		"Sparplan ausgeführt":  true,
		"Kauf":                 true,
	}

	// Subtitles marking executed sell orders.
	SellSubtitles = map[string]bool{
		"Verkaufsorder":       true,
		"Limit-Verkaufsorder": true,
		"Verkauf":             true,
	}
)

const (
	titleDeposit       = "Einzahlung"
	titleWithdrawal    = "Auszahlung"
	subtitleCompleted  = "Fertig"   // completed transfer, direction from sign
	subtitleSent       = "Gesendet" // outgoing transfer
)

// Classify resolves a transaction to its kind and capital flow. It is pure
// and never fails: events it cannot place are ignored.
func Classify(tx models.Transaction) models.ClassifiedTransaction {
	out := models.ClassifiedTransaction{Transaction: tx, Kind: models.KindIgnored}

	title := strings.TrimSpace(tx.Title)
	subtitle := strings.TrimSpace(tx.Subtitle)

	if NonCapitalTitles[title] || NonCapitalSubtitles[subtitle] {
		return out
	}
	for _, pattern := range IgnoredTitlePatterns {
		if strings.Contains(title, pattern) {
			return out
		}
	}

	switch {
	case BuySubtitles[subtitle]:
		out.Kind = models.KindBuy
	case SellSubtitles[subtitle]:
		out.Kind = models.KindSell
	case title == titleDeposit && tx.Amount > 0:
		out.Kind = models.KindDeposit
		out.CashFlow = tx.Amount
	case title == titleWithdrawal && tx.Amount < 0:
		out.Kind = models.KindWithdrawal
		out.CashFlow = tx.Amount
	case subtitle == subtitleCompleted && tx.Amount > 0:
		// Completed incoming transfer without a dedicated title.
		out.Kind = models.KindDeposit
		out.CashFlow = tx.Amount
	case subtitle == subtitleSent && tx.Amount < 0:
		out.Kind = models.KindWithdrawal
		out.CashFlow = tx.Amount
	}

	return out
}

// ClassifyAll classifies a batch of transactions in order.
func ClassifyAll(txs []models.Transaction) []models.ClassifiedTransaction {
	out := make([]models.ClassifiedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = Classify(tx)
	}
	return out
}
