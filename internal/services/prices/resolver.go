package prices

import (
	"context"
	"time"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/models"
)

// ResolveSymbol resolves a security to a vendor symbol through the chain:
// static table, cached resolution, external lookup. Failed lookups are
// cached permanently and never retried.
func (s *Service) ResolveSymbol(ctx context.Context, securityID string) (*models.SymbolResolution, error) {
	if entry, ok := staticSymbols[securityID]; ok {
		return &models.SymbolResolution{
			SecurityID: securityID,
			Symbol:     entry.Symbol,
			Currency:   entry.Currency,
			ResolvedAt: time.Now(),
		}, nil
	}

	if noDataSecurities[securityID] {
		return nil, &common.LookupError{SecurityID: securityID, Reason: "no vendor data for this instrument"}
	}

	if cached, err := s.storage.SymbolStorage().GetResolution(ctx, securityID); err == nil {
		if cached.Failed {
			return nil, &common.LookupError{SecurityID: securityID, Reason: "cached lookup failure"}
		}
		return cached, nil
	}

	res, err := common.CallWithRetry(ctx, s.pacer, "symbol lookup", func(ctx context.Context) (*models.SymbolResolution, error) {
		return s.client.LookupSymbol(ctx, securityID)
	})
	if err != nil {
		if common.IsPermanentLookup(err) {
			negative := &models.SymbolResolution{
				SecurityID: securityID,
				Failed:     true,
				ResolvedAt: time.Now(),
			}
			if saveErr := s.storage.SymbolStorage().SaveResolution(ctx, negative); saveErr != nil {
				s.logger.Warn().Err(saveErr).Str("security", securityID).Msg("Failed to cache negative resolution")
			}
		}
		return nil, err
	}

	if err := s.storage.SymbolStorage().SaveResolution(ctx, res); err != nil {
		s.logger.Warn().Err(err).Str("security", securityID).Msg("Failed to cache resolution")
	}

	s.logger.Debug().Str("security", securityID).Str("symbol", res.Symbol).Msg("Symbol resolved")
	return res, nil
}
