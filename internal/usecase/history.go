package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/example/skincheck/internal/auth"
	"github.com/example/skincheck/internal/insights"
	"github.com/example/skincheck/internal/logging"
	"github.com/example/skincheck/internal/objectstore"
	"github.com/example/skincheck/internal/repository"
)

// GetScan retrieves a cached scan or loads it from persistence. Cached entries
// owned by another user are ignored.
func (uc *ScanUseCase) GetScan(ctx context.Context, scanID string) (*repository.Scan, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	if uc.cache != nil {
		cached, err := uc.withCacheGet(ctx, scanID, "cache.get.scan", scanCacheKey(scanID))
		switch {
		case err == nil:
			var payload cachedScan
			if err := json.Unmarshal([]byte(cached), &payload); err != nil {
				opLogger := logging.WithOperation(uc.logger, "usecase.get_scan", scanID)
				opLogger.Warn("failed to decode cached scan", zap.Error(err))
				if err := uc.cache.Delete(ctx, scanCacheKey(scanID)); err != nil {
					opLogger.Warn("failed to evict cached scan", zap.Error(err))
				}
			} else if payload.UserID == user.ID {
				return &payload.Scan, nil
			}
		case !errors.Is(err, ErrCacheMiss):
			logging.WithOperation(uc.logger, "usecase.get_scan", scanID).Warn("failed to read cache", zap.Error(err))
		}
	}

	scan, err := uc.repo.FindScan(ctx, scanID, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || repository.IsMissingTable(err) {
			return nil, ErrScanNotFound
		}
		return nil, err
	}
	return scan, nil
}

// History returns the signed-in user's scans, newest first. An unprovisioned
// schema reads as an empty history.
func (uc *ScanUseCase) History(ctx context.Context) ([]repository.Scan, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	scans, err := uc.repo.HistoryForUser(ctx, user.ID)
	if err != nil {
		if repository.IsMissingTable(err) {
			return []repository.Scan{}, nil
		}
		return nil, err
	}
	if scans == nil {
		scans = []repository.Scan{}
	}
	return scans, nil
}

// SpotHistory is one tracked spot with its scans, newest first.
type SpotHistory struct {
	Spot  repository.Spot   `json:"spot"`
	Scans []repository.Scan `json:"scans"`
}

// Spots groups the user's history by spot, in the order the spots were created.
// Spots without scans are included with an empty list.
func (uc *ScanUseCase) Spots(ctx context.Context) ([]SpotHistory, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	spots, err := uc.repo.SpotsForUser(ctx, user.ID)
	if err != nil {
		if repository.IsMissingTable(err) {
			return []SpotHistory{}, nil
		}
		return nil, err
	}
	scans, err := uc.History(ctx)
	if err != nil {
		return nil, err
	}

	bySpot := make(map[string][]repository.Scan, len(spots))
	for _, scan := range scans {
		bySpot[scan.SpotID] = append(bySpot[scan.SpotID], scan)
	}
	out := make([]SpotHistory, 0, len(spots))
	for _, spot := range spots {
		group := bySpot[spot.ID]
		if group == nil {
			group = []repository.Scan{}
		}
		out = append(out, SpotHistory{Spot: spot, Scans: group})
	}
	return out, nil
}

// Alerts derives rescan and change alerts from the user's history.
func (uc *ScanUseCase) Alerts(ctx context.Context) ([]insights.Alert, error) {
	scans, err := uc.History(ctx)
	if err != nil {
		return nil, err
	}
	return insights.DeriveAlerts(scans, uc.now(), uc.rescanAfter), nil
}

// Tips returns skincare guidance tailored to the user's history.
func (uc *ScanUseCase) Tips(ctx context.Context) ([]insights.Tip, error) {
	scans, err := uc.History(ctx)
	if err != nil {
		return nil, err
	}
	return insights.Tips(scans), nil
}

// Progress summarises the user's history.
func (uc *ScanUseCase) Progress(ctx context.Context) (*insights.ProgressSummary, error) {
	scans, err := uc.History(ctx)
	if err != nil {
		return nil, err
	}
	summary := insights.Progress(scans)
	return &summary, nil
}

// ListImages lists the images the user has uploaded.
func (uc *ScanUseCase) ListImages(ctx context.Context) ([]objectstore.ObjectInfo, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if uc.uploader == nil {
		return []objectstore.ObjectInfo{}, nil
	}
	return uc.uploader.ListUserImages(ctx, user.ID)
}
