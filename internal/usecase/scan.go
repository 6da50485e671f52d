package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/auth"
	"github.com/example/skincheck/internal/classifier"
	"github.com/example/skincheck/internal/imaging"
	"github.com/example/skincheck/internal/logging"
	"github.com/example/skincheck/internal/objectstore"
	"github.com/example/skincheck/internal/repository"
)

// SaveState tracks a submission through persistence.
type SaveState string

const (
	StateAwaitingSpot SaveState = "AwaitingSpot"
	StateAwaitingSave SaveState = "AwaitingSave"
	StateSaved        SaveState = "Saved"
	StateSaveFailed   SaveState = "SaveFailed"
)

var (
	// ErrSaveFailed marks a prediction that could not be recorded.
	ErrSaveFailed = errors.New("failed to save scan")
	// ErrSpotNotFound is returned when a supplied spot does not exist for the user.
	ErrSpotNotFound = errors.New("spot not found")
	// ErrScanNotFound is returned when a scan does not exist for the user.
	ErrScanNotFound = errors.New("scan not found")
)

// SaveError is the terminal SaveFailed outcome of a submission.
type SaveError struct {
	Stage SaveState
	Err   error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save scan (%s): %v", e.Stage, e.Err)
}

func (e *SaveError) Is(target error) bool {
	return target == ErrSaveFailed
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// ScanRepository defines the persistence operations needed by the use case.
type ScanRepository interface {
	CreateSpot(ctx context.Context, requestID string, spot *repository.Spot) error
	FindSpot(ctx context.Context, spotID, userID string) (*repository.Spot, error)
	InsertScan(ctx context.Context, requestID string, scan *repository.Scan) error
	FindScan(ctx context.Context, scanID, userID string) (*repository.Scan, error)
	HistoryForUser(ctx context.Context, userID string) ([]repository.Scan, error)
	SpotsForUser(ctx context.Context, userID string) ([]repository.Spot, error)
}

// ImageUploader stores scan images. Failures never block a submission.
type ImageUploader interface {
	Upload(ctx context.Context, userID string, image *imaging.Handle) (string, error)
	ListUserImages(ctx context.Context, userID string) ([]objectstore.ObjectInfo, error)
}

// ImageValidator checks an image before it is sent anywhere.
type ImageValidator interface {
	Validate(h *imaging.Handle) (*imaging.ValidationResult, error)
}

// Recorder receives pipeline observations. A nil Recorder is allowed.
type Recorder interface {
	ObservePrediction(label string, elapsed time.Duration, err error)
	ObserveUpload(err error)
	ObserveSave(state string, ephemeral bool)
}

// SubmitRequest is one image submission.
type SubmitRequest struct {
	Image    *imaging.Handle
	SpotID   string
	Location *string
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Scan       *repository.Scan   `json:"scan"`
	Prediction *classifier.Result `json:"prediction"`
	State      SaveState          `json:"state"`
	Ephemeral  bool               `json:"ephemeral"`
	ImageURL   *string            `json:"image_url"`
}

// ScanUseCase encapsulates business logic for the scan flow.
type ScanUseCase struct {
	repo           ScanRepository
	predictor      classifier.Client
	uploader       ImageUploader
	validator      ImageValidator
	cache          Cache
	recorder       Recorder
	logger         *zap.Logger
	cacheTTL       time.Duration
	rescanAfter    time.Duration
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option customises a ScanUseCase.
type Option func(*ScanUseCase)

// WithValidator replaces the default image validator.
func WithValidator(v ImageValidator) Option {
	return func(uc *ScanUseCase) { uc.validator = v }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(uc *ScanUseCase) { uc.recorder = r }
}

// WithCacheTTL sets how long saved scans stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(uc *ScanUseCase) {
		if ttl > 0 {
			uc.cacheTTL = ttl
		}
	}
}

// WithRescanAfter sets the rescan alert threshold.
func WithRescanAfter(d time.Duration) Option {
	return func(uc *ScanUseCase) {
		if d > 0 {
			uc.rescanAfter = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(uc *ScanUseCase) { uc.now = now }
}

// NewScanUseCase constructs a new use case instance. uploader and cache may be nil.
func NewScanUseCase(repo ScanRepository, predictor classifier.Client, uploader ImageUploader, cache Cache, logger *zap.Logger, opts ...Option) *ScanUseCase {
	uc := &ScanUseCase{
		repo:           repo,
		predictor:      predictor,
		uploader:       uploader,
		validator:      imaging.NewValidator(imaging.DefaultMaxBytes),
		cache:          cache,
		recorder:       nopRecorder{},
		logger:         logger.Named("scan_usecase"),
		cacheTTL:       5 * time.Minute,
		rescanAfter:    14 * 24 * time.Hour,
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	for _, opt := range opts {
		opt(uc)
	}
	if uc.recorder == nil {
		uc.recorder = nopRecorder{}
	}
	return uc
}

type cachedScan struct {
	UserID string          `json:"user_id"`
	Scan   repository.Scan `json:"scan"`
}

func scanCacheKey(scanID string) string {
	return fmt.Sprintf("scan:%s", scanID)
}

// Submit validates the image, calls the classifier, uploads the image on a best-effort
// basis and records the scan. A prediction failure is terminal and nothing is stored.
func (uc *ScanUseCase) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_scan", requestID)

	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := uc.validator.Validate(req.Image); err != nil {
		opLogger.Info("image rejected", zap.Error(err))
		return nil, err
	}

	started := time.Now()
	prediction, err := uc.predictor.Predict(ctx, req.Image)
	uc.recorder.ObservePrediction(labelOf(prediction), time.Since(started), err)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.predict", requestID, err)
		opLogger.Error("prediction failed", zap.Error(wrapped))
		return nil, wrapped
	}

	imageURL := uc.upload(ctx, requestID, user.ID, req.Image)

	result := &SubmitResult{Prediction: prediction, State: StateAwaitingSpot, ImageURL: imageURL}
	scan, ephemeral, err := uc.persist(ctx, requestID, user.ID, req, prediction, imageURL, result)
	uc.recorder.ObserveSave(string(result.State), ephemeral)
	if err != nil {
		opLogger.Error("failed to persist scan", zap.Error(err), zap.String("state", string(result.State)))
		return nil, err
	}
	result.Scan = scan
	result.Ephemeral = ephemeral

	uc.cacheScan(ctx, requestID, user.ID, scan)

	opLogger.Info("scan recorded",
		zap.String("scan_id", scan.ID),
		zap.String("prediction", string(prediction.Prediction)),
		zap.Bool("ephemeral", ephemeral),
		zap.Bool("has_image", imageURL != nil),
	)
	return result, nil
}

func (uc *ScanUseCase) upload(ctx context.Context, requestID, userID string, image *imaging.Handle) *string {
	if uc.uploader == nil {
		return nil
	}
	url, err := uc.uploader.Upload(ctx, userID, image)
	uc.recorder.ObserveUpload(err)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.upload_image", requestID).Warn("image upload skipped", zap.Error(err))
		return nil
	}
	return &url
}

// persist drives AwaitingSpot -> AwaitingSave -> Saved | SaveFailed. result.State is
// updated as transitions happen.
func (uc *ScanUseCase) persist(ctx context.Context, requestID, userID string, req SubmitRequest, prediction *classifier.Result, imageURL *string, result *SubmitResult) (*repository.Scan, bool, error) {
	now := uc.now().UTC()
	scan := &repository.Scan{
		ID:                  uuid.NewString(),
		ImageURL:            imageURL,
		Prediction:          string(prediction.Prediction),
		Confidence:          prediction.Confidence,
		LowRiskProbability:  prediction.LowRiskProbability,
		HighRiskProbability: prediction.HighRiskProbability,
		ScannedAt:           now,
	}

	spotID, err := uc.resolveSpot(ctx, requestID, userID, req, now)
	if err != nil {
		if repository.IsMissingTable(err) {
			return uc.ephemeral(requestID, scan, req.SpotID, result), true, nil
		}
		result.State = StateSaveFailed
		return nil, false, &SaveError{Stage: StateAwaitingSpot, Err: err}
	}
	scan.SpotID = spotID
	result.State = StateAwaitingSave

	if err := uc.repo.InsertScan(ctx, requestID, scan); err != nil {
		if repository.IsMissingTable(err) {
			return uc.ephemeral(requestID, scan, spotID, result), true, nil
		}
		result.State = StateSaveFailed
		return nil, false, &SaveError{Stage: StateAwaitingSave, Err: err}
	}
	result.State = StateSaved
	return scan, false, nil
}

func (uc *ScanUseCase) resolveSpot(ctx context.Context, requestID, userID string, req SubmitRequest, now time.Time) (string, error) {
	if req.SpotID != "" {
		spot, err := uc.repo.FindSpot(ctx, req.SpotID, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return "", ErrSpotNotFound
			}
			return "", err
		}
		return spot.ID, nil
	}

	spot := &repository.Spot{UserID: userID, Location: req.Location, CreatedAt: now}
	if err := uc.repo.CreateSpot(ctx, requestID, spot); err != nil {
		return "", err
	}
	return spot.ID, nil
}

// ephemeral builds the synthetic record returned when the schema is not provisioned.
func (uc *ScanUseCase) ephemeral(requestID string, scan *repository.Scan, spotID string, result *SubmitResult) *repository.Scan {
	if spotID == "" {
		spotID = uuid.NewString()
	}
	scan.SpotID = spotID
	result.State = StateSaved
	logging.WithOperation(uc.logger, "usecase.persist_scan", requestID).Warn("scan tables missing, returning ephemeral record", zap.String("scan_id", scan.ID))
	return scan
}

func (uc *ScanUseCase) cacheScan(ctx context.Context, requestID, userID string, scan *repository.Scan) {
	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(cachedScan{UserID: userID, Scan: *scan})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_scan", requestID).Warn("failed to serialize scan", zap.Error(err))
		return
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.scan", func() error {
		return uc.cache.Set(ctx, scanCacheKey(scan.ID), string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_scan", requestID).Warn("failed to cache scan", zap.Error(err))
	}
}

// CreateSpot registers a new spot for the signed-in user.
func (uc *ScanUseCase) CreateSpot(ctx context.Context, location *string) (*repository.Spot, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	spot := &repository.Spot{UserID: user.ID, Location: location, CreatedAt: uc.now().UTC()}
	if err := uc.repo.CreateSpot(ctx, requestID, spot); err != nil {
		if repository.IsMissingTable(err) {
			if spot.ID == "" {
				spot.ID = uuid.NewString()
			}
			logging.WithOperation(uc.logger, "usecase.create_spot", requestID).Warn("spots table missing, returning ephemeral spot")
			return spot, nil
		}
		return nil, &SaveError{Stage: StateAwaitingSpot, Err: err}
	}
	return spot, nil
}

func labelOf(r *classifier.Result) string {
	if r == nil {
		return "none"
	}
	return string(r.Prediction)
}

type nopRecorder struct{}

func (nopRecorder) ObservePrediction(string, time.Duration, error) {}
func (nopRecorder) ObserveUpload(error) {}
func (nopRecorder) ObserveSave(string, bool) {}
