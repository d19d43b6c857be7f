package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/faceswap-gateway/internal/config"
	"github.com/example/faceswap-gateway/internal/generation"
	"github.com/example/faceswap-gateway/internal/logging"
	"github.com/example/faceswap-gateway/internal/repository"
	"github.com/example/faceswap-gateway/internal/retry"
)

var (
	// ErrAPIKeyMissing is returned before any provider call when no key is configured.
	ErrAPIKeyMissing = errors.New("GEMINI_API_KEY is not configured")
	// ErrNotFound is returned by GetSummary for unknown request ids.
	ErrNotFound = errors.New("generation not found")
)

const (
	modeSingle = "single"
	modeBatch  = "batch"

	recordTimeout = 5 * time.Second
)

// GenerationRepository defines the persistence operations needed by the use case.
type GenerationRepository interface {
	SaveLog(ctx context.Context, log *repository.GenerationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.GenerationLog, error)
}

// GenerationUseCase runs single and batch generations and keeps their summaries.
type GenerationUseCase struct {
	generator   generation.Generator
	repo        GenerationRepository
	cache       Cache
	logger      *zap.Logger
	cfg         *config.Config
	concurrency int
	resultTTL   time.Duration
	cachePolicy retry.Policy

	pending sync.WaitGroup
}

// NewGenerationUseCase wires the use case. repo and cache may be nil, which disables summary storage.
func NewGenerationUseCase(cfg *config.Config, generator generation.Generator, repo GenerationRepository, cache Cache, logger *zap.Logger) *GenerationUseCase {
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = config.DefaultBatchConcurrency
	}
	return &GenerationUseCase{
		generator:   generator,
		repo:        repo,
		cache:       cache,
		logger:      logger.Named("generation_usecase"),
		cfg:         cfg,
		concurrency: concurrency,
		resultTTL:   cfg.ResultTTL,
		cachePolicy: retry.DefaultPolicy,
	}
}

// Configured reports whether a provider key is available.
func (uc *GenerationUseCase) Configured() bool {
	return uc.cfg.HasAPIKey()
}

// Wait blocks until summary writes started by earlier calls have finished.
func (uc *GenerationUseCase) Wait() {
	uc.pending.Wait()
}

// GenerateSingle makes one provider call for faces + target.
// Transport errors come back as an EXCEPTION result, not as err.
func (uc *GenerationUseCase) GenerateSingle(ctx context.Context, faces []generation.UploadedImage, target generation.UploadedImage, opts generation.Options) (string, generation.Result, error) {
	if !uc.Configured() {
		return "", generation.Result{}, ErrAPIKeyMissing
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.generate_single", requestID)
	opLogger.Info("starting generation", zap.Int("faces", len(faces)), zap.String("filename", target.OriginalName))

	res := uc.generateOne(ctx, opLogger, generation.NewRequest(faces, target, opts))

	summary := generation.NewBatchSummary(requestID, []generation.ItemResult{{Index: 0, Filename: target.OriginalName, Result: res}})
	uc.record(ctx, opLogger, modeSingle, opts, summary)
	return requestID, res, nil
}

// GenerateBatch makes one provider call per target with bounded concurrency.
// A failing item never stops the others; the summary is ordered by input index.
func (uc *GenerationUseCase) GenerateBatch(ctx context.Context, faces []generation.UploadedImage, targets []generation.UploadedImage, opts generation.Options) (*generation.BatchSummary, error) {
	if !uc.Configured() {
		return nil, ErrAPIKeyMissing
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.generate_batch", requestID)
	opLogger.Info("starting batch generation", zap.Int("faces", len(faces)), zap.Int("targets", len(targets)), zap.Int("concurrency", uc.concurrency))

	results := make([]generation.ItemResult, len(targets))
	var g errgroup.Group
	g.SetLimit(uc.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			itemLogger := opLogger.With(zap.Int("index", i), zap.String("filename", target.OriginalName))
			res := uc.generateOne(ctx, itemLogger, generation.NewRequest(faces, target, opts))
			results[i] = generation.ItemResult{Index: i, Filename: target.OriginalName, Result: res}
			return nil
		})
	}
	_ = g.Wait()

	summary := generation.NewBatchSummary(requestID, results)
	opLogger.Info("batch generation finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.SuccessCount),
		zap.Int("failed", summary.FailureCount))

	uc.record(ctx, opLogger, modeBatch, opts, summary)
	return summary, nil
}

func (uc *GenerationUseCase) generateOne(ctx context.Context, logger *zap.Logger, req generation.Request) (res generation.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("generation panicked", zap.Any("panic", r))
			res = generation.FromError(fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	started := time.Now()
	out, err := uc.generator.Generate(ctx, uc.cfg.APIKey, req)
	if err != nil {
		logger.Error("generation call failed", zap.Error(err), zap.Duration("latency", time.Since(started)))
		return generation.FromError(err)
	}
	if out.Failure != nil {
		logger.Warn("generation returned no image",
			zap.String("error_kind", string(out.Failure.Kind)),
			zap.String("message", out.Failure.Message),
			zap.Duration("latency", time.Since(started)))
		return out
	}
	if out.Image == nil {
		return generation.Failed(generation.Failure{Kind: generation.KindNoImage, Message: "The model did not return an image.", Text: out.Text})
	}
	logger.Info("generation succeeded", zap.Duration("latency", time.Since(started)))
	return out
}

// StoredSummary is the image-free record kept for a finished request.
type StoredSummary struct {
	RequestID    string       `json:"requestId"`
	Mode         string       `json:"mode"`
	Total        int          `json:"total"`
	SuccessCount int          `json:"successCount"`
	FailureCount int          `json:"failureCount"`
	AspectRatio  string       `json:"aspectRatio"`
	Quality      string       `json:"imageQuality"`
	CreatedAt    time.Time    `json:"createdAt"`
	Results      []StoredItem `json:"results"`
}

// StoredItem is the image-free outcome of one target.
type StoredItem struct {
	Index     int    `json:"index"`
	Filename  string `json:"filename"`
	Success   bool   `json:"success"`
	MIMEType  string `json:"mimeType,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newStoredSummary(mode string, opts generation.Options, summary *generation.BatchSummary) *StoredSummary {
	stored := &StoredSummary{
		RequestID:    summary.RequestID,
		Mode:         mode,
		Total:        summary.Total,
		SuccessCount: summary.SuccessCount,
		FailureCount: summary.FailureCount,
		AspectRatio:  opts.AspectRatio,
		Quality:      opts.Quality,
		CreatedAt:    time.Now().UTC(),
		Results:      make([]StoredItem, 0, len(summary.Results)),
	}
	for _, item := range summary.Results {
		si := StoredItem{Index: item.Index, Filename: item.Filename, Success: item.Result.OK()}
		if item.Result.Image != nil {
			si.MIMEType = item.Result.Image.MIMEType
		}
		if f := item.Result.Failure; f != nil {
			si.ErrorType = string(f.Kind)
			si.Error = f.Message
		}
		stored.Results = append(stored.Results, si)
	}
	return stored
}

func (s *StoredSummary) toLog() *repository.GenerationLog {
	log := &repository.GenerationLog{
		RequestID:    s.RequestID,
		Mode:         s.Mode,
		Total:        s.Total,
		SuccessCount: s.SuccessCount,
		FailureCount: s.FailureCount,
		AspectRatio:  s.AspectRatio,
		Quality:      s.Quality,
		CreatedAt:    s.CreatedAt,
		Items:        make([]repository.GenerationItem, 0, len(s.Results)),
	}
	for _, item := range s.Results {
		log.Items = append(log.Items, repository.GenerationItem{
			Index:        item.Index,
			Filename:     item.Filename,
			Success:      item.Success,
			MIMEType:     item.MIMEType,
			ErrorKind:    item.ErrorType,
			ErrorMessage: item.Error,
		})
	}
	return log
}

func storedFromLog(log *repository.GenerationLog) *StoredSummary {
	stored := &StoredSummary{
		RequestID:    log.RequestID,
		Mode:         log.Mode,
		Total:        log.Total,
		SuccessCount: log.SuccessCount,
		FailureCount: log.FailureCount,
		AspectRatio:  log.AspectRatio,
		Quality:      log.Quality,
		CreatedAt:    log.CreatedAt,
		Results:      make([]StoredItem, 0, len(log.Items)),
	}
	for _, item := range log.Items {
		stored.Results = append(stored.Results, StoredItem{
			Index:     item.Index,
			Filename:  item.Filename,
			Success:   item.Success,
			MIMEType:  item.MIMEType,
			ErrorType: item.ErrorKind,
			Error:     item.ErrorMessage,
		})
	}
	return stored
}

// record stores the summary in the repository and cache in the background when configured.
// Failures are logged only; the caller already has its answer.
func (uc *GenerationUseCase) record(ctx context.Context, logger *zap.Logger, mode string, opts generation.Options, summary *generation.BatchSummary) {
	if uc.repo == nil && uc.cache == nil {
		return
	}

	stored := newStoredSummary(mode, opts, summary)
	detached := context.WithoutCancel(ctx)

	uc.pending.Add(1)
	go func() {
		defer uc.pending.Done()
		uc.store(detached, logger, stored)
	}()
}

func (uc *GenerationUseCase) store(ctx context.Context, logger *zap.Logger, stored *StoredSummary) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if uc.repo != nil {
		if err := uc.repo.SaveLog(ctx, stored.toLog()); err != nil {
			logger.Error("failed to persist generation log", zap.Error(err))
		}
	}

	if uc.cache != nil {
		serialized, err := json.Marshal(stored)
		if err != nil {
			logger.Error("failed to serialize generation summary", zap.Error(err))
			return
		}
		if err := retry.Do(ctx, uc.logger, uc.cachePolicy, "cache.set.summary", stored.RequestID, func() error {
			return uc.cache.Set(ctx, summaryCacheKey(stored.RequestID), string(serialized), uc.resultTTL)
		}); err != nil {
			logger.Error("failed to cache generation summary", zap.Error(err))
		}
	}
}

// GetSummary returns the stored summary for requestID, trying the cache before the repository.
func (uc *GenerationUseCase) GetSummary(ctx context.Context, requestID string) (*StoredSummary, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_summary", requestID)

	if uc.cache != nil {
		var cached string
		err := retry.Do(ctx, uc.logger, uc.cachePolicy, "cache.get.summary", requestID, func() error {
			value, err := uc.cache.Get(ctx, summaryCacheKey(requestID))
			if err != nil {
				return err
			}
			cached = value
			return nil
		})
		switch {
		case err == nil:
			var stored StoredSummary
			decodeErr := json.Unmarshal([]byte(cached), &stored)
			if decodeErr == nil {
				return &stored, nil
			}
			opLogger.Warn("failed to decode cached summary", zap.Error(decodeErr))
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	if uc.repo == nil {
		return nil, ErrNotFound
	}
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, logging.NewOperationError("repository.find_by_request_id", requestID, err)
	}
	return storedFromLog(log), nil
}
