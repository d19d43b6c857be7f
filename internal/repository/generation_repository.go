package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceswap-gateway/internal/retry"
)

// ErrNotFound is returned when no log exists for a request id.
var ErrNotFound = errors.New("generation log not found")

// GenerationLog is the persisted outcome of one generate or generate-batch call.
// Image data is never stored.
type GenerationLog struct {
	ID           uint             `gorm:"primaryKey"`
	RequestID    string           `gorm:"column:request_id;uniqueIndex;size:64"`
	Mode         string           `gorm:"column:mode;size:16"`
	Total        int              `gorm:"column:total"`
	SuccessCount int              `gorm:"column:success_count"`
	FailureCount int              `gorm:"column:failure_count"`
	AspectRatio  string           `gorm:"column:aspect_ratio;size:16"`
	Quality      string           `gorm:"column:quality;size:16"`
	CreatedAt    time.Time        `gorm:"column:created_at"`
	Items        []GenerationItem `gorm:"foreignKey:LogID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name.
func (GenerationLog) TableName() string {
	return "generation_logs"
}

// GenerationItem is the outcome of one target image.
type GenerationItem struct {
	ID           uint   `gorm:"primaryKey"`
	LogID        uint   `gorm:"column:log_id;index"`
	Index        int    `gorm:"column:item_index"`
	Filename     string `gorm:"column:filename;size:255"`
	Success      bool   `gorm:"column:success"`
	MIMEType     string `gorm:"column:mime_type;size:64"`
	ErrorKind    string `gorm:"column:error_kind;size:32"`
	ErrorMessage string `gorm:"column:error_message;type:text"`
}

// TableName overrides the default table name.
func (GenerationItem) TableName() string {
	return "generation_items"
}

// GenerationRepository persists generation logs.
type GenerationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewGenerationRepository creates a new repository instance.
func NewGenerationRepository(db *gorm.DB, logger *zap.Logger) *GenerationRepository {
	return &GenerationRepository{db: db, logger: logger.Named("generation_repository"), policy: retry.DefaultPolicy}
}

// AutoMigrate ensures the schema is available.
func (r *GenerationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&GenerationLog{}, &GenerationItem{})
}

// SaveLog persists a log with its items, retrying transient failures.
func (r *GenerationRepository) SaveLog(ctx context.Context, log *GenerationLog) error {
	return retry.Do(ctx, r.logger, r.policy, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID loads a log with its items ordered by input index.
func (r *GenerationRepository) FindByRequestID(ctx context.Context, requestID string) (*GenerationLog, error) {
	var log GenerationLog
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("item_index ASC") }).
		First(&log, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}
