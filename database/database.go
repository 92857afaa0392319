package database

import (
	"anclora/types"
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConversionRecord is the stored form of a terminal conversion. A retried
// conversion keeps its id, so the latest attempt overwrites the row.
type ConversionRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	BatchID      string `gorm:"index;size:36"`
	FileName     string `gorm:"not null"`
	FileSize     int64
	SourceType   string
	TargetFormat string           `gorm:"index;not null"`
	Status       types.FileStatus `gorm:"index;not null"`
	ErrorCode    string
	ErrorMessage string
	DownloadURL  string
	Attempts     int
	StartTime    time.Time
	EndTime      *time.Time
	DurationMs   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists conversion history for usage analytics
type Store interface {
	Record(ctx context.Context, file types.FileConversionStatus) error
	Recent(ctx context.Context, limit int) ([]types.HistoryEntry, error)
	Summary(ctx context.Context) (*types.UsageSummary, error)
}

type store struct {
	db *gorm.DB
}

// Open connects to postgres
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// NewStore migrates the schema and returns a store backed by db
func NewStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&ConversionRecord{}); err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

// Record saves a terminal conversion; other states are ignored
func (s *store) Record(ctx context.Context, file types.FileConversionStatus) error {
	if !file.Status.IsTerminal() {
		return nil
	}
	record := NewRecord(file)
	return s.db.WithContext(ctx).Save(&record).Error
}

// Recent returns the newest entries first
func (s *store) Recent(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var records []ConversionRecord
	result := s.db.WithContext(ctx).Order("updated_at desc").Limit(limit).Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	entries := make([]types.HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.Entry())
	}
	return entries, nil
}

// Summary counts the stored conversions by status and target format
func (s *store) Summary(ctx context.Context) (*types.UsageSummary, error) {
	db := s.db.WithContext(ctx).Model(&ConversionRecord{})
	summary := &types.UsageSummary{
		ByStatus: make(map[string]int64),
		ByFormat: make(map[string]int64),
	}

	if err := db.Count(&summary.Total).Error; err != nil {
		return nil, err
	}

	var byStatus []struct {
		Label string
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&ConversionRecord{}).
		Select("status as label, count(*) as count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		summary.ByStatus[row.Label] = row.Count
	}

	var byFormat []struct {
		Label string
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&ConversionRecord{}).
		Select("target_format as label, count(*) as count").Group("target_format").Scan(&byFormat).Error; err != nil {
		return nil, err
	}
	for _, row := range byFormat {
		summary.ByFormat[row.Label] = row.Count
	}

	if err := s.db.WithContext(ctx).Model(&ConversionRecord{}).
		Select("coalesce(sum(file_size), 0)").Scan(&summary.BytesIn).Error; err != nil {
		return nil, err
	}

	return summary, nil
}

// NewRecord flattens a tracker snapshot into a row
func NewRecord(file types.FileConversionStatus) ConversionRecord {
	record := ConversionRecord{
		ID:           file.ID,
		BatchID:      file.BatchID,
		TargetFormat: file.TargetFormat,
		Status:       file.Status,
		Attempts:     file.Attempts,
		StartTime:    file.StartTime,
		EndTime:      file.EndTime,
	}
	if file.File != nil {
		record.FileName = file.File.Name
		record.FileSize = file.File.Size
		record.SourceType = file.File.Type
	}
	if file.Error != nil {
		record.ErrorCode = file.Error.Code
		record.ErrorMessage = file.Error.Message
	}
	if file.Result != nil {
		record.DownloadURL = file.Result.DownloadURL
	}
	if file.EndTime != nil {
		record.DurationMs = file.EndTime.Sub(file.StartTime).Milliseconds()
	}
	return record
}

// Entry converts the row to its API form
func (r ConversionRecord) Entry() types.HistoryEntry {
	return types.HistoryEntry{
		ID:           r.ID,
		BatchID:      r.BatchID,
		FileName:     r.FileName,
		FileSize:     r.FileSize,
		SourceType:   r.SourceType,
		TargetFormat: r.TargetFormat,
		Status:       r.Status,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		DownloadURL:  r.DownloadURL,
		Attempts:     r.Attempts,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		DurationMs:   r.DurationMs,
	}
}
