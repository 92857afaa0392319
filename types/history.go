package types

import "time"

// HistoryEntry is a terminal conversion as stored for usage analytics
type HistoryEntry struct {
	ID           string     `json:"id"`
	BatchID      string     `json:"batchId,omitempty"`
	FileName     string     `json:"fileName"`
	FileSize     int64      `json:"fileSize"`
	SourceType   string     `json:"sourceType,omitempty"`
	TargetFormat string     `json:"targetFormat"`
	Status       FileStatus `json:"status"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	DownloadURL  string     `json:"downloadUrl,omitempty"`
	Attempts     int        `json:"attempts"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	DurationMs   int64      `json:"durationMs"`
}

// UsageSummary aggregates the stored history
type UsageSummary struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
	ByFormat map[string]int64 `json:"byFormat"`
	BytesIn  int64            `json:"bytesIn"`
}
