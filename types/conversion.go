package types

import (
	"fmt"
	"time"
)

// FileStatus represents the current status of a file conversion
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// IsTerminal reports whether no further automatic transition can happen
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted || s == FileStatusFailed
}

// Error codes produced by the orchestration layer. Codes reported by the
// conversion API are passed through untouched.
const (
	ErrorCodeValidation      = "VALIDATION_ERROR"
	ErrorCodeCancelled       = "CANCELLED"
	ErrorCodeTimeout         = "TIMEOUT"
	ErrorCodeNetwork         = "NETWORK_ERROR"
	ErrorCodeInvalidResponse = "INVALID_RESPONSE"
	ErrorCodeConversion      = "CONVERSION_FAILED"
)

// ConversionOptions are passed through to the conversion API untouched
type ConversionOptions map[string]interface{}

// ConversionResult is what the conversion API returns for a finished file
type ConversionResult struct {
	DownloadURL    string                 `json:"downloadUrl"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ProcessingTime float64                `json:"processingTime"` // seconds, as reported by the API
}

// ConversionError is the structured failure stored on a failed file
type ConversionError struct {
	Code     string `json:"errorCode"`
	Message  string `json:"errorMessage"`
	CanRetry bool   `json:"canRetry"`
	Err      error  `json:"-"`
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// FileConversionStatus tracks one file from submission to a terminal state
type FileConversionStatus struct {
	ID           string            `json:"id"`
	File         *SourceFile       `json:"file"`
	TargetFormat string            `json:"targetFormat"`
	Options      ConversionOptions `json:"options,omitempty"`
	Status       FileStatus        `json:"status"`
	Progress     int               `json:"progress"`
	Result       *ConversionResult `json:"result,omitempty"`
	Error        *ConversionError  `json:"error,omitempty"`
	BatchID      string            `json:"batchId,omitempty"`
	Attempts     int               `json:"attempts"`
	Revision     uint64            `json:"revision"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      *time.Time        `json:"endTime,omitempty"`
}

// BatchConversionStatus aggregates the files submitted together.
// Pending + InProgress + Completed + Failed always equals TotalFiles.
type BatchConversionStatus struct {
	BatchID         string                 `json:"batchId"`
	TargetFormat    string                 `json:"targetFormat"`
	TotalFiles      int                    `json:"totalFiles"`
	Completed       int                    `json:"completed"`
	Failed          int                    `json:"failed"`
	InProgress      int                    `json:"inProgress"`
	Pending         int                    `json:"pending"`
	OverallProgress int                    `json:"overallProgress"`
	Files           []FileConversionStatus `json:"files"`
	Revision        uint64                 `json:"revision"`
	StartedAt       time.Time              `json:"startedAt"`
	FinishedAt      *time.Time             `json:"finishedAt,omitempty"`
}

// Finished reports whether every file in the batch reached a terminal state
func (b BatchConversionStatus) Finished() bool {
	return b.TotalFiles > 0 && b.Completed+b.Failed == b.TotalFiles
}
