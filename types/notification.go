package types

import "time"

// NotificationType controls how a notification is presented
type NotificationType string

const (
	NotificationSuccess  NotificationType = "success"
	NotificationError    NotificationType = "error"
	NotificationInfo     NotificationType = "info"
	NotificationWarning  NotificationType = "warning"
	NotificationProgress NotificationType = "progress"
)

// ActionKind tells clients what an action does without running its handler
type ActionKind string

const (
	ActionDownload ActionKind = "download"
	ActionRetry    ActionKind = "retry"
	ActionCustom   ActionKind = "custom"
)

// NotificationAction is a button attached to a notification
type NotificationAction struct {
	Label   string     `json:"label"`
	Kind    ActionKind `json:"kind"`
	URL     string     `json:"url,omitempty"`
	FileID  string     `json:"fileId,omitempty"`
	Handler func()     `json:"-"`
}

// NotificationData carries the payload a client may want to render
type NotificationData struct {
	FileID      string `json:"fileId,omitempty"`
	BatchID     string `json:"batchId,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
}

// Notification is a user-facing message
type Notification struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Message   string               `json:"message,omitempty"`
	Type      NotificationType     `json:"type"`
	Progress  *int                 `json:"progress,omitempty"`
	Actions   []NotificationAction `json:"actions,omitempty"`
	AutoClose bool                 `json:"autoClose"`
	Duration  time.Duration        `json:"-"`
	ExpiresAt *time.Time           `json:"expiresAt,omitempty"`
	Data      *NotificationData    `json:"data,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// NotificationOptions describes a notification to create. A nil AutoClose
// means auto-close, except for progress notifications.
type NotificationOptions struct {
	Title     string
	Message   string
	Type      NotificationType
	Progress  *int
	Actions   []NotificationAction
	AutoClose *bool
	Duration  time.Duration
	Data      *NotificationData
}

// NotificationUpdate is a partial update; nil fields are left untouched
type NotificationUpdate struct {
	Title     *string
	Message   *string
	Type      *NotificationType
	Progress  *int
	Actions   []NotificationAction
	AutoClose *bool
	Duration  *time.Duration
	Data      *NotificationData
}

// FileConversionStage is the lifecycle stage reported to NotifyFileConversion
type FileConversionStage string

const (
	StageStarted   FileConversionStage = "started"
	StageProgress  FileConversionStage = "progress"
	StageCompleted FileConversionStage = "completed"
	StageError     FileConversionStage = "error"
)

// FileConversionNotice describes a file conversion event to notify about
type FileConversionNotice struct {
	Status       FileConversionStage
	FileID       string
	FileName     string
	FileSize     int64
	FileType     string
	TargetType   string
	Progress     int
	DownloadURL  string
	ErrorMessage string
	ErrorCode    string
	OnRetry      func()
}
