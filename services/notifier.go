package services

import (
	"anclora/types"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notifier interface defines the methods for dispatching user-facing notifications
type Notifier interface {
	Notify(opts types.NotificationOptions) string
	UpdateNotification(id string, update types.NotificationUpdate)
	CloseNotification(id string)
	NotifySuccess(title, message string) string
	NotifyError(title, message string) string
	NotifyInfo(title, message string) string
	NotifyWarning(title, message string) string
	NotifyProgress(title, message string, progress int) string
	NotifyFileConversion(notice types.FileConversionNotice) string
	GetNotifications() []types.Notification
	History() []types.Notification
	TriggerAction(id string, index int) error
}

// NotifierConfig holds the auto-close durations
type NotifierConfig struct {
	DefaultDuration time.Duration
	SuccessDuration time.Duration
	ErrorDuration   time.Duration
	HistorySize     int
}

// DefaultNotifierConfig returns the durations used when nothing is configured
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		DefaultDuration: 5 * time.Second,
		SuccessDuration: 8 * time.Second,
		ErrorDuration:   10 * time.Second,
		HistorySize:     100,
	}
}

// notifier keeps the active notifications and their expiry timers
type notifier struct {
	notifications map[string]*types.Notification
	order         []string
	timers        map[string]*time.Timer
	generations   map[string]uint64
	history       []types.Notification
	mu            sync.RWMutex
	cfg           NotifierConfig
	publisher     EventPublisher
}

// NewNotifier creates a new notification dispatcher
func NewNotifier(cfg NotifierConfig, publisher EventPublisher) Notifier {
	defaults := DefaultNotifierConfig()
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaults.DefaultDuration
	}
	if cfg.SuccessDuration <= 0 {
		cfg.SuccessDuration = defaults.SuccessDuration
	}
	if cfg.ErrorDuration <= 0 {
		cfg.ErrorDuration = defaults.ErrorDuration
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}

	return &notifier{
		notifications: make(map[string]*types.Notification),
		timers:        make(map[string]*time.Timer),
		generations:   make(map[string]uint64),
		cfg:           cfg,
		publisher:     publisherOrNop(publisher),
	}
}

// Notify creates and displays a notification
func (n *notifier) Notify(opts types.NotificationOptions) string {
	now := time.Now()
	nt := opts.Type
	if nt == "" {
		nt = types.NotificationInfo
	}

	notification := &types.Notification{
		ID:        uuid.New().String(),
		Title:     opts.Title,
		Message:   opts.Message,
		Type:      nt,
		Progress:  copyInt(opts.Progress),
		Actions:   append([]types.NotificationAction(nil), opts.Actions...),
		AutoClose: nt != types.NotificationProgress,
		Duration:  opts.Duration,
		Data:      copyData(opts.Data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.AutoClose != nil {
		notification.AutoClose = *opts.AutoClose
	}
	if notification.Duration <= 0 {
		notification.Duration = n.cfg.DefaultDuration
	}

	n.mu.Lock()
	n.notifications[notification.ID] = notification
	n.order = append(n.order, notification.ID)
	n.scheduleLocked(notification)
	snapshot := cloneNotification(notification)
	n.history = append(n.history, snapshot)
	if len(n.history) > n.cfg.HistorySize {
		n.history = n.history[len(n.history)-n.cfg.HistorySize:]
	}
	n.mu.Unlock()

	n.publish(types.EventNotificationCreated, snapshot)
	return notification.ID
}

// UpdateNotification merges the set fields into an existing notification.
// Unknown or already closed ids are ignored.
func (n *notifier) UpdateNotification(id string, update types.NotificationUpdate) {
	n.mu.Lock()
	notification, exists := n.notifications[id]
	if !exists {
		n.mu.Unlock()
		return
	}

	reschedule := false
	if update.Title != nil {
		notification.Title = *update.Title
	}
	if update.Message != nil {
		notification.Message = *update.Message
	}
	if update.Type != nil && *update.Type != notification.Type {
		notification.Type = *update.Type
		if update.AutoClose == nil {
			notification.AutoClose = notification.Type != types.NotificationProgress
		}
		reschedule = true
	}
	if update.Progress != nil {
		notification.Progress = copyInt(update.Progress)
	}
	if update.Actions != nil {
		notification.Actions = append([]types.NotificationAction(nil), update.Actions...)
	}
	if update.AutoClose != nil && *update.AutoClose != notification.AutoClose {
		notification.AutoClose = *update.AutoClose
		reschedule = true
	}
	if update.Duration != nil && *update.Duration > 0 {
		notification.Duration = *update.Duration
		reschedule = true
	}
	if update.Data != nil {
		notification.Data = copyData(update.Data)
	}
	notification.UpdatedAt = time.Now()
	if reschedule {
		n.scheduleLocked(notification)
	}
	snapshot := cloneNotification(notification)
	n.mu.Unlock()

	n.publish(types.EventNotificationUpdated, snapshot)
}

// CloseNotification removes a notification immediately. Closing twice is a no-op.
func (n *notifier) CloseNotification(id string) {
	n.closeIf(id, 0, false)
}

// closeIf removes the notification; when checkGen is set it only does so if
// the expiry timer that fired is still the current one
func (n *notifier) closeIf(id string, gen uint64, checkGen bool) {
	n.mu.Lock()
	notification, exists := n.notifications[id]
	if !exists || (checkGen && n.generations[id] != gen) {
		n.mu.Unlock()
		return
	}

	delete(n.notifications, id)
	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}
	delete(n.generations, id)
	for i, existing := range n.order {
		if existing == id {
			n.order = append(n.order[:i:i], n.order[i+1:]...)
			break
		}
	}
	snapshot := cloneNotification(notification)
	n.mu.Unlock()

	n.publish(types.EventNotificationClosed, snapshot)
}

// scheduleLocked (re)arms the expiry timer. Caller holds n.mu.
func (n *notifier) scheduleLocked(notification *types.Notification) {
	id := notification.ID
	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}
	n.generations[id]++

	if !notification.AutoClose {
		notification.ExpiresAt = nil
		return
	}

	gen := n.generations[id]
	expiresAt := time.Now().Add(notification.Duration)
	notification.ExpiresAt = &expiresAt
	n.timers[id] = time.AfterFunc(notification.Duration, func() {
		n.closeIf(id, gen, true)
	})
}

// NotifySuccess shows a success notification
func (n *notifier) NotifySuccess(title, message string) string {
	return n.Notify(types.NotificationOptions{Title: title, Message: message, Type: types.NotificationSuccess})
}

// NotifyError shows an error notification
func (n *notifier) NotifyError(title, message string) string {
	return n.Notify(types.NotificationOptions{Title: title, Message: message, Type: types.NotificationError})
}

// NotifyInfo shows an informational notification
func (n *notifier) NotifyInfo(title, message string) string {
	return n.Notify(types.NotificationOptions{Title: title, Message: message, Type: types.NotificationInfo})
}

// NotifyWarning shows a warning notification
func (n *notifier) NotifyWarning(title, message string) string {
	return n.Notify(types.NotificationOptions{Title: title, Message: message, Type: types.NotificationWarning})
}

// NotifyProgress shows a progress notification that stays until updated or closed
func (n *notifier) NotifyProgress(title, message string, progress int) string {
	p := clampProgress(progress)
	return n.Notify(types.NotificationOptions{Title: title, Message: message, Type: types.NotificationProgress, Progress: &p})
}

// NotifyFileConversion builds the notification for a conversion lifecycle stage
func (n *notifier) NotifyFileConversion(notice types.FileConversionNotice) string {
	source := formatLabel(notice.FileType)
	target := formatLabel(notice.TargetType)
	data := &types.NotificationData{
		FileID:   notice.FileID,
		FileName: notice.FileName,
		FileSize: notice.FileSize,
	}

	switch notice.Status {
	case types.StageStarted:
		progress := 0
		return n.Notify(types.NotificationOptions{
			Title:    fmt.Sprintf("Converting %s", notice.FileName),
			Message:  fmt.Sprintf("Converting %s from %s to %s", notice.FileName, source, target),
			Type:     types.NotificationProgress,
			Progress: &progress,
			Data:     data,
		})

	case types.StageProgress:
		progress := clampProgress(notice.Progress)
		return n.Notify(types.NotificationOptions{
			Title:    fmt.Sprintf("Converting %s", notice.FileName),
			Message:  progressMessage(notice.FileName, progress),
			Type:     types.NotificationProgress,
			Progress: &progress,
			Data:     data,
		})

	case types.StageCompleted:
		data.DownloadURL = notice.DownloadURL
		return n.Notify(types.NotificationOptions{
			Title:   "Conversion completed",
			Message: fmt.Sprintf("%s was converted to %s", notice.FileName, target),
			Type:    types.NotificationSuccess,
			Actions: []types.NotificationAction{{
				Label:  "Download",
				Kind:   types.ActionDownload,
				URL:    notice.DownloadURL,
				FileID: notice.FileID,
			}},
			Duration: n.cfg.SuccessDuration,
			Data:     data,
		})

	default:
		message := notice.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("%s could not be converted to %s", notice.FileName, target)
		}
		data.ErrorCode = notice.ErrorCode
		return n.Notify(types.NotificationOptions{
			Title:   "Conversion failed",
			Message: message,
			Type:    types.NotificationError,
			Actions: []types.NotificationAction{{
				Label:   "Retry",
				Kind:    types.ActionRetry,
				FileID:  notice.FileID,
				Handler: notice.OnRetry,
			}},
			Duration: n.cfg.ErrorDuration,
			Data:     data,
		})
	}
}

// GetNotifications returns the active notifications in creation order
func (n *notifier) GetNotifications() []types.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()

	notifications := make([]types.Notification, 0, len(n.order))
	for _, id := range n.order {
		notifications = append(notifications, cloneNotification(n.notifications[id]))
	}
	return notifications
}

// History returns every notification created, as it was at creation, oldest first
func (n *notifier) History() []types.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]types.Notification(nil), n.history...)
}

// TriggerAction runs an action handler and closes the notification
func (n *notifier) TriggerAction(id string, index int) error {
	n.mu.RLock()
	notification, exists := n.notifications[id]
	if !exists {
		n.mu.RUnlock()
		return ErrNotificationNotFound
	}
	if index < 0 || index >= len(notification.Actions) {
		n.mu.RUnlock()
		return ErrActionNotFound
	}
	handler := notification.Actions[index].Handler
	n.mu.RUnlock()

	if handler == nil {
		return ErrActionHasNoHandler
	}
	handler()
	n.CloseNotification(id)
	return nil
}

func (n *notifier) publish(eventType types.EventType, notification types.Notification) {
	event := types.Event{
		Type:         eventType,
		Notification: &notification,
	}
	if notification.Data != nil {
		event.FileID = notification.Data.FileID
		event.BatchID = notification.Data.BatchID
	}
	n.publisher.Publish(stampEvent(event))
}

func cloneNotification(notification *types.Notification) types.Notification {
	clone := *notification
	clone.Progress = copyInt(notification.Progress)
	clone.Actions = append([]types.NotificationAction(nil), notification.Actions...)
	clone.Data = copyData(notification.Data)
	if notification.ExpiresAt != nil {
		expiresAt := *notification.ExpiresAt
		clone.ExpiresAt = &expiresAt
	}
	return clone
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyData(d *types.NotificationData) *types.NotificationData {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func progressMessage(fileName string, progress int) string {
	return fmt.Sprintf("%s: %d%%", fileName, progress)
}

// formatLabel turns "application/pdf", ".pdf" or "pdf" into "PDF"
func formatLabel(format string) string {
	if i := strings.LastIndex(format, "/"); i >= 0 {
		format = format[i+1:]
	}
	format = strings.TrimPrefix(format, ".")
	if format == "" {
		return "?"
	}
	return strings.ToUpper(format)
}

// sourceFormat derives a display format for a file from its name, then its MIME type
func sourceFormat(file *types.SourceFile) string {
	if file == nil {
		return ""
	}
	if ext := filepath.Ext(file.Name); ext != "" {
		return ext
	}
	return file.Type
}
