package services

import (
	"anclora/types"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker interface defines the methods for tracking individual file conversions
type Tracker interface {
	ConvertFile(ctx context.Context, file *types.SourceFile, targetFormat string, opts types.ConversionOptions) (*types.ConversionResult, error)
	Submit(file *types.SourceFile, targetFormat string, opts types.ConversionOptions, batchID string) (string, error)
	Run(ctx context.Context, id string) (*types.ConversionResult, error)
	RetryConversion(ctx context.Context, id string) (*types.ConversionResult, error)
	CancelConversion(ctx context.Context, id string) bool
	RemoveFile(id string)
	ClearCompleted()
	GetFile(id string) (types.FileConversionStatus, bool)
	GetAllFiles() []types.FileConversionStatus
	AddListener(listener FileListener)
}

// FileListener is told about every tracker transition after it happened.
// Snapshots may arrive out of order; Revision orders them.
type FileListener interface {
	FileChanged(file types.FileConversionStatus)
	FilesRemoved(ids []string)
}

// HistoryRecorder stores terminal conversions
type HistoryRecorder interface {
	Record(ctx context.Context, file types.FileConversionStatus) error
}

// TrackerOptions holds the optional collaborators of a tracker
type TrackerOptions struct {
	Publisher EventPublisher
	History   HistoryRecorder
}

type trackerEntry struct {
	status          types.FileConversionStatus
	cancel          context.CancelFunc
	cancelRequested bool
	cancelDecided   chan struct{} // closed once the API answered the pending cancel
	notificationID  string
	quiet           bool // batch members leave started/progress/completed to the batch
}

// tracker owns every file conversion of the session
type tracker struct {
	entries   map[string]*trackerEntry
	order     []string
	listeners []FileListener
	mu        sync.RWMutex
	api       ConversionAPI
	notifier  Notifier
	publisher EventPublisher
	history   HistoryRecorder
}

// NewTracker creates a new conversion tracker
func NewTracker(api ConversionAPI, notifier Notifier, opts TrackerOptions) Tracker {
	return &tracker{
		entries:   make(map[string]*trackerEntry),
		api:       api,
		notifier:  notifier,
		publisher: publisherOrNop(opts.Publisher),
		history:   opts.History,
	}
}

// ConvertFile converts one file and blocks until it reaches a terminal state.
// Failures are returned as *types.ConversionError.
func (t *tracker) ConvertFile(ctx context.Context, file *types.SourceFile, targetFormat string, opts types.ConversionOptions) (*types.ConversionResult, error) {
	id, err := t.Submit(file, targetFormat, opts, "")
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, id)
}

// Submit validates the request and creates a pending entry
func (t *tracker) Submit(file *types.SourceFile, targetFormat string, opts types.ConversionOptions, batchID string) (string, error) {
	if err := validateSubmission(file, targetFormat); err != nil {
		return "", err
	}

	entry := &trackerEntry{
		status: types.FileConversionStatus{
			ID:           uuid.New().String(),
			File:         file,
			TargetFormat: targetFormat,
			Options:      opts,
			Status:       types.FileStatusPending,
			BatchID:      batchID,
			Attempts:     1,
			StartTime:    time.Now(),
		},
		quiet: batchID != "",
	}

	t.mu.Lock()
	t.entries[entry.status.ID] = entry
	t.order = append(t.order, entry.status.ID)
	snapshot := bumpLocked(entry)
	t.mu.Unlock()

	t.emit(snapshot)
	return snapshot.ID, nil
}

// Run moves a pending entry to processing and calls the conversion API
func (t *tracker) Run(ctx context.Context, id string) (*types.ConversionResult, error) {
	t.mu.Lock()
	entry, exists := t.entries[id]
	if !exists {
		t.mu.Unlock()
		return nil, ErrFileNotFound
	}
	if entry.status.Status != types.FileStatusPending {
		t.mu.Unlock()
		return nil, ErrNotPending
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entry.cancel = cancel
	settleCancelLocked(entry, entry.cancelDecided)
	entry.cancelRequested = false
	entry.status.Status = types.FileStatusProcessing
	entry.status.Progress = 0
	attempt := entry.status.Attempts
	quiet := entry.quiet
	req := ConversionRequest{
		ID:           id,
		File:         entry.status.File,
		TargetFormat: entry.status.TargetFormat,
		Options:      entry.status.Options,
	}
	snapshot := bumpLocked(entry)
	t.mu.Unlock()

	t.emit(snapshot)

	if !quiet {
		notificationID := t.notifier.NotifyFileConversion(types.FileConversionNotice{
			Status:     types.StageStarted,
			FileID:     id,
			FileName:   req.File.Name,
			FileSize:   req.File.Size,
			FileType:   sourceFormat(req.File),
			TargetType: req.TargetFormat,
		})

		t.mu.Lock()
		stillRunning := t.isCurrentLocked(id, entry, attempt) && entry.status.Status == types.FileStatusProcessing
		if stillRunning {
			entry.notificationID = notificationID
		}
		t.mu.Unlock()
		if !stillRunning {
			t.notifier.CloseNotification(notificationID)
		}
	}

	log.Printf("Conversion %s started: %s -> %s", id, req.File.Name, req.TargetFormat)

	result, err := t.api.Convert(runCtx, req, func(progress int) {
		t.handleProgress(id, entry, attempt, progress)
	})
	if err != nil {
		return nil, t.fail(id, entry, attempt, normalizeError(err))
	}
	return t.complete(id, entry, attempt, result)
}

// handleProgress applies a progress report; duplicates, regressions and
// reports for files that are no longer processing are dropped
func (t *tracker) handleProgress(id string, entry *trackerEntry, attempt int, progress int) {
	progress = clampProgress(progress)

	t.mu.Lock()
	if !t.isCurrentLocked(id, entry, attempt) ||
		entry.status.Status != types.FileStatusProcessing ||
		entry.cancelRequested ||
		progress <= entry.status.Progress {
		t.mu.Unlock()
		return
	}
	entry.status.Progress = progress
	notificationID := entry.notificationID
	fileName := entry.status.File.Name
	snapshot := bumpLocked(entry)
	t.mu.Unlock()

	t.emit(snapshot)

	if notificationID != "" {
		message := progressMessage(fileName, progress)
		t.notifier.UpdateNotification(notificationID, types.NotificationUpdate{
			Progress: &progress,
			Message:  &message,
		})
	}
}

func (t *tracker) complete(id string, entry *trackerEntry, attempt int, result *types.ConversionResult) (*types.ConversionResult, error) {
	t.mu.Lock()
	if !t.isCurrentLocked(id, entry, attempt) {
		t.mu.Unlock()
		return result, nil
	}
	if entry.status.Status != types.FileStatusProcessing {
		// cancelled while the API was finishing
		stored := entry.status.Error
		t.mu.Unlock()
		if stored != nil {
			return nil, stored
		}
		return nil, ErrNotPending
	}

	now := time.Now()
	entry.status.Status = types.FileStatusCompleted
	entry.status.Progress = 100
	entry.status.Result = result
	entry.status.Error = nil
	entry.status.EndTime = &now
	entry.cancel = nil
	settleCancelLocked(entry, entry.cancelDecided)
	entry.cancelRequested = false
	notificationID := entry.notificationID
	entry.notificationID = ""
	quiet := entry.quiet
	snapshot := bumpLocked(entry)
	t.mu.Unlock()

	log.Printf("Conversion %s completed successfully", id)

	t.emit(snapshot)
	if notificationID != "" {
		t.notifier.CloseNotification(notificationID)
	}
	if !quiet {
		t.notifier.NotifyFileConversion(types.FileConversionNotice{
			Status:      types.StageCompleted,
			FileID:      id,
			FileName:    snapshot.File.Name,
			FileSize:    snapshot.File.Size,
			FileType:    sourceFormat(snapshot.File),
			TargetType:  snapshot.TargetFormat,
			Progress:    100,
			DownloadURL: result.DownloadURL,
		})
	}
	t.record(snapshot)

	return result, nil
}

func (t *tracker) fail(id string, entry *trackerEntry, attempt int, convErr *types.ConversionError) error {
	t.mu.Lock()
	if !t.isCurrentLocked(id, entry, attempt) {
		t.mu.Unlock()
		return convErr
	}
	if entry.status.Status == types.FileStatusProcessing && entry.cancelDecided != nil {
		// the API may abort the call before confirming the cancel; the cancel outcome decides
		decided := entry.cancelDecided
		t.mu.Unlock()
		<-decided
		t.mu.Lock()
		if !t.isCurrentLocked(id, entry, attempt) {
			t.mu.Unlock()
			return convErr
		}
	}
	if entry.status.Status != types.FileStatusProcessing {
		stored := entry.status.Error
		t.mu.Unlock()
		if stored != nil {
			return stored
		}
		return convErr
	}

	now := time.Now()
	entry.status.Status = types.FileStatusFailed
	entry.status.Error = convErr
	entry.status.Result = nil
	entry.status.EndTime = &now
	entry.cancel = nil
	settleCancelLocked(entry, entry.cancelDecided)
	entry.cancelRequested = false
	notificationID := entry.notificationID
	entry.notificationID = ""
	snapshot := bumpLocked(entry)
	t.mu.Unlock()

	log.Printf("Conversion %s failed: %v", id, convErr)

	t.emit(snapshot)
	if notificationID != "" {
		t.notifier.CloseNotification(notificationID)
	}
	t.notifyFailure(snapshot)
	t.record(snapshot)

	return convErr
}

// RetryConversion resets a failed, retryable entry and runs it again under the same id
func (t *tracker) RetryConversion(ctx context.Context, id string) (*types.ConversionResult, error) {
	t.mu.Lock()
	entry, exists := t.entries[id]
	if !exists {
		t.mu.Unlock()
		return nil, ErrFileNotFound
	}
	if entry.status.Status != types.FileStatusFailed || entry.status.Error == nil || !entry.status.Error.CanRetry {
		t.mu.Unlock()
		return nil, ErrNotRetryable
	}

	entry.status.Status = types.FileStatusPending
	entry.status.Progress = 0
	entry.status.Error = nil
	entry.status.Result = nil
	entry.status.EndTime = nil
	entry.status.StartTime = time.Now()
	entry.status.Attempts++
	snapshot := bumpLocked(entry)
	t.mu.Unlock()

	log.Printf("Conversion %s retrying (attempt %d)", id, snapshot.Attempts)
	t.emit(snapshot)

	return t.Run(ctx, id)
}

// CancelConversion asks the API to stop a processing conversion. It returns
// true only when the API confirmed and the file moved to failed/CANCELLED.
func (t *tracker) CancelConversion(ctx context.Context, id string) bool {
	t.mu.Lock()
	entry, exists := t.entries[id]
	if !exists || entry.status.Status != types.FileStatusProcessing || entry.cancelRequested {
		t.mu.Unlock()
		return false
	}
	entry.cancelRequested = true
	decided := make(chan struct{})
	entry.cancelDecided = decided
	attempt := entry.status.Attempts
	t.mu.Unlock()

	accepted, err := t.api.Cancel(ctx, id)
	if err != nil || !accepted {
		if err != nil {
			log.Printf("Cancel request for conversion %s failed: %v", id, err)
		}
		// a failure reported meanwhile is applied by the run once woken
		t.mu.Lock()
		settleCancelLocked(entry, decided)
		t.mu.Unlock()
		return false
	}

	t.mu.Lock()
	if !t.isCurrentLocked(id, entry, attempt) || entry.status.Status != types.FileStatusProcessing {
		settleCancelLocked(entry, decided)
		t.mu.Unlock()
		return false
	}

	now := time.Now()
	entry.status.Status = types.FileStatusFailed
	entry.status.Error = &types.ConversionError{
		Code:     types.ErrorCodeCancelled,
		Message:  "Conversion cancelled",
		CanRetry: true,
	}
	entry.status.EndTime = &now
	abort := entry.cancel
	entry.cancel = nil
	settleCancelLocked(entry, decided)
	notificationID := entry.notificationID
	entry.notificationID = ""
	snapshot := bumpLocked(entry)
	t.mu.Unlock()

	if abort != nil {
		abort()
	}

	log.Printf("Conversion %s cancelled", id)

	t.emit(snapshot)
	if notificationID != "" {
		t.notifier.CloseNotification(notificationID)
	}
	t.notifyFailure(snapshot)
	t.record(snapshot)

	return true
}

// RemoveFile deletes the entry whatever its state. Unknown ids are ignored.
func (t *tracker) RemoveFile(id string) {
	t.mu.Lock()
	entry, exists := t.entries[id]
	if !exists {
		t.mu.Unlock()
		return
	}
	delete(t.entries, id)
	t.order = removeID(t.order, id)
	abort := entry.cancel
	notificationID := entry.notificationID
	batchID := entry.status.BatchID
	t.mu.Unlock()

	if abort != nil {
		abort()
	}
	if notificationID != "" {
		t.notifier.CloseNotification(notificationID)
	}

	t.publisher.Publish(stampEvent(types.Event{
		Type:       types.EventFilesRemoved,
		FileID:     id,
		BatchID:    batchID,
		RemovedIDs: []string{id},
	}))
	for _, listener := range t.snapshotListeners() {
		listener.FilesRemoved([]string{id})
	}
}

// ClearCompleted removes every completed entry in one update
func (t *tracker) ClearCompleted() {
	t.mu.Lock()
	var removed []string
	kept := make([]string, 0, len(t.order))
	for _, id := range t.order {
		if t.entries[id].status.Status == types.FileStatusCompleted {
			delete(t.entries, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	t.mu.Unlock()

	if len(removed) == 0 {
		return
	}

	t.publisher.Publish(stampEvent(types.Event{
		Type:       types.EventFilesRemoved,
		RemovedIDs: removed,
	}))
	for _, listener := range t.snapshotListeners() {
		listener.FilesRemoved(removed)
	}
}

// GetFile returns a snapshot of one entry
func (t *tracker) GetFile(id string) (types.FileConversionStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, exists := t.entries[id]
	if !exists {
		return types.FileConversionStatus{}, false
	}
	return entry.status, true
}

// GetAllFiles returns snapshots of every entry in submission order
func (t *tracker) GetAllFiles() []types.FileConversionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	files := make([]types.FileConversionStatus, 0, len(t.order))
	for _, id := range t.order {
		files = append(files, t.entries[id].status)
	}
	return files
}

// AddListener registers a listener for every later transition
func (t *tracker) AddListener(listener FileListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, listener)
}

func (t *tracker) snapshotListeners() []FileListener {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]FileListener(nil), t.listeners...)
}

// isCurrentLocked reports whether entry is still registered under id and on
// the same attempt. Caller holds t.mu.
func (t *tracker) isCurrentLocked(id string, entry *trackerEntry, attempt int) bool {
	current, exists := t.entries[id]
	return exists && current == entry && entry.status.Attempts == attempt
}

func (t *tracker) emit(snapshot types.FileConversionStatus) {
	t.publisher.Publish(stampEvent(types.Event{
		Type:    types.EventFileUpdated,
		FileID:  snapshot.ID,
		BatchID: snapshot.BatchID,
		File:    &snapshot,
	}))
	for _, listener := range t.snapshotListeners() {
		listener.FileChanged(snapshot)
	}
}

// notifyFailure raises the single terminal notification of a failed file
func (t *tracker) notifyFailure(snapshot types.FileConversionStatus) {
	convErr := snapshot.Error
	if convErr.CanRetry {
		t.notifier.NotifyFileConversion(types.FileConversionNotice{
			Status:       types.StageError,
			FileID:       snapshot.ID,
			FileName:     snapshot.File.Name,
			FileSize:     snapshot.File.Size,
			FileType:     sourceFormat(snapshot.File),
			TargetType:   snapshot.TargetFormat,
			ErrorMessage: convErr.Message,
			ErrorCode:    convErr.Code,
			OnRetry:      t.retryHandler(snapshot.ID),
		})
		return
	}

	t.notifier.Notify(types.NotificationOptions{
		Title:   "Conversion failed",
		Message: convErr.Message,
		Type:    types.NotificationError,
		Data: &types.NotificationData{
			FileID:    snapshot.ID,
			BatchID:   snapshot.BatchID,
			FileName:  snapshot.File.Name,
			FileSize:  snapshot.File.Size,
			ErrorCode: convErr.Code,
		},
	})
}

func (t *tracker) retryHandler(id string) func() {
	return func() {
		go func() {
			if _, err := t.RetryConversion(context.Background(), id); err != nil &&
				(errors.Is(err, ErrNotRetryable) || errors.Is(err, ErrFileNotFound)) {
				log.Printf("Retry of conversion %s rejected: %v", id, err)
			}
		}()
	}
}

func (t *tracker) record(snapshot types.FileConversionStatus) {
	if t.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.history.Record(ctx, snapshot); err != nil {
		log.Printf("Failed to record conversion %s in history: %v", snapshot.ID, err)
	}
}

// settleCancelLocked ends the cancel request that created decided and wakes a
// run waiting on its outcome. Caller holds the lock.
func settleCancelLocked(entry *trackerEntry, decided chan struct{}) {
	if decided == nil || entry.cancelDecided != decided {
		return
	}
	entry.cancelRequested = false
	entry.cancelDecided = nil
	close(decided)
}

// bumpLocked increments the revision and returns a snapshot. Caller holds the lock.
func bumpLocked(entry *trackerEntry) types.FileConversionStatus {
	entry.status.Revision++
	return entry.status
}

func validateSubmission(file *types.SourceFile, targetFormat string) error {
	var cause error
	switch {
	case file == nil || file.Name == "":
		cause = ErrMissingFile
	case file.Size <= 0:
		cause = ErrEmptyFile
	case targetFormat == "":
		cause = ErrMissingTargetFormat
	default:
		return nil
	}
	return &types.ConversionError{
		Code:     types.ErrorCodeValidation,
		Message:  cause.Error(),
		CanRetry: false,
		Err:      cause,
	}
}

// normalizeError turns anything the API client returned into a ConversionError
func normalizeError(err error) *types.ConversionError {
	var convErr *types.ConversionError
	if errors.As(err, &convErr) {
		c := *convErr
		return &c
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &types.ConversionError{Code: types.ErrorCodeTimeout, Message: "conversion timed out", CanRetry: true, Err: err}
	case errors.Is(err, context.Canceled):
		return &types.ConversionError{Code: types.ErrorCodeCancelled, Message: "conversion was cancelled", CanRetry: true, Err: err}
	default:
		return &types.ConversionError{Code: types.ErrorCodeConversion, Message: fmt.Sprintf("conversion failed: %v", err), CanRetry: true, Err: err}
	}
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
