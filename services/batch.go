package services

import (
	"anclora/types"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchAggregator interface defines the methods for converting several files as one unit
type BatchAggregator interface {
	ConvertBatch(files []*types.SourceFile, targetFormat string, opts types.ConversionOptions) (string, error)
	GetBatch(id string) (types.BatchConversionStatus, bool)
	GetAllBatches() []types.BatchConversionStatus
}

// BatchOptions configures the aggregator
type BatchOptions struct {
	MaxConcurrent int
	Publisher     EventPublisher
}

type batchState struct {
	status               types.BatchConversionStatus
	fileIDs              []string
	files                map[string]types.FileConversionStatus
	notified             bool
	notificationID       string
	lastNotifiedProgress int
}

// batchChange is what a locked refresh hands to the unlocked side
type batchChange struct {
	snapshot       types.BatchConversionStatus
	finished       bool
	notificationID string
	progressUpdate bool
}

// batchAggregator derives batch counts from tracker transitions
type batchAggregator struct {
	batches     map[string]*batchState
	order       []string
	fileToBatch map[string]string
	mu          sync.RWMutex
	tracker     Tracker
	notifier    Notifier
	publisher   EventPublisher
	sem         chan struct{}
	ctx         context.Context
}

// NewBatchAggregator creates an aggregator and registers it with the tracker.
// Dispatched conversions run under ctx.
func NewBatchAggregator(ctx context.Context, tracker Tracker, notifier Notifier, opts BatchOptions) BatchAggregator {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	a := &batchAggregator{
		batches:     make(map[string]*batchState),
		fileToBatch: make(map[string]string),
		tracker:     tracker,
		notifier:    notifier,
		publisher:   publisherOrNop(opts.Publisher),
		sem:         make(chan struct{}, maxConcurrent),
		ctx:         ctx,
	}
	tracker.AddListener(a)
	return a
}

// ConvertBatch validates every file, registers the batch and dispatches the
// conversions in the background
func (a *batchAggregator) ConvertBatch(files []*types.SourceFile, targetFormat string, opts types.ConversionOptions) (string, error) {
	if len(files) == 0 {
		return "", &types.ConversionError{
			Code:    types.ErrorCodeValidation,
			Message: ErrNoFiles.Error(),
			Err:     ErrNoFiles,
		}
	}
	for _, file := range files {
		if err := validateSubmission(file, targetFormat); err != nil {
			return "", err
		}
	}

	batchID := uuid.New().String()
	ids := make([]string, 0, len(files))
	for _, file := range files {
		id, err := a.tracker.Submit(file, targetFormat, opts, batchID)
		if err != nil {
			for _, submitted := range ids {
				a.tracker.RemoveFile(submitted)
			}
			return "", fmt.Errorf("failed to submit %s: %w", file.Name, err)
		}
		ids = append(ids, id)
	}

	state := &batchState{
		status: types.BatchConversionStatus{
			BatchID:      batchID,
			TargetFormat: targetFormat,
			StartedAt:    time.Now(),
		},
		fileIDs: ids,
		files:   make(map[string]types.FileConversionStatus, len(ids)),
	}
	for _, id := range ids {
		if file, ok := a.tracker.GetFile(id); ok {
			state.files[id] = file
		}
	}

	notificationID := a.notifier.Notify(types.NotificationOptions{
		Title:    fmt.Sprintf("Converting %d files", len(ids)),
		Message:  batchProgressMessage(0, len(ids)),
		Type:     types.NotificationProgress,
		Progress: new(int),
		Data:     &types.NotificationData{BatchID: batchID},
	})

	a.mu.Lock()
	state.notificationID = notificationID
	a.batches[batchID] = state
	a.order = append(a.order, batchID)
	for _, id := range ids {
		a.fileToBatch[id] = batchID
	}
	change := a.refreshLocked(state)
	a.mu.Unlock()

	log.Printf("Batch %s queued with %d files -> %s", batchID, len(ids), targetFormat)
	a.apply(change)

	for _, id := range ids {
		go a.dispatch(id)
	}

	return batchID, nil
}

// dispatch runs one member conversion once a slot is free
func (a *batchAggregator) dispatch(id string) {
	select {
	case a.sem <- struct{}{}:
	case <-a.ctx.Done():
		return
	}
	defer func() { <-a.sem }()

	// failures are already recorded on the tracker entry and notified
	_, _ = a.tracker.Run(a.ctx, id)
}

// FileChanged folds a member snapshot into its batch
func (a *batchAggregator) FileChanged(file types.FileConversionStatus) {
	if file.BatchID == "" {
		return
	}

	a.mu.Lock()
	state, exists := a.batches[file.BatchID]
	if !exists {
		a.mu.Unlock()
		return
	}
	previous, member := state.files[file.ID]
	if !member || file.Revision <= previous.Revision {
		a.mu.Unlock()
		return
	}
	state.files[file.ID] = file
	change := a.refreshLocked(state)
	a.mu.Unlock()

	a.apply(change)
}

// FilesRemoved drops references to removed files; emptied batches are removed
func (a *batchAggregator) FilesRemoved(ids []string) {
	var changes []batchChange
	var removedBatches []string
	var staleNotifications []string

	a.mu.Lock()
	touched := make(map[string]*batchState)
	for _, id := range ids {
		batchID, ok := a.fileToBatch[id]
		if !ok {
			continue
		}
		delete(a.fileToBatch, id)
		state := a.batches[batchID]
		delete(state.files, id)
		state.fileIDs = removeID(state.fileIDs, id)
		touched[batchID] = state
	}
	for batchID, state := range touched {
		if len(state.fileIDs) == 0 {
			delete(a.batches, batchID)
			a.order = removeID(a.order, batchID)
			removedBatches = append(removedBatches, batchID)
			if state.notificationID != "" {
				staleNotifications = append(staleNotifications, state.notificationID)
			}
			continue
		}
		changes = append(changes, a.refreshLocked(state))
	}
	a.mu.Unlock()

	for _, notificationID := range staleNotifications {
		a.notifier.CloseNotification(notificationID)
	}
	for _, batchID := range removedBatches {
		a.publisher.Publish(stampEvent(types.Event{
			Type:       types.EventBatchRemoved,
			BatchID:    batchID,
			RemovedIDs: []string{batchID},
		}))
	}
	for _, change := range changes {
		a.apply(change)
	}
}

// GetBatch returns a snapshot of one batch
func (a *batchAggregator) GetBatch(id string) (types.BatchConversionStatus, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state, exists := a.batches[id]
	if !exists {
		return types.BatchConversionStatus{}, false
	}
	return snapshotBatchLocked(state), true
}

// GetAllBatches returns every batch in creation order
func (a *batchAggregator) GetAllBatches() []types.BatchConversionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	batches := make([]types.BatchConversionStatus, 0, len(a.order))
	for _, id := range a.order {
		batches = append(batches, snapshotBatchLocked(a.batches[id]))
	}
	return batches
}

// refreshLocked recounts the buckets from member snapshots. Caller holds a.mu.
func (a *batchAggregator) refreshLocked(state *batchState) batchChange {
	status := &state.status
	status.Revision++
	status.TotalFiles = len(state.fileIDs)
	status.Pending, status.InProgress, status.Completed, status.Failed = 0, 0, 0, 0
	for _, id := range state.fileIDs {
		switch state.files[id].Status {
		case types.FileStatusProcessing:
			status.InProgress++
		case types.FileStatusCompleted:
			status.Completed++
		case types.FileStatusFailed:
			status.Failed++
		default:
			status.Pending++
		}
	}

	status.OverallProgress = 0
	if status.TotalFiles > 0 {
		status.OverallProgress = 100 * (status.Completed + status.Failed) / status.TotalFiles
	}

	switch {
	case !status.Finished():
		// a retried member reopens the batch
		status.FinishedAt = nil
	case status.FinishedAt == nil:
		now := time.Now()
		status.FinishedAt = &now
	}

	change := batchChange{}
	if status.Finished() && !state.notified {
		state.notified = true
		change.finished = true
		change.notificationID = state.notificationID
		state.notificationID = ""
	} else if state.notificationID != "" && status.OverallProgress != state.lastNotifiedProgress {
		state.lastNotifiedProgress = status.OverallProgress
		change.notificationID = state.notificationID
		change.progressUpdate = true
	}

	change.snapshot = snapshotBatchLocked(state)
	return change
}

// apply publishes a batch change and raises its notifications
func (a *batchAggregator) apply(change batchChange) {
	snapshot := change.snapshot
	a.publisher.Publish(stampEvent(types.Event{
		Type:    types.EventBatchUpdated,
		BatchID: snapshot.BatchID,
		Batch:   &snapshot,
	}))

	if change.progressUpdate {
		progress := snapshot.OverallProgress
		message := batchProgressMessage(snapshot.Completed+snapshot.Failed, snapshot.TotalFiles)
		a.notifier.UpdateNotification(change.notificationID, types.NotificationUpdate{
			Progress: &progress,
			Message:  &message,
		})
		return
	}

	if !change.finished {
		return
	}
	if change.notificationID != "" {
		a.notifier.CloseNotification(change.notificationID)
	}

	nt := types.NotificationWarning
	switch {
	case snapshot.Failed == 0:
		nt = types.NotificationSuccess
	case snapshot.Completed == 0:
		nt = types.NotificationError
	}

	log.Printf("Batch %s finished: %d completed, %d failed", snapshot.BatchID, snapshot.Completed, snapshot.Failed)
	a.notifier.Notify(types.NotificationOptions{
		Title:   "Batch conversion finished",
		Message: fmt.Sprintf("%d completed, %d failed", snapshot.Completed, snapshot.Failed),
		Type:    nt,
		Data:    &types.NotificationData{BatchID: snapshot.BatchID},
	})
}

func snapshotBatchLocked(state *batchState) types.BatchConversionStatus {
	snapshot := state.status
	snapshot.Files = make([]types.FileConversionStatus, 0, len(state.fileIDs))
	for _, id := range state.fileIDs {
		snapshot.Files = append(snapshot.Files, state.files[id])
	}
	if state.status.FinishedAt != nil {
		finishedAt := *state.status.FinishedAt
		snapshot.FinishedAt = &finishedAt
	}
	return snapshot
}

func batchProgressMessage(done, total int) string {
	return fmt.Sprintf("%d of %d files converted", done, total)
}
