package services

import (
	"anclora/types"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const summaryTitle = "Batch conversion finished"

type batchFixture struct {
	*trackerFixture
	aggregator BatchAggregator
}

func newBatchFixture(t *testing.T, maxConcurrent int) *batchFixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := newTrackerFixture()
	return &batchFixture{
		trackerFixture: f,
		aggregator: NewBatchAggregator(ctx, f.tracker, f.notifier, BatchOptions{
			MaxConcurrent: maxConcurrent,
			Publisher:     f.publisher,
		}),
	}
}

func (f *batchFixture) waitFinished(t *testing.T, batchID string) types.BatchConversionStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		batch, ok := f.aggregator.GetBatch(batchID)
		return ok && batch.FinishedAt != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(withTitle(f.notifier.History(), summaryTitle)) > 0
	}, 2*time.Second, 5*time.Millisecond)

	batch, _ := f.aggregator.GetBatch(batchID)
	return batch
}

func files(names ...string) []*types.SourceFile {
	sources := make([]*types.SourceFile, 0, len(names))
	for _, name := range names {
		sources = append(sources, sourceFile(name))
	}
	return sources
}

func TestBatchWithOneFailure(t *testing.T) {
	f := newBatchFixture(t, 3)
	f.api.on("b.png", failWith(retryableError("HTTP_500")))

	batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png", "c.png"), "webp", nil)
	require.NoError(t, err)

	batch := f.waitFinished(t, batchID)
	assert.Equal(t, 3, batch.TotalFiles)
	assert.Equal(t, 2, batch.Completed)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 0, batch.InProgress)
	assert.Equal(t, 0, batch.Pending)
	assert.Equal(t, 100, batch.OverallProgress)
	assert.Len(t, batch.Files, 3)

	time.Sleep(50 * time.Millisecond)
	summaries := withTitle(f.notifier.History(), summaryTitle)
	require.Len(t, summaries, 1)
	assert.Equal(t, "2 completed, 1 failed", summaries[0].Message)
	assert.Equal(t, types.NotificationWarning, summaries[0].Type)
	assert.Equal(t, batchID, summaries[0].Data.BatchID)

	// the failing member still raises its own retryable error
	failed := withTitle(f.notifier.History(), "Conversion failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "b.png", failed[0].Data.FileName)
}

func TestBatchSummaryType(t *testing.T) {
	cases := []struct {
		name    string
		failing []string
		want    types.NotificationType
		message string
	}{
		{"all succeed", nil, types.NotificationSuccess, "2 completed, 0 failed"},
		{"all fail", []string{"a.png", "b.png"}, types.NotificationError, "0 completed, 2 failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newBatchFixture(t, 2)
			for _, name := range tc.failing {
				f.api.on(name, failWith(retryableError("HTTP_500")))
			}

			batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png"), "jpg", nil)
			require.NoError(t, err)
			f.waitFinished(t, batchID)

			summaries := withTitle(f.notifier.History(), summaryTitle)
			require.Len(t, summaries, 1)
			assert.Equal(t, tc.want, summaries[0].Type)
			assert.Equal(t, tc.message, summaries[0].Message)
		})
	}
}

func TestBatchCountsAlwaysAddUp(t *testing.T) {
	f := newBatchFixture(t, 2)
	f.api.on("c.png", failWith(retryableError("HTTP_500")))

	batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png", "c.png", "d.png", "e.png"), "webp", nil)
	require.NoError(t, err)
	f.waitFinished(t, batchID)

	updates := f.publisher.ofType(types.EventBatchUpdated)
	require.NotEmpty(t, updates)
	for _, event := range updates {
		b := event.Batch
		assert.Equal(t, b.TotalFiles, b.Pending+b.InProgress+b.Completed+b.Failed)
		assert.Equal(t, 100*(b.Completed+b.Failed)/b.TotalFiles, b.OverallProgress)
	}
}

func TestBatchSummaryFiresOnceWhenFilesFinishTogether(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("run %d", i), func(t *testing.T) {
			f := newBatchFixture(t, 2)
			release := make(chan struct{})
			f.api.fallback = blockUntil(release, nil)

			batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png"), "webp", nil)
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return f.api.current() == 2
			}, 2*time.Second, time.Millisecond)
			close(release)

			batch := f.waitFinished(t, batchID)
			assert.Equal(t, 2, batch.Completed)

			time.Sleep(20 * time.Millisecond)
			assert.Len(t, withTitle(f.notifier.History(), summaryTitle), 1)
		})
	}
}

func TestBatchRespectsConcurrencyLimit(t *testing.T) {
	f := newBatchFixture(t, 2)
	f.api.fallback = func(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error) {
		time.Sleep(10 * time.Millisecond)
		return succeedWith(50)(ctx, req, onProgress)
	}

	batchID, err := f.aggregator.ConvertBatch(files("1.png", "2.png", "3.png", "4.png", "5.png", "6.png"), "jpg", nil)
	require.NoError(t, err)

	batch := f.waitFinished(t, batchID)
	assert.Equal(t, 6, batch.Completed)
	assert.LessOrEqual(t, f.api.peak(), 2)
}

func TestBatchMembersDoNotRaiseFileNotifications(t *testing.T) {
	f := newBatchFixture(t, 3)

	batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png"), "webp", nil)
	require.NoError(t, err)
	f.waitFinished(t, batchID)

	history := f.notifier.History()
	assert.Empty(t, withTitle(history, "Converting a.png"))
	assert.Empty(t, withTitle(history, "Conversion completed"))
	require.Len(t, withTitle(history, "Converting 2 files"), 1)

	// the batch progress notification is replaced by the summary
	active := f.notifier.GetNotifications()
	require.Len(t, active, 1)
	assert.Equal(t, summaryTitle, active[0].Title)
}

func TestBatchProgressNotificationFollowsCounts(t *testing.T) {
	f := newBatchFixture(t, 2)
	release := make(chan struct{})
	f.api.on("b.png", blockUntil(release, nil))

	batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png"), "webp", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		batch, _ := f.aggregator.GetBatch(batchID)
		return batch.Completed == 1 && batch.InProgress == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		progress := withTitle(f.notifier.GetNotifications(), "Converting 2 files")
		return len(progress) == 1 && *progress[0].Progress == 50
	}, 2*time.Second, 5*time.Millisecond)
	progress := withTitle(f.notifier.GetNotifications(), "Converting 2 files")[0]
	assert.Equal(t, "1 of 2 files converted", progress.Message)

	close(release)
	f.waitFinished(t, batchID)
}

func TestConvertBatchValidates(t *testing.T) {
	f := newBatchFixture(t, 2)

	_, err := f.aggregator.ConvertBatch(nil, "pdf", nil)
	assert.ErrorIs(t, err, ErrNoFiles)

	_, err = f.aggregator.ConvertBatch(files("a.txt", "b.txt"), "", nil)
	assert.ErrorIs(t, err, ErrMissingTargetFormat)

	_, err = f.aggregator.ConvertBatch([]*types.SourceFile{sourceFile("a.txt"), {Name: "empty.txt"}}, "pdf", nil)
	var convErr *types.ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, types.ErrorCodeValidation, convErr.Code)

	assert.Empty(t, f.tracker.GetAllFiles())
	assert.Empty(t, f.aggregator.GetAllBatches())
}

func TestRemovingAllMembersRemovesBatch(t *testing.T) {
	f := newBatchFixture(t, 2)

	batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png"), "jpg", nil)
	require.NoError(t, err)
	batch := f.waitFinished(t, batchID)

	f.tracker.RemoveFile(batch.Files[0].ID)
	remaining, ok := f.aggregator.GetBatch(batchID)
	require.True(t, ok)
	assert.Equal(t, 1, remaining.TotalFiles)
	assert.Equal(t, 1, remaining.Completed)

	f.tracker.ClearCompleted()
	_, ok = f.aggregator.GetBatch(batchID)
	assert.False(t, ok)
	assert.Empty(t, f.aggregator.GetAllBatches())

	removed := f.publisher.ofType(types.EventBatchRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, batchID, removed[0].BatchID)
}

func TestRetriedMemberUpdatesBatchWithoutSecondSummary(t *testing.T) {
	f := newBatchFixture(t, 2)
	attempts := 0
	f.api.on("b.png", func(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error) {
		attempts++
		if attempts == 1 {
			return nil, retryableError("HTTP_500")
		}
		return succeedWith()(ctx, req, onProgress)
	})

	batchID, err := f.aggregator.ConvertBatch(files("a.png", "b.png"), "jpg", nil)
	require.NoError(t, err)
	batch := f.waitFinished(t, batchID)
	require.Equal(t, 1, batch.Failed)

	var failedID string
	for _, file := range batch.Files {
		if file.Status == types.FileStatusFailed {
			failedID = file.ID
		}
	}
	_, err = f.tracker.RetryConversion(context.Background(), failedID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, _ := f.aggregator.GetBatch(batchID)
		return b.Completed == 2
	}, 2*time.Second, 5*time.Millisecond)

	b, _ := f.aggregator.GetBatch(batchID)
	assert.Equal(t, 0, b.Failed)
	assert.Len(t, withTitle(f.notifier.History(), summaryTitle), 1)
}

func TestGetAllBatchesKeepsCreationOrder(t *testing.T) {
	f := newBatchFixture(t, 2)

	first, err := f.aggregator.ConvertBatch(files("a.png", "b.png"), "jpg", nil)
	require.NoError(t, err)
	second, err := f.aggregator.ConvertBatch(files("c.png", "d.png"), "jpg", nil)
	require.NoError(t, err)

	batches := f.aggregator.GetAllBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, first, batches[0].BatchID)
	assert.Equal(t, second, batches[1].BatchID)
}
