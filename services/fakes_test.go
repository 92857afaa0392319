package services

import (
	"anclora/types"
	"context"
	"sync"
	"time"
)

type convertFunc func(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error)

// fakeAPI scripts the conversion API per file name
type fakeAPI struct {
	mu          sync.Mutex
	fallback    convertFunc
	byName      map[string]convertFunc
	cancel      func(ctx context.Context, id string) (bool, error)
	calls       int
	inFlight    int
	maxInFlight int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{byName: make(map[string]convertFunc)}
}

func (f *fakeAPI) on(name string, fn convertFunc) *fakeAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[name] = fn
	return f
}

func (f *fakeAPI) Convert(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	fn := f.byName[req.File.Name]
	if fn == nil {
		fn = f.fallback
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if fn == nil {
		fn = succeedWith(50)
	}
	return fn(ctx, req, onProgress)
}

func (f *fakeAPI) Cancel(ctx context.Context, id string) (bool, error) {
	if f.cancel == nil {
		return true, nil
	}
	return f.cancel(ctx, id)
}

func (f *fakeAPI) current() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *fakeAPI) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func succeedWith(progress ...int) convertFunc {
	return func(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error) {
		for _, p := range progress {
			onProgress(p)
		}
		return &types.ConversionResult{
			DownloadURL:    "https://files.example/" + req.ID,
			ProcessingTime: 0.5,
		}, nil
	}
}

func failWith(err error) convertFunc {
	return func(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error) {
		onProgress(10)
		return nil, err
	}
}

// blockUntil reports 30%, hands its progress callback to started and waits
// for release or cancellation
func blockUntil(release <-chan struct{}, started chan<- ProgressFunc) convertFunc {
	return func(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error) {
		onProgress(30)
		if started != nil {
			started <- onProgress
		}
		select {
		case <-release:
			return succeedWith(100)(ctx, req, onProgress)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func retryableError(code string) *types.ConversionError {
	return &types.ConversionError{Code: code, Message: "server exploded", CanRetry: true}
}

func sourceFile(name string) *types.SourceFile {
	return &types.SourceFile{Name: name, Size: 1024, Type: "application/octet-stream"}
}

// recordingPublisher keeps every event it is handed
type recordingPublisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *recordingPublisher) Publish(event types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(eventType types.EventType) []types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []types.Event
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// recordingListener keeps every tracker snapshot
type recordingListener struct {
	mu        sync.Mutex
	snapshots []types.FileConversionStatus
	removed   [][]string
}

func (l *recordingListener) FileChanged(file types.FileConversionStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, file)
}

func (l *recordingListener) FilesRemoved(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, ids)
}

func (l *recordingListener) all() []types.FileConversionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.FileConversionStatus(nil), l.snapshots...)
}

// recordingHistory is an in-memory HistoryRecorder
type recordingHistory struct {
	mu      sync.Mutex
	entries []types.FileConversionStatus
}

func (h *recordingHistory) Record(ctx context.Context, file types.FileConversionStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, file)
	return nil
}

func (h *recordingHistory) recorded() []types.FileConversionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.FileConversionStatus(nil), h.entries...)
}

func newTestNotifier(publisher EventPublisher) Notifier {
	return NewNotifier(NotifierConfig{
		DefaultDuration: time.Minute,
		SuccessDuration: time.Minute,
		ErrorDuration:   time.Minute,
	}, publisher)
}

func withTitle(notifications []types.Notification, title string) []types.Notification {
	var matched []types.Notification
	for _, n := range notifications {
		if n.Title == title {
			matched = append(matched, n)
		}
	}
	return matched
}
