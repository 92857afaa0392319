package cmd

import (
	"anclora/config"
	"anclora/services"
	"anclora/tui"
	"anclora/types"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	convertTarget   string
	convertOptions  []string
	convertEndpoint string
)

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <file>...",
	Short: "Convert local files through the conversion API",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if convertEndpoint != "" {
			cfg.API.Endpoint = convertEndpoint
		}
		if convertTarget == "" {
			if settings, err := config.LoadSettings(cfg.SettingsPath); err == nil {
				convertTarget = settings.DefaultTargetFormat
			}
		}
		if convertTarget == "" {
			return fmt.Errorf("--to is required")
		}

		opts, err := parseOptions(convertOptions)
		if err != nil {
			return err
		}

		inspector := services.NewInspector()
		sources := make([]*types.SourceFile, 0, len(args))
		for _, path := range args {
			source, err := inspector.Inspect(path, filepath.Base(path))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			sources = append(sources, source)
		}

		api, err := services.NewConversionAPI(services.APIConfig{
			Endpoint: cfg.API.Endpoint,
			Timeout:  cfg.APITimeout(),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if len(sources) == 1 {
			return convertOne(ctx, cfg, api, sources[0], opts)
		}
		return convertMany(ctx, cfg, api, sources, opts)
	},
}

func init() {
	convertCmd.Flags().StringVarP(&convertTarget, "to", "t", "", "target format, e.g. webp or mp3")
	convertCmd.Flags().StringArrayVarP(&convertOptions, "option", "o", nil, "conversion option as key=value (repeatable)")
	convertCmd.Flags().StringVar(&convertEndpoint, "endpoint", "", "conversion API base URL")

	rootCmd.AddCommand(convertCmd)
}

func notifierConfig(cfg *config.Config) services.NotifierConfig {
	return services.NotifierConfig{
		DefaultDuration: cfg.DefaultDuration(),
		SuccessDuration: cfg.SuccessDuration(),
		ErrorDuration:   cfg.ErrorDuration(),
		HistorySize:     cfg.Notifications.HistorySize,
	}
}

// convertOne drives a single conversion with a terminal progress bar
func convertOne(ctx context.Context, cfg *config.Config, api services.ConversionAPI, source *types.SourceFile, opts types.ConversionOptions) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(source.Name),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
	)

	publisher := services.PublisherFunc(func(event types.Event) {
		if event.Type == types.EventFileUpdated && event.File != nil {
			_ = bar.Set(event.File.Progress)
		}
	})

	tracker := services.NewTracker(api, services.NewNotifier(notifierConfig(cfg), nil), services.TrackerOptions{
		Publisher: publisher,
	})

	result, err := tracker.ConvertFile(ctx, source, convertTarget, opts)
	if err != nil {
		_ = bar.Exit()
		fmt.Fprintln(os.Stderr)
		return err
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	rows := []tui.SummaryRow{
		{Label: "File", Value: source.Name},
		{Label: "Target format", Value: strings.ToUpper(convertTarget)},
		{Label: "Processing time", Value: fmt.Sprintf("%.2fs", result.ProcessingTime)},
		{Label: "Download", Value: result.DownloadURL},
	}
	fmt.Fprintln(os.Stdout, tui.RenderSummary(rows))
	return nil
}

// convertMany runs a batch and renders it with the bubbletea model
func convertMany(ctx context.Context, cfg *config.Config, api services.ConversionAPI, sources []*types.SourceFile, opts types.ConversionOptions) error {
	stream := newEventStream(256)
	finished := make(chan struct{})
	var finishOnce sync.Once

	publisher := services.PublisherFunc(func(event types.Event) {
		stream.Publish(event)
		if event.Type == types.EventBatchUpdated && event.Batch != nil && event.Batch.Finished() {
			finishOnce.Do(func() { close(finished) })
		}
	})

	notifier := services.NewNotifier(notifierConfig(cfg), publisher)
	tracker := services.NewTracker(api, notifier, services.TrackerOptions{Publisher: publisher})
	aggregator := services.NewBatchAggregator(ctx, tracker, notifier, services.BatchOptions{
		MaxConcurrent: cfg.Conversion.MaxConcurrent,
		Publisher:     publisher,
	})

	program := tea.NewProgram(tui.NewModel(stream.Events()), tea.WithContext(ctx))
	uiDone := make(chan struct{})
	go func() {
		_, _ = program.Run()
		close(uiDone)
	}()

	started := time.Now()
	batchID, err := aggregator.ConvertBatch(sources, convertTarget, opts)
	if err != nil {
		stream.Close()
		<-uiDone
		return err
	}

	select {
	case <-finished:
	case <-ctx.Done():
	}
	stream.Close()
	<-uiDone

	batch, _ := aggregator.GetBatch(batchID)
	rows := []tui.SummaryRow{
		{Label: "Files", Value: strconv.Itoa(batch.TotalFiles)},
		{Label: "Converted", Value: strconv.Itoa(batch.Completed)},
		{Label: "Failed", Value: strconv.Itoa(batch.Failed)},
		{Label: "Target format", Value: strings.ToUpper(convertTarget)},
		{Label: "Elapsed", Value: time.Since(started).Round(time.Millisecond).String()},
	}
	fmt.Fprintln(os.Stdout, tui.RenderSummary(rows))
	for _, file := range batch.Files {
		detail := ""
		switch {
		case file.Result != nil:
			detail = file.Result.DownloadURL
		case file.Error != nil:
			detail = file.Error.Error()
		}
		fmt.Fprintln(os.Stdout, tui.StatusLine(file.File.Name, string(file.Status), detail))
	}

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted")
	}
	if batch.Failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", batch.Failed, batch.TotalFiles)
	}
	return nil
}

// parseOptions turns key=value flags into conversion options. Numbers and
// booleans are typed; everything else stays a string.
func parseOptions(pairs []string) (types.ConversionOptions, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	opts := make(types.ConversionOptions, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			opts[key] = n
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			opts[key] = b
			continue
		}
		opts[key] = value
	}
	return opts, nil
}

// eventStream feeds the TUI; it drops events when the UI falls behind and
// ignores anything published after Close
type eventStream struct {
	mu     sync.Mutex
	ch     chan types.Event
	closed bool
}

func newEventStream(size int) *eventStream {
	return &eventStream{ch: make(chan types.Event, size)}
}

func (s *eventStream) Events() <-chan types.Event {
	return s.ch
}

func (s *eventStream) Publish(event types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

func (s *eventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
