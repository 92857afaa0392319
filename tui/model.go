package tui

import (
	"anclora/types"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Model renders a running batch from the orchestration event stream
type Model struct {
	events   <-chan types.Event
	started  time.Time
	width    int
	batch    types.BatchConversionStatus
	files    map[string]types.FileConversionStatus
	order    []string
	notice   string
	quitting bool
}

type doneMsg struct{}

type eventMsg types.Event

func NewModel(events <-chan types.Event) Model {
	return Model{
		events:  events,
		started: time.Now(),
		files:   make(map[string]types.FileConversionStatus),
	}
}

func (m Model) Init() tea.Cmd {
	return listenForEvents(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m = m.apply(types.Event(msg))
		return m, listenForEvents(m.events)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	default:
		return m, nil
	}
}

// apply keeps the newest snapshot of every file and of the batch
func (m Model) apply(event types.Event) Model {
	if event.Batch != nil && event.Batch.Revision > m.batch.Revision {
		m.batch = *event.Batch
	}
	if event.File != nil {
		previous, seen := m.files[event.File.ID]
		if !seen {
			m.order = append(m.order, event.File.ID)
		}
		if !seen || event.File.Revision > previous.Revision {
			m.files[event.File.ID] = *event.File
		}
	}
	if event.Notification != nil && event.Type != types.EventNotificationClosed {
		m.notice = event.Notification.Title
		if event.Notification.Message != "" {
			m.notice += ": " + event.Notification.Message
		}
	}
	return m
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	done := m.batch.Completed + m.batch.Failed
	elapsed := time.Since(m.started).Round(time.Millisecond)

	lines := []string{
		titleStyle.Render("anclora"),
		labelStyle.Render(fmt.Sprintf("Files: %d/%d", done, m.batch.TotalFiles)) +
			dimStyle.Render(fmt.Sprintf("  processing:%d pending:%d failed:%d", m.batch.InProgress, m.batch.Pending, m.batch.Failed)),
		barStyle.Render(renderBar(barWidth, float64(m.batch.OverallProgress)/100)),
	}
	for _, id := range m.order {
		file := m.files[id]
		detail := fmt.Sprintf("%d%%", file.Progress)
		if file.Error != nil {
			detail = file.Error.Message
		}
		lines = append(lines, StatusLine(fileName(file), string(file.Status), detail))
	}
	if m.notice != "" {
		lines = append(lines, dimStyle.Render(m.notice))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)))

	return strings.Join(lines, "\n")
}

func fileName(file types.FileConversionStatus) string {
	if file.File == nil {
		return file.ID
	}
	return file.File.Name
}

func listenForEvents(events <-chan types.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(event)
	}
}

func renderBar(width int, ratio float64) string {
	ratio = math.Max(0, math.Min(1, ratio))
	filled := int(math.Round(ratio * float64(width)))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
