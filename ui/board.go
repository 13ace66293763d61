package ui

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/taskkit/bus"
	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/tasks"
)

const maxRecent = 8

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	doneStyle  = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// Loader returns the current collection.
type Loader func(ctx context.Context) ([]tasks.Task, error)

// RunBoard shows the board until the user quits or ctx ends. It
// subscribes to events under prefix and reloads through load on each one.
func RunBoard(ctx context.Context, load Loader, b bus.MessageBus, prefix string) error {
	if !IsTTY(os.Stdout) {
		return fmt.Errorf("board requires a TTY")
	}
	if prefix == "" {
		prefix = tasks.DefaultSubjectPrefix
	}

	sub, err := b.Subscribe(prefix + ".>")
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", prefix, err)
	}
	defer sub.Unsubscribe()

	var beats <-chan *heartbeat.Heartbeat
	monitor, err := heartbeat.NewBusMonitor(heartbeat.MonitorConfig{Bus: b})
	if err == nil && monitor.Start() == nil {
		defer monitor.Stop()
		beats = monitor.Updates()
	}

	model := newBoardModel(ctx, load, sub.Messages())
	model.beats = beats
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(*boardModel); ok && m.fatal != nil {
		return m.fatal
	}
	return nil
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

type boardModel struct {
	ctx      context.Context
	load     Loader
	events   <-chan *bus.Message
	beats    <-chan *heartbeat.Heartbeat
	tasks    []tasks.Task
	recent   []tasks.Event
	servers  map[string]heartbeat.Heartbeat
	loadErr  error
	fatal    error
	filter   tasks.Status
	showHelp bool
	busDone  bool

	staleAfter time.Duration
	now        func() time.Time
}

type loadedMsg struct {
	tasks []tasks.Task
	err   error
}

type eventMsg struct {
	event tasks.Event
	err   error
}

type busClosedMsg struct{}

type beatMsg struct {
	hb *heartbeat.Heartbeat
}

type tickMsg time.Time

func newBoardModel(ctx context.Context, load Loader, events <-chan *bus.Message) *boardModel {
	return &boardModel{
		ctx:        ctx,
		load:       load,
		events:     events,
		servers:    make(map[string]heartbeat.Heartbeat),
		staleAfter: heartbeat.DefaultMonitorConfig().Timeout,
		now:        time.Now,
	}
}

func (m *boardModel) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), waitForEvent(m.events), waitForBeat(m.beats), tick())
}

func (m *boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.loadCmd()
		case "h", "?":
			m.showHelp = !m.showHelp
		case "0":
			m.filter = ""
		case "1":
			m.filter = tasks.StatusPending
		case "2":
			m.filter = tasks.StatusInProgress
		case "3":
			m.filter = tasks.StatusDone
		}
		return m, nil

	case loadedMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.tasks = msg.tasks
		}
		return m, nil

	case eventMsg:
		if msg.err == nil {
			m.recent = append([]tasks.Event{msg.event}, m.recent...)
			if len(m.recent) > maxRecent {
				m.recent = m.recent[:maxRecent]
			}
		}
		return m, tea.Batch(m.loadCmd(), waitForEvent(m.events))

	case busClosedMsg:
		m.busDone = true
		return m, nil

	case beatMsg:
		m.servers[msg.hb.Instance] = *msg.hb
		return m, waitForBeat(m.beats)

	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m *boardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("taskkit board"))
	b.WriteString("\n\n")

	if m.showHelp {
		writeHelp(&b)
		return b.String()
	}

	writeCounts(&b, m.tasks)
	if m.filter != "" {
		fmt.Fprintf(&b, "Filter: %s (0 to clear)\n", m.filter)
	}
	b.WriteString("\n")

	if m.loadErr != nil {
		b.WriteString(errStyle.Render("load failed: " + m.loadErr.Error()))
		b.WriteString("\n\n")
	}

	shown := 0
	for _, t := range m.tasks {
		if m.filter != "" && t.Status != m.filter {
			continue
		}
		line := formatRow(t)
		if t.Completed() {
			line = doneStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
		shown++
	}
	if shown == 0 {
		b.WriteString(dimStyle.Render("no tasks"))
		b.WriteString("\n")
	}

	if len(m.servers) > 0 {
		b.WriteString("\nServers:\n")
		for _, name := range slices.Sorted(maps.Keys(m.servers)) {
			b.WriteString("  " + m.formatServer(m.servers[name]) + "\n")
		}
	}

	if len(m.recent) > 0 {
		b.WriteString("\nRecent events:\n")
		for _, e := range m.recent {
			b.WriteString("  " + formatEvent(e) + "\n")
		}
	}

	b.WriteString("\n")
	footer := "q quit | r refresh | 0-3 filter | h help"
	if m.busDone {
		footer += " | event stream closed"
	}
	b.WriteString(dimStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

func (m *boardModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		all, err := m.load(m.ctx)
		return loadedMsg{tasks: all, err: err}
	}
}

func waitForEvent(ch <-chan *bus.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		ev, err := tasks.UnmarshalEvent(msg.Data)
		return eventMsg{event: ev, err: err}
	}
}

// waitForBeat returns nil when there is no monitor, so no goroutine blocks
// on a nil channel.
func waitForBeat(ch <-chan *heartbeat.Heartbeat) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		hb, ok := <-ch
		if !ok {
			return nil
		}
		return beatMsg{hb: hb}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *boardModel) formatServer(hb heartbeat.Heartbeat) string {
	age := m.now().Sub(hb.Timestamp).Truncate(time.Second)
	status := hb.Status
	line := fmt.Sprintf("%-24s %-9s %d session(s)  seen %s ago", hb.Instance, status, hb.Sessions, age)
	if age > m.staleAfter || status == heartbeat.StatusDraining {
		return dimStyle.Render(line + "  (gone)")
	}
	return line
}

func writeCounts(b *strings.Builder, all []tasks.Task) {
	counts := map[tasks.Status]int{}
	for _, t := range all {
		counts[t.Status]++
	}
	fmt.Fprintf(b, "Total: %d  Pending: %d  In progress: %d  Done: %d\n",
		len(all), counts[tasks.StatusPending], counts[tasks.StatusInProgress], counts[tasks.StatusDone])
}

func writeHelp(b *strings.Builder) {
	b.WriteString("Keys:\n")
	b.WriteString("  q, ctrl+c  quit\n")
	b.WriteString("  r          reload tasks\n")
	b.WriteString("  0          show all\n")
	b.WriteString("  1          pending only\n")
	b.WriteString("  2          in progress only\n")
	b.WriteString("  3          done only\n")
	b.WriteString("  h, ?       toggle help\n")
}

func formatRow(t tasks.Task) string {
	due := "          "
	if t.DueDate != nil {
		due = t.DueDate.String()
	}
	return fmt.Sprintf("%-8s P%d  %s  %-11s %s", t.ID, t.Priority, due, t.Status, t.Title)
}

func formatEvent(e tasks.Event) string {
	ts := ""
	if !e.At.IsZero() {
		ts = e.At.Format(time.TimeOnly) + " "
	}
	if e.Kind == tasks.EventCreated {
		return fmt.Sprintf("%s%s %s %q (P%d)", ts, e.Kind, e.ID, e.Title, e.Priority)
	}
	return fmt.Sprintf("%s%s %s", ts, e.Kind, e.ID)
}
