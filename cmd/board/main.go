// Command board is a terminal station display. It lists the active tasks of
// one station with their timing and lets the cook advance or discard them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"maitred/internal/kitchen"
	"maitred/internal/models"
)

// Styling
var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nearStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#ffd60a")).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#30d158")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#ff453a")).
			Padding(0, 1)
)

const requestTimeout = 5 * time.Second

// Model defines the board state
type Model struct {
	client  *ApiClient
	role    models.StaffRole
	every   time.Duration
	board   table.Model
	spinner spinner.Model
	entries []kitchen.BoardEntry
	loading bool
	status  string
	err     string
}

type boardMsg struct {
	entries []kitchen.BoardEntry
}

type errorMsg struct {
	err string
}

type confirmMsg struct {
	message string
}

type tickMsg time.Time

func initialModel(client *ApiClient, role models.StaffRole, every time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	columns := []table.Column{
		{Title: "Task", Width: 6},
		{Title: "Item", Width: 24},
		{Title: "Status", Width: 10},
		{Title: "Elapsed", Width: 8},
		{Title: "Target", Width: 8},
		{Title: "SLA", Width: 14},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	return Model{
		client:  client,
		role:    role,
		every:   every,
		board:   t,
		spinner: s,
		loading: true,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetchBoard(m.client, m.role), tick(m.every))
}

func tick(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fetchBoard(client *ApiClient, role models.StaffRole) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		entries, err := client.Board(ctx, role)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching board: %v", err)}
		}
		return boardMsg{entries: entries}
	}
}

func advanceTask(client *ApiClient, task models.KitchenTask) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		updated, err := client.Advance(ctx, task)
		if err != nil {
			return errorMsg{err: err.Error()}
		}
		return confirmMsg{message: fmt.Sprintf("Task %d is %s", updated.ID, updated.Status)}
	}
}

func discardTask(client *ApiClient, task models.KitchenTask) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := client.Discard(ctx, task.ID); err != nil {
			return errorMsg{err: err.Error()}
		}
		return confirmMsg{message: fmt.Sprintf("Task %d discarded", task.ID)}
	}
}

func rows(entries []kitchen.BoardEntry) []table.Row {
	out := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		target := "-"
		if e.Target > 0 {
			target = e.Target.Round(time.Second).String()
		}
		out = append(out, table.Row{
			strconv.FormatUint(uint64(e.Task.ID), 10),
			e.Task.Name,
			string(e.Task.Status),
			e.Elapsed.Round(time.Second).String(),
			target,
			string(e.State),
		})
	}
	return out
}

func (m Model) selected() (models.KitchenTask, bool) {
	i := m.board.Cursor()
	if i < 0 || i >= len(m.entries) {
		return models.KitchenTask{}, false
	}
	return m.entries[i].Task, true
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, fetchBoard(m.client, m.role)
		case "enter", "right", "l":
			if task, ok := m.selected(); ok {
				return m, advanceTask(m.client, task)
			}
			return m, nil
		case "d":
			if task, ok := m.selected(); ok {
				if !task.IsPending() {
					m.err = "Only pending tasks can be discarded"
					return m, nil
				}
				return m, discardTask(m.client, task)
			}
			return m, nil
		}
	case tickMsg:
		return m, tea.Batch(fetchBoard(m.client, m.role), tick(m.every))
	case boardMsg:
		m.loading = false
		m.entries = msg.entries
		m.board.SetRows(rows(msg.entries))
		if m.board.Cursor() >= len(msg.entries) && len(msg.entries) > 0 {
			m.board.SetCursor(len(msg.entries) - 1)
		}
		return m, nil
	case errorMsg:
		m.loading = false
		m.err = msg.err
		return m, nil
	case confirmMsg:
		m.err = ""
		m.status = msg.message
		return m, fetchBoard(m.client, m.role)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.board, cmd = m.board.Update(msg)
	return m, cmd
}

func (m Model) summary() string {
	var near, overdue int
	for _, e := range m.entries {
		switch e.State {
		case kitchen.SLANearDeadline:
			near++
		case kitchen.SLAOverdue:
			overdue++
		}
	}
	line := successStyle.Render(fmt.Sprintf("%d active", len(m.entries)))
	if near > 0 {
		line += " " + nearStyle.Render(fmt.Sprintf("%d near deadline", near))
	}
	if overdue > 0 {
		line += " " + errorStyle.Render(fmt.Sprintf("%d overdue", overdue))
	}
	return line
}

// View renders the UI
func (m Model) View() string {
	title := "All stations"
	if m.role != "" {
		title = string(m.role) + " station"
	}
	header := titleStyle.Render(title)
	if m.loading {
		header += " " + m.spinner.View()
	}

	view := header + "\n\n" + m.board.View() + "\n\n" + m.summary() + "\n"
	if m.status != "" {
		view += m.status + "\n"
	}
	if m.err != "" {
		view += errorStyle.Render(m.err) + "\n"
	}
	view += "\n'enter' advance, 'd' discard, 'r' refresh, 'q' quit\n"
	return docStyle.Render(view)
}

func main() {
	var (
		apiURL  = flag.String("url", envOr("MAITRED_API_URL", "http://localhost:8080"), "API base URL")
		token   = flag.String("token", os.Getenv("MAITRED_TOKEN"), "Staff bearer token")
		role    = flag.String("role", "kitchen", "Station to show: kitchen, bar or empty for all")
		refresh = flag.Duration("refresh", 5*time.Second, "Board refresh interval")
	)
	flag.Parse()

	client := NewApiClient(*apiURL, *token)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	err := client.CheckHealth(ctx)
	cancel()
	if err != nil {
		fmt.Printf("API server at %s is not available: %v\n", *apiURL, err)
		os.Exit(1)
	}

	p := tea.NewProgram(initialModel(client, models.StaffRole(*role), *refresh), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
