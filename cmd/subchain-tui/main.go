// Command subchain-tui browses one replica table page by page and follows the chain live.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-subchain/pkg/artifact"
	"github.com/dd0wney/cluso-subchain/pkg/config"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/reactive"
	"github.com/dd0wney/cluso-subchain/pkg/stream"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FFFF")).
			MarginLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type keyMap struct {
	Next     key.Binding
	Previous key.Binding
	First    key.Binding
	Last     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Next: key.NewBinding(
		key.WithKeys("n", "right", "pgdown"),
		key.WithHelp("n/→", "next page"),
	),
	Previous: key.NewBinding(
		key.WithKeys("p", "left", "pgup"),
		key.WithHelp("p/←", "previous page"),
	),
	First: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "first"),
	),
	Last: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "last"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Previous, k.First, k.Last, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// changedMsg is sent whenever the pager's result may have changed
type changedMsg struct{}

type model struct {
	tableName string
	provider  *reactive.Provider
	pager     *reactive.Pager
	rows      table.Model
	help      help.Model
	keys      keyMap

	count    int
	position int
	loading  bool
	err      string
}

func newModel(tableName string, provider *reactive.Provider, pager *reactive.Pager, pageSize int) model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Key", Width: 24},
			{Title: "Value", Width: 60},
		}),
		table.WithFocused(true),
		table.WithHeight(pageSize),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)

	m := model{
		tableName: tableName,
		provider:  provider,
		pager:     pager,
		rows:      t,
		help:      help.New(),
		keys:      keys,
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case changedMsg:
		m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Next):
			if m.pager.HasNextPage() {
				m.pager.Next()
			}
		case key.Matches(msg, m.keys.Previous):
			if m.pager.HasPreviousPage() {
				m.pager.Previous()
			}
		case key.Matches(msg, m.keys.First):
			m.pager.First()
		case key.Matches(msg, m.keys.Last):
			m.pager.Last()
		}
		m.refresh()
	}

	var cmd tea.Cmd
	m.rows, cmd = m.rows.Update(msg)
	return m, cmd
}

// refresh re-reads the pager; the result is cached until something changes
func (m *model) refresh() {
	res := m.pager.Result()
	m.loading = res.IsLoading
	if res.IsLoading {
		m.rows.SetRows(nil)
		return
	}

	rows, count, position, err := pageRows(res)
	if err != nil {
		m.err = err.Error()
		return
	}
	m.err = ""
	m.count = count
	m.position = position
	m.rows.SetRows(rows)
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf("subchain · %s", m.tableName)))
	s.WriteString("\n\n")

	switch {
	case m.loading:
		s.WriteString(statusStyle.Render("loading replica..."))
	default:
		state := "detached"
		if c := m.provider.Current(); c != nil {
			state = c.State().String()
		}
		s.WriteString(statusStyle.Render(fmt.Sprintf("position %d · %d rows · %s · %s",
			m.position, m.count, state, m.pager.Args())))
		s.WriteString("\n\n")
		s.WriteString(m.rows.View())
	}

	if m.err != "" {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render(m.err))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func main() {
	configPath := flag.String("config", "", "YAML configuration file (SUBCHAIN_* variables override it)")
	tableName := flag.String("table", "members", "Table to browse")
	pageSize := flag.Int("page-size", 10, "Rows per page")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subchain-tui: %v\n", err)
		os.Exit(1)
	}

	// the terminal belongs to the UI
	logger := logging.NewNopLogger()

	transport, err := stream.NewTransport(cfg.Transport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subchain-tui: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetchOpts := cfg.ArtifactOptions(logger)
	provider := reactive.NewProvider(logger)
	teardown := provider.Create(ctx, subchain.Options{
		ModuleSource:   artifact.Fetch(ctx, cfg.ModuleURL, fetchOpts),
		SnapshotSource: artifact.Fetch(ctx, cfg.SnapshotURL, fetchOpts),
		BlocksURL:      cfg.BlocksURL,
		Transport:      transport,
		Params:         cfg.Params(),
		Slowmo:         cfg.Slowmo,
		Ingest:         cfg.Ingest(),
		Logger:         logger,
	})
	defer teardown()

	pager, err := reactive.NewPager(provider, fmt.Sprintf(rowsTemplate, *tableName), *pageSize,
		reactive.PageInfoAt("table", "rows"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "subchain-tui: %v\n", err)
		os.Exit(1)
	}
	defer pager.Detach()

	p := tea.NewProgram(newModel(*tableName, provider, pager, *pageSize), tea.WithAltScreen())
	pager.OnChange(func() { go p.Send(changedMsg{}) })

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "subchain-tui: %v\n", err)
		os.Exit(1)
	}
}
