package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	detailStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)

	severityStyles = map[m.Severity]lipgloss.Style{
		m.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		m.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("202")),
		m.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		m.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("111")),
	}
)

const (
	defaultTableHeight = 10
	reservedLines      = 16
)

// TUI implements UI using Bubble Tea for interactive display.
type TUI struct {
	cmd *cobra.Command

	mu      sync.Mutex
	config  StartConfig
	program *tea.Program
	done    chan struct{}
}

// NewTUI creates a new TUI.
func NewTUI(cmd *cobra.Command) *TUI {
	return &TUI{cmd: cmd}
}

// Start initializes the UI.
func (t *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	t.config = newStartConfig(options)
	t.mu.Unlock()

	return nil
}

// Close stops a running browser.
func (t *TUI) Close(_ context.Context) {
	t.mu.Lock()
	program, done := t.program, t.done
	t.mu.Unlock()

	if program == nil {
		return
	}

	program.Quit()
	<-done
}

// Wait blocks until the user leaves the browser.
func (t *TUI) Wait(ctx context.Context) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// DisplayPhase prints one styled progress line.
func (t *TUI) DisplayPhase(ctx context.Context, phase string, detail string) {
	if err := ctx.Err(); err != nil {
		return
	}

	t.printf("%s %s\n", phaseStyle.Render("› "+phase), faintStyle.Render(detail))
}

// DisplayScanSummary prints the scope and opens the findings browser.
func (t *TUI) DisplayScanSummary(ctx context.Context, report m.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	scope := report.Findings.Scope

	summary := fmt.Sprintf("scanned %d/%d file(s), %d entry hit(s), %d sink hit(s), %d finding(s)",
		scope.FilesScanned, scope.FilesTotal, report.Entries.Total, report.Sinks.Total, len(report.Findings.Findings))
	if scope.Truncated {
		summary += ", scope truncated"
	}

	t.printf("%s\n", titleStyle.Render(summary))

	return t.DisplayFindings(ctx, report.Findings.Findings, report.AttackChains.Chains)
}

// DisplayFindings runs the findings browser in the background; Wait blocks
// until the user quits it.
func (t *TUI) DisplayFindings(ctx context.Context, findings []m.Finding, chains []m.AttackChain) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(findings) == 0 {
		t.printf("%s\n", faintStyle.Render("no findings"))
		return nil
	}

	model := newFindingsModel(findings, chains)
	program := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(t.cmd.InOrStdin()),
		tea.WithOutput(t.cmd.OutOrStdout()),
		tea.WithAltScreen(),
	)

	done := make(chan struct{})

	t.mu.Lock()
	t.program, t.done = program, done
	t.mu.Unlock()

	go func() {
		defer close(done)

		_, _ = program.Run()
	}()

	return nil
}

// DisplayRules prints the effective rule catalog.
func (t *TUI) DisplayRules(ctx context.Context, version string, rules []m.RuleSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.printf("%s\n\n%s", titleStyle.Render("rules "+version), renderRulesTable(rules))

	return nil
}

func (t *TUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(t.cmd.OutOrStdout(), format, args...)
}

// findingsModel is the Bubble Tea model of the findings browser.
type findingsModel struct {
	table      table.Model
	findings   []m.Finding
	chains     []m.AttackChain
	width      int
	height     int
	showDetail bool
	quitting   bool
}

func newFindingsModel(findings []m.Finding, chains []m.AttackChain) findingsModel {
	columns := []table.Column{
		{Title: "ID", Width: 6},
		{Title: "Severity", Width: 9},
		{Title: "Status", Width: 10},
		{Title: "Score", Width: 5},
		{Title: "Kind", Width: 9},
		{Title: "Sink", Width: 40},
	}

	rows := make([]table.Row, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, table.Row{
			f.ID, string(f.Severity), string(f.Status), fmt.Sprintf("%d", f.EvidenceScore),
			string(f.TaintKind), f.SinkLocation.String(),
		})
	}

	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows), defaultTableHeight)+1),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).BorderBottom(true).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Bold(false)
	tbl.SetStyles(styles)

	return findingsModel{table: tbl, findings: findings, chains: chains, showDetail: true}
}

func (fm findingsModel) Init() tea.Cmd {
	return nil
}

func (fm findingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		fm.width = msg.Width
		fm.height = msg.Height
		fm.table.SetHeight(max(3, min(len(fm.findings)+1, msg.Height-reservedLines)))

		return fm, nil

	case tea.KeyMsg:
		//nolint:exhaustive // We only handle specific navigation keys
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			fm.quitting = true
			return fm, tea.Quit
		default:
		}

		switch msg.String() {
		case "q":
			fm.quitting = true
			return fm, tea.Quit
		case "enter", " ":
			fm.showDetail = !fm.showDetail
			return fm, nil
		}
	}

	var cmd tea.Cmd
	fm.table, cmd = fm.table.Update(msg)

	return fm, cmd
}

// selected returns the finding under the cursor.
func (fm findingsModel) selected() (m.Finding, bool) {
	i := fm.table.Cursor()
	if i < 0 || i >= len(fm.findings) {
		return m.Finding{}, false
	}

	return fm.findings[i], true
}

func (fm findingsModel) View() string {
	if fm.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("taint audit: %d finding(s), %d attack chain(s)", len(fm.findings), len(fm.chains))))
	b.WriteString("\n\n")
	b.WriteString(fm.table.View())
	b.WriteString("\n")

	if f, ok := fm.selected(); ok && fm.showDetail {
		b.WriteString(detailStyle.Render(renderFindingDetail(f)))
		b.WriteString("\n")
	}

	b.WriteString(faintStyle.Render("↑/k up • ↓/j down • g/G top/bottom • d/u half page • enter details • q quit"))
	b.WriteString("\n")

	return b.String()
}

func renderFindingDetail(f m.Finding) string {
	var b strings.Builder

	sev := string(f.Severity)
	if style, ok := severityStyles[f.Severity]; ok {
		sev = style.Render(sev)
	}

	fmt.Fprintf(&b, "%s [%s] %s\n", f.ID, sev, f.Title)
	fmt.Fprintf(&b, "sink:   %s  %s\n", f.SinkLocation, f.SinkSnippet)

	if f.SourceLocation != nil {
		fmt.Fprintf(&b, "source: %s\n", f.SourceLocation)
	}

	fmt.Fprintf(&b, "flows:  %s (primary %s)\n", strings.Join(f.BackingFlows, ", "), f.PrimaryFlow)

	if f.CWE != "" {
		fmt.Fprintf(&b, "cwe:    %s\n", f.CWE)
	}

	fmt.Fprintf(&b, "score:  %s\n", strings.Join(f.ScoreReasoning, "; "))
	fmt.Fprintf(&b, "fix:    %s", f.FixHint)

	return b.String()
}
