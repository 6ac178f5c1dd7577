package controller

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// SimpleUI implements UI using cobra Command's output.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}

// Close finalizes the UI.
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// DisplayPhase prints one progress line.
func (s *SimpleUI) DisplayPhase(ctx context.Context, phase string, detail string) {
	if err := ctx.Err(); err != nil {
		return
	}

	if detail == "" {
		s.printf("[%s]\n", phase)
		return
	}

	s.printf("[%s] %s\n", phase, detail)
}

// DisplayScanSummary prints the scope, the hit groups and the findings.
func (s *SimpleUI) DisplayScanSummary(ctx context.Context, report m.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	scope := report.Findings.Scope
	s.printf("\nScanned %d of %d file(s)", scope.FilesScanned, scope.FilesTotal)

	if scope.Truncated {
		s.printf(" (scope truncated by file budget)")
	}

	s.printf("\n")

	if len(scope.Skipped) > 0 {
		s.printf("Skipped %d path(s)\n", len(scope.Skipped))
	}

	cache := report.Cache
	if cache.Enabled {
		s.printf("Cache: %d hit(s), %d miss(es), %d write(s), %d error(s)\n", cache.Hits, cache.Misses, cache.Writes, cache.Errors)
	}

	s.printf("\n%s", renderGroupTable("Entry", report.Entries))
	s.printf("\n%s", renderGroupTable("Sink", report.Sinks))

	return s.DisplayFindings(ctx, report.Findings.Findings, report.AttackChains.Chains)
}

// DisplayFindings prints the findings table and the attack chains.
func (s *SimpleUI) DisplayFindings(ctx context.Context, findings []m.Finding, chains []m.AttackChain) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(findings) == 0 {
		s.printf("\nNo findings\n")
	} else {
		s.printf("\n%s", renderFindingsTable(findings))
	}

	for _, chain := range chains {
		s.printf("\n%s %s\n", chain.ID, chain.PatternName)

		for _, step := range chain.Steps {
			s.printf("  - %s: %s (%s)\n", step.Label, step.Description, strings.Join(step.FindingIDs, ", "))
		}

		for _, pre := range chain.Preconditions {
			s.printf("  requires: %s\n", pre)
		}

		s.printf("  impact: %s\n", chain.ImpactSummary)
	}

	return nil
}

// DisplayRules prints the effective rule catalog.
func (s *SimpleUI) DisplayRules(ctx context.Context, version string, rules []m.RuleSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("Rules version %s\n\n%s", version, renderRulesTable(rules))

	return nil
}

func renderGroupTable(label string, record m.HitsRecord) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{label + " Category", "Title", "Hits"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

	for _, g := range record.Groups {
		table.Append([]string{g.Category, g.Title, fmt.Sprintf("%d", g.Count)})
	}

	table.SetFooter([]string{fmt.Sprintf("Total Categories %d", len(record.Groups)), "", fmt.Sprintf("%d", record.Total)})
	table.Render()

	return tableBuffer.String()
}

func renderFindingsTable(findings []m.Finding) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"ID", "Severity", "Status", "Score", "Kind", "Sink", "Authz Gap"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER,
	})

	confirmed := 0

	for _, f := range findings {
		if f.Status == m.StatusConfirmed {
			confirmed++
		}

		gap := ""
		if f.AuthzGap {
			gap = "yes"
		}

		table.Append([]string{
			f.ID, string(f.Severity), string(f.Status), fmt.Sprintf("%d", f.EvidenceScore),
			string(f.TaintKind), f.SinkLocation.String(), gap,
		})
	}

	table.SetFooter([]string{fmt.Sprintf("Total Findings %d", len(findings)), "", fmt.Sprintf("Confirmed %d", confirmed), "", "", "", ""})
	table.Render()

	return tableBuffer.String()
}

func renderRulesTable(rules []m.RuleSpec) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"ID", "Family", "Category", "Kind", "Severity"})
	table.SetBorder(false)
	table.SetCenterSeparator("")

	for _, r := range rules {
		table.Append([]string{r.ID, string(r.Family), r.Category, string(r.TaintKind), string(r.Severity)})
	}

	table.SetFooter([]string{fmt.Sprintf("Total Rules %d", len(rules)), "", "", "", ""})
	table.Render()

	return tableBuffer.String()
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
