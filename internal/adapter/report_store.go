package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

const (
	reportFileName = "report.json"
	sarifFileName  = "findings.sarif"

	toolName = "taintaudit"
	toolURI  = "https://taintaudit.dev"
)

// ReportStore persists run reports.
type ReportStore interface {
	// SaveReport writes the full report as JSON under dir.
	SaveReport(dir m.Path, report m.Report) (m.Path, error)
	// LoadReport reads the report previously saved under dir.
	LoadReport(dir m.Path) (m.Report, error)
	// ExportSARIF writes the findings and their backing flows as SARIF 2.1.0.
	ExportSARIF(dir m.Path, report m.Report) (m.Path, error)
}

// LocalReportStore stores reports on the local filesystem.
type LocalReportStore struct {
	fs SourceFSAdapter
}

// NewReportStore creates a filesystem backed report store.
func NewReportStore(fs SourceFSAdapter) *LocalReportStore {
	return &LocalReportStore{fs: fs}
}

// SaveReport writes report.json.
func (s *LocalReportStore) SaveReport(dir m.Path, report m.Report) (m.Path, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	path := s.fs.JoinPath(string(dir), reportFileName)
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	return path, nil
}

// LoadReport reads report.json.
func (s *LocalReportStore) LoadReport(dir m.Path) (m.Report, error) {
	path := s.fs.JoinPath(string(dir), reportFileName)

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return m.Report{}, fmt.Errorf("read report %s: %w", path, err)
	}

	var report m.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return m.Report{}, fmt.Errorf("decode report %s: %w", path, err)
	}

	return report, nil
}

// ExportSARIF writes findings.sarif.
func (s *LocalReportStore) ExportSARIF(dir m.Path, report m.Report) (m.Path, error) {
	doc, err := BuildSARIF(report)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := doc.PrettyWrite(&buf); err != nil {
		return "", fmt.Errorf("encode sarif: %w", err)
	}

	path := s.fs.JoinPath(string(dir), sarifFileName)
	if err := s.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write sarif: %w", err)
	}

	return path, nil
}

// BuildSARIF converts findings into a SARIF report. Each finding becomes a
// result; its primary flow becomes a code flow from source to sink.
func BuildSARIF(report m.Report) (*sarif.Report, error) {
	doc, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("create sarif report: %w", err)
	}

	flows := make(map[string]m.Flow)
	for _, f := range report.FlowsBackward.Flows {
		flows[f.ID] = f
	}

	for _, f := range report.FlowsForward.Flows {
		flows[f.ID] = f
	}

	run := sarif.NewRunWithInformationURI(toolName, toolURI)

	for _, finding := range report.Findings.Findings {
		ruleID := sarifRuleID(finding)
		level := sarifLevel(finding.Severity)

		rule := run.AddRule(ruleID).
			WithDescription(finding.Title).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: level})

		sink := sarifLocation(finding.SinkLocation.Path, finding.SinkLocation.Line)

		message := fmt.Sprintf("%s [%s, score %d]: %s", finding.Title, finding.Status, finding.EvidenceScore, finding.SinkSnippet)

		result := sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(message)).
			WithLevel(level).
			WithLocations([]*sarif.Location{sink})

		if flow, ok := flows[finding.PrimaryFlow]; ok {
			if codeFlow := sarifCodeFlow(flow); codeFlow != nil {
				result.CodeFlows = append(result.CodeFlows, codeFlow)
			}
		}

		run.AddResult(result)
	}

	doc.AddRun(run)

	return doc, nil
}

func sarifRuleID(finding m.Finding) string {
	return "taint/" + string(finding.TaintKind) + "/" + finding.SinkLocation.Category
}

func sarifLocation(path m.Path, line int) *sarif.Location {
	return sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(string(path))).
			WithRegion(sarif.NewRegion().WithStartLine(line)),
	)
}

func sarifCodeFlow(flow m.Flow) *sarif.CodeFlow {
	threadFlow := sarif.NewThreadFlow()

	if flow.Source != nil {
		threadFlow.Locations = append(threadFlow.Locations, &sarif.ThreadFlowLocation{
			Location: sarifLocation(flow.Source.Path, flow.Source.Line).
				WithMessage(sarif.NewTextMessage("source: " + flow.Source.Snippet)),
		})
	}

	for _, s := range flow.Sanitizers {
		threadFlow.Locations = append(threadFlow.Locations, &sarif.ThreadFlowLocation{
			Location: sarifLocation(s.Location.Path, s.Location.Line).
				WithMessage(sarif.NewTextMessage("sanitizer (unverified): " + s.Snippet)),
		})
	}

	if flow.Sink != nil {
		threadFlow.Locations = append(threadFlow.Locations, &sarif.ThreadFlowLocation{
			Location: sarifLocation(flow.Sink.Path, flow.Sink.Line).
				WithMessage(sarif.NewTextMessage("sink: " + flow.Sink.Snippet)),
		})
	}

	if len(threadFlow.Locations) == 0 {
		return nil
	}

	codeFlow := sarif.NewCodeFlow()
	codeFlow.ThreadFlows = append(codeFlow.ThreadFlows, threadFlow)

	return codeFlow
}

func sarifLevel(severity m.Severity) string {
	switch strings.ToLower(string(severity)) {
	case "critical", "high":
		return "error"
	case "medium":
		return "warning"
	case "low":
		return "note"
	default:
		return "none"
	}
}
