package adapter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

func sampleReport() m.Report {
	header := m.Header{
		RunID:       "run-1",
		GeneratedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Params:      m.ScanParams{RepoRoot: "/repo", Depth: 3, Kinds: []m.TaintKind{m.KindCmd}},
		Limitations: m.Limitations,
	}

	source := m.Hit{Path: "app.py", Line: 10, RuleID: "src-http", Family: m.FamilySource, Category: "http", Snippet: `user_input = request.args.get("q")`, TaintKind: m.KindAny}
	sink := m.Hit{Path: "app.py", Line: 40, RuleID: "sink-exec", Family: m.FamilySink, Category: "exec", Snippet: "subprocess.run(cmd, shell=True)", TaintKind: m.KindCmd, Severity: m.SeverityHigh}

	flow := m.Flow{
		ID:         "BWD-0001",
		Direction:  m.Backward,
		TaintKind:  m.KindCmd,
		Sink:       &sink,
		Source:     &source,
		Sanitizers: []m.SanitizerRef{{Location: m.Location{Path: "app.py", Line: 25}, Snippet: "shlex.quote(user_input)"}},
	}

	return m.Report{
		FlowsBackward: m.FlowsRecord{Header: header, Flows: []m.Flow{flow}},
		FlowsForward:  m.FlowsRecord{Header: header, Flows: []m.Flow{}},
		Findings: m.FindingsRecord{Header: header, Findings: []m.Finding{
			{
				ID:            "F-001",
				Title:         "command execution / process spawn reachable from HTTP handler or request input",
				Severity:      m.SeverityCritical,
				Status:        m.StatusLikely,
				EvidenceScore: 86,
				TaintKind:     m.KindCmd,
				SinkLocation:  sink.SinkID(),
				SinkSnippet:   sink.Snippet,
				PrimaryFlow:   "BWD-0001",
				BackingFlows:  []string{"BWD-0001"},
			},
			{
				ID:            "F-002",
				Title:         "outbound network request",
				Severity:      m.SeverityMedium,
				Status:        m.StatusPossible,
				EvidenceScore: 40,
				TaintKind:     m.KindSSRF,
				SinkLocation:  m.SinkID{Path: "net.py", Line: 3, Category: "network"},
				PrimaryFlow:   "FWD-0009",
			},
		}},
		AttackChains: m.ChainsRecord{Header: header, Chains: []m.AttackChain{}},
	}
}

func TestLocalReportStore_SaveLoad(t *testing.T) {
	store := NewReportStore(NewLocalSourceFSAdapter())
	dir := m.Path(filepath.Join(t.TempDir(), "out"))
	report := sampleReport()

	path, err := store.SaveReport(dir, report)
	require.NoError(t, err)
	assert.Equal(t, m.Path(filepath.Join(string(dir), "report.json")), path)

	loaded, err := store.LoadReport(dir)
	require.NoError(t, err)

	assert.Equal(t, report.Findings, loaded.Findings)
	assert.Equal(t, report.FlowsBackward.Flows[0].Source, loaded.FlowsBackward.Flows[0].Source)
	assert.Equal(t, "run-1", loaded.AttackChains.RunID)
}

func TestLocalReportStore_SaveUsesSnakeCaseKeys(t *testing.T) {
	store := NewReportStore(NewLocalSourceFSAdapter())
	dir := m.Path(t.TempDir())

	path, err := store.SaveReport(dir, sampleReport())
	require.NoError(t, err)

	data, err := os.ReadFile(string(path))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"entries", "sinks", "taint_policy", "flows_backward", "flows_forward", "findings", "attack_chains", "authz_model", "profile", "cache"} {
		assert.Contains(t, raw, key)
	}
}

func TestLocalReportStore_LoadErrors(t *testing.T) {
	store := NewReportStore(NewLocalSourceFSAdapter())

	_, err := store.LoadReport(m.Path(t.TempDir()))
	require.Error(t, err)

	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "report.json"), "{")

	_, err = store.LoadReport(m.Path(dir))
	require.ErrorContains(t, err, "decode report")
}

func TestBuildSARIF(t *testing.T) {
	doc, err := BuildSARIF(sampleReport())
	require.NoError(t, err)

	require.Len(t, doc.Runs, 1)
	run := doc.Runs[0]

	assert.Equal(t, toolName, run.Tool.Driver.Name)
	require.Len(t, run.Tool.Driver.Rules, 2)
	assert.Equal(t, "taint/cmd/exec", run.Tool.Driver.Rules[0].ID)

	require.Len(t, run.Results, 2)

	first := run.Results[0]
	require.NotNil(t, first.Level)
	assert.Equal(t, "error", *first.Level)
	require.NotNil(t, first.Message.Text)
	assert.Contains(t, *first.Message.Text, "[Likely, score 86]")

	require.Len(t, first.CodeFlows, 1)
	require.Len(t, first.CodeFlows[0].ThreadFlows, 1)

	steps := first.CodeFlows[0].ThreadFlows[0].Locations
	require.Len(t, steps, 3, "source, sanitizer and sink")
	assert.Equal(t, 10, *steps[0].Location.PhysicalLocation.Region.StartLine)
	assert.Equal(t, 25, *steps[1].Location.PhysicalLocation.Region.StartLine)
	assert.Equal(t, 40, *steps[2].Location.PhysicalLocation.Region.StartLine)

	second := run.Results[1]
	assert.Equal(t, "warning", *second.Level)
	assert.Empty(t, second.CodeFlows, "findings whose primary flow is missing have no code flow")
}

func TestLocalReportStore_ExportSARIF(t *testing.T) {
	store := NewReportStore(NewLocalSourceFSAdapter())
	dir := m.Path(t.TempDir())

	path, err := store.ExportSARIF(dir, sampleReport())
	require.NoError(t, err)

	data, err := os.ReadFile(string(path))
	require.NoError(t, err)

	var doc struct {
		Version string `json:"version"`
		Runs    []struct {
			Results []json.RawMessage `json:"results"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "2.1.0", doc.Version)
	require.Len(t, doc.Runs, 1)
	assert.Len(t, doc.Runs[0].Results, 2)
}

func TestSarifLevel(t *testing.T) {
	tests := map[m.Severity]string{
		m.SeverityCritical: "error",
		m.SeverityHigh:     "error",
		m.SeverityMedium:   "warning",
		m.SeverityLow:      "note",
		m.SeverityInfo:     "none",
		"":                 "none",
	}

	for severity, want := range tests {
		assert.Equal(t, want, sarifLevel(severity), severity)
	}
}
