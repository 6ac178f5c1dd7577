package domain

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"taintaudit.dev/pkg/taintaudit/internal/adapter"
	"taintaudit.dev/pkg/taintaudit/internal/controller"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// placeLines renders a file whose line n holds lines[n]; other lines are blank.
func placeLines(lines map[int]string) string {
	last := 0
	for n := range lines {
		last = max(last, n)
	}

	out := make([]string, last)
	for n, text := range lines {
		out[n-1] = text
	}

	return strings.Join(out, "\n") + "\n"
}

// handlerFixture is a request handler passing a query parameter to a shell.
func handlerFixture(extra map[int]string) string {
	lines := map[int]string{
		1:  "import subprocess",
		2:  "import shlex",
		3:  "from flask import request",
		9:  "def handler():",
		10: `    user_input = request.args.get("q")`,
		20: `    cmd = "ls " + user_input`,
		40: "    subprocess.run(cmd, shell=True)",
	}

	for n, text := range extra {
		lines[n] = text
	}

	return placeLines(lines)
}

// callerFixture reads input in one function and executes it in another.
const callerFixture = `def read_input():
    data = request.args.get("path")
    process(data)

def process(name):
    target = "/srv/" + name
    os.system(target)
`

func newTestRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(name)), content)
	}

	return root
}

type fixture struct {
	scan  ScanResult
	index *SymbolIndex
}

func scanFixture(t *testing.T, files map[string]string, kinds ...m.TaintKind) fixture {
	t.Helper()

	root := newTestRepo(t, files)
	fs := adapter.NewLocalSourceFSAdapter()

	scan, err := NewScanner(fs, nil, DefaultCatalog()).Scan(context.Background(), ScanInput{
		RepoRoot: m.Path(root),
		Kinds:    kinds,
		Depth:    3,
		Workers:  2,
	})
	require.NoError(t, err)

	index, err := BuildSymbolIndex(context.Background(), fs, scan.Files, nil, 2)
	require.NoError(t, err)

	return fixture{scan: scan, index: index}
}

func (f fixture) sinks() []m.Hit {
	var out []m.Hit
	for _, g := range f.scan.Sinks {
		out = append(out, g.Hits...)
	}

	return out
}

func (f fixture) sinkAt(t *testing.T, path m.Path, line int) m.Hit {
	t.Helper()

	for _, h := range f.sinks() {
		if h.Path == path && h.Line == line {
			return h
		}
	}

	require.Failf(t, "sink not found", "%s:%d", path, line)

	return m.Hit{}
}

func (f fixture) sourceAt(t *testing.T, path m.Path, line int) m.Hit {
	t.Helper()

	for _, h := range f.scan.AllHits(m.FamilySource) {
		if h.Path == path && h.Line == line {
			return h
		}
	}

	require.Failf(t, "source not found", "%s:%d", path, line)

	return m.Hit{}
}

func lineNumbers(hits []m.Hit) []int {
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Line)
	}

	sort.Ints(out)

	return out
}

// recordingUI is a controller.UI that records what the workflow shows.
type recordingUI struct {
	mu       sync.Mutex
	modes    []controller.StartMode
	phases   []string
	summary  *m.Report
	findings []m.Finding
	chains   []m.AttackChain
	version  string
	rules    []m.RuleSpec
	closed   int
}

var _ controller.UI = (*recordingUI)(nil)

func (u *recordingUI) Start(_ context.Context, options ...controller.StartOption) error {
	cfg := controller.StartConfig{}
	for _, opt := range options {
		opt(&cfg)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.modes = append(u.modes, cfg.Mode())

	return nil
}

func (u *recordingUI) Close(context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.closed++
}

func (u *recordingUI) Wait(context.Context) {}

func (u *recordingUI) DisplayPhase(_ context.Context, phase string, _ string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.phases = append(u.phases, phase)
}

func (u *recordingUI) DisplayScanSummary(_ context.Context, report m.Report) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.summary = &report

	return nil
}

func (u *recordingUI) DisplayFindings(_ context.Context, findings []m.Finding, chains []m.AttackChain) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.findings = findings
	u.chains = chains

	return nil
}

func (u *recordingUI) DisplayRules(_ context.Context, version string, rules []m.RuleSpec) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.version = version
	u.rules = rules

	return nil
}
