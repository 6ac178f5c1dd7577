package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taintaudit.dev/pkg/taintaudit/internal/adapter"
	"taintaudit.dev/pkg/taintaudit/internal/controller"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// ErrHighRiskConfirmed is returned together with a complete report when at
// least one critical or high finding is Confirmed.
var ErrHighRiskConfirmed = errors.New("confirmed high-risk findings")

// ErrInvalidArgs is returned for unusable scan parameters.
var ErrInvalidArgs = errors.New("invalid scan arguments")

const cacheDirName = "cache"

// ScanArgs contains the arguments of one audit run.
type ScanArgs struct {
	RepoRoot   m.Path
	FocusPaths []string
	Kinds      []m.TaintKind
	Depth      int
	Budget     int
	// Window is the forward scan window in lines; 0 derives it from Depth.
	Window   int
	Workers  int
	UseCache bool
	// Output is the report directory; the cache lives below it. Empty keeps
	// everything in memory.
	Output    m.Path
	RulesFile m.Path
	SARIF     bool
}

// ViewArgs contains the arguments for browsing a saved report.
type ViewArgs struct {
	Reports m.Path
}

// RulesArgs contains the arguments for listing the effective catalog.
type RulesArgs struct {
	RulesFile m.Path
}

// Workflow defines the audit use cases.
type Workflow interface {
	Scan(ctx context.Context, args ScanArgs) (m.Report, error)
	View(ctx context.Context, args ViewArgs) error
	Rules(ctx context.Context, args RulesArgs) error
}

type workflow struct {
	adapter.SourceFSAdapter
	adapter.ReportStore
	adapter.RuleFileAdapter
	controller.UI

	catalog  *Catalog
	policy   ScorePolicy
	composer *Composer
	detector DefinitionDetector
	now      func() time.Time
	runID    func() string
}

// WorkflowOption customizes a Workflow.
type WorkflowOption func(*workflow)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *workflow) {
		w.now = now
	}
}

// WithRunID overrides the run identifier generator.
func WithRunID(runID func() string) WorkflowOption {
	return func(w *workflow) {
		w.runID = runID
	}
}

// WithCatalog replaces the built-in rule catalog.
func WithCatalog(c *Catalog) WorkflowOption {
	return func(w *workflow) {
		w.catalog = c
	}
}

// WithScorePolicy replaces the default evidence weights.
func WithScorePolicy(p ScorePolicy) WorkflowOption {
	return func(w *workflow) {
		w.policy = p
	}
}

// WithDefinitionDetector replaces the symbol index definition heuristics.
func WithDefinitionDetector(d DefinitionDetector) WorkflowOption {
	return func(w *workflow) {
		w.detector = d
	}
}

// NewWorkflow creates a new Workflow instance with the provided dependencies.
func NewWorkflow(
	fsAdapter adapter.SourceFSAdapter,
	reportStore adapter.ReportStore,
	ruleFiles adapter.RuleFileAdapter,
	ui controller.UI,
	options ...WorkflowOption,
) Workflow {
	w := &workflow{
		SourceFSAdapter: fsAdapter,
		ReportStore:     reportStore,
		RuleFileAdapter: ruleFiles,
		UI:              ui,
		catalog:         DefaultCatalog(),
		policy:          DefaultScorePolicy(),
		composer:        NewComposer(),
		detector:        NewRegexDefinitionDetector(),
		now:             time.Now,
		runID:           func() string { return uuid.NewString() },
	}

	for _, opt := range options {
		opt(w)
	}

	return w
}

// Scan runs every phase of the audit. The report is returned even when the
// error is ErrHighRiskConfirmed.
func (w *workflow) Scan(ctx context.Context, args ScanArgs) (m.Report, error) {
	kinds, err := validateScanArgs(args)
	if err != nil {
		return m.Report{}, err
	}

	catalog, err := w.effectiveCatalog(args.RulesFile)
	if err != nil {
		return m.Report{}, err
	}

	if err := w.Start(ctx, controller.WithScanMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return m.Report{}, err
	}
	defer w.Close(ctx)

	report, err := w.audit(ctx, args, kinds, catalog)
	if err != nil {
		slog.Error("Audit failed", "error", err)
		return m.Report{}, err
	}

	if args.Output != "" {
		if err := w.persist(ctx, args, report); err != nil {
			return report, err
		}
	}

	if err := w.DisplayScanSummary(ctx, report); err != nil {
		return report, fmt.Errorf("display: %w", err)
	}

	w.Wait(ctx)

	if report.HighRiskConfirmed() {
		return report, ErrHighRiskConfirmed
	}

	return report, nil
}

func validateScanArgs(args ScanArgs) ([]m.TaintKind, error) {
	if args.RepoRoot == "" {
		return nil, fmt.Errorf("%w: repository root is required", ErrInvalidArgs)
	}

	if args.Depth < 1 {
		return nil, fmt.Errorf("%w: depth must be at least 1, got %d", ErrInvalidArgs, args.Depth)
	}

	if args.Budget < 0 || args.Window < 0 {
		return nil, fmt.Errorf("%w: budget and window must not be negative", ErrInvalidArgs)
	}

	if len(args.Kinds) == 0 {
		return append([]m.TaintKind(nil), m.DefaultKinds...), nil
	}

	known := kindSet(nil)
	kinds := make([]m.TaintKind, 0, len(args.Kinds))
	seen := make(map[m.TaintKind]struct{})

	for _, k := range args.Kinds {
		if !known[k] {
			return nil, fmt.Errorf("%w: unknown taint kind %q", ErrInvalidArgs, k)
		}

		if _, dup := seen[k]; dup {
			continue
		}

		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}

	return kinds, nil
}

func (w *workflow) effectiveCatalog(rulesFile m.Path) (*Catalog, error) {
	if rulesFile == "" {
		return w.catalog, nil
	}

	file, err := w.LoadRules(rulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	label := file.Version
	if label == "" {
		label = "custom"
	}

	catalog, err := w.catalog.Extend(label, file.Rules)
	if err != nil {
		return nil, fmt.Errorf("extend catalog with %s: %w", rulesFile, err)
	}

	slog.Info("Loaded rule file", "path", rulesFile, "rules", len(file.Rules), "version", catalog.Version())

	return catalog, nil
}

func (w *workflow) audit(ctx context.Context, args ScanArgs, kinds []m.TaintKind, catalog *Catalog) (m.Report, error) {
	var cache adapter.HitCache
	if args.Output != "" {
		cache = adapter.NewLocalHitCache(w.SourceFSAdapter, w.JoinPath(string(args.Output), cacheDirName))
	}

	w.DisplayPhase(ctx, "scan", fmt.Sprintf("rules %s", catalog.Version()))

	scanner := NewScanner(w.SourceFSAdapter, cache, catalog)

	scan, err := scanner.Scan(ctx, ScanInput{
		RepoRoot:     args.RepoRoot,
		FocusPaths:   args.FocusPaths,
		Kinds:        kinds,
		Depth:        args.Depth,
		Budget:       args.Budget,
		CacheEnabled: args.UseCache,
		Workers:      args.Workers,
	})
	if err != nil {
		return m.Report{}, err
	}

	slog.Info("Scan complete", "files", scan.Scope.FilesScanned, "total", scan.Scope.FilesTotal, "truncated", scan.Scope.Truncated)

	w.DisplayPhase(ctx, "index", fmt.Sprintf("%d file(s)", len(scan.Files)))

	index, err := BuildSymbolIndex(ctx, w.SourceFSAdapter, scan.Files, w.detector, args.Workers)
	if err != nil {
		return m.Report{}, err
	}

	authz := BuildAuthzModel(index, scan.Guards)

	window := args.Window
	if window == 0 {
		window = DefaultWindow(args.Depth)
	}

	var sinks []m.Hit
	for _, g := range scan.Sinks {
		sinks = append(sinks, g.Hits...)
	}

	w.DisplayPhase(ctx, "trace", fmt.Sprintf("%d sink(s), depth %d, window %d", len(sinks), args.Depth, window))

	backward, err := NewBackwardTracer(index, scan).TraceAll(ctx, sinks, args.Depth, args.Workers)
	if err != nil {
		return m.Report{}, err
	}

	forward, err := NewForwardTracer(index, scan).TraceAll(ctx, scan.AllHits(m.FamilySource), window, args.Workers)
	if err != nil {
		return m.Report{}, err
	}

	w.DisplayPhase(ctx, "validate", fmt.Sprintf("%d backward, %d forward flow(s)", len(backward), len(forward)))

	flows := make([]m.Flow, 0, len(backward)+len(forward))
	flows = append(flows, backward...)
	flows = append(flows, forward...)

	findings := NewValidator(w.policy, authz).Merge(flows)
	chains := w.composer.Compose(findings)

	slog.Info("Validation complete", "findings", len(findings), "chains", len(chains))

	header := m.Header{
		RunID:       w.runID(),
		GeneratedAt: w.now().UTC(),
		Params: m.ScanParams{
			RepoRoot:     scan.Root,
			FocusPaths:   toPaths(args.FocusPaths),
			Kinds:        kinds,
			Depth:        args.Depth,
			Budget:       args.Budget,
			Window:       window,
			CacheEnabled: args.UseCache,
			RulesVersion: catalog.Version(),
		},
		Scope:       scan.Scope,
		Limitations: m.Limitations,
	}

	return assembleReport(header, scan, kinds, backward, forward, findings, chains, authz, cache), nil
}

func assembleReport(
	header m.Header,
	scan ScanResult,
	kinds []m.TaintKind,
	backward, forward []m.Flow,
	findings []m.Finding,
	chains []m.AttackChain,
	authz m.AuthzModel,
	cache adapter.HitCache,
) m.Report {
	authz.Header = header

	policy := BuildTaintPolicy(scan, kinds)
	policy.Header = header

	fileCount, extensions := ProfileProject(scan.Files)

	snapshot := m.CacheSnapshot{
		Header:  header,
		Enabled: header.Params.CacheEnabled,
		Hits:    scan.Cache.Hits,
		Misses:  scan.Cache.Misses,
		Writes:  scan.Cache.Writes,
		Errors:  scan.Cache.Errors,
		Files:   make(map[m.Path]string, len(scan.Files)),
	}

	if cache != nil {
		snapshot.Dir = cache.Dir()
	}

	for _, f := range scan.Files {
		snapshot.Files[f.File.ShortPath] = f.File.Hash
	}

	return m.Report{
		Entries:       hitsRecord(header, scan.Entries),
		Sinks:         hitsRecord(header, scan.Sinks),
		TaintPolicy:   policy,
		FlowsBackward: m.FlowsRecord{Header: header, Flows: nonNil(backward)},
		FlowsForward:  m.FlowsRecord{Header: header, Flows: nonNil(forward)},
		Findings:      m.FindingsRecord{Header: header, Findings: findings},
		AttackChains:  m.ChainsRecord{Header: header, Chains: chains},
		AuthzModel:    authz,
		Profile:       m.Profile{Header: header, FileCount: fileCount, Extensions: extensions},
		Cache:         snapshot,
	}
}

func hitsRecord(header m.Header, groups []m.HitGroup) m.HitsRecord {
	total := 0
	for _, g := range groups {
		total += g.Count
	}

	return m.HitsRecord{Header: header, Groups: groups, Total: total}
}

func nonNil(flows []m.Flow) []m.Flow {
	if flows == nil {
		return []m.Flow{}
	}

	return flows
}

func toPaths(values []string) []m.Path {
	paths := make([]m.Path, 0, len(values))
	for _, v := range values {
		paths = append(paths, m.Path(v))
	}

	return paths
}

func (w *workflow) persist(ctx context.Context, args ScanArgs, report m.Report) error {
	path, err := w.SaveReport(args.Output, report)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	w.DisplayPhase(ctx, "report", string(path))

	if !args.SARIF {
		return nil
	}

	sarifPath, err := w.ExportSARIF(args.Output, report)
	if err != nil {
		return fmt.Errorf("export sarif: %w", err)
	}

	w.DisplayPhase(ctx, "sarif", string(sarifPath))

	return nil
}

// View loads a saved report and shows its findings.
func (w *workflow) View(ctx context.Context, args ViewArgs) error {
	report, err := w.LoadReport(args.Reports)
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}

	if err := w.Start(ctx, controller.WithViewMode()); err != nil {
		return err
	}
	defer w.Close(ctx)

	if err := w.DisplayFindings(ctx, report.Findings.Findings, report.AttackChains.Chains); err != nil {
		return fmt.Errorf("display: %w", err)
	}

	w.Wait(ctx)

	return nil
}

// Rules shows the effective catalog, including an optional rule file.
func (w *workflow) Rules(ctx context.Context, args RulesArgs) error {
	catalog, err := w.effectiveCatalog(args.RulesFile)
	if err != nil {
		return err
	}

	if err := w.Start(ctx, controller.WithRulesMode()); err != nil {
		return err
	}
	defer w.Close(ctx)

	rules := catalog.Rules()
	specs := make([]m.RuleSpec, 0, len(rules))

	for _, r := range rules {
		specs = append(specs, r.RuleSpec)
	}

	if err := w.DisplayRules(ctx, catalog.Version(), specs); err != nil {
		return fmt.Errorf("display: %w", err)
	}

	w.Wait(ctx)

	return nil
}
