package model

import "time"

// Limitations is the statement stamped on every record.
const Limitations = "heuristic regular-expression matching over raw text, not sound dataflow: " +
	"dynamic dispatch, reflection, macros and code generation may hide flows; " +
	"results are triage evidence and do not replace manual review"

// ScanParams are the effective input parameters of a run.
type ScanParams struct {
	RepoRoot     Path        `json:"repo_root"`
	FocusPaths   []Path      `json:"focus_paths"`
	Kinds        []TaintKind `json:"taint_kinds"`
	Depth        int         `json:"depth"`
	Budget       int         `json:"file_budget"`
	Window       int         `json:"window"`
	CacheEnabled bool        `json:"cache_enabled"`
	RulesVersion string      `json:"rules_version"`
}

// Scope describes what was actually scanned.
type Scope struct {
	Roots        []Path     `json:"roots"`
	FilesScanned int        `json:"files_scanned"`
	FilesTotal   int        `json:"files_total"`
	Truncated    bool       `json:"truncated"`
	Skipped      []SkipNote `json:"skipped,omitempty"`
}

// Header is carried by every output record.
type Header struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Params      ScanParams `json:"params"`
	Scope       Scope      `json:"scope"`
	Limitations string     `json:"limitations"`
}

// HitsRecord is the entries or sinks section.
type HitsRecord struct {
	Header
	Groups []HitGroup `json:"categories"`
	Total  int        `json:"total_hits"`
}

// PolicyGroup lists the locations of one source or sink category.
type PolicyGroup struct {
	Category  string     `json:"category"`
	Title     string     `json:"title"`
	Locations []Location `json:"locations"`
}

// TaintPolicy is the draft policy derived from the scan.
type TaintPolicy struct {
	Header
	Kinds           []TaintKind    `json:"taint_kinds"`
	Sources         []PolicyGroup  `json:"sources"`
	Sinks           []PolicyGroup  `json:"sinks"`
	Sanitizers      []SanitizerRef `json:"sanitizers"`
	TrustBoundaries []string       `json:"trust_boundaries"`
}

// FlowsRecord is the flows_backward or flows_forward section.
type FlowsRecord struct {
	Header
	Flows []Flow `json:"flows"`
}

// FindingsRecord is the findings section.
type FindingsRecord struct {
	Header
	Findings []Finding `json:"findings"`
}

// ChainsRecord is the attack_chains section.
type ChainsRecord struct {
	Header
	Chains []AttackChain `json:"attack_chains"`
}

// AuthzModel summarizes authorization semantics per file.
type AuthzModel struct {
	Header
	Hits     []Location     `json:"hits"`
	Files    map[Path]int   `json:"files"`
	Keywords map[string]int `json:"keywords"`
}

// HasAuthz reports whether path carries any authorization semantics.
func (a AuthzModel) HasAuthz(path Path) bool {
	return a.Files[path] > 0
}

// ExtensionCount is one row of the project profile.
type ExtensionCount struct {
	Extension string `json:"extension"`
	Files     int    `json:"files"`
}

// Profile is the project profile.
type Profile struct {
	Header
	FileCount  int              `json:"file_count"`
	Extensions []ExtensionCount `json:"extensions"`
}

// CacheSnapshot describes cache usage for a run.
type CacheSnapshot struct {
	Header
	Enabled bool            `json:"enabled"`
	Dir     Path            `json:"dir"`
	Hits    int             `json:"hits"`
	Misses  int             `json:"misses"`
	Writes  int             `json:"writes"`
	Errors  int             `json:"errors"`
	Files   map[Path]string `json:"files"`
}

// Report bundles every record produced by one run.
type Report struct {
	Entries       HitsRecord     `json:"entries"`
	Sinks         HitsRecord     `json:"sinks"`
	TaintPolicy   TaintPolicy    `json:"taint_policy"`
	FlowsBackward FlowsRecord    `json:"flows_backward"`
	FlowsForward  FlowsRecord    `json:"flows_forward"`
	Findings      FindingsRecord `json:"findings"`
	AttackChains  ChainsRecord   `json:"attack_chains"`
	AuthzModel    AuthzModel     `json:"authz_model"`
	Profile       Profile        `json:"profile"`
	Cache         CacheSnapshot  `json:"cache"`
}

// HighRiskConfirmed reports whether any critical or high finding is Confirmed.
func (r Report) HighRiskConfirmed() bool {
	for _, f := range r.Findings.Findings {
		if f.Status == StatusConfirmed && f.Severity.Rank() <= SeverityHigh.Rank() {
			return true
		}
	}

	return false
}
