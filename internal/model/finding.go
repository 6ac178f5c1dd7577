package model

// Status is the qualitative confidence of a finding.
type Status string

const (
	StatusConfirmed Status = "Confirmed"
	StatusLikely    Status = "Likely"
	StatusPossible  Status = "Possible"
)

// Fixed status thresholds. Report ranking and regression baselines depend on
// these values; they are not part of the tunable score policy.
const (
	ConfirmedThreshold = 90
	LikelyThreshold    = 60
)

// StatusForScore maps an evidence score to a status.
func StatusForScore(score int) Status {
	switch {
	case score >= ConfirmedThreshold:
		return StatusConfirmed
	case score >= LikelyThreshold:
		return StatusLikely
	default:
		return StatusPossible
	}
}

// Finding is a deduplicated, scored conclusion about one sink.
type Finding struct {
	ID             string    `json:"finding_id"`
	Title          string    `json:"title"`
	Severity       Severity  `json:"severity"`
	Status         Status    `json:"status"`
	EvidenceScore  int       `json:"evidence_score"`
	TaintKind      TaintKind `json:"taint_kind"`
	CWE            string    `json:"cwe,omitempty"`
	SinkLocation   SinkID    `json:"sink_location"`
	SinkSnippet    string    `json:"sink_snippet"`
	SourceLocation *Location `json:"source_location,omitempty"`
	PrimaryFlow    string    `json:"primary_flow"`
	BackingFlows   []string  `json:"backing_flows"`
	AuthzGap       bool      `json:"authz_gap"`
	ScoreReasoning []string  `json:"score_reasoning"`
	Impact         string    `json:"impact"`
	FixHint        string    `json:"fix_hint"`
	Notes          []string  `json:"notes,omitempty"`
}

// ChainStep is one step of an attack chain: a category label and the findings
// currently carrying it.
type ChainStep struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	FindingIDs  []string `json:"finding_ids"`
}

// AttackChain is a composed multi-finding exploitation hypothesis.
type AttackChain struct {
	ID            string      `json:"chain_id"`
	PatternName   string      `json:"pattern_name"`
	Preconditions []string    `json:"preconditions"`
	Steps         []ChainStep `json:"steps"`
	ImpactSummary string      `json:"impact_summary"`
}
