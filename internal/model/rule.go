// Package model defines the data structures shared by the taint audit engine.
package model

// Family partitions rules by the role their matches play in a flow.
type Family string

const (
	// FamilySource matches untrusted-input entry idioms.
	FamilySource Family = "source"
	// FamilySink matches sensitive operations.
	FamilySink Family = "sink"
	// FamilySanitizer matches escaping, normalization and parameterization idioms.
	FamilySanitizer Family = "sanitizer"
	// FamilyGuard matches authorization, role and tenant conditions.
	FamilyGuard Family = "guard"
)

// Families lists every rule family in catalog order.
var Families = []Family{FamilySource, FamilySink, FamilySanitizer, FamilyGuard}

// TaintKind is a category of risk.
type TaintKind string

const (
	KindCmd      TaintKind = "cmd"
	KindPath     TaintKind = "path"
	KindQuery    TaintKind = "query"
	KindTemplate TaintKind = "template"
	KindSSRF     TaintKind = "ssrf"
	KindDeser    TaintKind = "deser"
	KindMemory   TaintKind = "memory"
	KindAuthz    TaintKind = "authz"
	// KindAny tags rules that apply to every kind (most sources and guards).
	KindAny TaintKind = "*"
)

// DefaultKinds is the kind selection used when none is configured.
var DefaultKinds = []TaintKind{KindCmd, KindPath, KindQuery, KindTemplate, KindSSRF, KindDeser, KindMemory, KindAuthz}

// Covers reports whether a rule tagged with k applies to kind.
func (k TaintKind) Covers(kind TaintKind) bool {
	return k == KindAny || k == kind
}

// Severity is the tier of a sink.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities; lower is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	}

	return 5
}

// RuleSpec is the declarative, uncompiled form of a rule.
type RuleSpec struct {
	ID        string    `json:"id" yaml:"id"`
	Family    Family    `json:"family" yaml:"family"`
	Category  string    `json:"category" yaml:"category"`
	Title     string    `json:"title" yaml:"title"`
	TaintKind TaintKind `json:"taint_kind" yaml:"taint_kind"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	Pattern   string    `json:"pattern" yaml:"pattern"`
}
