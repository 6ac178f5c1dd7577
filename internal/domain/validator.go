package domain

import (
	"fmt"
	"sort"
	"strings"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// ScorePolicy holds the tunable evidence weights. Status thresholds are not
// part of the policy; see model.StatusForScore.
type ScorePolicy struct {
	Base map[m.Severity]int

	NoSource           int
	FallbackSource     int
	SingleFrame        int
	ChainGap           int
	NoCorroboration    int
	PerSanitizer       int
	SanitizerCap       int
	PerGuard           int
	GuardCap           int
	CriticalPromotion  int
	CriticalPromotable map[m.TaintKind]bool
}

// DefaultScorePolicy returns the built-in weights.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		Base: map[m.Severity]int{
			m.SeverityCritical: 100,
			m.SeverityHigh:     92,
			m.SeverityMedium:   78,
			m.SeverityLow:      62,
			m.SeverityInfo:     50,
		},
		NoSource:          25,
		FallbackSource:    10,
		SingleFrame:       6,
		ChainGap:          8,
		NoCorroboration:   4,
		PerSanitizer:      8,
		SanitizerCap:      24,
		PerGuard:          6,
		GuardCap:          18,
		CriticalPromotion: 85,
		CriticalPromotable: map[m.TaintKind]bool{
			m.KindCmd:    true,
			m.KindMemory: true,
			m.KindDeser:  true,
		},
	}
}

// Validator merges flows into one finding per sink and scores them.
type Validator struct {
	policy ScorePolicy
	authz  m.AuthzModel
}

// NewValidator creates a Validator. authz decides the authz_gap flag.
func NewValidator(policy ScorePolicy, authz m.AuthzModel) *Validator {
	return &Validator{policy: policy, authz: authz}
}

type flowGroup struct {
	sink  m.Hit
	flows []m.Flow
}

// Merge groups flows by sink identity and builds one finding per group.
// Forward flows that merely list the sink as a further candidate join the
// group as corroboration but never create one.
func (v *Validator) Merge(flows []m.Flow) []m.Finding {
	groups := make(map[m.SinkID]*flowGroup)

	var order []m.SinkID

	for _, f := range flows {
		if f.Sink == nil {
			continue
		}

		id := f.Sink.SinkID()

		g, ok := groups[id]
		if !ok {
			g = &flowGroup{sink: *f.Sink}
			groups[id] = g
			order = append(order, id)
		}

		g.flows = append(g.flows, f)
	}

	for _, f := range flows {
		for _, c := range f.CandidateSinks {
			if g, ok := groups[c.SinkID()]; ok && !containsFlow(g.flows, f.ID) {
				g.flows = append(g.flows, f)
			}
		}
	}

	findings := make([]m.Finding, 0, len(order))
	for _, id := range order {
		findings = append(findings, v.build(groups[id]))
	}

	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}

		if a.EvidenceScore != b.EvidenceScore {
			return a.EvidenceScore > b.EvidenceScore
		}

		if a.SinkLocation.Path != b.SinkLocation.Path {
			return a.SinkLocation.Path < b.SinkLocation.Path
		}

		if a.SinkLocation.Line != b.SinkLocation.Line {
			return a.SinkLocation.Line < b.SinkLocation.Line
		}

		return a.SinkLocation.Category < b.SinkLocation.Category
	})

	for i := range findings {
		findings[i].ID = fmt.Sprintf("F-%03d", i+1)
	}

	return findings
}

func containsFlow(flows []m.Flow, id string) bool {
	for _, f := range flows {
		if f.ID == id {
			return true
		}
	}

	return false
}

func (v *Validator) build(g *flowGroup) m.Finding {
	flows := make([]m.Flow, len(g.flows))
	copy(flows, g.flows)

	sort.SliceStable(flows, func(i, j int) bool { return betterFlow(flows[i], flows[j]) })

	primary := flows[0]

	corroborated := false
	backing := make([]string, 0, len(flows))

	for i, f := range flows {
		backing = append(backing, f.ID)

		if i > 0 && f.Direction == m.Forward {
			corroborated = true
		}
	}

	sink := g.sink
	score, reasoning := v.Score(sink.Severity, primary, corroborated)

	finding := m.Finding{
		Severity:       sink.Severity,
		Status:         m.StatusForScore(score),
		EvidenceScore:  score,
		TaintKind:      sink.TaintKind,
		CWE:            kindCWE[sink.TaintKind],
		SinkLocation:   sink.SinkID(),
		SinkSnippet:    sink.Snippet,
		PrimaryFlow:    primary.ID,
		BackingFlows:   backing,
		AuthzGap:       !v.authz.HasAuthz(sink.Path),
		ScoreReasoning: reasoning,
		Impact:         kindImpact[sink.TaintKind],
		FixHint:        kindFixHint[sink.TaintKind],
		Notes:          append([]string(nil), primary.Notes...),
	}

	if sink.Severity == m.SeverityHigh && v.policy.CriticalPromotable[sink.TaintKind] && score >= v.policy.CriticalPromotion {
		finding.Severity = m.SeverityCritical
		finding.ScoreReasoning = append(finding.ScoreReasoning,
			fmt.Sprintf("severity promoted to critical: %s sink with score >= %d", sink.TaintKind, v.policy.CriticalPromotion))
	}

	if finding.AuthzGap {
		finding.ScoreReasoning = append(finding.ScoreReasoning, "no authorization semantics in sink file (authz gap, score unchanged)")
	}

	if primary.Source != nil {
		loc := primary.Source.Location()
		finding.SourceLocation = &loc
		finding.Title = fmt.Sprintf("%s reachable from %s", sink.Title, primary.Source.Title)
	} else {
		finding.Title = sink.Title + " with no resolved source"
	}

	return finding
}

// betterFlow orders flows by evidence quality: backward direction, then
// multi-frame stacks, then a resolved source, then id. Forward flows only
// lead a group that has no backward flow.
func betterFlow(a, b m.Flow) bool {
	if a.Direction != b.Direction {
		return a.Direction == m.Backward
	}

	if a.MultiFrame() != b.MultiFrame() {
		return a.MultiFrame()
	}

	if (a.Source != nil) != (b.Source != nil) {
		return a.Source != nil
	}

	return a.ID < b.ID
}

// Score computes the evidence score of a flow and the adjustments that
// produced it. The result is clamped to [0,100].
func (v *Validator) Score(severity m.Severity, flow m.Flow, corroborated bool) (int, []string) {
	p := v.policy

	base, ok := p.Base[severity]
	if !ok {
		base = p.Base[m.SeverityInfo]
	}

	score := base
	reasoning := []string{fmt.Sprintf("base %s severity: %d", severityLabel(severity), base)}

	deduct := func(points int, why string) {
		if points <= 0 {
			return
		}

		score -= points
		reasoning = append(reasoning, fmt.Sprintf("-%d %s", points, why))
	}

	switch {
	case flow.Source == nil:
		deduct(p.NoSource, "no source resolved")
	case flow.Tier == m.TierFallback:
		deduct(p.FallbackSource, "source only found by proximity")
	}

	if !flow.MultiFrame() {
		deduct(p.SingleFrame, "no caller chain resolved")
	}

	if !flow.ChainReaches {
		deduct(p.ChainGap, "variable chain does not reach the sink")
	}

	if !corroborated {
		deduct(p.NoCorroboration, "no forward corroboration")
	}

	if n := len(flow.Sanitizers); n > 0 {
		deduct(min(n*p.PerSanitizer, p.SanitizerCap), fmt.Sprintf("%d sanitizer candidate(s) of unverified effectiveness", n))
	}

	if n := len(flow.Guards); n > 0 {
		deduct(min(n*p.PerGuard, p.GuardCap), fmt.Sprintf("%d guard candidate(s) of unverified coverage", n))
	}

	score = max(0, min(100, score))
	reasoning = append(reasoning, fmt.Sprintf("score %d => %s", score, m.StatusForScore(score)))

	return score, reasoning
}

func severityLabel(s m.Severity) string {
	if s == "" {
		return "unknown"
	}

	return strings.ToLower(string(s))
}
