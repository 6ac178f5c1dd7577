package domain

import (
	"fmt"
	"sort"
	"strings"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// LabelAuthzGap marks high or critical findings in files without
// authorization semantics.
const LabelAuthzGap = "authz-gap"

// StepMatcher is one step of a composition rule: any finding carrying one of
// Labels satisfies it.
type StepMatcher struct {
	Labels      []string
	Description string
}

// ChainRule composes findings into an attack chain when every step is
// satisfied by at least one finding. Steps must be satisfied by at least two
// distinct findings unless SingleFinding is set.
type ChainRule struct {
	Name          string
	Steps         []StepMatcher
	Preconditions []string
	Impact        string
	SingleFinding bool
}

// DefaultChainRules returns the built-in composition rules.
func DefaultChainRules() []ChainRule {
	return []ChainRule{
		{
			Name: "write-then-load/execute",
			Steps: []StepMatcher{
				{Labels: []string{string(m.KindPath)}, Description: "attacker influences a written file name or content"},
				{Labels: []string{string(m.KindCmd), string(m.KindDeser), string(m.KindTemplate)}, Description: "a later path loads, renders or executes that file"},
			},
			Preconditions: []string{
				"attacker controls the file name or content being written",
				"a later load, render or execute path reads the written location",
			},
			Impact: "persistent control of the host, remote code execution or supply-chain tampering",
		},
		{
			Name: "privilege-gap-to-sink",
			Steps: []StepMatcher{
				{Labels: []string{string(m.KindAuthz), LabelAuthzGap}, Description: "authorization is missing or weakened"},
				{Labels: []string{string(m.KindCmd), string(m.KindDeser), string(m.KindQuery), string(m.KindPath), string(m.KindMemory)}, Description: "a sensitive sink is reachable"},
			},
			Preconditions: []string{
				"authorization or tenant binding is really missing on the route to the sink",
				"the attacker can reach the entry point without higher privileges",
			},
			Impact:        "cross-tenant data access or execution of privileged operations",
			SingleFinding: true,
		},
		{
			Name: "probe-then-bypass",
			Steps: []StepMatcher{
				{Labels: []string{string(m.KindSSRF)}, Description: "attacker steers an outbound request"},
				{Labels: []string{string(m.KindAuthz), string(m.KindCmd)}, Description: "an internal control can be bypassed or abused"},
			},
			Preconditions: []string{
				"the attacker controls the outbound destination",
				"internal network services or metadata endpoints are reachable from the host",
			},
			Impact: "internal information disclosure, access-control bypass or lateral movement",
		},
	}
}

// Composer applies chain rules to a finding set.
type Composer struct {
	rules []ChainRule
}

// NewComposer creates a Composer. With no rules the defaults are used.
func NewComposer(rules ...ChainRule) *Composer {
	if len(rules) == 0 {
		rules = DefaultChainRules()
	}

	return &Composer{rules: rules}
}

// FindingLabels returns the category labels a finding contributes.
func FindingLabels(f m.Finding) []string {
	labels := []string{string(f.TaintKind)}
	if f.AuthzGap && f.Severity.Rank() <= m.SeverityHigh.Rank() {
		labels = append(labels, LabelAuthzGap)
	}

	return labels
}

// Compose matches rules on the presence of labels across findings. A rule
// whose steps can only be satisfied by one and the same finding fires only
// when it allows a single finding, as a sink in a file without authorization
// does for privilege-gap-to-sink.
func (c *Composer) Compose(findings []m.Finding) []m.AttackChain {
	byLabel := make(map[string][]string)

	for _, f := range findings {
		for _, l := range FindingLabels(f) {
			byLabel[l] = append(byLabel[l], f.ID)
		}
	}

	chains := []m.AttackChain{}

	for _, rule := range c.rules {
		steps, ok := matchSteps(rule, byLabel)
		if !ok {
			continue
		}

		chains = append(chains, m.AttackChain{
			ID:            fmt.Sprintf("CHAIN-%02d", len(chains)+1),
			PatternName:   rule.Name,
			Preconditions: append([]string(nil), rule.Preconditions...),
			Steps:         steps,
			ImpactSummary: rule.Impact,
		})
	}

	return chains
}

func matchSteps(rule ChainRule, byLabel map[string][]string) ([]m.ChainStep, bool) {
	steps := make([]m.ChainStep, 0, len(rule.Steps))
	used := make(map[string]struct{})

	for _, sm := range rule.Steps {
		var (
			matched []string
			ids     []string
		)

		seen := make(map[string]struct{})

		for _, l := range sm.Labels {
			if len(byLabel[l]) == 0 {
				continue
			}

			matched = append(matched, l)

			for _, id := range byLabel[l] {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}

		if len(ids) == 0 {
			return nil, false
		}

		sort.Strings(ids)

		for _, id := range ids {
			used[id] = struct{}{}
		}

		steps = append(steps, m.ChainStep{Label: strings.Join(matched, "|"), Description: sm.Description, FindingIDs: ids})
	}

	if len(rule.Steps) > 1 && len(used) < 2 && !rule.SingleFinding {
		return nil, false
	}

	return steps, true
}
