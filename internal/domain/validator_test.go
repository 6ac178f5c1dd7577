package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

func traceAndMerge(t *testing.T, f fixture, authz m.AuthzModel) []m.Finding {
	t.Helper()

	backward, err := NewBackwardTracer(f.index, f.scan).TraceAll(context.Background(), f.sinks(), 3, 2)
	require.NoError(t, err)

	forward, err := NewForwardTracer(f.index, f.scan).TraceAll(context.Background(), f.scan.AllHits(m.FamilySource), DefaultWindow(3), 2)
	require.NoError(t, err)

	return NewValidator(DefaultScorePolicy(), authz).Merge(append(backward, forward...))
}

func TestValidator_HandlerScenario(t *testing.T) {
	f := scanFixture(t, map[string]string{"app.py": handlerFixture(nil)})
	findings := traceAndMerge(t, f, BuildAuthzModel(f.index, f.scan.Guards))

	require.Len(t, findings, 1)

	finding := findings[0]
	assert.Equal(t, "F-001", finding.ID)
	assert.Equal(t, 86, finding.EvidenceScore)
	assert.Equal(t, m.StatusLikely, finding.Status)
	assert.Equal(t, m.SeverityCritical, finding.Severity, "high cmd sink with a strong score is promoted")
	assert.Equal(t, m.KindCmd, finding.TaintKind)
	assert.Equal(t, "CWE-78", finding.CWE)
	assert.Equal(t, m.SinkID{Path: "app.py", Line: 40, Category: CategoryExec}, finding.SinkLocation)
	require.NotNil(t, finding.SourceLocation)
	assert.Equal(t, m.Location{Path: "app.py", Line: 10}, *finding.SourceLocation)
	assert.Equal(t, "BWD-0001", finding.PrimaryFlow)
	assert.Equal(t, []string{"BWD-0001", "FWD-0001"}, finding.BackingFlows)
	assert.True(t, finding.AuthzGap)
	assert.Equal(t, "command execution / process spawn reachable from HTTP handler or request input", finding.Title)
	assert.NotEmpty(t, finding.Impact)
	assert.NotEmpty(t, finding.FixHint)
	assert.Contains(t, finding.ScoreReasoning, "base high severity: 92")
	assert.Contains(t, finding.ScoreReasoning, "-6 no caller chain resolved")
}

func TestValidator_SanitizerLowersScore(t *testing.T) {
	f := scanFixture(t, map[string]string{"app.py": handlerFixture(map[int]string{
		25: "    safe_cmd = shlex.quote(user_input)",
	})})
	findings := traceAndMerge(t, f, m.AuthzModel{})

	require.Len(t, findings, 1)
	assert.Equal(t, 78, findings[0].EvidenceScore)
	assert.Equal(t, m.StatusLikely, findings[0].Status)
	assert.Equal(t, m.SeverityHigh, findings[0].Severity)
	assert.Contains(t, findings[0].Notes, NoteSanitizerRecorded)
}

func TestValidator_CallerChainIsConfirmed(t *testing.T) {
	f := scanFixture(t, map[string]string{"a.py": callerFixture})
	findings := traceAndMerge(t, f, m.AuthzModel{})

	require.Len(t, findings, 1)
	assert.Equal(t, 92, findings[0].EvidenceScore)
	assert.Equal(t, m.StatusConfirmed, findings[0].Status)
	assert.Equal(t, m.SeverityCritical, findings[0].Severity)
}

func TestValidator_NoSourceIsPossible(t *testing.T) {
	f := scanFixture(t, map[string]string{"app.py": "def run(cmd):\n    os.system(cmd)\n"})
	findings := traceAndMerge(t, f, m.AuthzModel{})

	require.Len(t, findings, 1)
	assert.Equal(t, 49, findings[0].EvidenceScore)
	assert.Equal(t, m.StatusPossible, findings[0].Status)
	assert.Nil(t, findings[0].SourceLocation)
	assert.Equal(t, "command execution / process spawn with no resolved source", findings[0].Title)
}

func TestValidator_OneFindingPerSink(t *testing.T) {
	f := scanFixture(t, map[string]string{
		"a.py":   callerFixture,
		"app.py": handlerFixture(map[int]string{45: "    requests.get(user_input)"}),
		"cfg.py": "verify=False\n",
	})
	findings := traceAndMerge(t, f, m.AuthzModel{})

	seen := map[m.SinkID]bool{}
	for i, finding := range findings {
		assert.False(t, seen[finding.SinkLocation], "duplicate finding for %s", finding.SinkLocation)
		seen[finding.SinkLocation] = true

		if i > 0 {
			prev := findings[i-1]
			ordered := prev.Severity.Rank() < finding.Severity.Rank() ||
				(prev.Severity == finding.Severity && prev.EvidenceScore >= finding.EvidenceScore)
			assert.True(t, ordered, "findings must be ordered by severity then score")
		}
	}

	assert.Len(t, findings, 4)

	var network m.Finding
	for _, finding := range findings {
		if finding.SinkLocation.Category == CategoryNetwork {
			network = finding
		}
	}

	assert.Contains(t, network.BackingFlows, "FWD-0002", "candidate sinks join an existing group")
}

func TestValidator_Score(t *testing.T) {
	v := NewValidator(DefaultScorePolicy(), m.AuthzModel{})
	source := &m.Hit{Path: "a.py", Line: 1}
	frames := []m.FunctionContext{{Name: "a"}, {Name: "b"}}

	best := m.Flow{Source: source, Tier: m.TierCallers, FunctionStack: frames, ChainReaches: true}

	score, reasoning := v.Score(m.SeverityHigh, best, true)
	assert.Equal(t, 92, score)
	assert.Equal(t, "score 92 => Confirmed", reasoning[len(reasoning)-1])

	t.Run("every missing piece of evidence lowers the score", func(t *testing.T) {
		weaker := []m.Flow{
			{Source: source, Tier: m.TierFallback, FunctionStack: frames, ChainReaches: true},
			{Source: nil, FunctionStack: frames, ChainReaches: true},
			{Source: source, Tier: m.TierCallers, FunctionStack: frames[:1], ChainReaches: true},
			{Source: source, Tier: m.TierCallers, FunctionStack: frames, ChainReaches: false},
			{Source: source, Tier: m.TierCallers, FunctionStack: frames, ChainReaches: true, Sanitizers: make([]m.SanitizerRef, 1)},
			{Source: source, Tier: m.TierCallers, FunctionStack: frames, ChainReaches: true, Guards: make([]m.GuardRef, 1)},
		}

		for i, flow := range weaker {
			got, _ := v.Score(m.SeverityHigh, flow, true)
			assert.Less(t, got, score, "case %d", i)
		}

		uncorroborated, _ := v.Score(m.SeverityHigh, best, false)
		assert.Less(t, uncorroborated, score)
	})

	t.Run("fallback source scores between resolved and missing", func(t *testing.T) {
		resolved, _ := v.Score(m.SeverityHigh, m.Flow{Source: source, Tier: m.TierSameFunction}, true)
		fallback, _ := v.Score(m.SeverityHigh, m.Flow{Source: source, Tier: m.TierFallback}, true)
		missing, _ := v.Score(m.SeverityHigh, m.Flow{}, true)

		assert.Greater(t, resolved, fallback)
		assert.Greater(t, fallback, missing)
	})

	t.Run("caps", func(t *testing.T) {
		many := best
		many.Sanitizers = make([]m.SanitizerRef, 10)
		many.Guards = make([]m.GuardRef, 10)

		got, _ := v.Score(m.SeverityHigh, many, true)
		assert.Equal(t, 92-24-18, got)
	})

	t.Run("clamped", func(t *testing.T) {
		worst := m.Flow{Sanitizers: make([]m.SanitizerRef, 5), Guards: make([]m.GuardRef, 5)}

		got, _ := v.Score(m.SeverityInfo, worst, false)
		assert.Equal(t, 0, got)
	})

	t.Run("unknown severity uses info base", func(t *testing.T) {
		got, reasoning := v.Score("", best, true)
		assert.Equal(t, 50, got)
		assert.Equal(t, "base unknown severity: 50", reasoning[0])
	})
}

func TestStatusForScore(t *testing.T) {
	assert.Equal(t, m.StatusConfirmed, m.StatusForScore(90))
	assert.Equal(t, m.StatusLikely, m.StatusForScore(89))
	assert.Equal(t, m.StatusLikely, m.StatusForScore(60))
	assert.Equal(t, m.StatusPossible, m.StatusForScore(59))
}

func TestBetterFlow(t *testing.T) {
	multi := m.Flow{ID: "FWD-0001", Direction: m.Forward, FunctionStack: make([]m.FunctionContext, 2)}
	backward := m.Flow{ID: "BWD-0002", Direction: m.Backward, FunctionStack: make([]m.FunctionContext, 1), Source: &m.Hit{}}
	sourceless := m.Flow{ID: "BWD-0001", Direction: m.Backward, FunctionStack: make([]m.FunctionContext, 1)}

	assert.True(t, betterFlow(backward, multi), "forward flows never outrank a backward flow")
	assert.True(t, betterFlow(sourceless, multi))
	assert.True(t, betterFlow(backward, sourceless))
	assert.False(t, betterFlow(sourceless, backward))
}

func TestValidator_ForwardFlowOnlyCorroborates(t *testing.T) {
	sink := &m.Hit{Path: "a.py", Line: 7, Category: CategoryExec, Severity: m.SeverityHigh, TaintKind: m.KindCmd}
	source := &m.Hit{Path: "a.py", Line: 2}
	one := []m.FunctionContext{{Path: "a.py", Name: "a"}}
	two := []m.FunctionContext{{Path: "a.py", Name: "a"}, {Path: "a.py", Name: "b"}}

	tests := []struct {
		name     string
		backward m.Flow
		forward  m.Flow
	}{
		{
			name:     "multi-frame forward against fallback backward",
			backward: m.Flow{Tier: m.TierFallback, FunctionStack: one, ChainReaches: true},
			forward:  m.Flow{Tier: m.TierSameFile, FunctionStack: two, ChainReaches: true},
		},
		{
			name:     "identical evidence",
			backward: m.Flow{Tier: m.TierSameFunction, FunctionStack: one, ChainReaches: true},
			forward:  m.Flow{Tier: m.TierSameFunction, FunctionStack: one, ChainReaches: true},
		},
		{
			name:     "forward reaches, backward has a gap",
			backward: m.Flow{Tier: m.TierFallback, FunctionStack: one},
			forward:  m.Flow{Tier: m.TierSameFunction, FunctionStack: one, ChainReaches: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bwd := tt.backward
			bwd.ID, bwd.Direction, bwd.Sink, bwd.Source = "BWD-0001", m.Backward, sink, source

			fwd := tt.forward
			fwd.ID, fwd.Direction, fwd.Sink, fwd.Source = "FWD-0001", m.Forward, sink, source

			v := NewValidator(DefaultScorePolicy(), m.AuthzModel{})

			merged := v.Merge([]m.Flow{fwd, bwd})
			require.Len(t, merged, 1)
			assert.Equal(t, "BWD-0001", merged[0].PrimaryFlow)
			assert.Equal(t, []string{"BWD-0001", "FWD-0001"}, merged[0].BackingFlows)

			forwardOnly := v.Merge([]m.Flow{fwd})
			require.Len(t, forwardOnly, 1)

			equivalent := fwd
			equivalent.ID, equivalent.Direction = "BWD-0002", m.Backward
			backwardOnly := v.Merge([]m.Flow{equivalent})
			require.Len(t, backwardOnly, 1)

			assert.LessOrEqual(t, forwardOnly[0].EvidenceScore, backwardOnly[0].EvidenceScore)
			assert.Contains(t, forwardOnly[0].ScoreReasoning, "-4 no forward corroboration", "a forward flow does not corroborate itself")
		})
	}
}

func TestValidator_UnrelatedFunctionIsNotConfirmed(t *testing.T) {
	f := scanFixture(t, map[string]string{"app.py": unrelatedFixture})
	findings := traceAndMerge(t, f, m.AuthzModel{})

	require.Len(t, findings, 1)

	finding := findings[0]
	assert.Equal(t, "BWD-0001", finding.PrimaryFlow)
	assert.Equal(t, []string{"BWD-0001", "FWD-0001"}, finding.BackingFlows)
	assert.Equal(t, 76, finding.EvidenceScore)
	assert.Equal(t, m.StatusLikely, finding.Status)
	assert.Equal(t, m.SeverityHigh, finding.Severity, "a proximity-only source is not promoted")
	assert.Contains(t, finding.ScoreReasoning, "-10 source only found by proximity")
}
